package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/scholarflow/workflow"
)

// Sink adapts a Collector to the workflow event stream. It pairs start and
// end events by run, node, and call id to derive durations. Run outcomes are
// recorded by the caller from the run result, which carries the cycle count
// the event stream does not. OnEvent is safe for concurrent use.
type Sink struct {
	collector *Collector

	mu         sync.Mutex
	nodeStarts map[string]time.Time
	toolStarts map[string]time.Time
}

// NewSink creates a metrics sink backed by the collector.
func NewSink(collector *Collector) *Sink {
	return &Sink{
		collector:  collector,
		nodeStarts: make(map[string]time.Time),
		toolStarts: make(map[string]time.Time),
	}
}

// OnEvent implements workflow.EventSink.
func (s *Sink) OnEvent(ev workflow.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case workflow.EventStageStart:
		s.nodeStarts[ev.RunID+"/"+string(ev.Node)] = ev.Time

	case workflow.EventStageEnd:
		key := ev.RunID + "/" + string(ev.Node)
		if start, ok := s.nodeStarts[key]; ok {
			delete(s.nodeStarts, key)
			s.collector.RecordStage(string(ev.Node), ev.Time.Sub(start))
		}

	case workflow.EventToolStart:
		s.toolStarts[ev.RunID+"/"+ev.ToolCallID] = ev.Time

	case workflow.EventToolEnd:
		key := ev.RunID + "/" + ev.ToolCallID
		if start, ok := s.toolStarts[key]; ok {
			delete(s.toolStarts, key)
			status := "ok"
			if ev.Err != "" {
				status = "error"
			}
			s.collector.RecordToolCall(ev.Tool, status, ev.Time.Sub(start))
		}

	case workflow.EventToken:
		s.collector.RecordStreamedToken()

	case workflow.EventCompleted, workflow.EventCancelled, workflow.EventFailed:
		// Forget pairing state that never saw its end event.
		prefix := ev.RunID + "/"
		for k := range s.nodeStarts {
			if strings.HasPrefix(k, prefix) {
				delete(s.nodeStarts, k)
			}
		}
		for k := range s.toolStarts {
			if strings.HasPrefix(k, prefix) {
				delete(s.toolStarts, k)
			}
		}
	}
}
