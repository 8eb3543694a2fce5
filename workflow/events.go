package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a lifecycle event emitted during a run.
type EventType string

const (
	EventRunStart   EventType = "run_start"
	EventStageStart EventType = "stage_start"
	EventStageEnd   EventType = "stage_end"
	EventToolStart  EventType = "tool_start"
	EventToolEnd    EventType = "tool_end"
	EventToken      EventType = "token"
	EventCancelled  EventType = "cancelled"
	EventCompleted  EventType = "completed"
	EventFailed     EventType = "failed"
)

// Event carries information about one lifecycle transition. Tool and token
// events originate from concurrently executing workers; sinks must serialize
// their own internal writes.
type Event struct {
	Type       EventType `json:"type"`
	RunID      string    `json:"run_id"`
	Node       Node      `json:"node,omitempty"`
	Tool       string    `json:"tool,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Token      string    `json:"token,omitempty"`
	Err        string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// EventSink consumes lifecycle events. OnEvent may be called concurrently.
type EventSink interface {
	OnEvent(Event)
}

// NopSink discards all events.
type NopSink struct{}

// OnEvent implements EventSink.
func (NopSink) OnEvent(Event) {}

// LogSink writes events to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// OnEvent implements EventSink.
func (s *LogSink) OnEvent(ev Event) {
	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.String("type", string(ev.Type)),
	}
	if ev.Node != "" {
		fields = append(fields, zap.String("node", string(ev.Node)))
	}
	if ev.Tool != "" {
		fields = append(fields, zap.String("tool", ev.Tool))
	}
	if ev.Err != "" {
		fields = append(fields, zap.String("error", ev.Err))
	}
	switch ev.Type {
	case EventToken:
		// Token increments are high-volume; keep them at debug.
		s.logger.Debug("workflow event", fields...)
	default:
		s.logger.Info("workflow event", fields...)
	}
}

// ChanSink buffers events on a channel for an external consumer. When the
// buffer is full, events are dropped rather than blocking the run.
type ChanSink struct {
	ch        chan Event
	closeOnce sync.Once
}

// NewChanSink creates a channel sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 128
	}
	return &ChanSink{ch: make(chan Event, buffer)}
}

// OnEvent implements EventSink.
func (s *ChanSink) OnEvent(ev Event) {
	select {
	case s.ch <- ev:
	default:
		// Consumer is behind; drop rather than stall the engine.
	}
}

// Events returns the consumer side of the channel.
func (s *ChanSink) Events() <-chan Event {
	return s.ch
}

// Close closes the channel. Call only after the run has returned.
func (s *ChanSink) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// MultiSink fans events out to several sinks.
type MultiSink struct {
	sinks []EventSink
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// OnEvent implements EventSink.
func (s *MultiSink) OnEvent(ev Event) {
	for _, sink := range s.sinks {
		sink.OnEvent(ev)
	}
}

// Emitter is the stage-facing event callback. The Engine injects it into the
// stage context so tool workers and the answering stage can report tool and
// token events without holding a reference to the Engine.
type Emitter func(Event)

type emitterKey struct{}

// withEmitter stores an Emitter in the context.
func withEmitter(ctx context.Context, emit Emitter) context.Context {
	if emit == nil {
		return ctx
	}
	return context.WithValue(ctx, emitterKey{}, emit)
}

// emitterFromContext retrieves the Emitter, returning a no-op when absent so
// stages can emit unconditionally.
func emitterFromContext(ctx context.Context) Emitter {
	if v := ctx.Value(emitterKey{}); v != nil {
		if emit, ok := v.(Emitter); ok && emit != nil {
			return emit
		}
	}
	return func(Event) {}
}
