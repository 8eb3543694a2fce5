package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/types"
)

// scriptedProvider replays a fixed sequence of completions. Each call
// consumes the next entry; running off the end is an error so a test fails
// loudly when the workflow makes more model calls than scripted.
type scriptedProvider struct {
	mu     sync.Mutex
	script []scriptedReply
	calls  int
	onCall func(n int)
}

type scriptedReply struct {
	content   string
	toolCalls []types.ToolCall
	err       error
}

func newScriptedProvider(script ...scriptedReply) *scriptedProvider {
	return &scriptedProvider{script: script}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	n := p.calls
	p.calls++
	hook := p.onCall
	p.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n >= len(p.script) {
		return nil, fmt.Errorf("unscripted completion call %d", n+1)
	}

	reply := p.script[n]
	if reply.err != nil {
		return nil, reply.err
	}
	msg := types.NewAssistantMessage(reply.content)
	if len(reply.toolCalls) > 0 {
		msg = msg.WithToolCalls(reply.toolCalls)
	}
	return &llm.ChatResponse{
		ID:        fmt.Sprintf("scripted-%d", n+1),
		Model:     "scripted",
		Message:   msg,
		CreatedAt: time.Now(),
	}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// loopingProvider replays the same short script forever, for runs that are
// expected to be stopped by a ceiling rather than by script exhaustion.
type loopingProvider struct {
	inner *scriptedProvider
}

func newLoopingProvider(script ...scriptedReply) *loopingProvider {
	return &loopingProvider{inner: newScriptedProvider(script...)}
}

func (p *loopingProvider) Name() string { return "looping" }

func (p *loopingProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.inner.mu.Lock()
	if p.inner.calls >= len(p.inner.script) {
		p.inner.calls = 0
	}
	p.inner.mu.Unlock()
	return p.inner.Completion(ctx, req)
}

// stubTool is a registry entry backed by a plain function.
type stubTool struct {
	name string
	fn   func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (t *stubTool) Name() string { return t.name }

func (t *stubTool) Schema() types.ToolSchema {
	params := types.NewObjectSchema()
	params.AddProperty("input", types.NewStringSchema(), false)
	raw := params.MarshalRaw()
	return types.ToolSchema{Name: t.name, Description: "test tool", Parameters: raw}
}

func (t *stubTool) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return t.fn(ctx, args)
}

// collectSink records every event it sees, safe for concurrent emitters.
type collectSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *collectSink) OnEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *collectSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func decisionReply(requiresResearch bool, answer string) scriptedReply {
	out, _ := json.Marshal(DecisionOutput{RequiresResearch: requiresResearch, Answer: answer})
	return scriptedReply{content: string(out)}
}

func judgeReply(good bool, feedback string) scriptedReply {
	out, _ := json.Marshal(JudgeOutput{IsGoodAnswer: good, Feedback: feedback})
	return scriptedReply{content: string(out)}
}
