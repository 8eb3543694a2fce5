package metrics

import (
	"context"

	"github.com/BaSui01/scholarflow/llm"
)

// InstrumentProvider wraps p so every model call is counted in the
// collector's llm metrics, including token usage when the provider reports
// it. Streaming capability is preserved only when p itself streams.
func InstrumentProvider(p llm.Provider, c *Collector) llm.Provider {
	base := instrumentedProvider{inner: p, collector: c}
	if s, ok := p.(llm.StreamingProvider); ok {
		return &instrumentedStreaming{instrumentedProvider: base, stream: s}
	}
	return &base
}

type instrumentedProvider struct {
	inner     llm.Provider
	collector *Collector
}

func (p *instrumentedProvider) Name() string { return p.inner.Name() }

func (p *instrumentedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.inner.Completion(ctx, req)
	if err != nil {
		p.collector.RecordLLMRequest(p.inner.Name(), req.Model, "error", 0, 0)
		return nil, err
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	p.collector.RecordLLMRequest(p.inner.Name(), model, "success", resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

type instrumentedStreaming struct {
	instrumentedProvider
	stream llm.StreamingProvider
}

// Stream forwards chunks unchanged and records one request once the
// upstream channel closes. Usage is taken from the last chunk that
// carries it; providers that omit stream usage record zero tokens.
func (p *instrumentedStreaming) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	chunks, err := p.stream.Stream(ctx, req)
	if err != nil {
		p.collector.RecordLLMRequest(p.inner.Name(), req.Model, "error", 0, 0)
		return nil, err
	}
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		status := "success"
		var usage llm.ChatUsage
		for chunk := range chunks {
			if chunk.Err != nil {
				status = "error"
			}
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				p.collector.RecordLLMRequest(p.inner.Name(), req.Model, "error", usage.PromptTokens, usage.CompletionTokens)
				return
			}
		}
		p.collector.RecordLLMRequest(p.inner.Name(), req.Model, status, usage.PromptTokens, usage.CompletionTokens)
	}()
	return out, nil
}
