package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/types"
)

type fakeProvider struct {
	resp *llm.ChatResponse
	err  error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return p.resp, p.err
}

type fakeStreamingProvider struct {
	fakeProvider
	chunks []llm.StreamChunk
}

func (p *fakeStreamingProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	out := make(chan llm.StreamChunk, len(p.chunks))
	for _, c := range p.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func TestInstrumentProvider_RecordsUsageOnSuccess(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())
	inner := &fakeProvider{resp: &llm.ChatResponse{
		Model:   "gpt-4o",
		Message: types.NewAssistantMessage("hi"),
		Usage:   llm.ChatUsage{PromptTokens: 100, CompletionTokens: 40},
	}}
	p := InstrumentProvider(inner, collector)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "gpt-4o"})
	require.NoError(t, err)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("fake", "gpt-4o", "success")))
	assert.Equal(t, float64(100),
		testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("fake", "gpt-4o", "prompt")))
	assert.Equal(t, float64(40),
		testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("fake", "gpt-4o", "completion")))
}

func TestInstrumentProvider_RecordsErrors(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())
	p := InstrumentProvider(&fakeProvider{err: errors.New("upstream down")}, collector)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{Model: "gpt-4o"})
	require.Error(t, err)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("fake", "gpt-4o", "error")))
}

func TestInstrumentProvider_PreservesStreaming(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	_, plainStreams := InstrumentProvider(&fakeProvider{}, collector).(llm.StreamingProvider)
	assert.False(t, plainStreams, "wrapping must not invent streaming support")

	inner := &fakeStreamingProvider{chunks: []llm.StreamChunk{
		{Delta: types.NewAssistantMessage("Pa")},
		{Delta: types.NewAssistantMessage("ris"), Usage: &llm.ChatUsage{PromptTokens: 20, CompletionTokens: 5}},
	}}
	sp, ok := InstrumentProvider(inner, collector).(llm.StreamingProvider)
	require.True(t, ok)

	chunks, err := sp.Stream(context.Background(), &llm.ChatRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	var tokens []string
	for c := range chunks {
		tokens = append(tokens, c.Delta.Content)
	}
	assert.Equal(t, []string{"Pa", "ris"}, tokens)

	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("fake", "gpt-4o", "success")))
	assert.Equal(t, float64(20),
		testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("fake", "gpt-4o", "prompt")))
}
