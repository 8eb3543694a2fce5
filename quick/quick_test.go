package quick

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/scholarflow/config"
	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/types"
	"github.com/BaSui01/scholarflow/workflow"
)

type cannedProvider struct {
	content string
}

func (p *cannedProvider) Name() string { return "canned" }

func (p *cannedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{
		Message:   types.NewAssistantMessage(p.content),
		CreatedAt: time.Now(),
	}, nil
}

func TestAskWithInjectedProvider(t *testing.T) {
	a, err := New(
		WithConfig(config.DefaultConfig()),
		WithProvider(&cannedProvider{content: `{"requires_research": false, "answer": "42"}`}),
	)
	require.NoError(t, err)

	result, err := a.Ask(context.Background(), "meaning of life?")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, result.Status)
	assert.Equal(t, "42", result.FinalAnswer)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Workflow.ToolWorkers = -1

	_, err := New(WithConfig(cfg))
	require.Error(t, err)
}

func TestSinkReceivesEvents(t *testing.T) {
	sink := workflow.NewChanSink(32)
	a, err := New(
		WithConfig(config.DefaultConfig()),
		WithProvider(&cannedProvider{content: `{"requires_research": false, "answer": "done"}`}),
		WithSink(sink),
	)
	require.NoError(t, err)

	_, err = a.Ask(context.Background(), "q")
	require.NoError(t, err)
	sink.Close()

	var sawCompleted bool
	for ev := range sink.Events() {
		if ev.Type == workflow.EventCompleted {
			sawCompleted = true
		}
	}
	assert.True(t, sawCompleted)
}
