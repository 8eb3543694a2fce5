package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/tools"
	"github.com/BaSui01/scholarflow/types"
)

func TestDecisionDefaultsToResearchOnProviderError(t *testing.T) {
	provider := newScriptedProvider(scriptedReply{err: errors.New("model unavailable")})
	stage := NewDecisionStage(provider, zap.NewNop())

	s := NewState(nil, "how does CRISPR work?")
	update, err := stage.Execute(context.Background(), s)
	require.NoError(t, err)

	require.NotNil(t, update.RequiresResearch)
	assert.True(t, *update.RequiresResearch)
	assert.Empty(t, update.Messages)
}

func TestDecisionDefaultsToResearchOnMalformedOutput(t *testing.T) {
	provider := newScriptedProvider(scriptedReply{content: "not json at all"})
	stage := NewDecisionStage(provider, zap.NewNop())

	update, err := stage.Execute(context.Background(), NewState(nil, "q"))
	require.NoError(t, err)
	require.NotNil(t, update.RequiresResearch)
	assert.True(t, *update.RequiresResearch)
}

func TestDecisionRejectsEmptyDirectAnswer(t *testing.T) {
	provider := newScriptedProvider(decisionReply(false, ""))
	stage := NewDecisionStage(provider, zap.NewNop())

	update, err := stage.Execute(context.Background(), NewState(nil, "q"))
	require.NoError(t, err)
	require.NotNil(t, update.RequiresResearch)
	assert.True(t, *update.RequiresResearch)
}

func TestDecisionDirectAnswer(t *testing.T) {
	provider := newScriptedProvider(decisionReply(false, "Paris is the capital of France."))
	stage := NewDecisionStage(provider, zap.NewNop())

	update, err := stage.Execute(context.Background(), NewState(nil, "capital of France?"))
	require.NoError(t, err)
	require.NotNil(t, update.RequiresResearch)
	assert.False(t, *update.RequiresResearch)
	require.Len(t, update.Messages, 1)
	assert.Equal(t, "Paris is the capital of France.", update.Messages[0].Content)
}

func TestPlanningFallsBackToClarification(t *testing.T) {
	registry := tools.NewRegistry()
	for _, reply := range []scriptedReply{
		{err: errors.New("model unavailable")},
		{content: ""},
	} {
		provider := newScriptedProvider(reply)
		stage := NewPlanningStage(provider, registry, 10, zap.NewNop())

		update, err := stage.Execute(context.Background(), NewState(nil, "q"))
		require.NoError(t, err)
		require.Len(t, update.Messages, 1)
		assert.Equal(t, types.RoleAssistant, update.Messages[0].Role)
		assert.Contains(t, update.Messages[0].Content, "rephrase")
	}
}

func TestToolsStagePartialFailureIsolation(t *testing.T) {
	registry := tools.NewRegistry(
		&stubTool{name: "good-tool", fn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"papers":["one"]}`), nil
		}},
		&stubTool{name: "bad-tool", fn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("upstream returned 500")
		}},
	)
	stage := NewToolsStage(registry, 4, zap.NewNop())

	s := NewState(nil, "q")
	require.NoError(t, s.Apply(Update{Messages: []types.Message{
		types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{
			{ID: "call-1", Name: "good-tool", Arguments: json.RawMessage(`{}`)},
			{ID: "call-2", Name: "bad-tool", Arguments: json.RawMessage(`{}`)},
			{ID: "call-3", Name: "missing-tool", Arguments: json.RawMessage(`{}`)},
		}),
	}}))

	update, err := stage.Execute(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, update.Messages, 3)

	// Results keep call order regardless of completion order.
	assert.Equal(t, "call-1", update.Messages[0].ToolCallID)
	assert.Equal(t, "call-2", update.Messages[1].ToolCallID)
	assert.Equal(t, "call-3", update.Messages[2].ToolCallID)
	for _, m := range update.Messages {
		assert.Equal(t, types.RoleTool, m.Role)
	}

	assert.JSONEq(t, `{"papers":["one"]}`, update.Messages[0].Content)

	var failure map[string]string
	require.NoError(t, json.Unmarshal([]byte(update.Messages[1].Content), &failure))
	assert.Equal(t, "error", failure["status"])
	assert.Contains(t, failure["message"], "upstream returned 500")

	require.NoError(t, json.Unmarshal([]byte(update.Messages[2].Content), &failure))
	assert.Equal(t, "error", failure["status"])
	assert.Contains(t, failure["message"], "missing-tool")
}

func TestToolsStageAssignsMissingCallIDs(t *testing.T) {
	registry := tools.NewRegistry(
		&stubTool{name: "good-tool", fn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}},
	)
	stage := NewToolsStage(registry, 1, zap.NewNop())

	s := NewState(nil, "q")
	require.NoError(t, s.Apply(Update{Messages: []types.Message{
		types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{
			{Name: "good-tool", Arguments: json.RawMessage(`{}`)},
		}),
	}}))

	update, err := stage.Execute(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, update.Messages, 1)
	assert.NotEmpty(t, update.Messages[0].ToolCallID)
}

func TestToolsStageEmitsToolEvents(t *testing.T) {
	registry := tools.NewRegistry(
		&stubTool{name: "good-tool", fn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}},
	)
	stage := NewToolsStage(registry, 2, zap.NewNop())
	sink := &collectSink{}
	ctx := withEmitter(context.Background(), sink.OnEvent)

	s := NewState(nil, "q")
	require.NoError(t, s.Apply(Update{Messages: []types.Message{
		types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{
			{ID: "call-1", Name: "good-tool", Arguments: json.RawMessage(`{}`)},
		}),
	}}))

	_, err := stage.Execute(ctx, s)
	require.NoError(t, err)

	starts := sink.byType(EventToolStart)
	ends := sink.byType(EventToolEnd)
	require.Len(t, starts, 1)
	require.Len(t, ends, 1)
	assert.Equal(t, "call-1", starts[0].ToolCallID)
	assert.Equal(t, "call-1", ends[0].ToolCallID)
	assert.Empty(t, ends[0].Err)
}

func TestAnsweringFallsBackToApology(t *testing.T) {
	provider := newScriptedProvider(scriptedReply{err: errors.New("model unavailable")})
	stage := NewAnsweringStage(provider, tools.NewRegistry(), zap.NewNop())

	update, err := stage.Execute(context.Background(), NewState(nil, "q"))
	require.NoError(t, err)
	require.Len(t, update.Messages, 1)
	assert.Equal(t, types.RoleAssistant, update.Messages[0].Role)
	assert.Contains(t, update.Messages[0].Content, "problem")
}

func TestAnsweringPropagatesCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := newScriptedProvider()
	stage := NewAnsweringStage(provider, tools.NewRegistry(), zap.NewNop())

	_, err := stage.Execute(ctx, NewState(nil, "q"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestAnsweringStreamsTokens(t *testing.T) {
	provider := &streamingStub{chunks: []llm.StreamChunk{
		{Delta: types.Message{Content: "Pa"}},
		{Delta: types.Message{Content: "ris"}},
	}}
	stage := NewAnsweringStage(provider, tools.NewRegistry(), zap.NewNop())
	sink := &collectSink{}
	ctx := withEmitter(context.Background(), sink.OnEvent)

	update, err := stage.Execute(ctx, NewState(nil, "q"))
	require.NoError(t, err)
	require.Len(t, update.Messages, 1)
	assert.Equal(t, "Paris", update.Messages[0].Content)

	tokens := sink.byType(EventToken)
	require.Len(t, tokens, 2)
	assert.Equal(t, "Pa", tokens[0].Token)
	assert.Equal(t, "ris", tokens[1].Token)
}

func TestAnsweringMergesStreamedToolCallFragments(t *testing.T) {
	provider := &streamingStub{chunks: []llm.StreamChunk{
		{Delta: types.Message{ToolCalls: []types.ToolCall{
			{ID: "call-1", Name: "search-papers", Arguments: json.RawMessage(`{"query":`)},
		}}},
		{Delta: types.Message{ToolCalls: []types.ToolCall{
			{Arguments: json.RawMessage(`"crispr"}`)},
		}}},
	}}
	stage := NewAnsweringStage(provider, tools.NewRegistry(), zap.NewNop())

	update, err := stage.Execute(context.Background(), NewState(nil, "q"))
	require.NoError(t, err)
	require.Len(t, update.Messages, 1)
	calls := update.Messages[0].ToolCalls
	require.Len(t, calls, 1)
	assert.Equal(t, "call-1", calls[0].ID)
	assert.JSONEq(t, `{"query":"crispr"}`, string(calls[0].Arguments))
}

func TestJudgingForcesAcceptanceAtCeiling(t *testing.T) {
	provider := newScriptedProvider()
	stage := NewJudgingStage(provider, 2, zap.NewNop())

	s := NewState(nil, "q")
	s.FeedbackRequests = 2

	update, err := stage.Execute(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, update.IsGoodAnswer)
	assert.True(t, *update.IsGoodAnswer)
	assert.Zero(t, update.FeedbackIncrement)
	assert.Zero(t, provider.callCount(), "forced acceptance must not call the model")
}

func TestJudgingAcceptsOnMalformedOutput(t *testing.T) {
	provider := newScriptedProvider(scriptedReply{content: "not json"})
	stage := NewJudgingStage(provider, 2, zap.NewNop())

	update, err := stage.Execute(context.Background(), NewState(nil, "q"))
	require.NoError(t, err)
	require.NotNil(t, update.IsGoodAnswer)
	assert.True(t, *update.IsGoodAnswer)
	assert.Equal(t, 1, update.FeedbackIncrement)
}

func TestJudgingAcceptsOnRejectionWithoutFeedback(t *testing.T) {
	provider := newScriptedProvider(judgeReply(false, ""))
	stage := NewJudgingStage(provider, 2, zap.NewNop())

	update, err := stage.Execute(context.Background(), NewState(nil, "q"))
	require.NoError(t, err)
	require.NotNil(t, update.IsGoodAnswer)
	assert.True(t, *update.IsGoodAnswer)
}

func TestJudgingRejectionCarriesFeedback(t *testing.T) {
	provider := newScriptedProvider(judgeReply(false, "cite the sources used"))
	stage := NewJudgingStage(provider, 2, zap.NewNop())

	update, err := stage.Execute(context.Background(), NewState(nil, "q"))
	require.NoError(t, err)
	require.NotNil(t, update.IsGoodAnswer)
	assert.False(t, *update.IsGoodAnswer)
	assert.Equal(t, 1, update.FeedbackIncrement)
	require.Len(t, update.Messages, 1)
	assert.Equal(t, "cite the sources used", update.Messages[0].Content)
}

// streamingStub implements llm.StreamingProvider with canned chunks.
type streamingStub struct {
	chunks []llm.StreamChunk
}

func (s *streamingStub) Name() string { return "streaming-stub" }

func (s *streamingStub) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("use Stream")
}

func (s *streamingStub) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}
