package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/tools"
	"github.com/BaSui01/scholarflow/types"
)

func TestEngineDirectAnswer(t *testing.T) {
	provider := newScriptedProvider(
		decisionReply(false, "Paris is the capital of France."),
	)
	sink := &collectSink{}
	eng := New(provider, tools.NewRegistry(), Config{}, sink, zap.NewNop())

	s := NewState(nil, "What is the capital of France?")
	result, err := eng.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "Paris is the capital of France.", result.FinalAnswer)
	assert.Equal(t, 1, provider.callCount(), "a direct answer needs exactly one model call")
	assert.Zero(t, s.ResearchCycles)

	require.Len(t, sink.byType(EventRunStart), 1)
	require.Len(t, sink.byType(EventCompleted), 1)
	assert.Empty(t, sink.byType(EventFailed))

	starts := sink.byType(EventStageStart)
	require.Len(t, starts, 1)
	assert.Equal(t, NodeDecision, starts[0].Node)
	assert.Equal(t, result.RunID, starts[0].RunID)
}

func TestEngineResearchCycle(t *testing.T) {
	searchArgs := json.RawMessage(`{"query":"crispr gene editing"}`)
	provider := newScriptedProvider(
		decisionReply(true, ""),
		scriptedReply{content: "1. Search for recent CRISPR papers.\n2. Summarize the findings."},
		scriptedReply{toolCalls: []types.ToolCall{
			{ID: "call-1", Name: "search-papers", Arguments: searchArgs},
		}},
		scriptedReply{content: "CRISPR is a programmable gene editing technology."},
		judgeReply(true, ""),
	)

	var gotArgs json.RawMessage
	registry := tools.NewRegistry(
		&stubTool{name: "search-papers", fn: func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			gotArgs = args
			return json.RawMessage(`{"papers":[{"title":"CRISPR-Cas9"}]}`), nil
		}},
	)

	sink := &collectSink{}
	eng := New(provider, registry, Config{}, sink, zap.NewNop())

	s := NewState(nil, "How does CRISPR work?")
	result, err := eng.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "CRISPR is a programmable gene editing technology.", result.FinalAnswer)
	assert.Equal(t, 1, s.ResearchCycles)
	assert.Equal(t, 1, s.FeedbackRequests)
	assert.JSONEq(t, string(searchArgs), string(gotArgs))

	// The tool result landed in the log correlated to its call id.
	var toolMsg *types.Message
	for i := range s.Messages {
		if s.Messages[i].Role == types.RoleTool {
			toolMsg = &s.Messages[i]
		}
	}
	require.NotNil(t, toolMsg)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Equal(t, "search-papers", toolMsg.Name)

	require.Len(t, sink.byType(EventToolStart), 1)
	require.Len(t, sink.byType(EventToolEnd), 1)

	var visited []Node
	for _, ev := range sink.byType(EventStageStart) {
		visited = append(visited, ev.Node)
	}
	assert.Equal(t, []Node{NodeDecision, NodePlanning, NodeAnswering, NodeTools, NodeAnswering, NodeJudging}, visited)
}

func TestEngineForcesAcceptanceAtFeedbackCeiling(t *testing.T) {
	reject := judgeReply(false, "add citations")
	plan := scriptedReply{content: "1. Think harder."}
	answer := scriptedReply{content: "a draft answer"}
	provider := newScriptedProvider(
		decisionReply(true, ""),
		plan, answer, reject,
		plan, answer, reject,
		plan, answer,
		// Third judging pass is forced to accept without a model call.
	)

	eng := New(provider, tools.NewRegistry(), Config{MaxFeedbackRequests: 2}, nil, zap.NewNop())

	s := NewState(nil, "q")
	result, err := eng.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 9, provider.callCount())
	assert.Equal(t, 2, s.FeedbackRequests)
	assert.Equal(t, 3, s.ResearchCycles)
	assert.True(t, s.IsGoodAnswer)
}

func TestEngineCycleCeilingIsFatal(t *testing.T) {
	reject := judgeReply(false, "still not good enough")
	plan := scriptedReply{content: "1. Try again."}
	answer := scriptedReply{content: "another draft"}
	provider := newScriptedProvider(
		decisionReply(true, ""),
		plan, answer, reject,
		plan, answer, reject,
	)

	sink := &collectSink{}
	cfg := Config{MaxResearchCycles: 2, MaxFeedbackRequests: 100}
	eng := New(provider, tools.NewRegistry(), cfg, sink, zap.NewNop())

	s := NewState(nil, "q")
	result, err := eng.Run(context.Background(), s)
	require.Error(t, err)

	assert.Equal(t, StatusCeilingExceeded, result.Status)
	assert.Equal(t, types.ErrCycleCeiling, types.GetErrorCode(err))
	require.Len(t, sink.byType(EventFailed), 1)
	assert.Empty(t, sink.byType(EventCompleted))
}

func TestEngineCancelStopsAtTransitionBoundary(t *testing.T) {
	provider := newScriptedProvider(decisionReply(true, ""))
	sink := &collectSink{}
	eng := New(provider, tools.NewRegistry(), Config{}, sink, zap.NewNop())
	provider.onCall = func(int) { eng.Cancel() }

	s := NewState(nil, "q")
	result, err := eng.Run(context.Background(), s)
	require.NoError(t, err, "cancellation is a status, not an error")

	assert.Equal(t, StatusCancelled, result.Status)
	assert.Equal(t, 1, provider.callCount(), "no stage may start after cancellation")
	require.Len(t, sink.byType(EventCancelled), 1)
	assert.Empty(t, sink.byType(EventCompleted))
}

func TestEngineContextCancelLetsInFlightToolsFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	provider := newScriptedProvider(
		decisionReply(true, ""),
		scriptedReply{content: "1. Run both tools."},
		scriptedReply{toolCalls: []types.ToolCall{
			{ID: "call-1", Name: "slow-tool", Arguments: json.RawMessage(`{}`)},
			{ID: "call-2", Name: "slow-tool", Arguments: json.RawMessage(`{}`)},
		}},
	)

	registry := tools.NewRegistry(
		&stubTool{name: "slow-tool", fn: func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
			cancel()
			// In-flight work keeps running after cancellation and must
			// still land in the log.
			time.Sleep(50 * time.Millisecond)
			return json.RawMessage(`{"done":true}`), nil
		}},
	)

	sink := &collectSink{}
	eng := New(provider, registry, Config{ToolWorkers: 1}, sink, zap.NewNop())

	s := NewState(nil, "q")
	result, err := eng.Run(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)

	// Both calls produced correlated messages: the in-flight one with its
	// result, the unstarted one recorded as not executed.
	var toolMsgs []types.Message
	for _, m := range s.Messages {
		if m.Role == types.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	require.Len(t, toolMsgs, 2)
	assert.Equal(t, "call-1", toolMsgs[0].ToolCallID)
	assert.JSONEq(t, `{"done":true}`, toolMsgs[0].Content)

	assert.Equal(t, "call-2", toolMsgs[1].ToolCallID)
	assert.Contains(t, toolMsgs[1].Content, "not executed")

	require.Len(t, sink.byType(EventCancelled), 1)
}

func TestEngineChanSinkDeliversProgress(t *testing.T) {
	provider := newScriptedProvider(
		decisionReply(false, "Short answer."),
	)
	sink := NewChanSink(64)
	eng := New(provider, tools.NewRegistry(), Config{}, sink, zap.NewNop())

	_, err := eng.Run(context.Background(), NewState(nil, "q"))
	require.NoError(t, err)
	sink.Close()

	var seen []EventType
	for ev := range sink.Events() {
		seen = append(seen, ev.Type)
	}
	assert.Equal(t, []EventType{EventRunStart, EventStageStart, EventStageEnd, EventCompleted}, seen)
}
