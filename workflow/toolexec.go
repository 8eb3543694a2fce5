package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/scholarflow/tools"
	"github.com/BaSui01/scholarflow/types"
)

// ToolsStage executes the tool-call batch from the last assistant message.
// Calls run concurrently up to the worker bound; each call's outcome is
// isolated into its own correlated tool message, so one failure never aborts
// the batch or the workflow.
type ToolsStage struct {
	registry *tools.Registry
	workers  int64
	logger   *zap.Logger
}

// NewToolsStage creates the tool execution stage. workers caps concurrent
// calls within one batch to bound outbound connections.
func NewToolsStage(registry *tools.Registry, workers int, logger *zap.Logger) *ToolsStage {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ToolsStage{
		registry: registry,
		workers:  int64(workers),
		logger:   logger.With(zap.String("stage", "tools")),
	}
}

// Name implements Stage.
func (t *ToolsStage) Name() Node { return NodeTools }

// Execute implements Stage. Result messages are appended in call order
// regardless of completion order, keeping the message log deterministic.
func (t *ToolsStage) Execute(ctx context.Context, s *State) (Update, error) {
	calls := s.PendingToolCalls()
	if len(calls) == 0 {
		return Update{}, nil
	}

	emit := emitterFromContext(ctx)
	sem := semaphore.NewWeighted(t.workers)
	results := make([]types.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		if call.ID == "" {
			call.ID = uuid.NewString()
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancellation mid-batch: record the unstarted call as an error
			// result; calls already in flight run to completion.
			results[i] = types.ToolResult{
				ToolCallID: call.ID,
				Name:       call.Name,
				Error:      fmt.Sprintf("not executed: %v", err),
			}
			continue
		}

		wg.Add(1)
		go func(i int, call types.ToolCall) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = t.invoke(ctx, call, emit)
		}(i, call)
	}
	wg.Wait()

	messages := make([]types.Message, 0, len(results))
	for _, res := range results {
		messages = append(messages, res.ToMessage())
	}
	return Update{Messages: messages}, nil
}

// invoke runs a single call, folding every failure mode into the result.
func (t *ToolsStage) invoke(ctx context.Context, call types.ToolCall, emit Emitter) types.ToolResult {
	emit(Event{
		Type:       EventToolStart,
		Node:       NodeTools,
		Tool:       call.Name,
		ToolCallID: call.ID,
		Time:       time.Now(),
	})

	start := time.Now()
	result := types.ToolResult{ToolCallID: call.ID, Name: call.Name}

	tool, ok := t.registry.Get(call.Name)
	if !ok {
		result.Error = fmt.Sprintf("unknown tool %q", call.Name)
	} else {
		payload, err := tool.Invoke(ctx, call.Arguments)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Result = payload
		}
	}
	result.Duration = time.Since(start)

	if result.IsError() {
		t.logger.Warn("tool call failed",
			zap.String("tool", call.Name),
			zap.String("tool_call_id", call.ID),
			zap.String("error", result.Error),
		)
	} else {
		t.logger.Debug("tool call succeeded",
			zap.String("tool", call.Name),
			zap.String("tool_call_id", call.ID),
			zap.Duration("duration", result.Duration),
		)
	}

	emit(Event{
		Type:       EventToolEnd,
		Node:       NodeTools,
		Tool:       call.Name,
		ToolCallID: call.ID,
		Err:        result.Error,
		Time:       time.Now(),
	})
	return result
}
