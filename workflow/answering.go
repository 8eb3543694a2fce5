package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/prompts"
	"github.com/BaSui01/scholarflow/tools"
	"github.com/BaSui01/scholarflow/types"
)

// answeringFallback is appended when the answering call fails outright.
const answeringFallback = "I ran into a problem while drafting the answer. " +
	"The gathered material is preserved above; please try again."

// AnsweringStage invokes the model bound to the tool registry's schemas,
// producing either a final textual answer or a new batch of tool calls. The
// router inspects its output to decide between tool execution and judging.
type AnsweringStage struct {
	provider llm.Provider
	registry *tools.Registry
	logger   *zap.Logger
}

// NewAnsweringStage creates the answering stage.
func NewAnsweringStage(provider llm.Provider, registry *tools.Registry, logger *zap.Logger) *AnsweringStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnsweringStage{
		provider: provider,
		registry: registry,
		logger:   logger.With(zap.String("stage", "answering")),
	}
}

// Name implements Stage.
func (a *AnsweringStage) Name() Node { return NodeAnswering }

// Execute implements Stage. When the provider supports streaming, token
// increments are forwarded to the event sink as they arrive.
func (a *AnsweringStage) Execute(ctx context.Context, s *State) (Update, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, err
	}

	req := &llm.ChatRequest{
		Messages:   withSystem(prompts.Answering, s.Messages),
		Tools:      a.registry.Schemas(),
		ToolChoice: "auto",
	}

	var msg types.Message
	var err error
	if streamer, ok := a.provider.(llm.StreamingProvider); ok {
		msg, err = a.streamCompletion(ctx, streamer, req)
	} else {
		var resp *llm.ChatResponse
		resp, err = a.provider.Completion(ctx, req)
		if err == nil {
			msg = resp.Message
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return Update{}, ctx.Err()
		}
		a.logger.Warn("answering call failed, substituting apology", zap.Error(err))
		return Update{Messages: []types.Message{types.NewAssistantMessage(answeringFallback)}}, nil
	}

	if msg.Role == "" {
		msg.Role = types.RoleAssistant
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return Update{Messages: []types.Message{msg}}, nil
}

// streamCompletion accumulates stream chunks into one assistant message,
// emitting a token event per content increment.
func (a *AnsweringStage) streamCompletion(ctx context.Context, p llm.StreamingProvider, req *llm.ChatRequest) (types.Message, error) {
	emit := emitterFromContext(ctx)

	ch, err := p.Stream(ctx, req)
	if err != nil {
		return types.Message{}, err
	}

	msg := types.Message{Role: types.RoleAssistant}
	for chunk := range ch {
		if chunk.Err != nil {
			return types.Message{}, chunk.Err
		}
		if chunk.Delta.Content != "" {
			msg.Content += chunk.Delta.Content
			emit(Event{
				Type:  EventToken,
				Node:  NodeAnswering,
				Token: chunk.Delta.Content,
				Time:  time.Now(),
			})
		}
		for _, tc := range chunk.Delta.ToolCalls {
			mergeToolCall(&msg, tc)
		}
	}
	return msg, nil
}

// mergeToolCall folds a streamed tool-call fragment into the message: a
// fragment with an id starts a new call, an id-less fragment extends the
// arguments of the most recent one.
func mergeToolCall(msg *types.Message, tc types.ToolCall) {
	if tc.ID != "" || len(msg.ToolCalls) == 0 {
		msg.ToolCalls = append(msg.ToolCalls, tc)
		return
	}
	last := &msg.ToolCalls[len(msg.ToolCalls)-1]
	if tc.Name != "" {
		last.Name = tc.Name
	}
	if len(tc.Arguments) > 0 {
		last.Arguments = append(last.Arguments, tc.Arguments...)
	}
}
