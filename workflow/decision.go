package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/prompts"
	"github.com/BaSui01/scholarflow/types"
)

// DecisionOutput is the structured reply expected from the decision stage.
type DecisionOutput struct {
	RequiresResearch bool   `json:"requires_research"`
	Answer           string `json:"answer,omitempty"`
}

// DecisionSchema constrains the decision model call.
func DecisionSchema() *types.JSONSchema {
	s := types.NewObjectSchema()
	s.AddProperty("requires_research",
		types.NewBooleanSchema().WithDescription("Whether the user query requires research or not."), true)
	s.AddProperty("answer",
		types.NewStringSchema().WithDescription("Direct answer to the user query; omit when research is required."), false)
	return s
}

// DecisionStage is the workflow entry point: the model either answers the
// query directly or routes it into a full research cycle.
type DecisionStage struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewDecisionStage creates the decision stage.
func NewDecisionStage(provider llm.Provider, logger *zap.Logger) *DecisionStage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionStage{provider: provider, logger: logger.With(zap.String("stage", "decision"))}
}

// Name implements Stage.
func (d *DecisionStage) Name() Node { return NodeDecision }

// Execute implements Stage. Model errors and malformed output fail toward
// doing more work: the safe default is requires_research = true, never a
// silently empty answer.
func (d *DecisionStage) Execute(ctx context.Context, s *State) (Update, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, err
	}

	schema := DecisionSchema()
	resp, err := d.provider.Completion(ctx, &llm.ChatRequest{
		Messages:       withSystem(prompts.DecisionMaking(time.Now()), s.Messages),
		ResponseSchema: schema,
	})
	if err != nil {
		d.logger.Warn("decision call failed, defaulting to research", zap.Error(err))
		return Update{RequiresResearch: boolPtr(true)}, nil
	}

	parsed := llm.Parse[DecisionOutput](resp.Message.Content, schema)
	if !parsed.IsValid() {
		d.logger.Warn("decision output malformed, defaulting to research",
			zap.Any("errors", parsed.Errors))
		return Update{RequiresResearch: boolPtr(true)}, nil
	}

	out := parsed.Value
	if !out.RequiresResearch && out.Answer == "" {
		// Contract violation: a direct answer must be non-empty.
		d.logger.Warn("decision claimed direct answer without content, defaulting to research")
		return Update{RequiresResearch: boolPtr(true)}, nil
	}

	update := Update{RequiresResearch: &out.RequiresResearch}
	if out.Answer != "" {
		update.Messages = append(update.Messages, types.NewAssistantMessage(out.Answer))
	}
	return update, nil
}
