package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/prompts"
	"github.com/BaSui01/scholarflow/tools"
	"github.com/BaSui01/scholarflow/types"
)

// planningFallback is appended when the planning call fails; the run then
// proceeds and the user sees a clarification request instead of an abort.
const planningFallback = "I was unable to draft a research plan for this question. " +
	"Could you rephrase it or narrow it down, for example by naming the topic, " +
	"time range, or specific papers of interest?"

// PlanningStage produces a step-by-step plan referencing the declared tools.
// It never executes anything and never aborts the workflow.
type PlanningStage struct {
	provider llm.Provider
	registry *tools.Registry
	maxSteps int
	logger   *zap.Logger
}

// NewPlanningStage creates the planning stage. maxSteps bounds the plan
// length advertised to the model.
func NewPlanningStage(provider llm.Provider, registry *tools.Registry, maxSteps int, logger *zap.Logger) *PlanningStage {
	if maxSteps <= 0 {
		maxSteps = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanningStage{
		provider: provider,
		registry: registry,
		maxSteps: maxSteps,
		logger:   logger.With(zap.String("stage", "planning")),
	}
}

// Name implements Stage.
func (p *PlanningStage) Name() Node { return NodePlanning }

// Execute implements Stage.
func (p *PlanningStage) Execute(ctx context.Context, s *State) (Update, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, err
	}

	toolDocs := prompts.FormatToolDescriptions(p.registry.Schemas())
	resp, err := p.provider.Completion(ctx, &llm.ChatRequest{
		Messages: withSystem(prompts.Planning(toolDocs, p.maxSteps), s.Messages),
	})
	if err != nil {
		p.logger.Warn("planning call failed, substituting clarification request", zap.Error(err))
		return Update{Messages: []types.Message{types.NewAssistantMessage(planningFallback)}}, nil
	}

	plan := resp.Message.Content
	if plan == "" {
		p.logger.Warn("planning returned empty plan, substituting clarification request")
		return Update{Messages: []types.Message{types.NewAssistantMessage(planningFallback)}}, nil
	}

	return Update{Messages: []types.Message{types.NewAssistantMessage(plan)}}, nil
}
