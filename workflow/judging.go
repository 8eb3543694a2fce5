package workflow

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/prompts"
	"github.com/BaSui01/scholarflow/types"
)

// JudgeOutput is the structured reply expected from the judging stage.
type JudgeOutput struct {
	IsGoodAnswer bool   `json:"is_good_answer"`
	Feedback     string `json:"feedback,omitempty"`
}

// JudgeSchema constrains the judging model call.
func JudgeSchema() *types.JSONSchema {
	s := types.NewObjectSchema()
	s.AddProperty("is_good_answer",
		types.NewBooleanSchema().WithDescription("Whether the answer is good or not."), true)
	s.AddProperty("feedback",
		types.NewStringSchema().WithDescription("Detailed feedback about why the answer is not good; omit when the answer is good."), false)
	return s
}

// JudgingStage is the terminal gate: it evaluates the drafted answer against
// a rubric and either accepts it or sends the run back into planning with
// feedback. The feedback ceiling guarantees termination regardless of model
// behavior.
type JudgingStage struct {
	provider    llm.Provider
	maxFeedback int
	logger      *zap.Logger
}

// NewJudgingStage creates the judging stage. maxFeedback bounds how many
// real evaluations may reject the answer before success is forced.
func NewJudgingStage(provider llm.Provider, maxFeedback int, logger *zap.Logger) *JudgingStage {
	if maxFeedback <= 0 {
		maxFeedback = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JudgingStage{
		provider:    provider,
		maxFeedback: maxFeedback,
		logger:      logger.With(zap.String("stage", "judging")),
	}
}

// Name implements Stage.
func (j *JudgingStage) Name() Node { return NodeJudging }

// Execute implements Stage. At the feedback ceiling the stage short-circuits
// to a good answer without a model call and without advancing the counter;
// every real evaluation advances it.
func (j *JudgingStage) Execute(ctx context.Context, s *State) (Update, error) {
	if s.FeedbackRequests >= j.maxFeedback {
		j.logger.Info("feedback ceiling reached, forcing acceptance",
			zap.Int("feedback_requests", s.FeedbackRequests))
		return Update{IsGoodAnswer: boolPtr(true)}, nil
	}

	if err := ctx.Err(); err != nil {
		return Update{}, err
	}

	schema := JudgeSchema()
	resp, err := j.provider.Completion(ctx, &llm.ChatRequest{
		Messages:       withSystem(prompts.Judge, s.Messages),
		ResponseSchema: schema,
	})
	if err != nil {
		// An unavailable judge must not strand the run in a loop.
		j.logger.Warn("judging call failed, accepting answer", zap.Error(err))
		return Update{IsGoodAnswer: boolPtr(true), FeedbackIncrement: 1}, nil
	}

	parsed := llm.Parse[JudgeOutput](resp.Message.Content, schema)
	if !parsed.IsValid() {
		j.logger.Warn("judge output malformed, accepting answer", zap.Any("errors", parsed.Errors))
		return Update{IsGoodAnswer: boolPtr(true), FeedbackIncrement: 1}, nil
	}

	out := parsed.Value
	if !out.IsGoodAnswer && out.Feedback == "" {
		// Contract violation: a rejection without feedback would loop the
		// workflow with nothing new to act on. Treat it as acceptance.
		j.logger.Warn("judge rejected without feedback, accepting answer")
		return Update{IsGoodAnswer: boolPtr(true), FeedbackIncrement: 1}, nil
	}

	update := Update{IsGoodAnswer: &out.IsGoodAnswer, FeedbackIncrement: 1}
	if out.Feedback != "" {
		update.Messages = append(update.Messages, types.NewAssistantMessage(out.Feedback))
	}
	return update, nil
}
