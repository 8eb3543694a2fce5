package workflow

import (
	"context"

	"github.com/BaSui01/scholarflow/types"
)

// Stage is one transformation unit of the workflow. Execute reads the state
// and returns a partial update; it must not mutate the state directly.
//
// The error return is reserved for context cancellation and programmer
// errors. Model failures and malformed structured output are absorbed into
// the update via each stage's documented safe default, so a misbehaving
// model can degrade a run but never abort it.
type Stage interface {
	Name() Node
	Execute(ctx context.Context, s *State) (Update, error)
}

// withSystem prepends a system prompt to the conversation history.
func withSystem(system string, history []types.Message) []types.Message {
	msgs := make([]types.Message, 0, len(history)+1)
	msgs = append(msgs, types.NewSystemMessage(system))
	msgs = append(msgs, history...)
	return msgs
}
