package workflow

import (
	"fmt"
	"time"

	"github.com/BaSui01/scholarflow/types"
)

// State is the single source of truth for one user query. The Engine owns it
// for the duration of the run; stages receive it by reference, read it, and
// return an Update rather than mutating it directly. Apply is the only
// mutation boundary, so the append-only message log and monotonic counters
// are enforced in one place.
type State struct {
	Messages []types.Message `json:"messages"`

	RequiresResearch bool `json:"requires_research"`
	IsGoodAnswer     bool `json:"is_good_answer"`

	FeedbackRequests int `json:"num_feedback_requests"`
	ResearchCycles   int `json:"research_cycles"`

	// Advisory timestamps, never used for control decisions.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState seeds a fresh state with prior conversation history plus the new
// user query.
func NewState(history []types.Message, query string) *State {
	now := time.Now()
	msgs := make([]types.Message, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, types.NewUserMessage(query))
	return &State{
		Messages:  msgs,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LastMessage returns the most recent message, or a zero message if the log
// is empty.
func (s *State) LastMessage() types.Message {
	if len(s.Messages) == 0 {
		return types.Message{}
	}
	return s.Messages[len(s.Messages)-1]
}

// LastAssistantContent returns the content of the most recent assistant
// message carrying text, scanning backwards.
func (s *State) LastAssistantContent() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role == types.RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

// PendingToolCalls returns the tool calls of the last message when it is an
// assistant message requesting tools.
func (s *State) PendingToolCalls() []types.ToolCall {
	last := s.LastMessage()
	if last.Role != types.RoleAssistant {
		return nil
	}
	return last.ToolCalls
}

// Update is a partial state delta produced by a stage. Nil pointers leave
// the corresponding field untouched.
type Update struct {
	// Messages are appended to the log in order.
	Messages []types.Message

	RequiresResearch *bool
	IsGoodAnswer     *bool

	// FeedbackIncrement advances the feedback counter. Negative values are
	// rejected: the counter only grows.
	FeedbackIncrement int
}

// Apply folds an update into the state, enforcing the mutation invariants:
// messages are only appended and the feedback counter never decreases.
func (s *State) Apply(u Update) error {
	if u.FeedbackIncrement < 0 {
		return fmt.Errorf("feedback counter cannot decrease (increment %d)", u.FeedbackIncrement)
	}

	s.Messages = append(s.Messages, u.Messages...)
	if u.RequiresResearch != nil {
		s.RequiresResearch = *u.RequiresResearch
	}
	if u.IsGoodAnswer != nil {
		s.IsGoodAnswer = *u.IsGoodAnswer
	}
	s.FeedbackRequests += u.FeedbackIncrement
	s.UpdatedAt = time.Now()
	return nil
}

func boolPtr(b bool) *bool { return &b }
