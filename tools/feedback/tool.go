// Package feedback implements the ask-human-feedback tool. It is the
// workflow's only true blocking-on-user-input point: in console contexts the
// tool blocks on a reader, in interactive contexts it suspends on a pending
// request until a response is supplied from outside the run.
package feedback

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/types"
)

// ToolName is the registered name of the feedback tool.
const ToolName = "ask-human-feedback"

// Provider supplies human answers. Ask blocks until an answer is available
// or ctx is cancelled.
type Provider interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Tool exposes a feedback Provider as a registry tool.
type Tool struct {
	provider Provider
}

// New creates the ask-human-feedback tool.
func New(provider Provider) *Tool {
	return &Tool{provider: provider}
}

// Name implements tools.Tool.
func (t *Tool) Name() string { return ToolName }

// Schema implements tools.Tool.
func (t *Tool) Schema() types.ToolSchema {
	params := types.NewObjectSchema()
	params.AddProperty("question",
		types.NewStringSchema().WithDescription("The question to show to the user."), true)

	return types.ToolSchema{
		Name:        ToolName,
		Description: "Ask the user for feedback or confirmation and wait for their answer.",
		Parameters:  params.MarshalRaw(),
	}
}

type feedbackArgs struct {
	Question string `json:"question"`
}

// Invoke implements tools.Tool.
func (t *Tool) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in feedbackArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, types.NewError(types.ErrToolValidation, "invalid ask-human-feedback arguments").WithCause(err)
	}
	if in.Question == "" {
		return nil, types.NewError(types.ErrToolValidation, "question is required")
	}

	answer, err := t.provider.Ask(ctx, in.Question)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"answer": answer})
}

// ConsoleProvider reads answers from a reader, writing the question to a
// writer first. Suitable for non-interactive, terminal-style execution.
type ConsoleProvider struct {
	in  *bufio.Reader
	out io.Writer
	mu  sync.Mutex
}

// NewConsoleProvider creates a console provider.
func NewConsoleProvider(in io.Reader, out io.Writer) *ConsoleProvider {
	return &ConsoleProvider{in: bufio.NewReader(in), out: out}
}

// Ask implements Provider. The read itself is not interruptible mid-line;
// console contexts accept that, interactive contexts use AwaitProvider.
func (p *ConsoleProvider) Ask(ctx context.Context, question string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprintf(p.out, "\n[FEEDBACK REQUIRED] %s\nYour answer: ", question)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", types.NewError(types.ErrToolExecution, "failed to read feedback").WithCause(err)
	}
	return trimNewline(line), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Request is a pending feedback request awaiting an external response.
type Request struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"created_at"`

	responseCh chan response
}

type response struct {
	answer string
	err    error
}

// AwaitProvider suspends Ask callers on a pending request until Resolve or
// Reject is called from outside the run (e.g. by a UI event handler).
type AwaitProvider struct {
	mu       sync.Mutex
	pending  map[string]*Request
	onChange func(Request) // optional notification of a new pending request
	logger   *zap.Logger
}

// NewAwaitProvider creates a suspending provider. onChange, when non-nil, is
// called with each newly created request.
func NewAwaitProvider(onChange func(Request), logger *zap.Logger) *AwaitProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AwaitProvider{
		pending:  make(map[string]*Request),
		onChange: onChange,
		logger:   logger.With(zap.String("component", "feedback")),
	}
}

// Ask implements Provider. It parks the caller until the request is resolved
// or the context is cancelled; cancellation abandons the request.
func (p *AwaitProvider) Ask(ctx context.Context, question string) (string, error) {
	req := &Request{
		ID:         uuid.NewString(),
		Question:   question,
		CreatedAt:  time.Now(),
		responseCh: make(chan response, 1),
	}

	p.mu.Lock()
	p.pending[req.ID] = req
	p.mu.Unlock()

	p.logger.Info("feedback requested",
		zap.String("request_id", req.ID),
		zap.String("question", question),
	)
	if p.onChange != nil {
		p.onChange(*req)
	}

	select {
	case <-ctx.Done():
		p.remove(req.ID)
		return "", ctx.Err()
	case resp := <-req.responseCh:
		p.remove(req.ID)
		return resp.answer, resp.err
	}
}

// Pending returns the currently suspended requests.
func (p *AwaitProvider) Pending() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, 0, len(p.pending))
	for _, req := range p.pending {
		out = append(out, *req)
	}
	return out
}

// Resolve supplies the answer for a pending request, resuming its caller.
func (p *AwaitProvider) Resolve(id, answer string) error {
	return p.finish(id, response{answer: answer})
}

// Reject fails a pending request, resuming its caller with an error.
func (p *AwaitProvider) Reject(id string, reason string) error {
	return p.finish(id, response{err: types.NewError(types.ErrToolExecution, reason)})
}

func (p *AwaitProvider) finish(id string, resp response) error {
	p.mu.Lock()
	req, ok := p.pending[id]
	p.mu.Unlock()
	if !ok {
		return types.NewError(types.ErrToolExecution, fmt.Sprintf("no pending feedback request %q", id))
	}

	select {
	case req.responseCh <- resp:
		return nil
	default:
		return types.NewError(types.ErrToolExecution, fmt.Sprintf("feedback request %q already answered", id))
	}
}

func (p *AwaitProvider) remove(id string) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}
