package feedback

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/types"
)

func TestConsoleProvider_ReadsAnswer(t *testing.T) {
	var out strings.Builder
	p := NewConsoleProvider(strings.NewReader("yes, looks right\n"), &out)

	answer, err := p.Ask(context.Background(), "Is this hypothesis plausible?")
	require.NoError(t, err)
	assert.Equal(t, "yes, looks right", answer)
	assert.Contains(t, out.String(), "Is this hypothesis plausible?")
}

func TestAwaitProvider_SuspendAndResolve(t *testing.T) {
	notified := make(chan Request, 1)
	p := NewAwaitProvider(func(r Request) { notified <- r }, zap.NewNop())

	type result struct {
		answer string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		answer, err := p.Ask(context.Background(), "Continue with the download?")
		done <- result{answer, err}
	}()

	// Wait for the request to park.
	require.Eventually(t, func() bool {
		return len(p.Pending()) == 1
	}, time.Second, time.Millisecond)

	pending := p.Pending()[0]
	assert.Equal(t, "Continue with the download?", pending.Question)
	select {
	case r := <-notified:
		assert.Equal(t, pending.ID, r.ID)
	case <-time.After(time.Second):
		t.Fatal("onChange was not called for the parked request")
	}

	require.NoError(t, p.Resolve(pending.ID, "yes"))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "yes", r.answer)
	case <-time.After(time.Second):
		t.Fatal("Ask did not resume after Resolve")
	}
	assert.Empty(t, p.Pending())
}

func TestAwaitProvider_Reject(t *testing.T) {
	p := NewAwaitProvider(nil, zap.NewNop())

	done := make(chan error, 1)
	go func() {
		_, err := p.Ask(context.Background(), "q")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(p.Pending()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Reject(p.Pending()[0].ID, "user dismissed"))
	err := <-done
	require.Error(t, err)
	assert.Equal(t, types.ErrToolExecution, types.GetErrorCode(err))
}

func TestAwaitProvider_CancelAbandonsRequest(t *testing.T) {
	p := NewAwaitProvider(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := p.Ask(ctx, "q")
		done <- err
	}()
	require.Eventually(t, func() bool { return len(p.Pending()) == 1 }, time.Second, time.Millisecond)

	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, p.Pending())
}

func TestAwaitProvider_ResolveUnknownID(t *testing.T) {
	p := NewAwaitProvider(nil, zap.NewNop())
	require.Error(t, p.Resolve("missing", "answer"))
}

func TestTool_Invoke(t *testing.T) {
	var out strings.Builder
	tool := New(NewConsoleProvider(strings.NewReader("fine\n"), &out))

	payload, err := tool.Invoke(context.Background(), json.RawMessage(`{"question":"ok?"}`))
	require.NoError(t, err)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, "fine", resp["answer"])
}

func TestTool_MissingQuestion(t *testing.T) {
	tool := New(NewConsoleProvider(strings.NewReader(""), &strings.Builder{}))

	_, err := tool.Invoke(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrToolValidation, types.GetErrorCode(err))
}
