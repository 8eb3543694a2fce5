// Package llm defines the language-model capability consumed by the workflow
// stages: plain and tool-bound chat completion, token streaming, and
// schema-constrained structured output.
package llm

import (
	"context"
	"time"

	"github.com/BaSui01/scholarflow/types"
)

// ChatRequest is a single model invocation.
type ChatRequest struct {
	Model       string             `json:"model"`
	Messages    []types.Message    `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float32            `json:"temperature,omitempty"`
	Tools       []types.ToolSchema `json:"tools,omitempty"`
	ToolChoice  string             `json:"tool_choice,omitempty"` // auto/none/<tool name>
	// ResponseSchema constrains the reply to a JSON object matching the
	// schema. Providers without native structured output fall back to
	// prompt-level instruction; the caller validates either way.
	ResponseSchema *types.JSONSchema `json:"response_schema,omitempty"`
	Timeout        time.Duration     `json:"timeout,omitempty"`
}

// ChatUsage reports token accounting for a completed call.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// ChatResponse is the reply to a ChatRequest.
type ChatResponse struct {
	ID        string        `json:"id,omitempty"`
	Model     string        `json:"model"`
	Message   types.Message `json:"message"`
	Usage     ChatUsage     `json:"usage,omitempty"`
	CreatedAt time.Time     `json:"created_at,omitempty"`
}

// StreamChunk is one increment of a streaming completion.
type StreamChunk struct {
	Delta        types.Message `json:"delta"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *ChatUsage    `json:"usage,omitempty"`
	Err          *types.Error  `json:"error,omitempty"`
}

// Provider is the language-model capability. Completion must be safe for
// concurrent use; each workflow run drives it strictly sequentially.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Completion performs a blocking chat completion.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// StreamingProvider is implemented by providers that can emit incremental
// token chunks. The channel closes after the final chunk; a chunk with Err
// set terminates the stream.
type StreamingProvider interface {
	Provider
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
}
