// Package openaicompat implements llm.Provider against any OpenAI-compatible
// chat completions endpoint. Structured output requests are sent as JSON
// response format when the endpoint supports it, with a prompt-level
// instruction as fallback; the caller validates either way.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/internal/tlsutil"
	"github.com/BaSui01/scholarflow/llm"
	"github.com/BaSui01/scholarflow/types"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName identifies this provider in logs and errors.
	ProviderName string

	// APIKey authenticates against the endpoint.
	APIKey string

	// BaseURL is the API base (e.g. "https://api.openai.com").
	BaseURL string

	// DefaultModel is used when the request does not name a model.
	DefaultModel string

	// DefaultMaxTokens is used when the request leaves MaxTokens unset.
	DefaultMaxTokens int

	// DefaultTemperature is used when the request leaves Temperature unset.
	DefaultTemperature float32

	// Timeout is the HTTP client timeout. Defaults to 60s.
	Timeout time.Duration

	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string
}

// Provider is an OpenAI-compatible chat completions client.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates a new provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compatible"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.Client(cfg.Timeout),
		logger: logger,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.cfg.ProviderName }

// wireMessage is the OpenAI wire format for a message.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model          string          `json:"model"`
	Messages       []wireMessage   `json:"messages"`
	Tools          []wireTool      `json:"tools,omitempty"`
	ToolChoice     string          `json:"tool_choice,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float32         `json:"temperature,omitempty"`
	Stream         bool            `json:"stream,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int          `json:"index"`
		FinishReason string       `json:"finish_reason"`
		Message      *wireMessage `json:"message,omitempty"`
		Delta        *wireMessage `json:"delta,omitempty"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func convertMessages(msgs []types.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := wireMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func convertTools(tools []types.ToolSchema) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		out = append(out, wt)
	}
	return out
}

func (p *Provider) buildBody(req *llm.ChatRequest, stream bool) wireRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.DefaultMaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.cfg.DefaultTemperature
	}
	body := wireRequest{
		Model:       model,
		Messages:    convertMessages(req.Messages),
		Tools:       convertTools(req.Tools),
		ToolChoice:  req.ToolChoice,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
	if req.ResponseSchema != nil {
		format := map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"schema": req.ResponseSchema,
				"strict": true,
			},
		}
		if raw, err := json.Marshal(format); err == nil {
			body.ResponseFormat = raw
		}
	}
	return body
}

func (p *Provider) post(ctx context.Context, body wireRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body))
	}
	return resp, nil
}

// Completion performs a non-streaming chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.post(ctx, p.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}
	if len(wr.Choices) == 0 || wr.Choices[0].Message == nil {
		return nil, types.NewError(types.ErrMalformedOutput, "response has no choices")
	}

	out := &llm.ChatResponse{
		ID:      wr.ID,
		Model:   wr.Model,
		Message: toMessage(*wr.Choices[0].Message),
		Usage: llm.ChatUsage{
			PromptTokens:     wr.Usage.PromptTokens,
			CompletionTokens: wr.Usage.CompletionTokens,
			TotalTokens:      wr.Usage.TotalTokens,
		},
	}
	if wr.Created != 0 {
		out.CreatedAt = time.Unix(wr.Created, 0)
	}
	return out, nil
}

// Stream performs a streaming chat completion via SSE. The returned channel
// closes after the final chunk.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.post(ctx, p.buildBody(req, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					emit(ctx, ch, llm.StreamChunk{Err: types.NewError(types.ErrUpstreamError, err.Error()).WithRetryable(true)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var wr wireResponse
			if err := json.Unmarshal([]byte(data), &wr); err != nil {
				emit(ctx, ch, llm.StreamChunk{Err: types.NewError(types.ErrMalformedOutput, err.Error())})
				return
			}
			for _, choice := range wr.Choices {
				chunk := llm.StreamChunk{FinishReason: choice.FinishReason}
				if choice.Delta != nil {
					chunk.Delta = toMessage(*choice.Delta)
				}
				if !emit(ctx, ch, chunk) {
					return
				}
			}
		}
	}()
	return ch, nil
}

func emit(ctx context.Context, ch chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- chunk:
		return true
	}
}

func toMessage(wm wireMessage) types.Message {
	msg := types.Message{
		Role:       types.Role(wm.Role),
		Content:    wm.Content,
		Name:       wm.Name,
		ToolCallID: wm.ToolCallID,
	}
	if msg.Role == "" {
		msg.Role = types.RoleAssistant
	}
	for _, tc := range wm.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return msg
}

// readErrorMessage extracts the error message from an error response body,
// falling back to the raw text when it is not the standard JSON shape.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return string(data)
}

func mapHTTPError(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return types.NewError(types.ErrUnauthorized, msg).WithHTTPStatus(status)
	case http.StatusForbidden:
		return types.NewError(types.ErrForbidden, msg).WithHTTPStatus(status)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true)
	case http.StatusBadRequest:
		return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(status)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithHTTPStatus(status).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, msg).
			WithHTTPStatus(status).
			WithRetryable(status >= 500)
	}
}
