package types

import (
	"encoding/json"
	"time"
)

// ToolSchema defines a tool's interface for LLM function calling.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult represents the result of a single tool execution.
// Either Result or Error is set; an error result is still folded into a
// regular tool message so the model can reason about the failure.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// IsError returns true if the tool execution failed.
func (tr ToolResult) IsError() bool {
	return tr.Error != ""
}

// ToMessage converts the ToolResult to a tool message keyed by the
// originating call's correlation id. Errors are encoded as a structured
// payload rather than raised, so a failing call never aborts the batch.
func (tr ToolResult) ToMessage() Message {
	content := string(tr.Result)
	if tr.IsError() {
		payload, err := json.Marshal(map[string]string{
			"status":  "error",
			"message": tr.Error,
		})
		if err != nil {
			payload = []byte(`{"status":"error"}`)
		}
		content = string(payload)
	}
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       tr.Name,
		ToolCallID: tr.ToolCallID,
		Timestamp:  time.Now(),
	}
}
