package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/scholarflow/types"
)

// ParseError records a single structured-output validation failure.
type ParseError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseResult is the tagged outcome of decoding a structured model reply.
// Invalid replies never raise; callers inspect IsValid and fall back to the
// stage's safe default.
type ParseResult[T any] struct {
	Value  *T           `json:"value,omitempty"`
	Raw    string       `json:"raw"`
	Errors []ParseError `json:"errors,omitempty"`
}

// IsValid returns true if parsing succeeded with no errors.
func (r *ParseResult[T]) IsValid() bool {
	return r.Value != nil && len(r.Errors) == 0
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// extractJSON strips markdown code fences and surrounding prose, returning
// the first JSON object found in the raw model output.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fencedJSONRe.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}

// Parse decodes a structured model reply into T, optionally validating the
// decoded JSON against schema. Malformed output is reported through the
// result's Errors, never as a Go error.
func Parse[T any](raw string, schema *types.JSONSchema) *ParseResult[T] {
	result := &ParseResult[T]{Raw: raw}

	payload := extractJSON(raw)
	if strings.TrimSpace(payload) == "" {
		result.Errors = append(result.Errors, ParseError{Message: "empty model output"})
		return result
	}

	if schema != nil {
		var generic map[string]any
		if err := json.Unmarshal([]byte(payload), &generic); err != nil {
			result.Errors = append(result.Errors, ParseError{Message: fmt.Sprintf("invalid JSON: %v", err)})
			return result
		}
		result.Errors = append(result.Errors, validateObject(generic, schema, "")...)
		if len(result.Errors) > 0 {
			return result
		}
	}

	var value T
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		result.Errors = append(result.Errors, ParseError{Message: fmt.Sprintf("invalid JSON: %v", err)})
		return result
	}
	result.Value = &value
	return result
}

// validateObject checks required fields and basic type/range constraints.
func validateObject(data map[string]any, schema *types.JSONSchema, path string) []ParseError {
	var errs []ParseError

	for _, req := range schema.Required {
		if _, ok := data[req]; !ok {
			errs = append(errs, ParseError{
				Path:    joinPath(path, req),
				Message: "required field missing",
			})
		}
	}

	for name, prop := range schema.Properties {
		value, ok := data[name]
		if !ok || value == nil {
			continue
		}
		errs = append(errs, validateValue(value, prop, joinPath(path, name))...)
	}

	return errs
}

func validateValue(value any, schema *types.JSONSchema, path string) []ParseError {
	var errs []ParseError

	switch schema.Type {
	case types.SchemaTypeString:
		if _, ok := value.(string); !ok {
			errs = append(errs, ParseError{Path: path, Message: "expected string"})
		}
	case types.SchemaTypeBoolean:
		if _, ok := value.(bool); !ok {
			errs = append(errs, ParseError{Path: path, Message: "expected boolean"})
		}
	case types.SchemaTypeNumber, types.SchemaTypeInteger:
		num, ok := value.(float64)
		if !ok {
			errs = append(errs, ParseError{Path: path, Message: "expected number"})
			break
		}
		if schema.Minimum != nil && num < *schema.Minimum {
			errs = append(errs, ParseError{Path: path, Message: fmt.Sprintf("below minimum %v", *schema.Minimum)})
		}
		if schema.Maximum != nil && num > *schema.Maximum {
			errs = append(errs, ParseError{Path: path, Message: fmt.Sprintf("above maximum %v", *schema.Maximum)})
		}
	case types.SchemaTypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			errs = append(errs, ParseError{Path: path, Message: "expected object"})
			break
		}
		errs = append(errs, validateObject(obj, schema, path)...)
	case types.SchemaTypeArray:
		arr, ok := value.([]any)
		if !ok {
			errs = append(errs, ParseError{Path: path, Message: "expected array"})
			break
		}
		if schema.Items != nil {
			for i, item := range arr {
				errs = append(errs, validateValue(item, schema.Items, fmt.Sprintf("%s[%d]", path, i))...)
			}
		}
	}

	return errs
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	return base + "." + field
}
