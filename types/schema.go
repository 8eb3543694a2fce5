package types

import "encoding/json"

// SchemaType represents JSON Schema types.
type SchemaType string

const (
	SchemaTypeString  SchemaType = "string"
	SchemaTypeNumber  SchemaType = "number"
	SchemaTypeInteger SchemaType = "integer"
	SchemaTypeBoolean SchemaType = "boolean"
	SchemaTypeObject  SchemaType = "object"
	SchemaTypeArray   SchemaType = "array"
)

// JSONSchema represents a JSON Schema definition. Only the subset needed for
// tool parameter declarations and structured model output is modeled.
type JSONSchema struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type SchemaType `json:"type,omitempty"`

	// Object properties
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`

	// Array items
	Items *JSONSchema `json:"items,omitempty"`

	// Numeric constraints
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	// Default value
	Default any `json:"default,omitempty"`
}

// NewObjectSchema creates a new object schema.
func NewObjectSchema() *JSONSchema {
	return &JSONSchema{
		Type:       SchemaTypeObject,
		Properties: make(map[string]*JSONSchema),
	}
}

// NewStringSchema creates a new string schema.
func NewStringSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeString}
}

// NewIntegerSchema creates a new integer schema.
func NewIntegerSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeInteger}
}

// NewBooleanSchema creates a new boolean schema.
func NewBooleanSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeBoolean}
}

// WithDescription sets the description.
func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

// WithRange sets the numeric minimum and maximum.
func (s *JSONSchema) WithRange(min, max float64) *JSONSchema {
	s.Minimum = &min
	s.Maximum = &max
	return s
}

// WithDefault sets the default value.
func (s *JSONSchema) WithDefault(v any) *JSONSchema {
	s.Default = v
	return s
}

// AddProperty adds a property to an object schema, marking it required when
// required is true.
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema, required bool) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	s.Properties[name] = prop
	if required {
		s.Required = append(s.Required, name)
	}
	return s
}

// MarshalRaw serializes the schema as a json.RawMessage suitable for
// ToolSchema.Parameters.
func (s *JSONSchema) MarshalRaw() json.RawMessage {
	data, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
