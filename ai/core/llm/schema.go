package llm

import "encoding/json"

// JSONSchema implements json.Marshaler for OpenAI's JSON Schema format.
// The alias type prevents infinite recursion during marshaling.
type JSONSchema struct {
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Items                *JSONSchema            `json:"items,omitempty"`
	Type                 []string               `json:"type"`
	Description          string                 `json:"description,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Enum                 []string               `json:"enum,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties"`
}

// MarshalJSON implements json.Marshaler for JSONSchema.
// It uses a type alias to prevent infinite recursion.
func (s *JSONSchema) MarshalJSON() ([]byte, error) {
	type alias JSONSchema
	return json.Marshal((*alias)(s))
}
