package persist

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/docket/internal/providers"
)

// Validator checks payloads against a job's output schema. The schema is
// compiled once. A nil Validator accepts everything.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles schemaRaw. Wrapped schemas ({"schema": ...} or the
// OpenAI json_schema envelope) are unwrapped first. An empty schema yields a
// nil Validator.
func NewValidator(schemaRaw json.RawMessage) (*Validator, error) {
	if len(bytes.TrimSpace(schemaRaw)) == 0 {
		return nil, nil
	}
	core, err := providers.CoreSchema(schemaRaw)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(core)); err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks payload. The payload is round-tripped through JSON so hook
// output built from Go values validates the same way decoded model output
// does.
func (v *Validator) Validate(payload map[string]any) error {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode payload for validation: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("payload does not match schema: %w", err)
	}
	return nil
}
