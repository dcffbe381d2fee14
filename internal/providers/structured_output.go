package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseStructured decodes a JSON object from model output, with lightweight
// recovery for markdown code fences and surrounding prose. Anything that does
// not yield a JSON object is an ErrParse.
func ParseStructured(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty structured output", ErrParse)
	}

	candidates := []string{content}
	if stripped := stripCodeFences(content); stripped != "" && stripped != content {
		candidates = append(candidates, stripped)
	}
	if extracted := extractJSONCandidate(content); extracted != "" && extracted != content {
		candidates = append(candidates, extracted)
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}

		var parsed any
		if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
			continue
		}
		obj, ok := parsed.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected JSON object, got %T", ErrParse, parsed)
		}
		return obj, nil
	}

	return nil, fmt.Errorf("%w: failed to parse structured JSON", ErrParse)
}

func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return ""
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return ""
	}

	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func extractJSONCandidate(content string) string {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(trimmed, "}")
	if end < start {
		return ""
	}
	return strings.TrimSpace(trimmed[start : end+1])
}

// CoreSchema unwraps the common {"name","strict","schema":{...}} and
// {"json_schema":{"schema":...}} envelopes and returns the bare schema.
func CoreSchema(schemaRaw json.RawMessage) (json.RawMessage, error) {
	var root any
	if err := json.Unmarshal(schemaRaw, &root); err != nil {
		return nil, fmt.Errorf("invalid structured schema JSON: %w", err)
	}

	if rootMap, ok := root.(map[string]any); ok {
		if inner, ok := rootMap["schema"]; ok {
			b, err := json.Marshal(inner)
			if err != nil {
				return nil, fmt.Errorf("failed to serialize inner schema: %w", err)
			}
			return b, nil
		}
		if rawInner, ok := rootMap["json_schema"]; ok {
			if innerMap, ok := rawInner.(map[string]any); ok {
				if innerSchema, ok := innerMap["schema"]; ok {
					b, err := json.Marshal(innerSchema)
					if err != nil {
						return nil, fmt.Errorf("failed to serialize json_schema.schema: %w", err)
					}
					return b, nil
				}
			}
		}
	}

	return schemaRaw, nil
}

func decodeSchema(schemaRaw json.RawMessage) (map[string]any, error) {
	core, err := CoreSchema(schemaRaw)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(core, &m); err != nil {
		return nil, fmt.Errorf("structured schema must be an object: %w", err)
	}
	return m, nil
}

// schemaInstruction is appended to the system prompt for providers without
// native schema enforcement. The persister validates the result locally.
func schemaInstruction(format ResponseFormat) string {
	if !format.Structured() || len(format.Schema) == 0 {
		return ""
	}
	core, err := CoreSchema(format.Schema)
	if err != nil {
		core = format.Schema
	}
	return fmt.Sprintf(`Return ONLY valid JSON (no markdown, no commentary) that strictly conforms to this schema.

Schema:
%s`, string(core))
}

func withSchemaInstruction(system string, format ResponseFormat) string {
	instr := schemaInstruction(format)
	switch {
	case instr == "":
		return system
	case system == "":
		return instr
	default:
		return system + "\n\n" + instr
	}
}
