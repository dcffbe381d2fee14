package jobs

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

//go:embed schemas/*.json
var schemaFS embed.FS

var templates = template.Must(template.New("jobs").ParseFS(templateFS, "templates/*.tmpl"))

// render executes one embedded template by file name.
func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Schema returns the embedded output schema of a job.
func Schema(jobID string) (json.RawMessage, error) {
	data, err := schemaFS.ReadFile("schemas/" + jobID + ".json")
	if err != nil {
		return nil, fmt.Errorf("%w: no schema for %s", ErrUnknownJob, jobID)
	}
	return json.RawMessage(data), nil
}

func mustSchema(jobID string) json.RawMessage {
	s, err := Schema(jobID)
	if err != nil {
		panic(err)
	}
	return s
}

// LanguageName spells out a decision language code for prompts.
func LanguageName(code string) string {
	switch strings.ToUpper(code) {
	case "NL":
		return "Dutch"
	case "DE":
		return "German"
	default:
		return "French"
	}
}
