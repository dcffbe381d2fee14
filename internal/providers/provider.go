package providers

import (
	"context"
	"encoding/json"
)

// CompletionClient is the single contract the engine uses to talk to a
// text-completion service. Implementations translate the request into their
// provider's wire shape privately and have no side effects beyond the network.
type CompletionClient interface {
	// Complete sends one completion request and returns the content and usage.
	Complete(ctx context.Context, messages []Message, format ResponseFormat, settings Settings) (*Completion, error)

	// Name returns the client identifier (e.g., "openai").
	Name() string
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FormatKind selects free text or schema-constrained output.
type FormatKind string

const (
	FormatText       FormatKind = "text"
	FormatJSONSchema FormatKind = "json_schema"
)

// ResponseFormat describes the expected response shape. It is deliberately
// provider neutral; each client maps it to its own request fields.
type ResponseFormat struct {
	Kind   FormatKind      `json:"kind"`
	Name   string          `json:"name,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
	Strict bool            `json:"strict,omitempty"`
}

// Structured reports whether the caller expects a JSON document back.
func (f ResponseFormat) Structured() bool {
	return f.Kind == FormatJSONSchema
}

// TextFormat is the zero-configuration free text format.
func TextFormat() ResponseFormat {
	return ResponseFormat{Kind: FormatText}
}

// JSONSchemaFormat builds a strict structured format from a schema document.
func JSONSchemaFormat(name string, schema json.RawMessage) ResponseFormat {
	return ResponseFormat{Kind: FormatJSONSchema, Name: name, Schema: schema, Strict: true}
}

// Settings carries per-request model settings. Zero values fall back to the
// client's configured defaults.
type Settings struct {
	Model           string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens       int      `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty"`
}

// Usage is the token accounting reported by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// Completion is the result of a successful call.
type Completion struct {
	Content  string `json:"content"`
	Usage    Usage  `json:"usage"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

func modelOr(settings Settings, fallback string) string {
	if settings.Model != "" {
		return settings.Model
	}
	return fallback
}

func maxTokensOr(settings Settings, fallback int) int {
	if settings.MaxTokens > 0 {
		return settings.MaxTokens
	}
	return fallback
}

// splitSystem separates system messages from the conversation, for providers
// that carry the system prompt out of band.
func splitSystem(messages []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
