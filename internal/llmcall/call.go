// Package llmcall records every completion attempt for traceability. Each
// attempt is captured with its job, provider, prompt hash, token usage and
// outcome, and written to SQLite in batches off the hot path.
package llmcall

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/docket/internal/providers"
)

// Call represents one recorded completion attempt.
type Call struct {
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int64     `json:"latency_ms"`

	JobID string `json:"job_id,omitempty"`

	// Model info
	Provider string `json:"provider"`
	Model    string `json:"model"`

	// PromptHash identifies the exact message list sent, without storing it.
	PromptHash string `json:"prompt_hash"`
	Format     string `json:"format"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Status
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	RateLimited bool   `json:"rate_limited,omitempty"`
}

// Options provides context for recorded calls.
type Options struct {
	JobID string
}

// PromptHash returns a stable hex digest of the role and content of each
// message.
func PromptHash(messages []providers.Message) string {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// newCall builds the record for one attempt. result may be nil when err is set.
func newCall(start time.Time, provider string, messages []providers.Message, format providers.ResponseFormat, settings providers.Settings, result *providers.Completion, err error, opts Options) Call {
	call := Call{
		ID:         uuid.New().String(),
		Timestamp:  start,
		LatencyMs:  time.Since(start).Milliseconds(),
		JobID:      opts.JobID,
		Provider:   provider,
		Model:      settings.Model,
		PromptHash: PromptHash(messages),
		Format:     string(format.Kind),
		Success:    err == nil,
	}
	if call.Format == "" {
		call.Format = string(providers.FormatText)
	}
	if result != nil {
		if result.Model != "" {
			call.Model = result.Model
		}
		call.InputTokens = result.Usage.PromptTokens
		call.OutputTokens = result.Usage.CompletionTokens
	}
	if err != nil {
		call.Error = err.Error()
		call.RateLimited = providers.IsRateLimited(err)
	}
	return call
}
