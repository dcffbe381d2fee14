package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackzampolin/docket/internal/deps"
	"github.com/jackzampolin/docket/internal/extraction"
	"github.com/jackzampolin/docket/internal/persist"
	"github.com/jackzampolin/docket/internal/providers"
	"github.com/jackzampolin/docket/internal/runs"
)

// Defaults applied to a JobSpec that leaves them unset.
const (
	DefaultConcurrency = 200
	DefaultTimeout     = 300 * time.Second
	DefaultIDField     = "id"
)

// PreprocessFunc prepares an item for dispatch. Returning false (or an
// error) skips the item. It receives a copy and may modify it freely.
type PreprocessFunc func(ctx context.Context, item extraction.WorkItem) (extraction.WorkItem, bool, error)

// PromptFunc builds the messages for one standard completion call.
type PromptFunc func(item extraction.WorkItem) ([]providers.Message, error)

// ExecuteFunc replaces the standard single-call execution. It may call the
// client any number of times and returns the final payload.
type ExecuteFunc func(ctx context.Context, client providers.CompletionClient, item extraction.WorkItem) (map[string]any, error)

// MetadataFunc returns fields merged into the payload after validation.
type MetadataFunc func(item extraction.WorkItem) map[string]any

// Query is the source query of a job.
type Query struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params,omitempty"`
}

// JobSpec declares one extraction job. The engine never modifies it.
//
// Hooks must be pure with respect to shared state: they run concurrently
// for every item in a batch.
type JobSpec struct {
	ID          string
	Description string
	Source      Query

	Dependencies []deps.Declaration

	Preprocess PreprocessFunc
	// Exactly one of Prompt or Execute must be set.
	Prompt  PromptFunc
	Execute ExecuteFunc

	// Schema validates payloads. It also drives the structured response
	// format when ResponseFormat is left zero.
	Schema         json.RawMessage
	ResponseFormat providers.ResponseFormat

	Concurrency int
	Timeout     time.Duration
	Mode        runs.Mode

	Postprocess persist.Postprocessor
	Metadata    MetadataFunc

	// IDField names the source field used as correlation id. Rows without
	// it get a random id.
	IDField string
	Naming  persist.Naming

	Settings providers.Settings
	// MaxRetries overrides the client's rate-limit retry budget.
	MaxRetries *int
	// Provider names the configured provider to use; empty means default.
	Provider string
}

// Validate reports whether the spec can be run.
func (s JobSpec) Validate() error {
	if s.ID == "" {
		return errors.New("job id is required")
	}
	if s.Source.SQL == "" {
		return fmt.Errorf("job %s: source query is required", s.ID)
	}
	if (s.Prompt == nil) == (s.Execute == nil) {
		return fmt.Errorf("job %s: exactly one of Prompt or Execute must be set", s.ID)
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("job %s: concurrency must not be negative", s.ID)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("job %s: timeout must not be negative", s.ID)
	}
	switch s.Mode {
	case "", runs.ModeAggregate, runs.ModeStreaming:
	default:
		return fmt.Errorf("job %s: unknown mode %q", s.ID, s.Mode)
	}
	if s.ResponseFormat.Structured() && len(s.ResponseFormat.Schema) == 0 && len(s.Schema) == 0 {
		return fmt.Errorf("job %s: structured output needs a schema", s.ID)
	}
	seen := make(map[string]bool, len(s.Dependencies))
	for _, d := range s.Dependencies {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("job %s: %w", s.ID, err)
		}
		if seen[d.Alias] {
			return fmt.Errorf("job %s: duplicate dependency alias %s", s.ID, d.Alias)
		}
		seen[d.Alias] = true
	}
	return nil
}

// withDefaults returns a copy with unset fields filled in.
func (s JobSpec) withDefaults(concurrency int, timeout time.Duration) JobSpec {
	if s.Concurrency == 0 {
		s.Concurrency = concurrency
	}
	if s.Concurrency <= 0 {
		s.Concurrency = DefaultConcurrency
	}
	if s.Timeout == 0 {
		s.Timeout = timeout
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.Mode == "" {
		s.Mode = runs.ModeAggregate
	}
	if s.IDField == "" {
		s.IDField = DefaultIDField
	}
	if s.ResponseFormat.Kind == "" {
		if len(s.Schema) > 0 {
			s.ResponseFormat = providers.JSONSchemaFormat(s.ID, s.Schema)
		} else {
			s.ResponseFormat = providers.TextFormat()
		}
	}
	if s.ResponseFormat.Structured() && len(s.ResponseFormat.Schema) == 0 {
		s.ResponseFormat.Schema = s.Schema
	}
	return s
}
