// Package persist validates extraction results against a job's schema and
// writes them to disk, either all at once at the end of a run (aggregate) or
// one file per record as results arrive (streaming).
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jackzampolin/docket/internal/extraction"
	"github.com/jackzampolin/docket/internal/home"
	"github.com/jackzampolin/docket/internal/providers"
	"github.com/jackzampolin/docket/internal/runs"
)

// Postprocessor transforms a validated payload, already merged with its
// metadata. It must not retain or share the map it is given. A nil return
// with a nil error keeps the payload unchanged.
type Postprocessor func(payload map[string]any) (map[string]any, error)

// Config configures a Processor.
type Config struct {
	JobID string
	Model string
	Mode  runs.Mode
	Home  *home.Dir
	// RunID names the run directory. Defaults to the current timestamp.
	RunID       string
	Schema      json.RawMessage
	Postprocess Postprocessor
	Naming      Naming
	Logger      *slog.Logger
	Now         func() time.Time
}

// Failure is one row of failures.json. It carries enough to reprocess the
// item without rerunning the whole input.
type Failure struct {
	CorrelationID string         `json:"correlation_id"`
	Index         int            `json:"index"`
	DecisionID    string         `json:"decision_id,omitempty"`
	Language      string         `json:"language,omitempty"`
	Reason        string         `json:"reason"`
	Error         string         `json:"error"`
	Data          map[string]any `json:"data,omitempty"`
}

// Entry is one row of all-results.json.
type Entry struct {
	CorrelationID string          `json:"correlation_id"`
	Index         int             `json:"index"`
	Success       bool            `json:"success"`
	Data          map[string]any  `json:"data,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Error         string          `json:"error,omitempty"`
	Usage         providers.Usage `json:"usage"`
}

// Processor turns results into persisted records and a run summary. It is
// safe for concurrent use; Handle is called from many tasks in streaming
// mode.
type Processor struct {
	cfg       Config
	validator *Validator
	logger    *slog.Logger
	runDir    string
	dataDir   string
	streamDir string

	mu                 sync.Mutex
	handled            map[int]bool
	entries            []Entry
	failures           []Failure
	total              int
	successful         int
	validationFailures int
	usage              providers.Usage
	errorTypes         map[string]int
	model              string
}

// NewProcessor compiles the schema and prepares the output layout.
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.JobID == "" {
		return nil, errors.New("job id is required")
	}
	if cfg.Home == nil {
		return nil, errors.New("home dir is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = runs.ModeAggregate
	}
	if cfg.Mode != runs.ModeAggregate && cfg.Mode != runs.ModeStreaming {
		return nil, fmt.Errorf("unknown output mode %q", cfg.Mode)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RunID == "" {
		cfg.RunID = home.Timestamp(cfg.Now())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Naming = cfg.Naming.withDefaults()

	validator, err := NewValidator(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", cfg.JobID, err)
	}

	p := &Processor{
		cfg:        cfg,
		validator:  validator,
		logger:     cfg.Logger.With("job", cfg.JobID, "run_id", cfg.RunID),
		runDir:     cfg.Home.RunDir(cfg.JobID, cfg.RunID),
		handled:    make(map[int]bool),
		errorTypes: make(map[string]int),
		model:      cfg.Model,
	}
	if cfg.Mode == runs.ModeStreaming {
		p.dataDir = cfg.Home.RecordsDir(cfg.JobID)
		p.streamDir = cfg.Home.StreamDir(cfg.JobID)
	}
	return p, nil
}

// RunID returns the run directory name.
func (p *Processor) RunID() string { return p.cfg.RunID }

// RunDir returns the timestamped results directory of this run.
func (p *Processor) RunDir() string { return p.runDir }

// DataDir returns the per-record directory (streaming mode only).
func (p *Processor) DataDir() string { return p.dataDir }

// RecordPath returns where the record for the given identifiers is written
// in streaming mode. The engine uses it to skip already-written items.
func (p *Processor) RecordPath(correlationID string, records ...map[string]any) string {
	if p.dataDir == "" {
		return ""
	}
	return filepath.Join(p.dataDir, p.cfg.Naming.FileName(correlationID, records...))
}

// Handle processes one result. In streaming mode a successful record is
// written immediately. It returns the failure record, or nil when the
// result was accepted. Each result index is handled at most once.
func (p *Processor) Handle(r extraction.Result) *Failure {
	p.mu.Lock()
	if p.handled[r.Index] {
		p.mu.Unlock()
		return nil
	}
	p.handled[r.Index] = true
	p.mu.Unlock()

	payload, fail := p.evaluate(r)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.total++
	p.usage.Add(r.Usage)
	if p.model == "" && r.Model != "" {
		p.model = r.Model
	}

	entry := Entry{CorrelationID: r.ID, Index: r.Index, Usage: r.Usage}
	if fail != nil {
		p.failures = append(p.failures, *fail)
		p.errorTypes[fail.Reason]++
		if fail.Reason == extraction.CategorySchema {
			p.validationFailures++
		}
		entry.Reason, entry.Error, entry.Data = fail.Reason, fail.Error, fail.Data
		p.logger.Debug("result failed", "correlation_id", r.ID, "index", r.Index, "reason", fail.Reason, "error", fail.Error)
	} else {
		p.successful++
		entry.Success, entry.Data = true, payload
	}
	if p.cfg.Mode == runs.ModeAggregate {
		p.entries = append(p.entries, entry)
	}
	return fail
}

// evaluate applies the failure taxonomy in order: request, schema,
// postprocess, write. Validation sees the raw payload; metadata is merged
// only into a copy that has passed.
func (p *Processor) evaluate(r extraction.Result) (map[string]any, *Failure) {
	fail := func(category, msg string, data map[string]any) *Failure {
		return &Failure{
			CorrelationID: r.ID,
			Index:         r.Index,
			DecisionID:    lookup(p.cfg.Naming.DocumentField, []map[string]any{r.Metadata, r.Payload}),
			Language:      lookup(p.cfg.Naming.LocaleField, []map[string]any{r.Metadata, r.Payload}),
			Reason:        category,
			Error:         msg,
			Data:          data,
		}
	}

	if !r.Success {
		msg := r.Err
		if msg == "" {
			msg = "no payload produced"
		}
		return nil, fail(extraction.CategoryRequest, msg, nil)
	}

	if err := p.validator.Validate(r.Payload); err != nil {
		return nil, fail(extraction.CategorySchema, err.Error(), copyMap(r.Payload))
	}

	merged := copyMap(r.Payload)
	if merged == nil {
		merged = make(map[string]any, len(r.Metadata))
	}
	for k, v := range r.Metadata {
		merged[k] = deepCopy(v)
	}

	if p.cfg.Postprocess != nil {
		out, err := p.postprocess(copyMap(merged))
		if err != nil {
			return nil, fail(extraction.CategoryPostprocess, err.Error(), merged)
		}
		if out != nil {
			merged = out
		}
	}

	if p.cfg.Mode == runs.ModeStreaming {
		path := p.RecordPath(r.ID, r.Metadata, merged)
		if err := writeJSON(path, merged); err != nil {
			return nil, fail(extraction.CategoryWrite, err.Error(), merged)
		}
	}
	return merged, nil
}

func (p *Processor) postprocess(payload map[string]any) (out map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("postprocess panicked: %v", rec)
		}
	}()
	return p.cfg.Postprocess(payload)
}

// Process handles every result not already seen through Handle and writes
// the run's artifacts. It returns the summary even when writing fails.
func (p *Processor) Process(results []extraction.Result, stats RunStats) (*Summary, error) {
	for _, r := range results {
		p.Handle(r)
	}
	return p.finish(stats)
}

func (p *Processor) finish(stats RunStats) (*Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.cfg.Now()
	sort.SliceStable(p.failures, func(i, j int) bool { return p.failures[i].Index < p.failures[j].Index })

	summary := &Summary{
		ProcessedAt:        now.UTC(),
		JobID:              p.cfg.JobID,
		RunID:              p.cfg.RunID,
		Model:              p.model,
		Mode:               string(p.cfg.Mode),
		Total:              p.total,
		Successful:         p.successful,
		Failed:             p.total - p.successful,
		ValidationFailures: p.validationFailures,
		Tokens: TokenSummary{
			Total:      p.usage.TotalTokens,
			Prompt:     p.usage.PromptTokens,
			Completion: p.usage.CompletionTokens,
			Average:    average(p.usage.TotalTokens, p.total),
		},
		SuccessRate:       SuccessRate(p.successful, p.total),
		OutputDir:         p.runDir,
		DataDir:           p.dataDir,
		ErrorTypes:        copyCounts(p.errorTypes),
		DependencyDropped: stats.DependencyDropped,
		PreprocessSkipped: stats.PreprocessSkipped,
		ResumedSkipped:    stats.ResumedSkipped,
	}
	if !stats.StartedAt.IsZero() {
		summary.DurationSeconds = now.Sub(stats.StartedAt).Seconds()
	}

	failures := p.failures
	if failures == nil {
		failures = []Failure{}
	}

	var errs []error
	write := func(dir, name string, v any) {
		if err := writeJSON(filepath.Join(dir, name), v); err != nil {
			errs = append(errs, err)
		}
	}

	switch p.cfg.Mode {
	case runs.ModeAggregate:
		sort.SliceStable(p.entries, func(i, j int) bool { return p.entries[i].Index < p.entries[j].Index })
		successes := make([]map[string]any, 0, p.successful)
		for _, e := range p.entries {
			if e.Success {
				successes = append(successes, e.Data)
			}
		}
		write(p.runDir, runs.AllResultsFile, p.entries)
		write(p.runDir, runs.SuccessfulResultsFile, successes)
		write(p.runDir, runs.ExtractedDataFile, successes)
		write(p.runDir, runs.FailuresFile, failures)
		write(p.runDir, runs.SummaryFile, summary)

	case runs.ModeStreaming:
		write(p.streamDir, runs.SummaryFile, summary)
		write(p.streamDir, runs.FailuresFile, failures)
		// Copies for tooling that reads the aggregate layout.
		write(p.runDir, runs.SummaryFile, summary)
		write(p.runDir, runs.FailuresFile, failures)
	}

	p.logger.Info("run persisted",
		"total", summary.Total,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"success_rate", summary.SuccessRate,
		"output_dir", summary.OutputDir,
	)
	return summary, errors.Join(errs...)
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
