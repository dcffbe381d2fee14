// Package engine runs extraction jobs: it loads source rows, joins upstream
// output, dispatches completion calls in paced batches and hands every
// result to the persister.
//
// Items within a batch run concurrently; batches run one after another with
// a fixed delay between them. Every dispatched item produces exactly one
// result, and per-item failures never abort the run.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/docket/internal/deps"
	"github.com/jackzampolin/docket/internal/extraction"
	"github.com/jackzampolin/docket/internal/home"
	"github.com/jackzampolin/docket/internal/persist"
	"github.com/jackzampolin/docket/internal/providers"
	"github.com/jackzampolin/docket/internal/runs"
	"github.com/jackzampolin/docket/internal/source"
)

// Defaults for engine pacing.
const (
	DefaultBatchDelay    = 500 * time.Millisecond
	DefaultProgressEvery = 10
)

var (
	// ErrNoRows is returned when the source yields nothing to process.
	ErrNoRows = errors.New("source returned no rows")
	// ErrTimeout marks a task that did not finish within the job timeout.
	ErrTimeout = errors.New("timeout")
)

// Config configures an Engine.
type Config struct {
	// Client is the completion client, usually a *providers.RetryingClient.
	Client providers.CompletionClient
	Source source.Provider
	Home   *home.Dir
	// Locator finds upstream runs for dependencies.
	Locator runs.Locator
	// Recorder, when set, stores every finished run.
	Recorder runs.Recorder

	// Model is reported in summaries when the job settings name none.
	Model string

	Concurrency   int
	Timeout       time.Duration
	BatchDelay    time.Duration
	ProgressEvery int

	Logger *slog.Logger
}

// RunOptions tune a single run.
type RunOptions struct {
	// SkipExisting skips items whose streaming output file already exists.
	SkipExisting bool
	// Limit caps the number of source rows. Zero means all.
	Limit int
	// Progress is called at least every ProgressEvery completions and once
	// at the end. Calls are serialised.
	Progress func(Progress)
}

// Report is the outcome of a run.
type Report struct {
	Summary *persist.Summary
	// Results are in input order.
	Results []extraction.Result
	// Interrupted is set when the context was cancelled before every batch
	// was dispatched.
	Interrupted bool
}

// Engine executes JobSpecs. An Engine runs one job at a time.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	runMu    sync.Mutex
	counters counters
}

// New creates an engine, applying defaults.
func New(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, errors.New("completion client is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("source provider is required")
	}
	if cfg.Home == nil {
		return nil, errors.New("home dir is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	if cfg.Locator == nil {
		cfg.Locator = runs.NewDirLocator(cfg.Home)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{cfg: cfg, logger: cfg.Logger}
	e.counters.setState(StateIdle)
	return e, nil
}

// run holds the per-run collaborators.
type run struct {
	spec      JobSpec
	client    providers.CompletionClient
	processor *persist.Processor
	opts      RunOptions
	logger    *slog.Logger

	progressMu sync.Mutex
}

// Run executes spec to completion. It returns an error only when the run
// cannot start: an invalid spec, a failing or empty source, or unusable
// upstream output. Everything after that is reported in the summary.
func (e *Engine) Run(ctx context.Context, spec JobSpec, opts RunOptions) (*Report, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec = spec.withDefaults(e.cfg.Concurrency, e.cfg.Timeout)
	started := time.Now()

	c := &e.counters
	c.reset(spec.ID)
	defer c.setState(StateDone)

	logger := e.logger.With("job", spec.ID)

	client := e.cfg.Client
	if spec.MaxRetries != nil {
		if rc, ok := client.(*providers.RetryingClient); ok {
			client = rc.WithMaxRetries(*spec.MaxRetries)
		}
	}

	model := spec.Settings.Model
	if model == "" {
		model = e.cfg.Model
	}
	processor, err := persist.NewProcessor(persist.Config{
		JobID:       spec.ID,
		Model:       model,
		Mode:        spec.Mode,
		Home:        e.cfg.Home,
		RunID:       home.Timestamp(started),
		Schema:      spec.Schema,
		Postprocess: spec.Postprocess,
		Naming:      spec.Naming,
		Logger:      e.logger,
	})
	if err != nil {
		return nil, err
	}

	r := &run{spec: spec, client: client, processor: processor, opts: opts, logger: logger}

	// Loading
	c.setState(StateLoading)
	rows, err := e.cfg.Source.Rows(ctx, spec.Source.SQL, spec.Source.Params...)
	if err != nil {
		return nil, fmt.Errorf("job %s: load source: %w", spec.ID, err)
	}
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("job %s: %w", spec.ID, ErrNoRows)
	}
	c.total.Store(int64(len(rows)))
	items := buildItems(rows, spec.IDField)
	logger.Info("source loaded", "rows", len(items), "mode", spec.Mode, "concurrency", spec.Concurrency)

	// Enriching
	c.setState(StateEnriching)
	resolver := deps.NewResolver(e.cfg.Locator, spec.Dependencies, logger)
	if err := resolver.Preload(ctx); err != nil {
		return nil, fmt.Errorf("job %s: %w", spec.ID, err)
	}
	enriched := make([]extraction.WorkItem, 0, len(items))
	for _, it := range items {
		out, err := resolver.Resolve(it)
		if err != nil {
			c.dropped.Add(1)
			logger.Debug("item dropped", "correlation_id", it.ID, "index", it.Index, "error", err)
			continue
		}
		enriched = append(enriched, out)
	}

	// Preprocessing
	c.setState(StatePreprocessing)
	ready := make([]extraction.WorkItem, 0, len(enriched))
	for _, it := range enriched {
		if opts.SkipExisting && spec.Mode == runs.ModeStreaming {
			if path := processor.RecordPath(it.ID, r.metadata(it)); path != "" && fileExists(path) {
				c.resumed.Add(1)
				continue
			}
		}
		if spec.Preprocess == nil {
			ready = append(ready, it)
			continue
		}
		out, keep, err := r.preprocess(ctx, it)
		if err != nil || !keep {
			c.skipped.Add(1)
			logger.Debug("item skipped by preprocessing", "correlation_id", it.ID, "index", it.Index, "error", err)
			continue
		}
		ready = append(ready, out)
	}
	if n := c.dropped.Load(); n > 0 {
		logger.Warn("items dropped for unsatisfied dependencies", "count", n)
	}
	if n := c.resumed.Load(); n > 0 {
		logger.Info("items already persisted, skipping", "count", n)
	}

	// Executing
	c.ready.Store(int64(len(ready)))
	c.setState(StateExecuting)
	results, interrupted := e.execute(ctx, r, ready)

	// Finalizing
	c.setState(StateFinalizing)
	stats := persist.RunStats{
		StartedAt:         started,
		DependencyDropped: int(c.dropped.Load()),
		PreprocessSkipped: int(c.skipped.Load()),
		ResumedSkipped:    int(c.resumed.Load()),
	}
	summary, err := processor.Process(results, stats)
	if err != nil {
		logger.Error("failed to write run artifacts", "error", err)
	}
	r.reportProgress(c, true)
	e.record(context.WithoutCancel(ctx), spec, summary, started, logger)

	if interrupted {
		logger.Warn("run interrupted", "dispatched", len(results), "ready", len(ready))
	}
	return &Report{Summary: summary, Results: results, Interrupted: interrupted}, nil
}

// execute runs items in batches of spec.Concurrency. It stops dispatching
// new batches once ctx is cancelled.
func (e *Engine) execute(ctx context.Context, r *run, items []extraction.WorkItem) ([]extraction.Result, bool) {
	c := &e.counters
	size := r.spec.Concurrency
	results := make([]extraction.Result, 0, len(items))

	for start := 0; start < len(items); start += size {
		if ctx.Err() != nil {
			return results, true
		}
		end := min(start+size, len(items))
		batch := items[start:end]
		out := make([]extraction.Result, len(batch))
		c.dispatched.Add(int64(len(batch)))

		var g errgroup.Group
		for i, it := range batch {
			g.Go(func() error {
				res := e.runTask(ctx, r, it)
				out[i] = res
				if res.Success {
					c.succeeded.Add(1)
				} else {
					c.failed.Add(1)
				}
				if r.spec.Mode == runs.ModeStreaming {
					r.processor.Handle(res)
				}
				if n := c.completed.Add(1); n%int64(e.cfg.ProgressEvery) == 0 {
					r.reportProgress(c, false)
				}
				return nil
			})
		}
		_ = g.Wait()
		results = append(results, out...)

		r.logger.Debug("batch complete", "from", start, "to", end, "of", len(items))
		if end < len(items) {
			select {
			case <-ctx.Done():
				return results, true
			case <-time.After(e.cfg.BatchDelay):
			}
		}
	}
	return results, false
}

// runTask races one item against the job timeout. A timed-out call keeps
// running in the background; only the wait is abandoned.
func (e *Engine) runTask(ctx context.Context, r *run, item extraction.WorkItem) extraction.Result {
	done := make(chan extraction.Result, 1)
	go func() {
		done <- r.executeItem(ctx, item)
	}()

	timer := time.NewTimer(r.spec.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res
	case <-timer.C:
		r.logger.Warn("task timed out", "correlation_id", item.ID, "index", item.Index, "timeout", r.spec.Timeout)
		res := extraction.Failed(item, extraction.CategoryRequest, fmt.Errorf("%w after %s", ErrTimeout, r.spec.Timeout))
		res.Metadata = r.metadata(item)
		return res
	}
}

// executeItem performs the standard or custom execution of one item and
// always returns a result, converting panics into failures.
func (r *run) executeItem(ctx context.Context, item extraction.WorkItem) (res extraction.Result) {
	meta := r.metadata(item)
	defer func() {
		if p := recover(); p != nil {
			res = extraction.Failed(item, extraction.CategoryRequest, fmt.Errorf("task panicked: %v", p))
			res.Metadata = meta
		}
	}()

	if r.spec.Execute != nil {
		counting := &usageClient{inner: r.client}
		payload, err := r.spec.Execute(ctx, counting, item)
		usage, model := counting.snapshot()
		if err != nil {
			res = extraction.Failed(item, extraction.CategoryRequest, err)
		} else {
			res = extraction.Result{ID: item.ID, Index: item.Index, Success: true, Payload: payload}
		}
		res.Usage, res.Model, res.Metadata = usage, model, meta
		return res
	}

	messages, err := r.spec.Prompt(item)
	if err != nil {
		res = extraction.Failed(item, extraction.CategoryRequest, fmt.Errorf("build prompt: %w", err))
		res.Metadata = meta
		return res
	}

	resp, err := r.client.Complete(ctx, messages, r.spec.ResponseFormat, r.spec.Settings)
	if err != nil {
		res = extraction.Failed(item, extraction.CategoryRequest, err)
		res.Metadata = meta
		return res
	}

	res = extraction.Result{ID: item.ID, Index: item.Index, Metadata: meta, Usage: resp.Usage, Model: resp.Model}
	if r.spec.ResponseFormat.Structured() {
		payload, err := providers.ParseStructured(resp.Content)
		if err != nil {
			res.Err, res.Category = err.Error(), extraction.CategoryRequest
			return res
		}
		res.Payload = payload
	} else {
		res.Payload = map[string]any{"text": resp.Content}
	}
	res.Success = true
	return res
}

func (r *run) preprocess(ctx context.Context, item extraction.WorkItem) (out extraction.WorkItem, keep bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, keep, err = item, false, fmt.Errorf("preprocess panicked: %v", p)
		}
	}()
	return r.spec.Preprocess(ctx, item.Clone())
}

// metadata evaluates the job's metadata hook, isolating panics.
func (r *run) metadata(item extraction.WorkItem) (meta map[string]any) {
	if r.spec.Metadata == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("metadata hook panicked", "correlation_id", item.ID, "panic", p)
			meta = nil
		}
	}()
	return r.spec.Metadata(item)
}

func (r *run) reportProgress(c *counters, final bool) {
	p := c.progress()
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	r.logger.Info("progress",
		"completed", p.Completed,
		"total", p.Total,
		"succeeded", p.Succeeded,
		"failed", p.Failed,
		"final", final,
	)
	if r.opts.Progress != nil {
		r.opts.Progress(p)
	}
}

// record stores the finished run in the index when one is configured.
func (e *Engine) record(ctx context.Context, spec JobSpec, summary *persist.Summary, started time.Time, logger *slog.Logger) {
	if e.cfg.Recorder == nil || summary == nil {
		return
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		logger.Warn("failed to encode summary for run index", "error", err)
	}
	rec := runs.Record{
		RunID:      summary.RunID,
		JobID:      spec.ID,
		Mode:       spec.Mode,
		Model:      summary.Model,
		StartedAt:  started,
		FinishedAt: summary.ProcessedAt,
		OutputDir:  summary.OutputDir,
		DataDir:    summary.DataDir,
		Total:      summary.Total,
		Successful: summary.Successful,
		Failed:     summary.Failed,
		Summary:    raw,
	}
	if err := e.cfg.Recorder.Record(ctx, rec); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
}

// buildItems turns rows into work items. The correlation id is the id
// field when present, else a random UUID.
func buildItems(rows []map[string]any, idField string) []extraction.WorkItem {
	items := make([]extraction.WorkItem, len(rows))
	for i, row := range rows {
		id := extraction.Stringify(row[idField])
		if id == "" {
			id = uuid.NewString()
		}
		items[i] = extraction.WorkItem{ID: id, Index: i, Fields: row}
	}
	return items
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
