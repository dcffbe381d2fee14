package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackzampolin/docket/internal/deps"
	"github.com/jackzampolin/docket/internal/extraction"
	"github.com/jackzampolin/docket/internal/home"
	"github.com/jackzampolin/docket/internal/providers"
	"github.com/jackzampolin/docket/internal/runs"
	"github.com/jackzampolin/docket/internal/source"
)

const answerSchema = `{
	"type": "object",
	"properties": {"answer": {"type": "string"}},
	"required": ["answer"]
}`

func rowsN(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"id": fmt.Sprintf("r%d", i), "language": "FR"}
	}
	return rows
}

// echoPrompt puts the correlation id in the user message so responders can
// tell items apart.
func echoPrompt(item extraction.WorkItem) ([]providers.Message, error) {
	return []providers.Message{
		{Role: providers.RoleSystem, Content: "extract"},
		{Role: providers.RoleUser, Content: "item:" + item.ID},
	}, nil
}

func itemOf(messages []providers.Message) string {
	for _, m := range messages {
		if strings.HasPrefix(m.Content, "item:") {
			return strings.TrimPrefix(m.Content, "item:")
		}
	}
	return ""
}

// answerWithID responds with the item id as the answer.
func answerWithID(_ context.Context, _ int, messages []providers.Message, _ providers.ResponseFormat) (*providers.Completion, error) {
	return &providers.Completion{
		Content: fmt.Sprintf(`{"answer": %q}`, itemOf(messages)),
		Usage:   providers.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func newTestEngine(t *testing.T, client providers.CompletionClient, rows []map[string]any, mutate func(*Config)) (*Engine, *home.Dir) {
	t.Helper()
	h, err := home.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := Config{
		Client:     client,
		Source:     source.Static{Data: rows},
		Home:       h,
		BatchDelay: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, h
}

func baseSpec() JobSpec {
	return JobSpec{
		ID:     "extract-test",
		Source: Query{SQL: "SELECT * FROM decisions"},
		Prompt: echoPrompt,
		Schema: json.RawMessage(answerSchema),
	}
}

func TestRun_ScenarioTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	client := &providers.MockClient{Respond: func(ctx context.Context, call int, messages []providers.Message, format providers.ResponseFormat) (*providers.Completion, error) {
		if itemOf(messages) == "r3" {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, errors.New("gave up")
		}
		return answerWithID(ctx, call, messages, format)
	}}
	e, _ := newTestEngine(t, client, rowsN(5), nil)

	spec := baseSpec()
	spec.Concurrency = 2
	spec.Timeout = 100 * time.Millisecond

	report, err := e.Run(context.Background(), spec, RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	s := report.Summary
	if s.Successful != 4 || s.Failed != 1 {
		t.Errorf("successful/failed = %d/%d, want 4/1", s.Successful, s.Failed)
	}
	if s.ErrorTypes[extraction.CategoryRequest] != 1 {
		t.Errorf("error types = %v", s.ErrorTypes)
	}

	if len(report.Results) != 5 {
		t.Fatalf("results = %d, want 5", len(report.Results))
	}
	for i, r := range report.Results {
		if r.Index != i || r.ID != fmt.Sprintf("r%d", i) {
			t.Errorf("results[%d] = %s (index %d), input order lost", i, r.ID, r.Index)
		}
	}
	if got := report.Results[3].Err; got != "timeout after 100ms" {
		t.Errorf("timeout error = %q", got)
	}

	var successes []map[string]any
	data, err := os.ReadFile(filepath.Join(s.OutputDir, runs.SuccessfulResultsFile))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &successes); err != nil {
		t.Fatal(err)
	}
	want := []string{"r0", "r1", "r2", "r4"}
	for i, rec := range successes {
		if rec["answer"] != want[i] {
			t.Errorf("successes[%d] = %v, want answer %s", i, rec, want[i])
		}
	}
}

func TestRun_ScenarioRequiredDependency(t *testing.T) {
	client := &providers.MockClient{Respond: answerWithID}
	e, h := newTestEngine(t, client, rowsN(3), nil)

	upstream := filepath.Join(h.RunDir("extract-provisions", "2024-01-01T00-00-00.000Z"), runs.SuccessfulResultsFile)
	if err := os.MkdirAll(filepath.Dir(upstream), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(upstream, []byte(`[{"id": "r0", "provisions": ["a"]}, {"id": "r1", "provisions": ["b"]}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	spec := baseSpec()
	spec.Dependencies = []deps.Declaration{{
		JobID:     "extract-provisions",
		Alias:     "provisions",
		Required:  true,
		MatchKeys: []deps.KeyPair{{Local: "id", Upstream: "id"}},
	}}
	var sawDeps atomic.Int64
	spec.Prompt = func(item extraction.WorkItem) ([]providers.Message, error) {
		if item.Deps["provisions"] != nil {
			sawDeps.Add(1)
		}
		return echoPrompt(item)
	}

	report, err := e.Run(context.Background(), spec, RunOptions{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, msgs := range client.Messages() {
		if itemOf(msgs) == "r2" {
			t.Error("row without its required dependency was dispatched")
		}
	}
	if client.Calls() != 2 || sawDeps.Load() != 2 {
		t.Errorf("calls = %d, enriched prompts = %d", client.Calls(), sawDeps.Load())
	}
	s := report.Summary
	if s.DependencyDropped != 1 || s.Total != 2 {
		t.Errorf("dropped/total = %d/%d", s.DependencyDropped, s.Total)
	}
	if s.Tokens.Total != 30 {
		t.Errorf("token total = %d, want 30", s.Tokens.Total)
	}
}

func TestRun_ScenarioStreamingRerun(t *testing.T) {
	client := &providers.MockClient{Respond: answerWithID}
	e, h := newTestEngine(t, client, rowsN(100), func(c *Config) { c.Concurrency = 16 })

	spec := baseSpec()
	spec.Mode = runs.ModeStreaming
	spec.Metadata = func(item extraction.WorkItem) map[string]any {
		return map[string]any{"decision_id": item.ID, "language": item.String("language")}
	}

	// Interrupted run: only the first 50 rows got through.
	if _, err := e.Run(context.Background(), spec, RunOptions{Limit: 50}); err != nil {
		t.Fatal(err)
	}
	report, err := e.Run(context.Background(), spec, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Summary.Successful != 100 {
		t.Errorf("second run successful = %d", report.Summary.Successful)
	}

	entries, err := os.ReadDir(h.RecordsDir(spec.ID))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 100 {
		t.Errorf("record files = %d, want 100", len(entries))
	}
	if _, err := os.Stat(filepath.Join(h.RecordsDir(spec.ID), "r7_FR.json")); err != nil {
		t.Errorf("record named by decision and language missing: %v", err)
	}
}

func TestRun_Resume(t *testing.T) {
	client := &providers.MockClient{Respond: answerWithID}
	e, _ := newTestEngine(t, client, rowsN(30), nil)

	spec := baseSpec()
	spec.Mode = runs.ModeStreaming
	spec.Metadata = func(item extraction.WorkItem) map[string]any {
		return map[string]any{"id": item.ID}
	}

	if _, err := e.Run(context.Background(), spec, RunOptions{Limit: 10}); err != nil {
		t.Fatal(err)
	}
	before := client.Calls()

	report, err := e.Run(context.Background(), spec, RunOptions{SkipExisting: true})
	if err != nil {
		t.Fatal(err)
	}
	if got := client.Calls() - before; got != 20 {
		t.Errorf("resumed run made %d calls, want 20", got)
	}
	if report.Summary.ResumedSkipped != 10 {
		t.Errorf("resumed_skipped = %d", report.Summary.ResumedSkipped)
	}
}

func TestRun_InputOrderUnderJitter(t *testing.T) {
	client := &providers.MockClient{Respond: func(ctx context.Context, call int, messages []providers.Message, format providers.ResponseFormat) (*providers.Completion, error) {
		time.Sleep(time.Duration((call*7)%5) * time.Millisecond)
		return answerWithID(ctx, call, messages, format)
	}}
	e, _ := newTestEngine(t, client, rowsN(23), nil)

	spec := baseSpec()
	spec.Concurrency = 4

	report, err := e.Run(context.Background(), spec, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if client.Calls() != 23 || len(report.Results) != 23 {
		t.Fatalf("calls = %d, results = %d", client.Calls(), len(report.Results))
	}
	seen := make(map[int]bool)
	for i, r := range report.Results {
		if seen[r.Index] {
			t.Errorf("index %d produced more than one result", r.Index)
		}
		seen[r.Index] = true
		if r.Payload["answer"] != fmt.Sprintf("r%d", i) {
			t.Errorf("results[%d] answer = %v", i, r.Payload["answer"])
		}
	}
}

func TestRun_CustomExecuteSumsUsage(t *testing.T) {
	client := providers.NewMockClient(`{"answer": "x"}`)
	e, _ := newTestEngine(t, client, rowsN(2), nil)

	spec := baseSpec()
	spec.Prompt = nil
	spec.Execute = func(ctx context.Context, c providers.CompletionClient, item extraction.WorkItem) (map[string]any, error) {
		first, err := c.Complete(ctx, []providers.Message{{Role: providers.RoleUser, Content: "narrow"}}, providers.TextFormat(), providers.Settings{})
		if err != nil {
			return nil, err
		}
		second, err := c.Complete(ctx, []providers.Message{{Role: providers.RoleUser, Content: first.Content}}, providers.JSONSchemaFormat("x", json.RawMessage(answerSchema)), providers.Settings{})
		if err != nil {
			return nil, err
		}
		return providers.ParseStructured(second.Content)
	}

	report, err := e.Run(context.Background(), spec, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if client.Calls() != 4 {
		t.Errorf("calls = %d, want 4", client.Calls())
	}
	for _, r := range report.Results {
		if r.Usage.TotalTokens != 30 {
			t.Errorf("usage = %+v, want both calls summed", r.Usage)
		}
	}
	if report.Summary.Tokens.Total != 60 {
		t.Errorf("summary tokens = %d", report.Summary.Tokens.Total)
	}
}

func TestRun_FailuresAreValues(t *testing.T) {
	t.Run("prompt panic", func(t *testing.T) {
		client := &providers.MockClient{Respond: answerWithID}
		e, _ := newTestEngine(t, client, rowsN(3), nil)
		spec := baseSpec()
		spec.Prompt = func(item extraction.WorkItem) ([]providers.Message, error) {
			if item.ID == "r1" {
				panic("bad row")
			}
			return echoPrompt(item)
		}
		report, err := e.Run(context.Background(), spec, RunOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if report.Summary.Successful != 2 || !strings.Contains(report.Results[1].Err, "panicked") {
			t.Errorf("unexpected results %+v", report.Results)
		}
	})

	t.Run("unparseable structured output", func(t *testing.T) {
		client := providers.NewMockClient("I cannot answer that")
		e, _ := newTestEngine(t, client, rowsN(1), nil)
		report, err := e.Run(context.Background(), baseSpec(), RunOptions{})
		if err != nil {
			t.Fatal(err)
		}
		r := report.Results[0]
		if r.Success || r.Category != extraction.CategoryRequest || r.Usage.TotalTokens != 15 {
			t.Errorf("unexpected result %+v", r)
		}
	})

	t.Run("schema violation", func(t *testing.T) {
		client := providers.NewMockClient(`{"other": 1}`)
		e, _ := newTestEngine(t, client, rowsN(1), nil)
		report, err := e.Run(context.Background(), baseSpec(), RunOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if report.Summary.ValidationFailures != 1 {
			t.Errorf("validation failures = %d", report.Summary.ValidationFailures)
		}
	})

	t.Run("preprocess skip", func(t *testing.T) {
		client := &providers.MockClient{Respond: answerWithID}
		e, _ := newTestEngine(t, client, rowsN(4), nil)
		spec := baseSpec()
		spec.Preprocess = func(_ context.Context, item extraction.WorkItem) (extraction.WorkItem, bool, error) {
			switch item.ID {
			case "r0":
				return item, false, nil
			case "r1":
				return item, false, errors.New("no text")
			}
			item.Derived = map[string]any{"ok": true}
			return item, true, nil
		}
		report, err := e.Run(context.Background(), spec, RunOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if report.Summary.PreprocessSkipped != 2 || client.Calls() != 2 {
			t.Errorf("skipped = %d, calls = %d", report.Summary.PreprocessSkipped, client.Calls())
		}
	})
}

func TestRun_TextFormat(t *testing.T) {
	client := providers.NewMockClient("free text")
	e, _ := newTestEngine(t, client, rowsN(1), nil)
	spec := baseSpec()
	spec.Schema = nil
	report, err := e.Run(context.Background(), spec, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Results[0].Payload["text"] != "free text" {
		t.Errorf("payload = %v", report.Results[0].Payload)
	}
}

func TestRun_MaxRetriesOverride(t *testing.T) {
	mock := &providers.MockClient{Respond: func(context.Context, int, []providers.Message, providers.ResponseFormat) (*providers.Completion, error) {
		return nil, &providers.RateLimitError{Message: "slow down", StatusCode: 429}
	}}
	client := providers.WithRetry(mock, providers.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}, nil)
	e, _ := newTestEngine(t, client, rowsN(1), nil)

	spec := baseSpec()
	one := 1
	spec.MaxRetries = &one

	report, err := e.Run(context.Background(), spec, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if mock.Calls() != 2 {
		t.Errorf("calls = %d, want 2", mock.Calls())
	}
	if report.Summary.Failed != 1 {
		t.Errorf("failed = %d", report.Summary.Failed)
	}
}

func TestRun_CancelStopsDispatch(t *testing.T) {
	client := &providers.MockClient{Respond: answerWithID}
	e, _ := newTestEngine(t, client, rowsN(5), func(c *Config) { c.ProgressEvery = 1 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spec := baseSpec()
	spec.Concurrency = 1
	report, err := e.Run(ctx, spec, RunOptions{Progress: func(p Progress) {
		if p.Completed >= 1 {
			cancel()
		}
	}})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Interrupted || len(report.Results) != 1 {
		t.Errorf("interrupted = %v, results = %d", report.Interrupted, len(report.Results))
	}
	if report.Summary == nil || report.Summary.Total != 1 {
		t.Errorf("summary should cover completed work: %+v", report.Summary)
	}
}

func TestRun_ProgressAndStatus(t *testing.T) {
	client := &providers.MockClient{Respond: answerWithID}
	e, _ := newTestEngine(t, client, rowsN(25), nil)

	spec := baseSpec()
	spec.Concurrency = 5

	var calls []Progress
	report, err := e.Run(context.Background(), spec, RunOptions{Progress: func(p Progress) { calls = append(calls, p) }})
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 3 {
		t.Errorf("progress calls = %d, want 3 (10, 20, final)", len(calls))
	}
	for i, p := range calls {
		if p.Total != 25 {
			t.Errorf("progress %d total = %d, want all 25 ready rows", i, p.Total)
		}
	}
	if last := calls[len(calls)-1]; last.Completed != 25 || last.Succeeded != 25 {
		t.Errorf("final progress = %+v", last)
	}

	status, err := e.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status["state"] != string(StateDone) || status["completed"] != "25" || status["ready"] != "25" || status["job"] != "extract-test" {
		t.Errorf("status = %v", status)
	}
	if report.Summary.Total != 25 {
		t.Errorf("total = %d", report.Summary.Total)
	}
}

type recorder struct{ recs []runs.Record }

func (r *recorder) Record(_ context.Context, rec runs.Record) error {
	r.recs = append(r.recs, rec)
	return nil
}

func TestRun_RecordsRun(t *testing.T) {
	rec := &recorder{}
	client := &providers.MockClient{Respond: answerWithID}
	e, _ := newTestEngine(t, client, rowsN(2), func(c *Config) { c.Recorder = rec; c.Model = "gpt-4.1-mini" })

	report, err := e.Run(context.Background(), baseSpec(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.recs) != 1 {
		t.Fatalf("records = %d", len(rec.recs))
	}
	got := rec.recs[0]
	if got.RunID != report.Summary.RunID || got.Successful != 2 || got.Mode != runs.ModeAggregate || got.Model != "gpt-4.1-mini" {
		t.Errorf("unexpected record %+v", got)
	}
	if len(got.Summary) == 0 {
		t.Error("summary not attached")
	}
}

func TestRun_InitErrors(t *testing.T) {
	client := providers.NewMockClient(`{}`)

	t.Run("empty source", func(t *testing.T) {
		e, _ := newTestEngine(t, client, nil, nil)
		if _, err := e.Run(context.Background(), baseSpec(), RunOptions{}); !errors.Is(err, ErrNoRows) {
			t.Errorf("error = %v, want ErrNoRows", err)
		}
	})

	t.Run("missing upstream", func(t *testing.T) {
		e, _ := newTestEngine(t, client, rowsN(1), nil)
		spec := baseSpec()
		spec.Dependencies = []deps.Declaration{{JobID: "nowhere", Alias: "x", MatchKeys: []deps.KeyPair{{Local: "id", Upstream: "id"}}}}
		if _, err := e.Run(context.Background(), spec, RunOptions{}); !errors.Is(err, runs.ErrNoRun) {
			t.Errorf("error = %v, want ErrNoRun", err)
		}
	})

	t.Run("invalid spec", func(t *testing.T) {
		e, _ := newTestEngine(t, client, rowsN(1), nil)
		spec := baseSpec()
		spec.Execute = func(context.Context, providers.CompletionClient, extraction.WorkItem) (map[string]any, error) { return nil, nil }
		if _, err := e.Run(context.Background(), spec, RunOptions{}); err == nil {
			t.Error("spec with both Prompt and Execute must be rejected")
		}
	})

	t.Run("engine config", func(t *testing.T) {
		if _, err := New(Config{}); err == nil {
			t.Error("missing client should fail")
		}
	})
}

func TestJobSpec_Validate(t *testing.T) {
	valid := baseSpec()
	tests := []struct {
		name   string
		mutate func(*JobSpec)
	}{
		{"no id", func(s *JobSpec) { s.ID = "" }},
		{"no query", func(s *JobSpec) { s.Source.SQL = "" }},
		{"no prompt", func(s *JobSpec) { s.Prompt = nil }},
		{"bad mode", func(s *JobSpec) { s.Mode = "batch" }},
		{"negative concurrency", func(s *JobSpec) { s.Concurrency = -1 }},
		{"structured without schema", func(s *JobSpec) {
			s.Schema = nil
			s.ResponseFormat = providers.ResponseFormat{Kind: providers.FormatJSONSchema}
		}},
		{"duplicate alias", func(s *JobSpec) {
			d := deps.Declaration{JobID: "a", Alias: "x", MatchKeys: []deps.KeyPair{{Local: "id", Upstream: "id"}}}
			s.Dependencies = []deps.Declaration{d, d}
		}},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("base spec invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseSpec()
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	d := valid.withDefaults(0, 0)
	if d.Concurrency != DefaultConcurrency || d.Timeout != DefaultTimeout || d.Mode != runs.ModeAggregate || !d.ResponseFormat.Structured() {
		t.Errorf("defaults not applied: %+v", d)
	}
}
