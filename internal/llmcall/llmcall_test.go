package llmcall

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/docket/internal/providers"
	"github.com/jackzampolin/docket/internal/sqlitedb"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(context.Background(), sqlitedb.Memory)
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPromptHash(t *testing.T) {
	a := []providers.Message{{Role: providers.RoleSystem, Content: "sys"}, {Role: providers.RoleUser, Content: "hi"}}
	b := []providers.Message{{Role: providers.RoleSystem, Content: "sys"}, {Role: providers.RoleUser, Content: "hi"}}
	c := []providers.Message{{Role: providers.RoleSystem, Content: "syshi"}}

	if PromptHash(a) != PromptHash(b) {
		t.Error("equal message lists should hash equally")
	}
	if PromptHash(a) == PromptHash(c) {
		t.Error("message boundaries should affect the hash")
	}
	if len(PromptHash(nil)) != 64 {
		t.Errorf("expected hex sha256, got %q", PromptHash(nil))
	}
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.UnixMilli(1_700_000_000_000)
	calls := []Call{
		{ID: "a", Timestamp: base, JobID: "job-1", Provider: "openai", Model: "m", PromptHash: "h1", Format: "text", InputTokens: 10, OutputTokens: 5, Success: true},
		{ID: "b", Timestamp: base.Add(time.Second), JobID: "job-1", Provider: "openai", PromptHash: "h2", Format: "json_schema", Success: false, Error: "rate limited", RateLimited: true},
		{ID: "c", Timestamp: base.Add(2 * time.Second), JobID: "job-2", Provider: "mock", PromptHash: "h3", Format: "text", InputTokens: 1, OutputTokens: 1, Success: true},
	}
	if err := s.Insert(ctx, calls); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	// Re-inserting the same IDs is a no-op.
	if err := s.Insert(ctx, calls[:1]); err != nil {
		t.Fatalf("Insert() duplicate error = %v", err)
	}

	t.Run("list all newest first", func(t *testing.T) {
		got, err := s.List(ctx, QueryFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 || got[0].ID != "c" || got[2].ID != "a" {
			t.Fatalf("unexpected order: %+v", got)
		}
		if !got[2].Timestamp.Equal(base) || got[2].Model != "m" || !got[2].Success {
			t.Errorf("fields did not round trip: %+v", got[2])
		}
		if !got[1].RateLimited || got[1].Error != "rate limited" {
			t.Errorf("failure fields did not round trip: %+v", got[1])
		}
	})

	t.Run("filters", func(t *testing.T) {
		failed := false
		tests := []struct {
			name   string
			filter QueryFilter
			want   int
		}{
			{"by job", QueryFilter{JobID: "job-1"}, 2},
			{"by provider", QueryFilter{Provider: "mock"}, 1},
			{"failures", QueryFilter{Success: &failed}, 1},
			{"limit", QueryFilter{Limit: 2}, 2},
			{"no match", QueryFilter{JobID: "nope"}, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.List(ctx, tt.filter)
				if err != nil {
					t.Fatal(err)
				}
				if len(got) != tt.want {
					t.Errorf("got %d calls, want %d", len(got), tt.want)
				}
			})
		}
	})

	t.Run("totals", func(t *testing.T) {
		got, err := s.Totals(ctx, "job-1")
		if err != nil {
			t.Fatal(err)
		}
		want := Totals{Calls: 2, Failed: 1, RateLimited: 1, InputTokens: 10, OutputTokens: 5}
		if got != want {
			t.Errorf("Totals() = %+v, want %+v", got, want)
		}

		all, err := s.Totals(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if all.Calls != 3 || all.InputTokens != 11 {
			t.Errorf("Totals(all) = %+v", all)
		}
	})
}

type memWriter struct {
	mu      sync.Mutex
	batches [][]Call
}

func (w *memWriter) Insert(_ context.Context, calls []Call) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, calls)
	return nil
}

func (w *memWriter) total() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func TestRecorder(t *testing.T) {
	t.Run("flushes by size and on stop", func(t *testing.T) {
		w := &memWriter{}
		r := NewRecorder(RecorderConfig{Writer: w, BatchSize: 2, FlushInterval: time.Hour})
		r.Start(context.Background())

		for i := 0; i < 5; i++ {
			r.Record(Call{ID: string(rune('a' + i))})
		}
		r.Stop()

		if w.total() != 5 {
			t.Fatalf("expected 5 calls written, got %d", w.total())
		}
		if len(w.batches) != 3 {
			t.Errorf("expected batches of 2,2,1, got %d batches", len(w.batches))
		}
	})

	t.Run("flushes on interval", func(t *testing.T) {
		w := &memWriter{}
		r := NewRecorder(RecorderConfig{Writer: w, BatchSize: 100, FlushInterval: 10 * time.Millisecond})
		r.Start(context.Background())
		defer r.Stop()

		r.Record(Call{ID: "x"})
		deadline := time.Now().Add(2 * time.Second)
		for w.total() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if w.total() != 1 {
			t.Errorf("expected interval flush, got %d calls", w.total())
		}
	})

	t.Run("record after stop is dropped", func(t *testing.T) {
		w := &memWriter{}
		r := NewRecorder(RecorderConfig{Writer: w})
		r.Start(context.Background())
		r.Stop()
		r.Stop()

		r.Record(Call{ID: "late"})
		if w.total() != 0 {
			t.Errorf("expected no writes, got %d", w.total())
		}
	})

	t.Run("nil recorder is a no-op", func(t *testing.T) {
		var r *Recorder
		r.Record(Call{ID: "x"})
	})

	t.Run("cancelled parent still flushes", func(t *testing.T) {
		s := openTestStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		r := NewRecorder(RecorderConfig{Writer: s, FlushInterval: time.Hour})
		r.Start(ctx)
		r.Record(Call{ID: "kept", Timestamp: time.Now(), Provider: "mock", PromptHash: "h", Format: "text", Success: true})
		cancel()
		r.Stop()

		got, err := s.List(context.Background(), QueryFilter{})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Errorf("expected the queued call to be written, got %d", len(got))
		}
	})
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	r := NewRecorder(RecorderConfig{Writer: s, FlushInterval: time.Hour})
	r.Start(ctx)

	mock := &providers.MockClient{
		Respond: func(_ context.Context, call int, _ []providers.Message, _ providers.ResponseFormat) (*providers.Completion, error) {
			if call == 1 {
				return nil, &providers.RateLimitError{StatusCode: 429, Message: "slow down"}
			}
			if call == 2 {
				return nil, errors.New("boom")
			}
			return &providers.Completion{
				Content: `{"ok":true}`,
				Model:   "mock-large",
				Usage:   providers.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15},
			}, nil
		},
	}

	client := Middleware(r, Options{JobID: "extract-provisions"})("primary", mock)
	if client.Name() != providers.MockName {
		t.Errorf("Name() = %q", client.Name())
	}

	msgs := []providers.Message{{Role: providers.RoleUser, Content: "cite"}}
	format := providers.JSONSchemaFormat("x", []byte(`{}`))
	for i := 0; i < 3; i++ {
		client.Complete(ctx, msgs, format, providers.Settings{Model: "mock-small"})
	}
	r.Stop()

	calls, err := s.List(ctx, QueryFilter{JobID: "extract-provisions"})
	if err != nil {
		t.Fatal(err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(calls))
	}

	var ok, limited, failed int
	for _, c := range calls {
		if c.PromptHash != PromptHash(msgs) || c.Format != "json_schema" || c.Provider != providers.MockName {
			t.Errorf("unexpected call metadata: %+v", c)
		}
		switch {
		case c.Success:
			ok++
			if c.Model != "mock-large" || c.InputTokens != 12 || c.OutputTokens != 3 {
				t.Errorf("unexpected success record: %+v", c)
			}
		case c.RateLimited:
			limited++
			if c.Model != "mock-small" {
				t.Errorf("failed call should keep the requested model, got %q", c.Model)
			}
		default:
			failed++
			if c.Error != "boom" {
				t.Errorf("unexpected error text %q", c.Error)
			}
		}
	}
	if ok != 1 || limited != 1 || failed != 1 {
		t.Errorf("got ok=%d limited=%d failed=%d", ok, limited, failed)
	}
}
