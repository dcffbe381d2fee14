// Package runs finds the output of earlier job runs so that downstream jobs
// can consume it, and records finished runs in a queryable index.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNoRun is returned when a job has no usable output yet.
var ErrNoRun = errors.New("no run found")

// Mode is the shape of a run's output.
type Mode string

const (
	// ModeAggregate runs write one array file of successful records.
	ModeAggregate Mode = "aggregate"
	// ModeStreaming runs write one file per record into a directory.
	ModeStreaming Mode = "streaming"
)

// Artifact file names inside a run directory.
const (
	AllResultsFile        = "all-results.json"
	SuccessfulResultsFile = "successful-results.json"
	ExtractedDataFile     = "extracted-data.json"
	FailuresFile          = "failures.json"
	SummaryFile           = "summary.json"
)

// Handle points at the output of one run.
type Handle struct {
	JobID     string    `json:"job_id"`
	RunID     string    `json:"run_id,omitempty"`
	Mode      Mode      `json:"mode"`
	Path      string    `json:"path"` // array file for aggregate, records dir for streaming
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Locator finds the most recent usable run of a job.
type Locator interface {
	Latest(ctx context.Context, jobID string) (Handle, error)
}

// Recorder persists a finished run.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Record describes a finished run for the index.
type Record struct {
	RunID      string    `json:"run_id"`
	JobID      string    `json:"job_id"`
	Mode       Mode      `json:"mode"`
	Model      string    `json:"model"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	OutputDir  string    `json:"output_dir"`
	DataDir    string    `json:"data_dir,omitempty"`
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	Summary    []byte    `json:"-"`
}

// Handle converts the record into a locator handle.
func (r Record) Handle() Handle {
	h := Handle{JobID: r.JobID, RunID: r.RunID, Mode: r.Mode, Timestamp: r.FinishedAt}
	if r.Mode == ModeStreaming {
		h.Path = r.DataDir
	} else {
		h.Path = filepath.Join(r.OutputDir, SuccessfulResultsFile)
	}
	return h
}

// Load reads every record of a run. Callers do not need to know which mode
// produced it. Streaming records are returned in filename order.
func Load(ctx context.Context, h Handle) ([]map[string]any, error) {
	switch h.Mode {
	case ModeAggregate:
		data, err := os.ReadFile(h.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", h.Path, err)
		}
		var records []map[string]any
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("decode %s: %w", h.Path, err)
		}
		return records, nil

	case ModeStreaming:
		entries, err := os.ReadDir(h.Path)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", h.Path, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)

		records := make([]map[string]any, 0, len(names))
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			path := filepath.Join(h.Path, name)
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			var rec map[string]any
			if err := json.Unmarshal(data, &rec); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
			records = append(records, rec)
		}
		return records, nil

	default:
		return nil, fmt.Errorf("unknown run mode %q", h.Mode)
	}
}

// FirstOf returns a locator that tries each locator in turn and returns the
// first handle found.
func FirstOf(locators ...Locator) Locator {
	return chain(locators)
}

type chain []Locator

func (c chain) Latest(ctx context.Context, jobID string) (Handle, error) {
	for _, l := range c {
		if l == nil {
			continue
		}
		h, err := l.Latest(ctx, jobID)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, ErrNoRun) {
			return Handle{}, err
		}
	}
	return Handle{}, fmt.Errorf("%w for job %s", ErrNoRun, jobID)
}
