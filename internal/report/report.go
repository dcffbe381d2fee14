// Package report summarises the output of finished extraction runs.
package report

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/jackzampolin/docket/internal/extraction"
	"github.com/jackzampolin/docket/internal/runs"
)

// Defaults for cited-provision statistics.
const (
	DefaultListField = "citedProvisions"
	DefaultTop       = 10
	unknownID        = "Unknown"
)

// DecisionCount is the number of list entries one record holds.
type DecisionCount struct {
	Rank       int    `json:"rank"`
	ID         string `json:"id"`
	DecisionID string `json:"decision_id"`
	Language   string `json:"language,omitempty"`
	Count      int    `json:"count"`
}

// Stats aggregates list sizes across the records of a run.
type Stats struct {
	JobID    string          `json:"job_id,omitempty"`
	RunID    string          `json:"run_id,omitempty"`
	Field    string          `json:"field"`
	Analyzed int             `json:"analyzed"`
	Total    int             `json:"total"`
	Average  float64         `json:"average"`
	Empty    int             `json:"empty"`
	Max      int             `json:"max"`
	Top      []DecisionCount `json:"top"`
}

// Options tune Compute. Zero values select the defaults.
type Options struct {
	Field string
	Top   int
}

func (o Options) withDefaults() Options {
	if o.Field == "" {
		o.Field = DefaultListField
	}
	if o.Top <= 0 {
		o.Top = DefaultTop
	}
	return o
}

// Compute counts the entries of the list field in every record and ranks
// records by that count, largest first. Ties keep record order. A record
// without the field counts as zero.
func Compute(records []map[string]any, opts Options) Stats {
	opts = opts.withDefaults()
	counts := make([]DecisionCount, 0, len(records))
	st := Stats{Field: opts.Field, Analyzed: len(records)}

	for _, rec := range records {
		n := listLen(rec, opts.Field)
		st.Total += n
		if n == 0 {
			st.Empty++
		}
		if n > st.Max {
			st.Max = n
		}
		counts = append(counts, DecisionCount{
			ID:         orUnknown(extraction.Stringify(rec["id"])),
			DecisionID: orUnknown(extraction.Stringify(rec["decision_id"])),
			Language:   extraction.Stringify(rec["language"]),
			Count:      n,
		})
	}
	if st.Analyzed > 0 {
		st.Average = math.Round(float64(st.Total)/float64(st.Analyzed)*100) / 100
	}

	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	if len(counts) > opts.Top {
		counts = counts[:opts.Top]
	}
	for i := range counts {
		counts[i].Rank = i + 1
	}
	st.Top = counts
	return st
}

// ForJob loads the latest run of jobID and computes its statistics.
func ForJob(ctx context.Context, loc runs.Locator, jobID string, opts Options) (Stats, error) {
	h, err := loc.Latest(ctx, jobID)
	if err != nil {
		return Stats{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	records, err := runs.Load(ctx, h)
	if err != nil {
		return Stats{}, err
	}
	st := Compute(records, opts)
	st.JobID, st.RunID = jobID, h.RunID
	return st, nil
}

// ForDir computes statistics over a directory of per-record JSON files.
func ForDir(ctx context.Context, dir string, opts Options) (Stats, error) {
	records, err := runs.Load(ctx, runs.Handle{Mode: runs.ModeStreaming, Path: dir})
	if err != nil {
		return Stats{}, err
	}
	return Compute(records, opts), nil
}

func listLen(rec map[string]any, field string) int {
	if list, ok := rec[field].([]any); ok {
		return len(list)
	}
	if data, ok := rec["data"].(map[string]any); ok {
		if list, ok := data[field].([]any); ok {
			return len(list)
		}
	}
	return 0
}

func orUnknown(s string) string {
	if s == "" {
		return unknownID
	}
	return s
}
