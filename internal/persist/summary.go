package persist

import (
	"fmt"
	"math"
	"time"
)

// Summary is written at the end of every run, even when every item failed.
type Summary struct {
	ProcessedAt        time.Time      `json:"processed_at"`
	JobID              string         `json:"job_id"`
	RunID              string         `json:"run_id"`
	Model              string         `json:"model"`
	Mode               string         `json:"mode"`
	Total              int            `json:"total"`
	Successful         int            `json:"successful"`
	Failed             int            `json:"failed"`
	ValidationFailures int            `json:"validation_failures"`
	Tokens             TokenSummary   `json:"tokens"`
	SuccessRate        string         `json:"success_rate"`
	OutputDir          string         `json:"output_dir"`
	DataDir            string         `json:"data_dir,omitempty"`
	ErrorTypes         map[string]int `json:"error_types"`
	DependencyDropped  int            `json:"dependency_dropped"`
	PreprocessSkipped  int            `json:"preprocess_skipped"`
	ResumedSkipped     int            `json:"resumed_skipped"`
	DurationSeconds    float64        `json:"duration_seconds"`
}

// TokenSummary totals token usage over dispatched items.
type TokenSummary struct {
	Total      int     `json:"total"`
	Prompt     int     `json:"prompt"`
	Completion int     `json:"completion"`
	Average    float64 `json:"average"`
}

// RunStats are the counters the engine collects before anything reaches
// the persister.
type RunStats struct {
	StartedAt         time.Time
	DependencyDropped int
	PreprocessSkipped int
	ResumedSkipped    int
}

// SuccessRate formats successful/total as a percentage with two decimals.
func SuccessRate(successful, total int) string {
	if total == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", float64(successful)*100/float64(total))
}

func average(total, n int) float64 {
	if n == 0 {
		return 0
	}
	return math.Round(float64(total)/float64(n)*100) / 100
}
