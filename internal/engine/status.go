package engine

import (
	"context"
	"strconv"
	"sync/atomic"
)

// State is the phase of a run.
type State string

const (
	StateIdle          State = "idle"
	StateLoading       State = "loading"
	StateEnriching     State = "enriching"
	StatePreprocessing State = "preprocessing"
	StateExecuting     State = "executing"
	StateFinalizing    State = "finalizing"
	StateDone          State = "done"
)

// Progress is a snapshot passed to RunOptions.Progress.
type Progress struct {
	JobID     string `json:"job_id"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// counters are updated from task goroutines.
type counters struct {
	state      atomic.Value // State
	job        atomic.Value // string
	total      atomic.Int64
	ready      atomic.Int64
	dispatched atomic.Int64
	completed  atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
	skipped    atomic.Int64
	resumed    atomic.Int64
}

func (c *counters) reset(jobID string) {
	c.job.Store(jobID)
	c.total.Store(0)
	c.ready.Store(0)
	c.dispatched.Store(0)
	c.completed.Store(0)
	c.succeeded.Store(0)
	c.failed.Store(0)
	c.dropped.Store(0)
	c.skipped.Store(0)
	c.resumed.Store(0)
}

func (c *counters) setState(s State) {
	c.state.Store(s)
}

func (c *counters) current() State {
	if s, ok := c.state.Load().(State); ok {
		return s
	}
	return StateIdle
}

func (c *counters) progress() Progress {
	job, _ := c.job.Load().(string)
	return Progress{
		JobID:     job,
		Completed: int(c.completed.Load()),
		Total:     int(c.ready.Load()),
		Succeeded: int(c.succeeded.Load()),
		Failed:    int(c.failed.Load()),
	}
}

// Status returns the current run state as key/value pairs.
func (e *Engine) Status(ctx context.Context) (map[string]string, error) {
	c := &e.counters
	job, _ := c.job.Load().(string)
	return map[string]string{
		"state":              string(c.current()),
		"job":                job,
		"rows":               strconv.FormatInt(c.total.Load(), 10),
		"ready":              strconv.FormatInt(c.ready.Load(), 10),
		"dispatched":         strconv.FormatInt(c.dispatched.Load(), 10),
		"completed":          strconv.FormatInt(c.completed.Load(), 10),
		"succeeded":          strconv.FormatInt(c.succeeded.Load(), 10),
		"failed":             strconv.FormatInt(c.failed.Load(), 10),
		"dependency_dropped": strconv.FormatInt(c.dropped.Load(), 10),
		"preprocess_skipped": strconv.FormatInt(c.skipped.Load(), 10),
		"resumed_skipped":    strconv.FormatInt(c.resumed.Load(), 10),
	}, nil
}
