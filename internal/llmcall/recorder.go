package llmcall

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Writer persists a batch of calls. *Store implements it.
type Writer interface {
	Insert(ctx context.Context, calls []Call) error
}

var _ Writer = (*Store)(nil)

// RecorderConfig configures the batching recorder.
type RecorderConfig struct {
	Writer        Writer
	BatchSize     int           // Flush after N calls (default: 100)
	FlushInterval time.Duration // Or after duration (default: 5s)
	QueueSize     int           // Buffer size (default: 1000)
	Logger        *slog.Logger
}

// Recorder batches call records and writes them in the background.
type Recorder struct {
	writer Writer
	logger *slog.Logger

	batchSize     int
	flushInterval time.Duration

	queue chan Call
	batch []Call
	done  chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewRecorder creates a recorder. Call Start before recording.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Recorder{
		writer:        cfg.Writer,
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		queue:         make(chan Call, cfg.QueueSize),
		batch:         make([]Call, 0, cfg.BatchSize),
		done:          make(chan struct{}),
	}
}

// Start begins processing queued calls. Writes use a context detached from
// ctx's cancellation so an interrupted run still persists what it recorded.
func (r *Recorder) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))

	r.wg.Add(1)
	go r.run()
}

// Stop flushes remaining calls and shuts the recorder down.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.queue)
		r.wg.Wait()
		if r.cancel != nil {
			r.cancel()
		}
		close(r.done)
	})
}

// Record queues a call (fire-and-forget).
func (r *Recorder) Record(call Call) {
	if r == nil {
		return
	}

	// Record may race with Stop; a send on the closed queue drops the call.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("recorder closed, dropping call", "id", call.ID)
		}
	}()

	select {
	case r.queue <- call:
	default:
		select {
		case r.queue <- call:
		case <-r.done:
			r.logger.Warn("recorder closed, dropping call", "id", call.ID)
		}
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case call, ok := <-r.queue:
			if !ok {
				r.flush()
				return
			}
			r.batch = append(r.batch, call)
			if len(r.batch) >= r.batchSize {
				r.flush()
			}
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Recorder) flush() {
	if len(r.batch) == 0 {
		return
	}
	calls := r.batch
	r.batch = make([]Call, 0, r.batchSize)

	r.logger.Debug("flushing call log", "count", len(calls))
	if err := r.writer.Insert(r.ctx, calls); err != nil {
		r.logger.Warn("failed to write call log", "count", len(calls), "error", err)
	}
}
