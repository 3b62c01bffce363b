// ============================================================================
// Sweep Worker Pool - concurrent account executor
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
// Function: run N workers against one shared account Source
//
// Design:
//   Pull model. Workers take accounts from the Source themselves, so there is
//   no dispatcher goroutine and no task channel to close. The pool ends when
//   every worker has returned.
//
// Architecture:
//   ┌─────────────┐
//   │ Controller  │ --Start(ctx)--> Pool --Wait()--> Summary
//   └─────────────┘
//                     ┌────────┐
//   Source.Next() <── │Worker 0│ ──> Processor.Process() ──> RunStats
//   Source.Next() <── │Worker 1│ ──> Processor.Process() ──> RunStats
//                     └────────┘
//
// Lifecycle:
//   1. NewPool() - wire Source, Processor and RunStats
//   2. Start(ctx) - launch cfg.Workers goroutines
//   3. Wait() - block until all workers return, then summarise
//
// Shared state:
//   - Source: its own mutex (FIFO pop)
//   - RunStats: its own mutex
//   - Pool.mu: protects started and the worker list only
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ChuLiYu/balance-sweep/internal/clock"
	"github.com/ChuLiYu/balance-sweep/internal/metrics"
	"go.uber.org/zap"
)

var (
	// ErrPoolAlreadyStarted is returned by a second Start.
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	// ErrPoolNotStarted is returned by Wait before Start.
	ErrPoolNotStarted = errors.New("worker pool not started")
)

// Pool manages the worker goroutines of one run.
type Pool struct {
	cfg       Config
	source    Source
	processor Processor
	stats     *metrics.RunStats
	collector *metrics.Collector
	logger    *zap.Logger
	sleep     clock.Sleeper
	jitter    *clock.Jitter

	mu      sync.Mutex
	workers []*Worker
	reports []Report
	started bool
	startAt time.Time
	wg      sync.WaitGroup
}

// Option customises a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithCollector reports queue depth and blocked workers to Prometheus.
func WithCollector(c *metrics.Collector) Option {
	return func(p *Pool) { p.collector = c }
}

// WithSleeper replaces the pacing pause.
func WithSleeper(s clock.Sleeper) Option {
	return func(p *Pool) { p.sleep = s }
}

// WithJitter sets the pacing random source.
func WithJitter(j *clock.Jitter) Option {
	return func(p *Pool) { p.jitter = j }
}

// NewPool creates a pool. Fewer than one worker is raised to one.
func NewPool(cfg Config, source Source, processor Processor, stats *metrics.RunStats, opts ...Option) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if stats == nil {
		stats = metrics.NewRunStats(source.Len())
	}
	p := &Pool{
		cfg:       cfg,
		source:    source,
		processor: processor,
		stats:     stats,
		logger:    zap.NewNop(),
		sleep:     clock.Sleep,
		jitter:    clock.NewJitter(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. They stop when the source drains, when ctx is
// done, or individually on a Blocked verdict.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	p.startAt = time.Now()
	p.reports = make([]Report, p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		w := newWorker(i, p)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(idx int, w *Worker) {
			defer p.wg.Done()
			p.reports[idx] = w.Run(ctx)
		}(i, w)
	}

	p.started = true
	p.logger.Info("worker pool started", zap.Int("workers", p.cfg.Workers), zap.Int("queued", p.source.Len()))
	return nil
}

// Wait blocks until every worker has returned and summarises the run.
func (p *Pool) Wait() (Summary, error) {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return Summary{}, ErrPoolNotStarted
	}

	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	summary := Summary{
		Stats:   p.stats.Snapshot(),
		Workers: append([]Report(nil), p.reports...),
		Elapsed: time.Since(p.startAt),
	}
	if p.collector != nil {
		p.collector.SetQueueRemaining(p.source.Len())
	}
	return summary, nil
}

// GetWorkerCount returns the number of launched workers.
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IsStarted reports whether Start has run.
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
