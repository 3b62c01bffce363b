// ============================================================================
// Sweep Worker - Account Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: one goroutine that pulls accounts until the queue drains
//
// How it works:
//   Each Worker loops:
//   1. Pull the next account from the shared Source (never blocks)
//   2. Pause a random pacing interval (not before its first account)
//   3. Run the account through the Processor to a final verdict
//   4. Record the verdict in the shared RunStats
//   5. Stop on an empty queue, a Blocked verdict, or cancellation
//
// Execution Model:
//   ┌─────────────────────────────────────────┐
//   │  Worker Goroutine                       │
//   │  ┌──────────────────────────────────┐   │
//   │  │ for acct, ok := src.Next(); ok   │   │
//   │  │   ├─ pacing sleep (jittered)     │   │
//   │  │   ├─ processor.Process(acct)     │   │
//   │  │   ├─ stats.Record(status)        │   │
//   │  │   └─ Blocked? -> exit            │   │
//   │  └──────────────────────────────────┘   │
//   └─────────────────────────────────────────┘
//
// Isolation:
//   A Blocked verdict ends only this worker. Its network identity is
//   flagged, the others may still get through. A panic is recovered and
//   logged and likewise ends only this worker.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/ChuLiYu/balance-sweep/internal/failure"
	"go.uber.org/zap"
)

// Worker represents one execution unit of the pool.
type Worker struct {
	id     int
	pool   *Pool
	logger *zap.Logger

	processed int
}

func newWorker(id int, p *Pool) *Worker {
	return &Worker{
		id:     id,
		pool:   p,
		logger: p.logger.With(zap.Int("worker", id)),
	}
}

// Run is the worker's main loop. It always returns a report.
func (w *Worker) Run(ctx context.Context) (report Report) {
	report.ID = w.id
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker panic",
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()))
			report.Exit = ExitPanic
		}
		report.Processed = w.processed
	}()

	w.logger.Info("worker started")
	report.Exit = w.loop(ctx)
	w.logger.Info("worker stopped", zap.String("reason", string(report.Exit)), zap.Int("processed", w.processed))
	return report
}

func (w *Worker) loop(ctx context.Context) ExitReason {
	p := w.pool
	first := true

	for {
		if ctx.Err() != nil {
			return ExitCanceled
		}

		acct, ok := p.source.Next()
		if !ok {
			return ExitDrained
		}
		if p.collector != nil {
			p.collector.SetQueueRemaining(p.source.Len())
		}

		if !first {
			pause := p.jitter.Between(p.cfg.PacingMin, p.cfg.PacingMax)
			w.logger.Debug("pacing", zap.Duration("pause", pause))
			if err := p.sleep(ctx, pause); err != nil {
				return ExitCanceled
			}
		}
		first = false

		verdict, err := p.processor.Process(ctx, acct)
		if err != nil {
			// The verdict stands; only its persistence failed.
			w.logger.Error("outcome persistence failed", zap.String("username", acct.Username), zap.Error(err))
		}

		if verdict.Class == failure.Canceled && verdict.Outcome.Status == "" {
			return ExitCanceled
		}

		w.processed++
		stats := p.stats.Record(verdict.Outcome.Status)
		w.logger.Info("progress",
			zap.String("username", acct.Username),
			zap.String("status", string(verdict.Outcome.Status)),
			zap.Int("processed", stats.Processed),
			zap.Int("total", stats.Total),
			zap.Int("success", stats.Success),
			zap.Int("failed", stats.Failed))

		if verdict.Blocked {
			p.stats.RecordBlocked()
			if p.collector != nil {
				p.collector.RecordBlocked()
			}
			w.logger.Error("worker blocked, stopping", zap.String("username", acct.Username))
			return ExitBlocked
		}
	}
}
