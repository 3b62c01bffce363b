package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/balance-sweep/internal/metrics"
	"github.com/ChuLiYu/balance-sweep/internal/retry"
	"github.com/ChuLiYu/balance-sweep/pkg/types"
)

// Source hands out accounts. Next never blocks; ok is false once drained.
type Source interface {
	Next() (types.Account, bool)
	Len() int
}

// Processor runs one account to its final verdict.
type Processor interface {
	Process(ctx context.Context, acct types.Account) (retry.Verdict, error)
}

// Config sizes the pool and paces each worker between accounts.
type Config struct {
	Workers   int           `yaml:"workers"`
	PacingMin time.Duration `yaml:"pacing_min"`
	PacingMax time.Duration `yaml:"pacing_max"`
}

// DefaultConfig returns one worker pausing 2-6 s between accounts.
func DefaultConfig() Config {
	return Config{
		Workers:   1,
		PacingMin: 2 * time.Second,
		PacingMax: 6 * time.Second,
	}
}

// ExitReason is why a worker loop ended.
type ExitReason string

const (
	ExitDrained  ExitReason = "drained"  // the queue ran out
	ExitBlocked  ExitReason = "blocked"  // the site blocked this worker
	ExitCanceled ExitReason = "canceled" // the run was interrupted
	ExitPanic    ExitReason = "panic"    // recovered from a panic
)

// Report describes one worker after it stopped.
type Report struct {
	ID        int
	Processed int
	Exit      ExitReason
}

// Summary is the pool's final state.
type Summary struct {
	Stats   metrics.Stats
	Workers []Report
	Elapsed time.Duration
}

// Blocked reports whether any worker stopped on a Blocked failure.
func (s Summary) Blocked() bool {
	for _, w := range s.Workers {
		if w.Exit == ExitBlocked {
			return true
		}
	}
	return false
}
