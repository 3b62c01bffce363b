package metrics

import (
	"sync"

	"github.com/ChuLiYu/balance-sweep/pkg/types"
)

// RunStats counts outcomes for the current run. It has its own lock so the
// hot path never contends with the checkpoint or result file locks.
type RunStats struct {
	mu        sync.Mutex
	total     int
	processed int
	success   int
	failed    int
	blocked   int
}

// Stats is a point-in-time copy of RunStats.
type Stats struct {
	Total          int `json:"total"`
	Processed      int `json:"processed"`
	Success        int `json:"success"`
	Failed         int `json:"failed"`
	BlockedWorkers int `json:"blocked_workers"`
}

// Remaining is the number of queued accounts without an outcome.
func (s Stats) Remaining() int {
	if s.Processed >= s.Total {
		return 0
	}
	return s.Total - s.Processed
}

// NewRunStats starts counting toward total accounts.
func NewRunStats(total int) *RunStats {
	return &RunStats{total: total}
}

// Record counts one final outcome.
func (r *RunStats) Record(status types.Status) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.processed++
	switch status {
	case types.StatusSuccess:
		r.success++
	case types.StatusFailed:
		r.failed++
	}
	return r.snapshotLocked()
}

// RecordBlocked counts a worker that stopped on a Blocked failure.
func (r *RunStats) RecordBlocked() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocked++
}

// Snapshot returns the current counts.
func (r *RunStats) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *RunStats) snapshotLocked() Stats {
	return Stats{
		Total:          r.total,
		Processed:      r.processed,
		Success:        r.success,
		Failed:         r.failed,
		BlockedWorkers: r.blocked,
	}
}
