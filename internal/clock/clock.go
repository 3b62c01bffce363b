// Package clock holds the context-aware waiting primitives shared by the flow,
// the retry loop and the worker pacing.
package clock

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep waits for d. It returns ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep returns immediately unless ctx is already done. Tests use it to run
// flows without real delays.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// Jitter draws uniformly from [min, max] using a locked source, so it is safe
// to share between workers.
type Jitter struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewJitter seeds a jitter source. seed 0 uses the current time.
func NewJitter(seed int64) *Jitter {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Jitter{rnd: rand.New(rand.NewSource(seed))}
}

// Between returns a duration in [min, max]. An inverted range is swapped.
func (j *Jitter) Between(min, max time.Duration) time.Duration {
	if max < min {
		min, max = max, min
	}
	if max == min {
		return min
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return min + time.Duration(j.rnd.Int63n(int64(max-min)+1))
}
