package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/balance-sweep/internal/clock"
	"github.com/ChuLiYu/balance-sweep/internal/failure"
	"github.com/ChuLiYu/balance-sweep/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fakes
// ============================================================================

type scriptedAttempter struct {
	mu       sync.Mutex
	results  []error
	balance  string
	calls    int
	captures int
	onCall   func(n int)
}

func (a *scriptedAttempter) Attempt(context.Context, types.Account) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.onCall != nil {
		a.onCall(a.calls)
	}
	if len(a.results) == 0 {
		return a.balance, nil
	}
	err := a.results[0]
	a.results = a.results[1:]
	if err != nil {
		return "", err
	}
	return a.balance, nil
}

func (a *scriptedAttempter) CaptureFailure(_ context.Context, acct types.Account) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.captures++
	return acct.Username + "_ERROR.png", nil
}

type memCheckpoint struct {
	marked []string
	err    error
}

func (m *memCheckpoint) MarkComplete(username string) error {
	if m.err != nil {
		return m.err
	}
	m.marked = append(m.marked, username)
	return nil
}

type memSink struct {
	rows []types.Outcome
	err  error
	// order records "checkpoint"/"append" interleaving when shared with a checkpoint.
	order *[]string
}

func (m *memSink) Append(o types.Outcome) error {
	if m.order != nil {
		*m.order = append(*m.order, "append")
	}
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, o)
	return nil
}

type orderedCheckpoint struct {
	order *[]string
}

func (o orderedCheckpoint) MarkComplete(string) error {
	*o.order = append(*o.order, "checkpoint")
	return nil
}

type countingObserver struct {
	attempts int
	verdicts []Verdict
}

func (o *countingObserver) ObserveAttempt() { o.attempts++ }
func (o *countingObserver) ObserveVerdict(v Verdict, _ time.Duration) {
	o.verdicts = append(o.verdicts, v)
}

var (
	alice   = types.Account{Username: "alice", Password: "pw"}
	fixedAt = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
)

func newTestClassifier(a Attempter, cp Checkpointer, sink OutcomeSink, opts ...Option) *Classifier {
	base := []Option{WithSleeper(clock.NoSleep), WithClock(func() time.Time { return fixedAt })}
	return NewClassifier(DefaultConfig(), a, cp, sink, append(base, opts...)...)
}

// ============================================================================
// Tests
// ============================================================================

func TestProcessSuccessFirstAttempt(t *testing.T) {
	a := &scriptedAttempter{balance: "₹4,582.10"}
	cp := &memCheckpoint{}
	sink := &memSink{}
	obs := &countingObserver{}
	c := newTestClassifier(a, cp, sink, WithObserver(obs))

	v, err := c.Process(context.Background(), alice)
	require.NoError(t, err)

	assert.Equal(t, 1, v.Attempts)
	assert.False(t, v.Blocked)
	assert.True(t, v.Recorded)
	assert.Equal(t, []string{"alice"}, cp.marked)
	require.Len(t, sink.rows, 1)
	assert.Equal(t, types.StatusSuccess, sink.rows[0].Status)
	assert.Equal(t, "₹4,582.10", sink.rows[0].Balance)
	assert.Equal(t, fixedAt, sink.rows[0].Timestamp)
	assert.Equal(t, 1, obs.attempts)
	assert.Len(t, obs.verdicts, 1)
}

func TestProcessCheckpointsBeforeAppend(t *testing.T) {
	var order []string
	a := &scriptedAttempter{balance: "10"}
	c := newTestClassifier(a, orderedCheckpoint{order: &order}, &memSink{order: &order})

	_, err := c.Process(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, []string{"checkpoint", "append"}, order)
}

func TestProcessTransientThenSuccess(t *testing.T) {
	a := &scriptedAttempter{results: []error{failure.ErrBalanceTimeout}, balance: "12"}
	cp := &memCheckpoint{}
	sink := &memSink{}
	var slept []time.Duration
	c := newTestClassifier(a, cp, sink, WithSleeper(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))

	v, err := c.Process(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second}, slept)
	require.Len(t, sink.rows, 1, "exactly one row per account")
	assert.Equal(t, types.StatusSuccess, sink.rows[0].Status)
	assert.Zero(t, a.captures)
}

func TestProcessExhaustion(t *testing.T) {
	cause := fmt.Errorf("BALANCE_POLL: %w", failure.ErrBalanceTimeout)
	a := &scriptedAttempter{results: []error{cause, cause}}
	cp := &memCheckpoint{}
	sink := &memSink{}
	c := newTestClassifier(a, cp, sink)

	v, err := c.Process(context.Background(), alice)
	require.NoError(t, err)

	assert.Equal(t, 2, a.calls)
	assert.Equal(t, 2, v.Attempts)
	assert.Equal(t, 1, a.captures, "diagnostic screenshot after the last attempt")
	assert.Empty(t, cp.marked)
	require.Len(t, sink.rows, 1)
	assert.Equal(t, types.StatusFailed, sink.rows[0].Status)
	assert.Equal(t, types.NoBalance, sink.rows[0].Balance)
	assert.Contains(t, sink.rows[0].Error, "balance not found")
}

func TestProcessOTPNotRetried(t *testing.T) {
	a := &scriptedAttempter{results: []error{fmt.Errorf("OTP_CHECK: %w", failure.ErrOTPRequired)}}
	cp := &memCheckpoint{}
	sink := &memSink{}
	c := newTestClassifier(a, cp, sink)

	v, err := c.Process(context.Background(), alice)
	require.NoError(t, err)

	assert.Equal(t, 1, a.calls)
	assert.Equal(t, failure.AccountTerminal, v.Class)
	assert.False(t, v.Blocked)
	assert.Zero(t, a.captures)
	assert.Empty(t, cp.marked)
	require.Len(t, sink.rows, 1)
	assert.Equal(t, "OTP required - account skipped", sink.rows[0].Error)
}

func TestProcessBlocked(t *testing.T) {
	a := &scriptedAttempter{results: []error{fmt.Errorf("%w: net::ERR_EMPTY_RESPONSE", failure.ErrBlocked)}}
	cp := &memCheckpoint{}
	sink := &memSink{}
	c := newTestClassifier(a, cp, sink)

	v, err := c.Process(context.Background(), alice)
	require.NoError(t, err)

	assert.True(t, v.Blocked)
	assert.Equal(t, failure.WorkerFatal, v.Class)
	assert.Equal(t, 1, a.calls)
	assert.Empty(t, cp.marked)
	require.Len(t, sink.rows, 1)
	assert.Equal(t, types.StatusFailed, sink.rows[0].Status)
	assert.Equal(t, failure.ErrBlocked.Error(), sink.rows[0].Error)
}

func TestProcessCanceledWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &scriptedAttempter{
		results: []error{context.Canceled},
		onCall:  func(int) { cancel() },
	}
	cp := &memCheckpoint{}
	sink := &memSink{}
	c := newTestClassifier(a, cp, sink)

	v, err := c.Process(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, failure.Canceled, v.Class)
	assert.False(t, v.Recorded)
	assert.Empty(t, sink.rows)
	assert.Empty(t, cp.marked)
	assert.Zero(t, a.captures)
}

func TestProcessCanceledDuringBackoff(t *testing.T) {
	a := &scriptedAttempter{results: []error{failure.ErrNavigationTimeout, nil}}
	sink := &memSink{}
	c := newTestClassifier(a, &memCheckpoint{}, sink, WithSleeper(func(context.Context, time.Duration) error {
		return context.Canceled
	}))

	v, err := c.Process(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, failure.Canceled, v.Class)
	assert.Empty(t, sink.rows)
}

func TestProcessCheckpointErrorStillAppends(t *testing.T) {
	a := &scriptedAttempter{balance: "5"}
	cp := &memCheckpoint{err: errors.New("disk full")}
	sink := &memSink{}
	c := newTestClassifier(a, cp, sink)

	v, err := c.Process(context.Background(), alice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, v.Recorded)
	assert.Len(t, sink.rows, 1)
}

func TestProcessSinkError(t *testing.T) {
	a := &scriptedAttempter{results: []error{failure.ErrOTPRequired}}
	sink := &memSink{err: errors.New("read-only file system")}
	c := newTestClassifier(a, &memCheckpoint{}, sink)

	v, err := c.Process(context.Background(), alice)
	require.Error(t, err)
	assert.False(t, v.Recorded)
	assert.Equal(t, types.StatusFailed, v.Outcome.Status)
}

func TestNewClassifierRaisesBudget(t *testing.T) {
	a := &scriptedAttempter{results: []error{failure.ErrNavigationTimeout}}
	c := NewClassifier(Config{MaxAttempts: 0}, a, &memCheckpoint{}, &memSink{}, WithSleeper(clock.NoSleep))

	v, err := c.Process(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Attempts)
}

func TestBackoffJitter(t *testing.T) {
	c := NewClassifier(Config{MaxAttempts: 2, Delay: time.Second, JitterMax: 500 * time.Millisecond},
		&scriptedAttempter{}, &memCheckpoint{}, &memSink{}, WithJitter(clock.NewJitter(7)))

	for i := 0; i < 50; i++ {
		d := c.backoff()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}
