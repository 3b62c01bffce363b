// ============================================================================
// Retry & Failure Classifier
// ============================================================================
//
// Package: internal/retry
// File: classifier.go
// Purpose: run the attempt budget for one account and turn the final outcome
// into exactly one durable record.
//
// Decision table (per attempt error class):
//   success          -> checkpoint, append Success, stop
//   Transient        -> pause, next attempt; budget spent -> Failed + screenshot
//   AccountTerminal  -> append Failed, stop (no retry)
//   WorkerFatal      -> append Failed, stop, Verdict.Blocked
//   Canceled         -> stop, write nothing (account stays eligible)
//
// Ordering:
//   MarkComplete happens before the Success row is appended. A crash between
//   the two loses a CSV row but never re-processes a completed account.
//
// ============================================================================

package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChuLiYu/balance-sweep/internal/clock"
	"github.com/ChuLiYu/balance-sweep/internal/failure"
	"github.com/ChuLiYu/balance-sweep/pkg/types"
	"go.uber.org/zap"
)

// Attempter performs login attempts and failure diagnostics.
type Attempter interface {
	Attempt(ctx context.Context, acct types.Account) (string, error)
	CaptureFailure(ctx context.Context, acct types.Account) (string, error)
}

// Checkpointer records accounts that must never be processed again.
type Checkpointer interface {
	MarkComplete(username string) error
}

// OutcomeSink stores final outcomes.
type OutcomeSink interface {
	Append(outcome types.Outcome) error
}

// Observer receives per-attempt and per-account events. Used for metrics.
type Observer interface {
	ObserveAttempt()
	ObserveVerdict(v Verdict, elapsed time.Duration)
}

// Config is the retry policy.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	JitterMax   time.Duration `yaml:"jitter_max"` // extra random delay in [0, JitterMax]
}

// DefaultConfig returns two attempts two seconds apart.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 2,
		Delay:       2 * time.Second,
	}
}

// Verdict is the final decision for one account.
type Verdict struct {
	Outcome  types.Outcome
	Attempts int
	Class    failure.Class
	Blocked  bool // the worker's network identity is flagged; stop the worker
	Recorded bool // an outcome row was written
}

// Classifier applies the retry policy. It is safe for concurrent use when its
// collaborators are.
type Classifier struct {
	cfg        Config
	attempter  Attempter
	checkpoint Checkpointer
	sink       OutcomeSink
	observer   Observer
	logger     *zap.Logger
	sleep      clock.Sleeper
	jitter     *clock.Jitter
	now        func() time.Time
}

// Option customises a Classifier.
type Option func(*Classifier)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// WithSleeper replaces the pause between attempts.
func WithSleeper(s clock.Sleeper) Option {
	return func(c *Classifier) { c.sleep = s }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Classifier) { c.observer = o }
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// WithJitter sets the random source for the inter-attempt jitter.
func WithJitter(j *clock.Jitter) Option {
	return func(c *Classifier) { c.jitter = j }
}

// NewClassifier builds a classifier. A budget below one is raised to one.
func NewClassifier(cfg Config, attempter Attempter, checkpoint Checkpointer, sink OutcomeSink, opts ...Option) *Classifier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	c := &Classifier{
		cfg:        cfg,
		attempter:  attempter,
		checkpoint: checkpoint,
		sink:       sink,
		logger:     zap.NewNop(),
		sleep:      clock.Sleep,
		jitter:     clock.NewJitter(time.Now().UnixNano()),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process runs up to MaxAttempts attempts for acct and records the outcome.
// The returned error reports a storage failure; the verdict is still valid.
func (c *Classifier) Process(ctx context.Context, acct types.Account) (Verdict, error) {
	start := c.now()
	log := c.logger.With(zap.String("username", acct.Username))

	var (
		v       Verdict
		lastErr error
	)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		v.Attempts = attempt
		if c.observer != nil {
			c.observer.ObserveAttempt()
		}
		log.Info("attempt started", zap.Int("attempt", attempt), zap.Int("max_attempts", c.cfg.MaxAttempts))

		balance, err := c.attempter.Attempt(ctx, acct)
		if err == nil {
			return c.succeed(acct, balance, v, start, log)
		}

		lastErr = err
		v.Class = failure.Classify(err)
		if ctx.Err() != nil {
			v.Class = failure.Canceled
		}

		switch v.Class {
		case failure.Canceled:
			log.Info("attempt interrupted by shutdown", zap.Error(err))
			c.observe(v, start)
			return v, nil

		case failure.WorkerFatal:
			log.Error("worker blocked by site", zap.Error(err))
			v.Blocked = true
			return c.fail(acct, err, v, start, log)

		case failure.AccountTerminal:
			log.Warn("account cannot be processed", zap.Error(err))
			return c.fail(acct, err, v, start, log)
		}

		log.Warn("attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < c.cfg.MaxAttempts {
			if err := c.sleep(ctx, c.backoff()); err != nil {
				v.Class = failure.Canceled
				c.observe(v, start)
				return v, nil
			}
		}
	}

	log.Error("attempt budget exhausted", zap.Int("attempts", v.Attempts), zap.Error(lastErr))
	if path, err := c.attempter.CaptureFailure(ctx, acct); err != nil {
		log.Warn("diagnostic screenshot failed", zap.Error(err))
	} else {
		log.Info("diagnostic screenshot captured", zap.String("path", path))
	}
	return c.fail(acct, lastErr, v, start, log)
}

func (c *Classifier) succeed(acct types.Account, balance string, v Verdict, start time.Time, log *zap.Logger) (Verdict, error) {
	v.Outcome = types.SuccessOutcome(acct, balance, c.now())

	if err := c.checkpoint.MarkComplete(acct.Username); err != nil {
		// The row is still written so the balance is not lost.
		log.Error("checkpoint update failed", zap.Error(err))
		v.Recorded = c.append(v.Outcome, log) == nil
		c.observe(v, start)
		return v, fmt.Errorf("checkpoint %s: %w", acct.Username, err)
	}

	err := c.append(v.Outcome, log)
	v.Recorded = err == nil
	log.Info("account succeeded", zap.String("balance", balance), zap.Int("attempts", v.Attempts))
	c.observe(v, start)
	return v, err
}

func (c *Classifier) fail(acct types.Account, cause error, v Verdict, start time.Time, log *zap.Logger) (Verdict, error) {
	v.Outcome = types.FailedOutcome(acct, failureCause(cause), c.now())
	err := c.append(v.Outcome, log)
	v.Recorded = err == nil
	c.observe(v, start)
	return v, err
}

func (c *Classifier) append(outcome types.Outcome, log *zap.Logger) error {
	if err := c.sink.Append(outcome); err != nil {
		log.Error("result append failed", zap.Error(err))
		return fmt.Errorf("append result %s: %w", outcome.Username, err)
	}
	return nil
}

func (c *Classifier) observe(v Verdict, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveVerdict(v, c.now().Sub(start))
	}
}

func (c *Classifier) backoff() time.Duration {
	if c.cfg.JitterMax <= 0 {
		return c.cfg.Delay
	}
	return c.cfg.Delay + c.jitter.Between(0, c.cfg.JitterMax)
}

// failureCause keeps the bare sentinel for the two messages operators search
// the results file for, dropping driver noise.
func failureCause(err error) error {
	switch {
	case errors.Is(err, failure.ErrOTPRequired):
		return failure.ErrOTPRequired
	case errors.Is(err, failure.ErrBlocked):
		return failure.ErrBlocked
	default:
		return err
	}
}
