// ============================================================================
// Sweep Controller - run coordinator
// ============================================================================
//
// Package: internal/controller
// File: controller.go
// Purpose: wire every component of one sweep run and drive it to completion.
//
// Architecture:
//   The controller is the only place that knows about all modules:
//   - input: accounts CSV and selector JSON
//   - checkpoint: completed usernames from earlier runs
//   - queue: this shard's slice minus completed accounts
//   - browser: one shared chromium, one isolated session per attempt
//   - overlay + login: the per-attempt state machine
//   - retry: attempt budget and the single durable record per account
//   - worker: N pull-mode workers over the queue
//   - metrics: run counters and the optional /metrics endpoint
//
// Run sequence:
//   1. Load selectors (config errors abort before any browser starts)
//   2. Plan: read accounts, load checkpoint, build the shard queue
//   3. Empty queue? log and return without launching a browser
//   4. Launch the browser driver
//   5. errgroup: pool (and metrics server, when enabled)
//   6. Close the driver, log the final summary
//
// Resumability:
//   Success is checkpointed before it is reported. A rerun with the same
//   files only picks up accounts that never succeeded.
//
// ============================================================================

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/ChuLiYu/balance-sweep/internal/browser"
	"github.com/ChuLiYu/balance-sweep/internal/checkpoint"
	"github.com/ChuLiYu/balance-sweep/internal/clock"
	"github.com/ChuLiYu/balance-sweep/internal/input"
	"github.com/ChuLiYu/balance-sweep/internal/login"
	"github.com/ChuLiYu/balance-sweep/internal/metrics"
	"github.com/ChuLiYu/balance-sweep/internal/overlay"
	"github.com/ChuLiYu/balance-sweep/internal/queue"
	"github.com/ChuLiYu/balance-sweep/internal/results"
	"github.com/ChuLiYu/balance-sweep/internal/retry"
	"github.com/ChuLiYu/balance-sweep/internal/worker"
	"github.com/ChuLiYu/balance-sweep/pkg/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Configuration
// ============================================================================

// Files names every path the run reads or writes.
type Files struct {
	Accounts   string `yaml:"accounts"`
	Selectors  string `yaml:"selectors"`
	Checkpoint string `yaml:"checkpoint"`
	Results    string `yaml:"results"`
}

// DefaultFiles returns the file names the sweeper uses in its working directory.
func DefaultFiles() Files {
	return Files{
		Accounts:   "accounts.csv",
		Selectors:  "selectors.json",
		Checkpoint: "checkpoint.json",
		Results:    "results.csv",
	}
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Config is everything one run needs.
type Config struct {
	Files   Files
	Shard   queue.ShardPlan
	Worker  worker.Config
	Retry   retry.Config
	Flow    login.Config
	Overlay overlay.Config
	Session browser.SessionOptions
	Launch  browser.LaunchOptions
	Metrics MetricsConfig
}

// DriverFactory starts the browser backend.
type DriverFactory func(opts browser.LaunchOptions, logger *zap.Logger) (browser.Driver, error)

// PlaywrightFactory launches chromium through playwright.
func PlaywrightFactory(opts browser.LaunchOptions, logger *zap.Logger) (browser.Driver, error) {
	return browser.Launch(opts, logger)
}

// ============================================================================
// Controller
// ============================================================================

// Controller coordinates one sweep.
type Controller struct {
	cfg      Config
	logger   *zap.Logger
	launch   DriverFactory
	registry *prometheus.Registry
	sleep    clock.Sleeper
	runID    string
}

// Option customises a Controller.
type Option func(*Controller)

// WithLogger sets the root logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithDriverFactory replaces the browser backend.
func WithDriverFactory(f DriverFactory) Option {
	return func(c *Controller) { c.launch = f }
}

// WithRegistry sets the Prometheus registry the run's metrics go to.
func WithRegistry(r *prometheus.Registry) Option {
	return func(c *Controller) { c.registry = r }
}

// WithSleeper replaces every pause in the run. Tests use clock.NoSleep.
func WithSleeper(s clock.Sleeper) Option {
	return func(c *Controller) { c.sleep = s }
}

// NewController creates a controller with a fresh run id.
func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		logger: zap.NewNop(),
		launch: PlaywrightFactory,
		sleep:  clock.Sleep,
		runID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = prometheus.NewRegistry()
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	c.logger = c.logger.With(zap.String("run_id", c.runID), zap.Stringer("shard", c.cfg.Shard))
	return c
}

// RunID identifies this run in logs.
func (c *Controller) RunID() string {
	return c.runID
}

// Plan describes what a run would process.
type Plan struct {
	Shard      queue.ShardPlan
	Start      int // first list index in this shard
	End        int // one past the last list index
	Listed     int // accounts in the whole file
	ShardSize  int
	Completed  int // already checkpointed, skipped
	Duplicates int
	Queue      *queue.Queue
}

// Plan reads the account list and checkpoint and builds this shard's queue.
func (c *Controller) Plan() (Plan, error) {
	accounts, err := input.ReadAccountsFile(c.cfg.Files.Accounts)
	if err != nil {
		return Plan{}, err
	}

	completed, err := checkpoint.NewStore(c.cfg.Files.Checkpoint).Load()
	if err != nil {
		return Plan{}, fmt.Errorf("load checkpoint: %w", err)
	}

	q, err := queue.New(accounts, c.cfg.Shard, completed)
	if err != nil {
		return Plan{}, err
	}

	start, end := q.Range()
	return Plan{
		Shard:      c.cfg.Shard.Normalize(),
		Start:      start,
		End:        end,
		Listed:     len(accounts),
		ShardSize:  q.Total(),
		Completed:  q.Skipped(),
		Duplicates: q.Duplicates(),
		Queue:      q,
	}, nil
}

// Report is the outcome of Run.
type Report struct {
	RunID   string
	Plan    Plan
	Summary worker.Summary
}

// Run executes the sweep until the queue drains or ctx is canceled.
func (c *Controller) Run(ctx context.Context) (Report, error) {
	report := Report{RunID: c.runID}

	selectors, err := input.LoadSelectors(c.cfg.Files.Selectors)
	if err != nil {
		return report, err
	}

	plan, err := c.Plan()
	if err != nil {
		return report, err
	}
	report.Plan = plan

	c.logger.Info("run planned",
		zap.Int("listed", plan.Listed),
		zap.Int("range_start", plan.Start),
		zap.Int("range_end", plan.End),
		zap.Int("already_completed", plan.Completed),
		zap.Int("duplicates", plan.Duplicates),
		zap.Int("queued", plan.Queue.Len()))

	if plan.Queue.Len() == 0 {
		c.logger.Info("nothing to do")
		return report, nil
	}

	collector, err := metrics.NewCollector(c.registry)
	if err != nil {
		return report, err
	}
	collector.SetQueueRemaining(plan.Queue.Len())

	driver, err := c.launch(c.cfg.Launch, c.logger.Named("browser"))
	if err != nil {
		return report, fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			c.logger.Warn("browser shutdown failed", zap.Error(err))
		}
	}()

	pool := c.buildPool(plan.Queue, selectors, driver, collector)

	g, gctx := errgroup.WithContext(ctx)
	metricsCtx, stopMetrics := context.WithCancel(gctx)
	defer stopMetrics()

	if c.cfg.Metrics.Enabled {
		addr := fmt.Sprintf(":%d", c.cfg.Metrics.Port)
		g.Go(func() error {
			return metrics.StartServer(metricsCtx, addr, c.registry, c.logger.Named("metrics"))
		})
	}

	g.Go(func() error {
		defer stopMetrics()
		if err := pool.Start(gctx); err != nil {
			return err
		}
		summary, err := pool.Wait()
		report.Summary = summary
		return err
	})

	if err := g.Wait(); err != nil {
		return report, err
	}

	c.logSummary(report.Summary, plan)
	return report, nil
}

func (c *Controller) buildPool(q *queue.Queue, selectors types.SelectorConfig, driver browser.Driver, collector *metrics.Collector) *worker.Pool {
	engine := overlay.NewEngine(c.cfg.Overlay,
		overlay.WithLogger(c.logger.Named("overlay")),
		overlay.WithSleeper(c.sleep),
		overlay.WithRemovalObserver(collector.RecordOverlayRemoved))

	flow := login.NewFlow(c.cfg.Flow, selectors, engine,
		login.WithFlowLogger(c.logger.Named("login")),
		login.WithFlowSleeper(c.sleep))

	runner := login.NewRunner(driver, c.cfg.Session, flow,
		login.WithRunnerLogger(c.logger.Named("session")))

	classifier := retry.NewClassifier(c.cfg.Retry, runner,
		checkpoint.NewStore(c.cfg.Files.Checkpoint),
		results.NewSink(c.cfg.Files.Results),
		retry.WithLogger(c.logger.Named("retry")),
		retry.WithSleeper(c.sleep),
		retry.WithObserver(verdictObserver{collector}))

	return worker.NewPool(c.cfg.Worker, q, classifier, metrics.NewRunStats(q.Len()),
		worker.WithLogger(c.logger.Named("worker")),
		worker.WithSleeper(c.sleep),
		worker.WithCollector(collector))
}

func (c *Controller) logSummary(s worker.Summary, plan Plan) {
	c.logger.Info("run finished",
		zap.Int("processed", s.Stats.Processed),
		zap.Int("success", s.Stats.Success),
		zap.Int("failed", s.Stats.Failed),
		zap.Int("remaining", s.Stats.Remaining()),
		zap.Int("blocked_workers", s.Stats.BlockedWorkers),
		zap.Int("skipped_completed", plan.Completed),
		zap.Duration("elapsed", s.Elapsed.Round(time.Second)))

	if s.Blocked() {
		c.logger.Warn("some workers were blocked by the site; rerun later or from another network to finish the shard")
	}
}

// Status is what earlier runs left on disk.
type Status struct {
	Completed int
	Results   results.Summary
}

// Status reads the checkpoint and results files without touching a browser.
func (c *Controller) Status() (Status, error) {
	completed, err := checkpoint.NewStore(c.cfg.Files.Checkpoint).Load()
	if err != nil {
		return Status{}, fmt.Errorf("load checkpoint: %w", err)
	}
	summary, err := results.Summarize(c.cfg.Files.Results)
	if err != nil {
		return Status{}, fmt.Errorf("read results: %w", err)
	}
	return Status{Completed: len(completed), Results: summary}, nil
}

// verdictObserver feeds retry verdicts into the Prometheus collector.
type verdictObserver struct {
	c *metrics.Collector
}

func (o verdictObserver) ObserveAttempt() { o.c.RecordAttempt() }

func (o verdictObserver) ObserveVerdict(v retry.Verdict, elapsed time.Duration) {
	if v.Outcome.Status == "" {
		return
	}
	o.c.RecordOutcome(string(v.Outcome.Status), elapsed)
}
