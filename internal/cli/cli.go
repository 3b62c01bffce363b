// ============================================================================
// Balance Sweep CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra commands over the sweep controller
//
// Command Structure:
//   sweeper                        # Root command
//   ├── run                        # Process this shard's pending accounts
//   ├── plan                       # Show what run would process, no browser
//   ├── status                     # Summarise checkpoint and results files
//   ├── --config, -c               # YAML config file (missing file = defaults)
//   ├── --debug                    # Debug level logging
//   └── --version
//
// Configuration precedence (lowest first):
//   1. DefaultConfig()
//   2. YAML file
//   3. Environment: SHARD_INDEX, TOTAL_SHARDS, GITHUB_ACTIONS=true (headless)
//   4. Flags: --shard-index, --total-shards, --workers, --headless, ...
//
// Sharded CI example (matrix of 4 jobs):
//   SHARD_INDEX=${{ matrix.shard }} TOTAL_SHARDS=4 ./sweeper run
//
// Logging:
//   Headless runs log JSON (zap production config); interactive runs log to
//   the console (zap development config).
//
// Signal Handling:
//   run stops on SIGINT/SIGTERM. In-flight attempts are abandoned without a
//   result row and stay eligible for the next run.
//
// Exit status:
//   run fails when a worker was blocked by the site so CI marks the shard
//   as incomplete.
//
// ============================================================================

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/ChuLiYu/balance-sweep/internal/browser"
	"github.com/ChuLiYu/balance-sweep/internal/controller"
	"github.com/ChuLiYu/balance-sweep/internal/login"
	"github.com/ChuLiYu/balance-sweep/internal/overlay"
	"github.com/ChuLiYu/balance-sweep/internal/queue"
	"github.com/ChuLiYu/balance-sweep/internal/retry"
	"github.com/ChuLiYu/balance-sweep/internal/worker"
	"github.com/ChuLiYu/balance-sweep/pkg/types"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when --config is not given. It may be absent.
const DefaultConfigFile = "sweeper.yaml"

// ErrRunBlocked is returned by run when at least one worker was blocked.
var ErrRunBlocked = errors.New("run incomplete: site blocked at least one worker")

// ============================================================================
// Configuration
// ============================================================================

// Config represents the complete sweeper configuration.
// Maps config file sections through YAML tags.
type Config struct {
	Worker  worker.Config            `yaml:"worker"`
	Retry   retry.Config             `yaml:"retry"`
	Shard   queue.ShardPlan          `yaml:"shard"`
	Files   controller.Files         `yaml:"files"`
	Browser BrowserConfig            `yaml:"browser"`
	Flow    login.Config             `yaml:"flow"`
	Overlay overlay.Config           `yaml:"overlay"`
	Metrics controller.MetricsConfig `yaml:"metrics"`
}

// BrowserConfig groups process launch options with per-session options.
type BrowserConfig struct {
	browser.LaunchOptions `yaml:",inline"`
	Session               browser.SessionOptions `yaml:"session"`
}

// DefaultConfig returns a single-shard, single-worker, interactive setup.
func DefaultConfig() Config {
	return Config{
		Worker: worker.DefaultConfig(),
		Retry:  retry.DefaultConfig(),
		Shard:  queue.ShardPlan{Index: 0, Total: 1},
		Files:  controller.DefaultFiles(),
		Browser: BrowserConfig{
			LaunchOptions: browser.LaunchOptions{Install: true},
			Session:       browser.DefaultSessionOptions(),
		},
		Flow:    login.DefaultConfig(),
		Overlay: overlay.DefaultConfig(),
		Metrics: controller.MetricsConfig{Enabled: false, Port: 9090},
	}
}

// controllerConfig maps the file layout onto the controller's config.
func (c Config) controllerConfig() controller.Config {
	return controller.Config{
		Files:   c.Files,
		Shard:   c.Shard,
		Worker:  c.Worker,
		Retry:   c.Retry,
		Flow:    c.Flow,
		Overlay: c.Overlay,
		Session: c.Browser.Session,
		Launch:  c.Browser.LaunchOptions,
		Metrics: c.Metrics,
	}
}

// loadConfig overlays the YAML file at path onto DefaultConfig. A missing
// file yields the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return &cfg, nil
}

// applyEnv applies the CI environment variables.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("SHARD_INDEX"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SHARD_INDEX %q: %w", v, err)
		}
		cfg.Shard.Index = n
	}
	if v := getenv("TOTAL_SHARDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TOTAL_SHARDS %q: %w", v, err)
		}
		cfg.Shard.Total = n
	}
	if getenv("GITHUB_ACTIONS") == "true" {
		cfg.Browser.Headless = true
	}
	return nil
}

// ============================================================================
// Commands
// ============================================================================

// flagValues holds the overrides bound to the root command.
type flagValues struct {
	configFile  string
	debug       bool
	shardIndex  int
	totalShards int
	workers     int
	maxAttempts int
	headless    bool
	metricsPort int
	accounts    string
	selectors   string
	checkpoint  string
	results     string
}

// applyFlags copies every explicitly set flag onto cfg.
func (f *flagValues) applyFlags(cfg *Config, flags *pflag.FlagSet) {
	if flags.Changed("shard-index") {
		cfg.Shard.Index = f.shardIndex
	}
	if flags.Changed("total-shards") {
		cfg.Shard.Total = f.totalShards
	}
	if flags.Changed("workers") {
		cfg.Worker.Workers = f.workers
	}
	if flags.Changed("max-attempts") {
		cfg.Retry.MaxAttempts = f.maxAttempts
	}
	if flags.Changed("headless") {
		cfg.Browser.Headless = f.headless
	}
	if flags.Changed("metrics-port") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = f.metricsPort
	}
	if flags.Changed("accounts") {
		cfg.Files.Accounts = f.accounts
	}
	if flags.Changed("selectors") {
		cfg.Files.Selectors = f.selectors
	}
	if flags.Changed("checkpoint") {
		cfg.Files.Checkpoint = f.checkpoint
	}
	if flags.Changed("results") {
		cfg.Files.Results = f.results
	}
}

// resolve builds the effective config for cmd.
func (f *flagValues) resolve(cmd *cobra.Command, getenv func(string) string) (*Config, error) {
	cfg, err := loadConfig(f.configFile)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	f.applyFlags(cfg, cmd.Flags())

	cfg.Shard = cfg.Shard.Normalize()
	if err := cfg.Shard.Validate(); err != nil {
		return nil, err
	}
	if cfg.Worker.Workers < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", cfg.Worker.Workers)
	}
	return cfg, nil
}

// BuildCLI assembles the root command.
func BuildCLI() *cobra.Command {
	return newRootCommand(&flagValues{})
}

func newRootCommand(flags *flagValues) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sweeper",
		Short: "Sweeper: sharded, resumable balance extraction",
		Long: `Sweeper logs into a list of accounts with a real browser and records each balance.
- Contiguous sharding across CI jobs
- Checkpointed success, safe to rerun
- Overlay and popup dismissal
- Prometheus metrics`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configFile, "config", "c", DefaultConfigFile, "config file path")
	pf.BoolVar(&flags.debug, "debug", false, "debug logging")
	pf.IntVar(&flags.shardIndex, "shard-index", 0, "zero-based shard index (overrides SHARD_INDEX)")
	pf.IntVar(&flags.totalShards, "total-shards", 1, "shard count (overrides TOTAL_SHARDS)")
	pf.StringVar(&flags.accounts, "accounts", "", "accounts CSV")
	pf.StringVar(&flags.selectors, "selectors", "", "selector JSON")
	pf.StringVar(&flags.checkpoint, "checkpoint", "", "checkpoint file")
	pf.StringVar(&flags.results, "results", "", "results CSV")

	rootCmd.AddCommand(buildRunCommand(flags))
	rootCmd.AddCommand(buildPlanCommand(flags))
	rootCmd.AddCommand(buildStatusCommand(flags))

	return rootCmd
}

func buildRunCommand(flags *flagValues) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start sweeping this shard",
		Long:  "Log into every pending account in this shard and append the outcome to the results file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd, os.Getenv)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runSweep(cmd, cfg, flags.debug)
		},
	}

	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 1, "concurrent browser sessions")
	cmd.Flags().IntVar(&flags.maxAttempts, "max-attempts", 2, "attempts per account")
	cmd.Flags().BoolVar(&flags.headless, "headless", false, "run chromium without a window")
	cmd.Flags().IntVar(&flags.metricsPort, "metrics-port", 9090, "serve /metrics on this port")

	return cmd
}

func runSweep(cmd *cobra.Command, cfg *Config, debug bool) error {
	logger, err := newLogger(cfg.Browser.Headless, debug)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := controller.NewController(cfg.controllerConfig(), controller.WithLogger(logger))
	report, err := ctrl.Run(ctx)
	if err != nil {
		return err
	}

	printReport(cmd.OutOrStdout(), report)
	if report.Summary.Blocked() {
		return ErrRunBlocked
	}
	return nil
}

func buildPlanCommand(flags *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the accounts run would process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd, os.Getenv)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			plan, err := controller.NewController(cfg.controllerConfig()).Plan()
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
}

func buildStatusCommand(flags *flagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show checkpoint and results status",
		Long:  "Summarise what earlier runs left in the checkpoint and results files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.resolve(cmd, os.Getenv)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			status, err := controller.NewController(cfg.controllerConfig()).Status()
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), cfg, status)
			return nil
		},
	}
}

// newLogger builds the production JSON logger for headless runs and the
// console logger otherwise.
func newLogger(headless, debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if headless {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

// ============================================================================
// Output
// ============================================================================

func printReport(w io.Writer, r controller.Report) {
	s := r.Summary.Stats
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Run %s (shard %s)\n", r.RunID, r.Plan.Shard)
	fmt.Fprintf(w, "  ├─ Processed:        %d/%d\n", s.Processed, s.Total)
	fmt.Fprintf(w, "  ├─ ✅ Success:        %d\n", s.Success)
	fmt.Fprintf(w, "  ├─ ❌ Failed:         %d\n", s.Failed)
	fmt.Fprintf(w, "  ├─ Remaining:        %d\n", s.Remaining())
	fmt.Fprintf(w, "  ├─ Blocked workers:  %d\n", s.BlockedWorkers)
	fmt.Fprintf(w, "  └─ Elapsed:          %s\n", r.Summary.Elapsed.Round(time.Second))
}

func printPlan(w io.Writer, p controller.Plan) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Shard %s\n", p.Shard)
	fmt.Fprintf(w, "  ├─ Listed accounts:  %d\n", p.Listed)
	fmt.Fprintf(w, "  ├─ Shard range:      [%d, %d)\n", p.Start, p.End)
	fmt.Fprintf(w, "  ├─ Already done:     %d\n", p.Completed)
	fmt.Fprintf(w, "  ├─ Duplicates:       %d\n", p.Duplicates)
	fmt.Fprintf(w, "  └─ Queued:           %d\n", p.Queue.Len())
	for _, acct := range p.Queue.Pending() {
		fmt.Fprintf(w, "     · %s\n", acct.Username)
	}
}

func printStatus(w io.Writer, cfg *Config, s controller.Status) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "💾 Files:")
	fmt.Fprintf(w, "  ├─ Accounts:    %s\n", cfg.Files.Accounts)
	fmt.Fprintf(w, "  ├─ Checkpoint:  %s (%d completed)\n", cfg.Files.Checkpoint, s.Completed)
	fmt.Fprintf(w, "  └─ Results:     %s (%d rows)\n", cfg.Files.Results, s.Results.Rows)
	fmt.Fprintln(w)

	latest := s.Results.LatestByStatus()
	fmt.Fprintln(w, "📊 Latest outcome per account:")
	statuses := make([]string, 0, len(latest))
	for status := range latest {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)
	if len(statuses) == 0 {
		fmt.Fprintln(w, "  └─ no results yet")
	}
	for i, status := range statuses {
		branch := "├─"
		if i == len(statuses)-1 {
			branch = "└─"
		}
		fmt.Fprintf(w, "  %s %-8s %d\n", branch, status, latest[types.Status(status)])
	}

	if cfg.Metrics.Enabled {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "📡 Metrics: http://localhost:%d/metrics during run\n", cfg.Metrics.Port)
	}
}
