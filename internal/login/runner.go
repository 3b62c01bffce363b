package login

import (
	"context"
	"fmt"
	"os"

	"github.com/ChuLiYu/balance-sweep/internal/browser"
	"github.com/ChuLiYu/balance-sweep/pkg/types"
	"go.uber.org/zap"
)

// Runner opens a fresh isolated session for every attempt and runs the flow
// inside it. Sessions are always closed before Attempt returns.
type Runner struct {
	driver      browser.Driver
	sessionOpts browser.SessionOptions
	initScripts []string
	flow        *Flow
	website     string
	cfg         Config
	logger      *zap.Logger
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithInitScripts replaces the scripts injected into every session.
func WithInitScripts(scripts ...string) RunnerOption {
	return func(r *Runner) { r.initScripts = scripts }
}

// NewRunner builds a runner. The stealth script is injected by default.
func NewRunner(driver browser.Driver, sessionOpts browser.SessionOptions, flow *Flow, opts ...RunnerOption) *Runner {
	r := &Runner{
		driver:      driver,
		sessionOpts: sessionOpts,
		initScripts: []string{browser.StealthScript},
		flow:        flow,
		website:     flow.selectors.Website,
		cfg:         flow.cfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attempt runs one login attempt and returns the extracted balance.
func (r *Runner) Attempt(ctx context.Context, acct types.Account) (string, error) {
	if err := r.ensureScreenshotDir(); err != nil {
		r.logger.Warn("screenshot directory unavailable", zap.Error(err))
	}

	sess, err := r.open(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			r.logger.Debug("session close failed", zap.String("username", acct.Username), zap.Error(cerr))
		}
	}()

	result, err := r.flow.Run(ctx, sess, acct)
	if err != nil {
		return "", err
	}
	return result.Balance, nil
}

// CaptureFailure loads the landing page in a fresh session and saves a
// full-page screenshot as <username>_ERROR.png. The returned path is empty
// when no screenshot could be taken.
func (r *Runner) CaptureFailure(ctx context.Context, acct types.Account) (string, error) {
	if err := r.ensureScreenshotDir(); err != nil {
		return "", err
	}

	sess, err := r.open(ctx)
	if err != nil {
		return "", err
	}
	defer sess.Close()

	// The screenshot still has value when navigation stalls part way.
	if err := sess.Navigate(ctx, r.website, r.cfg.DiagnosticTimeout); err != nil {
		r.logger.Debug("diagnostic navigation failed", zap.String("username", acct.Username), zap.Error(err))
	}

	path := r.flow.screenshotPath(acct, "_ERROR")
	if err := sess.Screenshot(path, true); err != nil {
		return "", fmt.Errorf("diagnostic screenshot: %w", err)
	}
	r.logger.Info("diagnostic screenshot saved", zap.String("username", acct.Username), zap.String("path", path))
	return path, nil
}

func (r *Runner) open(ctx context.Context) (browser.Session, error) {
	sess, err := r.driver.NewSession(ctx, r.sessionOpts)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	for _, script := range r.initScripts {
		if err := sess.AddInitScript(script); err != nil {
			sess.Close()
			return nil, fmt.Errorf("add init script: %w", err)
		}
	}
	return sess, nil
}

func (r *Runner) ensureScreenshotDir() error {
	if r.cfg.ScreenshotDir == "" {
		return nil
	}
	return os.MkdirAll(r.cfg.ScreenshotDir, 0o755)
}
