// ============================================================================
// Login State Machine
// ============================================================================
//
// Package: internal/login
// File: flow.go
// Purpose: drive one account attempt from the landing page to an extracted
// balance, tolerating interstitial UI at every step.
//
// State transitions:
//   NAVIGATE ──> CLEAR_OVERLAYS ──> OPEN_LOGIN ──> FILL_CREDENTIALS
//       │                               │                 │
//       └─ Blocked / NavigationTimeout  └─ LoginControl   └─ CredentialField
//
//   FILL_CREDENTIALS ──> AWAIT_RESULT ──> OTP_CHECK ──> POST_LOGIN_CLEANUP
//                                             │
//                                             └─ OtpRequired
//
//   POST_LOGIN_CLEANUP ──> PAGE_READY ──> BALANCE_POLL ──> DONE
//                                             │
//                                             └─ BalanceTimeout
//
// Overlays can reappear after any page mutation, so every state that waits
// on the page runs the overlay engine first.
//
// ============================================================================

package login

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ChuLiYu/balance-sweep/internal/browser"
	"github.com/ChuLiYu/balance-sweep/internal/clock"
	"github.com/ChuLiYu/balance-sweep/internal/failure"
	"github.com/ChuLiYu/balance-sweep/internal/overlay"
	"github.com/ChuLiYu/balance-sweep/pkg/types"
	"go.uber.org/zap"
)

// State is one step of the login flow.
type State string

const (
	StateNavigate         State = "NAVIGATE"
	StateClearOverlays    State = "CLEAR_OVERLAYS"
	StateOpenLogin        State = "OPEN_LOGIN"
	StateFillCredentials  State = "FILL_CREDENTIALS"
	StateAwaitResult      State = "AWAIT_RESULT"
	StateOTPCheck         State = "OTP_CHECK"
	StatePostLoginCleanup State = "POST_LOGIN_CLEANUP"
	StatePageReady        State = "PAGE_READY"
	StateBalancePoll      State = "BALANCE_POLL"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// Dismisser is the overlay capability the flow relies on.
type Dismisser interface {
	Cleanup(ctx context.Context, page overlay.Page, rounds int) overlay.Report
	QuickClear(ctx context.Context, page overlay.Page) overlay.Report
}

// Result is the terminal state of one run.
type Result struct {
	State   State   // StateDone or StateFailed
	Balance string  // set when State is StateDone
	Trace   []State // states entered, in order
}

// Flow runs the login state machine. It is stateless between runs and safe
// for concurrent use by several workers.
type Flow struct {
	cfg       Config
	selectors types.SelectorConfig
	overlay   Dismisser
	logger    *zap.Logger
	sleep     clock.Sleeper
}

// FlowOption customises a Flow.
type FlowOption func(*Flow)

// WithFlowLogger sets the flow logger.
func WithFlowLogger(l *zap.Logger) FlowOption {
	return func(f *Flow) { f.logger = l }
}

// WithFlowSleeper replaces the pause implementation.
func WithFlowSleeper(s clock.Sleeper) FlowOption {
	return func(f *Flow) { f.sleep = s }
}

// NewFlow builds a flow for one site.
func NewFlow(cfg Config, selectors types.SelectorConfig, dismisser Dismisser, opts ...FlowOption) *Flow {
	if cfg.BalanceClearEvery <= 0 {
		cfg.BalanceClearEvery = 1
	}
	f := &Flow{
		cfg:       cfg,
		selectors: selectors,
		overlay:   dismisser,
		logger:    zap.NewNop(),
		sleep:     clock.Sleep,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// attempt carries the per-run state through the handlers.
type attempt struct {
	sess    browser.Session
	account types.Account
	log     *zap.Logger
	balance string
}

type handler func(ctx context.Context, a *attempt) (State, error)

// Run executes the flow against sess until DONE or the first failure.
// The returned error wraps one of the failure sentinels and names the state.
func (f *Flow) Run(ctx context.Context, sess browser.Session, acct types.Account) (Result, error) {
	a := &attempt{
		sess:    sess,
		account: acct,
		log:     f.logger.With(zap.String("username", acct.Username)),
	}

	handlers := map[State]handler{
		StateNavigate:         f.navigate,
		StateClearOverlays:    f.clearOverlays,
		StateOpenLogin:        f.openLogin,
		StateFillCredentials:  f.fillCredentials,
		StateAwaitResult:      f.awaitResult,
		StateOTPCheck:         f.otpCheck,
		StatePostLoginCleanup: f.postLoginCleanup,
		StatePageReady:        f.pageReady,
		StateBalancePoll:      f.balancePoll,
	}

	result := Result{}
	state := StateNavigate
	for {
		result.Trace = append(result.Trace, state)
		a.log.Debug("entering state", zap.String("state", string(state)))

		if state == StateDone {
			if _, err := f.done(ctx, a); err != nil {
				a.log.Warn("evidence screenshot failed", zap.Error(err))
			}
			result.State = StateDone
			result.Balance = a.balance
			return result, nil
		}

		if err := ctx.Err(); err != nil {
			result.State = StateFailed
			return result, failure.At(string(state), err)
		}

		next, err := handlers[state](ctx, a)
		if err != nil {
			result.State = StateFailed
			result.Trace = append(result.Trace, StateFailed)
			a.log.Info("login flow failed", zap.String("state", string(state)), zap.Error(err))
			return result, failure.At(string(state), err)
		}
		state = next
	}
}

// ============================================================================
// State handlers
// ============================================================================

func (f *Flow) navigate(ctx context.Context, a *attempt) (State, error) {
	a.log.Info("navigating", zap.String("url", f.selectors.Website))

	if err := a.sess.Navigate(ctx, f.selectors.Website, f.cfg.NavigationTimeout); err != nil {
		if ctx.Err() != nil {
			return StateFailed, ctx.Err()
		}
		title, titleErr := a.sess.Title()
		if titleErr == nil && strings.TrimSpace(title) == "" {
			return StateFailed, fmt.Errorf("%w: %v", failure.ErrBlocked, err)
		}
		return StateFailed, fmt.Errorf("%w: %v", failure.ErrNavigationTimeout, err)
	}

	if err := f.sleep(ctx, f.cfg.PostNavigatePause); err != nil {
		return StateFailed, err
	}
	return StateClearOverlays, nil
}

func (f *Flow) clearOverlays(ctx context.Context, a *attempt) (State, error) {
	f.cleanup(ctx, a, f.cfg.InitialCleanupRounds)
	return StateOpenLogin, nil
}

func (f *Flow) openLogin(ctx context.Context, a *attempt) (State, error) {
	field := a.sess.Locate(f.selectors.UsernameField)
	if visible, err := field.IsVisible(); err == nil && visible {
		a.log.Debug("credential form already visible")
		return StateFillCredentials, nil
	}

	for _, strategy := range f.loginStrategies() {
		if err := strategy.trigger(ctx, a); err != nil {
			a.log.Debug("login trigger failed", zap.String("strategy", strategy.name), zap.Error(err))
			continue
		}
		if err := f.sleep(ctx, f.cfg.LoginSettlePause); err != nil {
			return StateFailed, err
		}
		if err := field.WaitVisible(f.cfg.CredentialFieldTimeout); err != nil {
			a.log.Debug("credential form did not appear", zap.String("strategy", strategy.name))
			continue
		}
		a.log.Info("login form opened", zap.String("strategy", strategy.name))
		return StateFillCredentials, nil
	}
	return StateFailed, failure.ErrLoginControlNotFound
}

func (f *Flow) fillCredentials(ctx context.Context, a *attempt) (State, error) {
	f.cleanup(ctx, a, f.cfg.PreFillCleanupRounds)

	a.log.Info("filling credentials")
	user := a.sess.Locate(f.selectors.UsernameField)
	if err := user.Fill(a.account.Username); err != nil {
		return StateFailed, fmt.Errorf("%w: username: %v", failure.ErrCredentialFieldNotFound, err)
	}
	pass := a.sess.Locate(f.selectors.PasswordField)
	if err := pass.Fill(a.account.Password); err != nil {
		return StateFailed, fmt.Errorf("%w: password: %v", failure.ErrCredentialFieldNotFound, err)
	}
	if err := pass.Press(f.cfg.SubmitKey); err != nil {
		return StateFailed, fmt.Errorf("%w: submit: %v", failure.ErrCredentialFieldNotFound, err)
	}
	return StateAwaitResult, nil
}

func (f *Flow) awaitResult(ctx context.Context, a *attempt) (State, error) {
	if err := a.sess.WaitForLoad(ctx, f.cfg.LoadTimeout); err != nil {
		if ctx.Err() != nil {
			return StateFailed, ctx.Err()
		}
		a.log.Debug("load signal missed, pausing", zap.Error(err))
		if err := f.sleep(ctx, f.cfg.LoadFallbackPause); err != nil {
			return StateFailed, err
		}
	}
	return StateOTPCheck, nil
}

func (f *Flow) otpCheck(ctx context.Context, a *attempt) (State, error) {
	marker := f.cfg.SuccessURLMarker
	if marker == "" {
		return StatePostLoginCleanup, nil
	}

	for tick := 0; tick < f.cfg.OTPTicks; tick++ {
		if err := f.sleep(ctx, f.cfg.OTPTick); err != nil {
			return StateFailed, err
		}
		url := a.sess.CurrentURL()
		a.log.Debug("waiting for login marker", zap.Int("tick", tick+1), zap.String("url", url))
		if strings.Contains(url, marker) {
			return StatePostLoginCleanup, nil
		}
	}

	a.log.Warn("login marker never appeared, second factor assumed")
	return StateFailed, failure.ErrOTPRequired
}

func (f *Flow) postLoginCleanup(ctx context.Context, a *attempt) (State, error) {
	f.cleanup(ctx, a, f.cfg.PostLoginCleanupRounds)
	return StatePageReady, nil
}

func (f *Flow) pageReady(ctx context.Context, a *attempt) (State, error) {
	stable := 0
	checks := 0
	if f.cfg.ReadyInterval > 0 {
		checks = int(f.cfg.ReadyTimeout / f.cfg.ReadyInterval)
	}

	for i := 0; i < checks; i++ {
		if isPageReady(a.sess) {
			stable++
			if stable >= f.cfg.ReadyStableChecks {
				a.log.Debug("page stable")
				return StateBalancePoll, nil
			}
		} else {
			stable = 0
		}
		if err := f.sleep(ctx, f.cfg.ReadyInterval); err != nil {
			return StateFailed, err
		}
	}

	if checks > 0 {
		a.log.Debug("page never settled, proceeding")
	}
	return StateBalancePoll, nil
}

func (f *Flow) balancePoll(ctx context.Context, a *attempt) (State, error) {
	a.log.Info("looking for balance")

	for poll := 0; poll < f.cfg.BalancePolls; poll++ {
		if poll%f.cfg.BalanceClearEvery == 0 {
			report := f.overlay.QuickClear(ctx, a.sess)
			logReport(a.log, report)
		}

		if text, ok := f.readBalance(a); ok {
			a.balance = text
			a.log.Info("balance found", zap.String("balance", text), zap.Int("poll", poll+1))
			return StateDone, nil
		}

		if err := f.sleep(ctx, f.cfg.BalancePollInterval); err != nil {
			return StateFailed, err
		}
	}

	if err := a.sess.Screenshot(f.screenshotPath(a.account, "_BALANCE_TIMEOUT"), true); err != nil {
		a.log.Warn("diagnostic screenshot failed", zap.Error(err))
	}
	return StateFailed, failure.ErrBalanceTimeout
}

func (f *Flow) done(_ context.Context, a *attempt) (State, error) {
	return StateDone, a.sess.Screenshot(f.screenshotPath(a.account, ""), true)
}

// ============================================================================
// Helpers
// ============================================================================

func (f *Flow) readBalance(a *attempt) (string, bool) {
	el := a.sess.Locate(f.selectors.AvailableBalance)
	visible, err := el.IsVisible()
	if err != nil || !visible {
		return "", false
	}
	text, err := el.InnerText(f.cfg.BalanceTextTimeout)
	if err != nil {
		return "", false
	}
	text = strings.TrimSpace(text)
	if !AcceptBalance(text) {
		a.log.Debug("balance not ready", zap.String("text", text))
		return "", false
	}
	return text, true
}

func (f *Flow) cleanup(ctx context.Context, a *attempt, rounds int) {
	if rounds <= 0 {
		return
	}
	report := f.overlay.Cleanup(ctx, a.sess, rounds)
	logReport(a.log, report)
}

func (f *Flow) screenshotPath(acct types.Account, suffix string) string {
	return filepath.Join(f.cfg.ScreenshotDir, SafeFileName(acct.Username)+suffix+".png")
}

func logReport(log *zap.Logger, r overlay.Report) {
	if r.Removed > 0 || r.Clicked > 0 {
		log.Info("overlays dismissed", zap.Int("removed", r.Removed), zap.Int("clicked", r.Clicked))
	}
}

// SafeFileName replaces path separators and other unsafe characters so a
// username can be used as a file name.
func SafeFileName(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, name)
}
