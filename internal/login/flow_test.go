package login

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChuLiYu/balance-sweep/internal/clock"
	"github.com/ChuLiYu/balance-sweep/internal/failure"
	"github.com/ChuLiYu/balance-sweep/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSelectors = types.SelectorConfig{
	Website:          "https://bank.example",
	LoginButton:      "#login",
	UsernameField:    "#user",
	PasswordField:    "#pass",
	AvailableBalance: ".balance",
}

var alice = types.Account{Username: "alice", Password: "s3cret"}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.OTPTicks = 3
	cfg.ReadyTimeout = 4 * time.Millisecond
	cfg.ReadyInterval = time.Millisecond
	cfg.ReadyStableChecks = 2
	cfg.BalancePolls = 6
	cfg.ScreenshotDir = "shots"
	return cfg
}

// loginPage wires a session whose login button reveals the form.
func loginPage() *fakeSession {
	s := newFakeSession()
	btn := s.element("#login")
	user := s.element("#user")
	user.waitFn = func() error {
		if btn.clicks > 0 {
			return nil
		}
		return errors.New("not visible")
	}
	s.element("#pass")
	bal := s.element(".balance")
	bal.visible = true
	bal.texts = []string{"₹1,000.00"}
	return s
}

func newTestFlow(cfg Config, d Dismisser) *Flow {
	return NewFlow(cfg, testSelectors, d, WithFlowSleeper(clock.NoSleep))
}

func TestFlowHappyPath(t *testing.T) {
	sess := loginPage()
	d := &fakeDismisser{}
	flow := newTestFlow(testConfig(), d)

	result, err := flow.Run(context.Background(), sess, alice)
	require.NoError(t, err)

	assert.Equal(t, StateDone, result.State)
	assert.Equal(t, "₹1,000.00", result.Balance)
	assert.Equal(t, []State{
		StateNavigate, StateClearOverlays, StateOpenLogin, StateFillCredentials,
		StateAwaitResult, StateOTPCheck, StatePostLoginCleanup, StatePageReady,
		StateBalancePoll, StateDone,
	}, result.Trace)

	assert.Equal(t, []string{"https://bank.example"}, sess.navigations)
	assert.Equal(t, []string{"alice"}, sess.elements["#user"].filled)
	assert.Equal(t, []string{"s3cret"}, sess.elements["#pass"].filled)
	assert.Equal(t, []string{"Enter"}, sess.elements["#pass"].pressed)
	assert.Equal(t, []string{filepath.Join("shots", "alice.png")}, sess.screenshots)
	assert.Equal(t, []int{2, 1, 4}, d.rounds, "initial, pre-fill and post-login cleanups")
}

func TestFlowBalanceLoadingThenValue(t *testing.T) {
	sess := loginPage()
	sess.elements[".balance"].texts = []string{"Loading...", "Loading...", "Loading...", "₹4,582.10"}
	d := &fakeDismisser{}
	flow := newTestFlow(testConfig(), d)

	result, err := flow.Run(context.Background(), sess, alice)
	require.NoError(t, err)
	assert.Equal(t, "₹4,582.10", result.Balance)

	reads := 0
	for _, c := range sess.calls {
		if c == "text:.balance" {
			reads++
		}
	}
	assert.Equal(t, 4, reads)
	assert.Equal(t, 2, d.quickClears, "overlays purged on polls 1 and 3")
}

func TestFlowBalanceTimeout(t *testing.T) {
	sess := loginPage()
	sess.elements[".balance"].texts = []string{"…"}
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	result, err := flow.Run(context.Background(), sess, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrBalanceTimeout)
	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, sess.screenshots, filepath.Join("shots", "alice_BALANCE_TIMEOUT.png"))

	var step *failure.StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, string(StateBalancePoll), step.State)
}

func TestFlowNavigationBlocked(t *testing.T) {
	sess := loginPage()
	sess.navErr = errors.New("net::ERR_CONNECTION_RESET")
	sess.title = "  "
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	result, err := flow.Run(context.Background(), sess, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrBlocked)
	assert.Equal(t, failure.WorkerFatal, failure.Classify(err))
	assert.Equal(t, []State{StateNavigate, StateFailed}, result.Trace)
	assert.Empty(t, sess.screenshots)
}

func TestFlowNavigationTimeout(t *testing.T) {
	sess := loginPage()
	sess.navErr = errors.New("timeout 120000ms exceeded")
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	_, err := flow.Run(context.Background(), sess, alice)
	assert.ErrorIs(t, err, failure.ErrNavigationTimeout)
	assert.Equal(t, failure.Transient, failure.Classify(err))
}

func TestFlowNavigationTitleUnreadable(t *testing.T) {
	sess := loginPage()
	sess.navErr = errors.New("target closed")
	sess.title = ""
	sess.titleErr = errors.New("target closed")
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	_, err := flow.Run(context.Background(), sess, alice)
	assert.ErrorIs(t, err, failure.ErrNavigationTimeout)
}

func TestFlowOTPRequired(t *testing.T) {
	sess := loginPage()
	sess.urls = []string{"https://bank.example/verify"}
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	result, err := flow.Run(context.Background(), sess, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrOTPRequired)
	assert.Equal(t, failure.AccountTerminal, failure.Classify(err))
	assert.Equal(t, StateOTPCheck, result.Trace[len(result.Trace)-2])
	assert.Contains(t, err.Error(), "OTP required - account skipped")
}

func TestFlowOTPMarkerAppearsLate(t *testing.T) {
	sess := loginPage()
	sess.urls = []string{"https://bank.example/login", "https://bank.example/login", "https://bank.example/home?uid=7"}
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	result, err := flow.Run(context.Background(), sess, alice)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
}

func TestFlowOTPCheckDisabled(t *testing.T) {
	sess := loginPage()
	sess.urls = []string{"https://bank.example/dashboard"}
	cfg := testConfig()
	cfg.SuccessURLMarker = ""
	flow := newTestFlow(cfg, &fakeDismisser{})

	result, err := flow.Run(context.Background(), sess, alice)
	require.NoError(t, err)
	assert.Equal(t, StateDone, result.State)
}

func TestFlowLoginStrategyFallback(t *testing.T) {
	sess := loginPage()
	btn := sess.elements["#login"]
	btn.clickErr = errors.New("element is not visible")
	text := sess.textElement("Login")
	sess.elements["#user"].waitFn = func() error {
		if text.clicks > 0 {
			return nil
		}
		return errors.New("not visible")
	}
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	_, err := flow.Run(context.Background(), sess, alice)
	require.NoError(t, err)

	var triggers []string
	for _, c := range sess.calls {
		switch c {
		case "click:#login", "script_click", "click:text=Login":
			triggers = append(triggers, c)
		}
	}
	assert.Equal(t, []string{"click:#login", "script_click", "click:text=Login"}, triggers)
}

func TestFlowLoginScriptClick(t *testing.T) {
	sess := loginPage()
	sess.elements["#login"].clickErr = errors.New("intercepted")
	sess.scriptClick = true
	sess.elements["#user"].waitFn = func() error { return nil }
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	_, err := flow.Run(context.Background(), sess, alice)
	require.NoError(t, err)
	assert.Contains(t, sess.calls, "script_click")
	assert.NotContains(t, sess.calls, "click:text=Login")
}

func TestFlowLoginControlNotFound(t *testing.T) {
	sess := loginPage()
	sess.elements["#login"].clickErr = errors.New("not found")
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	_, err := flow.Run(context.Background(), sess, alice)
	assert.ErrorIs(t, err, failure.ErrLoginControlNotFound)
	assert.Equal(t, failure.Transient, failure.Classify(err))
}

func TestFlowFormAlreadyVisible(t *testing.T) {
	sess := loginPage()
	sess.elements["#user"].visible = true
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	_, err := flow.Run(context.Background(), sess, alice)
	require.NoError(t, err)
	assert.Zero(t, sess.elements["#login"].clicks)
}

func TestFlowCredentialFieldMissing(t *testing.T) {
	sess := loginPage()
	delete(sess.elements, "#pass")
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	_, err := flow.Run(context.Background(), sess, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrCredentialFieldNotFound)

	var step *failure.StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, string(StateFillCredentials), step.State)
}

func TestFlowLoadFallbackPause(t *testing.T) {
	sess := loginPage()
	sess.loadErr = errors.New("timeout")
	var slept []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	cfg := testConfig()
	cfg.LoadFallbackPause = 42 * time.Millisecond
	flow := NewFlow(cfg, testSelectors, &fakeDismisser{}, WithFlowSleeper(sleeper))

	_, err := flow.Run(context.Background(), sess, alice)
	require.NoError(t, err)
	assert.Contains(t, slept, 42*time.Millisecond)
}

func TestFlowPageNeverReadyStillPolls(t *testing.T) {
	sess := loginPage()
	sess.ready = false
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	result, err := flow.Run(context.Background(), sess, alice)
	require.NoError(t, err)
	assert.Equal(t, "₹1,000.00", result.Balance)
}

func TestFlowCanceled(t *testing.T) {
	sess := loginPage()
	flow := newTestFlow(testConfig(), &fakeDismisser{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := flow.Run(ctx, sess, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, failure.Canceled, failure.Classify(err))
	assert.Equal(t, StateFailed, result.State)
}

func TestSafeFileName(t *testing.T) {
	assert.Equal(t, "alice", SafeFileName("alice"))
	assert.Equal(t, "a_b_c", SafeFileName("a/b\\c"))
	assert.Equal(t, "user_1", SafeFileName("user:1"))
	assert.Equal(t, "_", SafeFileName(""))
}
