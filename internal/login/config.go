package login

import "time"

// Config bounds every wait in the login flow.
type Config struct {
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	PostNavigatePause time.Duration `yaml:"post_navigate_pause"`

	InitialCleanupRounds   int `yaml:"initial_cleanup_rounds"`
	PreFillCleanupRounds   int `yaml:"pre_fill_cleanup_rounds"`
	PostLoginCleanupRounds int `yaml:"post_login_cleanup_rounds"`

	LoginClickTimeout      time.Duration `yaml:"login_click_timeout"`
	LoginSettlePause       time.Duration `yaml:"login_settle_pause"`
	CredentialFieldTimeout time.Duration `yaml:"credential_field_timeout"`
	LoginText              string        `yaml:"login_text"`
	SubmitKey              string        `yaml:"submit_key"`

	LoadTimeout       time.Duration `yaml:"load_timeout"`
	LoadFallbackPause time.Duration `yaml:"load_fallback_pause"`

	// SuccessURLMarker appears in the URL after a login that needed no second
	// factor. Empty disables the OTP check.
	SuccessURLMarker string        `yaml:"success_url_marker"`
	OTPTicks         int           `yaml:"otp_ticks"`
	OTPTick          time.Duration `yaml:"otp_tick"`

	ReadyTimeout      time.Duration `yaml:"ready_timeout"`
	ReadyInterval     time.Duration `yaml:"ready_interval"`
	ReadyStableChecks int           `yaml:"ready_stable_checks"`

	BalancePolls        int           `yaml:"balance_polls"`
	BalancePollInterval time.Duration `yaml:"balance_poll_interval"`
	BalanceTextTimeout  time.Duration `yaml:"balance_text_timeout"`
	BalanceClearEvery   int           `yaml:"balance_clear_every"`

	ScreenshotDir     string        `yaml:"screenshot_dir"`
	DiagnosticTimeout time.Duration `yaml:"diagnostic_timeout"`
}

// DefaultConfig returns the timings the flow was tuned with.
func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 120 * time.Second,
		PostNavigatePause: 2 * time.Second,

		InitialCleanupRounds:   2,
		PreFillCleanupRounds:   1,
		PostLoginCleanupRounds: 4,

		LoginClickTimeout:      30 * time.Second,
		LoginSettlePause:       time.Second,
		CredentialFieldTimeout: 10 * time.Second,
		LoginText:              "Login",
		SubmitKey:              "Enter",

		LoadTimeout:       60 * time.Second,
		LoadFallbackPause: 3 * time.Second,

		SuccessURLMarker: "?uid=",
		OTPTicks:         20,
		OTPTick:          time.Second,

		ReadyTimeout:      30 * time.Second,
		ReadyInterval:     500 * time.Millisecond,
		ReadyStableChecks: 6,

		BalancePolls:        20,
		BalancePollInterval: 1500 * time.Millisecond,
		BalanceTextTimeout:  time.Second,
		BalanceClearEvery:   2,

		ScreenshotDir:     "screenshots",
		DiagnosticTimeout: 30 * time.Second,
	}
}
