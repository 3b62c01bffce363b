package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSuccessOutcome(t *testing.T) {
	at := time.Date(2024, 3, 1, 17, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))
	out := SuccessOutcome(Account{Username: "alice", Password: "pw"}, "₹12.50", at)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, "₹12.50", out.Balance)
	assert.Empty(t, out.Error)
	assert.Equal(t, time.UTC, out.Timestamp.Location())
	assert.Equal(t, "2024-03-01 12:00:00", out.Timestamp.Format(TimestampLayout))
}

func TestFailedOutcome(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	out := FailedOutcome(Account{Username: "bob", Password: "pw"}, errors.New("OTP required - account skipped"), at)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, NoBalance, out.Balance)
	assert.Equal(t, "OTP required - account skipped", out.Error)
	assert.Equal(t, "pw", out.Password)

	out = FailedOutcome(Account{Username: "bob"}, nil, at)
	assert.Empty(t, out.Error)
}

func TestSelectorConfigValidate(t *testing.T) {
	valid := SelectorConfig{
		Website:          "https://bank.example",
		LoginButton:      "#login",
		UsernameField:    "#user",
		PasswordField:    "#pass",
		AvailableBalance: ".balance",
	}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*SelectorConfig)
		missing string
	}{
		{"website", func(c *SelectorConfig) { c.Website = "" }, "website"},
		{"login button blank", func(c *SelectorConfig) { c.LoginButton = "   " }, "landing_page_login_button"},
		{"username", func(c *SelectorConfig) { c.UsernameField = "" }, "username_field"},
		{"password", func(c *SelectorConfig) { c.PasswordField = "" }, "password_field"},
		{"balance", func(c *SelectorConfig) { c.AvailableBalance = "" }, "available_balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrInvalidSelectors)
			assert.Contains(t, err.Error(), tt.missing)
		})
	}
}
