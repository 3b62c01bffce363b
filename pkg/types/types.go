// Package types defines the core domain model shared by the balance-sweep packages.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the terminal status recorded for one account in the result log.
type Status string

const (
	StatusSuccess Status = "Success" // balance extracted, account checkpointed
	StatusFailed  Status = "Failed"  // retries exhausted or terminal failure
)

// NoBalance is written to the result log when no balance could be extracted.
const NoBalance = "N/A"

// TimestampLayout is the UTC layout used for result log timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// Account is one immutable input record. Username is unique within a run.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Outcome is the record appended to the result log once per terminal attempt.
type Outcome struct {
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Balance   string    `json:"balance"`
	Status    Status    `json:"status"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// SuccessOutcome builds the outcome for an extracted balance.
func SuccessOutcome(acct Account, balance string, at time.Time) Outcome {
	return Outcome{
		Username:  acct.Username,
		Password:  acct.Password,
		Balance:   balance,
		Status:    StatusSuccess,
		Timestamp: at.UTC(),
	}
}

// FailedOutcome builds the outcome for a definitive failure.
func FailedOutcome(acct Account, cause error, at time.Time) Outcome {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return Outcome{
		Username:  acct.Username,
		Password:  acct.Password,
		Balance:   NoBalance,
		Status:    StatusFailed,
		Error:     msg,
		Timestamp: at.UTC(),
	}
}

// ErrInvalidSelectors is returned when the selector configuration is incomplete.
var ErrInvalidSelectors = errors.New("selector config is incomplete")

// SelectorConfig maps logical UI roles to locator expressions. It is loaded once
// and read-only for the whole run.
type SelectorConfig struct {
	Website          string `json:"website"`
	LoginButton      string `json:"landing_page_login_button"`
	UsernameField    string `json:"username_field"`
	PasswordField    string `json:"password_field"`
	AvailableBalance string `json:"available_balance"`
}

// Validate reports the first missing role.
func (c SelectorConfig) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"website", c.Website},
		{"landing_page_login_button", c.LoginButton},
		{"username_field", c.UsernameField},
		{"password_field", c.PasswordField},
		{"available_balance", c.AvailableBalance},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: missing %s", ErrInvalidSelectors, f.name)
		}
	}
	return nil
}
