package login

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcceptBalance(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"₹4,582.10", true},
		{"  1,000  ", true},
		{"0", true},
		{"INR 12.5", true},
		{"", false},
		{"   ", false},
		{"Loading...", false},
		{"LOADING 100", false},
		{"12...", false},
		{"₹ …", false},
		{"N/A", false},
		{"₹", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, AcceptBalance(tt.text))
		})
	}
}

func TestIsPageReady(t *testing.T) {
	sess := newFakeSession()
	assert.True(t, isPageReady(sess))

	sess.ready = false
	assert.False(t, isPageReady(sess))

	sess.ready = true
	sess.evalErr = errors.New("execution context was destroyed")
	assert.False(t, isPageReady(sess))
}
