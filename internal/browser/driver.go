// Package browser defines the browser capability the sweeper consumes and a
// playwright-backed implementation of it.
//
// The login flow and the overlay engine only see the interfaces in this file,
// so both are tested against in-memory fakes.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNoElement is returned when a locator matches nothing.
var ErrNoElement = errors.New("browser: no element matches selector")

// Viewport is the page size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Geolocation is the emulated position reported to the page.
type Geolocation struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Accuracy  float64 `yaml:"accuracy"`
}

// SessionOptions configures one isolated browsing context.
type SessionOptions struct {
	Viewport          Viewport          `yaml:"viewport"`
	UserAgent         string            `yaml:"user_agent"`
	Locale            string            `yaml:"locale"`
	TimezoneID        string            `yaml:"timezone_id"`
	Geolocation       *Geolocation      `yaml:"geolocation"`
	ExtraHeaders      map[string]string `yaml:"extra_headers"`
	BlockedResources  []string          `yaml:"blocked_resources"` // resource types aborted by the request filter
	DefaultTimeout    time.Duration     `yaml:"default_timeout"`
	DisableJavaScript bool              `yaml:"disable_javascript"`
}

// Driver creates isolated sessions on one shared browser process.
type Driver interface {
	NewSession(ctx context.Context, opts SessionOptions) (Session, error)
	Close() error
}

// Session is one isolated browsing context with a single page.
type Session interface {
	// AddInitScript runs script on every new document before page scripts.
	AddInitScript(script string) error
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Evaluate(script string, arg any) (any, error)
	// Locate returns the first match for selector.
	Locate(selector string) Element
	// LocateAll returns at most limit matches for selector.
	LocateAll(selector string, limit int) ([]Element, error)
	// LocateText returns the first element whose text is exactly text.
	LocateText(text string) Element
	WaitForLoad(ctx context.Context, timeout time.Duration) error
	CurrentURL() string
	Title() (string, error)
	Screenshot(path string, fullPage bool) error
	Close() error
}

// Element is a lazily resolved handle to a page element.
type Element interface {
	IsVisible() (bool, error)
	WaitVisible(timeout time.Duration) error
	InnerText(timeout time.Duration) (string, error)
	// Click clicks the element. force skips actionability checks.
	Click(timeout time.Duration, force bool) error
	Fill(text string) error
	Press(key string) error
}

// DefaultSessionOptions mirrors a desktop Chrome on Windows.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		Viewport:         Viewport{Width: 1920, Height: 1080},
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		Locale:           "en-US",
		BlockedResources: []string{"image", "media", "font", "stylesheet"},
		DefaultTimeout:   30 * time.Second,
	}
}
