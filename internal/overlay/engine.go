// ============================================================================
// Overlay Dismissal Engine
// ============================================================================
//
// Package: internal/overlay
// File: engine.go
// Purpose: best-effort removal of anything rendered above the credential form
// or the balance element, without knowing the site's markup.
//
// Two passes make up one cleanup round:
//   1. PurgeByHeuristics - one script evaluation removes elements matched by
//      known ids/classes, very high z-index boxes, and large fixed/absolute
//      backdrops; it also unlocks body scrolling
//   2. ClickKnownCloseControls - forced clicks on visible close buttons
//
// Dismissal is heuristic: callers repeat rounds at every stage transition and
// a failed pass never aborts the login flow.
//
// ============================================================================

package overlay

import (
	"context"
	"time"

	"github.com/ChuLiYu/balance-sweep/internal/browser"
	"github.com/ChuLiYu/balance-sweep/internal/clock"
	"go.uber.org/zap"
)

// Page is the part of a browser session the engine needs.
type Page interface {
	Evaluate(script string, arg any) (any, error)
	LocateAll(selector string, limit int) ([]browser.Element, error)
}

// Config holds the heuristic thresholds and selector lists.
type Config struct {
	OverlayIDs            []string      `yaml:"overlay_ids"`
	OverlayClasses        []string      `yaml:"overlay_classes"`
	ZIndexThreshold       int           `yaml:"z_index_threshold"`
	MinWidth              int           `yaml:"min_width"`
	MinHeight             int           `yaml:"min_height"`
	CoverWidthRatio       float64       `yaml:"cover_width_ratio"`
	CoverHeightRatio      float64       `yaml:"cover_height_ratio"`
	CloseSelectors        []string      `yaml:"close_selectors"`
	MaxMatchesPerSelector int           `yaml:"max_matches_per_selector"`
	ClickTimeout          time.Duration `yaml:"click_timeout"`
	ClickPause            time.Duration `yaml:"click_pause"`
	SettlePause           time.Duration `yaml:"settle_pause"`
}

// DefaultConfig returns the thresholds tuned against the target site.
func DefaultConfig() Config {
	return Config{
		OverlayIDs:            DefaultOverlayIDs,
		OverlayClasses:        DefaultOverlayClasses,
		ZIndexThreshold:       9000,
		MinWidth:              500,
		MinHeight:             300,
		CoverWidthRatio:       0.8,
		CoverHeightRatio:      0.5,
		CloseSelectors:        DefaultCloseSelectors,
		MaxMatchesPerSelector: 3,
		ClickTimeout:          300 * time.Millisecond,
		ClickPause:            100 * time.Millisecond,
		SettlePause:           300 * time.Millisecond,
	}
}

// Report is what one round achieved. Used for diagnostics only.
type Report struct {
	Removed int
	Clicked int
}

// Add accumulates another report.
func (r *Report) Add(o Report) {
	r.Removed += o.Removed
	r.Clicked += o.Clicked
}

// Engine runs the dismissal passes. It holds no per-page state and is shared
// by all workers.
type Engine struct {
	cfg       Config
	logger    *zap.Logger
	sleep     clock.Sleeper
	onRemoved func(n int)
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSleeper replaces the pause implementation.
func WithSleeper(s clock.Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithRemovalObserver is called with the count of every purge that removed something.
func WithRemovalObserver(fn func(n int)) Option {
	return func(e *Engine) { e.onRemoved = fn }
}

// NewEngine builds an engine. Zero config fields fall back to DefaultConfig.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    withDefaults(cfg),
		logger: zap.NewNop(),
		sleep:  clock.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// PurgeByHeuristics removes blocking elements and returns how many it removed.
func (e *Engine) PurgeByHeuristics(ctx context.Context, page Page) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	arg := map[string]any{
		"ids":         e.cfg.OverlayIDs,
		"classes":     e.cfg.OverlayClasses,
		"zIndex":      e.cfg.ZIndexThreshold,
		"minWidth":    e.cfg.MinWidth,
		"minHeight":   e.cfg.MinHeight,
		"coverWidth":  e.cfg.CoverWidthRatio,
		"coverHeight": e.cfg.CoverHeightRatio,
	}

	value, err := page.Evaluate(purgeScript, arg)
	if err != nil {
		e.logger.Debug("overlay purge failed", zap.Error(err))
		return 0, err
	}

	removed := toInt(value)
	if removed > 0 && e.onRemoved != nil {
		e.onRemoved(removed)
	}
	return removed, nil
}

// ClickKnownCloseControls force-clicks up to MaxMatchesPerSelector visible
// matches of every close selector. Per-element failures are swallowed.
func (e *Engine) ClickKnownCloseControls(ctx context.Context, page Page) int {
	clicked := 0
	for _, selector := range e.cfg.CloseSelectors {
		if ctx.Err() != nil {
			return clicked
		}

		elements, err := page.LocateAll(selector, e.cfg.MaxMatchesPerSelector)
		if err != nil {
			continue
		}
		if len(elements) > e.cfg.MaxMatchesPerSelector {
			elements = elements[:e.cfg.MaxMatchesPerSelector]
		}

		for _, el := range elements {
			visible, err := el.IsVisible()
			if err != nil || !visible {
				continue
			}
			if err := el.Click(e.cfg.ClickTimeout, true); err != nil {
				continue
			}
			clicked++
			if err := e.sleep(ctx, e.cfg.ClickPause); err != nil {
				return clicked
			}
		}
	}
	return clicked
}

// CleanupRound purges, lets the DOM settle, clicks close controls, settles again.
func (e *Engine) CleanupRound(ctx context.Context, page Page) Report {
	var report Report

	removed, _ := e.PurgeByHeuristics(ctx, page)
	report.Removed = removed
	if e.sleep(ctx, e.cfg.SettlePause) != nil {
		return report
	}

	report.Clicked = e.ClickKnownCloseControls(ctx, page)
	_ = e.sleep(ctx, e.cfg.SettlePause)
	return report
}

// Cleanup runs rounds cleanup rounds and returns the combined report.
func (e *Engine) Cleanup(ctx context.Context, page Page, rounds int) Report {
	var total Report
	for i := 0; i < rounds; i++ {
		if ctx.Err() != nil {
			break
		}
		total.Add(e.CleanupRound(ctx, page))
	}
	return total
}

// QuickClear is one purge plus one click pass with no settle pauses. The
// balance poll uses it between reads.
func (e *Engine) QuickClear(ctx context.Context, page Page) Report {
	removed, _ := e.PurgeByHeuristics(ctx, page)
	return Report{
		Removed: removed,
		Clicked: e.ClickKnownCloseControls(ctx, page),
	}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.OverlayIDs == nil {
		cfg.OverlayIDs = def.OverlayIDs
	}
	if cfg.OverlayClasses == nil {
		cfg.OverlayClasses = def.OverlayClasses
	}
	if cfg.ZIndexThreshold <= 0 {
		cfg.ZIndexThreshold = def.ZIndexThreshold
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = def.MinWidth
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = def.MinHeight
	}
	if cfg.CoverWidthRatio <= 0 {
		cfg.CoverWidthRatio = def.CoverWidthRatio
	}
	if cfg.CoverHeightRatio <= 0 {
		cfg.CoverHeightRatio = def.CoverHeightRatio
	}
	if cfg.CloseSelectors == nil {
		cfg.CloseSelectors = def.CloseSelectors
	}
	if cfg.MaxMatchesPerSelector <= 0 {
		cfg.MaxMatchesPerSelector = def.MaxMatchesPerSelector
	}
	if cfg.ClickTimeout <= 0 {
		cfg.ClickTimeout = def.ClickTimeout
	}
	if cfg.ClickPause < 0 {
		cfg.ClickPause = 0
	}
	if cfg.SettlePause < 0 {
		cfg.SettlePause = 0
	}
	return cfg
}

// toInt converts a script result number. Playwright hands back int for whole
// numbers and float64 otherwise.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
