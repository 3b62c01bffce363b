package browser

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// LaunchOptions configures the shared chromium process.
type LaunchOptions struct {
	Headless bool     `yaml:"headless"` // run without a window
	Install  bool     `yaml:"install"`  // download the driver and chromium before launching
	Args     []string `yaml:"args"`     // chromium flags, LaunchArgs when empty
}

// PlaywrightDriver owns one playwright instance and one chromium process.
// Every session is a separate browser context on that process.
type PlaywrightDriver struct {
	mu       sync.Mutex
	pw       *playwright.Playwright
	browser  playwright.Browser
	sessions map[*playwrightSession]struct{}
	logger   *zap.Logger
	closed   bool
}

// Launch starts playwright and chromium.
func Launch(opts LaunchOptions, logger *zap.Logger) (*PlaywrightDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}

	if opts.Install {
		logger.Info("installing playwright driver and chromium")
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	args := opts.Args
	if len(args) == 0 {
		args = LaunchArgs
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     args,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	logger.Info("browser launched", zap.Bool("headless", opts.Headless), zap.String("version", browser.Version()))

	return &PlaywrightDriver{
		pw:       pw,
		browser:  browser,
		sessions: make(map[*playwrightSession]struct{}),
		logger:   logger,
	}, nil
}

// NewSession creates an isolated browser context with one page.
func (d *PlaywrightDriver) NewSession(ctx context.Context, opts SessionOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("browser driver is closed")
	}

	bctx, err := d.browser.NewContext(contextOptions(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	if len(opts.BlockedResources) > 0 {
		blocked := slices.Clone(opts.BlockedResources)
		err := bctx.Route("**/*", func(route playwright.Route) {
			if slices.Contains(blocked, route.Request().ResourceType()) {
				_ = route.Abort()
				return
			}
			_ = route.Continue()
		})
		if err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("failed to install request filter: %w", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	if opts.DefaultTimeout > 0 {
		page.SetDefaultTimeout(millis(opts.DefaultTimeout))
	}

	sess := &playwrightSession{driver: d, context: bctx, page: page}
	d.sessions[sess] = struct{}{}
	return sess, nil
}

// Close closes every open session, the browser and playwright.
func (d *PlaywrightDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	for sess := range d.sessions {
		_ = sess.context.Close() // ignore errors, continue cleanup
		delete(d.sessions, sess)
	}

	var errs []error
	if err := d.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := d.pw.Stop(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing browser: %v", errs)
	}
	return nil
}

func (d *PlaywrightDriver) forget(sess *playwrightSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, sess)
}

// ============================================================================
// Session
// ============================================================================

type playwrightSession struct {
	driver  *PlaywrightDriver
	context playwright.BrowserContext
	page    playwright.Page
	once    sync.Once
}

func (s *playwrightSession) AddInitScript(script string) error {
	if err := s.context.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
		return fmt.Errorf("add init script failed: %w", err)
	}
	return nil
}

func (s *playwrightSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := playwright.PageGotoOptions{}
	if timeout > 0 {
		opts.Timeout = playwright.Float(millis(timeout))
	}
	if _, err := s.page.Goto(url, opts); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (s *playwrightSession) Evaluate(script string, arg any) (any, error) {
	var (
		value any
		err   error
	)
	if arg == nil {
		value, err = s.page.Evaluate(script)
	} else {
		value, err = s.page.Evaluate(script, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return value, nil
}

func (s *playwrightSession) Locate(selector string) Element {
	return &playwrightElement{locator: s.page.Locator(selector).First()}
}

func (s *playwrightSession) LocateAll(selector string, limit int) ([]Element, error) {
	locators, err := s.page.Locator(selector).All()
	if err != nil {
		return nil, fmt.Errorf("locate %q failed: %w", selector, err)
	}
	if limit > 0 && len(locators) > limit {
		locators = locators[:limit]
	}
	elements := make([]Element, 0, len(locators))
	for _, l := range locators {
		elements = append(elements, &playwrightElement{locator: l})
	}
	return elements, nil
}

func (s *playwrightSession) LocateText(text string) Element {
	loc := s.page.GetByText(text, playwright.PageGetByTextOptions{Exact: playwright.Bool(true)})
	return &playwrightElement{locator: loc.First()}
}

func (s *playwrightSession) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts := playwright.PageWaitForLoadStateOptions{State: playwright.LoadStateNetworkidle}
	if timeout > 0 {
		opts.Timeout = playwright.Float(millis(timeout))
	}
	if err := s.page.WaitForLoadState(opts); err != nil {
		return fmt.Errorf("wait for load failed: %w", err)
	}
	return nil
}

func (s *playwrightSession) CurrentURL() string {
	return s.page.URL()
}

func (s *playwrightSession) Title() (string, error) {
	return s.page.Title()
}

func (s *playwrightSession) Screenshot(path string, fullPage bool) error {
	_, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(fullPage),
	})
	if err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	return nil
}

func (s *playwrightSession) Close() error {
	var err error
	s.once.Do(func() {
		s.driver.forget(s)
		err = s.context.Close()
	})
	return err
}

// ============================================================================
// Element
// ============================================================================

type playwrightElement struct {
	locator playwright.Locator
}

func (e *playwrightElement) IsVisible() (bool, error) {
	return e.locator.IsVisible()
}

func (e *playwrightElement) WaitVisible(timeout time.Duration) error {
	return e.locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(millis(timeout)),
	})
}

func (e *playwrightElement) InnerText(timeout time.Duration) (string, error) {
	return e.locator.InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(millis(timeout)),
	})
}

func (e *playwrightElement) Click(timeout time.Duration, force bool) error {
	return e.locator.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(millis(timeout)),
		Force:   playwright.Bool(force),
	})
}

func (e *playwrightElement) Fill(text string) error {
	return e.locator.Fill(text)
}

func (e *playwrightElement) Press(key string) error {
	return e.locator.Press(key)
}

// contextOptions maps SessionOptions onto playwright's context options.
// Zero values leave playwright's defaults in place.
func contextOptions(opts SessionOptions) playwright.BrowserNewContextOptions {
	contextOpts := playwright.BrowserNewContextOptions{
		JavaScriptEnabled: playwright.Bool(!opts.DisableJavaScript),
	}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		contextOpts.Viewport = &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		}
	}
	if opts.UserAgent != "" {
		contextOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		contextOpts.Locale = playwright.String(opts.Locale)
	}
	if opts.TimezoneID != "" {
		contextOpts.TimezoneId = playwright.String(opts.TimezoneID)
	}
	if opts.Geolocation != nil {
		contextOpts.Geolocation = &playwright.Geolocation{
			Latitude:  opts.Geolocation.Latitude,
			Longitude: opts.Geolocation.Longitude,
			Accuracy:  playwright.Float(opts.Geolocation.Accuracy),
		}
		contextOpts.Permissions = []string{"geolocation"}
	}
	if len(opts.ExtraHeaders) > 0 {
		contextOpts.ExtraHttpHeaders = opts.ExtraHeaders
	}
	return contextOpts
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
