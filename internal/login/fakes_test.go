package login

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ChuLiYu/balance-sweep/internal/browser"
	"github.com/ChuLiYu/balance-sweep/internal/overlay"
)

// ============================================================================
// Fake browser
// ============================================================================

type fakeElement struct {
	name     string
	sess     *fakeSession
	visible  bool
	waitFn   func() error
	texts    []string
	clickErr error
	fillErr  error
	pressErr error

	clicks  int
	filled  []string
	pressed []string
}

func (e *fakeElement) IsVisible() (bool, error) { return e.visible, nil }

func (e *fakeElement) WaitVisible(time.Duration) error {
	if e.waitFn != nil {
		return e.waitFn()
	}
	if e.visible {
		return nil
	}
	return errors.New("timeout waiting for element")
}

func (e *fakeElement) InnerText(time.Duration) (string, error) {
	e.sess.record("text:" + e.name)
	if len(e.texts) == 0 {
		return "", nil
	}
	text := e.texts[0]
	if len(e.texts) > 1 {
		e.texts = e.texts[1:]
	}
	return text, nil
}

func (e *fakeElement) Click(time.Duration, bool) error {
	e.sess.record("click:" + e.name)
	e.clicks++
	return e.clickErr
}

func (e *fakeElement) Fill(text string) error {
	e.sess.record("fill:" + e.name)
	if e.fillErr != nil {
		return e.fillErr
	}
	e.filled = append(e.filled, text)
	return nil
}

func (e *fakeElement) Press(key string) error {
	e.sess.record("press:" + e.name)
	if e.pressErr != nil {
		return e.pressErr
	}
	e.pressed = append(e.pressed, key)
	return nil
}

// missingElement stands in for a selector that matches nothing.
type missingElement struct{}

func (missingElement) IsVisible() (bool, error)                { return false, nil }
func (missingElement) WaitVisible(time.Duration) error         { return browser.ErrNoElement }
func (missingElement) InnerText(time.Duration) (string, error) { return "", browser.ErrNoElement }
func (missingElement) Click(time.Duration, bool) error         { return browser.ErrNoElement }
func (missingElement) Fill(string) error                       { return browser.ErrNoElement }
func (missingElement) Press(string) error                      { return browser.ErrNoElement }

type fakeSession struct {
	mu sync.Mutex

	navErr   error
	title    string
	titleErr error
	loadErr  error
	urls     []string

	ready       bool
	scriptClick bool
	evalErr     error

	elements     map[string]*fakeElement
	textElements map[string]*fakeElement

	calls       []string
	navigations []string
	screenshots []string
	initScripts []string
	closed      int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		title:        "Bank",
		urls:         []string{"https://bank.example/home?uid=42"},
		ready:        true,
		elements:     map[string]*fakeElement{},
		textElements: map[string]*fakeElement{},
	}
}

func (s *fakeSession) element(selector string) *fakeElement {
	e := &fakeElement{name: selector, sess: s}
	s.elements[selector] = e
	return e
}

func (s *fakeSession) textElement(text string) *fakeElement {
	e := &fakeElement{name: "text=" + text, sess: s}
	s.textElements[text] = e
	return e
}

func (s *fakeSession) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeSession) AddInitScript(script string) error {
	s.initScripts = append(s.initScripts, script)
	return nil
}

func (s *fakeSession) Navigate(ctx context.Context, url string, _ time.Duration) error {
	s.navigations = append(s.navigations, url)
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.navErr
}

func (s *fakeSession) Evaluate(script string, _ any) (any, error) {
	if s.evalErr != nil {
		return nil, s.evalErr
	}
	switch script {
	case readyScript:
		return s.ready, nil
	case clickScript:
		s.record("script_click")
		return s.scriptClick, nil
	}
	return nil, nil
}

func (s *fakeSession) Locate(selector string) browser.Element {
	if e, ok := s.elements[selector]; ok {
		return e
	}
	return missingElement{}
}

func (s *fakeSession) LocateAll(selector string, _ int) ([]browser.Element, error) {
	if e, ok := s.elements[selector]; ok {
		return []browser.Element{e}, nil
	}
	return nil, nil
}

func (s *fakeSession) LocateText(text string) browser.Element {
	if e, ok := s.textElements[text]; ok {
		return e
	}
	return missingElement{}
}

func (s *fakeSession) WaitForLoad(context.Context, time.Duration) error { return s.loadErr }

func (s *fakeSession) CurrentURL() string {
	url := s.urls[0]
	if len(s.urls) > 1 {
		s.urls = s.urls[1:]
	}
	return url
}

func (s *fakeSession) Title() (string, error) { return s.title, s.titleErr }

func (s *fakeSession) Screenshot(path string, _ bool) error {
	s.screenshots = append(s.screenshots, path)
	return nil
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeDriver struct {
	sessions []*fakeSession
	next     func() *fakeSession
	err      error
}

func (d *fakeDriver) NewSession(context.Context, browser.SessionOptions) (browser.Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	s := d.next()
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDriver) Close() error { return nil }

// ============================================================================
// Fake overlay engine
// ============================================================================

type fakeDismisser struct {
	rounds      []int
	quickClears int
}

func (d *fakeDismisser) Cleanup(_ context.Context, _ overlay.Page, rounds int) overlay.Report {
	d.rounds = append(d.rounds, rounds)
	return overlay.Report{}
}

func (d *fakeDismisser) QuickClear(context.Context, overlay.Page) overlay.Report {
	d.quickClears++
	return overlay.Report{Removed: 1}
}
