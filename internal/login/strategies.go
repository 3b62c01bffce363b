package login

import (
	"context"

	"github.com/ChuLiYu/balance-sweep/internal/browser"
)

// loginStrategy is one way of revealing the credential form. Strategies are
// tried in order until the username field becomes visible.
type loginStrategy struct {
	name    string
	trigger func(ctx context.Context, a *attempt) error
}

// clickScript clicks the first element matching the selector argument and
// reports whether one was found.
const clickScript = `(selector) => {
    const el = document.querySelector(selector);
    if (!el) return false;
    el.click();
    return true;
}`

func (f *Flow) loginStrategies() []loginStrategy {
	return []loginStrategy{
		{name: "selector_click", trigger: f.clickLoginSelector},
		{name: "script_click", trigger: f.scriptClickLoginSelector},
		{name: "text_click", trigger: f.clickLoginText},
	}
}

func (f *Flow) clickLoginSelector(_ context.Context, a *attempt) error {
	return a.sess.Locate(f.selectors.LoginButton).Click(f.cfg.LoginClickTimeout, false)
}

func (f *Flow) scriptClickLoginSelector(_ context.Context, a *attempt) error {
	value, err := a.sess.Evaluate(clickScript, f.selectors.LoginButton)
	if err != nil {
		return err
	}
	if found, ok := value.(bool); !ok || !found {
		return browser.ErrNoElement
	}
	return nil
}

func (f *Flow) clickLoginText(_ context.Context, a *attempt) error {
	if f.cfg.LoginText == "" {
		return browser.ErrNoElement
	}
	return a.sess.LocateText(f.cfg.LoginText).Click(f.cfg.LoginClickTimeout, false)
}
