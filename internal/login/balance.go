package login

import (
	"strings"
	"unicode"

	"github.com/ChuLiYu/balance-sweep/internal/browser"
)

// loadingMarkers disqualify a balance text. Compared case-insensitively.
var loadingMarkers = []string{"loading", "...", "…"}

// AcceptBalance reports whether text looks like a rendered balance: it has at
// least one digit and no loading indicator.
func AcceptBalance(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	lower := strings.ToLower(text)
	for _, m := range loadingMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}

	return strings.IndexFunc(text, unicode.IsDigit) >= 0
}

// readyScript reports whether the document finished loading, no jQuery
// animation is running and no spinner is visible.
const readyScript = `() => {
    if (document.readyState !== 'complete') return false;
    if (typeof jQuery !== 'undefined' && jQuery(':animated').length > 0) return false;
    const busy = document.querySelectorAll('[class*="loading"], [class*="spinner"], [id*="loading"], [id*="spinner"]');
    for (const el of busy) {
        const style = window.getComputedStyle(el);
        if (style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0') {
            return false;
        }
    }
    return true;
}`

func isPageReady(sess browser.Session) bool {
	value, err := sess.Evaluate(readyScript, nil)
	if err != nil {
		return false
	}
	ready, ok := value.(bool)
	return ok && ready
}
