package overlay

// purgeScript removes blocking elements and returns how many it removed.
// It receives the heuristic thresholds as its single argument.
const purgeScript = `(opts) => {
    let count = 0;
    const drop = (el) => {
        if (el && el.isConnected && el !== document.body && el !== document.documentElement) {
            el.remove();
            count++;
        }
    };

    for (const id of opts.ids) {
        drop(document.getElementById(id));
    }

    for (const cls of opts.classes) {
        const live = document.getElementsByClassName(cls);
        for (const el of Array.from(live)) {
            drop(el);
        }
    }

    for (const el of Array.from(document.querySelectorAll('*'))) {
        if (!el.isConnected) continue;
        const z = parseInt(window.getComputedStyle(el).zIndex, 10);
        if (Number.isNaN(z) || z <= opts.zIndex) continue;
        const rect = el.getBoundingClientRect();
        if (rect.width > opts.minWidth && rect.height > opts.minHeight) {
            drop(el);
        }
    }

    const nearBlack = (bg) => {
        const m = bg.match(/rgba?\(([^)]+)\)/);
        if (!m) return false;
        const parts = m[1].split(',').map((p) => parseFloat(p));
        if (parts.length === 4 && parts[3] < 1) return true;
        return parts[0] < 40 && parts[1] < 40 && parts[2] < 40;
    };

    for (const div of Array.from(document.querySelectorAll('div'))) {
        if (!div.isConnected) continue;
        const style = window.getComputedStyle(div);
        if (style.position !== 'fixed' && style.position !== 'absolute') continue;
        if (style.display === 'none') continue;
        const rect = div.getBoundingClientRect();
        if (rect.width <= window.innerWidth * opts.coverWidth) continue;
        if (rect.height <= window.innerHeight * opts.coverHeight) continue;
        if (parseFloat(style.opacity) < 1 || nearBlack(style.backgroundColor)) {
            drop(div);
        }
    }

    if (document.body) {
        document.body.style.overflow = 'auto';
        document.body.classList.remove('modal-open');
    }
    if (document.documentElement) {
        document.documentElement.style.overflow = 'auto';
    }

    return count;
}`

// DefaultOverlayIDs are element ids known to host blocking overlays.
var DefaultOverlayIDs = []string{
	"strEchApp_ovrlay", "aviatrix-container_overlay", "mainPopupWrpr",
	"popup-overlay", "modal-overlay", "app-download-popup", "switchuser_riv",
	"modal", "popup", "overlay", "dialog",
}

// DefaultOverlayClasses are class names known to mark blocking overlays.
var DefaultOverlayClasses = []string{
	"modal-backdrop", "overlay", "popup-container", "modal", "popup",
	"dialog", "fade", "show", "aviatrix-container_overlay",
	"instamatch-container_overlay", "mainPopupWrpr", "switchuser_riv",
}

// DefaultCloseSelectors are tried in order by ClickKnownCloseControls.
var DefaultCloseSelectors = []string{
	// generic
	"button[aria-label='Close']",
	"button[title='Close']",
	"[class*='close']",
	"[class*='Close']",
	"[id*='close']",
	"[id*='Close']",
	"button.close",
	"button.btn-close",
	".modal-close",
	".popup-close",

	// site specific
	"button.animCLseBtn",
	"button.mnPopupClose",
	"button.pgSoftClsBtn",
	".animCLseBtn",
	".mnPopupClose",
	".pgSoftClsBtn",

	// text buttons
	"button:has-text('×')",
	"button:has-text('X')",
	"button:has-text('Close')",
	"span:has-text('×')",

	// anything clickable inside an overlay
	".modal button",
	".popup button",
	".overlay button",
	"[class*='overlay'] button",
	"[class*='popup'] button",
	"[class*='modal'] button",
}
