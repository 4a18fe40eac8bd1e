package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// TabOptions shape a new tab.
type TabOptions struct {
	// PreloadSelectors are injected as a stylesheet before any page script
	// runs, so known selectors hide content from the first paint.
	PreloadSelectors []string
	// PreloadExceptions are recorded on the preload stylesheet so the
	// session never applies them.
	PreloadExceptions []string
	// PreloadClass and ExceptionsAttr name the stylesheet marker.
	PreloadClass   string
	ExceptionsAttr string
}

// Tab is a stealth page navigated to one URL.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string
}

// OpenTab creates a stealth tab, installs the preload stylesheet and
// navigates to pageURL, waiting for the load event.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string, opts TabOptions) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if js := PreloadScript(opts); js != "" {
		if _, err := page.EvalOnNewDocument(js); err != nil {
			mgr.cfg.Logger.Warn("browser: preload stylesheet", "url", pageURL, "error", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, mgr.cfg.LoadTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	return &Tab{Page: page, PageURL: pageURL, PageID: pageID}, nil
}

// HTML serialises the current DOM.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("browser: get DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page == nil {
		return nil
	}
	return t.Page.Close()
}

// PreloadScript returns the document-start script that installs the
// preload stylesheet, or "" when there is nothing to preload.
func PreloadScript(opts TabOptions) string {
	if len(opts.PreloadSelectors) == 0 && len(opts.PreloadExceptions) == 0 {
		return ""
	}
	class := opts.PreloadClass
	if class == "" {
		class = "cosmetic-preload"
	}
	attr := opts.ExceptionsAttr
	if attr == "" {
		attr = "data-cosmetic-exceptions"
	}
	exceptions := opts.PreloadExceptions
	if exceptions == nil {
		exceptions = []string{}
	}
	exJSON, _ := json.Marshal(exceptions)
	css := ""
	if len(opts.PreloadSelectors) > 0 {
		css = strings.Join(opts.PreloadSelectors, ",\n") + "\n{display:none !important;}"
	}
	// Every dynamic value goes through JSON so it lands as a string literal.
	q := func(s string) string {
		b, _ := json.Marshal(s)
		return string(b)
	}
	return `(() => {
	const s = document.createElement('style');
	s.className = ` + q(class) + `;
	s.setAttribute(` + q(attr) + `, ` + q(string(exJSON)) + `);
	s.textContent = ` + q(css) + `;
	(document.head || document.documentElement).appendChild(s);
})()`
}
