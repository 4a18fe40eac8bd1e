// Package roddom implements dom.Document over a live Chrome tab driven by
// go-rod. Queries run as page JavaScript; insertions and resource events
// are captured by an in-page MutationObserver and capturing load/error
// listeners that signal Go through a runtime binding.
package roddom

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/domfilter/dom"
)

// Document is a live page.
type Document struct {
	page    *rod.Page
	pageURL string
	logger  *slog.Logger
}

// New wraps page. Calls are bound to ctx.
func New(ctx context.Context, page *rod.Page, pageURL string, logger *slog.Logger) *Document {
	if logger == nil {
		logger = slog.Default()
	}
	return &Document{page: page.Context(ctx), pageURL: pageURL, logger: logger}
}

// URL implements dom.Document.
func (d *Document) URL() string { return d.pageURL }

// HasBody implements dom.Document.
func (d *Document) HasBody() bool {
	res, err := d.page.Eval(`() => !!document.body`)
	return err == nil && res.Value.Bool()
}

// Exists implements dom.Document.
func (d *Document) Exists(selector string) (bool, error) {
	res, err := d.page.Eval(`(s) => document.querySelector(s) !== null`, selector)
	if err != nil {
		return false, fmt.Errorf("roddom: exists %q: %w", selector, err)
	}
	return res.Value.Bool(), nil
}

// Query implements dom.Document.
func (d *Document) Query(selector string) (dom.Element, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: query %q: %w", selector, err)
	}
	if len(els) == 0 {
		return nil, nil
	}
	return wrap(els.First()), nil
}

// QueryAll implements dom.Document.
func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: query %q: %w", selector, err)
	}
	return wrapAll(els), nil
}

// AppendStyle implements dom.Document.
func (d *Document) AppendStyle(class, text string) error {
	res, err := d.page.Eval(`(cls, text) => {
		const parent = document.body || document.documentElement;
		if (!parent) return false;
		const style = document.createElement('style');
		style.className = cls;
		style.appendChild(document.createTextNode(text));
		parent.appendChild(style);
		return true;
	}`, class, text)
	if err != nil {
		return fmt.Errorf("roddom: append style: %w", err)
	}
	if !res.Value.Bool() {
		return dom.ErrNoParent
	}
	return nil
}
