package roddom

import (
	"fmt"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/domfilter/dom"
)

// Element is a live element handle.
type Element struct {
	el *rod.Element

	tagOnce sync.Once
	tag     string
}

func wrap(el *rod.Element) *Element { return &Element{el: el} }

func wrapAll(els rod.Elements) []dom.Element {
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, wrap(el))
	}
	return out
}

// Rod returns the underlying handle.
func (e *Element) Rod() *rod.Element { return e.el }

// NodeType implements dom.Node. Handles are only created for elements.
func (e *Element) NodeType() int { return dom.ElementNode }

// TagName implements dom.Element.
func (e *Element) TagName() string {
	e.tagOnce.Do(func() {
		res, err := e.el.Eval(`() => this.tagName.toLowerCase()`)
		if err == nil {
			e.tag = res.Value.Str()
		}
	})
	return e.tag
}

// Attr implements dom.Element.
func (e *Element) Attr(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

// Prop implements dom.Element.
func (e *Element) Prop(name string) string {
	v, err := e.el.Property(name)
	if err != nil || v.Nil() {
		return ""
	}
	return v.Str()
}

// Text implements dom.Element.
func (e *Element) Text() string {
	res, err := e.el.Eval(`() => this.textContent || ''`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// Matches implements dom.Element.
func (e *Element) Matches(selector string) (bool, error) {
	res, err := e.el.Eval(`(s) => this.matches(s)`, selector)
	if err != nil {
		return false, fmt.Errorf("roddom: matches %q: %w", selector, err)
	}
	return res.Value.Bool(), nil
}

// QueryAll implements dom.Element.
func (e *Element) QueryAll(selector string) ([]dom.Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("roddom: query %q: %w", selector, err)
	}
	return wrapAll(els), nil
}

// SetStyle implements dom.Element.
func (e *Element) SetStyle(prop, value string) error {
	if _, err := e.el.Eval(`(p, v) => this.style.setProperty(p, v, 'important')`, prop, value); err != nil {
		return fmt.Errorf("roddom: set style: %w", err)
	}
	return nil
}

// Remove implements dom.Element.
func (e *Element) Remove() (bool, error) {
	res, err := e.el.Eval(`() => {
		if (!this.parentNode) return false;
		this.parentNode.removeChild(this);
		return true;
	}`)
	if err != nil {
		return false, fmt.Errorf("roddom: remove: %w", err)
	}
	return res.Value.Bool(), nil
}
