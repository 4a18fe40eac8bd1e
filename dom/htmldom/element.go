package htmldom

import (
	"strings"

	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"

	"github.com/hazyhaar/domfilter/dom"
)

// Element wraps an element node of a Document.
type Element struct {
	doc *Document
	n   *html.Node
}

var _ dom.Element = (*Element)(nil)

// Node exposes the underlying html node.
func (e *Element) Node() *html.Node { return e.n }

// NodeType implements dom.Node.
func (e *Element) NodeType() int { return nodeType(e.n) }

// TagName implements dom.Element.
func (e *Element) TagName() string { return strings.ToLower(e.n.Data) }

// Attr implements dom.Element.
func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.n, name)
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// urlProps are reflected as absolute URLs, like their DOM properties.
var urlProps = map[string]bool{"src": true, "href": true, "data": true}

// Prop implements dom.Element.
func (e *Element) Prop(name string) string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	v, ok := attr(e.n, name)
	if !ok {
		return ""
	}
	if !urlProps[name] {
		return v
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	u, err := e.doc.base.Parse(v)
	if err != nil {
		return v
	}
	return u.String()
}

// Text implements dom.Element.
func (e *Element) Text() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.doc.FindNodes(e.n).Text()
}

// Matches implements dom.Element.
func (e *Element) Matches(selector string) (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel, err := e.doc.compile(selector)
	if err != nil {
		return false, err
	}
	return sel.Match(e.n), nil
}

// QueryAll implements dom.Element.
func (e *Element) QueryAll(selector string) ([]dom.Element, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel, err := e.doc.compile(selector)
	if err != nil {
		return nil, err
	}
	return e.doc.wrapAll(e.doc.doc.FindNodes(e.n).FindMatcher(sel).Nodes), nil
}

// SetStyle implements dom.Element. Existing declarations are preserved;
// prop is replaced in place or appended.
func (e *Element) SetStyle(prop, value string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	existing, _ := attr(e.n, "style")
	decls, err := parser.ParseDeclarations(existing)
	if err != nil {
		decls = nil
	}

	var b strings.Builder
	replaced := false
	for _, d := range decls {
		if strings.EqualFold(d.Property, prop) {
			if replaced {
				continue
			}
			replaced = true
			writeDecl(&b, prop, value, true)
			continue
		}
		writeDecl(&b, d.Property, d.Value, d.Important)
	}
	if !replaced {
		writeDecl(&b, prop, value, true)
	}
	setAttr(e.n, "style", b.String())
	return nil
}

func writeDecl(b *strings.Builder, prop, value string, important bool) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(prop)
	b.WriteString(": ")
	b.WriteString(value)
	if important {
		b.WriteString(" !important")
	}
	b.WriteByte(';')
}

// Style returns the value of an inline style property and whether it
// carries !important.
func (e *Element) Style(prop string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	existing, _ := attr(e.n, "style")
	decls, err := parser.ParseDeclarations(existing)
	if err != nil {
		return "", false
	}
	for _, d := range decls {
		if strings.EqualFold(d.Property, prop) {
			return d.Value, d.Important
		}
	}
	return "", false
}

// Remove implements dom.Element.
func (e *Element) Remove() (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.n.Parent == nil {
		return false, nil
	}
	e.n.Parent.RemoveChild(e.n)
	return true, nil
}

// Attached reports whether the element is still connected to the document.
func (e *Element) Attached() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for n := e.n; n != nil; n = n.Parent {
		if n == e.doc.doc.Nodes[0] {
			return true
		}
	}
	return false
}
