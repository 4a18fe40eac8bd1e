// Package htmldom implements dom.Document over a parsed HTML tree.
//
// It serves two purposes: filtering static HTML without a browser, and
// scripting page behaviour (insertions, load and error events) in tests.
// All access is serialised by a document-wide mutex.
package htmldom

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/domfilter/dom"
)

// Document is a mutable HTML document.
type Document struct {
	mu     sync.Mutex
	doc    *goquery.Document
	rawURL string
	base   *url.URL

	selectors map[string]cascadia.Selector

	subMu   sync.Mutex
	mutSubs []*subscription[[]dom.MutationRecord]
	resSubs []*subscription[dom.ResourceEvent]
}

type subscription[T any] struct {
	ctx context.Context
	ch  chan T
}

var _ dom.Document = (*Document)(nil)

// Parse reads an HTML document served at pageURL.
func Parse(pageURL string, r io.Reader) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("htmldom: page url: %w", err)
	}
	if href, ok := gq.Find("base[href]").First().Attr("href"); ok {
		if u, err := base.Parse(href); err == nil {
			base = u
		}
	}
	return &Document{
		doc:       gq,
		rawURL:    pageURL,
		base:      base,
		selectors: make(map[string]cascadia.Selector),
	}, nil
}

// ParseString is Parse over a string.
func ParseString(pageURL, markup string) (*Document, error) {
	return Parse(pageURL, strings.NewReader(markup))
}

// URL implements dom.Document.
func (d *Document) URL() string { return d.rawURL }

// HTML renders the current tree.
func (d *Document) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Html()
}

func (d *Document) compile(selector string) (cascadia.Selector, error) {
	if sel, ok := d.selectors[selector]; ok {
		return sel, nil
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("htmldom: selector %q: %w", selector, err)
	}
	d.selectors[selector] = sel
	return sel, nil
}

// HasBody implements dom.Document.
func (d *Document) HasBody() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.body() != nil
}

func (d *Document) body() *html.Node {
	if nodes := d.doc.Find("body").Nodes; len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

func (d *Document) documentElement() *html.Node {
	for c := d.doc.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

// Exists implements dom.Document.
func (d *Document) Exists(selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := d.compile(selector)
	if err != nil {
		return false, err
	}
	return sel.MatchFirst(d.doc.Nodes[0]) != nil, nil
}

// Query implements dom.Document.
func (d *Document) Query(selector string) (dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	n := sel.MatchFirst(d.doc.Nodes[0])
	if n == nil {
		return nil, nil
	}
	return d.wrap(n), nil
}

// QueryAll implements dom.Document.
func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	return d.wrapAll(d.doc.FindMatcher(sel).Nodes), nil
}

// AppendStyle implements dom.Document.
func (d *Document) AppendStyle(class, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	parent := d.body()
	if parent == nil {
		parent = d.documentElement()
	}
	if parent == nil {
		return dom.ErrNoParent
	}
	style := &html.Node{
		Type:     html.ElementNode,
		Data:     "style",
		DataAtom: atom.Style,
		Attr:     []html.Attribute{{Key: "class", Val: class}},
	}
	style.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	parent.AppendChild(style)
	return nil
}

// Observe implements dom.Document. Records are produced by Insert.
func (d *Document) Observe(ctx context.Context) (<-chan []dom.MutationRecord, error) {
	sub := &subscription[[]dom.MutationRecord]{ctx: ctx, ch: make(chan []dom.MutationRecord, 64)}
	d.subMu.Lock()
	d.mutSubs = append(d.mutSubs, sub)
	d.subMu.Unlock()
	go func() {
		<-ctx.Done()
		d.subMu.Lock()
		d.mutSubs = removeSub(d.mutSubs, sub)
		d.subMu.Unlock()
	}()
	return sub.ch, nil
}

// Resources implements dom.Document. Events are produced by FireLoad and
// FireError.
func (d *Document) Resources(ctx context.Context) (<-chan dom.ResourceEvent, error) {
	sub := &subscription[dom.ResourceEvent]{ctx: ctx, ch: make(chan dom.ResourceEvent, 64)}
	d.subMu.Lock()
	d.resSubs = append(d.resSubs, sub)
	d.subMu.Unlock()
	go func() {
		<-ctx.Done()
		d.subMu.Lock()
		d.resSubs = removeSub(d.resSubs, sub)
		d.subMu.Unlock()
	}()
	return sub.ch, nil
}

func removeSub[T any](subs []*subscription[T], target *subscription[T]) []*subscription[T] {
	out := subs[:0]
	for _, s := range subs {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func publish[T any](subs []*subscription[T], v T) {
	for _, s := range subs {
		select {
		case s.ch <- v:
		case <-s.ctx.Done():
		}
	}
}

func (d *Document) wrap(n *html.Node) *Element {
	return &Element{doc: d, n: n}
}

func (d *Document) wrapAll(nodes []*html.Node) []dom.Element {
	out := make([]dom.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n))
	}
	return out
}

func wrapNode(d *Document, n *html.Node) dom.Node {
	if n.Type == html.ElementNode {
		return d.wrap(n)
	}
	return rawNode{n: n}
}

// rawNode is a non-element node carried in mutation records.
type rawNode struct{ n *html.Node }

func (r rawNode) NodeType() int { return nodeType(r.n) }

func nodeType(n *html.Node) int {
	switch n.Type {
	case html.ElementNode:
		return dom.ElementNode
	case html.TextNode:
		return dom.TextNode
	case html.CommentNode:
		return dom.CommentNode
	case html.DocumentNode:
		return dom.DocumentNode
	}
	return 0
}
