// Package dom is the narrow view of a page that cosmetic filtering needs.
//
// Two implementations exist: htmldom over a parsed HTML tree, and roddom
// over a live Chrome tab. Selectors are passed through verbatim; an
// invalid selector surfaces as an error from the query method.
package dom

import (
	"context"
	"errors"
)

// Node types, matching the DOM nodeType constants.
const (
	ElementNode  = 1
	TextNode     = 3
	CommentNode  = 8
	DocumentNode = 9
)

// ErrNoParent is returned when no attach point exists for a new node.
var ErrNoParent = errors.New("dom: no body or document element")

// Node is any DOM node.
type Node interface {
	NodeType() int
}

// Element is an element node.
type Element interface {
	Node

	// TagName returns the lower-cased tag name.
	TagName() string
	// Attr returns the attribute value and whether it is present.
	Attr(name string) (string, bool)
	// Prop returns the DOM property as a string. For src/data/href this is
	// the resolved absolute URL.
	Prop(name string) string
	// Text returns the text content.
	Text() string
	// Matches reports whether the element itself matches selector.
	Matches(selector string) (bool, error)
	// QueryAll returns descendants matching selector, in document order.
	QueryAll(selector string) ([]Element, error)
	// SetStyle sets an inline style property with !important priority.
	SetStyle(prop, value string) error
	// Remove detaches the element. It returns false when there is no parent.
	Remove() (bool, error)
}

// MutationRecord lists the nodes added by one DOM mutation. Removals are
// not reported.
type MutationRecord struct {
	Added []Node
}

// ResourceKind distinguishes resource load outcomes.
type ResourceKind int

const (
	ResourceLoad ResourceKind = iota + 1
	ResourceError
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceLoad:
		return "load"
	case ResourceError:
		return "error"
	}
	return "unknown"
}

// ResourceEvent is a load or error event captured at document level.
type ResourceEvent struct {
	Kind   ResourceKind
	Target Element
}

// Document is the page.
type Document interface {
	// URL returns the page URL.
	URL() string
	// HasBody reports whether document.body exists.
	HasBody() bool
	// Exists reports whether at least one element matches selector.
	Exists(selector string) (bool, error)
	// Query returns the first match, or nil when none.
	Query(selector string) (Element, error)
	// QueryAll returns all matches in document order.
	QueryAll(selector string) ([]Element, error)
	// AppendStyle appends <style class="class">text</style> to the body, or
	// to the document element when there is no body.
	AppendStyle(class, text string) error

	// Observe streams insertions under the body subtree until ctx ends.
	Observe(ctx context.Context) (<-chan []MutationRecord, error)
	// Resources streams capturing load/error events until ctx ends.
	Resources(ctx context.Context) (<-chan ResourceEvent, error)
}
