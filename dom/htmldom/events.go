package htmldom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domfilter/dom"
)

// Insert parses fragment in the context of the first element matching
// parentSelector, appends the resulting nodes to it and publishes one
// mutation record listing them.
func (d *Document) Insert(parentSelector, fragment string) ([]dom.Node, error) {
	d.mu.Lock()
	sel, err := d.compile(parentSelector)
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	parent := sel.MatchFirst(d.doc.Nodes[0])
	if parent == nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("htmldom: insert: no element matches %q", parentSelector)
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("htmldom: insert: %w", err)
	}
	added := make([]dom.Node, 0, len(nodes))
	for _, n := range nodes {
		parent.AppendChild(n)
		added = append(added, wrapNode(d, n))
	}
	d.mu.Unlock()

	if len(added) > 0 {
		d.emitMutations([]dom.MutationRecord{{Added: added}})
	}
	return added, nil
}

func (d *Document) emitMutations(records []dom.MutationRecord) {
	d.subMu.Lock()
	subs := append([]*subscription[[]dom.MutationRecord](nil), d.mutSubs...)
	d.subMu.Unlock()
	publish(subs, records)
}

// FireLoad publishes a load event for el.
func (d *Document) FireLoad(el dom.Element) {
	d.emitResource(dom.ResourceEvent{Kind: dom.ResourceLoad, Target: el})
}

// FireError publishes an error event for el.
func (d *Document) FireError(el dom.Element) {
	d.emitResource(dom.ResourceEvent{Kind: dom.ResourceError, Target: el})
}

func (d *Document) emitResource(ev dom.ResourceEvent) {
	d.subMu.Lock()
	subs := append([]*subscription[dom.ResourceEvent](nil), d.resSubs...)
	d.subMu.Unlock()
	publish(subs, ev)
}
