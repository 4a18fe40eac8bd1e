package filter

import "github.com/hazyhaar/domfilter/dom"

// ignoredTags never carry cosmetic candidates.
var ignoredTags = map[string]bool{
	"link":   true,
	"script": true,
	"style":  true,
}

// onMutations queues inserted nodes and opens a coalescing window. The
// window opens even for records without additions.
func (s *Session) onMutations(records []dom.MutationRecord) {
	for _, r := range records {
		if len(r.Added) > 0 {
			s.addedNodes = append(s.addedNodes, r.Added)
		}
	}
	s.mutations.trigger()
}

// flushMutations runs one harvest pass over everything inserted during the
// window.
func (s *Session) flushMutations() {
	batches := s.addedNodes
	s.addedNodes = nil

	var roots []dom.Element
	for _, batch := range batches {
		for _, n := range batch {
			if n.NodeType() != dom.ElementNode {
				continue
			}
			el, ok := n.(dom.Element)
			if !ok || ignoredTags[el.TagName()] {
				continue
			}
			roots = append(roots, el)
		}
	}
	if len(roots) == 0 {
		return
	}

	cs := contextSet{roots: roots}
	s.harvestIDs(s.selectNodes(cs, "[id]"))
	s.harvestClasses(s.selectNodes(cs, "[class]"))
	s.logger.Debug("filter: mutation pass", "url", s.pageURL, "roots", len(roots))
	s.retrieveGenerics(cs)
}
