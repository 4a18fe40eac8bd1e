package filter

import (
	"sort"
	"strings"

	"github.com/hazyhaar/domfilter/dom"
)

// harvestIDs collects "#id" candidates not yet sent to the engine. The
// buffer stays nil unless nodes is non-empty.
func (s *Session) harvestIDs(nodes []dom.Element) {
	if len(nodes) == 0 {
		return
	}
	if s.idSelectors == nil {
		s.idSelectors = []string{}
	}
	for _, n := range nodes {
		if n.NodeType() != dom.ElementNode {
			continue
		}
		v, _ := n.Attr("id")
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		sel := "#" + v
		if _, ok := s.queried[sel]; ok {
			continue
		}
		s.queried[sel] = struct{}{}
		s.idSelectors = append(s.idSelectors, sel)
	}
}

// harvestClasses collects ".class" candidates not yet sent to the engine.
func (s *Session) harvestClasses(nodes []dom.Element) {
	if len(nodes) == 0 {
		return
	}
	if s.classSelectors == nil {
		s.classSelectors = make(map[string]struct{})
	}
	for _, n := range nodes {
		if n.NodeType() != dom.ElementNode {
			continue
		}
		v, _ := n.Attr("class")
		for _, token := range strings.FieldsFunc(v, isClassSpace) {
			sel := "." + token
			if _, ok := s.queried[sel]; ok {
				continue
			}
			s.queried[sel] = struct{}{}
			s.classSelectors[sel] = struct{}{}
		}
	}
}

// takeCandidates returns class then id candidates and resets both buffers
// for the next cycle.
func (s *Session) takeCandidates() []string {
	out := make([]string, 0, len(s.classSelectors)+len(s.idSelectors))
	for sel := range s.classSelectors {
		out = append(out, sel)
	}
	sort.Strings(out)
	out = append(out, s.idSelectors...)
	s.classSelectors = nil
	s.idSelectors = nil
	return out
}

// isClassSpace reports the ASCII whitespace that separates class tokens.
// Other Unicode spaces are part of a class name.
func isClassSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\f', '\r':
		return true
	}
	return false
}
