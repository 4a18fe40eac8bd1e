package filter

import (
	"encoding/json"
	"strings"

	"github.com/hazyhaar/domfilter/dom"
	"github.com/hazyhaar/domfilter/wire"
)

// lowAttrs are the attributes of high-low generics.
var lowAttrs = []string{"alt", "title"}

const mediumSelector = `a[href^="http"]`

// retrieveGenerics sends this cycle's candidates to the engine. When there
// is nothing to ask and the bundle is cached, the reply handler runs
// locally so high tiers are still evaluated against the new roots.
func (s *Session) retrieveGenerics(cs contextSet) {
	candidates := s.takeCandidates()
	s.passes.Add(1)

	if len(candidates) == 0 && s.highGenerics != nil {
		s.onGenericReply(cs, nil)
		return
	}

	s.asks.Add(1)
	req := wire.NewRetrieveGeneric(s.pageURL, candidates, s.highGenerics == nil)
	s.ask(req, func(raw json.RawMessage) {
		s.onGenericReply(cs, wire.DecodeGenericReply(raw))
	})
}

// onGenericReply resolves every tier for one pass. Exceptions are recorded
// before any hide is considered, cheapest tiers first.
func (s *Session) onGenericReply(cs contextSet, reply *wire.GenericReply) {
	if reply != nil && reply.HighGenerics != nil && s.highGenerics == nil {
		s.highGenerics = reply.HighGenerics
		s.logger.Debug("filter: high generics cached", "url", s.pageURL,
			"low", s.highGenerics.HideLowCount,
			"medium", s.highGenerics.HideMediumCount,
			"high", s.highGenerics.HideHighCount)
	}
	hg := s.highGenerics

	if reply != nil && len(reply.Donthide) > 0 {
		s.markTierHandled(reply.Donthide)
	}
	if hg != nil {
		if hg.DonthideLowCount > 0 {
			s.markTierHandled(s.highLowMatches(cs, hg.DonthideLow))
		}
		if hg.DonthideMediumCount > 0 {
			s.markTierHandled(s.highMediumMatches(cs, hg.DonthideMedium))
		}
	}

	var hide []string
	if reply != nil && len(reply.Hide) > 0 {
		hide = append(hide, s.resolveTier(reply.Hide)...)
	}
	if hg != nil {
		if hg.HideLowCount > 0 {
			hide = append(hide, s.resolveTier(s.highLowMatches(cs, hg.HideLow))...)
		}
		if hg.HideMediumCount > 0 {
			hide = append(hide, s.resolveTier(s.highMediumMatches(cs, hg.HideMedium))...)
		}
		if hg.HideHighCount > 0 {
			s.highHigh.trigger()
		}
	}

	s.inject(hide)
	s.syncLedgerSize()
}

// resolveTier claims selectors in the ledger and returns those not yet applied.
func (s *Session) resolveTier(selectors []string) []string {
	var out []string
	for _, sel := range selectors {
		if s.ledger.Claim(sel) {
			out = append(out, sel)
		}
	}
	return out
}

// markTierHandled claims exception selectors so no later tier hides them.
func (s *Session) markTierHandled(selectors []string) {
	for _, sel := range selectors {
		s.ledger.Mark(sel)
	}
}

// selectNodes returns the elements of the pass matching selector. A root
// contributes itself when it matches, plus its matching descendants.
func (s *Session) selectNodes(cs contextSet, selector string) []dom.Element {
	if cs.whole {
		els, err := s.doc.QueryAll(selector)
		if err != nil {
			s.logger.Warn("filter: query", "selector", selector, "error", err)
			return nil
		}
		return els
	}
	var out []dom.Element
	for _, root := range cs.roots {
		if ok, err := root.Matches(selector); err == nil && ok {
			out = append(out, root)
		}
		els, err := root.QueryAll(selector)
		if err != nil {
			s.logger.Debug("filter: query root", "selector", selector, "error", err)
			continue
		}
		out = append(out, els...)
	}
	return out
}

// highLowMatches tests [attr="v"] and tag[attr="v"] for every element of the
// pass carrying alt or title.
func (s *Session) highLowMatches(cs contextSet, generics wire.SelectorSet) []string {
	var out []string
	for _, attr := range lowAttrs {
		for _, el := range s.selectNodes(cs, "["+attr+"]") {
			v, _ := el.Attr(attr)
			if v == "" {
				continue
			}
			sel := "[" + attr + `="` + v + `"]`
			if generics.Has(sel) {
				out = append(out, sel)
			}
			sel = el.TagName() + sel
			if generics.Has(sel) {
				out = append(out, sel)
			}
		}
	}
	return out
}

// highMediumMatches looks up the hash bucket of every absolute anchor.
func (s *Session) highMediumMatches(cs contextSet, generics wire.HashBuckets) []string {
	var out []string
	for _, el := range s.selectNodes(cs, mediumSelector) {
		href, _ := el.Attr("href")
		key, ok := hashKey(href)
		if !ok {
			continue
		}
		if sels, ok := generics.Selectors(key); ok {
			out = append(out, sels...)
		}
	}
	return out
}

// hashKey returns the up to 8 characters following "://" in href.
// Characters, not bytes: non-ASCII hosts must land in the same bucket the
// engine keyed them under.
func hashKey(href string) (string, bool) {
	if href == "" {
		return "", false
	}
	pos := strings.Index(href, "://")
	if pos < 0 {
		return "", false
	}
	rest := []rune(href[pos+3:])
	if len(rest) > 8 {
		rest = rest[:8]
	}
	return string(rest), true
}

// processHighHigh evaluates the combined high-high selector once per page.
func (s *Session) processHighHigh() {
	if s.ledger.Has(highHighSentinel) {
		return
	}
	hg := s.highGenerics
	if hg == nil || hg.HideHigh == "" {
		return
	}
	found, err := s.doc.Exists(hg.HideHigh)
	if err != nil {
		s.logger.Warn("filter: high-high query", "url", s.pageURL, "error", err)
		return
	}
	if !found {
		return
	}
	s.ledger.Mark(highHighSentinel)
	s.highApplied.Store(true)

	// Drop exceptions and selectors already applied by cheaper tiers.
	var selectors []string
	for _, sel := range hg.HighSelectors() {
		if s.ledger.Claim(sel) {
			selectors = append(selectors, sel)
		}
	}
	s.inject(selectors)
	s.syncLedgerSize()
}
