package filter

import (
	"strings"
	"time"

	"github.com/hazyhaar/domfilter/wire"
)

// hideRule closes every injected stylesheet. The line feed before the
// block keeps the text splittable back into selectors.
const hideRule = "\n{display:none !important;}"

// inject applies selectors once: inline style on current matches, one
// stylesheet block, one report. Selectors must already be claimed in the
// ledger.
func (s *Session) inject(selectors []string) {
	if len(selectors) == 0 {
		return
	}
	s.hideElements(selectors)

	text := strings.Join(selectors, wire.SelectorSeparator) + hideRule
	if err := s.doc.AppendStyle(s.cfg.PostloadClass, text); err != nil {
		s.logger.Warn("filter: append style", "url", s.pageURL, "error", err)
	} else {
		s.blocks.Add(1)
	}
	for _, sel := range selectors {
		s.ledger.Mark(sel)
	}
	s.cosmetic.Add(int64(len(selectors)))

	s.report(wire.KindCosmetic, selectors)
	s.logger.Debug("filter: selectors injected", "url", s.pageURL, "count", len(selectors))
}

// hideElements sets display:none !important on every element matching
// the union of selectors. Skipped without a body.
func (s *Session) hideElements(selectors []string) {
	if len(selectors) == 0 || !s.doc.HasBody() {
		return
	}
	els, err := s.doc.QueryAll(strings.Join(selectors, ","))
	if err != nil {
		s.logger.Warn("filter: hide elements", "url", s.pageURL, "selectors", len(selectors), "error", err)
		return
	}
	for _, el := range els {
		if err := el.SetStyle("display", "none"); err != nil {
			s.logger.Debug("filter: set style", "error", err)
		}
	}
}

// report tells the engine and the local reporter what was applied.
func (s *Session) report(kind string, selectors []string) {
	s.msg.Tell(wire.InjectedSelectors{
		What:      wire.WhatInjectedSelectors,
		Type:      kind,
		Hostname:  s.hostname,
		Selectors: selectors,
	})
	if s.cfg.Reporter != nil {
		s.cfg.Reporter.Report(wire.Report{
			SessionID: s.cfg.SessionID,
			PageURL:   s.pageURL,
			Hostname:  s.hostname,
			Type:      kind,
			Selectors: append([]string(nil), selectors...),
			At:        time.Now().UTC(),
		})
	}
}
