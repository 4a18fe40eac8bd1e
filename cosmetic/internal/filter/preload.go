package filter

import (
	"encoding/json"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"

	"github.com/hazyhaar/domfilter/wire"
)

// seedFromPreload folds a stylesheet injected before the session started
// into the ledger, so its selectors are never reprocessed, and re-applies
// them inline.
func (s *Session) seedFromPreload() {
	style, err := s.doc.Query(s.cfg.PreloadSelector)
	if err != nil {
		s.logger.Warn("filter: preload lookup", "selector", s.cfg.PreloadSelector, "error", err)
		return
	}
	if style == nil {
		return
	}

	if raw, ok := style.Attr(s.cfg.ExceptionsAttr); ok && raw != "" {
		var exceptions []string
		if err := json.Unmarshal([]byte(raw), &exceptions); err != nil {
			s.logger.Warn("filter: preload exceptions", "error", err)
		}
		for _, sel := range exceptions {
			s.ledger.Mark(sel)
		}
	}

	selectors := selectorsFromStyle(style.Text())
	for _, sel := range selectors {
		s.ledger.Mark(sel)
	}
	s.hideElements(selectors)
	s.syncLedgerSize()
	s.logger.Debug("filter: preload stylesheet seeded", "url", s.pageURL, "selectors", len(selectors))
}

// selectorsFromStyle extracts the selectors of every rule in a stylesheet.
// Text that douceur cannot parse falls back to the injected-block layout:
// selectors joined by ",\n", the last one ending at the next line feed.
func selectorsFromStyle(text string) []string {
	sheet, err := parser.Parse(text)
	if err != nil || len(sheet.Rules) == 0 {
		return splitInjectedBlock(text)
	}
	var out []string
	var walk func(rules []*css.Rule)
	walk = func(rules []*css.Rule) {
		for _, r := range rules {
			if r.Kind == css.AtRule {
				walk(r.Rules)
				continue
			}
			out = append(out, splitSelectorList(r.Prelude)...)
		}
	}
	walk(sheet.Rules)
	return out
}

func splitInjectedBlock(text string) []string {
	parts := strings.Split(text, wire.SelectorSeparator)
	last := parts[len(parts)-1]
	parts = parts[:len(parts)-1]
	if i := strings.IndexByte(last, '\n'); i >= 0 {
		parts = append(parts, last[:i])
	}
	return parts
}

// splitSelectorList splits a selector group on top-level commas, keeping
// commas inside parentheses, brackets and strings.
func splitSelectorList(prelude string) []string {
	var (
		out   []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(prelude); i++ {
		c := prelude[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[':
			depth++
		case c == ')' || c == ']':
			if depth > 0 {
				depth--
			}
		case c == ',' && depth == 0:
			if sel := strings.TrimSpace(prelude[start:i]); sel != "" {
				out = append(out, sel)
			}
			start = i + 1
		}
	}
	if sel := strings.TrimSpace(prelude[start:]); sel != "" {
		out = append(out, sel)
	}
	return out
}
