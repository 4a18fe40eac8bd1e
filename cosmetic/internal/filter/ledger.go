package filter

// highHighSentinel marks the high-high tier as applied for the page.
const highHighSentinel = "{{highHighGenerics}}"

// Ledger records every selector already reflected in the page. It only
// grows. It is owned by the session loop and needs no locking.
type Ledger struct {
	seen map[string]struct{}
}

func newLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// Has reports whether sel was recorded.
func (l *Ledger) Has(sel string) bool {
	_, ok := l.seen[sel]
	return ok
}

// Mark records sel.
func (l *Ledger) Mark(sel string) {
	l.seen[sel] = struct{}{}
}

// Claim records sel and reports whether it was new.
func (l *Ledger) Claim(sel string) bool {
	if _, ok := l.seen[sel]; ok {
		return false
	}
	l.seen[sel] = struct{}{}
	return true
}

// Len returns the number of recorded selectors.
func (l *Ledger) Len() int { return len(l.seen) }
