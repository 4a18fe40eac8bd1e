// Package filter applies generic cosmetic filters to one page.
//
// A Session owns the page-lifetime state (injected ledger, queried
// candidates, cached high-generic bundle) and runs every step on a single
// event loop goroutine: engine replies, DOM insertions, resource events and
// both coalescing timers are all funnelled into Run's select.
package filter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/domfilter/dom"
	"github.com/hazyhaar/domfilter/messaging"
	"github.com/hazyhaar/domfilter/wire"
)

// Messenger is the engine channel as seen by a session.
type Messenger interface {
	Ask(msg any, cb messaging.Callback)
	Tell(msg any)
	Listen(cb messaging.Callback)
}

// Reporter receives a local copy of every injection report. Report is
// called on the session loop and must not block.
type Reporter interface {
	Report(r wire.Report)
}

// Config for creating a Session.
type Config struct {
	Doc       dom.Document
	Messenger Messenger
	Reporter  Reporter
	SessionID string

	// MutationWindow coalesces DOM insertions. Default: 75ms.
	MutationWindow time.Duration
	// HighHighWindow coalesces high-high evaluations. Default: 300ms.
	HighHighWindow time.Duration

	// PreloadSelector locates a stylesheet injected before the session
	// started. Default: "style.cosmetic-preload".
	PreloadSelector string
	// ExceptionsAttr on the preload stylesheet holds a JSON list of
	// exception selectors. Default: "data-cosmetic-exceptions".
	ExceptionsAttr string
	// PostloadClass is set on every injected stylesheet. Default: "cosmetic-postload".
	PostloadClass string

	// ObserveStatic observes insertions even on pages without scripts.
	ObserveStatic bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MutationWindow <= 0 {
		c.MutationWindow = 75 * time.Millisecond
	}
	if c.HighHighWindow <= 0 {
		c.HighHighWindow = 300 * time.Millisecond
	}
	if c.PreloadSelector == "" {
		c.PreloadSelector = "style.cosmetic-preload"
	}
	if c.ExceptionsAttr == "" {
		c.ExceptionsAttr = "data-cosmetic-exceptions"
	}
	if c.PostloadClass == "" {
		c.PostloadClass = "cosmetic-postload"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Stats is a snapshot of session counters.
type Stats struct {
	Passes            int64 `json:"passes"`
	GenericAsks       int64 `json:"generic_asks"`
	StyleBlocks       int64 `json:"style_blocks"`
	CosmeticSelectors int64 `json:"cosmetic_selectors"`
	NetSelectors      int64 `json:"net_selectors"`
	LedgerSize        int64 `json:"ledger_size"`
	HighHighApplied   bool  `json:"high_high_applied"`
}

// contextSet is the set of roots searched by one pass. whole means the
// entire document.
type contextSet struct {
	whole bool
	roots []dom.Element
}

// Session applies cosmetic filters to one page.
type Session struct {
	cfg    Config
	doc    dom.Document
	msg    Messenger
	logger *slog.Logger

	pageURL  string
	hostname string

	// Loop-owned state.
	ledger         *Ledger
	queried        map[string]struct{}
	highGenerics   *wire.HighGenerics
	classSelectors map[string]struct{}
	idSelectors    []string
	addedNodes     [][]dom.Node
	inflight       int
	mutCh          <-chan []dom.MutationRecord
	resCh          <-chan dom.ResourceEvent

	mutations *coalescer
	highHigh  *coalescer

	tasks   chan func()
	done    chan struct{}
	started atomic.Bool

	passes      atomic.Int64
	asks        atomic.Int64
	blocks      atomic.Int64
	cosmetic    atomic.Int64
	net         atomic.Int64
	ledgerSize  atomic.Int64
	highApplied atomic.Bool
}

// New creates a Session. Messenger may be a *messaging.Channel built with
// messaging.WithExecutor(session.Post).
func New(cfg Config) *Session {
	cfg.defaults()
	s := &Session{
		cfg:       cfg,
		doc:       cfg.Doc,
		msg:       cfg.Messenger,
		logger:    cfg.Logger,
		pageURL:   cfg.Doc.URL(),
		ledger:    newLedger(),
		queried:   make(map[string]struct{}),
		mutations: newCoalescer(cfg.MutationWindow),
		highHigh:  newCoalescer(cfg.HighHighWindow),
		tasks:     make(chan func(), 256),
		done:      make(chan struct{}),
	}
	if u, err := url.Parse(s.pageURL); err == nil {
		s.hostname = u.Hostname()
	}
	if s.msg == nil {
		s.msg = messaging.New(nil)
	}
	return s
}

// SetMessenger replaces the messenger before Run. It allows the channel
// to be built with this session's Post as executor.
func (s *Session) SetMessenger(m Messenger) {
	if s.started.Load() {
		return
	}
	s.msg = m
}

// Post schedules fn on the session loop. It never blocks the caller and
// drops fn once the loop has exited.
func (s *Session) Post(fn func()) {
	select {
	case s.tasks <- fn:
	case <-s.done:
	default:
		go func() {
			select {
			case s.tasks <- fn:
			case <-s.done:
			}
		}()
	}
}

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (s *Session) Stats() Stats {
	return Stats{
		Passes:            s.passes.Load(),
		GenericAsks:       s.asks.Load(),
		StyleBlocks:       s.blocks.Load(),
		CosmeticSelectors: s.cosmetic.Load(),
		NetSelectors:      s.net.Load(),
		LedgerSize:        s.ledgerSize.Load(),
		HighHighApplied:   s.highApplied.Load(),
	}
}

// Run performs the startup pass, subscribes to page events and processes
// them until ctx ends.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	defer close(s.done)
	defer s.mutations.stop()
	defer s.highHigh.stop()

	s.msg.Listen(func(msg json.RawMessage) {
		s.logger.Debug("filter: engine announcement", "url", s.pageURL, "msg", string(msg))
	})

	s.seedFromPreload()
	ids, err := s.doc.QueryAll("[id]")
	if err != nil {
		s.logger.Warn("filter: query ids", "error", err)
	}
	classes, err := s.doc.QueryAll("[class]")
	if err != nil {
		s.logger.Warn("filter: query classes", "error", err)
	}
	s.harvestIDs(ids)
	s.harvestClasses(classes)
	s.retrieveGenerics(contextSet{whole: true})

	var mutCh <-chan []dom.MutationRecord
	if s.shouldObserve() {
		if mutCh, err = s.doc.Observe(ctx); err != nil {
			s.logger.Warn("filter: observe mutations", "url", s.pageURL, "error", err)
		}
	} else {
		s.logger.Debug("filter: static page, mutations not observed", "url", s.pageURL)
	}

	resCh, err := s.doc.Resources(ctx)
	if err != nil {
		s.logger.Warn("filter: observe resources", "url", s.pageURL, "error", err)
	}

	s.sweepResources()

	s.mutCh, s.resCh = mutCh, resCh
	return s.loop(ctx, mutCh, resCh)
}

func (s *Session) shouldObserve() bool {
	if s.cfg.ObserveStatic {
		return true
	}
	if !s.doc.HasBody() {
		return false
	}
	ok, err := s.doc.Exists("script")
	return err == nil && ok
}

func (s *Session) loop(ctx context.Context, mutCh <-chan []dom.MutationRecord, resCh <-chan dom.ResourceEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case fn := <-s.tasks:
			fn()

		case records, ok := <-mutCh:
			if !ok {
				mutCh = nil
				continue
			}
			s.onMutations(records)

		case ev, ok := <-resCh:
			if !ok {
				resCh = nil
				continue
			}
			s.onResource(ev)

		case <-s.mutations.C():
			s.mutations.fired()
			s.flushMutations()

		case <-s.highHigh.C():
			s.highHigh.fired()
			s.processHighHigh()
		}
	}
}

// WaitIdle blocks until no ask is outstanding, no timer is pending and
// the task queue is empty, or ctx ends.
func (s *Session) WaitIdle(ctx context.Context) error {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		probe := make(chan bool, 1)
		s.Post(func() { probe <- s.idle() })
		select {
		case idle := <-probe:
			if idle {
				return nil
			}
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-tick.C:
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) idle() bool {
	return s.inflight == 0 && len(s.tasks) == 0 &&
		len(s.mutCh) == 0 && len(s.resCh) == 0 &&
		!s.mutations.pending() && !s.highHigh.pending() && len(s.addedNodes) == 0
}

// ask counts the request as in flight until its callback runs.
func (s *Session) ask(msg any, cb func(json.RawMessage)) {
	s.inflight++
	s.msg.Ask(msg, func(raw json.RawMessage) {
		s.inflight--
		cb(raw)
	})
}

func (s *Session) syncLedgerSize() {
	s.ledgerSize.Store(int64(s.ledger.Len()))
}
