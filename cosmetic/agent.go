// Package cosmetic runs cosmetic-filter sessions against browser tabs and
// static HTML documents. It orchestrates Chrome as a disposable component,
// connects every page to the rule engine over its own channel, and fans out
// injection reports to sinks and the local journal.
package cosmetic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/domfilter/cosmetic/internal/browser"
	"github.com/hazyhaar/domfilter/cosmetic/internal/config"
	"github.com/hazyhaar/domfilter/cosmetic/internal/filter"
	"github.com/hazyhaar/domfilter/cosmetic/internal/journal"
	"github.com/hazyhaar/domfilter/cosmetic/internal/sink"
	"github.com/hazyhaar/domfilter/dom"
	"github.com/hazyhaar/domfilter/dom/htmldom"
	"github.com/hazyhaar/domfilter/dom/roddom"
	"github.com/hazyhaar/domfilter/engine"
	"github.com/hazyhaar/domfilter/messaging"
	"github.com/hazyhaar/domfilter/wire"
)

var (
	ErrNotStarted  = errors.New("cosmetic: agent not started")
	ErrNoJournal   = errors.New("cosmetic: journal disabled")
	ErrUnknownPage = errors.New("cosmetic: unknown page")
	ErrPageExists  = errors.New("cosmetic: page already filtered")
)

// preloadLimit bounds the journal entries folded into a tab's preload
// stylesheet.
const preloadLimit = 500

// SessionStats is a snapshot of one session's counters.
type SessionStats = filter.Stats

// HostStats aggregates journal entries for one hostname.
type HostStats = journal.HostStats

// JournalEntry is one recorded selector.
type JournalEntry = journal.Entry

// SessionInfo describes a live page session.
type SessionInfo struct {
	ID        string       `json:"id"`
	URL       string       `json:"url"`
	StartedAt time.Time    `json:"started_at"`
	Engine    string       `json:"engine"`
	Connected bool         `json:"connected"`
	Stats     SessionStats `json:"stats"`
}

// Stats summarises the agent.
type Stats struct {
	Sessions       int          `json:"sessions"`
	Reports        int64        `json:"reports"`
	DroppedReports int64        `json:"dropped_reports"`
	Engine         engine.Stats `json:"engine,omitempty"`
}

type page struct {
	id        string
	url       string
	startedAt time.Time
	tab       *browser.Tab
	session   *filter.Session
	channel   *messaging.Channel
	cancel    context.CancelFunc
	done      chan struct{}
}

// Agent is the top-level orchestrator. Create one per process.
type Agent struct {
	cfg    *config.Config
	mgr    *browser.Manager
	sinks  []sink.Sink
	logger *slog.Logger

	mu        sync.Mutex
	ctx       context.Context
	started   bool
	browserUp bool
	journal   *journal.Journal
	reports   *reportQueue
	eng       *engine.Engine
	pages     map[string]*page

	// recycled holds the pages closed by a browser recycle, reopened once
	// the new browser is up.
	recycled []config.PageConfig
}

// New creates an Agent from configuration. Nothing is launched until Start.
func New(cfg *config.Config, logger *slog.Logger, sinks ...sink.Sink) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Default()
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:       cfg.Browser.Remote,
		MemoryLimit:     cfg.Browser.MemoryLimit,
		RecycleInterval: cfg.Browser.RecycleInterval,
		Mode:            browser.ParseMode(cfg.Browser.Stealth),
		XvfbDisplay:     cfg.Browser.XvfbDisplay,
		LoadTimeout:     cfg.Browser.LoadTimeout,
		Logger:          logger,
	})

	return &Agent{
		cfg:    cfg,
		mgr:    mgr,
		sinks:  sinks,
		logger: logger,
		ctx:    context.Background(),
		pages:  make(map[string]*page),
	}
}

// Start opens the journal, loads local rules and filters every configured
// page. Chrome is launched only when a page needs it.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.ctx = ctx

	if a.cfg.Journal.Path != "" {
		j, err := journal.Open(a.cfg.Journal.Path)
		if err != nil {
			a.mu.Unlock()
			return fmt.Errorf("cosmetic: %w", err)
		}
		a.journal = j
	}

	if a.cfg.Engine.Transport == config.TransportLocal {
		rules, err := engine.LoadRules(a.cfg.Engine.RulesFile)
		if err != nil {
			a.closeJournal()
			a.mu.Unlock()
			return fmt.Errorf("cosmetic: %w", err)
		}
		a.eng = engine.New(rules, a.logger)
	}

	sinks := append([]sink.Sink(nil), a.sinks...)
	if a.journal != nil {
		sinks = append(sinks, journalSink{a.journal})
	}
	a.reports = newReportQueue(sink.NewRouter(a.logger, sinks...), a.logger)
	a.started = true
	a.mu.Unlock()

	a.mgr.OnRecycle(a.beforeRecycle, a.afterRecycle)

	for _, pc := range a.cfg.Pages {
		id := pc.ID
		if id == "" {
			id = newSessionID()
		}
		if err := a.FilterPage(ctx, pc.URL, id); err != nil {
			a.logger.Error("cosmetic: failed to filter page", "url", pc.URL, "error", err)
		}
	}
	return nil
}

// UseJournal attaches an already opened journal. Call before Start.
func (a *Agent) UseJournal(j *journal.Journal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		a.journal = j
	}
}

// FilterPage opens a browser tab on pageURL and keeps a session filtering
// it until ClosePage or Stop.
func (a *Agent) FilterPage(ctx context.Context, pageURL, id string) error {
	if id == "" {
		id = newSessionID()
	}
	if err := a.ensureBrowser(); err != nil {
		return err
	}

	a.mu.Lock()
	if _, ok := a.pages[id]; ok {
		a.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPageExists, id)
	}
	base := a.ctx
	a.mu.Unlock()

	tab, err := browser.OpenTab(ctx, a.mgr, pageURL, id, a.tabOptions(ctx, pageURL))
	if err != nil {
		return fmt.Errorf("cosmetic: %w", err)
	}

	pctx, cancel := context.WithCancel(base)
	doc := roddom.New(pctx, tab.Page, pageURL, a.logger)
	sess, ch, err := a.newSession(pctx, id, doc)
	if err != nil {
		cancel()
		tab.Close()
		return err
	}

	p := &page{
		id:        id,
		url:       pageURL,
		startedAt: time.Now().UTC(),
		tab:       tab,
		session:   sess,
		channel:   ch,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	a.mu.Lock()
	a.pages[id] = p
	a.mu.Unlock()

	go func() {
		defer close(p.done)
		a.run(pctx, sess, ch)
		if err := tab.Close(); err != nil {
			a.logger.Debug("cosmetic: close tab", "id", id, "error", err)
		}
		a.mu.Lock()
		if a.pages[id] == p {
			delete(a.pages, id)
		}
		a.mu.Unlock()
	}()

	a.logger.Info("cosmetic: filtering page", "url", pageURL, "id", id, "engine", a.cfg.Engine.Transport)
	return nil
}

// FilterHTML runs one session over a static document until it settles and
// returns the filtered markup.
func (a *Agent) FilterHTML(ctx context.Context, pageURL string, r io.Reader) (string, SessionStats, error) {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return "", SessionStats{}, ErrNotStarted
	}

	doc, err := htmldom.Parse(pageURL, r)
	if err != nil {
		return "", SessionStats{}, fmt.Errorf("cosmetic: parse html: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := newSessionID()
	sess, ch, err := a.newSession(sctx, id, doc)
	if err != nil {
		return "", SessionStats{}, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.run(sctx, sess, ch)
	}()

	idleErr := sess.WaitIdle(ctx)
	cancel()
	<-done
	if idleErr != nil {
		return "", sess.Stats(), fmt.Errorf("cosmetic: filter html: %w", idleErr)
	}

	out, err := doc.HTML()
	if err != nil {
		return "", sess.Stats(), fmt.Errorf("cosmetic: render html: %w", err)
	}
	a.logger.Debug("cosmetic: static document filtered", "url", pageURL, "id", id, "size", len(out))
	return out, sess.Stats(), nil
}

// Sessions lists live page sessions ordered by start time.
func (a *Agent) Sessions() []SessionInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SessionInfo, 0, len(a.pages))
	for _, p := range a.pages {
		out = append(out, SessionInfo{
			ID:        p.id,
			URL:       p.url,
			StartedAt: p.startedAt,
			Engine:    a.cfg.Engine.Transport,
			Connected: p.channel.Connected(),
			Stats:     p.session.Stats(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Stats summarises the agent and, with the local engine, what sessions
// reported back to it.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{Sessions: len(a.pages)}
	if a.reports != nil {
		s.Reports = a.reports.sent.Load()
		s.DroppedReports = a.reports.dropped.Load()
	}
	if a.eng != nil {
		s.Engine = a.eng.Stats()
	}
	return s
}

// HostStats returns per-hostname journal counts.
func (a *Agent) HostStats(ctx context.Context) ([]HostStats, error) {
	j := a.journalHandle()
	if j == nil {
		return nil, ErrNoJournal
	}
	return j.Stats(ctx)
}

// Recent returns the newest journal entries for hostname, or for every
// host when hostname is empty.
func (a *Agent) Recent(ctx context.Context, hostname string, limit int) ([]JournalEntry, error) {
	j := a.journalHandle()
	if j == nil {
		return nil, ErrNoJournal
	}
	return j.Recent(ctx, hostname, limit)
}

// ClosePage ends a page session and closes its tab.
func (a *Agent) ClosePage(id string) error {
	a.mu.Lock()
	p, ok := a.pages[id]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	p.cancel()
	<-p.done
	a.logger.Info("cosmetic: page closed", "id", id)
	return nil
}

// Stop ends every session, drains pending reports and shuts down the
// browser.
func (a *Agent) Stop() {
	a.closeBrowserPages()

	a.mu.Lock()
	reports := a.reports
	a.reports = nil
	a.started = false
	a.mu.Unlock()

	if reports != nil {
		reports.close()
	}
	a.mu.Lock()
	a.closeJournal()
	a.mu.Unlock()
	a.mgr.Close()
}

func (a *Agent) beforeRecycle() {
	a.mu.Lock()
	a.recycled = a.recycled[:0]
	for _, p := range a.pages {
		a.recycled = append(a.recycled, config.PageConfig{ID: p.id, URL: p.url})
	}
	a.mu.Unlock()
	a.closeBrowserPages()
}

func (a *Agent) afterRecycle() {
	a.mu.Lock()
	pages := a.recycled
	a.recycled = nil
	ctx := a.ctx
	a.mu.Unlock()

	for _, pc := range pages {
		if err := a.FilterPage(ctx, pc.URL, pc.ID); err != nil {
			a.logger.Error("cosmetic: reopen page after recycle failed", "url", pc.URL, "error", err)
		}
	}
}

func (a *Agent) closeBrowserPages() {
	a.mu.Lock()
	pages := make([]*page, 0, len(a.pages))
	for _, p := range a.pages {
		pages = append(pages, p)
	}
	a.mu.Unlock()

	for _, p := range pages {
		p.cancel()
		<-p.done
		a.logger.Info("cosmetic: stopped session", "id", p.id)
	}
}

// closeJournal closes the journal. Called with a.mu held.
func (a *Agent) closeJournal() {
	if a.journal == nil {
		return
	}
	if err := a.journal.Close(); err != nil {
		a.logger.Warn("cosmetic: close journal", "error", err)
	}
	a.journal = nil
}

func (a *Agent) journalHandle() *journal.Journal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.journal
}

func (a *Agent) ensureBrowser() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return ErrNotStarted
	}
	if a.browserUp {
		return nil
	}
	if _, err := a.mgr.Start(a.ctx); err != nil {
		return fmt.Errorf("cosmetic: start browser: %w", err)
	}
	a.browserUp = true
	return nil
}

// tabOptions warm-starts a tab with the cosmetic selectors the journal
// already holds for the page's host.
func (a *Agent) tabOptions(ctx context.Context, pageURL string) browser.TabOptions {
	opts := browser.TabOptions{
		PreloadClass:   preloadClass(a.cfg.Filter.PreloadSelector),
		ExceptionsAttr: a.cfg.Filter.ExceptionsAttr,
	}
	j := a.journalHandle()
	if j == nil || opts.PreloadClass == "" {
		return opts
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return opts
	}
	entries, err := j.Recent(ctx, u.Hostname(), preloadLimit)
	if err != nil {
		a.logger.Warn("cosmetic: preload from journal", "url", pageURL, "error", err)
		return opts
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Kind != wire.KindCosmetic || seen[e.Selector] {
			continue
		}
		seen[e.Selector] = true
		opts.PreloadSelectors = append(opts.PreloadSelectors, e.Selector)
	}
	return opts
}

// preloadClass extracts the class from a "style.<class>" selector. Other
// selector shapes cannot be recreated by the preload script.
func preloadClass(selector string) string {
	const prefix = "style."
	if len(selector) <= len(prefix) || selector[:len(prefix)] != prefix {
		return ""
	}
	return selector[len(prefix):]
}

// newSession builds a session and its engine channel. The channel delivers
// callbacks on the session loop.
func (a *Agent) newSession(ctx context.Context, id string, doc dom.Document) (*filter.Session, *messaging.Channel, error) {
	a.mu.Lock()
	reports := a.reports
	a.mu.Unlock()

	fc := a.cfg.Filter
	cfg := filter.Config{
		Doc:             doc,
		SessionID:       id,
		MutationWindow:  fc.MutationWindow,
		HighHighWindow:  fc.HighHighWindow,
		PreloadSelector: fc.PreloadSelector,
		ExceptionsAttr:  fc.ExceptionsAttr,
		PostloadClass:   fc.PostloadClass,
		ObserveStatic:   fc.ObserveStatic,
		Logger:          a.logger.With("session", id),
	}
	if reports != nil {
		cfg.Reporter = reports
	}
	sess := filter.New(cfg)

	port, err := a.dialEngine(ctx)
	if err != nil {
		return nil, nil, err
	}
	ch := messaging.New(port, messaging.WithExecutor(sess.Post), messaging.WithLogger(a.logger))
	sess.SetMessenger(ch)
	return sess, ch, nil
}

// run serves the channel and the session until ctx ends. The channel is
// stopped last so outstanding asks are flushed.
func (a *Agent) run(ctx context.Context, sess *filter.Session, ch *messaging.Channel) {
	if ch.Connected() {
		go func() {
			if err := ch.Serve(ctx); err != nil {
				a.logger.Warn("cosmetic: engine channel closed", "error", err)
			}
		}()
	}
	if err := sess.Run(ctx); err != nil {
		a.logger.Warn("cosmetic: session ended", "error", err)
	}
	ch.Stop()
}

func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "pg_" + uuid.NewString()
	}
	return "pg_" + id.String()
}
