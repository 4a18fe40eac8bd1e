package cosmetic

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/domfilter/cosmetic/internal/journal"
	"github.com/hazyhaar/domfilter/cosmetic/internal/sink"
	"github.com/hazyhaar/domfilter/wire"
)

const (
	reportBuffer      = 1024
	reportSendTimeout = 15 * time.Second
)

// reportQueue decouples session loops from sink latency. Report never
// blocks: a full queue drops the report.
type reportQueue struct {
	out    sink.Sink
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan wire.Report
	done   chan struct{}

	sent    atomic.Int64
	dropped atomic.Int64
}

func newReportQueue(out sink.Sink, logger *slog.Logger) *reportQueue {
	q := &reportQueue{
		out:    out,
		logger: logger,
		ch:     make(chan wire.Report, reportBuffer),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Report implements filter.Reporter.
func (q *reportQueue) Report(r wire.Report) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.ch <- r:
	default:
		q.dropped.Add(1)
		q.logger.Warn("cosmetic: report queue full, dropping", "session", r.SessionID, "selectors", len(r.Selectors))
	}
}

func (q *reportQueue) run() {
	defer close(q.done)
	for r := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), reportSendTimeout)
		if err := q.out.Send(ctx, r); err == nil {
			q.sent.Add(1)
		}
		cancel()
	}
}

// close drains queued reports and closes the sinks.
func (q *reportQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	<-q.done
	if err := q.out.Close(); err != nil {
		q.logger.Warn("cosmetic: close sinks", "error", err)
	}
}

// journalSink records reports in the journal. The agent owns the journal
// and closes it after the queue drains.
type journalSink struct {
	j *journal.Journal
}

func (s journalSink) Send(ctx context.Context, r wire.Report) error { return s.j.Send(ctx, r) }

func (s journalSink) Close() error { return nil }
