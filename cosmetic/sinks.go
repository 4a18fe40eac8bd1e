package cosmetic

import (
	"io"
	"log/slog"

	"github.com/hazyhaar/domfilter/cosmetic/internal/journal"
	"github.com/hazyhaar/domfilter/cosmetic/internal/sink"
	"github.com/hazyhaar/domfilter/wire"
)

// Sink is the output interface for injection reports.
type Sink = sink.Sink

// Report is one injectedSelectors event as delivered to sinks.
type Report = wire.Report

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// FilterKinds restricts s to reports of the given kinds, KindCosmetic or
// KindNet.
func FilterKinds(s Sink, kinds ...string) Sink {
	return sink.Kinds(s, kinds...)
}

// Report kinds.
const (
	KindCosmetic = wire.KindCosmetic
	KindNet      = wire.KindNet
)

// ReportFunc is called for each report.
type ReportFunc = sink.ReportFunc

// NewCallbackSink creates an in-process callback sink, no serialisation.
func NewCallbackSink(fn ReportFunc) Sink {
	return sink.NewCallback(fn)
}

// Journal is the SQLite report journal.
type Journal = journal.Journal

// OpenJournal opens or creates a journal database at path.
func OpenJournal(path string) (*Journal, error) {
	return journal.Open(path)
}
