package sink

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/hazyhaar/domfilter/wire"
)

// Router fans out reports to every sink. A failing sink does not stop
// delivery to the others; all failures are joined.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) Send(ctx context.Context, rep wire.Report) error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Send(ctx, rep); err != nil {
			r.logger.Warn("sink: send report failed", "session", rep.SessionID, "kind", rep.Type, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Kinds wraps s so it only receives reports of the given kinds
// (wire.KindCosmetic, wire.KindNet). With no kinds s is returned as is.
func Kinds(s Sink, kinds ...string) Sink {
	if len(kinds) == 0 {
		return s
	}
	return &kindFilter{next: s, kinds: kinds}
}

type kindFilter struct {
	next  Sink
	kinds []string
}

func (f *kindFilter) Send(ctx context.Context, rep wire.Report) error {
	if !slices.Contains(f.kinds, rep.Type) {
		return nil
	}
	return f.next.Send(ctx, rep)
}

func (f *kindFilter) Close() error { return f.next.Close() }
