package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/domfilter/wire"
)

// Stdout writes reports as JSON lines. Each line is flushed before Send
// returns so a reader piping the output sees reports as they happen.
type Stdout struct {
	mu  sync.Mutex
	w   *bufio.Writer
	enc *json.Encoder
}

// NewStdout creates a JSON-lines sink on w, or on os.Stdout when w is nil.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	bw := bufio.NewWriter(w)
	return &Stdout{w: bw, enc: json.NewEncoder(bw)}
}

func (s *Stdout) Send(_ context.Context, r wire.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(envelope{Type: r.Type, Data: r}); err != nil {
		return fmt.Errorf("stdout: %w", err)
	}
	return s.w.Flush()
}

func (s *Stdout) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// ReportFunc receives one report in-process.
type ReportFunc func(ctx context.Context, r wire.Report) error

// Callback hands reports to a Go function in the same binary. A panic in
// the function is returned as an error.
type Callback struct {
	fn ReportFunc
}

// NewCallback creates a Callback sink. A nil fn discards reports.
func NewCallback(fn ReportFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, r wire.Report) (err error) {
	if c.fn == nil {
		return nil
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("callback: panic: %v", p)
		}
	}()
	return c.fn(ctx, r)
}

func (c *Callback) Close() error { return nil }
