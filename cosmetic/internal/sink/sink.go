// Package sink defines output backends for injection reports.
package sink

import (
	"context"

	"github.com/hazyhaar/domfilter/wire"
)

// Sink delivers reports to one backend (stdout, webhook, in-process
// callback).
type Sink interface {
	Send(ctx context.Context, r wire.Report) error
	Close() error
}

type envelope struct {
	Type string      `json:"type"`
	Data wire.Report `json:"data"`
}
