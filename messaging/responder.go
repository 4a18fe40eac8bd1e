package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

// HandlerFunc answers one inbound message. A nil reply is sent as JSON null.
type HandlerFunc func(ctx context.Context, msg json.RawMessage) (any, error)

// Responder is the engine side of a Channel: it answers asks by echoing
// their id, swallows tells and can push announcements.
type Responder struct {
	port    Port
	handler HandlerFunc
	logger  *slog.Logger

	mu     sync.Mutex
	nextID int64
}

// NewResponder creates a Responder serving port with h.
func NewResponder(port Port, h HandlerFunc, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{port: port, handler: h, logger: logger, nextID: -1}
}

// Serve handles frames until the port disconnects or ctx ends.
func (r *Responder) Serve(ctx context.Context) error {
	defer r.port.Close()
	for {
		f, err := r.port.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		if f.IsAnnouncement() {
			continue
		}

		reply, err := r.handler(ctx, f.Msg)
		if err != nil {
			r.logger.Warn("messaging: handler failed", "id", f.ID, "error", err)
			reply = nil
		}
		if f.ID == 0 {
			continue
		}

		data, err := json.Marshal(reply)
		if err != nil {
			r.logger.Warn("messaging: marshal reply", "id", f.ID, "error", err)
			data = json.RawMessage("null")
		}
		if err := r.port.Send(Frame{ID: f.ID, Msg: data}); err != nil {
			return err
		}
	}
}

// Announce pushes an unsolicited message under the next negative id.
func (r *Responder) Announce(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	r.mu.Lock()
	id := r.nextID
	r.nextID--
	r.mu.Unlock()
	return r.port.Send(Frame{ID: id, Msg: data})
}
