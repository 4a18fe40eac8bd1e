package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
)

// Callback receives the payload of a reply or announcement. A nil payload
// means the channel was not established or was torn down before the
// reply arrived.
type Callback func(msg json.RawMessage)

// Executor runs a callback. Sessions pass their event loop poster so that
// replies are handled on the loop goroutine.
type Executor func(fn func())

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithExecutor routes reply, flush and announcement callbacks through exec.
// Default: callbacks run on the goroutine that dispatches the frame.
func WithExecutor(exec Executor) Option {
	return func(c *Channel) { c.exec = exec }
}

// Channel correlates asks with replies over a Port.
type Channel struct {
	mu       sync.Mutex
	port     Port
	nextID   int64
	pending  map[int64]Callback
	listener Callback

	exec   Executor
	logger *slog.Logger
}

// New creates a Channel over port. A nil port yields a channel that is
// never established: every Ask resolves immediately with a nil payload.
func New(port Port, opts ...Option) *Channel {
	c := &Channel{
		port:    port,
		nextID:  1,
		pending: make(map[int64]Callback),
		exec:    func(fn func()) { fn() },
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connected reports whether the channel still owns a port.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

// Pending returns the number of asks awaiting a reply.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Ask sends msg and arranges for cb to receive the correlated reply.
// A nil cb makes Ask equivalent to Tell. When the channel is not
// established cb is invoked synchronously with a nil payload.
func (c *Channel) Ask(msg any, cb Callback) {
	if cb == nil {
		c.Tell(msg)
		return
	}

	c.mu.Lock()
	port := c.port
	if port == nil {
		c.mu.Unlock()
		cb(nil)
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("messaging: marshal ask", "error", err)
		cb(nil)
		return
	}
	id := c.nextID
	c.nextID++
	c.pending[id] = cb
	c.mu.Unlock()

	if err := port.Send(Frame{ID: id, Msg: data}); err != nil {
		c.logger.Debug("messaging: send ask failed, disconnecting", "id", id, "error", err)
		c.Stop()
	}
}

// Tell sends msg without expecting a reply. It is a no-op when the
// channel is not established.
func (c *Channel) Tell(msg any) {
	c.mu.Lock()
	port := c.port
	c.mu.Unlock()
	if port == nil {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Warn("messaging: marshal tell", "error", err)
		return
	}
	if err := port.Send(Frame{ID: 0, Msg: data}); err != nil {
		c.logger.Debug("messaging: send tell failed, disconnecting", "error", err)
		c.Stop()
	}
}

// Listen registers the single handler for announcements. It replaces any
// previous handler.
func (c *Channel) Listen(cb Callback) {
	c.mu.Lock()
	c.listener = cb
	c.mu.Unlock()
}

// Dispatch routes one inbound frame.
func (c *Channel) Dispatch(f Frame) {
	if f.IsAnnouncement() {
		c.mu.Lock()
		l := c.listener
		c.mu.Unlock()
		if l != nil {
			msg := f.Msg
			c.exec(func() { l(msg) })
		}
		return
	}

	c.mu.Lock()
	cb, ok := c.pending[f.ID]
	if ok {
		// Removed before invocation so a callback that stops the channel
		// cannot be flushed a second time.
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	msg := f.Msg
	c.exec(func() { cb(msg) })
}

// Stop tears the channel down: the listener is dropped, the port closed
// and every outstanding callback invoked once with a nil payload. Stop is
// idempotent and may be called from inside a callback.
func (c *Channel) Stop() {
	c.mu.Lock()
	c.listener = nil
	port := c.port
	c.port = nil
	c.mu.Unlock()

	if port != nil {
		if err := port.Close(); err != nil {
			c.logger.Debug("messaging: close port", "error", err)
		}
	}
	c.flush()
}

func (c *Channel) flush() {
	for {
		c.mu.Lock()
		var (
			id    int64
			cb    Callback
			found bool
		)
		for k, v := range c.pending {
			id, cb, found = k, v, true
			break
		}
		if found {
			delete(c.pending, id)
		}
		c.mu.Unlock()

		if !found {
			return
		}
		c.exec(func() { cb(nil) })
	}
}

// Serve reads frames from the port and dispatches them until the port
// fails or ctx ends. Either way the channel is stopped on return.
func (c *Channel) Serve(ctx context.Context) error {
	c.mu.Lock()
	port := c.port
	c.mu.Unlock()
	if port == nil {
		c.Stop()
		return ErrClosed
	}

	for {
		f, err := port.Recv(ctx)
		if err != nil {
			c.Stop()
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			c.logger.Info("messaging: port disconnected", "error", err)
			return err
		}
		c.Dispatch(f)
	}
}
