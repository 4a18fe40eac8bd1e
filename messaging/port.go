package messaging

import (
	"context"
	"sync"
)

// Port is one end of a bidirectional frame transport.
//
// Send must not block indefinitely. Recv blocks until a frame arrives, the
// port is closed (ErrClosed) or ctx ends. A Recv error is a disconnect.
type Port interface {
	Send(f Frame) error
	Recv(ctx context.Context) (Frame, error)
	Close() error
}

// Pipe returns two connected in-memory ports. Closing either end
// disconnects both.
func Pipe() (Port, Port) {
	shared := &pipeState{done: make(chan struct{})}
	ab := make(chan Frame, 256)
	ba := make(chan Frame, 256)
	return &pipePort{state: shared, in: ba, out: ab},
		&pipePort{state: shared, in: ab, out: ba}
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipePort struct {
	state *pipeState
	in    <-chan Frame
	out   chan<- Frame
}

func (p *pipePort) Send(f Frame) error {
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- f:
		return nil
	case <-p.state.done:
		return ErrClosed
	}
}

func (p *pipePort) Recv(ctx context.Context) (Frame, error) {
	select {
	case f := <-p.in:
		return f, nil
	case <-p.state.done:
		// Drain what was queued before the close.
		select {
		case f := <-p.in:
			return f, nil
		default:
		}
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (p *pipePort) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}
