package engine

import (
	"context"
	"errors"
	"net"

	"github.com/hazyhaar/domfilter/messaging"
)

// ServeTCP accepts sessions on ln until ctx ends. Each connection is one
// channel.
func (e *Engine) ServeTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		e.logger.Debug("engine: tcp session", "remote", conn.RemoteAddr().String())
		go e.serveConn(ctx, messaging.NewStreamPort(conn, e.logger))
	}
}

// ServeQUIC accepts sessions on ln until ctx ends.
func (e *Engine) ServeQUIC(ctx context.Context, ln *messaging.QUICListener) error {
	for {
		port, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, messaging.ErrBadPreface) {
				e.logger.Warn("engine: rejected quic peer", "error", err)
				continue
			}
			return err
		}
		go e.serveConn(ctx, port)
	}
}

func (e *Engine) serveConn(ctx context.Context, port messaging.Port) {
	if err := e.Serve(ctx, port); err != nil {
		e.logger.Warn("engine: session ended", "error", err)
	}
}
