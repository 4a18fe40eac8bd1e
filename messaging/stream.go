package messaging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// maxFrameSize bounds one JSON line. High-generic bundles can be large.
const maxFrameSize = 16 << 20

// StreamPort carries newline-delimited JSON frames over a byte stream
// (TCP connection, stdio pair, QUIC stream).
type StreamPort struct {
	rwc    io.ReadWriteCloser
	logger *slog.Logger

	wmu sync.Mutex
	w   *bufio.Writer

	frames chan Frame
	done   chan struct{}
	once   sync.Once
	err    error
}

// NewStreamPort wraps rwc. A reader goroutine runs until rwc fails or the
// port is closed.
func NewStreamPort(rwc io.ReadWriteCloser, logger *slog.Logger) *StreamPort {
	if logger == nil {
		logger = slog.Default()
	}
	p := &StreamPort{
		rwc:    rwc,
		logger: logger,
		w:      bufio.NewWriter(rwc),
		frames: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *StreamPort) readLoop() {
	sc := bufio.NewScanner(p.rwc)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameSize)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		f, err := DecodeFrame(line)
		if err != nil {
			p.logger.Debug("messaging: drop inbound frame", "error", err)
			continue
		}
		select {
		case p.frames <- f:
		case <-p.done:
			return
		}
	}
	err := sc.Err()
	if err == nil {
		err = io.EOF
	}
	p.shutdown(err)
}

func (p *StreamPort) shutdown(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
		p.rwc.Close()
	})
}

// Send writes one frame as a JSON line.
func (p *StreamPort) Send(f Frame) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	if _, err := p.w.Write(append(data, '\n')); err != nil {
		p.shutdown(err)
		return fmt.Errorf("messaging: write frame: %w", err)
	}
	if err := p.w.Flush(); err != nil {
		p.shutdown(err)
		return fmt.Errorf("messaging: flush frame: %w", err)
	}
	return nil
}

// Recv returns the next inbound frame.
func (p *StreamPort) Recv(ctx context.Context) (Frame, error) {
	select {
	case f := <-p.frames:
		return f, nil
	case <-p.done:
		select {
		case f := <-p.frames:
			return f, nil
		default:
		}
		if p.err == nil || errors.Is(p.err, io.EOF) || errors.Is(p.err, net.ErrClosed) {
			return Frame{}, ErrClosed
		}
		return Frame{}, p.err
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close closes the underlying stream.
func (p *StreamPort) Close() error {
	p.shutdown(ErrClosed)
	return nil
}

// DialTCP connects to a rule engine listening on a TCP address.
func DialTCP(ctx context.Context, addr string, logger *slog.Logger) (*StreamPort, error) {
	d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("messaging: dial tcp %s: %w", addr, err)
	}
	return NewStreamPort(conn, logger), nil
}

type stdio struct {
	io.Reader
	io.WriteCloser
}

// Stdio builds a port over a reader/writer pair, e.g. a child process's pipes.
func Stdio(r io.Reader, w io.WriteCloser, logger *slog.Logger) *StreamPort {
	return NewStreamPort(stdio{Reader: r, WriteCloser: w}, logger)
}
