package messaging

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

const (
	// ALPN is negotiated on every engine QUIC connection.
	ALPN = "cosmetic-engine-v1"

	// Preface is written first on each stream so the server can reject
	// foreign clients before parsing frames.
	Preface = "CSM1"
)

// ErrBadPreface is returned by QUICListener.Accept for foreign streams.
var ErrBadPreface = errors.New("messaging: invalid stream preface")

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  2 * time.Minute,
		KeepAlivePeriod: 20 * time.Second,
	}
}

// quicStream adapts one QUIC stream to io.ReadWriteCloser and closes the
// owning connection with it.
type quicStream struct {
	*quic.Stream
	conn *quic.Conn
}

func (s quicStream) Close() error {
	s.Stream.CancelRead(0)
	err := s.Stream.Close()
	s.conn.CloseWithError(0, "closed")
	return err
}

// DialQUIC opens a QUIC connection to the engine and one bidirectional
// stream carrying the channel.
func DialQUIC(ctx context.Context, addr string, tlsCfg *tls.Config, logger *slog.Logger) (*StreamPort, error) {
	if tlsCfg == nil {
		tlsCfg = ClientTLSConfig(false)
	}
	conn, err := quic.DialAddr(ctx, addr, tlsCfg, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("messaging: quic dial %s: %w", addr, err)
	}
	if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPN {
		conn.CloseWithError(1, "bad alpn")
		return nil, fmt.Errorf("messaging: quic dial %s: unexpected ALPN %q", addr, alpn)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(1, "stream open failed")
		return nil, fmt.Errorf("messaging: open stream: %w", err)
	}
	if _, err := io.WriteString(stream, Preface); err != nil {
		conn.CloseWithError(1, "preface failed")
		return nil, fmt.Errorf("messaging: write preface: %w", err)
	}
	return NewStreamPort(quicStream{Stream: stream, conn: conn}, logger), nil
}

// QUICListener accepts engine-side channel ports.
type QUICListener struct {
	ln     *quic.Listener
	logger *slog.Logger
}

// ListenQUIC listens on addr. tlsCfg must carry a certificate; NextProtos
// is forced to ALPN.
func ListenQUIC(addr string, tlsCfg *tls.Config, logger *slog.Logger) (*QUICListener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := tlsCfg.Clone()
	cfg.NextProtos = []string{ALPN}
	ln, err := quic.ListenAddr(addr, cfg, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("messaging: quic listen %s: %w", addr, err)
	}
	return &QUICListener{ln: ln, logger: logger}, nil
}

// Addr returns the bound UDP address.
func (l *QUICListener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the next connection and its first stream.
func (l *QUICListener) Accept(ctx context.Context) (*StreamPort, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(1, "stream accept failed")
		return nil, fmt.Errorf("messaging: accept stream: %w", err)
	}

	buf := make([]byte, len(Preface))
	if _, err := io.ReadFull(stream, buf); err != nil || string(buf) != Preface {
		stream.CancelRead(1)
		stream.CancelWrite(1)
		conn.CloseWithError(1, "invalid preface")
		return nil, ErrBadPreface
	}
	l.logger.Debug("messaging: quic port accepted", "remote", conn.RemoteAddr().String())
	return NewStreamPort(quicStream{Stream: stream, conn: conn}, l.logger), nil
}

// Close stops accepting connections.
func (l *QUICListener) Close() error { return l.ln.Close() }

// ClientTLSConfig returns the engine client TLS config. insecure skips
// certificate verification for self-signed development engines.
func ClientTLSConfig(insecure bool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{ALPN},
		InsecureSkipVerify: insecure,
	}
}

// SelfSignedTLSConfig generates an in-memory ECDSA P-256 certificate for
// localhost. Development and tests only.
func SelfSignedTLSConfig() (*tls.Config, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("messaging: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("messaging: serial: %w", err)
	}
	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("messaging: create certificate: %w", err)
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  priv,
		}},
		NextProtos: []string{ALPN},
	}, nil
}
