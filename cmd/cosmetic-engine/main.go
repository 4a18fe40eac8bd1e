// Command cosmetic-engine serves a YAML rule set to cosmetic sessions.
//
// Usage:
//
//	cosmetic-engine -rules rules.yaml -listen :7070                   # TCP, JSON lines
//	cosmetic-engine -rules rules.yaml -listen :7443 -transport quic   # QUIC, self-signed
//	cosmetic-engine -rules rules.yaml -transport stdio                # one channel on stdin/stdout
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/hazyhaar/domfilter/engine"
	"github.com/hazyhaar/domfilter/messaging"
)

func main() {
	rulesPath := flag.String("rules", "", "path to the YAML rule set")
	listen := flag.String("listen", ":7070", "listen address for tcp and quic")
	transport := flag.String("transport", "tcp", "transport: tcp, quic, stdio")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *rulesPath, *listen, *transport); err != nil {
		logger.Error("cosmetic-engine: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, rulesPath, listen, transport string) error {
	if rulesPath == "" {
		fmt.Fprintln(os.Stderr, "usage: cosmetic-engine -rules <file> [-listen addr] [-transport tcp|quic|stdio]")
		os.Exit(1)
	}
	rules, err := engine.LoadRules(rulesPath)
	if err != nil {
		return err
	}
	eng := engine.New(rules, logger)

	switch transport {
	case "tcp":
		ln, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		logger.Info("cosmetic-engine: tcp listening", "addr", ln.Addr().String())
		return eng.ServeTCP(ctx, ln)

	case "quic":
		tlsCfg, err := messaging.SelfSignedTLSConfig()
		if err != nil {
			return err
		}
		ln, err := messaging.ListenQUIC(listen, tlsCfg, logger)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		defer ln.Close()
		logger.Info("cosmetic-engine: quic listening", "addr", ln.Addr().String())
		return eng.ServeQUIC(ctx, ln)

	case "stdio":
		// The agent closing our stdin ends the session.
		return eng.Serve(ctx, messaging.Stdio(os.Stdin, os.Stdout, logger))

	default:
		return fmt.Errorf("unknown transport %q", transport)
	}
}
