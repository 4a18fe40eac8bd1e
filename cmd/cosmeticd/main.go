// Command cosmeticd applies cosmetic filters to browser pages and static
// HTML documents.
//
// Usage:
//
//	cosmeticd -config cosmetic.yaml                          # filter pages from YAML config
//	cosmeticd -url https://example.com -rules rules.yaml     # filter one page, reports on stdout
//	cosmeticd -html page.html -page-url https://example.com  # filter a file, markup on stdout
//	cosmeticd -config cosmetic.yaml -mcp                     # serve MCP tools over stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/domfilter/cosmetic"
)

type options struct {
	configPath string
	singleURL  string
	htmlPath   string
	pageURL    string
	transport  string
	engine     string
	rules      string
	journal    string
	httpAddr   string
	mcp        bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to cosmetic.yaml config file")
	flag.StringVar(&o.singleURL, "url", "", "filter a single URL (stdout sink)")
	flag.StringVar(&o.htmlPath, "html", "", "filter a static HTML file and print the result")
	flag.StringVar(&o.pageURL, "page-url", "", "URL the -html document was served from")
	flag.StringVar(&o.transport, "transport", "", "engine transport: tcp, quic, stdio, local, none")
	flag.StringVar(&o.engine, "engine", "", "engine address (host:port, or command line for stdio)")
	flag.StringVar(&o.rules, "rules", "", "rules file for the in-process engine")
	flag.StringVar(&o.journal, "journal", "", "path to the SQLite report journal")
	flag.StringVar(&o.httpAddr, "http", "", "status API listen address, e.g. :8090")
	flag.BoolVar(&o.mcp, "mcp", false, "serve MCP tools over stdio")
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

	if err := run(ctx, logger, o); err != nil {
		logger.Error("cosmeticd: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	if o.configPath == "" && o.singleURL == "" && o.htmlPath == "" && !o.mcp {
		fmt.Fprintln(os.Stderr, "usage: cosmeticd -config <file> | -url <url> | -html <file> -page-url <url> | -mcp")
		os.Exit(1)
	}

	cfg := cosmetic.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = cosmetic.LoadConfigFile(o.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	applyFlags(cfg, o)

	if o.htmlPath != "" {
		return runHTML(ctx, logger, cfg, o)
	}
	if o.singleURL != "" {
		cfg.Pages = []cosmetic.PageConfig{{URL: o.singleURL}}
		cfg.Sinks = nil
	}

	// MCP owns stdout in -mcp mode.
	var sinks []cosmetic.Sink
	if o.mcp {
		sinks = buildSinks(cfg, logger, os.Stderr, false)
	} else {
		sinks = buildSinks(cfg, logger, os.Stdout, true)
	}
	agent := cosmetic.New(cfg, logger, sinks...)
	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer agent.Stop()

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           agent.HTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			logger.Info("cosmeticd: http starting", "addr", cfg.HTTP.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("cosmeticd: http", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("cosmeticd: http shutdown", "error", err)
			}
		}()
	}

	if o.mcp {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "cosmeticd", Version: "1.0.0"}, nil)
		agent.RegisterMCP(mcpSrv)
		logger.Info("cosmeticd: mcp serving on stdio")
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			return fmt.Errorf("mcp: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	logger.Info("cosmeticd: shutting down")
	return nil
}

func runHTML(ctx context.Context, logger *slog.Logger, cfg *cosmetic.Config, o options) error {
	if o.pageURL == "" {
		return errors.New("-html needs -page-url")
	}
	f, err := os.Open(o.htmlPath)
	if err != nil {
		return err
	}
	defer f.Close()

	agent := cosmetic.New(cfg, logger, buildSinks(cfg, logger, os.Stderr, false)...)
	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer agent.Stop()

	out, stats, err := agent.FilterHTML(ctx, o.pageURL, f)
	if err != nil {
		return err
	}
	logger.Info("cosmeticd: document filtered",
		"url", o.pageURL, "cosmetic", stats.CosmeticSelectors, "net", stats.NetSelectors)
	_, err = os.Stdout.WriteString(out + "\n")
	return err
}

// applyFlags lets command-line flags override the file configuration.
func applyFlags(cfg *cosmetic.Config, o options) {
	if o.rules != "" {
		cfg.Engine.RulesFile = o.rules
		if o.transport == "" {
			cfg.Engine.Transport = cosmetic.TransportLocal
		}
	}
	if o.transport != "" {
		cfg.Engine.Transport = o.transport
	}
	if o.engine != "" {
		cfg.Engine.Address = o.engine
	}
	if o.journal != "" {
		cfg.Journal.Path = o.journal
	}
	if o.httpAddr != "" {
		cfg.HTTP.Addr = o.httpAddr
	}
}

// buildSinks creates the configured sinks. stdout sinks write to w; with
// fallback, a stdout sink is added when nothing else records reports.
func buildSinks(cfg *cosmetic.Config, logger *slog.Logger, w io.Writer, fallback bool) []cosmetic.Sink {
	var sinks []cosmetic.Sink
	for _, sc := range cfg.Sinks {
		var s cosmetic.Sink
		switch sc.Type {
		case "stdout":
			s = cosmetic.NewStdoutSink(w)
		case "webhook":
			s = cosmetic.NewWebhookSink(sc.URL, logger)
		default:
			logger.Warn("cosmeticd: unknown sink type", "type", sc.Type)
			continue
		}
		sinks = append(sinks, cosmetic.FilterKinds(s, sc.Kinds...))
	}
	if fallback && len(sinks) == 0 && cfg.Journal.Path == "" {
		sinks = append(sinks, cosmetic.NewStdoutSink(w))
	}
	return sinks
}
