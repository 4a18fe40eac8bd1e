package cosmetic

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/hazyhaar/domfilter/cosmetic/internal/config"
	"github.com/hazyhaar/domfilter/messaging"
)

// dialEngine opens one port to the rule engine for a session. TransportNone
// returns a nil port: the channel is never established and every ask
// resolves with an empty reply.
func (a *Agent) dialEngine(ctx context.Context) (messaging.Port, error) {
	ec := a.cfg.Engine
	switch ec.Transport {
	case config.TransportNone, "":
		return nil, nil

	case config.TransportLocal:
		// The engine side outlives the session context so tells queued
		// before teardown are still answered; closing the pipe ends it.
		a.mu.Lock()
		eng, base := a.eng, a.ctx
		a.mu.Unlock()
		if eng == nil {
			return nil, fmt.Errorf("cosmetic: local engine not loaded")
		}
		local, remote := messaging.Pipe()
		go func() {
			if err := eng.Serve(base, remote); err != nil {
				a.logger.Debug("cosmetic: local engine stopped", "error", err)
			}
		}()
		return local, nil

	case config.TransportTCP:
		dctx, cancel := context.WithTimeout(ctx, ec.DialTimeout)
		defer cancel()
		port, err := messaging.DialTCP(dctx, ec.Address, a.logger)
		if err != nil {
			return nil, fmt.Errorf("cosmetic: %w", err)
		}
		return port, nil

	case config.TransportQUIC:
		tlsCfg := messaging.ClientTLSConfig(ec.InsecureSkipVerify)
		tlsCfg.ServerName = ec.ServerName
		dctx, cancel := context.WithTimeout(ctx, ec.DialTimeout)
		defer cancel()
		port, err := messaging.DialQUIC(dctx, ec.Address, tlsCfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("cosmetic: %w", err)
		}
		return port, nil

	case config.TransportStdio:
		return a.spawnEngine(ctx, ec.Address)

	default:
		return nil, fmt.Errorf("cosmetic: unknown engine transport %q", ec.Transport)
	}
}

// spawnEngine starts command as a child engine speaking the channel over
// its stdin and stdout. The child is killed when ctx ends.
func (a *Agent) spawnEngine(ctx context.Context, command string) (messaging.Port, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("cosmetic: stdio engine needs a command in engine.address")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("cosmetic: engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("cosmetic: engine stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("cosmetic: start engine %s: %w", argv[0], err)
	}

	go func() {
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			a.logger.Warn("cosmetic: engine process exited", "cmd", argv[0], "error", err)
		}
	}()
	return messaging.Stdio(stdout, stdin, a.logger), nil
}
