package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

const (
	xvfbReadyTimeout = 5 * time.Second
	xvfbStopTimeout  = 2 * time.Second
)

// startXvfb launches the virtual display and waits until its socket
// accepts clients, so Chrome never races an unready server.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	sock, err := displaySocket(display)
	if err != nil {
		return err
	}

	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	deadline := time.After(xvfbReadyTimeout)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		select {
		case err := <-exited:
			return fmt.Errorf("xvfb %s exited early: %v", display, err)
		case <-deadline:
			cmd.Process.Kill()
			<-exited
			return fmt.Errorf("xvfb %s: no socket after %s", display, xvfbReadyTimeout)
		case <-time.After(50 * time.Millisecond):
		}
	}

	m.xvfb = cmd
	m.xvfbExit = exited
	m.cfg.Logger.Info("browser: xvfb ready", "display", display, "pid", cmd.Process.Pid)
	return nil
}

// stopXvfb asks the server to terminate and kills it if it lingers.
func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	m.xvfb.Process.Signal(syscall.SIGTERM)
	select {
	case <-m.xvfbExit:
	case <-time.After(xvfbStopTimeout):
		m.cfg.Logger.Warn("browser: xvfb ignored SIGTERM, killing")
		m.xvfb.Process.Kill()
		<-m.xvfbExit
	}
	m.cfg.Logger.Info("browser: xvfb stopped")
	m.xvfb, m.xvfbExit = nil, nil
}

// displaySocket maps ":99" or ":99.0" to its Unix socket path.
func displaySocket(display string) (string, error) {
	n, ok := strings.CutPrefix(display, ":")
	if !ok || n == "" {
		return "", errors.New("xvfb: display must look like :N")
	}
	n, _, _ = strings.Cut(n, ".")
	return filepath.Join("/tmp/.X11-unix", "X"+n), nil
}
