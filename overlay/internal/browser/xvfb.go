package browser

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// xvfbReady bounds the wait for the display socket.
const xvfbReady = 5 * time.Second

// display is a virtual X server for headful Chrome.
type display struct {
	name string
	cmd  *exec.Cmd
}

func startDisplay(name string, logger *slog.Logger) (*display, error) {
	sock, err := x11Socket(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("Xvfb", name, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("browser: start xvfb: %w", err)
	}
	d := &display{name: name, cmd: cmd}

	deadline := time.Now().Add(xvfbReady)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			d.stop(logger)
			return nil, fmt.Errorf("browser: xvfb %s not ready after %v", name, xvfbReady)
		}
		time.Sleep(50 * time.Millisecond)
	}
	logger.Info("browser: xvfb started", "display", name, "pid", cmd.Process.Pid)
	return d, nil
}

func (d *display) stop(logger *slog.Logger) {
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
		d.cmd.Wait()
	}
	logger.Info("browser: xvfb stopped", "display", d.name)
}

// x11Socket maps a display name such as ":99" or ":99.0" to the Unix socket
// the X server listens on.
func x11Socket(name string) (string, error) {
	n, ok := strings.CutPrefix(name, ":")
	if !ok {
		return "", fmt.Errorf("browser: display %q: want :N", name)
	}
	n, _, _ = strings.Cut(n, ".")
	if _, err := strconv.Atoi(n); err != nil {
		return "", fmt.Errorf("browser: display %q: want :N", name)
	}
	return "/tmp/.X11-unix/X" + n, nil
}
