// internal/browser/process.go
package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Process is a spawned browser serving DevTools on Port.
type Process struct {
	Port   int
	cmd    *exec.Cmd
	logger *zap.Logger

	exited  chan struct{}
	waitErr error

	shutdownOnce sync.Once
	shutdownErr  error
}

// StartProcess launches binary with args and begins reaping it in the
// background.
func StartProcess(binary string, args []string, port int, logger *zap.Logger) (*Process, error) {
	cmd := exec.Command(binary, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", binary, err)
	}

	p := &Process{
		Port:   port,
		cmd:    cmd,
		logger: logger.With(zap.Int("pid", cmd.Process.Pid), zap.Int("port", port)),
		exited: make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	p.logger.Debug("Browser process started.")
	return p, nil
}

// Exited reports whether the process has already terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} { return p.exited }

// Shutdown kills the process and any children it spawned, then waits up to
// timeout for it to be reaped. It is idempotent and returns nil when the
// process is already gone.
func (p *Process) Shutdown(timeout time.Duration) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(timeout)
	})
	return p.shutdownErr
}

func (p *Process) shutdown(timeout time.Duration) error {
	if p.Exited() {
		p.logger.Debug("Browser process already exited.", zap.Error(p.waitErr))
		return nil
	}

	pid := int32(p.cmd.Process.Pid)
	if proc, err := process.NewProcess(pid); err == nil {
		// Renderer and GPU helpers survive the parent otherwise.
		if children, err := proc.Children(); err == nil {
			for _, c := range children {
				if err := c.Kill(); err != nil {
					p.logger.Debug("Failed to kill child process.", zap.Int32("child_pid", c.Pid), zap.Error(err))
				}
			}
		}
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill browser process %d: %w", pid, err)
	}

	select {
	case <-p.exited:
		p.logger.Debug("Browser process terminated.")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("browser process %d did not exit within %v", pid, timeout)
	}
}
