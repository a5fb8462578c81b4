package terminal

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Launcher makes sure the backing terminal process is running before a
// connect attempt. Implementations must be idempotent.
type Launcher interface {
	EnsureRunning(ctx context.Context) error
}

// ProcessLauncher starts the terminal executable on demand and keeps a handle
// on it so repeated calls are cheap no-ops while it stays alive.
type ProcessLauncher struct {
	mu          sync.Mutex
	path        string
	startupWait time.Duration
	cmd         *exec.Cmd
	// exited is closed by the wait goroutine once the current process is
	// gone. It is the only exit signal; cmd.ProcessState is never read.
	exited chan struct{}
}

// NewProcessLauncher manages the executable at path. startupWait bounds how
// long a fresh launch is given to come up.
func NewProcessLauncher(path string, startupWait time.Duration) *ProcessLauncher {
	return &ProcessLauncher{path: path, startupWait: startupWait}
}

// EnsureRunning launches the terminal if it is not already running, then
// waits out the startup window, failing early if the process exits during it.
func (l *ProcessLauncher) EnsureRunning(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil {
		select {
		case <-l.exited:
			// Previous process died; fall through and relaunch.
		default:
			return nil
		}
	}

	cmd := exec.Command(l.path)
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "starting terminal %s", l.path)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	l.cmd = cmd
	l.exited = exited
	log.Info().Str("path", l.path).Int("pid", cmd.Process.Pid).Msg("launched terminal process")

	deadline := time.NewTimer(l.startupWait)
	defer deadline.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-deadline.C:
		return nil
	case <-exited:
		return errors.Errorf("terminal %s exited during startup", l.path)
	}
}
