package fleet

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/fanout/internal/errors"
	"github.com/Iron-Ham/fanout/internal/logging"
)

// ProcessFleet launches each worker as a child process running
// `<binary> <args...> --instance-id <id> --role <role>`. Children inherit
// the coordinator's environment, so FANOUT_* settings reach them.
type ProcessFleet struct {
	binary string
	args   []string
	logger *logging.Logger

	mu       sync.Mutex
	children map[string]*child
	wg       conc.WaitGroup
}

type child struct {
	role string
	cmd  *exec.Cmd
}

// NewProcessFleet creates a fleet launching binary with args. An empty
// binary means the running executable.
func NewProcessFleet(binary string, args []string, logger *logging.Logger) (*ProcessFleet, error) {
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "resolve worker binary")
		}
		binary = exe
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &ProcessFleet{
		binary:   binary,
		args:     append([]string(nil), args...),
		logger:   logger.WithComponent("fleet"),
		children: make(map[string]*child),
	}, nil
}

var _ Provisioner = (*ProcessFleet)(nil)

// CreateInstances starts count child processes. Failure to start one stops
// the loop and is returned; children already started keep running.
func (f *ProcessFleet) CreateInstances(_ context.Context, count int, role string) error {
	if count < 0 {
		return errors.NewValidationError("instance count must not be negative").WithField("count").WithValue(count)
	}
	for range count {
		id := NewInstanceID()
		args := append(append([]string(nil), f.args...), "--instance-id", id, "--role", role)
		cmd := exec.Command(f.binary, args...)
		cmd.Env = os.Environ()
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

		if err := cmd.Start(); err != nil {
			return errors.NewTransportError("start worker process", err).WithAddress(f.binary)
		}

		f.mu.Lock()
		f.children[id] = &child{role: role, cmd: cmd}
		f.mu.Unlock()
		f.logger.Info("worker process started", "worker_id", id, "pid", cmd.Process.Pid, "role", role)

		f.wg.Go(func() {
			err := cmd.Wait()
			f.mu.Lock()
			delete(f.children, id)
			f.mu.Unlock()
			if err != nil {
				f.logger.Warn("worker process exited", "worker_id", id, "error", err)
				return
			}
			f.logger.Info("worker process exited", "worker_id", id)
		})
	}
	return nil
}

// CountRunning returns the number of live children tagged role.
func (f *ProcessFleet) CountRunning(_ context.Context, role string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.children {
		if c.role == role {
			n++
		}
	}
	return n, nil
}

// Wait blocks until every child has exited.
func (f *ProcessFleet) Wait() {
	f.wg.Wait()
}

// Shutdown sends SIGTERM to every remaining child and waits for them.
func (f *ProcessFleet) Shutdown() {
	f.mu.Lock()
	for id, c := range f.children {
		if err := c.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			f.logger.Debug("signal worker failed", "worker_id", id, "error", err)
		}
	}
	f.mu.Unlock()
	f.wg.Wait()
}
