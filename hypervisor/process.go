package hypervisor

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/openclaw/carapace/utils"
)

// adoptPollInterval is how often an adopted process is checked for liveness.
const adoptPollInterval = 500 * time.Millisecond

// OwnProcess controls a child spawned by this invocation. Wait runs exactly
// once in a background goroutine so the exit is observed even when nobody
// is blocked on Done yet.
type OwnProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	waitErr error
}

// NewOwnProcess takes ownership of an already-started command and begins
// reaping it.
func NewOwnProcess(cmd *exec.Cmd) *OwnProcess {
	p := &OwnProcess{
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p
}

func (p *OwnProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *OwnProcess) Done() <-chan struct{} {
	return p.done
}

// WaitErr returns the error cmd.Wait produced. Only meaningful after Done
// is closed.
func (p *OwnProcess) WaitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *OwnProcess) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *OwnProcess) Kill() error {
	return p.cmd.Process.Kill()
}

// AdoptedProcess controls a process recovered from a run record. It was not
// spawned by us, so exit is detected by polling liveness rather than Wait.
type AdoptedProcess struct {
	pid    int
	done   chan struct{}
	cancel context.CancelFunc
}

// AdoptProcess verifies that pid is alive and still runs the recorded
// binary with the recorded image argument, then begins watching it. The
// cmdline check guards against PID recycling.
func AdoptProcess(pid int, binary, imagePath string) (*AdoptedProcess, error) {
	if !utils.VerifyProcessCmdline(pid, binary, imagePath) {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrNotRunning)
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	p := &AdoptedProcess{
		pid:    pid,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go p.watch(watchCtx)
	return p, nil
}

func (p *AdoptedProcess) watch(ctx context.Context) {
	ticker := time.NewTicker(adoptPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !utils.IsProcessAlive(p.pid) {
				close(p.done)
				return
			}
		}
	}
}

// Release stops watching without touching the process.
func (p *AdoptedProcess) Release() {
	p.cancel()
}

func (p *AdoptedProcess) Pid() int {
	return p.pid
}

func (p *AdoptedProcess) Done() <-chan struct{} {
	return p.done
}

func (p *AdoptedProcess) Terminate() error {
	return syscall.Kill(p.pid, syscall.SIGTERM)
}

func (p *AdoptedProcess) Kill() error {
	return syscall.Kill(p.pid, syscall.SIGKILL)
}
