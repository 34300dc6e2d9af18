// Package hypervisor holds the contract between the VM supervisor and its
// hypervisor backend: the shared error taxonomy and the process-control
// surface the shutdown escalation is written against.
package hypervisor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRunning rejects a start while a guest process exists.
	ErrAlreadyRunning = errors.New("VM already running")
	// ErrNotRunning rejects operations that need a live guest.
	ErrNotRunning = errors.New("VM not running")
	// ErrImageMissing rejects a start before the disk image is installed.
	ErrImageMissing = errors.New("guest disk image not installed")
	// ErrHealthTimeout marks a guest service that never became healthy.
	ErrHealthTimeout = errors.New("guest service health timeout")
)

// ExitError reports a hypervisor process that died during startup. LogTail
// carries the end of the combined output log so the failure is actionable
// without digging through the log directory.
type ExitError struct {
	LogTail string
	Err     error
}

func (e *ExitError) Error() string {
	msg := "hypervisor exited during startup"
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if tail := strings.TrimSpace(e.LogTail); tail != "" {
		msg = fmt.Sprintf("%s\n--- log tail ---\n%s", msg, tail)
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Process is the control surface of one hypervisor OS process. OwnProcess
// wraps a child this invocation spawned; AdoptProcess drives one found via
// the run record. Shutdown-escalation tests inject fakes.
type Process interface {
	Pid() int
	// Done is closed when the process has exited, however that happened.
	Done() <-chan struct{}
	// Terminate asks the OS to end the process (SIGTERM).
	Terminate() error
	// Kill forcibly ends the process (SIGKILL).
	Kill() error
}
