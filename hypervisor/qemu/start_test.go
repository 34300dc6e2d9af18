package qemu

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/openclaw/carapace/hypervisor"
	"github.com/openclaw/carapace/progress"
	vmprogress "github.com/openclaw/carapace/progress/vm"
	"github.com/openclaw/carapace/types"
)

// writeFakeQEMU installs an executable script at the supervisor's configured
// binary path so spawn behavior can be scripted per test.
func writeFakeQEMU(t *testing.T, s *Supervisor, script string) {
	t.Helper()
	if err := os.WriteFile(s.conf.QEMUBinary, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil { //nolint:gosec
		t.Fatalf("write fake qemu: %v", err)
	}
}

func writeFakeImage(t *testing.T, s *Supervisor) {
	t.Helper()
	if err := os.WriteFile(s.conf.ImagePath(), []byte("qcow2-bytes"), 0o644); err != nil {
		t.Fatalf("write fake image: %v", err)
	}
}

func TestStart_ImageMissing(t *testing.T) {
	s := newTestSupervisor(t)
	err := s.Start(context.Background(), nil)
	if !errors.Is(err, hypervisor.ErrImageMissing) {
		t.Fatalf("expected ErrImageMissing, got %v", err)
	}
}

func TestStart_RejectsSecondBoot(t *testing.T) {
	s := newTestSupervisor(t)
	s.mu.Lock()
	s.proc = newFakeProcess()
	s.mu.Unlock()

	err := s.Start(context.Background(), nil)
	if !errors.Is(err, hypervisor.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStart_ImmediateExitCarriesLogTail(t *testing.T) {
	s := newTestSupervisor(t)
	writeFakeImage(t, s)
	writeFakeQEMU(t, s, `echo "qemu: could not set up host forwarding" >&2; exit 1`)

	err := s.Start(context.Background(), nil)
	if err == nil {
		t.Fatal("expected start to fail on immediate exit")
	}
	var ee *hypervisor.ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitError, got %T: %v", err, err)
	}
	if !strings.Contains(ee.LogTail, "could not set up host forwarding") {
		t.Errorf("log tail missing diagnostic output: %q", ee.LogTail)
	}
	if ee.Err == nil {
		t.Error("exit status not attached")
	}

	if st := s.State(); st != types.VMStateStopped {
		t.Errorf("state after failed start: %s", st)
	}
	if _, ok, err := s.loadRecord(context.Background()); err != nil {
		t.Fatalf("load record: %v", err)
	} else if ok {
		t.Error("failed boot left a run record behind")
	}
}

func TestStart_EmitsStageEvents(t *testing.T) {
	var mu sync.Mutex
	var states []types.VMState
	tracker := progress.NewTracker(func(ev vmprogress.Event) {
		mu.Lock()
		states = append(states, ev.State)
		mu.Unlock()
	})

	s := newTestSupervisor(t)
	s.tracker = tracker
	writeFakeImage(t, s)
	writeFakeQEMU(t, s, "exit 1")

	_ = s.Start(context.Background(), nil)

	mu.Lock()
	defer mu.Unlock()
	if len(states) == 0 || states[0] != types.VMStateStarting {
		t.Fatalf("first stage event should be starting, got %v", states)
	}
	if states[len(states)-1] != types.VMStateStopped {
		t.Errorf("last stage event should be stopped, got %v", states)
	}
}

func TestResolveOptions_DefaultsAndPersistence(t *testing.T) {
	s := newTestSupervisor(t)
	ctx := context.Background()

	opts, err := s.resolveOptions(ctx, nil)
	if err != nil {
		t.Fatalf("resolve defaults: %v", err)
	}
	if opts.Memory != s.conf.Memory || opts.CPU != s.conf.CPU {
		t.Errorf("defaults not applied: %+v", opts)
	}

	// Persist a previous boot's options; option-less resolve must reuse them.
	persisted := types.VMOptions{Memory: 1 << 30, CPU: 1, SharedDir: "/srv/x"}
	if err := s.options.Update(ctx, func(o *types.VMOptions) error {
		*o = persisted
		return nil
	}); err != nil {
		t.Fatalf("persist options: %v", err)
	}
	opts, err = s.resolveOptions(ctx, nil)
	if err != nil {
		t.Fatalf("resolve persisted: %v", err)
	}
	if opts != persisted {
		t.Errorf("persisted options not reused: %+v", opts)
	}

	// Explicit options always win, with zero fields filled from defaults.
	opts, err = s.resolveOptions(ctx, &types.VMOptions{CPU: 8})
	if err != nil {
		t.Fatalf("resolve explicit: %v", err)
	}
	if opts.CPU != 8 || opts.Memory != s.conf.Memory || opts.SharedDir != "" {
		t.Errorf("explicit options mishandled: %+v", opts)
	}
}

func TestStatus_StoppedWithoutRecord(t *testing.T) {
	s := newTestSupervisor(t)
	st, err := s.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Running || st.State != types.VMStateStopped {
		t.Errorf("expected stopped status, got %+v", st)
	}
}

func TestRecord_NotRunning(t *testing.T) {
	s := newTestSupervisor(t)
	if _, err := s.Record(context.Background()); !errors.Is(err, hypervisor.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}
