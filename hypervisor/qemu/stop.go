package qemu

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/openclaw/carapace/hypervisor"
	"github.com/openclaw/carapace/network"
	"github.com/openclaw/carapace/qmp"
	"github.com/openclaw/carapace/types"
)

// stopPhase tracks the escalation ladder: ask the guest, then the OS, then
// force. Process exit short-circuits whichever phase is waiting.
type stopPhase int

const (
	stopGraceful stopPhase = iota
	stopSignaling
	stopKilling
)

// Stop powers the guest down, escalating as needed. A no-op when nothing is
// running. The graceful powerdown request is best effort; an unresponsive or
// unreachable guest ends up signaled and finally killed.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	proc := s.proc
	rec := s.rec
	s.mu.Unlock()

	if proc == nil {
		return s.stopAdopted(ctx)
	}

	s.setState(types.VMStateStopping)
	monitor := s.dialMonitor(ctx, rec.ControlPort)
	err := s.escalate(ctx, proc, monitor)
	if monitor != nil {
		_ = monitor.Close()
	}
	if err != nil {
		return err
	}
	s.cleanup(ctx, proc)
	return nil
}

// Restart stops the guest, lets the host settle, and boots it again with the
// options persisted by the previous start.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return fmt.Errorf("restart stop: %w", err)
	}
	select {
	case <-time.After(s.settleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.Start(ctx, nil); err != nil {
		return fmt.Errorf("restart start: %w", err)
	}
	return nil
}

// stopAdopted stops a process this invocation did not spawn: the run record
// names a PID, and when it still checks out it is adopted and driven through
// the same escalation. Without a live process the stop only clears leftovers.
func (s *Supervisor) stopAdopted(ctx context.Context) error {
	rec, ok, err := s.loadRecord(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	proc, err := hypervisor.AdoptProcess(rec.PID, filepath.Base(s.conf.QEMUBinary), s.conf.ImagePath())
	if err != nil {
		// Dead or recycled PID: nothing to stop, drop the stale record.
		return s.clearRuntime(ctx, rec)
	}
	defer proc.Release()

	s.mu.Lock()
	s.runID = rec.RunID
	s.mu.Unlock()
	s.setState(types.VMStateStopping)

	monitor := s.dialMonitor(ctx, rec.ControlPort)
	err = s.escalate(ctx, proc, monitor)
	if monitor != nil {
		_ = monitor.Close()
	}
	if err != nil {
		return err
	}
	if err := s.clearRuntime(ctx, rec); err != nil {
		return err
	}
	s.setState(types.VMStateStopped)
	return nil
}

// escalate drives one process to exit. The graceful phase asks the guest to
// power down over the control channel and always arms the stop timeout, even
// when the request could not be sent: the guest may be going down on its own
// and deserves the window either way. Then SIGTERM with a shorter window,
// then SIGKILL, which cannot be refused.
func (s *Supervisor) escalate(ctx context.Context, proc hypervisor.Process, monitor *qmp.Client) error {
	logger := log.WithFunc("qemu.Supervisor.escalate")

	for phase := stopGraceful; ; phase++ {
		var wait time.Duration
		switch phase {
		case stopGraceful:
			if monitor != nil && monitor.Negotiated() {
				if err := monitor.Shutdown(ctx); err != nil {
					logger.Warnf(ctx, "graceful powerdown: %v", err)
				}
			}
			wait = s.stopTimeout
		case stopSignaling:
			logger.Warnf(ctx, "guest did not power down, sending SIGTERM to pid %d", proc.Pid())
			if err := proc.Terminate(); err != nil {
				logger.Warnf(ctx, "SIGTERM pid %d: %v", proc.Pid(), err)
			}
			wait = s.killGrace
		case stopKilling:
			logger.Warnf(ctx, "SIGTERM ignored, killing pid %d", proc.Pid())
			if err := proc.Kill(); err != nil {
				logger.Warnf(ctx, "SIGKILL pid %d: %v", proc.Pid(), err)
			}
			select {
			case <-proc.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-proc.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// dialMonitor makes a best-effort control channel for the graceful stop
// phase. A dead or busy socket fails fast under a short deadline and the
// escalation proceeds without the powerdown request.
func (s *Supervisor) dialMonitor(ctx context.Context, port int) *qmp.Client {
	monitor := qmp.New(fmt.Sprintf("127.0.0.1:%d", port))
	connectCtx, cancel := context.WithTimeout(ctx, monitorStopTimeout)
	defer cancel()
	if err := monitor.Connect(connectCtx); err != nil {
		log.WithFunc("qemu.Supervisor.dialMonitor").Warnf(ctx, "control channel unavailable: %v", err)
		return nil
	}
	return monitor
}

// cleanup releases everything attached to proc: the network device, the run
// record, and the in-memory slot. Idempotent per process; whichever of a
// stop or the reaper gets here first does the work.
func (s *Supervisor) cleanup(ctx context.Context, proc hypervisor.Process) {
	s.mu.Lock()
	if s.proc != proc {
		s.mu.Unlock()
		return
	}
	rec := s.rec
	s.proc = nil
	s.rec = types.VMRecord{}
	s.login = types.LoginIdle
	s.mu.Unlock()

	logger := log.WithFunc("qemu.Supervisor.cleanup")
	if err := network.Teardown(ctx, rec.Network); err != nil {
		logger.Warnf(ctx, "network teardown: %v", err)
	}
	if err := s.record.Update(ctx, func(r *types.VMRecord) error {
		if r.RunID == rec.RunID {
			*r = types.VMRecord{}
		}
		return nil
	}); err != nil {
		logger.Warnf(ctx, "clear run record: %v", err)
	}
	s.setState(types.VMStateStopped)
}

// clearRuntime drops the leftovers of a boot that is no longer alive: its
// network device and its run record. The record is zeroed only while it
// still describes the same boot, so a racing fresh start is not clobbered.
func (s *Supervisor) clearRuntime(ctx context.Context, rec types.VMRecord) error {
	if err := network.Teardown(ctx, rec.Network); err != nil {
		log.WithFunc("qemu.Supervisor.clearRuntime").Warnf(ctx, "network teardown: %v", err)
	}
	return s.record.Update(ctx, func(r *types.VMRecord) error {
		if r.RunID == rec.RunID {
			*r = types.VMRecord{}
		}
		return nil
	})
}
