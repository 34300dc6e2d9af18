package qemu

import (
	"context"

	"github.com/openclaw/carapace/hypervisor"
	"github.com/openclaw/carapace/types"
	"github.com/openclaw/carapace/utils"
)

// Status reports a point-in-time snapshot. When this invocation holds the
// process the in-memory view wins; otherwise the run record is consulted and
// verified against the live process table.
func (s *Supervisor) Status(ctx context.Context) (types.VMStatus, error) {
	s.mu.Lock()
	if s.proc != nil {
		st := types.VMStatus{
			State:        s.state,
			Running:      true,
			PID:          s.proc.Pid(),
			RunID:        s.runID,
			ConsolePort:  s.rec.ConsolePort,
			ControlPort:  s.rec.ControlPort,
			ConsoleReady: s.login == types.LoginReady,
			ImageVersion: s.rec.ImageVersion,
			StartedAt:    s.rec.StartedAt,
		}
		s.mu.Unlock()
		return st, nil
	}
	s.mu.Unlock()

	rec, ok, err := s.loadRecord(ctx)
	if err != nil {
		return types.VMStatus{}, err
	}
	if !ok || !s.verifyRecord(rec) {
		return types.VMStatus{State: types.VMStateStopped}, nil
	}
	return types.VMStatus{
		State:        types.VMStateRunning,
		Running:      true,
		PID:          rec.PID,
		RunID:        rec.RunID,
		ConsolePort:  rec.ConsolePort,
		ControlPort:  rec.ControlPort,
		ConsoleReady: utils.CheckPort(rec.ConsolePort) == nil,
		ImageVersion: rec.ImageVersion,
		StartedAt:    rec.StartedAt,
	}, nil
}

// Record returns the run record of the live boot, reading the persisted one
// when this invocation did not spawn it. Callers use it to reach the console
// and log of a boot started elsewhere. ErrNotRunning when nothing is alive.
func (s *Supervisor) Record(ctx context.Context) (types.VMRecord, error) {
	s.mu.Lock()
	if s.proc != nil {
		rec := s.rec
		s.mu.Unlock()
		return rec, nil
	}
	s.mu.Unlock()

	rec, ok, err := s.loadRecord(ctx)
	if err != nil {
		return types.VMRecord{}, err
	}
	if !ok || !s.verifyRecord(rec) {
		return types.VMRecord{}, hypervisor.ErrNotRunning
	}
	return rec, nil
}
