// Package qemu supervises the single OpenClaw guest: it spawns QEMU with a
// deterministic argument list, brings up the control channel and the console
// login, escalates shutdown, and persists a run record so a later invocation
// can find and control the process this one left behind.
package qemu

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/openclaw/carapace/config"
	"github.com/openclaw/carapace/hypervisor"
	"github.com/openclaw/carapace/progress"
	vmprogress "github.com/openclaw/carapace/progress/vm"
	"github.com/openclaw/carapace/storage"
	storejson "github.com/openclaw/carapace/storage/json"
	"github.com/openclaw/carapace/types"
	"github.com/openclaw/carapace/utils"
)

const (
	// bootGrace is how long a fresh process gets to prove it will not die on
	// the spot before the channels are dialed.
	bootGrace = 2 * time.Second
	// restartSettle separates a stop from the follow-up start so the old
	// process's ports and sockets are really gone.
	restartSettle = 2 * time.Second
	// killGrace is the SIGTERM to SIGKILL window.
	killGrace = 5 * time.Second
	// monitorStopTimeout bounds the control-channel dial during stop; a dead
	// socket must fail fast so escalation is not delayed.
	monitorStopTimeout = 3 * time.Second
	// healthPollInterval is how often the guest health endpoint is probed.
	healthPollInterval = 2 * time.Second
	// logTailBytes bounds the diagnostic log tail attached to startup failures.
	logTailBytes = 2048
)

// Supervisor owns at most one QEMU process at a time. All operations are safe
// for concurrent use; lifecycle transitions are serialized by the process
// slot (a second Start while one is live fails with ErrAlreadyRunning).
type Supervisor struct {
	conf    *config.Config
	tracker progress.Tracker

	record  storage.Store[types.VMRecord]
	options storage.Store[types.VMOptions]

	mu    sync.Mutex
	state types.VMState
	login types.LoginState
	runID string
	proc  hypervisor.Process
	rec   types.VMRecord

	// timing knobs, fixed except in tests
	bootGrace      time.Duration
	settleDelay    time.Duration
	stopTimeout    time.Duration
	killGrace      time.Duration
	healthInterval time.Duration
}

// New creates a Supervisor on conf. tracker observes lifecycle stage events;
// pass nil when nobody is watching.
func New(conf *config.Config, tracker progress.Tracker) (*Supervisor, error) {
	if err := conf.EnsureDirs(); err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = progress.Nop
	}
	return &Supervisor{
		conf:           conf,
		tracker:        tracker,
		record:         storejson.New[types.VMRecord](conf.VMRecordLock(), conf.VMRecordFile()),
		options:        storejson.New[types.VMOptions](conf.OptionsLock(), conf.OptionsFile()),
		state:          types.VMStateStopped,
		bootGrace:      bootGrace,
		settleDelay:    restartSettle,
		stopTimeout:    time.Duration(conf.StopTimeoutSeconds) * time.Second,
		killGrace:      killGrace,
		healthInterval: healthPollInterval,
	}, nil
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() types.VMState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState advances the lifecycle and emits a stage event.
func (s *Supervisor) setState(state types.VMState) {
	s.mu.Lock()
	s.state = state
	ev := vmprogress.Event{RunID: s.runID, State: state, Login: s.login}
	s.mu.Unlock()
	s.tracker.OnEvent(ev)
}

// observeLogin mirrors console automation transitions into stage events.
// Installed as the console client's OnState callback during start.
func (s *Supervisor) observeLogin(ls types.LoginState) {
	s.mu.Lock()
	s.login = ls
	ev := vmprogress.Event{RunID: s.runID, State: s.state, Login: ls}
	s.mu.Unlock()
	s.tracker.OnEvent(ev)
}

// loadRecord returns the persisted run record; ok is false when no boot is
// recorded. A zeroed record (left by a clean stop) counts as absent.
func (s *Supervisor) loadRecord(ctx context.Context) (types.VMRecord, bool, error) {
	var rec types.VMRecord
	if err := s.record.With(ctx, func(r *types.VMRecord) error {
		rec = *r
		return nil
	}); err != nil {
		return types.VMRecord{}, false, err
	}
	return rec, rec.RunID != "" && rec.PID > 0, nil
}

// verifyRecord reports whether the recorded PID still belongs to our
// hypervisor running our image. Guards every adoption against PID recycling.
func (s *Supervisor) verifyRecord(rec types.VMRecord) bool {
	return utils.VerifyProcessCmdline(rec.PID, filepath.Base(s.conf.QEMUBinary), s.conf.ImagePath())
}
