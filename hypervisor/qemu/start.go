package qemu

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/openclaw/carapace/console"
	"github.com/openclaw/carapace/hypervisor"
	"github.com/openclaw/carapace/network"
	"github.com/openclaw/carapace/qmp"
	storejson "github.com/openclaw/carapace/storage/json"
	"github.com/openclaw/carapace/types"
	"github.com/openclaw/carapace/utils"
)

// Start boots the guest and returns once the console session is logged in
// and configured. opts, when nil, falls back to the previously persisted
// boot options and then to config defaults.
//
// The sequence: allocate ports, build the network device, spawn QEMU with
// output going to a per-run log, hold a short grace window to catch
// immediate exits, then bring up the control channel, the console, and the
// login automation. Every stage emits a lifecycle event through the tracker.
func (s *Supervisor) Start(ctx context.Context, opts *types.VMOptions) error {
	logger := log.WithFunc("qemu.Supervisor.Start")

	bootOpts, err := s.resolveOptions(ctx, opts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.proc != nil {
		s.mu.Unlock()
		return hypervisor.ErrAlreadyRunning
	}
	s.mu.Unlock()

	// A record left by another invocation counts as running while its
	// process still checks out.
	if rec, ok, err := s.loadRecord(ctx); err != nil {
		return err
	} else if ok && s.verifyRecord(rec) {
		return hypervisor.ErrAlreadyRunning
	}

	if !utils.ValidFile(s.conf.ImagePath()) {
		return hypervisor.ErrImageMissing
	}

	runID := utils.NewRunID()
	s.mu.Lock()
	s.runID = runID
	s.login = types.LoginIdle
	s.mu.Unlock()
	s.setState(types.VMStateStarting)

	consolePort, err := utils.FindFreePort(s.conf.ConsolePortBase)
	if err != nil {
		s.setState(types.VMStateStopped)
		return fmt.Errorf("console port: %w", err)
	}
	// The control scan starts just above the console port so the two
	// allocations never collide.
	controlPort, err := utils.FindFreePort(consolePort + 1)
	if err != nil {
		s.setState(types.VMStateStopped)
		return fmt.Errorf("control port: %w", err)
	}

	netdev, netArgs, err := network.New(s.conf, &bootOpts).Build(ctx, runID)
	if err != nil {
		s.setState(types.VMStateStopped)
		return fmt.Errorf("network: %w", err)
	}

	args := buildArgs(s.conf, bootOpts, netArgs, consolePort, controlPort)
	logPath := filepath.Join(s.conf.VMLogDir(),
		fmt.Sprintf("%s-%s.log", time.Now().Format("20060102-150405"), utils.ShortID(runID)))

	proc, err := s.spawn(args, logPath)
	if err != nil {
		_ = network.Teardown(ctx, netdev)
		s.setState(types.VMStateStopped)
		return err
	}
	logger.Infof(ctx, "spawned %s pid %d, console %d control %d",
		s.conf.QEMUBinary, proc.Pid(), consolePort, controlPort)

	// Grace window: a process that dies right away means a broken
	// invocation, not a slow boot. Surface the log tail for diagnosis.
	grace := time.NewTimer(s.bootGrace)
	defer grace.Stop()
	select {
	case <-proc.Done():
		_ = network.Teardown(ctx, netdev)
		s.setState(types.VMStateStopped)
		return &hypervisor.ExitError{LogTail: utils.TailFile(logPath, logTailBytes), Err: proc.WaitErr()}
	case <-grace.C:
	case <-ctx.Done():
		_ = proc.Kill()
		<-proc.Done()
		_ = network.Teardown(ctx, netdev)
		s.setState(types.VMStateStopped)
		return ctx.Err()
	}

	rec := types.VMRecord{
		RunID:        runID,
		PID:          proc.Pid(),
		ConsolePort:  consolePort,
		ControlPort:  controlPort,
		ImageVersion: s.installedVersion(ctx),
		LogPath:      logPath,
		Network:      netdev,
		Options:      bootOpts,
		StartedAt:    time.Now().UTC(),
	}
	if err := s.record.Update(ctx, func(r *types.VMRecord) error {
		*r = rec
		return nil
	}); err != nil {
		// Without a record no later invocation could stop this process, so
		// it must not survive the failed start.
		_ = proc.Kill()
		<-proc.Done()
		_ = network.Teardown(ctx, netdev)
		s.setState(types.VMStateStopped)
		return fmt.Errorf("write run record: %w", err)
	}

	s.mu.Lock()
	s.proc = proc
	s.rec = rec
	s.mu.Unlock()
	go s.reap(proc, runID)

	s.setState(types.VMStateConnecting)
	monitor := qmp.New(fmt.Sprintf("127.0.0.1:%d", controlPort))
	if err := monitor.Connect(ctx); err != nil {
		return s.abortStart(ctx, proc, logPath, err)
	}
	defer monitor.Close() //nolint:errcheck

	con := console.New(fmt.Sprintf("127.0.0.1:%d", consolePort))
	con.OnState = s.observeLogin
	if err := con.Connect(ctx); err != nil {
		return s.abortStart(ctx, proc, logPath, err)
	}
	defer con.Close() //nolint:errcheck

	s.setState(types.VMStateAuthenticating)
	if err := con.Login(ctx, s.conf.GuestUser, s.conf.GuestPassword); err != nil {
		return s.abortStart(ctx, proc, logPath, fmt.Errorf("login: %w", err))
	}

	if err := s.options.Update(ctx, func(o *types.VMOptions) error {
		*o = bootOpts
		return nil
	}); err != nil {
		logger.Warnf(ctx, "persist boot options: %v", err)
	}

	s.setState(types.VMStateRunning)
	logger.Infof(ctx, "VM %s running", utils.ShortID(runID))
	return nil
}

// resolveOptions fills a boot request: explicit options win, then the
// persisted ones from the previous boot, then config defaults.
func (s *Supervisor) resolveOptions(ctx context.Context, opts *types.VMOptions) (types.VMOptions, error) {
	out := types.VMOptions{}
	if opts != nil {
		out = *opts
	} else if err := s.options.With(ctx, func(o *types.VMOptions) error {
		out = *o
		return nil
	}); err != nil {
		return types.VMOptions{}, fmt.Errorf("load boot options: %w", err)
	}
	if out.Memory <= 0 {
		out.Memory = s.conf.Memory
	}
	if out.CPU <= 0 {
		out.CPU = s.conf.CPU
	}
	return out, nil
}

// spawn launches QEMU with combined output going to logPath. The child is
// detached into its own process group so it survives this invocation; later
// control goes through the run record.
func (s *Supervisor) spawn(args []string, logPath string) (*hypervisor.OwnProcess, error) {
	logFile, err := os.Create(logPath) //nolint:gosec // supervisor-owned log dir
	if err != nil {
		return nil, fmt.Errorf("create hypervisor log: %w", err)
	}
	defer logFile.Close() //nolint:errcheck

	cmd := exec.Command(s.conf.QEMUBinary, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("exec %s: %w", s.conf.QEMUBinary, err)
	}
	return hypervisor.NewOwnProcess(cmd), nil
}

// abortStart tears down a spawn whose channel bring-up failed and shapes the
// error: a process that died on the way gets the log tail attached, a live
// one is killed outright (it never became controllable, so there is nothing
// to shut down gracefully).
func (s *Supervisor) abortStart(ctx context.Context, proc *hypervisor.OwnProcess, logPath string, stageErr error) error {
	select {
	case <-proc.Done():
		s.cleanup(ctx, proc)
		return &hypervisor.ExitError{LogTail: utils.TailFile(logPath, logTailBytes), Err: stageErr}
	default:
	}

	s.setState(types.VMStateStopping)
	_ = proc.Kill()
	<-proc.Done()
	s.cleanup(ctx, proc)
	return stageErr
}

// reap watches for a process exit nobody asked for: a crash, or a powerdown
// initiated inside the guest. A stop in flight owns its own cleanup.
func (s *Supervisor) reap(proc hypervisor.Process, runID string) {
	<-proc.Done()

	s.mu.Lock()
	current := s.proc == proc
	stopping := s.state == types.VMStateStopping
	s.mu.Unlock()
	if !current || stopping {
		return
	}

	ctx := context.Background()
	log.WithFunc("qemu.Supervisor.reap").Warnf(ctx, "VM %s exited outside a stop request", utils.ShortID(runID))
	s.cleanup(ctx, proc)
}

// installedVersion reads the installed image version for the run record.
// Best effort: an unreadable index just leaves the field empty.
func (s *Supervisor) installedVersion(ctx context.Context) string {
	store := storejson.New[types.ImageRecord](s.conf.ImageIndexLock(), s.conf.ImageIndexFile())
	var version string
	_ = store.With(ctx, func(r *types.ImageRecord) error {
		version = r.Version
		return nil
	})
	return version
}
