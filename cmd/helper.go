package cmd

import (
	"context"
	"fmt"

	units "github.com/docker/go-units"
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/openclaw/carapace/hypervisor/qemu"
	"github.com/openclaw/carapace/images"
	"github.com/openclaw/carapace/progress"
	vmprogress "github.com/openclaw/carapace/progress/vm"
	"github.com/openclaw/carapace/types"
	"github.com/openclaw/carapace/utils"
)

// newSupervisor builds the VM supervisor. tracker observes lifecycle stage
// events; pass nil for commands that do not render them.
func newSupervisor(tracker progress.Tracker) (*qemu.Supervisor, error) {
	s, err := qemu.New(conf, tracker)
	if err != nil {
		return nil, fmt.Errorf("init supervisor: %w", err)
	}
	return s, nil
}

// newImages builds the image acquisition manager.
func newImages(ctx context.Context) (*images.Manager, error) {
	m, err := images.New(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("init images: %w", err)
	}
	return m, nil
}

// stageTracker renders lifecycle stage events for run/start. The login detail
// is shown only while the authenticating stage reports it.
func stageTracker(ctx context.Context) progress.Tracker {
	logger := log.WithFunc("cmd.stage")
	return progress.NewTracker(func(e vmprogress.Event) {
		if e.State == types.VMStateAuthenticating && e.Login != types.LoginIdle {
			logger.Infof(ctx, "VM %s: %s (%s)", utils.ShortID(e.RunID), e.State, e.Login)
			return
		}
		logger.Infof(ctx, "VM %s: %s", utils.ShortID(e.RunID), e.State)
	})
}

// bootFlags registers the resource flags shared by run and start. Defaults
// are left zero so an untouched flag set falls back to the options persisted
// by the previous boot, then to config.
func bootFlags(cmd *cobra.Command) {
	cmd.Flags().String("memory", "", "guest memory size, e.g. 4G (default: last boot, then config)")
	cmd.Flags().Int("cpu", 0, "guest vCPU count (default: last boot, then config)")
	cmd.Flags().String("shared-dir", "", "host directory exported to the guest (empty disables)")
	cmd.Flags().String("bridge", "", "host bridge for tap networking (empty selects user-mode)")
	cmd.Flags().Duration("health-timeout", 0, "wait for the guest service health endpoint (0 skips)")
}

// optionsFromFlags builds boot options for run/start. Returns nil when no
// resource flag was set, which tells the supervisor to reuse the persisted
// options of the previous boot.
func optionsFromFlags(cmd *cobra.Command) (*types.VMOptions, error) {
	flags := cmd.Flags()
	if !flags.Changed("memory") && !flags.Changed("cpu") &&
		!flags.Changed("shared-dir") && !flags.Changed("bridge") {
		return nil, nil
	}

	opts := &types.VMOptions{}
	if flags.Changed("memory") {
		memStr, _ := flags.GetString("memory")
		memBytes, err := units.RAMInBytes(memStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --memory %q: %w", memStr, err)
		}
		opts.Memory = memBytes
	}
	opts.CPU, _ = flags.GetInt("cpu")
	opts.SharedDir, _ = flags.GetString("shared-dir")
	opts.Bridge, _ = flags.GetString("bridge")
	return opts, nil
}

func formatSize(bytes int64) string {
	return units.HumanSize(float64(bytes))
}
