package cmd

import (
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
)

var startCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Boot the VM and detach",
		Args:  cobra.NoArgs,
		RunE:  runStart,
	}
	bootFlags(cmd)
	return cmd
}()

// runStart boots and returns. The hypervisor runs in its own process group,
// so it survives this command; stop/status/console reach it through the run
// record.
func runStart(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)

	opts, err := optionsFromFlags(cmd)
	if err != nil {
		return err
	}
	s, err := newSupervisor(stageTracker(ctx))
	if err != nil {
		return err
	}

	if err := s.Start(ctx, opts); err != nil {
		return err
	}

	if timeout, _ := cmd.Flags().GetDuration("health-timeout"); timeout > 0 {
		// The VM stays up on a failed health wait; stop is one command away.
		if err := s.WaitHealthy(ctx, timeout); err != nil {
			return fmt.Errorf("wait healthy: %w", err)
		}
	}

	log.WithFunc("cmd.start").Infof(ctx, "VM started and detached")
	return nil
}
