package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/openclaw/carapace/types"
)

const (
	// stopBudget bounds the shutdown escalation after the command context is
	// already canceled (graceful wait, SIGTERM grace, SIGKILL).
	stopBudget = 60 * time.Second
	// exitPollInterval is how often the foreground loop checks that the
	// guest process is still alive.
	exitPollInterval = 5 * time.Second
)

var runCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the VM and supervise it in the foreground",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
	bootFlags(cmd)
	return cmd
}()

func runRun(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	logger := log.WithFunc("cmd.run")

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
		if err := s.WaitHealthy(ctx, timeout); err != nil {
			logger.Warnf(ctx, "guest unhealthy, shutting down: %v", err)
			stopCtx, cancel := context.WithTimeout(context.Background(), stopBudget)
			defer cancel()
			if stopErr := s.Stop(stopCtx); stopErr != nil {
				logger.Warnf(ctx, "stop after failed health wait: %v", stopErr)
			}
			return fmt.Errorf("wait healthy: %w", err)
		}
		logger.Infof(ctx, "guest service healthy")
	}

	logger.Infof(ctx, "supervising; interrupt to stop the VM")
	ticker := time.NewTicker(exitPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// The command context is canceled; the stop gets its own budget.
			stopCtx, cancel := context.WithTimeout(context.Background(), stopBudget)
			defer cancel()
			return s.Stop(stopCtx)
		case <-ticker.C:
			if s.State() == types.VMStateStopped {
				return errors.New("VM exited")
			}
		}
	}
}
