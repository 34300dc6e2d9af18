package cmd

import (
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop the VM and boot it again with the same options",
	Args:  cobra.NoArgs,
	RunE:  runRestart,
}

func runRestart(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	s, err := newSupervisor(stageTracker(ctx))
	if err != nil {
		return err
	}
	if err := s.Restart(ctx); err != nil {
		return err
	}
	log.WithFunc("cmd.restart").Infof(ctx, "VM restarted")
	return nil
}
