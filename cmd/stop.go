package cmd

import (
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Shut the VM down, escalating until the process exits",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

func runStop(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	s, err := newSupervisor(nil)
	if err != nil {
		return err
	}
	if err := s.Stop(ctx); err != nil {
		return err
	}
	log.WithFunc("cmd.stop").Infof(ctx, "VM stopped")
	return nil
}
