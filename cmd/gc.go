package cmd

import (
	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/openclaw/carapace/gc"
	"github.com/openclaw/carapace/hypervisor/qemu"
	"github.com/openclaw/carapace/images"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove stale download scratch dirs and old boot logs",
	Args:  cobra.NoArgs,
	RunE:  runGC,
}

func runGC(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	if err := conf.EnsureDirs(); err != nil {
		return err
	}

	o := gc.New()
	images.RegisterGC(o, conf)
	qemu.RegisterGC(o, conf)
	if err := o.Run(ctx); err != nil {
		return err
	}
	log.WithFunc("cmd.gc").Infof(ctx, "GC completed")
	return nil
}
