package cmd

import (
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	"github.com/openclaw/carapace/progress"
	imgprogress "github.com/openclaw/carapace/progress/image"
)

var updateCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Install the newest released disk image",
		Args:  cobra.NoArgs,
		RunE:  runUpdate,
	}
	cmd.Flags().Bool("force", false, "reinstall even when the installed image is current")
	return cmd
}()

func runUpdate(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	logger := log.WithFunc("cmd.update")
	m, err := newImages(ctx)
	if err != nil {
		return err
	}

	// downloading marks an in-place progress line that must be terminated
	// before regular log lines resume.
	downloading := false
	endProgressLine := func() {
		if downloading {
			fmt.Println()
			downloading = false
		}
	}

	tracker := progress.NewTracker(func(e imgprogress.Event) {
		switch e.Phase {
		case imgprogress.PhaseResolve:
			logger.Infof(ctx, "resolving newest image release")
		case imgprogress.PhaseDownload:
			downloading = true
			if e.BytesTotal > 0 {
				fmt.Printf("\r  %s: %s / %s (%d%%) %s/s   ",
					e.Asset, formatSize(e.BytesDone), formatSize(e.BytesTotal), e.Percent(), formatSize(e.Speed))
			} else {
				fmt.Printf("\r  %s: %s %s/s   ", e.Asset, formatSize(e.BytesDone), formatSize(e.Speed))
			}
		case imgprogress.PhaseAssemble:
			endProgressLine()
			logger.Infof(ctx, "assembling split parts")
		case imgprogress.PhaseExtract:
			logger.Infof(ctx, "extracting disk image")
		case imgprogress.PhaseVerify:
			endProgressLine()
			logger.Infof(ctx, "verifying disk image")
		case imgprogress.PhaseDone:
			logger.Infof(ctx, "done: %s", e.Version)
		}
	})

	force, _ := cmd.Flags().GetBool("force")
	if _, err := m.Update(ctx, tracker, force); err != nil {
		return err
	}
	return nil
}
