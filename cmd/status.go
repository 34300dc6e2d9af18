package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/openclaw/carapace/utils"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show VM, console, and image state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	s, err := newSupervisor(nil)
	if err != nil {
		return err
	}
	st, err := s.Status(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "state:\t%s\n", st.State)
	if st.Running {
		consoleState := "closed"
		if st.ConsoleReady {
			consoleState = "ready"
		}
		fmt.Fprintf(w, "pid:\t%d\n", st.PID)
		fmt.Fprintf(w, "run id:\t%s\n", utils.ShortID(st.RunID))
		fmt.Fprintf(w, "console:\t127.0.0.1:%d (%s)\n", st.ConsolePort, consoleState)
		fmt.Fprintf(w, "control:\t127.0.0.1:%d\n", st.ControlPort)
		fmt.Fprintf(w, "gateway:\t127.0.0.1:%d\n", conf.GatewayPort)
		fmt.Fprintf(w, "ssh:\t127.0.0.1:%d\n", conf.SSHPort)
		fmt.Fprintf(w, "uptime:\t%s\n", units.HumanDuration(time.Since(st.StartedAt)))
		if st.ImageVersion != "" {
			fmt.Fprintf(w, "boot image:\t%s\n", st.ImageVersion)
		}
	}

	m, err := newImages(ctx)
	if err != nil {
		return err
	}
	if rec, ok := m.Installed(ctx); ok {
		line := rec.Version
		if fi, statErr := os.Stat(rec.Path); statErr == nil {
			line = fmt.Sprintf("%s (%s)", rec.Version, formatSize(fi.Size()))
		}
		fmt.Fprintf(w, "installed image:\t%s\n", line)
	} else {
		fmt.Fprintf(w, "installed image:\tnone (carapace update)\n")
	}
	return w.Flush()
}
