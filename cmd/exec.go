package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/carapace/console"
)

// resumeTimeout bounds the shell-prompt handshake; a session that never
// echoes a prompt is not usable for exec.
const resumeTimeout = 30 * time.Second

var execCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec COMMAND [ARG...]",
		Short: "Type a command into the guest shell session and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExec,
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().Duration("linger", 2*time.Second, "how long to keep draining output after the command is sent") //nolint:mnd
	return cmd
}()

func runExec(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := newSupervisor(nil)
	if err != nil {
		return err
	}
	rec, err := s.Record(ctx)
	if err != nil {
		return err
	}

	c := console.New(fmt.Sprintf("127.0.0.1:%d", rec.ConsolePort))
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close() //nolint:errcheck

	resumeCtx, cancel := context.WithTimeout(ctx, resumeTimeout)
	defer cancel()
	if err := c.Resume(resumeCtx); err != nil {
		return fmt.Errorf("reach guest shell: %w", err)
	}

	// Attach the sink only after Resume, so the prompt nudging stays silent.
	c.SetSink(os.Stdout)
	if err := c.Exec(strings.Join(args, " ")); err != nil {
		return err
	}

	// A serial stream has no completion marker; drain echoes for the linger
	// window and leave the session where it was.
	linger, _ := cmd.Flags().GetDuration("linger")
	select {
	case <-time.After(linger):
	case <-ctx.Done():
	}
	return nil
}
