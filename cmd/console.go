package cmd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/openclaw/carapace/console"
	"github.com/openclaw/carapace/utils"
)

// consoleDialTimeout bounds the attach dial; the VM is already running, so
// the socket is either there or not.
const consoleDialTimeout = 5 * time.Second

var consoleCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Attach an interactive session to the guest serial console",
		Args:  cobra.NoArgs,
		RunE:  runConsole,
	}
	cmd.Flags().String("escape-char", console.FormatEscapeChar(console.DefaultEscapeChar),
		"escape character (single char or ^X caret notation)")
	return cmd
}()

func runConsole(cmd *cobra.Command, _ []string) error {
	ctx := commandContext(cmd)
	s, err := newSupervisor(nil)
	if err != nil {
		return err
	}
	rec, err := s.Record(ctx)
	if err != nil {
		return err
	}

	escapeStr, _ := cmd.Flags().GetString("escape-char")
	escapeChar, err := console.ParseEscapeChar(escapeStr)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", rec.ConsolePort)
	conn, err := net.DialTimeout("tcp", addr, consoleDialTimeout)
	if err != nil {
		return fmt.Errorf("dial console %s: %w", addr, err)
	}
	defer conn.Close() //nolint:errcheck

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("set raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, oldState)
		fmt.Fprintf(os.Stderr, "\r\nDisconnected.\r\n")
	}()

	// A serial console has no out-of-band resize. Geometry follows the local
	// terminal by typing an stty line into the guest session, once up front
	// and again on every SIGWINCH.
	stopWinch := console.WatchWinch(os.Stdin, func(cols, rows int) {
		fmt.Fprintf(conn, "stty cols %d rows %d\r\n", cols, rows)
	})
	defer stopWinch()

	fmt.Fprintf(os.Stderr, "Connected to VM %s (escape sequence: %s.)\r\n",
		utils.ShortID(rec.RunID), console.FormatEscapeChar(escapeChar))

	if err := console.Relay(ctx, conn, escapeChar); err != nil {
		fmt.Fprintf(os.Stderr, "\r\nrelay error: %v\r\n", err)
	}
	return nil
}
