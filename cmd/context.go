package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newCommandContext is the root context for one CLI invocation. SIGINT,
// SIGTERM, and SIGHUP cancel it; long-lived verbs (run, console, logs -f)
// treat the cancellation as a request to wind down cleanly.
func newCommandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

// commandContext returns the command context, falling back to Background.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
