//go:build !windows

package console

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

// WatchWinch reports the local terminal size once up front and again on
// every SIGWINCH. A serial console has no out-of-band resize, so the
// callback typically feeds Client.Resize, which applies geometry via stty.
// Returns a cleanup function that stops the signal handler.
func WatchWinch(tty *os.File, fn func(cols, rows int)) func() {
	report := func() {
		cols, rows, err := term.GetSize(int(tty.Fd()))
		if err == nil && cols > 0 && rows > 0 {
			fn(cols, rows)
		}
	}
	report()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	go func() {
		for range sigCh {
			report()
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(sigCh)
	}
}
