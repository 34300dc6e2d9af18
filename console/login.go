package console

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/openclaw/carapace/types"
)

// Prompt triggers. Matching is plain substring search over the trailing
// output window; the window is cleared after every hit so a trigger fires
// once per prompt.
var (
	loginTrigger = []byte("login:")
	// "assword:" covers both "Password:" and "password:".
	passwordTrigger = []byte("assword:")
	shellTriggers   = [][]byte{[]byte("$"), []byte("#"), []byte("~]")}
)

// Login drives the boot login automation: wait for the login prompt, type
// the username, wait for the password prompt, type the password, wait for a
// shell prompt, then configure the terminal. Boot time is unbounded (first
// boot does filesystem resizing and service provisioning), so there is no
// overall deadline; cancel ctx to give one. While the login prompt hasn't
// appeared, a bare newline is nudged periodically in case the prompt was
// printed before we connected.
func (c *Client) Login(ctx context.Context, user, password string) error {
	feed, err := c.attachAutomation()
	if err != nil {
		return err
	}
	defer c.detachAutomation(feed)

	c.setState(types.LoginWaitingLogin)

	firstNudge := time.NewTimer(c.nudgeFirst)
	defer firstNudge.Stop()
	nudge := time.NewTicker(c.nudgePeriod)
	defer nudge.Stop()

	var window []byte
	matched := func(trigger []byte) bool {
		return bytes.Contains(window, trigger)
	}
	anyShell := func() bool {
		for _, t := range shellTriggers {
			if matched(t) {
				return true
			}
		}
		return false
	}

	for {
		select {
		case chunk, ok := <-feed:
			if !ok {
				return ErrLoginAborted
			}
			window = append(window, chunk...)
			if len(window) > bufferCap {
				window = append(window[:0], window[len(window)-bufferTail:]...)
			}

			switch c.State() {
			case types.LoginWaitingLogin:
				if !matched(loginTrigger) {
					continue
				}
				window = window[:0]
				if err := c.WriteLine(user); err != nil {
					return fmt.Errorf("send username: %w", err)
				}
				c.setState(types.LoginWaitingPassword)

			case types.LoginWaitingPassword:
				if !matched(passwordTrigger) {
					continue
				}
				window = window[:0]
				if err := c.WriteLine(password); err != nil {
					return fmt.Errorf("send password: %w", err)
				}
				c.setState(types.LoginWaitingShell)

			case types.LoginWaitingShell:
				if !anyShell() {
					continue
				}
				window = window[:0]
				c.setState(types.LoginConfiguring)
				if err := c.configureTerminal(ctx, feed); err != nil {
					return err
				}
				c.setState(types.LoginReady)
				return nil
			}

		case <-firstNudge.C:
			// The prompt may have scrolled past before the socket was up.
			if c.State() == types.LoginWaitingLogin {
				_ = c.WriteLine("")
			}

		case <-nudge.C:
			if c.State() == types.LoginWaitingLogin {
				_ = c.WriteLine("")
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Resume reattaches to a guest that is already logged in on the serial tty:
// nudge a newline and wait for the shell prompt to echo back. Used when a
// later invocation reconnects to a session an earlier boot authenticated.
func (c *Client) Resume(ctx context.Context) error {
	feed, err := c.attachAutomation()
	if err != nil {
		return err
	}
	defer c.detachAutomation(feed)

	c.setState(types.LoginWaitingShell)
	if err := c.WriteLine(""); err != nil {
		return fmt.Errorf("nudge shell: %w", err)
	}

	nudge := time.NewTicker(c.nudgePeriod)
	defer nudge.Stop()

	var window []byte
	for {
		select {
		case chunk, ok := <-feed:
			if !ok {
				return ErrLoginAborted
			}
			window = append(window, chunk...)
			if len(window) > bufferCap {
				window = append(window[:0], window[len(window)-bufferTail:]...)
			}
			for _, t := range shellTriggers {
				if bytes.Contains(window, t) {
					c.setState(types.LoginReady)
					return nil
				}
			}
		case <-nudge.C:
			_ = c.WriteLine("")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// configureTerminal runs the post-login terminal setup: export a terminal
// type the guest tools understand, let the shell settle, then apply any
// recorded geometry.
func (c *Client) configureTerminal(ctx context.Context, feed chan []byte) error {
	if err := c.WriteLine("export TERM=xterm"); err != nil {
		return fmt.Errorf("configure terminal: %w", err)
	}

	settle := time.NewTimer(c.settleDelay)
	defer settle.Stop()
	for {
		select {
		case _, ok := <-feed:
			if !ok {
				return ErrLoginAborted
			}
			// Echo of the export line; nothing to match, keep draining.
		case <-settle.C:
			c.mu.Lock()
			cols, rows := c.cols, c.rows
			c.mu.Unlock()
			if cols > 0 && rows > 0 {
				if err := c.WriteLine(fmt.Sprintf("stty cols %d rows %d", cols, rows)); err != nil {
					return fmt.Errorf("apply geometry: %w", err)
				}
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// attachAutomation registers the caller as the single active automation and
// returns its output feed.
func (c *Client) attachAutomation() (chan []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	if c.feed != nil {
		return nil, ErrLoginActive
	}
	feed := make(chan []byte, 64) //nolint:mnd
	c.feed = feed
	return feed, nil
}

// detachAutomation unregisters the automation feed if it is still the
// active one (the read loop detaches it on disconnect).
func (c *Client) detachAutomation(feed chan []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.feed == feed {
		c.feed = nil
	}
}
