// Package console owns the guest serial console: a raw byte stream over a
// loopback TCP socket. It drives the login automation that turns a freshly
// booted guest into a usable shell session, and carries the interactive
// attach plumbing for the CLI.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/openclaw/carapace/types"
	"github.com/openclaw/carapace/utils"
)

const (
	// dialTimeout bounds each TCP connect attempt.
	dialTimeout = 5 * time.Second

	defaultDialAttempts = 30
	defaultDialDelay    = time.Second

	// bufferCap caps the trailing output window the login automation
	// searches; on overflow it is trimmed to the most recent bufferTail
	// bytes. Prompts are short, so the tail always suffices to match.
	bufferCap  = 4096
	bufferTail = 1024
)

var (
	// ErrNotConnected rejects operations on a client with no console socket.
	ErrNotConnected = errors.New("console not connected")
	// ErrNotAuthenticated rejects exec before the login automation reached a shell.
	ErrNotAuthenticated = errors.New("console session not authenticated")
	// ErrLoginAborted marks a login automation cut short by a disconnect.
	ErrLoginAborted = errors.New("console login aborted by disconnect")
	// ErrLoginActive rejects a second concurrent login automation.
	ErrLoginActive = errors.New("console login already in progress")
)

// Client owns one console connection. All writes go through it; the read
// loop forwards every received chunk verbatim to the attached sink and to
// the login automation when one is running.
type Client struct {
	addr     string
	attempts int
	delay    time.Duration

	// OnState, when set, observes every login automation transition.
	// Called from the automation goroutine; keep it fast.
	OnState func(types.LoginState)

	// automation tunables, fixed except in tests
	nudgePeriod time.Duration
	nudgeFirst  time.Duration
	settleDelay time.Duration

	mu    sync.Mutex
	conn  net.Conn
	state types.LoginState
	sink  io.Writer
	feed  chan []byte
	cols  int
	rows  int
}

// New creates an unconnected console client for addr.
func New(addr string) *Client {
	return &Client{
		addr:        addr,
		attempts:    defaultDialAttempts,
		delay:       defaultDialDelay,
		nudgePeriod: 10 * time.Second,
		nudgeFirst:  500 * time.Millisecond,
		settleDelay: 500 * time.Millisecond,
	}
}

// Connect dials the console socket. Like the control channel, the socket
// appears at an unpredictable point during boot, so dialing retries with a
// fixed delay until the attempt budget runs out.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if connected {
		return nil
	}

	conn, err := utils.DialRetry(ctx, c.addr, c.attempts, c.delay, dialTimeout)
	if err != nil {
		return fmt.Errorf("console: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = types.LoginIdle
	c.mu.Unlock()

	go c.readLoop(ctx, conn)
	return nil
}

// Connected reports whether the console socket is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// State returns the current login automation state.
func (c *Client) State() types.LoginState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetSink attaches a writer that receives every console output chunk
// verbatim, automation or not. Pass nil to detach. Write errors are
// swallowed; the console stream must never stall on a slow consumer.
func (c *Client) SetSink(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sink = w
}

// Write sends raw bytes to the guest terminal.
func (c *Client) Write(data []byte) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}
	return conn.Write(data)
}

// WriteLine sends a line with the CRLF ending serial terminals expect.
func (c *Client) WriteLine(line string) error {
	_, err := c.Write([]byte(line + "\r\n"))
	return err
}

// Exec types a command into the authenticated shell session. It returns
// once the command has been written; output flows to the sink.
func (c *Client) Exec(command string) error {
	if c.State() != types.LoginReady {
		return ErrNotAuthenticated
	}
	return c.WriteLine(command)
}

// Resize records the desired terminal geometry and, when a shell session is
// up, applies it immediately via stty. Recorded geometry is also applied at
// the end of every login automation.
func (c *Client) Resize(cols, rows int) error {
	c.mu.Lock()
	c.cols, c.rows = cols, rows
	ready := c.state == types.LoginReady
	c.mu.Unlock()

	if !ready {
		return nil
	}
	return c.WriteLine(fmt.Sprintf("stty cols %d rows %d", cols, rows))
}

// Close tears down the connection. Idempotent. A login automation in flight
// fails with ErrLoginAborted.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) setState(s types.LoginState) {
	c.mu.Lock()
	c.state = s
	cb := c.OnState
	c.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// readLoop pumps console output until the connection dies. Chunks go to the
// sink first (verbatim mirror), then to the login automation feed.
func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	logger := log.WithFunc("console.Client.readLoop")
	buf := make([]byte, 4096) //nolint:mnd

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			c.mu.Lock()
			sink := c.sink
			feed := c.feed
			c.mu.Unlock()

			if sink != nil {
				_, _ = sink.Write(chunk)
			}
			if feed != nil {
				select {
				case feed <- chunk:
				default:
					logger.Warnf(ctx, "login automation lagging, dropped %d console bytes", n)
				}
			}
		}
		if err != nil {
			break
		}
	}

	c.handleDisconnect()
}

// handleDisconnect runs after the read loop exits: automation state resets
// to idle and an in-flight login learns the stream is gone.
func (c *Client) handleDisconnect() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = types.LoginIdle
	feed := c.feed
	c.feed = nil
	c.mu.Unlock()

	if feed != nil {
		close(feed)
	}
}
