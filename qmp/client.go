package qmp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/projecteru2/core/log"

	"github.com/openclaw/carapace/utils"
)

const (
	// commandTimeout bounds every individual command, negotiation included.
	commandTimeout = 10 * time.Second
	// dialTimeout bounds each TCP connect attempt.
	dialTimeout = 5 * time.Second

	defaultDialAttempts = 30
	defaultDialDelay    = time.Second

	// maxLineBytes caps a single monitor line. Large query results fit well
	// under this; anything bigger indicates a broken peer.
	maxLineBytes = 1 << 20
)

// response carries a command result from the read loop to the waiting caller.
type response struct {
	result json.RawMessage
	err    error
}

// Client talks QMP to a single guest monitor socket. Safe for concurrent use
// once Connect has returned.
type Client struct {
	addr     string
	attempts int
	delay    time.Duration
	timeout  time.Duration

	mu         sync.Mutex
	conn       net.Conn
	pending    map[int]chan response
	subs       map[chan<- Event]map[string]struct{}
	nextID     int
	negotiated bool

	// Connect-time rendezvous; only the read loop sends on these.
	greetCh chan Greeting
	negoCh  chan response

	greeting Greeting
}

// New creates an unconnected client for a monitor at addr. Connection and
// negotiation happen in Connect.
func New(addr string) *Client {
	return &Client{
		addr:     addr,
		attempts: defaultDialAttempts,
		delay:    defaultDialDelay,
		timeout:  commandTimeout,
		subs:     make(map[chan<- Event]map[string]struct{}),
	}
}

// Connect dials the monitor, waits for its greeting, and negotiates
// capabilities. The guest opens the socket at an unpredictable point during
// boot, so dialing retries with a fixed delay until the attempt budget runs
// out. On return the client accepts commands.
func (c *Client) Connect(ctx context.Context) error {
	logger := log.WithFunc("qmp.Client.Connect")

	conn, err := utils.DialRetry(ctx, c.addr, c.attempts, c.delay, dialTimeout)
	if err != nil {
		return fmt.Errorf("control channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.pending = make(map[int]chan response)
	c.nextID = 0
	c.negotiated = false
	c.greetCh = make(chan Greeting, 1)
	c.negoCh = make(chan response, 1)
	c.mu.Unlock()

	go c.readLoop(ctx, conn)

	// The greeting is unsolicited; nothing may be sent before it arrives.
	select {
	case g := <-c.greetCh:
		c.mu.Lock()
		c.greeting = g
		c.mu.Unlock()
		logger.Infof(ctx, "monitor greeting: qemu %d.%d.%d",
			g.Version.QEMU.Major, g.Version.QEMU.Minor, g.Version.QEMU.Micro)
	case <-time.After(c.timeout):
		c.Close()
		return fmt.Errorf("greeting: %w", ErrCommandTimeout)
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}

	// Negotiation is sent without an id: its acknowledgement resolves the
	// connect, not a pending-command slot.
	if err := c.send(request{Execute: "qmp_capabilities"}); err != nil {
		c.Close()
		return fmt.Errorf("negotiate: %w", err)
	}
	select {
	case resp := <-c.negoCh:
		if resp.err != nil {
			c.Close()
			return fmt.Errorf("negotiate: %w", resp.err)
		}
	case <-time.After(c.timeout):
		c.Close()
		return fmt.Errorf("negotiate: %w", ErrCommandTimeout)
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}

	c.mu.Lock()
	c.negotiated = true
	c.mu.Unlock()
	return nil
}

// Greeting returns the banner received on connect.
func (c *Client) Greeting() Greeting {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.greeting
}

// Negotiated reports whether the channel currently accepts commands.
func (c *Client) Negotiated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiated
}

// Execute sends one command and waits for its response. Commands may be
// issued concurrently; responses are matched by id, so interleaved and
// out-of-order completions resolve the right callers. A command that gets
// no response within the timeout fails with ErrCommandTimeout and its slot
// is dropped, so a late response is discarded instead of resolving a
// stranger.
func (c *Client) Execute(ctx context.Context, cmd string, args any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	if !c.negotiated {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", cmd, ErrNotReady)
	}
	id := c.nextID
	c.nextID++
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.send(request{Execute: cmd, ID: &id, Arguments: args}); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("send %s: %w", cmd, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.err != nil {
			return nil, fmt.Errorf("%s: %w", cmd, resp.err)
		}
		return resp.result, nil
	case <-timer.C:
		c.dropPending(id)
		return nil, fmt.Errorf("%s: %w", cmd, ErrCommandTimeout)
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

// Notify subscribes ch to events. With no names the channel receives every
// event; otherwise only the named ones. Delivery never blocks the read loop:
// an event is dropped for a subscriber whose channel is full.
func (c *Client) Notify(ch chan<- Event, names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var filter map[string]struct{}
	if len(names) > 0 {
		filter = make(map[string]struct{}, len(names))
		for _, n := range names {
			filter[n] = struct{}{}
		}
	}
	c.subs[ch] = filter
}

// StopNotify removes a subscription added by Notify.
func (c *Client) StopNotify(ch chan<- Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, ch)
}

// Close tears down the connection. Idempotent. In-flight commands fail with
// ErrChannelClosed; the same happens without Close when the peer disconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.negotiated = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// send serializes one request line. json.Encoder terminates each record with
// the newline the wire format requires.
func (c *Client) send(req request) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrChannelClosed
	}
	// Encoder is not reused: each send grabs the current conn so a
	// reconnect never writes into a stale socket.
	return json.NewEncoder(conn).Encode(req)
}

// readLoop consumes monitor lines until the connection dies, then rejects
// everything still in flight. ctx is for log correlation only; the loop ends
// with the socket, not the context.
func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	logger := log.WithFunc("qmp.Client.readLoop")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes) //nolint:mnd

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg serverMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Warnf(ctx, "discard unparseable monitor line: %v", err)
			continue
		}

		switch {
		case msg.QMP != nil:
			select {
			case c.greetCh <- *msg.QMP:
			default:
				logger.Warnf(ctx, "unexpected extra greeting discarded")
			}
		case msg.Event != "":
			c.dispatchEvent(ctx, Event{
				Name:      msg.Event,
				Data:      msg.Data,
				Timestamp: msg.Timestamp.time(),
			})
		case msg.ID != nil:
			c.deliver(ctx, *msg.ID, msg)
		case msg.Error != nil || msg.Return != nil:
			// The only legitimate id-less response is the negotiation ack.
			c.mu.Lock()
			negotiated := c.negotiated
			c.mu.Unlock()
			if negotiated {
				logger.Warnf(ctx, "discard response with no id")
				continue
			}
			resp := response{result: msg.Return}
			if msg.Error != nil {
				resp = response{err: msg.Error}
			}
			select {
			case c.negoCh <- resp:
			default:
				logger.Warnf(ctx, "discard response with no id")
			}
		default:
			logger.Warnf(ctx, "discard unrecognized monitor line")
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Warnf(ctx, "control channel read: %v", err)
	}

	c.handleDisconnect(ctx)
}

// deliver resolves a pending command. Unknown ids (already timed out, or
// never ours) are logged and dropped.
func (c *Client) deliver(ctx context.Context, id int, msg serverMessage) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		log.WithFunc("qmp.Client.deliver").Warnf(ctx, "discard response for unknown id %d", id)
		return
	}

	if msg.Error != nil {
		ch <- response{err: msg.Error}
		return
	}
	ch <- response{result: msg.Return}
}

func (c *Client) dispatchEvent(ctx context.Context, ev Event) {
	c.mu.Lock()
	targets := make([]chan<- Event, 0, len(c.subs))
	for ch, filter := range c.subs {
		if filter != nil {
			if _, want := filter[ev.Name]; !want {
				continue
			}
		}
		targets = append(targets, ch)
	}
	c.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			log.WithFunc("qmp.Client.dispatchEvent").Warnf(ctx, "subscriber full, dropped event %s", ev.Name)
		}
	}
}

// handleDisconnect runs exactly once per connection, after the read loop
// exits. Every in-flight command is rejected so no caller hangs on a
// response that can never arrive.
func (c *Client) handleDisconnect(ctx context.Context) {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.negotiated = false
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(pending) > 0 {
		log.WithFunc("qmp.Client.handleDisconnect").Warnf(ctx, "rejecting %d in-flight command(s)", len(pending))
	}
	for _, ch := range pending {
		ch <- response{err: ErrChannelClosed}
	}
}

// dropPending abandons one command slot after a timeout or caller
// cancellation. A response arriving later finds no slot and is discarded.
func (c *Client) dropPending(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
