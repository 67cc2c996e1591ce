// Package bridge owns the client side of the bridge connection: the
// connection lifecycle state machine, the typed dispatch registry, and
// outbound command submission. It knows nothing about what the messages
// mean; consumers subscribe to the Dispatcher for that.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/perchworks/gangway/internal/protocol"
)

// ErrNotConnected is returned by Send when the client is not in the
// connected state. Sends are fire-and-forget: nothing is queued for replay
// after reconnect, callers retry once they observe the state return to
// connected.
var ErrNotConnected = errors.New("bridge: not connected")

// ErrAuthRejected is returned when the bridge rejects the handshake with 401.
var ErrAuthRejected = errors.New("bridge: rejected authentication (401)")

const (
	defaultBackoffBase = time.Second
	defaultBackoffMax  = 10 * time.Second
	defaultHeartbeat   = 30 * time.Second
	defaultWriteWait   = 10 * time.Second
)

// Conn is one established transport connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Transport opens connections to the bridge. The concrete implementation
// lives in internal/transport; tests substitute fakes.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Options configures a Client.
type Options struct {
	URL           string
	ClientID      string
	Version       string
	AutoReconnect bool
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	MaxAttempts   int // consecutive failed attempts before giving up; 0 = unlimited
	Heartbeat     time.Duration
	WriteTimeout  time.Duration
	SendRate      rate.Limit // outbound frames per second; 0 = unlimited
	SendBurst     int
}

// Client runs the connect/read/reconnect loop against a Transport and feeds
// decoded frames to the Dispatcher. It is the single writer of ConnState.
type Client struct {
	opts       Options
	transport  Transport
	dispatcher *Dispatcher
	limiter    *rate.Limiter

	// OnStateChange fires on every state transition, after the new state is
	// visible through State. Set before Connect.
	OnStateChange func(state ConnState, err error)

	mu     sync.Mutex
	state  ConnState
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}
}

func NewClient(opts Options, t Transport, d *Dispatcher) *Client {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = defaultBackoffBase
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = defaultBackoffMax
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteWait
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(opts.SendRate, burst)
	}
	return &Client{
		opts:       opts,
		transport:  t,
		dispatcher: d,
		limiter:    lim,
		state:      StateDisconnected,
	}
}

// Dispatcher returns the dispatch registry frames are delivered to.
func (c *Client) Dispatcher() *Dispatcher { return c.dispatcher }

// State returns a consistent snapshot of the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. It returns immediately; progress is
// observable through State and OnStateChange. Calling Connect while a loop
// is already running is a no-op.
func (c *Client) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
}

// Disconnect terminates the connection loop and forces the state to
// disconnected. It interrupts a pending reconnect backoff immediately and
// waits for the loop to exit.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.mu.Lock()
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
}

// Send encodes and writes one outbound message. It fails fast with
// ErrNotConnected when the client is not connected; there is no
// queue-and-flush on reconnect.
func (c *Client) Send(ctx context.Context, msg protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()
	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	writeCtx, cancelWrite := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancelWrite()
	if err := c.limiter.Wait(writeCtx); err != nil {
		return err
	}
	return conn.Write(writeCtx, data)
}

func (c *Client) run(ctx context.Context) {
	bo := NewBackoff(c.opts.BackoffBase, c.opts.BackoffMax)
	failures := 0
	c.setState(StateConnecting, nil)

	for {
		conn, err := c.transport.Dial(ctx, c.opts.URL)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			c.setState(StateDisconnected, ctx.Err())
			return
		}
		if err != nil {
			if isAuthError(err) {
				c.setState(StateDisconnected, ErrAuthRejected)
				return
			}
			failures++
			if !c.opts.AutoReconnect || c.budgetExhausted(failures) {
				c.setState(StateDisconnected, err)
				return
			}
			c.setState(StateReconnecting, err)
			if !c.sleep(ctx, bo.Next()) {
				c.setState(StateDisconnected, ctx.Err())
				return
			}
			continue
		}

		failures = 0
		bo.Reset()
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected, nil)

		c.register(ctx)
		hbCtx, stopHeartbeat := context.WithCancel(ctx)
		go c.heartbeatLoop(hbCtx)

		readErr := c.readLoop(ctx, conn)

		stopHeartbeat()
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			c.setState(StateDisconnected, ctx.Err())
			return
		}
		if !c.opts.AutoReconnect {
			c.setState(StateDisconnected, readErr)
			return
		}
		// An unexpected drop while connected always passes through
		// reconnecting; dependents distinguish "lost" from "gave up".
		c.setState(StateReconnecting, readErr)
		slog.Debug("bridge disconnected, retrying", "err", readErr)
		if !c.sleep(ctx, bo.Next()) {
			c.setState(StateDisconnected, ctx.Err())
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			slog.Debug("bad frame", "err", err)
			continue
		}
		if msg == nil {
			// Unknown type tag: dropped, never an error.
			continue
		}
		switch m := msg.(type) {
		case protocol.Registered:
			slog.Info("registered with bridge", "client_id", m.ClientID)
		case protocol.ErrorMsg:
			slog.Warn("bridge error", "message", m.Message)
		}
		c.dispatcher.Dispatch(msg)
	}
}

func (c *Client) register(ctx context.Context) {
	reg := protocol.ClientRegister{
		Type:     protocol.TypeClientRegister,
		ClientID: c.opts.ClientID,
		Version:  c.opts.Version,
	}
	if err := c.Send(ctx, reg); err != nil {
		slog.Debug("register failed", "err", err)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := protocol.ClientHeartbeat{Type: protocol.TypeClientHeartbeat, ClientID: c.opts.ClientID}
			if err := c.Send(ctx, hb); err != nil {
				return
			}
		}
	}
}

func (c *Client) budgetExhausted(failures int) bool {
	return c.opts.MaxAttempts > 0 && failures >= c.opts.MaxAttempts
}

// sleep waits for d or until ctx is cancelled; false means cancelled.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) setState(s ConnState, err error) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.OnStateChange != nil {
		c.OnStateChange(s, err)
	}
}

func isAuthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "401")
}
