// Package channel maintains one persistent realtime connection per
// logical surface. A Channel owns its connection state machine, a
// receive loop that dispatches decoded envelopes to per-type handlers,
// and a reconnect schedule with bounded exponential backoff. Transport
// failures never escape the channel; they degrade to reconnect attempts
// until Close is called.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/halcyon-dev/aura-sync/internal/config"
	"github.com/halcyon-dev/aura-sync/internal/envelope"
)

// State is the connection lifecycle position. Transitions:
// Disconnected → Connecting → Connected → (Disconnected|Reconnecting)
// → Connecting → ... Close makes Disconnected terminal.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Handler consumes one inbound message. Handlers run on the channel's
// receive goroutine in receipt order, so they must not block.
type Handler func(envelope.Message)

// Sentinel errors.
var (
	// ErrNotConnected is returned by Send when the channel is not in
	// StateConnected. The message never reaches the transport.
	ErrNotConnected = errors.New("channel not connected")

	// ErrClosed is returned for operations on a closed channel.
	ErrClosed = errors.New("channel closed")

	// ErrHandlerExists is returned by Subscribe when a handler is
	// already registered for the message type. Multiple interested
	// surfaces subscribe to the state store, not the channel.
	ErrHandlerExists = errors.New("handler already registered for type")
)

// Channel is one realtime connection to a backend surface endpoint.
type Channel struct {
	name    string
	url     string
	dialer  Dialer
	backoff Backoff
	logger  *slog.Logger

	state atomic.Int32

	handlerMu sync.Mutex
	handlers  map[string]Handler

	mu      sync.Mutex
	conn    Conn
	closed  bool
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Options configures a Channel beyond its endpoint.
type Options struct {
	// Name identifies the surface in log output (e.g. "desktop", "mood").
	Name string

	// Dialer overrides the transport. nil means WebSocketDialer{}.
	Dialer Dialer

	// Backoff overrides the reconnect schedule. Zero fields get defaults.
	Backoff Backoff

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// New creates a Channel for the given endpoint URL. The channel starts
// in StateDisconnected; call Connect to begin the connect/receive loop.
func New(rawURL string, opts Options) *Channel {
	if opts.Dialer == nil {
		opts.Dialer = WebSocketDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = rawURL
	}
	return &Channel{
		name:     opts.Name,
		url:      rawURL,
		dialer:   opts.Dialer,
		backoff:  opts.Backoff.withDefaults(),
		logger:   opts.Logger,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Subscribe registers the handler for one message type. At most one
// handler per type per channel; a second registration returns
// ErrHandlerExists. Handlers may be registered before or after Connect.
func (c *Channel) Subscribe(msgType string, h Handler) error {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	if _, ok := c.handlers[msgType]; ok {
		return ErrHandlerExists
	}
	c.handlers[msgType] = h
	return nil
}

// Connect starts the channel's connect/receive loop in a background
// goroutine and returns immediately. Dial failures do not surface here;
// the channel retries on its backoff schedule until Close.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return errors.New("channel already connected")
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(runCtx)
	return nil
}

// Send encodes and transmits one outbound message. When the channel is
// not connected the message is dropped without touching the transport
// and ErrNotConnected is returned; there is no outbound queue.
func (c *Channel) Send(m envelope.Message) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	data, err := envelope.Encode(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.WriteMessage(data); err != nil {
		c.logger.Warn("send failed",
			"channel", c.name,
			"msg_type", m.Type(),
			"error", err,
		)
		return err
	}
	return nil
}

// Close tears down the transport, cancels any pending reconnect, and
// leaves the channel in StateDisconnected permanently. Safe to call
// more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if started {
		<-c.done
	}
	c.state.Store(int32(StateDisconnected))
}

// run drives the state machine: dial, pump the receive loop, back off,
// repeat. Exits only on context cancellation (Close or parent ctx).
func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer c.state.Store(int32(StateDisconnected))

	delay := c.backoff.InitialDelay
	for attempt := 1; ; attempt++ {
		c.state.Store(int32(StateConnecting))

		conn, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.state.Store(int32(StateDisconnected))
			wait := c.backoff.wait(delay)
			c.logger.Warn("connect failed, scheduling reconnect",
				"channel", c.name,
				"attempt", attempt,
				"next_delay", wait.String(),
				"error", err,
			)
			if !sleepCtx(ctx, wait) {
				return
			}
			delay = c.backoff.next(delay)
			continue
		}

		if !c.install(conn) {
			conn.Close()
			return
		}
		c.state.Store(int32(StateConnected))
		c.logger.Info("channel connected", "channel", c.name, "attempts", attempt)
		delay = c.backoff.InitialDelay
		attempt = 0

		c.receive(ctx, conn)

		c.uninstall(conn)
		if ctx.Err() != nil {
			return
		}

		c.state.Store(int32(StateReconnecting))
		wait := c.backoff.wait(delay)
		c.logger.Info("connection lost, reconnecting",
			"channel", c.name,
			"next_delay", wait.String(),
		)
		if !sleepCtx(ctx, wait) {
			return
		}
		delay = c.backoff.next(delay)
	}
}

// install publishes the live connection for Send. Returns false if the
// channel was closed while dialing.
func (c *Channel) install(conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *Channel) uninstall(conn Conn) {
	conn.Close()
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

// receive reads frames until the transport fails or the context is
// cancelled. Malformed frames are dropped with a log entry; the
// connection stays up. Frames are dispatched in receipt order.
func (c *Channel) receive(ctx context.Context, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("read error, connection lost",
					"channel", c.name,
					"error", err,
				)
			}
			return
		}

		c.logger.Log(ctx, config.LevelTrace, "frame received",
			"channel", c.name,
			"payload", string(data),
		)

		msg, err := envelope.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame",
				"channel", c.name,
				"error", err,
			)
			continue
		}

		if u, ok := msg.(envelope.Unknown); ok {
			c.logger.Debug("unknown message type",
				"channel", c.name,
				"msg_type", u.MessageType,
			)
		}

		c.handlerMu.Lock()
		h := c.handlers[msg.Type()]
		c.handlerMu.Unlock()
		if h == nil {
			continue
		}
		h(msg)
	}
}
