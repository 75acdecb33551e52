// Package ws maintains the single persistent websocket connection carrying
// typed server-push messages: connect/disconnect lifecycle, a 30s heartbeat,
// channel subscription, and bounded exponential reconnect backoff.
//
// Liveness note: the heartbeat only pings. There is no local pong deadline;
// a dead peer is detected solely through the socket's own close/error
// signaling. Intentional; this matches the server contract.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"tipfeed/internal/clock"
	"tipfeed/internal/eventbus"
	"tipfeed/pkg/logx"
)

// Bus event types published by the client. Typed message events append the
// envelope type (e.g. "ws.message.recommendation") and carry only the data
// payload.
const (
	EventConnected    = "ws.connected"
	EventDisconnected = "ws.disconnected"
	EventError        = "ws.error"
	EventMessage      = "ws.message"
	MessagePrefix     = "ws.message."
)

var ErrNotConnected = errors.New("ws: not connected")

// State of the connection state machine.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateClosed is terminal and reachable only via Disconnect().
	StateClosed State = "closed"
)

type Config struct {
	BaseURL string
	Token   string
	// Channels subscribed after each successful open; DefaultChannels when empty.
	Channels []string

	HeartbeatInterval    time.Duration // default 30s
	ReconnectBase        time.Duration // default 3s
	MaxReconnectAttempts int           // default 5
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = 3 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if len(c.Channels) == 0 {
		c.Channels = DefaultChannels
	}
}

// Client is the transport layer. Errors are emitted on the bus, never thrown:
// a failing connection degrades to StateDisconnected (observable), and
// malformed inbound frames are logged and dropped without touching the
// connection.
type Client struct {
	mu sync.Mutex

	cfg    Config
	dialer Dialer
	clk    clock.Clock
	bus    eventbus.Bus
	log    logx.Logger

	state       State
	conn        Conn
	gen         uint64 // connection generation; stale goroutines check it
	intentional bool
	attempts    int
	runCtx      context.Context

	heartbeat clock.Timer
	reconnect clock.Timer
}

func NewClient(cfg Config, dialer Dialer, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Client {
	cfg.setDefaults()
	if dialer == nil {
		dialer = NewDialer()
	}
	if clk == nil {
		clk = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:    cfg,
		dialer: dialer,
		clk:    clk,
		bus:    bus,
		log:    log,
		state:  StateDisconnected,
		runCtx: context.Background(),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool { return c.State() == StateConnected }

// Connect opens the socket. No-op while connecting or connected. The dial
// happens off the calling goroutine; outcomes surface as bus events.
func (c *Client) Connect(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	c.intentional = false
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.state = StateConnecting
	c.runCtx = ctx
	c.gen++
	gen := c.gen
	cfg := c.cfg
	c.mu.Unlock()

	go c.dial(ctx, gen, cfg)
}

func (c *Client) dial(ctx context.Context, gen uint64, cfg Config) {
	url, err := Endpoint(cfg.BaseURL, cfg.Token)
	if err != nil {
		c.log.Error("websocket endpoint invalid", logx.Err(err))
		c.emit(EventError, err.Error())
		c.connLost(gen, err)
		return
	}

	conn, err := c.dialer.Dial(ctx, url)
	if err != nil {
		c.log.Warn("websocket dial failed", logx.Err(err))
		c.emit(EventError, err.Error())
		c.connLost(gen, err)
		return
	}

	c.mu.Lock()
	if gen != c.gen || c.intentional {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.scheduleHeartbeatLocked(gen)
	c.mu.Unlock()

	c.log.Info("websocket connected")
	c.emit(EventConnected, nil)

	if err := c.writeJSON(subscribeMessage{Type: "subscribe", Channels: cfg.Channels}); err != nil {
		c.log.Warn("channel subscribe failed", logx.Err(err))
	}

	go c.readLoop(conn, gen)
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			c.connLost(gen, err)
			return
		}
		c.handleMessage(raw)
	}
}

// handleMessage parses and dispatches one inbound frame. Malformed JSON is
// logged and discarded; the connection stays up.
func (c *Client) handleMessage(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("malformed websocket message dropped", logx.Err(err))
		return
	}
	if isPong(env) {
		c.log.Trace("heartbeat ack")
		return
	}
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{Type: EventMessage, Data: env})
		if env.Type != "" {
			c.bus.Publish(eventbus.Event{Type: MessagePrefix + env.Type, Data: env.Data})
		}
	}
}

// Send serializes and writes when connected; otherwise the message is logged
// and dropped. At-most-once, no buffering.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		c.log.Debug("send dropped (not connected)")
		return ErrNotConnected
	}
	return c.writeJSON(v)
}

func (c *Client) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteMessage(b)
}

// Disconnect closes intentionally: cancels pending reconnects, stops the
// heartbeat, and moves to the terminal Closed state. Idempotent; automatic
// reconnection never fires afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.intentional = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	conn := c.conn
	c.conn = nil
	wasConnected := c.state == StateConnected
	c.state = StateClosed
	c.gen++ // invalidate in-flight dials and read loops
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.log.Info("websocket closed")
	if wasConnected {
		c.emit(EventDisconnected, nil)
	}
}

// connLost handles dial failures and read-loop exits for the given
// generation. Unintentional losses schedule a backed-off reconnect.
func (c *Client) connLost(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	wasConnected := c.state == StateConnected
	c.conn = nil
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
	if c.intentional {
		c.state = StateClosed
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected

	c.attempts++
	if c.attempts > c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		// Out of retries: stay silently disconnected until the caller
		// explicitly reconnects.
		c.log.Warn("reconnect attempts exhausted", logx.Int("attempts", c.cfg.MaxReconnectAttempts), logx.Err(cause))
		if wasConnected {
			c.emit(EventDisconnected, nil)
		}
		return
	}

	delay := backoffDelay(c.cfg.ReconnectBase, c.attempts)
	attempt := c.attempts
	ctx := c.runCtx
	c.reconnect = c.clk.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnect = nil
		c.mu.Unlock()
		c.Connect(ctx)
	})
	c.mu.Unlock()

	c.log.Info("websocket reconnect scheduled",
		logx.Int("attempt", attempt),
		logx.Duration("delay", delay),
		logx.Err(cause))
	if wasConnected {
		c.emit(EventDisconnected, nil)
	}
}

// backoffDelay is base × 2^min(attempt-1, 3), i.e. capped at 8×base.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	exp := attempt - 1
	if exp > 3 {
		exp = 3
	}
	return base * (1 << exp)
}

func (c *Client) scheduleHeartbeatLocked(gen uint64) {
	c.heartbeat = c.clk.AfterFunc(c.cfg.HeartbeatInterval, func() {
		c.heartbeatTick(gen)
	})
}

func (c *Client) heartbeatTick(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.scheduleHeartbeatLocked(gen)
	c.mu.Unlock()

	if err := c.writeJSON(pingMessage()); err != nil {
		// The close event will follow from the socket itself.
		c.log.Debug("heartbeat send failed", logx.Err(err))
	}
}

func (c *Client) emit(eventType string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: eventType, Data: data})
}
