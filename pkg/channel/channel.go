// Package channel owns one persistent bidirectional websocket connection: it
// connects, keeps the link alive with sentinel probes, reconnects once per
// abnormal close after a fixed delay, and forwards inbound frames to a
// registered handler. The feedback channel and each recording session are
// both instances of Channel; they differ only in endpoint, handler, and
// reconnect policy.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsvox/opsvox/pkg/core"
	"github.com/opsvox/opsvox/pkg/creds"
	"github.com/opsvox/opsvox/pkg/metrics"
	"github.com/opsvox/opsvox/pkg/protocol"
)

const (
	defaultKeepaliveInterval = 30 * time.Second
	defaultReconnectDelay    = 5 * time.Second
	defaultHandshakeTimeout  = 15 * time.Second
	closeWriteWait           = 2 * time.Second
)

// Config configures a Channel. Zero values get defaults in New.
type Config struct {
	// Name labels the channel in logs and metrics ("feed", "recording").
	Name string
	// URL is the ws:// or wss:// endpoint.
	URL string
	// Auth supplies the bearer credential; nil dials unauthenticated.
	Auth *creds.Authorizer
	// Handler receives every inbound frame except the liveness probe reply.
	// Decode failures belong to the handler; they must be logged, not thrown.
	Handler func(data []byte)
	// OnStateChange observes isConnected transitions.
	OnStateChange func(connected bool)
	// OnClose observes connection terminations with their tagged reason.
	OnClose func(reason core.CloseReason)

	Logger *slog.Logger
	Dialer *websocket.Dialer

	// KeepaliveInterval between liveness probes. Default 30s.
	KeepaliveInterval time.Duration
	// ReconnectDelay before the single retry after an abnormal close. Default 5s.
	ReconnectDelay time.Duration
	// DisableReconnect turns off the retry. Recording sessions set this:
	// their transport failures surface as recorder error state instead.
	DisableReconnect bool
}

// Channel is a self-healing websocket session.
type Channel struct {
	cfg Config

	mu         sync.Mutex // guards connection state
	writeMu    sync.Mutex // serializes transport writes
	conn       *websocket.Conn
	connecting bool
	connected  bool
	manual     bool
	stopKeep   chan struct{}
	reconnect  *time.Timer
}

// New builds a Channel. The channel starts disconnected; call Connect.
func New(cfg Config) *Channel {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "channel"
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = defaultKeepaliveInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = defaultHandshakeTimeout
		cfg.Dialer = &d
	}
	return &Channel{cfg: cfg}
}

// IsConnected reports whether the transport is currently open.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect opens the transport. It is idempotent: a call while already
// connected or connecting is a no-op. A manual connect supersedes any
// pending reconnect timer.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.manual = false
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		var coreErr *core.Error
		if errors.As(err, &coreErr) && coreErr.Type == core.ErrAuthentication {
			// One refresh already happened inside dial; surface it.
			return err
		}
		c.cfg.Logger.Warn("channel dial failed",
			"channel", c.cfg.Name, "url", c.cfg.URL, "error", err)
		c.afterClose(core.CloseAbnormal)
		return err
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.connecting = false
	c.connected = true
	c.stopKeep = stop
	c.mu.Unlock()

	c.cfg.Logger.Info("channel connected", "channel", c.cfg.Name, "url", c.cfg.URL)
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(true)
	}

	go c.readLoop(conn)
	go c.keepaliveLoop(conn, stop)
	return nil
}

// Disconnect tears the channel down cleanly: it cancels any pending reconnect
// and keepalive timers, closes the transport with the normal closure code,
// and marks the channel disconnected. This is the only path that suppresses
// auto-reconnect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.manual = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteWait))
		_ = conn.Close()
	}
	if wasConnected && c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(false)
	}
}

// Send serializes payload and transmits it. While disconnected it declines
// silently: the event is logged and counted, no error is returned — callers
// must not depend on delivery confirmation.
func (c *Channel) Send(payload any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.cfg.Logger.Debug("send declined while disconnected", "channel", c.cfg.Name)
		metrics.FramesDropped.WithLabelValues(c.cfg.Name).Inc()
		return nil
	}
	return c.writeJSON(conn, payload)
}

// Resume checks liveness after the host process returns to the foreground.
// If the transport is not open it reconnects immediately instead of waiting
// for the pending retry timer.
func (c *Channel) Resume(ctx context.Context) {
	c.mu.Lock()
	connected := c.connected || c.connecting
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.mu.Unlock()

	if connected {
		return
	}
	c.cfg.Logger.Info("channel resume: transport closed, reconnecting now", "channel", c.cfg.Name)
	_ = c.Connect(ctx)
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := make(http.Header)
	if c.cfg.Auth != nil {
		token, err := c.cfg.Auth.Token(ctx)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err == nil {
		return conn, nil
	}
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && c.cfg.Auth != nil {
		// One refresh, one retry, then give up.
		token, refreshErr := c.cfg.Auth.Retry(ctx)
		if refreshErr != nil {
			return nil, core.NewAuthenticationError("credential refresh failed: " + refreshErr.Error())
		}
		header.Set("Authorization", "Bearer "+token)
		conn, resp, err = c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
		if err == nil {
			return conn, nil
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, core.NewAuthenticationError("endpoint rejected refreshed credential")
		}
	}
	return nil, &core.TransportError{Op: "DIAL", URL: c.cfg.URL, Err: err}
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			reason := core.CloseAbnormal
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = core.CloseNormal
			}
			c.handleClose(conn, reason, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if protocol.IsProbeReply(data) {
			continue
		}
		metrics.FramesIn.WithLabelValues(c.cfg.Name).Inc()
		if c.cfg.Handler != nil {
			c.cfg.Handler(data)
		}
	}
}

func (c *Channel) keepaliveLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.writeText(conn, []byte(protocol.PingSentinel)); err != nil {
				c.cfg.Logger.Debug("keepalive probe failed", "channel", c.cfg.Name, "error", err)
				return
			}
		}
	}
}

// handleClose runs once per connection, from its read loop.
func (c *Channel) handleClose(conn *websocket.Conn, reason core.CloseReason, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	manual := c.manual
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
	c.mu.Unlock()

	_ = conn.Close()
	if manual {
		reason = core.CloseNormal
	}
	c.cfg.Logger.Info("channel closed",
		"channel", c.cfg.Name, "reason", reason.String(), "error", err)

	if wasConnected && c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(false)
	}
	c.afterClose(reason)
}

// afterClose applies the reconnect policy: exactly one retry after the fixed
// delay for an abnormal close, none for a normal close. Each close clears and
// replaces any pending timer, so at most one is ever armed.
func (c *Channel) afterClose(reason core.CloseReason) {
	if c.cfg.OnClose != nil {
		c.cfg.OnClose(reason)
	}
	if reason != core.CloseAbnormal || c.cfg.DisableReconnect {
		return
	}

	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		return
	}
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	metrics.Reconnects.WithLabelValues(c.cfg.Name).Inc()
	c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnect = nil
		c.mu.Unlock()
		_ = c.Connect(context.Background())
	})
	c.mu.Unlock()
}

func (c *Channel) writeJSON(conn *websocket.Conn, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(payload)
}

func (c *Channel) writeText(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
