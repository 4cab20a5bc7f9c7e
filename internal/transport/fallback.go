package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oddyssey/stream/internal/event"
)

const (
	// ReconnectDelay is the fixed wait between fallback reconnect
	// attempts. The retry count is uncapped: this is a long-lived
	// background connection, not a bounded operation.
	ReconnectDelay = 3 * time.Second

	fallbackWriteTimeout   = 10 * time.Second
	fallbackReadTimeout    = 90 * time.Second
	fallbackPingInterval   = 30 * time.Second
	fallbackHandshakeLimit = 10 * time.Second
)

// wsMessage is the fallback wire envelope, both directions.
type wsMessage struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Fallback maintains the reconnecting push socket to the secondary
// endpoint. Desired channels are tracked independently of connection
// state so a reconnect is a pure re-flush of subscribe messages.
type Fallback struct {
	url  string
	sink Sink

	connMu sync.Mutex
	conn   *websocket.Conn

	mu         sync.Mutex
	desired    map[string]struct{} // channels wanted by live subscribers
	subscribed map[string]struct{} // channels acked on the current socket
	state      ConnState
	lastErr    error

	stopCh    chan struct{}
	stopOnce  sync.Once
	reconnect chan struct{} // manual reconnect kicks the run loop
	wg        sync.WaitGroup
}

// NewFallback creates the adapter. Call Start to connect.
func NewFallback(url string, sink Sink) *Fallback {
	return &Fallback{
		url:        url,
		sink:       sink,
		desired:    make(map[string]struct{}),
		subscribed: make(map[string]struct{}),
		stopCh:     make(chan struct{}),
		reconnect:  make(chan struct{}, 1),
	}
}

// Start begins the connect/read/reconnect loop and the ping keepalive.
func (f *Fallback) Start(ctx context.Context) {
	f.wg.Add(1)
	go f.runLoop(ctx)

	f.wg.Add(1)
	go f.pingLoop(ctx)
}

// Close tears the adapter down and stops reconnection scheduling.
func (f *Fallback) Close() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	f.closeConnection()
	f.wg.Wait()
}

// State returns the current connection state.
func (f *Fallback) State() ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastError returns the most recent connection-level error, if any.
func (f *Fallback) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// EnsureKind marks the kind's channel as desired and subscribes it on the
// live socket when there is one.
func (f *Fallback) EnsureKind(kind event.Kind) {
	channel := ChannelFor(kind)
	if channel == "" {
		return
	}

	f.mu.Lock()
	f.desired[channel] = struct{}{}
	_, already := f.subscribed[channel]
	connected := f.state == StateConnected
	f.mu.Unlock()

	if connected && !already {
		f.sendSubscribe(channel)
	}
}

// ReleaseKind drops the kind's channel from the desired set and
// unsubscribes it on the live socket.
func (f *Fallback) ReleaseKind(kind event.Kind) {
	channel := ChannelFor(kind)
	if channel == "" {
		return
	}

	f.mu.Lock()
	delete(f.desired, channel)
	_, wasSubscribed := f.subscribed[channel]
	delete(f.subscribed, channel)
	connected := f.state == StateConnected
	f.mu.Unlock()

	if connected && wasSubscribed {
		f.send(wsMessage{Type: "unsubscribe", Channel: channel})
	}
}

// Reconnect force-closes any open socket and resets the subscribed
// bookkeeping. The run loop reinitializes from the desired set.
func (f *Fallback) Reconnect() {
	f.mu.Lock()
	f.subscribed = make(map[string]struct{})
	f.mu.Unlock()

	f.closeConnection()

	select {
	case f.reconnect <- struct{}{}:
	default:
	}
}

// runLoop handles connection, reading, and fixed-delay reconnection.
// Read errors and closes funnel through a single scheduling point, so an
// error preceding a close never double-schedules a reconnect.
func (f *Fallback) runLoop(ctx context.Context) {
	defer f.wg.Done()

	for {
		select {
		case <-ctx.Done():
			slog.Info("fallback_loop_stopping", "reason", "context cancelled")
			return
		case <-f.stopCh:
			slog.Info("fallback_loop_stopping", "reason", "stop signal")
			return
		default:
		}

		if err := f.connect(ctx); err != nil {
			f.setError(err)
			slog.Error("fallback_connect_failed", "error", err, "retry_in", ReconnectDelay)
			f.waitReconnect(ctx)
			continue
		}

		if err := f.readLoop(ctx); err != nil {
			f.setError(err)
			slog.Warn("fallback_read_error", "error", err)
		}

		f.closeConnection()
		f.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		default:
			f.waitReconnect(ctx)
		}
	}
}

// connect dials the socket and re-flushes subscribes for every desired
// channel.
func (f *Fallback) connect(ctx context.Context) error {
	f.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: fallbackHandshakeLimit}
	conn, resp, err := dialer.DialContext(ctx, f.url, http.Header{})
	if err != nil {
		f.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	f.setState(StateConnected)
	f.clearError()
	slog.Info("fallback_connected", "endpoint", f.url)

	f.mu.Lock()
	channels := make([]string, 0, len(f.desired))
	for ch := range f.desired {
		channels = append(channels, ch)
	}
	f.mu.Unlock()

	for _, ch := range channels {
		f.sendSubscribe(ch)
	}
	return nil
}

func (f *Fallback) sendSubscribe(channel string) {
	if err := f.send(wsMessage{Type: "subscribe", Channel: channel}); err != nil {
		slog.Warn("fallback_subscribe_failed", "channel", channel, "error", err)
		return
	}
	// Only mark subscribed while the channel is still desired; a
	// concurrent release may have unsubscribed it already.
	f.mu.Lock()
	if _, wanted := f.desired[channel]; wanted {
		f.subscribed[channel] = struct{}{}
	}
	f.mu.Unlock()
	slog.Info("fallback_subscribed", "channel", channel)
}

func (f *Fallback) send(msg wsMessage) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("connection is nil")
	}
	f.conn.SetWriteDeadline(time.Now().Add(fallbackWriteTimeout))
	return f.conn.WriteJSON(msg)
}

// readLoop reads messages until error or shutdown.
func (f *Fallback) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.stopCh:
			return nil
		case <-f.reconnect:
			return nil
		default:
		}

		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			return fmt.Errorf("connection is nil")
		}

		conn.SetReadDeadline(time.Now().Add(fallbackReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}

		f.handleMessage(raw)
	}
}

// handleMessage classifies an incoming frame and routes update payloads
// to the sink. Protocol acks are ignored; unknown channels are dropped.
func (f *Fallback) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Debug("fallback_parse_error", "error", err)
		return
	}

	switch msg.Type {
	case "connected", "subscribed", "pong":
		slog.Debug("fallback_protocol_message", "type", msg.Type)
		return
	case "update":
	default:
		slog.Debug("fallback_message_ignored", "type", msg.Type)
		return
	}

	kind, ok := KindForChannel(msg.Channel)
	if !ok {
		slog.Warn("fallback_unknown_channel", "channel", msg.Channel)
		return
	}

	var data any
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			slog.Debug("fallback_payload_error", "channel", msg.Channel, "error", err)
			return
		}
	}

	f.sink.HandleRaw(kind, map[string]any{"data": data}, "fallback")
}

// pingLoop keeps the socket alive; the server answers with pong frames
// which handleMessage ignores.
func (f *Fallback) pingLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(fallbackPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-ticker.C:
			if f.State() != StateConnected {
				continue
			}
			if err := f.send(wsMessage{Type: "ping"}); err != nil {
				slog.Debug("fallback_ping_failed", "error", err)
			}
		}
	}
}

// closeConnection safely closes the socket. Subscribed bookkeeping is
// cleared; the desired set survives for the next connect.
func (f *Fallback) closeConnection() {
	f.connMu.Lock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
		slog.Info("fallback_disconnected")
	}
	f.connMu.Unlock()

	f.mu.Lock()
	f.subscribed = make(map[string]struct{})
	f.mu.Unlock()
}

func (f *Fallback) waitReconnect(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-f.stopCh:
	case <-f.reconnect:
	case <-time.After(ReconnectDelay):
	}
}

func (f *Fallback) setState(s ConnState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *Fallback) setError(err error) {
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
}

func (f *Fallback) clearError() {
	f.mu.Lock()
	f.lastErr = nil
	f.mu.Unlock()
}
