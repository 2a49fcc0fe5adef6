package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/telemetry"
)

// Conn is one realtime connection, bound to at most one session either as a participant or
// as the host.
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu sync.Mutex
	b  binding
}

type binding struct {
	sessionID     string
	participantID string
	hostID        string
}

func (b binding) bound() bool { return b.sessionID != "" }
func (b binding) host() bool  { return b.hostID != "" }

func (c *Conn) ID() string { return c.id }

func (c *Conn) binding() binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b
}

func (c *Conn) bind(b binding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.b = b
}

func (c *Conn) unbind() binding {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.b
	c.b = binding{}
	return old
}

// Send queues an event for this connection only.
func (c *Conn) Send(event string, data any) {
	msg := Message{Event: event, Data: data}
	b, err := msg.Encode()
	if err != nil {
		slog.Error("gateway: encode message", "conn", c.id, "event", event, "error", err)
		return
	}
	c.enqueue(event, b)
}

func (c *Conn) sendError(event string, err error) {
	e := errors.Convert(err)
	c.Send(EventError, Error{Code: string(e.Code), Message: e.Message, Event: event})
}

func (c *Conn) enqueue(event string, b []byte) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- b:
		telemetry.GatewayMessages.WithLabelValues("out", event).Inc()
	default:
		telemetry.GatewayDropped.Inc()
		slog.Warn("gateway: send buffer full, closing connection", "conn", c.id, "event", event)
		c.close()
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *Conn) readPump(ctx context.Context) {
	defer c.cleanup(ctx)

	cfg := c.hub.config
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.WarnContext(ctx, "gateway: unexpected close", "conn", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Event == "" {
			c.sendError("", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("malformed frame")))
			continue
		}

		c.hub.dispatch(ctx, c, env)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(c.hub.config.WriteTimeout))
			return
		case b := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				slog.Debug("gateway: write failed", "conn", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("gateway: ping failed", "conn", c.id, "error", err)
				return
			}
		}
	}
}

// cleanup leaves the room and marks a bound participant disconnected. The participant keeps
// its score and answers until it reconnects or leaves.
func (c *Conn) cleanup(ctx context.Context) {
	c.close()
	telemetry.GatewayConnections.Dec()

	if b := c.unbind(); b.bound() {
		c.hub.detach(ctx, c, b)
	}
}
