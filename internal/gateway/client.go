package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

var ErrNotConnected = stderrors.New("gateway: client not connected")

type ClientConfig struct {
	URL  string
	Join JoinSession
	// Handler receives every inbound frame, and a final connection_failed frame once the
	// reconnect attempts are exhausted. It runs on the client's read goroutine.
	Handler func(env Envelope)

	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	Dialer *websocket.Dialer
	Clock  clockwork.Clock
}

// ConnectionFailed is the payload of the client-side connection_failed event.
type ConnectionFailed struct {
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// Client is a realtime client that rejoins its session after the connection drops.
type Client struct {
	config ClientConfig

	mu   sync.Mutex
	conn *websocket.Conn
	join JoinSession
}

func NewClient(c ClientConfig) *Client {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Handler == nil {
		c.Handler = func(Envelope) {}
	}

	return &Client{config: c, join: c.Join}
}

// Run connects, joins the session and reads until ctx is done. A dropped connection is
// redialled with exponential backoff; the participant ID assigned on the first join is
// reused so the server restores the same participant.
func (c *Client) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		conn, err := c.connect(ctx)
		if err != nil {
			return err
		}

		err = c.read(conn)
		c.setConn(nil)
		_ = conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		slog.InfoContext(ctx, "gateway: client connection lost, reconnecting", "error", err)
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		conn, _, err := c.config.Dialer.DialContext(ctx, c.config.URL, nil)
		if err == nil {
			c.setConn(conn)
			if err = c.Send(EventJoinSession, c.joinRequest()); err == nil {
				return conn, nil
			}
			c.setConn(nil)
			_ = conn.Close()
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == c.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.config.Clock.After(c.backoff(attempt)):
		}
	}

	data, _ := json.Marshal(ConnectionFailed{Attempts: c.config.MaxAttempts, Error: lastErr.Error()})
	c.config.Handler(Envelope{Event: EventConnectionFailed, Data: data})

	return nil, fmt.Errorf("gateway: connect after %d attempts: %w", c.config.MaxAttempts, lastErr)
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.config.BaseDelay << (attempt - 1)
	if d <= 0 || d > c.config.MaxDelay {
		return c.config.MaxDelay
	}
	return d
}

func (c *Client) read(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			continue
		}

		if env.Event == EventSessionJoined {
			c.rememberParticipant(env.Data)
		}
		c.config.Handler(env)
	}
}

func (c *Client) rememberParticipant(data json.RawMessage) {
	var sj SessionJoined
	if err := json.Unmarshal(data, &sj); err != nil || sj.ParticipantID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.join.ParticipantID = sj.ParticipantID
}

func (c *Client) joinRequest() JoinSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.join
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// ParticipantID is the ID assigned by the server, empty until the first join succeeds.
func (c *Client) ParticipantID() string {
	return c.joinRequest().ParticipantID
}

// Send writes an event on the current connection.
func (c *Client) Send(event string, data any) error {
	b, err := Message{Event: event, Data: data}.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Close drops the current connection. Run reconnects unless its context is done.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
