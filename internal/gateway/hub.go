package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/lifecycle"
	"github.com/victornm/livequiz/internal/telemetry"
)

// HandlerFunc handles one inbound event of a connection.
type HandlerFunc func(ctx context.Context, c *Conn, data json.RawMessage) error

type Config struct {
	EventBus    *event.Bus
	Controller  *lifecycle.Controller
	Leaderboard *leaderboard.Service

	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`

	CheckOrigin func(r *http.Request) bool `mapstructure:"-"`
}

// DefaultConfig returns the connection settings without collaborators.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		ReadTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     256,
	}
}

// Hub owns the realtime connections and the rooms they belong to. A room is the set of
// connections bound to one session.
type Hub struct {
	ctl      *lifecycle.Controller
	lb       *leaderboard.Service
	config   Config
	upgrader websocket.Upgrader

	handlers map[string]HandlerFunc

	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}

	// owners maps a participant to the connection it joined on last.
	owners map[seat]*Conn
}

type seat struct {
	sessionID     string
	participantID string
}

func NewHub(c Config) *Hub {
	def := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}

	h := &Hub{
		ctl:    c.Controller,
		lb:     c.Leaderboard,
		config: c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     c.CheckOrigin,
		},
		handlers: make(map[string]HandlerFunc),
		rooms:    make(map[string]map[*Conn]struct{}),
		owners:   make(map[seat]*Conn),
	}

	h.registerHandlers()

	for _, name := range RoomEvents {
		c.EventBus.Subscribe(name, h.handleRoomEvent)
	}

	return h
}

// Handle registers fn for inbound events named name, replacing any previous handler.
func (h *Hub) Handle(name string, fn HandlerFunc) {
	h.handlers[name] = fn
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "gateway: upgrade failed", "error", err)
		return
	}

	c := &Conn{
		id:   uuid.NewString(),
		hub:  h,
		ws:   ws,
		send: make(chan []byte, h.config.SendBuffer),
		done: make(chan struct{}),
	}

	telemetry.GatewayConnections.Inc()
	slog.DebugContext(r.Context(), "gateway: connection opened", "conn", c.id, "remote", r.RemoteAddr)

	go c.writePump()
	c.readPump(context.WithoutCancel(r.Context()))
}

func (h *Hub) handleRoomEvent(ctx context.Context, e event.Event) error {
	sessionID, msg, ok := FromEvent(e)
	if !ok {
		return nil
	}

	h.Broadcast(sessionID, msg)

	if left, ok := e.(domain.EventParticipantLeft); ok && left.Removed {
		h.evict(ctx, left.SessionID, left.ParticipantID)
	}
	return nil
}

// Broadcast sends msg to every connection in the session's room. Connections that cannot
// keep up are closed.
func (h *Hub) Broadcast(sessionID string, msg Message) {
	b, err := msg.Encode()
	if err != nil {
		slog.Error("gateway: encode broadcast", "event", msg.Event, "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.rooms[sessionID]))
	for c := range h.rooms[sessionID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.enqueue(msg.Event, b)
	}
}

// RoomSize is the number of connections bound to the session.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

func (h *Hub) join(sessionID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[*Conn]struct{})
		h.rooms[sessionID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) leave(sessionID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

func (h *Hub) claim(s seat, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.owners[s] = c
}

// disown drops c as the owner of s and reports whether it was. A participant that reconnected
// elsewhere is owned by the newer connection.
func (h *Hub) disown(s seat, c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owners[s] != c {
		return false
	}
	delete(h.owners, s)
	return true
}

// detach removes the connection from the room of b and marks its participant disconnected
// unless another connection took the participant over.
func (h *Hub) detach(ctx context.Context, c *Conn, b binding) {
	h.leave(b.sessionID, c)
	if b.participantID == "" {
		return
	}

	s := seat{sessionID: b.sessionID, participantID: b.participantID}
	err := h.ctl.DisconnectIf(ctx, b.sessionID, b.participantID, func() bool { return h.disown(s, c) })
	if err != nil && !errors.HasCode(err, errors.CodeNotFound) {
		slog.WarnContext(ctx, "gateway: mark participant disconnected", "conn", c.id, "session", b.sessionID, "participant", b.participantID, "error", err)
	}
}

// evict unbinds connections of a participant that was removed from the session.
func (h *Hub) evict(ctx context.Context, sessionID, participantID string) {
	h.mu.RLock()
	var targets []*Conn
	for c := range h.rooms[sessionID] {
		if b := c.binding(); b.participantID == participantID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.unbind()
		h.leave(sessionID, c)
		h.disown(seat{sessionID: sessionID, participantID: participantID}, c)
		slog.DebugContext(ctx, "gateway: evicted removed participant", "conn", c.id, "session", sessionID, "participant", participantID)
	}
}
