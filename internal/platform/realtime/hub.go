package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxFrameSize    = 4096
	sendBufferSize  = 32
	frameTypeJoin   = "join"
	frameTypeLeave  = "leave"
	ackJoined       = "joined"
	ackJoinRejected = "join_rejected"
	ackLeft         = "left"
	ackError        = "error"
)

// Rooms is the membership registry the hub consults. services.RoomManager satisfies it.
type Rooms interface {
	JoinRoom(connID, roomID string) bool
	LeaveRoom(connID, roomID string)
	Disconnect(connID string)
	Members(roomID string) []string
}

// ClientFrame is a message sent by a websocket client.
type ClientFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// ServerFrame is a message sent to a websocket client: either an acknowledgement (Type) or a room event (Event).
type ServerFrame struct {
	Type    string `json:"type,omitempty"`
	Event   string `json:"event,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Options configures a Hub.
type Options struct {
	Logger         *zap.Logger
	AllowedOrigins []string
}

// Hub upgrades HTTP requests to websocket connections, applies join/leave frames to the room registry
// and fans room events out to member connections.
type Hub struct {
	rooms    Rooms
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*conn
}

type conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

// NewHub constructs a websocket hub over the room registry.
func NewHub(rooms Rooms, opts Options) (*Hub, error) {
	if rooms == nil {
		return nil, errors.New("realtime hub: rooms are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		rooms:  rooms,
		logger: logger,
		conns:  make(map[string]*conn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h, nil
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// Emit implements services.BroadcastTransport. Slow connections whose buffer is full miss the event.
func (h *Hub) Emit(ctx context.Context, roomID string, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ServerFrame{Event: event, RoomID: roomID, Payload: payload})
	if err != nil {
		return fmt.Errorf("realtime: marshal %s: %w", event, err)
	}
	members := h.rooms.Members(roomID)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range members {
		c, ok := h.conns[id]
		if !ok {
			continue
		}
		select {
		case c.send <- data:
		case <-c.closed:
		default:
			h.logger.Warn("websocket send buffer full; dropping event",
				zap.String("connId", id),
				zap.String("roomId", roomID),
				zap.String("event", event),
			)
		}
	}
	return nil
}

// Connections reports the number of open connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) readPump(c *conn) {
	defer h.drop(c)

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame ClientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly", zap.String("connId", c.id), zap.Error(err))
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				h.reply(c, ServerFrame{Type: ackError, Error: "malformed frame"})
				continue
			}
			return
		}
		h.reply(c, h.handleFrame(c, frame))
	}
}

func (h *Hub) handleFrame(c *conn, frame ClientFrame) ServerFrame {
	roomID := strings.TrimSpace(frame.RoomID)
	switch strings.ToLower(strings.TrimSpace(frame.Type)) {
	case frameTypeJoin:
		if h.rooms.JoinRoom(c.id, roomID) {
			return ServerFrame{Type: ackJoined, RoomID: roomID}
		}
		return ServerFrame{Type: ackJoinRejected, RoomID: roomID}
	case frameTypeLeave:
		h.rooms.LeaveRoom(c.id, roomID)
		return ServerFrame{Type: ackLeft, RoomID: roomID}
	default:
		return ServerFrame{Type: ackError, Error: "unknown frame type"}
	}
}

func (h *Hub) reply(c *conn, frame ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.closed:
	}
}

func (h *Hub) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case <-c.closed:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		}
	}
}

func (h *Hub) drop(c *conn) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.conns, c.id)
		h.mu.Unlock()
		h.rooms.Disconnect(c.id)
		close(c.closed)
	})
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin = strings.TrimSpace(origin); origin != "" {
			set[strings.ToLower(origin)] = struct{}{}
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}
