// Package websocket pushes notifications to connected users in real time.
// Each connection belongs to exactly one user, taken from the authenticated
// request; a message for a user is written to every connection that user
// holds open on this instance. Offline users are not an error: the inbox
// keeps the durable copy.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/notification"
)

// EventNotification is the type of every frame the hub writes.
const EventNotification = "notification"

const sendBuffer = 64

// Event is one frame written to a client.
type Event struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single open connection.
type Client struct {
	ID     string
	UserID string
	Send   chan []byte
	conn   Conn
}

// Hub tracks open connections by user. All operations are safe for
// concurrent use.
type Hub struct {
	mu     sync.RWMutex
	byUser map[string]map[*Client]struct{}
	logger zerolog.Logger
	now    func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		byUser: make(map[string]map[*Client]struct{}),
		logger: logger.With().Str("component", "websocket").Logger(),
		now:    time.Now,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.byUser[client.UserID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.byUser[client.UserID] = set
	}
	set[client] = struct{}{}
}

// Unregister removes the client and closes its Send channel. Calling it
// twice is harmless.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	set, ok := h.byUser[client.UserID]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.byUser, client.UserID)
	}
	close(client.Send)
}

// Deliver queues data on every connection of userID and returns how many
// accepted it. A connection whose buffer is full is dropped; the client is
// expected to reconnect and catch up from the inbox.
func (h *Hub) Deliver(userID string, data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for client := range h.byUser[userID] {
		select {
		case client.Send <- data:
			sent++
		default:
			h.logger.Warn().Str("user_id", userID).Str("client_id", client.ID).Msg("send buffer full; dropping connection")
			h.removeLocked(client)
		}
	}
	return sent
}

// Notify implements notification.Sink.
func (h *Hub) Notify(_ context.Context, userID, message string) error {
	return h.push(userID, Event{Type: EventNotification, Message: message, SentAt: h.now().UTC()})
}

func (h *Hub) push(userID string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.Deliver(userID, data)
	return nil
}

// Relay forwards messages published by notification.RedisSink to local
// connections until ctx is done or msgs is closed. It lets every instance
// push messages produced on any other instance.
func (h *Hub) Relay(ctx context.Context, msgs <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var p notification.Push
			if err := json.Unmarshal([]byte(m.Payload), &p); err != nil || p.UserID == "" {
				h.logger.Warn().Str("channel", m.Channel).Msg("ignoring malformed push")
				continue
			}
			if err := h.push(p.UserID, Event{Type: EventNotification, Message: p.Message, SentAt: p.SentAt}); err != nil {
				h.logger.Warn().Err(err).Str("channel", m.Channel).Str("user_id", p.UserID).Msg("relay push failed")
			}
		}
	}
}

// ClientCount returns the total number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.byUser {
		n += len(set)
	}
	return n
}

// UserCount returns the number of open connections held by userID.
func (h *Hub) UserCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Handler upgrades authenticated requests into notification streams.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts upgrades from the given origins. With no origins every
// origin is accepted, which is only appropriate in development.
func NewHandler(hub *Hub, origins []string) *Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowed) == 0 || origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

func (wsh *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications/stream", wsh.HandleConnect)
}

// HandleConnect handles GET /notifications/stream.
func (wsh *Handler) HandleConnect(c echo.Context) error {
	uid := auth.UserIDFromContext(c.Request().Context())
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthenticated")
	}
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the error response
		return nil
	}

	client := &Client{
		ID:     uuid.New().String(),
		UserID: uid,
		Send:   make(chan []byte, sendBuffer),
		conn:   &gorillaConnAdapter{ws},
	}
	wsh.hub.Register(client)
	wsh.hub.logger.Debug().Str("user_id", uid).Str("client_id", client.ID).Msg("stream opened")

	go wsh.writePump(client)
	go wsh.readPump(client)
	return nil
}

// readPump discards inbound frames and unregisters the client once the
// connection fails or the peer closes it.
func (wsh *Handler) readPump(client *Client) {
	defer func() {
		wsh.hub.Unregister(client)
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (wsh *Handler) writePump(client *Client) {
	defer client.conn.Close()
	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			wsh.hub.Unregister(client)
			return
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy Conn.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
