// Package gateway is the real-time fan-out gateway: websocket clients
// authenticate, join one room per conversation and receive messages appended
// through either transport.
package gateway

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/shutterhub/backend/internal/logging"
	"github.com/shutterhub/backend/internal/metrics"
	chatservice "github.com/shutterhub/backend/internal/service/chat"
)

// Event names of the socket protocol.
const (
	EventAuthenticate        = "authenticate"
	EventAuthenticated       = "authenticated"
	EventAuthenticationError = "authentication_error"
	EventNewMessage          = "new_message"
	EventMessageSent         = "message_sent"
	EventMessageReceived     = "message_received"
	EventMessageError        = "message_error"
)

// Frame is one protocol message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	f := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// MessagePayload is the data of message_sent, message_received and the
// server-sent new_message.
type MessagePayload struct {
	ChatID  string                  `json:"chatId"`
	Message chatservice.MessageView `json:"message"`
}

// Hub tracks connected clients and their rooms. A room is keyed by
// conversation id. Hub implements chatservice.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
	users   map[string]map[string]*Client
}

var _ chatservice.Notifier = (*Hub)(nil)

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		users:   make(map[string]map[string]*Client),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()

	metrics.GatewayConnections.Inc()
	logging.Component("gateway").Debug().Str("conn_id", c.id).Int("total_clients", total).Msg("client connected")
}

// unregister drops c from every room and closes its send queue.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	for _, chatID := range c.rooms() {
		removeMember(h.rooms, chatID, c.id)
	}
	if userID := c.UserID(); userID != "" {
		removeMember(h.users, userID, c.id)
		metrics.GatewayAuthenticated.Dec()
	}
	total := len(h.clients)
	h.mu.Unlock()

	c.closeSend()
	metrics.GatewayConnections.Dec()
	logging.Component("gateway").Debug().Str("conn_id", c.id).Int("total_clients", total).Msg("client disconnected")
}

// authenticate binds c to userID. Once bound, conversations created for the
// user join c even before its existing rooms are loaded.
func (h *Hub) authenticate(c *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return
	}
	if c.UserID() == "" {
		metrics.GatewayAuthenticated.Inc()
	}
	c.setUser(userID)
	addMember(h.users, userID, c)
}

// joinAll adds c to every room in chatIDs.
func (h *Hub) joinAll(c *Client, chatIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, chatID := range chatIDs {
		h.joinLocked(chatID, c)
	}
}

// Join adds c to the room of chatID.
func (h *Hub) Join(chatID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinLocked(chatID, c)
}

func (h *Hub) joinLocked(chatID string, c *Client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	addMember(h.rooms, chatID, c)
	c.joined(chatID)
}

// BroadcastToRoom sends a frame to every member of the room except the
// connection exceptConn and returns how many clients it was queued for.
func (h *Hub) BroadcastToRoom(chatID, event string, data any, exceptConn string) int {
	frame, err := encodeFrame(event, data)
	if err != nil {
		logging.Component("gateway").Error().Err(err).Str("event", event).Msg("encode broadcast frame")
		return 0
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[chatID]))
	for id, c := range h.rooms[chatID] {
		if id != exceptConn {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })

	sent := 0
	for _, c := range members {
		if c.enqueue(frame) {
			sent++
		}
	}
	if sent > 0 {
		metrics.GatewayEvents.WithLabelValues("out", event).Add(float64(sent))
	}
	return sent
}

// MessageAppended broadcasts a committed message to the room. Messages
// submitted over the socket go out as message_received, messages from the
// HTTP API as new_message. The submitting connection is skipped; it gets
// message_sent instead.
func (h *Hub) MessageAppended(_ context.Context, ev chatservice.MessageEvent) {
	event := EventNewMessage
	if ev.Origin == chatservice.TransportSocket {
		event = EventMessageReceived
	}
	h.BroadcastToRoom(ev.ChatID, event, MessagePayload{ChatID: ev.ChatID, Message: ev.Message}, ev.ConnID)
}

// ConversationCreated joins the participants' live connections to the new
// room so they receive its messages without reconnecting.
func (h *Hub) ConversationCreated(_ context.Context, ev chatservice.ConversationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, userID := range ev.Participants {
		for _, c := range h.users[userID] {
			h.joinLocked(ev.ChatID, c)
		}
	}
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of connections in a room.
func (h *Hub) RoomSize(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}

// Serve blocks until ctx ends, then closes every client. It implements
// suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	<-ctx.Done()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.closeSend()
	}
	logging.Component("gateway").Info().Int("clients_closed", len(clients)).Msg("gateway hub stopped")
	return ctx.Err()
}

// String names the service in supervisor logs.
func (h *Hub) String() string {
	return "gateway-hub"
}

func addMember(index map[string]map[string]*Client, key string, c *Client) {
	members, ok := index[key]
	if !ok {
		members = make(map[string]*Client)
		index[key] = members
	}
	members[c.id] = c
}

func removeMember(index map[string]map[string]*Client, key, connID string) {
	members, ok := index[key]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(index, key)
	}
}
