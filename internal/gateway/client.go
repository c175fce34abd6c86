package gateway

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/shutterhub/backend/internal/logging"
	"github.com/shutterhub/backend/internal/metrics"
	"github.com/shutterhub/backend/internal/model/chat"
	chatservice "github.com/shutterhub/backend/internal/service/chat"
	"github.com/shutterhub/backend/internal/validation"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
	eventTimeout   = 10 * time.Second
)

// Error texts sent to clients.
const (
	errNotAuthenticated = "User not authenticated"
	errInvalidToken     = "Invalid token"
	errMalformedFrame   = "malformed frame"
	errRateLimited      = "too many messages, slow down"
)

// State is the connection lifecycle.
type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

var clientSeq atomic.Uint64

// Client is one websocket connection.
type Client struct {
	id   string
	seq  uint64
	hub  *Hub
	conn *websocket.Conn
	deps *Handler

	state   atomic.Int32
	limiter *rate.Limiter

	mu          sync.Mutex
	userID      string
	joinedRooms map[string]struct{}
	send        chan []byte
	closed      bool
}

func newClient(id string, hub *Hub, conn *websocket.Conn, deps *Handler) *Client {
	return &Client{
		id:          id,
		seq:         clientSeq.Add(1),
		hub:         hub,
		conn:        conn,
		deps:        deps,
		limiter:     rate.NewLimiter(deps.messageRate, deps.messageBurst),
		joinedRooms: make(map[string]struct{}),
		send:        make(chan []byte, sendBuffer),
	}
}

// ID is the connection id, unique per process.
func (c *Client) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

// UserID is empty until the client authenticates.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) setUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	c.state.CompareAndSwap(int32(StateUnauthenticated), int32(StateAuthenticated))
}

func (c *Client) joined(chatID string) {
	c.mu.Lock()
	c.joinedRooms[chatID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.joinedRooms))
	for id := range c.joinedRooms {
		out = append(out, id)
	}
	return out
}

// enqueue queues a frame without blocking. A full queue drops the frame.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		metrics.GatewayDroppedFrames.Inc()
		return false
	}
}

// closeSend makes the write pump flush the queue, send a close frame and
// close the connection.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) emit(event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		c.logger().Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	if c.enqueue(frame) {
		metrics.RecordGatewayEvent("out", event)
	}
}

func (c *Client) logger() *zerolog.Logger {
	l := logging.Component("gateway").With().Str("conn_id", c.id).Logger()
	if userID := c.UserID(); userID != "" {
		l = l.With().Str("user_id", userID).Logger()
	}
	return &l
}

// readPump reads frames until the connection fails, then unregisters.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.state.Store(int32(StateDisconnected))
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger().Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger().Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		// a rejected connection is waiting for its close frame to flush
		if c.State() == StateDisconnected {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
			c.emit(EventMessageError, errorPayload{Message: errMalformedFrame, Code: string(chatservice.CategoryValidation)})
			continue
		}
		metrics.RecordGatewayEvent("in", frame.Event)
		c.dispatch(ctx, frame)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger().Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(ctx context.Context, frame Frame) {
	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()
	ctx = logging.WithRequestID(ctx, logging.NewRequestID())

	switch frame.Event {
	case EventAuthenticate:
		c.handleAuthenticate(ctx, frame.Data)
	case EventNewMessage:
		c.handleNewMessage(ctx, frame.Data)
	default:
		c.emit(EventMessageError, errorPayload{
			Message: "unsupported event: " + frame.Event,
			Code:    string(chatservice.CategoryValidation),
		})
	}
}

type authenticatePayload struct {
	Token string `json:"token"`
}

type authenticatedPayload struct {
	UserID string `json:"userId"`
	Rooms  int    `json:"rooms"`
}

type errorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// parseToken accepts the bare token string or {"token": "..."}.
func parseToken(data json.RawMessage) string {
	var token string
	if err := json.Unmarshal(data, &token); err == nil {
		return strings.TrimSpace(token)
	}
	var payload authenticatePayload
	if err := json.Unmarshal(data, &payload); err == nil {
		return strings.TrimSpace(payload.Token)
	}
	return ""
}

// handleAuthenticate moves the client to Authenticated and joins its rooms.
// Any failure sends authentication_error and closes the connection.
func (c *Client) handleAuthenticate(ctx context.Context, data json.RawMessage) {
	userID, err := c.deps.verifier.Verify(parseToken(data))
	if err != nil {
		c.logger().Info().Err(err).Msg("socket authentication failed")
		c.rejectAuthentication(errInvalidToken, chatservice.CategoryAuthentication)
		return
	}
	if current := c.UserID(); current != "" && current != userID {
		c.logger().Warn().Str("token_user", userID).Msg("token for a different user on an authenticated connection")
		c.rejectAuthentication(errInvalidToken, chatservice.CategoryAuthentication)
		return
	}

	ctx = logging.WithUserID(ctx, userID)
	c.hub.authenticate(c, userID)
	chatIDs, err := c.deps.chats.ConversationIDs(ctx, userID)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("component", "gateway").Msg("load conversations for socket")
		c.rejectAuthentication(chatservice.PublicMessage(err), chatservice.Classify(err))
		return
	}

	c.hub.joinAll(c, chatIDs)
	c.emit(EventAuthenticated, authenticatedPayload{UserID: userID, Rooms: len(chatIDs)})
	logging.Ctx(ctx).Info().Str("component", "gateway").Str("conn_id", c.id).Int("rooms", len(chatIDs)).Msg("socket authenticated")
}

func (c *Client) rejectAuthentication(message string, category chatservice.Category) {
	c.emit(EventAuthenticationError, errorPayload{Message: message, Code: string(category)})
	c.state.Store(int32(StateDisconnected))
	c.closeSend()
}

// NewMessageRequest is the data of a client-sent new_message.
type NewMessageRequest struct {
	ChatID   string `json:"chatId" validate:"required"`
	Content  string `json:"content" validate:"required,max=5000"`
	Type     string `json:"type" validate:"required,oneof=Text Photo Bundle"`
	PhotoID  string `json:"photoId"`
	BundleID string `json:"bundleId"`
}

// handleNewMessage appends through the shared chat service. Failures are
// reported to this connection only; the connection stays open.
func (c *Client) handleNewMessage(ctx context.Context, data json.RawMessage) {
	if c.State() != StateAuthenticated {
		c.emit(EventMessageError, errorPayload{Message: errNotAuthenticated, Code: string(chatservice.CategoryAuthentication)})
		return
	}
	if !c.limiter.Allow() {
		c.emit(EventMessageError, errorPayload{Message: errRateLimited, Code: "rate_limited"})
		return
	}

	userID := c.UserID()
	ctx = logging.WithUserID(ctx, userID)

	var req NewMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.emit(EventMessageError, errorPayload{Message: errMalformedFrame, Code: string(chatservice.CategoryValidation)})
		return
	}
	if err := validation.Struct(req); err != nil {
		c.emit(EventMessageError, errorPayload{Message: err.Error(), Code: string(chatservice.CategoryValidation)})
		return
	}

	view, err := c.deps.chats.Append(ctx, chatservice.AppendInput{
		ChatID:   req.ChatID,
		AuthorID: userID,
		Kind:     chat.Kind(req.Type),
		Content:  req.Content,
		PhotoID:  req.PhotoID,
		BundleID: req.BundleID,
		Origin:   chatservice.TransportSocket,
		ConnID:   c.id,
	})
	if err != nil {
		category := chatservice.Classify(err)
		ev := logging.Ctx(ctx).Warn()
		if category == chatservice.CategoryUnexpected {
			ev = logging.Ctx(ctx).Error()
		}
		ev.Err(err).Str("component", "gateway").Str("chat_id", req.ChatID).Msg("socket append failed")
		c.emit(EventMessageError, errorPayload{Message: chatservice.PublicMessage(err), Code: string(category)})
		return
	}

	c.emit(EventMessageSent, MessagePayload{ChatID: req.ChatID, Message: view})
}
