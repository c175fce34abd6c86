package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/shutterhub/backend/internal/logging"
	"github.com/shutterhub/backend/internal/service/auth"
	chatservice "github.com/shutterhub/backend/internal/service/chat"
)

// ChatService is the part of the chat service the gateway drives.
type ChatService interface {
	ConversationIDs(ctx context.Context, userID string) ([]string, error)
	Append(ctx context.Context, in chatservice.AppendInput) (chatservice.MessageView, error)
}

// Options tunes the upgrade handler.
type Options struct {
	// AllowedOrigins lists browser origins allowed to connect. "*" allows any.
	AllowedOrigins []string
	// MessageRate and MessageBurst bound new_message events per connection.
	MessageRate  float64
	MessageBurst int
}

// Handler upgrades HTTP requests to gateway connections.
type Handler struct {
	hub          *Hub
	chats        ChatService
	verifier     auth.Verifier
	upgrader     websocket.Upgrader
	messageRate  rate.Limit
	messageBurst int
}

// NewHandler 创建网关连接处理器
func NewHandler(hub *Hub, chats ChatService, verifier auth.Verifier, opts Options) *Handler {
	if opts.MessageRate <= 0 {
		opts.MessageRate = 5
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 10
	}

	h := &Handler{
		hub:          hub,
		chats:        chats,
		verifier:     verifier,
		messageRate:  rate.Limit(opts.MessageRate),
		messageBurst: opts.MessageBurst,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// RegisterRoutes 注册网关路由
func (h *Handler) RegisterRoutes(r chi.Router, path string) {
	r.Get(path, h.ServeHTTP)
}

// ServeHTTP 升级连接并在当前 goroutine 中读取，直到连接关闭
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Component("gateway").Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("websocket upgrade failed")
		return
	}

	client := newClient(uuid.NewString(), h.hub, conn, h)
	h.hub.register(client)

	go client.writePump()
	client.readPump(r.Context())
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	allowAll := false
	for _, origin := range allowed {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			allowAll = true
		}
		set[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// non-browser clients send no Origin
		if origin == "" || allowAll {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
