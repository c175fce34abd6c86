package chat

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shutterhub/backend/internal/logging"
	"github.com/shutterhub/backend/internal/middleware"
	"github.com/shutterhub/backend/internal/model/chat"
	chatService "github.com/shutterhub/backend/internal/service/chat"
	"github.com/shutterhub/backend/internal/validation"
	"github.com/shutterhub/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册聊天相关的路由，调用方负责挂载鉴权中间件
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chats", func(r chi.Router) {
		r.Post("/", h.handleCreateChat)
		r.Get("/", h.handleListChats)
		r.Get("/{chatID}", h.handleGetChat)
		r.Post("/{chatID}/messages", h.handleAddMessage)
		r.Put("/{chatID}/messages/{messageID}", h.handleUpdateMessage)
		r.Delete("/{chatID}/messages/{messageID}", h.handleDeleteMessage)
		r.Put("/{chatID}/last-seen", h.handleUpdateLastSeen)
	})
}

// CreateChatRequest 创建会话请求
type CreateChatRequest struct {
	ParticipantID string `json:"participantId" validate:"required"`
}

// AddMessageRequest 发送消息请求
type AddMessageRequest struct {
	Content  string `json:"content" validate:"required,max=5000"`
	Type     string `json:"type" validate:"required,oneof=Text Photo Bundle"`
	PhotoID  string `json:"photoId"`
	BundleID string `json:"bundleId"`
}

// UpdateMessageRequest 更新消息请求，content 与 markAsRead 至少提供一个
type UpdateMessageRequest struct {
	Content    *string `json:"content" validate:"omitempty,max=5000"`
	MarkAsRead bool    `json:"markAsRead"`
}

// LastSeenResponse 更新最后查看时间的响应
type LastSeenResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

// handleCreateChat 查找或创建与对方的会话，新建返回201，已存在返回200
func (h *Handler) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var payload CreateChatRequest
	if !decodeAndValidate(w, r, &payload) {
		return
	}

	view, created, err := h.chatSvc.FindOrCreate(r.Context(), currentUser(r), payload.ParticipantID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	utils.RespondData(w, status, view)
}

// handleListChats 列出当前用户的会话及未读数
func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	views, err := h.chatSvc.ListConversations(r.Context(), currentUser(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondList(w, views, len(views))
}

// handleGetChat 获取单个会话
func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	view, err := h.chatSvc.GetConversation(r.Context(), currentUser(r), chi.URLParam(r, "chatID"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondData(w, http.StatusOK, view)
}

// handleAddMessage 发送消息
func (h *Handler) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	var payload AddMessageRequest
	if !decodeAndValidate(w, r, &payload) {
		return
	}

	view, err := h.chatSvc.Append(r.Context(), chatService.AppendInput{
		ChatID:   chi.URLParam(r, "chatID"),
		AuthorID: currentUser(r),
		Kind:     chat.Kind(payload.Type),
		Content:  payload.Content,
		PhotoID:  payload.PhotoID,
		BundleID: payload.BundleID,
		Origin:   chatService.TransportHTTP,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondData(w, http.StatusCreated, view)
}

// handleUpdateMessage 编辑消息内容和/或标记已读
func (h *Handler) handleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	var payload UpdateMessageRequest
	if !decodeAndValidate(w, r, &payload) {
		return
	}

	view, err := h.chatSvc.UpdateMessage(r.Context(), chatService.UpdateInput{
		ChatID:     chi.URLParam(r, "chatID"),
		MessageID:  chi.URLParam(r, "messageID"),
		UserID:     currentUser(r),
		Content:    payload.Content,
		MarkAsRead: payload.MarkAsRead,
	})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondData(w, http.StatusOK, view)
}

// handleDeleteMessage 删除消息，仅作者可删
func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	err := h.chatSvc.Delete(r.Context(), chi.URLParam(r, "chatID"), chi.URLParam(r, "messageID"), currentUser(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondData(w, http.StatusOK, struct{}{})
}

// handleUpdateLastSeen 将当前用户的最后查看时间设为现在
func (h *Handler) handleUpdateLastSeen(w http.ResponseWriter, r *http.Request) {
	ts, err := h.chatSvc.TouchLastSeen(r.Context(), chi.URLParam(r, "chatID"), currentUser(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	utils.RespondData(w, http.StatusOK, LastSeenResponse{Timestamp: ts})
}

func currentUser(r *http.Request) string {
	id, _ := middleware.UserID(r.Context())
	return id
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := utils.DecodeJSON(r, dst); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body", string(chatService.CategoryValidation))
		return false
	}
	if err := validation.Struct(dst); err != nil {
		respondServiceError(w, r, err)
		return false
	}
	return true
}

// respondServiceError 将服务错误映射为HTTP响应，非预期错误只记录日志不外泄
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	category := chatService.Classify(err)
	log := logging.Ctx(r.Context())
	ev := log.Warn()
	if category == chatService.CategoryUnexpected {
		ev = log.Error()
	}
	ev.Err(err).Str("component", "chat-http").Str("category", string(category)).Str("path", r.URL.Path).Msg("chat request failed")

	utils.RespondError(w, chatService.HTTPStatus(err), chatService.PublicMessage(err), string(category))
}
