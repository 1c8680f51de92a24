package chat

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/fireworks-chat/backend/internal/handler/httperr"
	"github.com/zhouzirui/fireworks-chat/backend/internal/middleware"
	"github.com/zhouzirui/fireworks-chat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/fireworks-chat/backend/internal/service/chat"
	"github.com/zhouzirui/fireworks-chat/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chats", h.handleCreateSession)
	r.Get("/chats", h.handleListSessions)
	r.Get("/chats/{chatID}", h.handleGetSession)
	r.Delete("/chats/{chatID}", h.handleDeleteSession)
	r.Post("/chats/{chatID}/messages", h.handleSendMessage)
}

// sendMessageResponse is returned once the assistant entry has been appended.
type sendMessageResponse struct {
	Message chat.Message          `json:"message"`
	State   chatService.State     `json:"state"`
	Error   string                `json:"error,omitempty"`
	Title   string                `json:"title"`
	Quota   chatService.QuotaView `json:"quota"`
}

// handleCreateSession 创建会话
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.CreateSession(r.Context(), middleware.ClientIDFromContext(r.Context()))
	if err != nil {
		httperr.Write(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session.Summary())
}

// handleListSessions 列出当前客户端的会话
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.ListSessions(r.Context(), middleware.ClientIDFromContext(r.Context())))
}

// handleGetSession 返回会话快照
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), middleware.ClientIDFromContext(r.Context()), chi.URLParam(r, "chatID"))
	if err != nil {
		httperr.Write(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, session.Snapshot())
}

// handleDeleteSession 删除会话
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), middleware.ClientIDFromContext(r.Context()), chi.URLParam(r, "chatID")); err != nil {
		httperr.Write(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage 提交消息并等待完整回复
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	clientID := middleware.ClientIDFromContext(ctx)
	chatID := chi.URLParam(r, "chatID")

	reply, err := h.chatSvc.Submit(ctx, clientID, chatID, payload.Content)
	if err != nil {
		httperr.Write(w, err)
		return
	}

	outcome, err := reply.Wait(ctx)
	if err != nil {
		// Client went away; the reply resolves on its own through the cancelled context.
		return
	}

	session, err := h.chatSvc.GetSession(ctx, clientID, chatID)
	if err != nil {
		httperr.Write(w, err)
		return
	}

	resp := sendMessageResponse{
		Message: outcome.Message,
		State:   outcome.State,
		Title:   session.Title(),
		Quota:   session.Snapshot().Quota,
	}
	if outcome.Err != nil {
		resp.Error = chatService.ErrGenerationFailed.Error()
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}
