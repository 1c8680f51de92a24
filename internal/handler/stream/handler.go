package stream

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/fireworks-chat/backend/internal/handler/httperr"
	"github.com/zhouzirui/fireworks-chat/backend/internal/middleware"
	chatService "github.com/zhouzirui/fireworks-chat/backend/internal/service/chat"
	"github.com/zhouzirui/fireworks-chat/backend/pkg/utils"
)

// Handler manages streaming AI responses via Server-Sent Events
type Handler struct {
	chatSvc *chatService.Service
}

// New creates a new stream handler
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{
		chatSvc: chatSvc,
	}
}

// RegisterRoutes mounts the SSE endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats/{chatID}/stream", h.handleStream)
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string                 `json:"event"`
	Content   string                 `json:"content,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	MessageID string                 `json:"messageId,omitempty"`
	Title     string                 `json:"title,omitempty"`
	Quota     *chatService.QuotaView `json:"quota,omitempty"`
	Finished  bool                   `json:"finished,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	clientID := middleware.ClientIDFromContext(ctx)
	sessionID := chi.URLParam(r, "chatID")

	// Rejections are plain JSON responses; SSE headers only go out for accepted submits.
	reply, err := h.chatSvc.Submit(ctx, clientID, sessionID, r.URL.Query().Get("message"))
	if errors.Is(err, chatService.ErrEmptyInput) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		httperr.Write(w, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "start",
		SessionID: sessionID,
		MessageID: reply.ID(),
	})

	for {
		chunk, recvErr := reply.Recv(ctx)
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			log.Printf("[stream] client left session=%s: %v", sessionID, recvErr)
			return
		}
		h.sendSSE(w, flusher, StreamResponse{
			Event:     "delta",
			SessionID: sessionID,
			Content:   chunk,
		})
	}

	outcome, err := reply.Wait(ctx)
	if err != nil {
		return
	}

	if outcome.Err != nil {
		h.sendSSE(w, flusher, StreamResponse{
			Event:     "error",
			SessionID: sessionID,
			Error:     chatService.ErrGenerationFailed.Error(),
		})
	}

	resp := StreamResponse{
		Event:     "message",
		SessionID: sessionID,
		MessageID: outcome.Message.ID,
		Content:   outcome.Message.Content,
	}
	if session, err := h.chatSvc.GetSession(ctx, clientID, sessionID); err == nil {
		snap := session.Snapshot()
		resp.Title = snap.Title
		resp.Quota = &snap.Quota
	}
	h.sendSSE(w, flusher, resp)

	h.sendSSE(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		Finished:  true,
	})

	log.Printf("[stream] completed response for session=%s state=%s", sessionID, outcome.State)
}

// sendSSE sends a Server-Sent Event
func (h *Handler) sendSSE(w http.ResponseWriter, flusher http.Flusher, response StreamResponse) {
	utils.SendSSEChunk(w, flusher, response)
}
