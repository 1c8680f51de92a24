// Package ws serves a conversation over a WebSocket connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/fireworks-chat/backend/internal/handler/httperr"
	"github.com/zhouzirui/fireworks-chat/backend/internal/middleware"
	chatservice "github.com/zhouzirui/fireworks-chat/backend/internal/service/chat"
)

const (
	defaultReadTimeout = 60 * time.Second
	pingInterval       = 54 * time.Second
	writeTimeout       = 10 * time.Second
)

// Handler WebSocket聊天处理器
type Handler struct {
	chatSvc     *chatservice.Service
	upgrader    websocket.Upgrader
	readTimeout time.Duration
}

// New 创建WebSocket处理器. Browsers are accepted from allowedOrigins only;
// requests without an Origin header (CLI tools, tests) are always accepted.
func New(chatSvc *chatservice.Service, allowedOrigins []string) *Handler {
	return &Handler{
		chatSvc:     chatSvc,
		readTimeout: defaultReadTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats/{chatID}/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	StreamMode *bool `json:"streamMode,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type connectionState struct {
	clientID   string
	sessionID  string
	streamMode bool
}

func newConnectionState(clientID, sessionID string) *connectionState {
	return &connectionState{
		clientID:   clientID,
		sessionID:  sessionID,
		streamMode: true,
	}
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "chatID")

	session, err := h.chatSvc.GetSession(r.Context(), clientID, sessionID)
	if err != nil {
		httperr.Write(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[ws] new connection for session=%s", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
		return nil
	})

	go h.pingLoop(ctx, conn)

	state := newConnectionState(clientID, sessionID)
	h.sendInfo(conn, sessionID, map[string]any{
		"type":       "connected",
		"title":      session.Title(),
		"quota":      session.Snapshot().Quota,
		"streamMode": state.streamMode,
	})

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] read error: %v", err)
			}
			return
		}

		h.handleMessage(ctx, conn, state, &msg)
		// Replies stream inside the read loop, so the deadline restarts once they finish.
		conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		h.handleTextMessage(ctx, conn, state, msg.Data)
	case "config":
		h.handleConfigMessage(conn, state, msg.Data)
	default:
		h.sendError(conn, map[string]any{"message": "unsupported message type: " + msg.Type})
	}
}

func (h *Handler) handleTextMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	var text TextMessage
	if err := json.Unmarshal(raw, &text); err != nil {
		h.sendError(conn, map[string]any{"message": "invalid text payload"})
		return
	}

	reply, err := h.chatSvc.Submit(ctx, state.clientID, state.sessionID, text.Text)
	if errors.Is(err, chatservice.ErrEmptyInput) {
		return
	}
	if err != nil {
		h.sendError(conn, httperr.BodyFor(err))
		return
	}

	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":      "user",
		"text":      h.storedText(ctx, state, reply.ID()),
		"messageId": reply.ID(),
	})

	for {
		chunk, recvErr := reply.Recv(ctx)
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return
		}
		if state.streamMode {
			h.sendInfo(conn, state.sessionID, map[string]any{
				"type": "ai_delta",
				"text": chunk,
			})
		}
	}

	outcome, err := reply.Wait(ctx)
	if err != nil {
		return
	}

	final := map[string]any{
		"type":      "ai",
		"text":      outcome.Message.Content,
		"messageId": outcome.Message.ID,
		"state":     outcome.State,
		"isFinal":   true,
	}
	if outcome.Err != nil {
		final["error"] = chatservice.ErrGenerationFailed.Error()
	}
	h.sendInfo(conn, state.sessionID, final)

	if session, err := h.chatSvc.GetSession(ctx, state.clientID, state.sessionID); err == nil {
		snap := session.Snapshot()
		h.sendInfo(conn, state.sessionID, map[string]any{
			"type":  "quota",
			"quota": snap.Quota,
			"title": snap.Title,
		})
	}
}

// storedText returns the transcript content of the user message messageID.
func (h *Handler) storedText(ctx context.Context, state *connectionState, messageID string) string {
	session, err := h.chatSvc.GetSession(ctx, state.clientID, state.sessionID)
	if err != nil {
		return ""
	}
	transcript := session.Transcript()
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].ID == messageID {
			return transcript[i].Content
		}
	}
	return ""
}

func (h *Handler) handleConfigMessage(conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	var cfg ConfigMessage
	if err := json.Unmarshal(raw, &cfg); err != nil {
		h.sendError(conn, map[string]any{"message": "invalid config payload"})
		return
	}

	applyConfig(state, cfg)
	log.Printf("[ws] config applied session=%s streamMode=%t", state.sessionID, state.streamMode)

	h.sendInfo(conn, state.sessionID, map[string]any{
		"type":       "config",
		"streamMode": state.streamMode,
	})
}

func applyConfig(state *connectionState, cfg ConfigMessage) {
	if cfg.StreamMode != nil {
		state.streamMode = *cfg.StreamMode
	}
}

func (h *Handler) sendInfo(conn *websocket.Conn, sessionID string, data map[string]any) {
	msg := outgoingMessage{
		Type:      "result",
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write info failed: %v", err)
	}
}

func (h *Handler) sendError(conn *websocket.Conn, data any) {
	msg := outgoingMessage{
		Type:      "error",
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("[ws] write error failed: %v", err)
	}
}

// pingLoop 定期发送ping消息. WriteControl may run alongside the reader's writes.
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
