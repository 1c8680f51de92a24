package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/fireworks-chat/backend/internal/handler/httperr"
	"github.com/zhouzirui/fireworks-chat/backend/internal/middleware"
	"github.com/zhouzirui/fireworks-chat/backend/internal/model/identity"
	identityservice "github.com/zhouzirui/fireworks-chat/backend/internal/service/identity"
	"github.com/zhouzirui/fireworks-chat/backend/pkg/utils"
)

// Handler 账号相关的HTTP处理器
type Handler struct {
	identities *identityservice.Provider
}

// New 创建账号处理器
func New(identities *identityservice.Provider) *Handler {
	return &Handler{identities: identities}
}

// RegisterRoutes 注册登录、个人资料与套餐切换路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/signin", h.handleSignIn)
	r.Post("/auth/signout", h.handleSignOut)
	r.Get("/me", h.handleMe)
	r.Patch("/me", h.handleUpdateProfile)
	r.Post("/me/plan", h.handleChangePlan)
}

// meResponse wraps the identity so anonymous callers get {"identity": null}.
type meResponse struct {
	Identity *identity.Identity `json:"identity"`
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identities.SignIn(r.Context(), middleware.ClientIDFromContext(r.Context()), payload.Email, payload.Name)
	if err != nil {
		httperr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, meResponse{Identity: user})
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.identities.SignOut(r.Context(), middleware.ClientIDFromContext(r.Context())); err != nil {
		httperr.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.identities.Current(r.Context(), middleware.ClientIDFromContext(r.Context()))
	if err != nil {
		httperr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, meResponse{Identity: user})
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisplayName      *string `json:"displayName"`
		RegenerateAvatar bool    `json:"regenerateAvatar"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identities.UpdateProfile(r.Context(), middleware.ClientIDFromContext(r.Context()), identityservice.ProfileUpdate{
		DisplayName:      payload.DisplayName,
		RegenerateAvatar: payload.RegenerateAvatar,
	})
	if err != nil {
		httperr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, meResponse{Identity: user})
}

func (h *Handler) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PlanID string `json:"planId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.PlanID == "" {
		utils.RespondError(w, http.StatusBadRequest, "planId is required")
		return
	}

	user, err := h.identities.ChangePlan(r.Context(), middleware.ClientIDFromContext(r.Context()), payload.PlanID)
	if err != nil {
		httperr.Write(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, meResponse{Identity: user})
}
