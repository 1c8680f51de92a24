package plan

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/fireworks-chat/backend/internal/model/plan"
	"github.com/zhouzirui/fireworks-chat/backend/pkg/utils"
)

// Handler 套餐目录的HTTP处理器
type Handler struct {
	plans plan.Store
}

// New 创建套餐处理器
func New(plans plan.Store) *Handler {
	return &Handler{
		plans: plans,
	}
}

// RegisterRoutes 注册套餐相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.handleListPlans)
}

// handleListPlans 列出所有套餐
func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.plans.List())
}
