package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/fireworks-chat/backend/internal/config"
	"github.com/zhouzirui/fireworks-chat/backend/internal/handler/auth"
	"github.com/zhouzirui/fireworks-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/fireworks-chat/backend/internal/handler/plan"
	"github.com/zhouzirui/fireworks-chat/backend/internal/handler/stream"
	"github.com/zhouzirui/fireworks-chat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/fireworks-chat/backend/internal/middleware"
	planModel "github.com/zhouzirui/fireworks-chat/backend/internal/model/plan"
	chatService "github.com/zhouzirui/fireworks-chat/backend/internal/service/chat"
	identityService "github.com/zhouzirui/fireworks-chat/backend/internal/service/identity"
	"github.com/zhouzirui/fireworks-chat/backend/pkg/utils"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services groups what the HTTP layer depends on.
type Services struct {
	Plans      planModel.Store
	Identities *identityService.Provider
	Chat       *chatService.Service
	Store      Pinger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(httpCfg config.HTTPConfig, svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(httpCfg.AllowedOrigins))

	r.Get("/healthz", handleHealth(svc.Store))

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.ClientIdentity(httpCfg.SecureCookies))

		plan.New(svc.Plans).RegisterRoutes(api)
		auth.New(svc.Identities).RegisterRoutes(api)

		chat.New(svc.Chat).RegisterRoutes(api)
		stream.New(svc.Chat).RegisterRoutes(api)
		ws.New(svc.Chat, httpCfg.AllowedOrigins).RegisterRoutes(api)
	})

	return r
}

// handleHealth 检查存储是否可用
func handleHealth(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := store.Ping(ctx); err != nil {
				log.Printf("[health] store unavailable: %v", err)
				utils.RespondError(w, http.StatusServiceUnavailable, "store unavailable")
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
