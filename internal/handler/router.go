package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/jervis/backend/internal/handler/chat"
	"github.com/zhouzirui/jervis/backend/internal/handler/persona"
	"github.com/zhouzirui/jervis/backend/internal/handler/records"
	"github.com/zhouzirui/jervis/backend/internal/handler/widget"
	middlewarePkg "github.com/zhouzirui/jervis/backend/internal/middleware"
	personaModel "github.com/zhouzirui/jervis/backend/internal/model/persona"
	widgetService "github.com/zhouzirui/jervis/backend/internal/service/widget"
	"github.com/zhouzirui/jervis/backend/pkg/utils"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps 路由依赖的服务。Records 和 Health 可以为空。
type Deps struct {
	Personas    personaModel.Store
	Widgets     *widgetService.Manager
	Records     records.Lister
	Health      Pinger
	CORSOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.CORSOrigins))

	r.Get("/healthz", healthHandler(deps))

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Personas).RegisterRoutes(api)
		chat.New(deps.Widgets).RegisterRoutes(api)
		widget.NewWebSocketHandler(deps.Widgets).RegisterRoutes(api)

		// 只有 SQLite 存储支持回读
		if deps.Records != nil {
			records.New(deps.Records).RegisterRoutes(api)
		}
	})

	return r
}

func healthHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health.Ping(ctx); err != nil {
				slog.Error("Health check failed", "err", err)
				utils.RespondError(w, http.StatusServiceUnavailable, "store unavailable")
				return
			}
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": deps.Widgets.Len(),
		})
	}
}
