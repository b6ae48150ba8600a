package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atinyakov/HabitKeeper/internal/middleware"
)

// NewRouter mounts the debug endpoints. metrics may be nil, in which case
// /metrics is not served.
func NewRouter(h *DebugHandler, metrics http.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.LoopbackOnly)
	r.Use(middleware.WithRequestLogging(logger))

	r.Get("/healthz", h.Health)
	r.Get("/session", h.Session)
	r.Get("/habits", h.Habits)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}
