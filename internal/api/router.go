package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/skydz/dropwatch/internal/websocket"
	"github.com/skydz/dropwatch/pkg/logger"
)

// NewRouter creates the HTTP router with all routes configured
func NewRouter(h *Handler, wsServer *websocket.Server, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log.Named("http")))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/slack/events", h.SlackEvents)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Post("/", h.StartSession)
			r.Get("/{requester}/{channel}", h.GetSession)
			r.Delete("/{requester}/{channel}", h.StopSession)
		})
	})

	r.Get("/ws", wsServer.HandleConnection)

	return r
}

// requestLogger logs each request with method, path, status, and duration
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Debug("Request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", ww.Status()),
				logger.Duration("duration", time.Since(start)))
		})
	}
}
