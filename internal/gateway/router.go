// ABOUTME: HTTP routing for the parley gateway using chi
// ABOUTME: Request logging and Prometheus middleware, public, authenticated and websocket routes

package gateway

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/metrics"
)

// routes builds the gateway's HTTP handler.
func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestMetrics)
	r.Use(requestLogger(g.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   g.config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.Handler())
	}

	requireAuth := auth.HTTPAuthMiddleware(g.store, g.verifier)

	r.Route("/api", func(r chi.Router) {
		r.Use(maxBodySize(g.config.Server.MaxBodyBytes))

		r.Post("/register", g.handleRegister)
		r.Post("/login", g.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/users", g.handleListUsers)
			r.Get("/users/{id}", g.handleGetUser)
			r.Post("/users/avatar", g.handleSetAvatar)

			r.Get("/conversations", g.handleListConversations)
			r.Post("/conversations", g.handleCreateConversation)
			r.Get("/conversations/{id}", g.handleGetConversation)
			r.Get("/conversations/{id}/messages", g.handleListMessages)
			r.Post("/conversations/{id}/messages", g.handleSendMessage)
			r.Patch("/conversations/{id}/read", g.handleMarkRead)
		})
	})

	r.With(requireAuth).Get("/ws", g.handleSocket)

	return r
}

// maxBodySize caps request bodies. Zero disables the cap.
func maxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// responseStatus reports the status written through ww. A hijacked websocket
// upgrade never writes through the wrapper.
func responseStatus(ww chimw.WrapResponseWriter, r *http.Request) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	if websocket.IsWebSocketUpgrade(r) {
		return http.StatusSwitchingProtocols
	}
	return http.StatusOK
}

// routePattern returns the matched chi pattern to keep metric cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// requestMetrics records Prometheus request counters and latencies.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := routePattern(r)
		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, route, strconv.Itoa(responseStatus(ww, r)),
		).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// requestLogger logs one line per completed request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := responseStatus(ww, r)
				level := slog.LevelDebug
				if status >= http.StatusInternalServerError {
					level = slog.LevelWarn
				}
				logger.Log(r.Context(), level, "request completed",
					"method", r.Method,
					"route", routePattern(r),
					"path", r.URL.Path,
					"status", status,
					"duration", time.Since(start),
					"request_id", chimw.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
