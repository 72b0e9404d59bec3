package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/coregx/courier"
	"github.com/coregx/courier/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// UserIDHeader carries the signed-in user id set by the upstream gateway.
const UserIDHeader = "X-User-ID"

// AdminKeyHeader carries the admin API key.
const AdminKeyHeader = "X-Admin-API-Key"

// RouterConfig holds the optional router collaborators.
type RouterConfig struct {
	Metrics     *metrics.Prometheus // Instruments requests and serves /metrics when set
	AdminAPIKey string              // Guards /api/v1/admin when set
}

// Routes builds the HTTP router.
func (h *Handler) Routes(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(loggingMiddleware(h.logger))

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.HandleHealth)

		r.Post("/messages", h.HandleDispatch)

		r.Post("/subscriptions", h.HandleSubscribe)
		r.Get("/unsubscribe", h.HandleUnsubscribe)
		r.Post("/unsubscribe", h.HandleUnsubscribe)

		r.Group(func(r chi.Router) {
			r.Use(SessionFromHeader)
			r.Get("/preferences", h.HandleGetPreferences)
			r.Put("/preferences", h.HandleUpdatePreferences)
		})

		r.Route("/admin", func(r chi.Router) {
			if cfg.AdminAPIKey != "" {
				r.Use(h.requireAdminKey(cfg.AdminAPIKey))
			}
			r.Get("/messages", h.HandleListMessages)
			r.Post("/messages/retry", h.HandleBulkRetry)
			r.Get("/messages/{id}", h.HandleGetMessage)
			r.Post("/messages/{id}/retry", h.HandleRetry)
			r.Get("/recipients", h.HandleRecipients)
			r.Post("/broadcasts", h.HandleBroadcast)
		})
	})

	if h.svc.Webhook != nil {
		r.Method(http.MethodPost, "/webhooks/resend", h.svc.Webhook)
	}

	return r
}

// SessionFromHeader stores the X-User-ID header for courier.ContextSessionProvider.
// The header must be set by a trusted gateway that strips client copies.
func SessionFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(UserIDHeader); id != "" {
			r = r.WithContext(courier.ContextWithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requireAdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				h.respondError(w, http.StatusUnauthorized, "Invalid admin API key", courier.ErrCodeUnauthenticated)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(logger courier.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Infof("%s %s %d %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
		})
	}
}
