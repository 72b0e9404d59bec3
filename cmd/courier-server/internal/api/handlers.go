// Package api provides HTTP handlers for the courier server REST API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/coregx/courier/ratelimit"
	"github.com/go-chi/chi/v5"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Services bundles the engine components the API exposes.
type Services struct {
	Dispatcher  *courier.Dispatcher
	Admin       *courier.AdminService
	Broadcaster *courier.Broadcaster
	Public      *courier.PublicService
	Preferences *courier.PreferenceCenter

	// Webhook receives provider callbacks (see webhook/resend). Optional.
	Webhook http.Handler

	// Health reports storage reachability. Optional.
	Health func(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	svc    Services
	logger courier.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc Services, logger courier.Logger) *Handler {
	if logger == nil {
		logger = &courier.NoopLogger{}
	}
	return &Handler{svc: svc, logger: logger}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	MessageID string `json:"messageId,omitempty"` // Set when a failed send was recorded
}

// SuccessResponse represents a success response.
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// UnsubscribeRequest represents an unsubscribe-by-token request.
type UnsubscribeRequest struct {
	Token string `json:"token"`
}

// BulkRetryRequest represents an admin bulk retry request.
type BulkRetryRequest struct {
	IDs []string `json:"ids"`
}

// HandleDispatch handles POST /api/v1/messages
func (h *Handler) HandleDispatch(w http.ResponseWriter, r *http.Request) {
	var req courier.DispatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	res, err := h.svc.Dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		if courier.IsProviderError(err) && res.MessageID != "" {
			h.respondErrorWithMessage(w, err, res.MessageID)
			return
		}
		h.respondCourierError(w, err)
		return
	}

	switch {
	case res.Detached:
		h.respondSuccess(w, http.StatusAccepted, res, "Message accepted")
	case res.Replayed:
		h.respondSuccess(w, http.StatusOK, res, "Message already exists")
	default:
		h.respondSuccess(w, http.StatusCreated, res, "Message sent")
	}
}

// HandleListMessages handles GET /api/v1/admin/messages
func (h *Handler) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	res, err := h.svc.Admin.ListMessages(r.Context(), courier.MessageFilter{
		Query:    q.Get("q"),
		Status:   model.MessageStatus(q.Get("status")),
		Topic:    model.Topic(q.Get("topic")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		h.respondCourierError(w, err)
		return
	}

	h.respondSuccess(w, http.StatusOK, res, "")
}

// HandleGetMessage handles GET /api/v1/admin/messages/{id}
func (h *Handler) HandleGetMessage(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Admin.GetMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondCourierError(w, err)
		return
	}

	h.respondSuccess(w, http.StatusOK, res, "")
}

// HandleRetry handles POST /api/v1/admin/messages/{id}/retry
func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Admin.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondCourierError(w, err)
		return
	}

	h.respondSuccess(w, http.StatusOK, res, "")
}

// HandleBulkRetry handles POST /api/v1/admin/messages/retry
func (h *Handler) HandleBulkRetry(w http.ResponseWriter, r *http.Request) {
	var req BulkRetryRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Admin.BulkRetry(r.Context(), req.IDs)
	if err != nil {
		h.respondCourierError(w, err)
		return
	}

	h.respondSuccess(w, http.StatusOK, res, "")
}

// HandleRecipients handles GET /api/v1/admin/recipients?topic=
func (h *Handler) HandleRecipients(w http.ResponseWriter, r *http.Request) {
	recipients, err := h.svc.Admin.Recipients(r.Context(), model.Topic(r.URL.Query().Get("topic")))
	if err != nil {
		h.respondCourierError(w, err)
		return
	}

	h.respondSuccess(w, http.StatusOK, recipients, "")
}

// HandleBroadcast handles POST /api/v1/admin/broadcasts
func (h *Handler) HandleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req courier.BroadcastRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.svc.Broadcaster.Broadcast(r.Context(), req)
	if err != nil {
		h.respondCourierError(w, err)
		return
	}

	h.respondSuccess(w, http.StatusOK, res, "")
}

// HandleSubscribe handles POST /api/v1/subscriptions
func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req courier.SubscribeRequest
	if !h.decode(w, r, &req) {
		return
	}

	sub, err := h.svc.Public.Subscribe(r.Context(), clientIP(r), req)
	if err != nil {
		h.respondCourierError(w, err)
		return
	}

	// The token is only ever delivered by email.
	h.respondSuccess(w, http.StatusOK, map[string]interface{}{
		"email":  sub.Email,
		"topic":  sub.Topic,
		"status": sub.Status,
	}, "Subscribed successfully")
}

// HandleUnsubscribe handles GET and POST /api/v1/unsubscribe
//
// GET reads ?token= so the link in an email works directly. POST accepts a
// JSON body or a form field.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if r.Method == http.MethodPost && token == "" {
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var req UnsubscribeRequest
			if !h.decode(w, r, &req) {
				return
			}
			token = req.Token
		} else {
			token = r.PostFormValue("token")
		}
	}

	if err := h.svc.Public.Unsubscribe(r.Context(), clientIP(r), token); err != nil {
		h.respondCourierError(w, err)
		return
	}

	h.respondSuccess(w, http.StatusOK, nil, "You have been unsubscribed")
}

// HandleGetPreferences handles GET /api/v1/preferences
func (h *Handler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	pref, err := h.svc.Preferences.Get(r.Context())
	if err != nil {
		h.respondCourierError(w, err)
		return
	}

	h.respondSuccess(w, http.StatusOK, pref, "")
}

// HandleUpdatePreferences handles PUT /api/v1/preferences
func (h *Handler) HandleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var flags model.PreferenceFlags
	if !h.decode(w, r, &flags) {
		return
	}

	pref, err := h.svc.Preferences.Update(r.Context(), flags)
	if err != nil {
		h.respondCourierError(w, err)
		return
	}

	h.respondSuccess(w, http.StatusOK, pref, "Preferences updated")
}

// HandleHealth handles GET /api/v1/health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   Version,
	}

	if h.svc.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.svc.Health(ctx); err != nil {
			h.logger.Warnf("Health check failed: %v", err)
			h.respondError(w, http.StatusServiceUnavailable, "Storage unavailable", "UNHEALTHY")
			return
		}
	}

	h.respondSuccess(w, http.StatusOK, health, "")
}

// decode reads a JSON body into v, responding 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "INVALID_JSON")
		return false
	}
	return true
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case courier.ErrCodeValidation:
		return http.StatusBadRequest
	case courier.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case courier.ErrCodeNotFound, courier.ErrCodeNoData:
		return http.StatusNotFound
	case courier.ErrCodeConflict, courier.ErrCodeDuplicateKey:
		return http.StatusConflict
	case courier.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case courier.ErrCodeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondCourierError maps a courier error onto the error envelope.
// Internal failures are logged and reported without details.
func (h *Handler) respondCourierError(w http.ResponseWriter, err error) {
	h.respondErrorWithMessage(w, err, "")
}

func (h *Handler) respondErrorWithMessage(w http.ResponseWriter, err error, messageID string) {
	code := courier.ErrorCode(err)
	status := statusFor(code)

	message := err.Error()
	var cerr *courier.Error
	if errors.As(err, &cerr) {
		message = cerr.Message
		if cerr.Err != nil && status == http.StatusBadRequest {
			message = cerr.Message + ": " + cerr.Err.Error()
		}
	}
	if status == http.StatusInternalServerError {
		h.logger.Errorf("Request failed: %v", err)
		message = "Internal server error"
		if code == "" {
			code = "INTERNAL_ERROR"
		}
	}

	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		secs := int(math.Ceil(exceeded.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:     message,
		Code:      code,
		Message:   message,
		MessageID: messageID,
	})
}

// respondError sends an error response.
func (h *Handler) respondError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   message,
		Code:    code,
		Message: message,
	})
}

// respondSuccess sends a success response.
func (h *Handler) respondSuccess(w http.ResponseWriter, status int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(SuccessResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// clientIP identifies the caller for rate limiting: the first
// X-Forwarded-For hop, else the remote address.
func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
