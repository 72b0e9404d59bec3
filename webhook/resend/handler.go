package resend

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/coregx/courier"
)

const maxBodyBytes = 1 << 20

// Handler receives Resend webhooks and hands them to an Ingester.
//
// Responses follow what Svix expects: 2xx acknowledges (including duplicates
// and event types the engine does not track), 401 for bad signatures, 5xx asks
// for redelivery.
type Handler struct {
	ingester courier.Ingester
	verifier *Verifier
	logger   courier.Logger
}

// NewHandler creates a webhook handler. A nil verifier disables signature
// checks, which is only appropriate behind a trusted relay.
func NewHandler(ingester courier.Ingester, verifier *Verifier, logger courier.Logger) *Handler {
	if logger == nil {
		logger = &courier.NoopLogger{}
	}
	return &Handler{ingester: ingester, verifier: verifier, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if h.verifier != nil {
		if err := h.verifier.Verify(r.Header, body); err != nil {
			h.logger.Warnf("Rejected resend webhook %s: %v", r.Header.Get(HeaderID), err)
			writeStatus(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	event, err := Parse(body, r.Header.Get(HeaderID))
	if err != nil {
		// Acknowledge so the provider does not redeliver something we will never accept.
		h.logger.Warnf("Ignored resend webhook %s: %v", r.Header.Get(HeaderID), err)
		writeStatus(w, http.StatusOK, "ignored")
		return
	}

	res, err := h.ingester.Ingest(r.Context(), event)
	if err != nil {
		var cerr *courier.Error
		if errors.As(err, &cerr) && cerr.Code == courier.ErrCodeValidation {
			h.logger.Warnf("Ignored invalid resend event %s: %v", event.ProviderEventID, err)
			writeStatus(w, http.StatusOK, "ignored")
			return
		}
		h.logger.Errorf("Failed to ingest resend event %s: %v", event.ProviderEventID, err)
		writeStatus(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": message})
}
