package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/booking-escrow/internal/booking"
)

// PaymentWebhookHandler consumes capture callbacks from the payment
// gateway. The signature is verified against the raw body before
// anything else happens; an invalid signature mutates no state and is
// logged as a security event.
type PaymentWebhookHandler struct {
	secret string
	svc    *booking.Service
	log    *zap.SugaredLogger
}

func NewPaymentWebhookHandler(secret string, svc *booking.Service, log *zap.SugaredLogger) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{secret: strings.TrimSpace(secret), svc: svc, log: log}
}

func (h *PaymentWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		h.log.Error("payment webhook secret not configured")
		writeError(w, http.StatusInternalServerError, "webhook_not_configured", "webhook secret not configured")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
		return
	}

	sigHeader := r.Header.Get("X-Payment-Signature")
	if !verifySignature(h.secret, payload, sigHeader) {
		h.log.Warnw("invalid payment webhook signature",
			"remote_addr", r.RemoteAddr, "request_id", GetRequestID(r.Context()))
		writeError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
		return
	}

	var evt PaymentWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", "could not parse JSON")
		return
	}

	appointmentID, err := uuid.Parse(evt.AppointmentID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
		return
	}

	var captured bool
	switch evt.EventType {
	case "payment.captured":
		captured = true
	case "payment.failed":
		captured = false
	default:
		// Unknown event types are acknowledged so the gateway stops retrying.
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.svc.HandlePaymentResult(r.Context(), appointmentID, captured); err != nil {
		handleAppointmentError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

// verifySignature checks an HMAC-SHA256 hex signature of the body,
// compared in constant time.
func verifySignature(secret string, payload []byte, header string) bool {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(header) == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}

	return hmac.Equal(expected, got)
}
