package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-escrow/internal/booking"
	"github.com/hackgods/booking-escrow/internal/escrow"
)

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (f *apiFixture) postWebhook(t *testing.T, evt PaymentWebhookEvent, signature string) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Payment-Signature", signature)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookCaptureConfirmsHold(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createBooking(t)

	evt := PaymentWebhookEvent{
		EventType:     "payment.captured",
		AppointmentID: created.AppointmentID.String(),
		ProviderRef:   "cap_123",
	}
	payload, _ := json.Marshal(evt)

	rec := f.postWebhook(t, evt, signPayload(testWebhookSecret, payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	txn, err := f.escrowSvc.Get(context.Background(), created.EscrowTxnID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusHeld, txn.Status)
}

func TestWebhookCaptureIsIdempotent(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createBooking(t)

	evt := PaymentWebhookEvent{
		EventType:     "payment.captured",
		AppointmentID: created.AppointmentID.String(),
	}
	payload, _ := json.Marshal(evt)
	sig := signPayload(testWebhookSecret, payload)

	for i := 0; i < 3; i++ {
		rec := f.postWebhook(t, evt, sig)
		require.Equal(t, http.StatusOK, rec.Code, "delivery %d", i)
	}

	txn, err := f.escrowSvc.Get(context.Background(), created.EscrowTxnID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusHeld, txn.Status)
}

func TestWebhookFailureCancelsBooking(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createBooking(t)

	evt := PaymentWebhookEvent{
		EventType:     "payment.failed",
		AppointmentID: created.AppointmentID.String(),
	}
	payload, _ := json.Marshal(evt)

	rec := f.postWebhook(t, evt, signPayload(testWebhookSecret, payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	appt, err := f.bookingSvc.Get(context.Background(), created.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, appt.Status)

	// Nothing was captured, so the transaction never moves.
	txn, err := f.escrowSvc.Get(context.Background(), created.EscrowTxnID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusInitiated, txn.Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createBooking(t)

	evt := PaymentWebhookEvent{
		EventType:     "payment.captured",
		AppointmentID: created.AppointmentID.String(),
	}

	for _, sig := range []string{
		"",
		"sha256=deadbeef",
		signPayload("wrong-secret", mustMarshal(t, evt)),
		"not-even-prefixed",
	} {
		rec := f.postWebhook(t, evt, sig)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "signature %q", sig)
	}

	// No state changed.
	txn, err := f.escrowSvc.Get(context.Background(), created.EscrowTxnID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusInitiated, txn.Status)

	appt, err := f.bookingSvc.Get(context.Background(), created.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusRequested, appt.Status)
}

func TestWebhookAcksUnknownEventType(t *testing.T) {
	f := newAPIFixture(t)
	created := f.createBooking(t)

	evt := PaymentWebhookEvent{
		EventType:     "payment.settled",
		AppointmentID: created.AppointmentID.String(),
	}
	payload, _ := json.Marshal(evt)

	rec := f.postWebhook(t, evt, signPayload(testWebhookSecret, payload))
	assert.Equal(t, http.StatusOK, rec.Code)

	txn, err := f.escrowSvc.Get(context.Background(), created.EscrowTxnID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusInitiated, txn.Status)
}

func TestWebhookRejectsInvalidAppointmentID(t *testing.T) {
	f := newAPIFixture(t)

	evt := PaymentWebhookEvent{
		EventType:     "payment.captured",
		AppointmentID: "not-a-uuid",
	}
	payload, _ := json.Marshal(evt)

	rec := f.postWebhook(t, evt, signPayload(testWebhookSecret, payload))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
