package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateAppointmentRequest struct {
	PatientID           string    `json:"patient_id"`
	DoctorID            string    `json:"doctor_id"`
	SlotStart           time.Time `json:"slot_start"`
	SlotEnd             time.Time `json:"slot_end"`
	ConsultationFee     int64     `json:"consultation_fee"`
	IsEmergency         bool      `json:"is_emergency"`
	HasSubscription     bool      `json:"has_subscription"`
	EmergencyMultiplier float64   `json:"emergency_multiplier,omitempty"`
}

type CreateAppointmentResponse struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	EscrowTxnID   uuid.UUID `json:"escrow_txn_id"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	PlatformFee   int64     `json:"platform_fee"`
	DoctorPayout  int64     `json:"doctor_payout"`
}

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	SlotID      uuid.UUID  `json:"slot_id"`
	Status      string     `json:"status"`
	IsEmergency bool       `json:"is_emergency"`
	EscrowTxnID *uuid.UUID `json:"escrow_txn_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type EscrowResponse struct {
	ID                uuid.UUID  `json:"id"`
	AppointmentID     uuid.UUID  `json:"appointment_id"`
	Amount            int64      `json:"amount"`
	PlatformFee       int64      `json:"platform_fee"`
	DoctorPayout      int64      `json:"doctor_payout"`
	Status            string     `json:"status"`
	DisputeReason     *string    `json:"dispute_reason,omitempty"`
	DisputeResolution *string    `json:"dispute_resolution,omitempty"`
	ReleaseDueAt      *time.Time `json:"release_due_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type RespondRequest struct {
	Decision string `json:"decision"` // ACCEPT or REJECT
}

type DisputeRequest struct {
	Reason string `json:"reason"`
}

type ResolveDisputeRequest struct {
	Resolution string `json:"resolution"`
	Refund     bool   `json:"refund"`
}

// PaymentWebhookEvent is the signed callback body from the payment
// gateway after a capture attempt.
type PaymentWebhookEvent struct {
	EventType     string `json:"event_type"` // payment.captured or payment.failed
	AppointmentID string `json:"appointment_id"`
	ProviderRef   string `json:"provider_ref,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
