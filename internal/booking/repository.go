package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
// ReserveSlot, ConfirmSlot and UpdateAppointmentStatus are
// compare-and-swap operations keyed on the current status: under
// contention exactly one caller's update matches, everyone else gets a
// not-found from the guarded UPDATE and must reload.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	CreateSlot(ctx context.Context, slot *Slot) error
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	GetSlot(ctx context.Context, identity SlotIdentity) (*Slot, error)

	// ReserveSlot atomically moves the identified slot open -> held.
	// Returns ErrSlotUnavailable when the slot exists but is not open.
	ReserveSlot(ctx context.Context, identity SlotIdentity) (*Slot, error)
	// ConfirmSlot moves held -> booked; not-found when the slot is not held.
	ConfirmSlot(ctx context.Context, slotID uuid.UUID) (*Slot, error)
	// ReleaseSlot moves held|booked -> open. Releasing an open slot is a no-op.
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) error

	CreateAppointment(ctx context.Context, appt *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	SetEscrowTxn(ctx context.Context, appointmentID, txnID uuid.UUID) error
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// Expiry worker
	FindStaleRequested(ctx context.Context, cutoff time.Time) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// ErrSlotUnavailable is the contention-lost error: the slot identity
// exists but someone else holds or booked it. Callers should offer
// another time.
var ErrSlotUnavailable = errors.New("slot is not open")
