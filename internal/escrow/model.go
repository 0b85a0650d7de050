package escrow

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusInitiated Status = "initiated" // created, waiting for gateway capture
	StatusHeld      Status = "held"      // funds captured and reserved
	StatusReleased  Status = "released"  // paid out to the doctor
	StatusRefunded  Status = "refunded"  // returned to the patient
	StatusDisputed  Status = "disputed"  // frozen pending manual resolution
)

// Transaction is the escrow record for exactly one appointment.
// Amount is always DoctorPayout + PlatformFee, in integer currency units.
type Transaction struct {
	ID                uuid.UUID
	AppointmentID     uuid.UUID
	PatientID         uuid.UUID
	DoctorID          uuid.UUID
	Amount            int64
	PlatformFee       int64
	DoctorPayout      int64
	Status            Status
	DisputeReason     *string
	DisputeResolution *string
	ReleaseDueAt      *time.Time
	HeldAt            *time.Time
	ReleasedAt        *time.Time
	RefundedAt        *time.Time
	DisputedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsTerminal reports whether the transaction can never change again.
func (t *Transaction) IsTerminal() bool {
	return t.Status == StatusReleased || t.Status == StatusRefunded
}
