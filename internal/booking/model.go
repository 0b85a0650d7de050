package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusRequested AppointmentStatus = "requested"
	StatusAccepted  AppointmentStatus = "accepted"
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusRejected  AppointmentStatus = "rejected"
	StatusCancelled AppointmentStatus = "cancelled"
)

// allowedTransitions is the whole appointment lifecycle. Anything not
// listed here is rejected, and terminal states have no exits.
var allowedTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusRequested: {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted:  {StatusScheduled, StatusCancelled},
	StatusScheduled: {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusRejected:  {},
	StatusCancelled: {},
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(s AppointmentStatus) bool {
	return len(allowedTransitions[s]) == 0
}

type SlotStatus string

const (
	SlotOpen   SlotStatus = "open"
	SlotHeld   SlotStatus = "held"
	SlotBooked SlotStatus = "booked"
)

type Patient struct {
	ID              uuid.UUID
	Name            string
	Email           *string
	HasSubscription bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Doctor struct {
	ID              uuid.UUID
	Name            string
	Specialty       *string
	ConsultationFee int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Slot is one bookable (doctor, time-range) unit of availability. Its
// identity is (DoctorID, StartTime, EndTime); at most one non-open
// claim exists per identity at any time.
type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Status    SlotStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SlotIdentity names a slot without knowing its row id.
type SlotIdentity struct {
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
}

// LockKey is the distributed-lock key for this slot identity, so all
// racing reservations contend on the same lock.
func (s SlotIdentity) LockKey() string {
	return fmt.Sprintf("%s:%d:%d", s.DoctorID, s.StartTime.Unix(), s.EndTime.Unix())
}

type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	SlotID      uuid.UUID
	Status      AppointmentStatus
	IsEmergency bool
	EscrowTxnID *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
