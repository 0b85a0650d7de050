package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/booking-escrow/internal/config"
	"github.com/hackgods/booking-escrow/internal/escrow"
	"github.com/hackgods/booking-escrow/internal/metrics"
	redisclient "github.com/hackgods/booking-escrow/internal/redis"
)

const (
	EventAppointmentRequested = "APPOINTMENT_REQUESTED"
	EventAppointmentAccepted  = "APPOINTMENT_ACCEPTED"
	EventAppointmentScheduled = "APPOINTMENT_SCHEDULED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentRejected  = "APPOINTMENT_REJECTED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventPaymentFailed        = "PAYMENT_FAILED"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidSlotState  = errors.New("slot is not in the required state")
	ErrInvalidDecision   = errors.New("decision must be ACCEPT or REJECT")
)

// Decision is a doctor's answer to a booking request.
type Decision string

const (
	DecisionAccept Decision = "ACCEPT"
	DecisionReject Decision = "REJECT"
)

// EscrowLedger is the slice of the escrow service the state machine
// drives. Escrow state is owned over there; the state machine only
// instructs.
type EscrowLedger interface {
	Initiate(ctx context.Context, appointmentID, patientID, doctorID uuid.UUID, consultationFee int64) (*escrow.Transaction, error)
	ConfirmHold(ctx context.Context, txnID uuid.UUID) (*escrow.Transaction, error)
	Refund(ctx context.Context, txnID uuid.UUID) (*escrow.Transaction, error)
	MarkCompleted(ctx context.Context, txnID uuid.UUID, completedAt time.Time) (*escrow.Transaction, error)
}

// Service is the appointment state machine and the slot ledger's only
// driver. All status changes, interactive or scheduled, funnel through
// transition() so the lifecycle table and its cascades live in exactly
// one place.
type Service struct {
	repo    Repository
	locker  redisclient.Locker
	escrow  EscrowLedger
	cfg     config.Config
	log     *zap.SugaredLogger
	metrics *metrics.EngineMetrics
	now     func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, ledger EscrowLedger, cfg config.Config, log *zap.SugaredLogger, m *metrics.EngineMetrics) *Service {
	return &Service{
		repo:    repo,
		locker:  locker,
		escrow:  ledger,
		cfg:     cfg,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

type CreateParams struct {
	PatientID           uuid.UUID
	DoctorID            uuid.UUID
	Slot                SlotIdentity
	ConsultationFee     int64
	IsEmergency         bool
	HasSubscription     bool
	EmergencyMultiplier float64
}

type CreateResult struct {
	Appointment *Appointment
	Escrow      *escrow.Transaction
	Quote       FeeQuote
}

// CreateAppointment reserves the slot, opens a REQUESTED appointment and
// initiates escrow for the quoted amount. The reservation itself is a
// compare-and-swap on the slot row; the distributed lock around the
// critical section keeps the slot-check/create/initiate sequence from
// interleaving with another booking for the same slot.
func (s *Service) CreateAppointment(ctx context.Context, p CreateParams) (*CreateResult, error) {
	if _, err := s.repo.GetPatientByID(ctx, p.PatientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.repo.GetDoctorByID(ctx, p.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	quote, err := ComputeFee(FeeInput{
		ConsultationFee:     p.ConsultationFee,
		IsEmergency:         p.IsEmergency,
		HasSubscription:     p.HasSubscription,
		EmergencyMultiplier: p.EmergencyMultiplier,
		PlatformFeeBps:      s.cfg.PlatformFeeBps,
		SubscriptionBps:     s.cfg.SubscriptionBps,
	})
	if err != nil {
		s.metrics.ObserveBooking("invalid_amount")
		return nil, err
	}

	var result *CreateResult

	err = s.locker.WithSlotLock(ctx, p.Slot.LockKey(), func(lockCtx context.Context) error {
		slot, err := s.repo.ReserveSlot(lockCtx, p.Slot)
		if err != nil {
			return err
		}

		appt := &Appointment{
			ID:          uuid.New(),
			PatientID:   p.PatientID,
			DoctorID:    p.DoctorID,
			SlotID:      slot.ID,
			Status:      StatusRequested,
			IsEmergency: p.IsEmergency,
		}
		if err := s.repo.CreateAppointment(lockCtx, appt); err != nil {
			// The hold would leak without this.
			_ = s.repo.ReleaseSlot(lockCtx, slot.ID)
			return fmt.Errorf("create appointment: %w", err)
		}

		txn, err := s.escrow.Initiate(lockCtx, appt.ID, p.PatientID, p.DoctorID, quote.ConsultationFee)
		if err != nil {
			_, cancelErr := s.repo.UpdateAppointmentStatus(lockCtx, appt.ID, StatusRequested, StatusCancelled)
			if cancelErr != nil {
				s.log.Errorw("failed to cancel appointment after escrow failure",
					"appointment_id", appt.ID, "error", cancelErr)
			}
			_ = s.repo.ReleaseSlot(lockCtx, slot.ID)
			return fmt.Errorf("initiate escrow: %w", err)
		}

		if err := s.repo.SetEscrowTxn(lockCtx, appt.ID, txn.ID); err != nil {
			s.log.Errorw("failed to link escrow txn", "appointment_id", appt.ID, "error", err)
		}
		appt.EscrowTxnID = &txn.ID

		s.logEvent(lockCtx, appt.ID, EventAppointmentRequested, map[string]any{
			"slot_id":       slot.ID.String(),
			"patient_id":    p.PatientID.String(),
			"escrow_txn_id": txn.ID.String(),
			"total_amount":  txn.Amount,
		})

		result = &CreateResult{Appointment: appt, Escrow: txn, Quote: quote}
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			// Someone else is booking this slot right now; to the
			// caller that is the same contention loss.
			s.metrics.ObserveBooking("slot_unavailable")
			return nil, ErrSlotUnavailable
		}
		if errors.Is(err, ErrSlotUnavailable) {
			s.metrics.ObserveBooking("slot_unavailable")
			return nil, err
		}
		if errors.Is(err, escrow.ErrInvalidAmount) || errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		s.metrics.ObserveBooking("error")
		return nil, err
	}

	s.metrics.ObserveBooking("created")
	return result, nil
}

// Respond applies a doctor's decision to a REQUESTED appointment.
func (s *Service) Respond(ctx context.Context, appointmentID uuid.UUID, decision Decision) (*Appointment, error) {
	switch decision {
	case DecisionAccept:
		return s.transition(ctx, appointmentID, StatusAccepted)
	case DecisionReject:
		return s.transition(ctx, appointmentID, StatusRejected)
	default:
		return nil, ErrInvalidDecision
	}
}

// Schedule moves an accepted appointment onto the calendar; the slot
// hold becomes a booking.
func (s *Service) Schedule(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, appointmentID, StatusScheduled)
}

// Complete marks the consultation done and starts the escrow release
// hold window.
func (s *Service) Complete(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, appointmentID, StatusCompleted)
}

// Cancel is the patient- or doctor-initiated cancellation. It fails
// cleanly when the appointment is already terminal.
func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, appointmentID, StatusCancelled)
}

// HandlePaymentResult applies the gateway's capture verdict. A capture
// confirms the escrow hold; a failure cancels the appointment, which
// releases the slot. The escrow transaction of a failed capture stays
// INITIATED: no funds were taken, so there is nothing to refund.
func (s *Service) HandlePaymentResult(ctx context.Context, appointmentID uuid.UUID, captured bool) error {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return err
	}

	if captured {
		if appt.EscrowTxnID == nil {
			return fmt.Errorf("appointment %s has no escrow transaction", appointmentID)
		}
		if _, err := s.escrow.ConfirmHold(ctx, *appt.EscrowTxnID); err != nil {
			return err
		}

		// The capture can race a cancel or auto-expiry: the cancel
		// cascade saw INITIATED and skipped the refund, so the hold we
		// just confirmed belongs to a dead booking and nothing would
		// ever touch it again. Reload after the confirm so either
		// ordering lands here, and route the money where the terminal
		// status says it belongs.
		reloaded, err := s.repo.GetAppointmentByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		switch reloaded.Status {
		case StatusCancelled, StatusRejected:
			s.log.Warnw("capture arrived for a dead appointment, refunding",
				"appointment_id", appointmentID, "status", reloaded.Status, "txn_id", appt.EscrowTxnID)
			if _, err := s.escrow.Refund(ctx, *appt.EscrowTxnID); err != nil {
				return fmt.Errorf("refund late capture: %w", err)
			}
		case StatusCompleted:
			if _, err := s.escrow.MarkCompleted(ctx, *appt.EscrowTxnID, s.now()); err != nil {
				return fmt.Errorf("schedule release for late capture: %w", err)
			}
		}
		return nil
	}

	s.logEvent(ctx, appt.ID, EventPaymentFailed, map[string]any{})
	if _, err := s.Cancel(ctx, appointmentID); err != nil {
		return err
	}
	return nil
}

// Get returns an appointment by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// GetSlot returns the slot an appointment holds.
func (s *Service) GetSlot(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	return s.repo.GetSlotByID(ctx, slotID)
}

// ListByPatient returns a patient's appointments, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

// transition is the single write path for appointment status. It
// validates against the lifecycle table, CASes the row, then runs the
// cascades the new status demands. A concurrent writer who CASes first
// wins; the loser reloads and reports the transition as invalid.
func (s *Service) transition(ctx context.Context, appointmentID uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	from := appt.Status
	if !CanTransition(from, to) {
		s.metrics.ObserveTransition(string(from), string(to), "invalid")
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appointmentID, from, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost the CAS: someone moved the appointment first.
			reloaded, getErr := s.repo.GetAppointmentByID(ctx, appointmentID)
			if getErr != nil {
				return nil, getErr
			}
			s.metrics.ObserveTransition(string(reloaded.Status), string(to), "invalid")
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, reloaded.Status, to)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	if err := s.cascade(ctx, updated, from); err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(from), string(to), "ok")
	s.logEvent(ctx, updated.ID, eventForStatus(to), map[string]any{"from": string(from)})
	return updated, nil
}

// cascade runs the slot and escrow side effects of a transition that
// has already been committed.
func (s *Service) cascade(ctx context.Context, appt *Appointment, from AppointmentStatus) error {
	switch appt.Status {
	case StatusAccepted:
		// Slot stays held, escrow stays held.
		return nil

	case StatusScheduled:
		if _, err := s.repo.ConfirmSlot(ctx, appt.SlotID); err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				return fmt.Errorf("%w: confirm slot %s", ErrInvalidSlotState, appt.SlotID)
			}
			return fmt.Errorf("confirm slot: %w", err)
		}
		return nil

	case StatusCompleted:
		if appt.EscrowTxnID == nil {
			s.log.Warnw("completed appointment has no escrow transaction", "appointment_id", appt.ID)
			return nil
		}
		if _, err := s.escrow.MarkCompleted(ctx, *appt.EscrowTxnID, s.now()); err != nil {
			if errors.Is(err, escrow.ErrInvalidEscrowState) {
				// Disputed or never captured; resolution owns the money now.
				s.log.Infow("skipping release scheduling", "txn_id", appt.EscrowTxnID, "error", err)
				return nil
			}
			return fmt.Errorf("schedule escrow release: %w", err)
		}
		return nil

	case StatusRejected, StatusCancelled:
		if err := s.repo.ReleaseSlot(ctx, appt.SlotID); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
		if appt.EscrowTxnID == nil {
			return nil
		}
		if _, err := s.escrow.Refund(ctx, *appt.EscrowTxnID); err != nil {
			if errors.Is(err, escrow.ErrInvalidEscrowState) {
				// INITIATED: the gateway never captured anything.
				return nil
			}
			if errors.Is(err, escrow.ErrAlreadyReleased) {
				s.log.Errorw("cancel raced a release; funds already paid out",
					"appointment_id", appt.ID, "txn_id", appt.EscrowTxnID)
				return nil
			}
			return fmt.Errorf("refund escrow: %w", err)
		}
		return nil
	}

	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Errorw("failed to marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Errorw("failed to insert event log",
			"event_type", eventType, "appointment_id", appointmentID, "error", err)
	}
}

func eventForStatus(to AppointmentStatus) string {
	switch to {
	case StatusAccepted:
		return EventAppointmentAccepted
	case StatusScheduled:
		return EventAppointmentScheduled
	case StatusCompleted:
		return EventAppointmentCompleted
	case StatusRejected:
		return EventAppointmentRejected
	case StatusCancelled:
		return EventAppointmentCancelled
	default:
		return "APPOINTMENT_" + string(to)
	}
}
