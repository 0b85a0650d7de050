package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/booking-escrow/internal/metrics"
)

var (
	ErrInvalidAmount         = errors.New("escrow amount must be positive")
	ErrInvalidEscrowState    = errors.New("invalid escrow state for this operation")
	ErrAlreadyReleased       = errors.New("escrow transaction already released")
	ErrDisputedCannotRelease = errors.New("disputed escrow cannot be released without resolution")
	ErrNotDisputed           = errors.New("escrow transaction is not disputed")
	ErrReleaseNotDue         = errors.New("escrow release hold window has not elapsed")
)

// Service is the escrow ledger: it owns every transaction's state and is
// the only writer. Serializability per transaction id comes from the
// repository's compare-and-swap updates; when two callers race, exactly
// one CAS matches and the loser reloads to find out why.
type Service struct {
	repo           Repository
	platformFeeBps int
	releaseDelay   time.Duration
	log            *zap.SugaredLogger
	metrics        *metrics.EngineMetrics
	now            func() time.Time
}

func NewService(repo Repository, platformFeeBps int, releaseDelay time.Duration, log *zap.SugaredLogger, m *metrics.EngineMetrics) *Service {
	return &Service{
		repo:           repo,
		platformFeeBps: platformFeeBps,
		releaseDelay:   releaseDelay,
		log:            log,
		metrics:        m,
		now:            time.Now,
	}
}

// Initiate creates a transaction in INITIATED for the given adjusted
// consultation fee. The platform fee is derived from the configured rate
// and the captured total is fee + platform fee, so the invariant
// amount = doctorPayout + platformFee holds by construction. Retries for
// the same appointment return the existing transaction.
func (s *Service) Initiate(ctx context.Context, appointmentID, patientID, doctorID uuid.UUID, consultationFee int64) (*Transaction, error) {
	if consultationFee <= 0 {
		s.metrics.ObserveEscrowOp("initiate", "invalid_amount")
		return nil, ErrInvalidAmount
	}

	platformFee := bpsHalfUp(consultationFee, s.platformFeeBps)

	txn := &Transaction{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		PatientID:     patientID,
		DoctorID:      doctorID,
		Amount:        consultationFee + platformFee,
		PlatformFee:   platformFee,
		DoctorPayout:  consultationFee,
		Status:        StatusInitiated,
	}

	if err := s.repo.CreateTransaction(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateAppointment) {
			existing, getErr := s.repo.GetTransactionByAppointment(ctx, appointmentID)
			if getErr != nil {
				return nil, fmt.Errorf("load existing escrow transaction: %w", getErr)
			}
			s.metrics.ObserveEscrowOp("initiate", "duplicate")
			return existing, nil
		}
		s.metrics.ObserveEscrowOp("initiate", "error")
		return nil, fmt.Errorf("create escrow transaction: %w", err)
	}

	s.metrics.ObserveEscrowOp("initiate", "ok")
	s.log.Infow("escrow initiated",
		"txn_id", txn.ID, "appointment_id", appointmentID,
		"amount", txn.Amount, "platform_fee", txn.PlatformFee)
	return txn, nil
}

// ConfirmHold moves INITIATED to HELD once the gateway confirms capture.
// A duplicate webhook delivery for an already held transaction is a
// success, not an error.
func (s *Service) ConfirmHold(ctx context.Context, txnID uuid.UUID) (*Transaction, error) {
	updated, err := s.repo.MarkHeld(ctx, txnID)
	if err == nil {
		s.metrics.ObserveEscrowOp("confirm_hold", "ok")
		return updated, nil
	}
	if !errors.Is(err, ErrTxnNotFound) {
		return nil, fmt.Errorf("confirm hold: %w", err)
	}

	txn, getErr := s.repo.GetTransactionByID(ctx, txnID)
	if getErr != nil {
		return nil, getErr
	}
	if txn.Status == StatusHeld {
		s.metrics.ObserveEscrowOp("confirm_hold", "duplicate")
		return txn, nil
	}
	s.metrics.ObserveEscrowOp("confirm_hold", "invalid_state")
	return nil, fmt.Errorf("%w: confirm hold from %s", ErrInvalidEscrowState, txn.Status)
}

// Release pays out a HELD transaction. When a release hold window is set
// (post-completion), it must have elapsed first; the window is the
// patient's last chance to dispute.
func (s *Service) Release(ctx context.Context, txnID uuid.UUID) (*Transaction, error) {
	txn, err := s.repo.GetTransactionByID(ctx, txnID)
	if err != nil {
		return nil, err
	}

	switch txn.Status {
	case StatusHeld:
		// fall through to the CAS below
	case StatusReleased:
		s.metrics.ObserveEscrowOp("release", "already_released")
		return nil, ErrAlreadyReleased
	case StatusDisputed:
		s.metrics.ObserveEscrowOp("release", "disputed")
		return nil, ErrDisputedCannotRelease
	default:
		s.metrics.ObserveEscrowOp("release", "invalid_state")
		return nil, fmt.Errorf("%w: release from %s", ErrInvalidEscrowState, txn.Status)
	}

	if txn.ReleaseDueAt != nil && s.now().Before(*txn.ReleaseDueAt) {
		s.metrics.ObserveEscrowOp("release", "not_due")
		return nil, ErrReleaseNotDue
	}

	updated, err := s.repo.MarkReleased(ctx, txnID, StatusHeld, nil)
	if err != nil {
		if errors.Is(err, ErrTxnNotFound) {
			// Lost a race; reload to report what actually happened.
			return nil, s.raceLossError(ctx, txnID, "release")
		}
		return nil, fmt.Errorf("release escrow: %w", err)
	}

	s.metrics.ObserveEscrowOp("release", "ok")
	s.log.Infow("escrow released", "txn_id", txnID, "doctor_payout", updated.DoctorPayout)
	return updated, nil
}

// Refund returns held or disputed funds to the patient. Refunding an
// already refunded transaction is a no-op.
func (s *Service) Refund(ctx context.Context, txnID uuid.UUID) (*Transaction, error) {
	txn, err := s.repo.GetTransactionByID(ctx, txnID)
	if err != nil {
		return nil, err
	}

	switch txn.Status {
	case StatusHeld, StatusDisputed:
		// fall through
	case StatusRefunded:
		s.metrics.ObserveEscrowOp("refund", "duplicate")
		return txn, nil
	case StatusReleased:
		s.metrics.ObserveEscrowOp("refund", "already_released")
		return nil, ErrAlreadyReleased
	default:
		s.metrics.ObserveEscrowOp("refund", "invalid_state")
		return nil, fmt.Errorf("%w: refund from %s", ErrInvalidEscrowState, txn.Status)
	}

	updated, err := s.repo.MarkRefunded(ctx, txnID, txn.Status, nil)
	if err != nil {
		if errors.Is(err, ErrTxnNotFound) {
			// Lost a race. A concurrent refund still satisfies the caller.
			reloaded, getErr := s.repo.GetTransactionByID(ctx, txnID)
			if getErr != nil {
				return nil, getErr
			}
			if reloaded.Status == StatusRefunded {
				s.metrics.ObserveEscrowOp("refund", "duplicate")
				return reloaded, nil
			}
			return nil, s.raceLossError(ctx, txnID, "refund")
		}
		return nil, fmt.Errorf("refund escrow: %w", err)
	}

	s.metrics.ObserveEscrowOp("refund", "ok")
	s.log.Infow("escrow refunded", "txn_id", txnID, "amount", updated.Amount)
	return updated, nil
}

// Dispute freezes a HELD transaction. Only held funds can be disputed.
func (s *Service) Dispute(ctx context.Context, txnID uuid.UUID, reason string) (*Transaction, error) {
	updated, err := s.repo.MarkDisputed(ctx, txnID, reason)
	if err == nil {
		s.metrics.ObserveEscrowOp("dispute", "ok")
		s.log.Infow("escrow disputed", "txn_id", txnID, "reason", reason)
		return updated, nil
	}
	if !errors.Is(err, ErrTxnNotFound) {
		return nil, fmt.Errorf("dispute escrow: %w", err)
	}

	txn, getErr := s.repo.GetTransactionByID(ctx, txnID)
	if getErr != nil {
		return nil, getErr
	}
	if txn.Status == StatusDisputed {
		s.metrics.ObserveEscrowOp("dispute", "duplicate")
		return txn, nil
	}
	s.metrics.ObserveEscrowOp("dispute", "invalid_state")
	return nil, fmt.Errorf("%w: dispute from %s", ErrInvalidEscrowState, txn.Status)
}

// Resolve arbitrates a DISPUTED transaction: refund back to the patient
// or release to the doctor, recording the operator's resolution text.
func (s *Service) Resolve(ctx context.Context, txnID uuid.UUID, resolution string, refund bool) (*Transaction, error) {
	txn, err := s.repo.GetTransactionByID(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if txn.Status != StatusDisputed {
		s.metrics.ObserveEscrowOp("resolve", "not_disputed")
		return nil, ErrNotDisputed
	}

	var updated *Transaction
	if refund {
		updated, err = s.repo.MarkRefunded(ctx, txnID, StatusDisputed, &resolution)
	} else {
		updated, err = s.repo.MarkReleased(ctx, txnID, StatusDisputed, &resolution)
	}
	if err != nil {
		if errors.Is(err, ErrTxnNotFound) {
			return nil, ErrNotDisputed
		}
		return nil, fmt.Errorf("resolve dispute: %w", err)
	}

	s.metrics.ObserveEscrowOp("resolve", "ok")
	s.log.Infow("dispute resolved", "txn_id", txnID, "refund", refund, "resolution", resolution)
	return updated, nil
}

// MarkCompleted stamps the release hold window on the appointment's
// transaction after the consultation completes. A disputed transaction
// is left alone; the resolution decides where the money goes.
func (s *Service) MarkCompleted(ctx context.Context, txnID uuid.UUID, completedAt time.Time) (*Transaction, error) {
	updated, err := s.repo.SetReleaseDue(ctx, txnID, completedAt.Add(s.releaseDelay))
	if err != nil {
		if errors.Is(err, ErrTxnNotFound) {
			txn, getErr := s.repo.GetTransactionByID(ctx, txnID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("%w: schedule release from %s", ErrInvalidEscrowState, txn.Status)
		}
		return nil, fmt.Errorf("schedule escrow release: %w", err)
	}
	s.log.Infow("escrow release scheduled", "txn_id", txnID, "due_at", updated.ReleaseDueAt)
	return updated, nil
}

// ReleaseDue pays out every held transaction whose hold window has
// elapsed. Items that change state between scan and action lose the CAS
// and are skipped; the next pass picks up anything still due.
func (s *Service) ReleaseDue(ctx context.Context) (int, error) {
	due, err := s.repo.FindDueForRelease(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find due escrow transactions: %w", err)
	}

	released := 0
	for _, txn := range due {
		if _, err := s.Release(ctx, txn.ID); err != nil {
			if errors.Is(err, ErrAlreadyReleased) || errors.Is(err, ErrDisputedCannotRelease) ||
				errors.Is(err, ErrInvalidEscrowState) || errors.Is(err, ErrReleaseNotDue) {
				continue
			}
			s.log.Errorw("auto-release failed", "txn_id", txn.ID, "error", err)
			continue
		}
		released++
	}

	s.metrics.AddAutoReleased(released)
	return released, nil
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, txnID uuid.UUID) (*Transaction, error) {
	return s.repo.GetTransactionByID(ctx, txnID)
}

// GetByAppointment returns the transaction backing an appointment.
func (s *Service) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Transaction, error) {
	return s.repo.GetTransactionByAppointment(ctx, appointmentID)
}

func (s *Service) raceLossError(ctx context.Context, txnID uuid.UUID, op string) error {
	txn, err := s.repo.GetTransactionByID(ctx, txnID)
	if err != nil {
		return err
	}
	switch txn.Status {
	case StatusReleased:
		return ErrAlreadyReleased
	case StatusDisputed:
		if op == "release" {
			return ErrDisputedCannotRelease
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrInvalidEscrowState, op, txn.Status)
}

// bpsHalfUp applies a basis-point rate with half-up rounding to the
// nearest integer currency unit.
func bpsHalfUp(amount int64, bps int) int64 {
	return (amount*int64(bps) + 5000) / 10000
}
