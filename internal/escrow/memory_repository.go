package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository with the same
// compare-and-swap semantics as the Postgres implementation. It backs
// tests and the single-node reference deployment.
type MemoryRepository struct {
	mu            sync.Mutex
	txns          map[uuid.UUID]*Transaction
	byAppointment map[uuid.UUID]uuid.UUID
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		txns:          make(map[uuid.UUID]*Transaction),
		byAppointment: make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *MemoryRepository) CreateTransaction(_ context.Context, txn *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byAppointment[txn.AppointmentID]; ok {
		return ErrDuplicateAppointment
	}

	now := time.Now()
	cp := *txn
	cp.CreatedAt = now
	cp.UpdatedAt = now

	r.txns[cp.ID] = &cp
	r.byAppointment[cp.AppointmentID] = cp.ID
	*txn = cp
	return nil
}

func (r *MemoryRepository) GetTransactionByID(_ context.Context, id uuid.UUID) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked(id)
}

func (r *MemoryRepository) GetTransactionByAppointment(_ context.Context, appointmentID uuid.UUID) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byAppointment[appointmentID]
	if !ok {
		return nil, ErrTxnNotFound
	}
	return r.copyLocked(id)
}

func (r *MemoryRepository) MarkHeld(_ context.Context, id uuid.UUID) (*Transaction, error) {
	return r.cas(id, StatusInitiated, func(t *Transaction, now time.Time) {
		t.Status = StatusHeld
		t.HeldAt = &now
	})
}

func (r *MemoryRepository) MarkReleased(_ context.Context, id uuid.UUID, from Status, resolution *string) (*Transaction, error) {
	return r.cas(id, from, func(t *Transaction, now time.Time) {
		t.Status = StatusReleased
		t.ReleasedAt = &now
		if resolution != nil {
			t.DisputeResolution = resolution
		}
	})
}

func (r *MemoryRepository) MarkRefunded(_ context.Context, id uuid.UUID, from Status, resolution *string) (*Transaction, error) {
	return r.cas(id, from, func(t *Transaction, now time.Time) {
		t.Status = StatusRefunded
		t.RefundedAt = &now
		if resolution != nil {
			t.DisputeResolution = resolution
		}
	})
}

func (r *MemoryRepository) MarkDisputed(_ context.Context, id uuid.UUID, reason string) (*Transaction, error) {
	return r.cas(id, StatusHeld, func(t *Transaction, now time.Time) {
		t.Status = StatusDisputed
		t.DisputedAt = &now
		t.DisputeReason = &reason
	})
}

func (r *MemoryRepository) SetReleaseDue(_ context.Context, id uuid.UUID, dueAt time.Time) (*Transaction, error) {
	return r.cas(id, StatusHeld, func(t *Transaction, _ time.Time) {
		due := dueAt
		t.ReleaseDueAt = &due
	})
}

func (r *MemoryRepository) FindDueForRelease(_ context.Context, now time.Time) ([]Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Transaction
	for _, t := range r.txns {
		if t.Status == StatusHeld && t.ReleaseDueAt != nil && t.ReleaseDueAt.Before(now) {
			result = append(result, *t)
		}
	}
	return result, nil
}

// cas applies mutate only if the transaction is currently in `from`,
// mirroring the UPDATE ... WHERE status = $from of the pg repository.
func (r *MemoryRepository) cas(id uuid.UUID, from Status, mutate func(*Transaction, time.Time)) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.txns[id]
	if !ok || t.Status != from {
		return nil, ErrTxnNotFound
	}

	now := time.Now()
	mutate(t, now)
	t.UpdatedAt = now

	cp := *t
	return &cp, nil
}

func (r *MemoryRepository) copyLocked(id uuid.UUID) (*Transaction, error) {
	t, ok := r.txns[id]
	if !ok {
		return nil, ErrTxnNotFound
	}
	cp := *t
	return &cp, nil
}
