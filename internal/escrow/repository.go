package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTxnNotFound          = errors.New("escrow transaction not found")
	ErrDuplicateAppointment = errors.New("appointment already has an escrow transaction")
)

// Repository contains all DB interactions needed by the escrow service.
// Every Mark* method is a compare-and-swap: it only succeeds if the
// transaction is currently in the stated `from` status, and returns
// ErrTxnNotFound when no row matched so the caller can reload and see
// who won the race.
type Repository interface {
	CreateTransaction(ctx context.Context, txn *Transaction) error
	GetTransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetTransactionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Transaction, error)

	MarkHeld(ctx context.Context, id uuid.UUID) (*Transaction, error)
	MarkReleased(ctx context.Context, id uuid.UUID, from Status, resolution *string) (*Transaction, error)
	MarkRefunded(ctx context.Context, id uuid.UUID, from Status, resolution *string) (*Transaction, error)
	MarkDisputed(ctx context.Context, id uuid.UUID, reason string) (*Transaction, error)
	SetReleaseDue(ctx context.Context, id uuid.UUID, dueAt time.Time) (*Transaction, error)

	// Auto-release worker
	FindDueForRelease(ctx context.Context, now time.Time) ([]Transaction, error)
}
