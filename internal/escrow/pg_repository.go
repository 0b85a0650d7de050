package escrow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgxpool.Pool the repository needs. Narrow so
// tests can drive the repository with pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool Querier
}

func NewPgRepository(pool Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

const txnColumns = `
	id, appointment_id, patient_id, doctor_id,
	amount, platform_fee, doctor_payout, status,
	dispute_reason, dispute_resolution, release_due_at,
	held_at, released_at, refunded_at, disputed_at,
	created_at, updated_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction

	err := row.Scan(
		&t.ID,
		&t.AppointmentID,
		&t.PatientID,
		&t.DoctorID,
		&t.Amount,
		&t.PlatformFee,
		&t.DoctorPayout,
		&t.Status,
		&t.DisputeReason,
		&t.DisputeResolution,
		&t.ReleaseDueAt,
		&t.HeldAt,
		&t.ReleasedAt,
		&t.RefundedAt,
		&t.DisputedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTxnNotFound
		}
		return nil, err
	}

	return &t, nil
}

func (r *PgRepository) CreateTransaction(ctx context.Context, txn *Transaction) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escrow_transactions
			(id, appointment_id, patient_id, doctor_id,
			 amount, platform_fee, doctor_payout, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`, txn.ID, txn.AppointmentID, txn.PatientID, txn.DoctorID,
		txn.Amount, txn.PlatformFee, txn.DoctorPayout, txn.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateAppointment
		}
		return err
	}
	return nil
}

func (r *PgRepository) GetTransactionByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+txnColumns+`
		FROM escrow_transactions
		WHERE id = $1
	`, id)
	return scanTransaction(row)
}

func (r *PgRepository) GetTransactionByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+txnColumns+`
		FROM escrow_transactions
		WHERE appointment_id = $1
	`, appointmentID)
	return scanTransaction(row)
}

func (r *PgRepository) MarkHeld(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE escrow_transactions
		SET status = 'held',
		    held_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status = 'initiated'
		RETURNING `+txnColumns, id)
	return scanTransaction(row)
}

func (r *PgRepository) MarkReleased(ctx context.Context, id uuid.UUID, from Status, resolution *string) (*Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE escrow_transactions
		SET status = 'released',
		    released_at = now(),
		    dispute_resolution = COALESCE($3, dispute_resolution),
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+txnColumns, id, from, resolution)
	return scanTransaction(row)
}

func (r *PgRepository) MarkRefunded(ctx context.Context, id uuid.UUID, from Status, resolution *string) (*Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE escrow_transactions
		SET status = 'refunded',
		    refunded_at = now(),
		    dispute_resolution = COALESCE($3, dispute_resolution),
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+txnColumns, id, from, resolution)
	return scanTransaction(row)
}

func (r *PgRepository) MarkDisputed(ctx context.Context, id uuid.UUID, reason string) (*Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE escrow_transactions
		SET status = 'disputed',
		    disputed_at = now(),
		    dispute_reason = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'held'
		RETURNING `+txnColumns, id, reason)
	return scanTransaction(row)
}

func (r *PgRepository) SetReleaseDue(ctx context.Context, id uuid.UUID, dueAt time.Time) (*Transaction, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE escrow_transactions
		SET release_due_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'held'
		RETURNING `+txnColumns, id, dueAt)
	return scanTransaction(row)
}

func (r *PgRepository) FindDueForRelease(ctx context.Context, now time.Time) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txnColumns+`
		FROM escrow_transactions
		WHERE status = 'held'
		  AND release_due_at IS NOT NULL
		  AND release_due_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
