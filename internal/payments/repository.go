package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the repository needs. pgxmock satisfies
// it in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	db DB
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &Repository{db: pool}
}

func NewRepositoryWithDB(db DB) *Repository {
	if db == nil {
		panic("payments: db required")
	}
	return &Repository{db: db}
}

const paymentColumns = `
	id, consultation_id, user_id, provider, amount_tiyin, currency, status,
	provider_transaction_id, refund_transaction_id, created_at, updated_at,
	paid_at, refunded_at
`

// Create inserts a pending payment. A partial unique index on
// consultation_id over active statuses makes a second concurrent invoice
// fail with a unique violation, reported as ErrActivePaymentExists.
func (r *Repository) Create(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (id, consultation_id, user_id, provider, amount_tiyin, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		RETURNING created_at, updated_at
	`
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = StatusPending
	err := r.db.QueryRow(ctx, query, p.ID, p.ConsultationID, p.UserID, p.Provider, p.AmountTiyin, p.Currency).
		Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActivePaymentExists
		}
		return fmt.Errorf("payments: create: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// GetByProviderTxn looks a payment up by the provider's transaction id.
func (r *Repository) GetByProviderTxn(ctx context.Context, provider Provider, txnID string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE provider = $1 AND provider_transaction_id = $2`
	return r.scanOne(r.db.QueryRow(ctx, query, provider, txnID))
}

// LatestForConsultation returns the most recent payment for a consultation.
func (r *Repository) LatestForConsultation(ctx context.Context, consultationID uuid.UUID) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE consultation_id = $1 ORDER BY created_at DESC LIMIT 1`
	return r.scanOne(r.db.QueryRow(ctx, query, consultationID))
}

// MarkProcessing moves a pending payment to processing and records the
// provider transaction id. Redelivered creates and already-performed
// payments find zero rows.
func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID, providerTxnID string) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'processing', provider_transaction_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	ct, err := r.db.Exec(ctx, query, id, providerTxnID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, fmt.Errorf("payments: mark processing %s: duplicate provider txn %s: %w", id, providerTxnID, ErrAlreadyFinal)
		}
		return false, fmt.Errorf("payments: mark processing %s: %w", id, err)
	}
	return ct.RowsAffected() > 0, nil
}

// Complete transitions a payment to completed and records the provider
// transaction id. The WHERE clause only matches active payments, so a
// duplicate callback finds zero rows: the first return value reports
// whether this call performed the transition.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, providerTxnID string) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'completed', provider_transaction_id = $2, paid_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	ct, err := r.db.Exec(ctx, query, id, providerTxnID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// provider_transaction_id already recorded on another payment
			return false, fmt.Errorf("payments: complete %s: duplicate provider txn %s: %w", id, providerTxnID, ErrAlreadyFinal)
		}
		return false, fmt.Errorf("payments: complete %s: %w", id, err)
	}
	return ct.RowsAffected() > 0, nil
}

// Fail marks an active payment failed. Completed payments are left alone.
func (r *Repository) Fail(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("payments: fail %s: %w", id, err)
	}
	return ct.RowsAffected() > 0, nil
}

// Cancel marks an active payment cancelled by provider callback.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("payments: cancel %s: %w", id, err)
	}
	return ct.RowsAffected() > 0, nil
}

// ClaimRefund moves a completed payment to refunding. Exactly one of
// several concurrent claimants wins; the rest see false.
func (r *Repository) ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'refunding', updated_at = NOW()
		WHERE id = $1 AND status = 'completed'
	`
	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("payments: claim refund %s: %w", id, err)
	}
	return ct.RowsAffected() > 0, nil
}

// ReleaseRefundClaim puts a payment back to completed after a failed
// provider refund call, so the refund can be retried.
func (r *Repository) ReleaseRefundClaim(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE payments
		SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'refunding'
	`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("payments: release refund claim %s: %w", id, err)
	}
	return nil
}

// MarkRefunded records the provider's refund transaction against a claimed
// refund.
func (r *Repository) MarkRefunded(ctx context.Context, id uuid.UUID, refundTxnID string) (bool, error) {
	query := `
		UPDATE payments
		SET status = 'refunded', refund_transaction_id = $2, refunded_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'refunding' AND refund_transaction_id IS NULL
	`
	ct, err := r.db.Exec(ctx, query, id, refundTxnID)
	if err != nil {
		return false, fmt.Errorf("payments: mark refunded %s: %w", id, err)
	}
	return ct.RowsAffected() > 0, nil
}

// StalePending returns active payments created before the cutoff.
func (r *Repository) StalePending(ctx context.Context, olderThan time.Time, limit int) ([]*Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status IN ('pending', 'processing') AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("payments: stale pending: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payments: stale pending rows: %w", err)
	}
	return out, nil
}

func (r *Repository) scanOne(row pgx.Row) (*Payment, error) {
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var providerTxn, refundTxn pgtype.Text
	var paidAt, refundedAt pgtype.Timestamptz
	err := row.Scan(
		&p.ID, &p.ConsultationID, &p.UserID, &p.Provider, &p.AmountTiyin, &p.Currency, &p.Status,
		&providerTxn, &refundTxn, &p.CreatedAt, &p.UpdatedAt, &paidAt, &refundedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("payments: scan: %w", err)
	}
	p.ProviderTransactionID = providerTxn.String
	p.RefundTransactionID = refundTxn.String
	if paidAt.Valid {
		t := paidAt.Time
		p.PaidAt = &t
	}
	if refundedAt.Valid {
		t := refundedAt.Time
		p.RefundedAt = &t
	}
	return &p, nil
}
