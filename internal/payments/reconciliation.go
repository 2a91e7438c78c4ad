package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uzlex/consult-platform/pkg/logging"
)

// ReconciliationEntry marks a payment whose provider-side and local state
// disagree and needs a human decision.
type ReconciliationEntry struct {
	ID         int64
	PaymentID  uuid.UUID
	Reason     string
	Resolved   bool
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

type ReconciliationStore struct {
	db DB
}

func NewReconciliationStore(pool *pgxpool.Pool) *ReconciliationStore {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &ReconciliationStore{db: pool}
}

func NewReconciliationStoreWithDB(db DB) *ReconciliationStore {
	if db == nil {
		panic("payments: db required")
	}
	return &ReconciliationStore{db: db}
}

// Flag records a discrepancy. Flagging the same payment twice for the same
// reason is harmless; each call appends its own row.
func (s *ReconciliationStore) Flag(ctx context.Context, paymentID uuid.UUID, reason string) error {
	query := `
		INSERT INTO payment_reconciliations (payment_id, reason)
		VALUES ($1, $2)
	`
	if _, err := s.db.Exec(ctx, query, paymentID, reason); err != nil {
		return fmt.Errorf("payments: flag reconciliation: %w", err)
	}
	return nil
}

// Open returns unresolved entries, oldest first.
func (s *ReconciliationStore) Open(ctx context.Context, limit int) ([]ReconciliationEntry, error) {
	query := `
		SELECT id, payment_id, reason, resolved, created_at, resolved_at
		FROM payment_reconciliations
		WHERE NOT resolved
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("payments: list reconciliations: %w", err)
	}
	defer rows.Close()

	var out []ReconciliationEntry
	for rows.Next() {
		var e ReconciliationEntry
		var resolvedAt *time.Time
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.Reason, &e.Resolved, &e.CreatedAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("payments: scan reconciliation: %w", err)
		}
		e.ResolvedAt = resolvedAt
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payments: reconciliation rows: %w", err)
	}
	return out, nil
}

// Resolve closes an entry.
func (s *ReconciliationStore) Resolve(ctx context.Context, id int64) error {
	query := `
		UPDATE payment_reconciliations
		SET resolved = TRUE, resolved_at = NOW()
		WHERE id = $1 AND NOT resolved
	`
	ct, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("payments: resolve reconciliation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Sweeper periodically fails payments stuck in pending and flags them for
// reconciliation, so abandoned checkouts free the consultation's
// active-payment slot.
type Sweeper struct {
	repo     *Repository
	recon    *ReconciliationStore
	interval time.Duration
	maxAge   time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

func NewSweeper(repo *Repository, recon *ReconciliationStore, interval, maxAge time.Duration, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		repo:     repo,
		recon:    recon,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs the sweeper. Blocks until the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("starting payment sweeper",
		"interval", s.interval.String(),
		"max_age", s.maxAge.String(),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("payment sweeper shutting down")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.maxAge)
	stale, err := s.repo.StalePending(ctx, cutoff, 100)
	if err != nil {
		s.logger.Error("sweep: list stale pending", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	s.logger.Info("sweeping stale pending payments", "count", len(stale))
	for _, p := range stale {
		failed, err := s.repo.Fail(ctx, p.ID)
		if err != nil {
			s.logger.Error("sweep: fail payment", "payment_id", p.ID, "error", err)
			continue
		}
		if !failed {
			// A callback completed it between the query and the update.
			continue
		}
		if err := s.recon.Flag(ctx, p.ID, fmt.Sprintf("pending since %s, swept", p.CreatedAt.Format(time.RFC3339))); err != nil {
			s.logger.Error("sweep: flag reconciliation", "payment_id", p.ID, "error", err)
		}
	}
}
