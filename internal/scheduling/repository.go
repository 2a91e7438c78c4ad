package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// DB is the pgx surface the repository needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository owns the slot_reservations table. The UNIQUE constraint on
// slot_start is the mutual exclusion point: of two concurrent reservations
// for the same slot exactly one row wins.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("scheduling: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mock connection for tests.
func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

// Reserve atomically claims slotStart for the consultation. The insert and
// the conflict check are one statement; zero affected rows means another
// booking holds the slot (or this consultation already holds one).
func (r *Repository) Reserve(ctx context.Context, consultationID uuid.UUID, slotStart time.Time) error {
	query := `
		INSERT INTO slot_reservations (consultation_id, slot_start)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := r.db.Exec(ctx, query, consultationID, slotStart)
	if err != nil {
		return fmt.Errorf("scheduling: reserve slot: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrSlotTaken
	}
	return nil
}

// Move re-points an existing reservation at a new slot in a single
// conditional write. On a slot_start conflict the statement fails and the
// old reservation is untouched, which is exactly the reschedule atomicity
// the booking flow needs.
func (r *Repository) Move(ctx context.Context, consultationID uuid.UUID, newStart time.Time) error {
	query := `
		UPDATE slot_reservations
		SET slot_start = $1, reserved_at = now()
		WHERE consultation_id = $2
	`
	ct, err := r.db.Exec(ctx, query, newStart, consultationID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrSlotTaken
		}
		return fmt.Errorf("scheduling: move reservation: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("scheduling: no reservation to move for consultation %s", consultationID)
	}
	return nil
}

// Release frees whatever slot the consultation holds. Releasing an already
// released slot is a no-op.
func (r *Repository) Release(ctx context.Context, consultationID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM slot_reservations WHERE consultation_id = $1`, consultationID)
	if err != nil {
		return fmt.Errorf("scheduling: release slot: %w", err)
	}
	return nil
}

// ReservedStarts lists the slot starts held within [from, to).
func (r *Repository) ReservedStarts(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT slot_start FROM slot_reservations
		WHERE slot_start >= $1 AND slot_start < $2
	`
	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("scheduling: reserved starts: %w", err)
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var s time.Time
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scheduling: scan reservation: %w", err)
		}
		starts = append(starts, s)
	}
	return starts, rows.Err()
}
