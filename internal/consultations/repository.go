package consultations

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

// DB is the pgx surface the repository needs; *pgxpool.Pool satisfies it,
// and pgxmock satisfies it in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists consultations and their status history. Every status
// change is a conditional write on the current status plus one appended
// history row, committed together.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by a pgx pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("consultations: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithDB allows injecting a mock connection for tests.
func NewRepositoryWithDB(db DB) *Repository {
	return &Repository{db: db}
}

const consultationColumns = `
	id, user_id, type, status, amount_tiyin, currency, phone_number,
	problem_description, scheduled_time, reschedule_count,
	cancellation_deadline, completion_notes, last_reminder_sent,
	created_at, updated_at`

// Create inserts a new pending consultation and appends its first history row.
func (r *Repository) Create(ctx context.Context, c *Consultation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("consultations: begin create: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO consultations (
			id, user_id, type, status, amount_tiyin, currency,
			phone_number, problem_description
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err = tx.QueryRow(ctx, query,
		c.ID, c.UserID, c.Type, c.Status, c.AmountTiyin, c.Currency,
		c.PhoneNumber, c.ProblemDescription,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("consultations: insert: %w", err)
	}

	if err := appendHistory(ctx, tx, TransitionRecord{
		ConsultationID: c.ID,
		From:           "",
		To:             c.Status,
		Actor:          "system",
		Reason:         "created",
		OccurredAt:     c.CreatedAt,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("consultations: commit create: %w", err)
	}
	return nil
}

// GetByID loads a consultation.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	query := `SELECT` + consultationColumns + ` FROM consultations WHERE id = $1`
	c, err := scanConsultation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("consultations: load by id: %w", err)
	}
	return c, nil
}

// MarkPaid applies the Pending -> Paid transition.
func (r *Repository) MarkPaid(ctx context.Context, id uuid.UUID, actor, reason string) error {
	query := `
		UPDATE consultations
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`
	return r.transition(ctx, query, []any{StatusPaid, id, StatusPending}, TransitionRecord{
		ConsultationID: id,
		From:           StatusPending,
		To:             StatusPaid,
		Actor:          actor,
		Reason:         reason,
	})
}

// SetScheduled applies Paid -> Scheduled, recording the slot and deriving
// the cancellation deadline.
func (r *Repository) SetScheduled(ctx context.Context, id uuid.UUID, slotStart, deadline time.Time, actor, reason string) error {
	query := `
		UPDATE consultations
		SET status = $1, scheduled_time = $2, cancellation_deadline = $3, updated_at = now()
		WHERE id = $4 AND status = $5
	`
	return r.transition(ctx, query,
		[]any{StatusScheduled, slotStart, deadline, id, StatusPaid},
		TransitionRecord{
			ConsultationID: id,
			From:           StatusPaid,
			To:             StatusScheduled,
			Actor:          actor,
			Reason:         reason,
		})
}

// SetRescheduled moves a scheduled consultation to a new slot and bumps the
// reschedule counter. The counter cap is re-checked here so two concurrent
// reschedules cannot both slip past the guard.
func (r *Repository) SetRescheduled(ctx context.Context, id uuid.UUID, slotStart, deadline time.Time, limit int, actor, reason string) error {
	query := `
		UPDATE consultations
		SET scheduled_time = $1, cancellation_deadline = $2,
		    reschedule_count = reschedule_count + 1, updated_at = now()
		WHERE id = $3 AND status = $4 AND reschedule_count < $5
	`
	return r.transition(ctx, query,
		[]any{slotStart, deadline, id, StatusScheduled, limit},
		TransitionRecord{
			ConsultationID: id,
			From:           StatusScheduled,
			To:             StatusScheduled,
			Actor:          actor,
			Reason:         reason,
		})
}

// Cancel applies Pending/Scheduled -> Cancelled and clears scheduling fields.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID, from Status, actor, reason string) error {
	query := `
		UPDATE consultations
		SET status = $1, scheduled_time = NULL, cancellation_deadline = NULL, updated_at = now()
		WHERE id = $2 AND status = $3
	`
	return r.transition(ctx, query, []any{StatusCancelled, id, from}, TransitionRecord{
		ConsultationID: id,
		From:           from,
		To:             StatusCancelled,
		Actor:          actor,
		Reason:         reason,
	})
}

// Complete applies Scheduled -> Completed with a completion record.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, notes, actor string) error {
	query := `
		UPDATE consultations
		SET status = $1, completion_notes = $2, updated_at = now()
		WHERE id = $3 AND status = $4
	`
	return r.transition(ctx, query, []any{StatusCompleted, notes, id, StatusScheduled}, TransitionRecord{
		ConsultationID: id,
		From:           StatusScheduled,
		To:             StatusCompleted,
		Actor:          actor,
		Reason:         "session held",
	})
}

// MarkRefunded applies Paid/Scheduled -> Refunded and clears scheduling fields.
func (r *Repository) MarkRefunded(ctx context.Context, id uuid.UUID, from Status, actor, reason string) error {
	query := `
		UPDATE consultations
		SET status = $1, scheduled_time = NULL, cancellation_deadline = NULL, updated_at = now()
		WHERE id = $2 AND status = $3
	`
	return r.transition(ctx, query, []any{StatusRefunded, id, from}, TransitionRecord{
		ConsultationID: id,
		From:           from,
		To:             StatusRefunded,
		Actor:          actor,
		Reason:         reason,
	})
}

// DueForReminder returns scheduled consultations starting within the lead
// window that have not been reminded yet.
func (r *Repository) DueForReminder(ctx context.Context, now time.Time, lead time.Duration) ([]*Consultation, error) {
	query := `SELECT` + consultationColumns + `
		FROM consultations
		WHERE status = $1
		  AND scheduled_time > $2
		  AND scheduled_time <= $3
		  AND last_reminder_sent IS NULL
		ORDER BY scheduled_time
	`
	rows, err := r.db.Query(ctx, query, StatusScheduled, now, now.Add(lead))
	if err != nil {
		return nil, fmt.Errorf("consultations: due for reminder: %w", err)
	}
	defer rows.Close()

	var out []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, fmt.Errorf("consultations: scan reminder row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkReminded records that a reminder notification went out.
func (r *Repository) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE consultations SET last_reminder_sent = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("consultations: mark reminded: %w", err)
	}
	return nil
}

// History returns the append-only transition trail, oldest first.
func (r *Repository) History(ctx context.Context, id uuid.UUID) ([]TransitionRecord, error) {
	query := `
		SELECT consultation_id, from_status, to_status, actor, reason, occurred_at
		FROM consultation_status_history
		WHERE consultation_id = $1
		ORDER BY occurred_at, id
	`
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("consultations: load history: %w", err)
	}
	defer rows.Close()

	var records []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		var from pgtype.Text
		if err := rows.Scan(&rec.ConsultationID, &from, &rec.To, &rec.Actor, &rec.Reason, &rec.OccurredAt); err != nil {
			return nil, fmt.Errorf("consultations: scan history: %w", err)
		}
		rec.From = Status(from.String)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// transition runs the conditional status update and the history append in
// one transaction. Zero affected rows means the guard status no longer
// matches, i.e. a concurrent transition won.
func (r *Repository) transition(ctx context.Context, query string, args []any, rec TransitionRecord) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("consultations: begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("consultations: transition %s -> %s: %w", rec.From, rec.To, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: status is no longer %s", ErrInvalidTransition, rec.From)
	}

	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	if err := appendHistory(ctx, tx, rec); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("consultations: commit transition: %w", err)
	}
	return nil
}

func appendHistory(ctx context.Context, tx pgx.Tx, rec TransitionRecord) error {
	query := `
		INSERT INTO consultation_status_history (consultation_id, from_status, to_status, actor, reason, occurred_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
	`
	_, err := tx.Exec(ctx, query, rec.ConsultationID, string(rec.From), rec.To, rec.Actor, rec.Reason, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("consultations: append history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConsultation(row rowScanner) (*Consultation, error) {
	var c Consultation
	var scheduled, deadline, reminded pgtype.Timestamptz
	var notes pgtype.Text
	err := row.Scan(
		&c.ID, &c.UserID, &c.Type, &c.Status, &c.AmountTiyin, &c.Currency,
		&c.PhoneNumber, &c.ProblemDescription, &scheduled, &c.RescheduleCount,
		&deadline, &notes, &reminded, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if scheduled.Valid {
		t := scheduled.Time
		c.ScheduledTime = &t
	}
	if deadline.Valid {
		t := deadline.Time
		c.CancellationDeadline = &t
	}
	if reminded.Valid {
		t := reminded.Time
		c.LastReminderSent = &t
	}
	c.CompletionNotes = notes.String
	return &c, nil
}
