package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uzlex/consult-platform/pkg/logging"
)

// Action names recorded in the audit trail.
const (
	ActionConsultationCreated = "consultation.created"
	ActionPaymentCreated      = "payment.created"
	ActionPaymentCompleted    = "payment.completed"
	ActionPaymentFailed       = "payment.failed"
	ActionPaymentRefunded     = "payment.refunded"
	ActionSlotScheduled       = "slot.scheduled"
	ActionSlotRescheduled     = "slot.rescheduled"
	ActionCancelled           = "consultation.cancelled"
	ActionCompleted           = "consultation.completed"
)

type Entry struct {
	ID             int64
	ConsultationID uuid.UUID
	Action         string
	Detail         map[string]any
	CreatedAt      time.Time
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Log is an append-only audit trail of booking and payment actions. Failures
// to record are logged and swallowed so they never break the user flow.
type Log struct {
	db     execer
	logger *logging.Logger
}

func NewLog(pool *pgxpool.Pool, logger *logging.Logger) *Log {
	if logger == nil {
		logger = logging.Default()
	}
	return &Log{db: pool, logger: logger}
}

func NewLogWithDB(db execer, logger *logging.Logger) *Log {
	if logger == nil {
		logger = logging.Default()
	}
	return &Log{db: db, logger: logger}
}

// Record appends an audit entry. A nil Log is a no-op.
func (l *Log) Record(ctx context.Context, consultationID uuid.UUID, action string, detail map[string]any) {
	if l == nil || l.db == nil {
		return
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		l.logger.Error("audit: marshal detail", "action", action, "error", err)
		return
	}
	query := `
		INSERT INTO audit_log (consultation_id, action, detail)
		VALUES ($1, $2, $3)
	`
	if _, err := l.db.Exec(ctx, query, consultationID, action, payload); err != nil {
		l.logger.Error("audit: record", "action", action, "consultation_id", consultationID, "error", err)
	}
}

// ForConsultation returns entries for one consultation, oldest first.
func (l *Log) ForConsultation(ctx context.Context, consultationID uuid.UUID) ([]Entry, error) {
	query := `
		SELECT id, consultation_id, action, detail, created_at
		FROM audit_log
		WHERE consultation_id = $1
		ORDER BY id
	`
	rows, err := l.db.Query(ctx, query, consultationID)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.ConsultationID, &e.Action, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("audit: decode detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	return entries, nil
}
