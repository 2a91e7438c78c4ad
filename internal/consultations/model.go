package consultations

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a consultation does not exist.
	ErrNotFound = errors.New("consultations: not found")
	// ErrInvalidTransition is returned for any status change outside the guard table.
	ErrInvalidTransition = errors.New("consultations: invalid transition")
)

// Status is the consultation lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Terminal reports whether no further transition is defined from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Type distinguishes how the consultation is held.
type Type string

const (
	TypeOnline Type = "online"
	TypeOffice Type = "office"
)

// Event names a requested lifecycle transition.
type Event string

const (
	EventPaymentConfirmed Event = "payment_confirmed"
	EventSlotReserved     Event = "slot_reserved"
	EventReschedule       Event = "reschedule"
	EventSessionHeld      Event = "session_held"
	EventCancel           Event = "cancel"
	EventRefund           Event = "refund"
)

// Consultation is a paid, time-scheduled consultation request.
// Amount and currency are locked at creation time.
type Consultation struct {
	ID                   uuid.UUID
	UserID               int64
	Type                 Type
	Status               Status
	AmountTiyin          int64
	Currency             string
	PhoneNumber          string
	ProblemDescription   string
	ScheduledTime        *time.Time
	RescheduleCount      int
	CancellationDeadline *time.Time
	CompletionNotes      string
	LastReminderSent     *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TransitionRecord is one immutable entry in the consultation's status history.
type TransitionRecord struct {
	ConsultationID uuid.UUID
	From           Status
	To             Status
	Actor          string
	Reason         string
	OccurredAt     time.Time
}
