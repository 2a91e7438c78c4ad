package consultations

import (
	"fmt"
	"time"
)

// legal maps (current status, event) to the resulting status. Any pair not
// listed here is rejected with ErrInvalidTransition before guards even run.
var legal = map[Status]map[Event]Status{
	StatusPending: {
		EventPaymentConfirmed: StatusPaid,
		EventCancel:           StatusCancelled,
	},
	StatusPaid: {
		EventSlotReserved: StatusScheduled,
		EventRefund:       StatusRefunded,
	},
	StatusScheduled: {
		EventReschedule:  StatusScheduled,
		EventSessionHeld: StatusCompleted,
		EventCancel:      StatusCancelled,
		EventRefund:      StatusRefunded,
	},
}

// Machine enforces the consultation status guard table. Guards that depend
// on payment state (amount equality, refundability) are checked by the
// payment gateway before it raises the corresponding event.
type Machine struct {
	RescheduleLimit    int
	CancellationWindow time.Duration

	// Clock is overridable in tests.
	Clock func() time.Time
}

// NewMachine creates a state machine with the given reschedule cap and
// user cancellation window.
func NewMachine(rescheduleLimit int, cancellationWindow time.Duration) *Machine {
	return &Machine{
		RescheduleLimit:    rescheduleLimit,
		CancellationWindow: cancellationWindow,
		Clock:              time.Now,
	}
}

func (m *Machine) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// Next validates the event against the guard table and returns the target
// status. The consultation is never mutated here; persistence applies the
// transition with a compare-and-swap on the current status.
func (m *Machine) Next(c *Consultation, ev Event) (Status, error) {
	targets, ok := legal[c.Status]
	if !ok {
		return "", fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, c.Status)
	}
	to, ok := targets[ev]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, c.Status)
	}

	switch ev {
	case EventReschedule:
		if c.RescheduleCount >= m.RescheduleLimit {
			return "", fmt.Errorf("%w: reschedule limit %d reached", ErrInvalidTransition, m.RescheduleLimit)
		}
		if c.ScheduledTime == nil || !m.now().Add(m.CancellationWindow).Before(*c.ScheduledTime) {
			return "", fmt.Errorf("%w: too close to scheduled time to reschedule", ErrInvalidTransition)
		}
	case EventCancel:
		if c.CancellationDeadline != nil && !m.now().Before(*c.CancellationDeadline) {
			return "", fmt.Errorf("%w: cancellation deadline passed", ErrInvalidTransition)
		}
	}

	return to, nil
}

// Force validates only the transition table, skipping the time-based
// guards. Operator-initiated transitions (late cancellations) use this.
func (m *Machine) Force(c *Consultation, ev Event) (Status, error) {
	targets, ok := legal[c.Status]
	if !ok {
		return "", fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, c.Status)
	}
	to, ok := targets[ev]
	if !ok {
		return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, c.Status)
	}
	return to, nil
}

// CancellationDeadlineFor derives the latest moment a user may cancel a
// consultation scheduled at the given time.
func (m *Machine) CancellationDeadlineFor(scheduled time.Time) time.Time {
	return scheduled.Add(-m.CancellationWindow)
}
