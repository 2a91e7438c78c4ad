package consultations

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestMachine(now time.Time) *Machine {
	m := NewMachine(3, 24*time.Hour)
	m.Clock = fixedClock(now)
	return m
}

func scheduledConsultation(at time.Time) *Consultation {
	deadline := at.Add(-24 * time.Hour)
	return &Consultation{
		ID:                   uuid.New(),
		Status:               StatusScheduled,
		ScheduledTime:        &at,
		CancellationDeadline: &deadline,
	}
}

func TestNextHappyPath(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	m := newTestMachine(now)

	c := &Consultation{Status: StatusPending}
	next, err := m.Next(c, EventPaymentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, next)

	c.Status = StatusPaid
	next, err = m.Next(c, EventSlotReserved)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, next)

	slot := now.Add(72 * time.Hour)
	c = scheduledConsultation(slot)
	next, err = m.Next(c, EventSessionHeld)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, next)
}

// Every (status, event) pair outside the guard table must be rejected and
// must not touch the entity.
func TestNextClosure(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	m := newTestMachine(now)

	statuses := []Status{StatusPending, StatusPaid, StatusScheduled, StatusCompleted, StatusCancelled, StatusRefunded}
	events := []Event{EventPaymentConfirmed, EventSlotReserved, EventReschedule, EventSessionHeld, EventCancel, EventRefund}

	for _, from := range statuses {
		for _, ev := range events {
			_, allowed := legal[from][ev]
			slot := now.Add(72 * time.Hour)
			c := scheduledConsultation(slot)
			c.Status = from
			if from != StatusScheduled && from != StatusCompleted {
				c.ScheduledTime = nil
				c.CancellationDeadline = nil
			}
			before := *c

			next, err := m.Next(c, ev)
			if allowed {
				require.NoErrorf(t, err, "expected %s on %s to be legal", ev, from)
				assert.NotEmpty(t, next)
			} else {
				require.ErrorIsf(t, err, ErrInvalidTransition, "expected %s on %s to be rejected", ev, from)
			}
			assert.Equal(t, before, *c, "machine must never mutate the consultation")
		}
	}
}

func TestRescheduleGuards(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	m := newTestMachine(now)

	t.Run("allowed well before the session", func(t *testing.T) {
		c := scheduledConsultation(now.Add(48 * time.Hour))
		next, err := m.Next(c, EventReschedule)
		require.NoError(t, err)
		assert.Equal(t, StatusScheduled, next)
	})

	t.Run("rejected at the cap", func(t *testing.T) {
		c := scheduledConsultation(now.Add(48 * time.Hour))
		c.RescheduleCount = 3
		_, err := m.Next(c, EventReschedule)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("rejected inside the 24h window", func(t *testing.T) {
		c := scheduledConsultation(now.Add(12 * time.Hour))
		_, err := m.Next(c, EventReschedule)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestCancelGuards(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	m := newTestMachine(now)

	t.Run("pending cancels without a deadline", func(t *testing.T) {
		c := &Consultation{Status: StatusPending}
		next, err := m.Next(c, EventCancel)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, next)
	})

	t.Run("scheduled cancel before deadline", func(t *testing.T) {
		c := scheduledConsultation(now.Add(48 * time.Hour))
		next, err := m.Next(c, EventCancel)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, next)
	})

	t.Run("late cancel denied", func(t *testing.T) {
		// Session one hour out: the deadline passed 23 hours ago.
		c := scheduledConsultation(now.Add(time.Hour))
		_, err := m.Next(c, EventCancel)
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestForceSkipsDeadlineGuard(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	m := newTestMachine(now)

	// Session one hour out: a user cancel is denied, an operator cancel
	// goes through.
	c := scheduledConsultation(now.Add(time.Hour))
	_, err := m.Next(c, EventCancel)
	require.ErrorIs(t, err, ErrInvalidTransition)

	next, err := m.Force(c, EventCancel)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, next)

	// Terminal statuses are still terminal.
	_, err = m.Force(&Consultation{Status: StatusCompleted}, EventCancel)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTerminalStatusesRejectEverything(t *testing.T) {
	m := newTestMachine(time.Now())
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusRefunded} {
		c := &Consultation{Status: s}
		for _, ev := range []Event{EventPaymentConfirmed, EventSlotReserved, EventReschedule, EventSessionHeld, EventCancel, EventRefund} {
			_, err := m.Next(c, ev)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected %s on terminal %s to be rejected, got %v", ev, s, err)
			}
		}
	}
}

func TestCancellationDeadlineFor(t *testing.T) {
	m := NewMachine(3, 24*time.Hour)
	slot := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, slot.Add(-24*time.Hour), m.CancellationDeadlineFor(slot))
}
