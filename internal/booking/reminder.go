package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/uzlex/consult-platform/internal/consultations"
	"github.com/uzlex/consult-platform/internal/notify"
	"github.com/uzlex/consult-platform/pkg/logging"
)

type reminderStore interface {
	DueForReminder(ctx context.Context, now time.Time, lead time.Duration) ([]*consultations.Consultation, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ReminderWorker sends an upcoming-session notification once per scheduled
// consultation, a configurable lead time before the slot.
type ReminderWorker struct {
	store    reminderStore
	notifier notify.Dispatcher
	interval time.Duration
	lead     time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

func NewReminderWorker(store reminderStore, notifier notify.Dispatcher, interval, lead time.Duration, logger *logging.Logger) *ReminderWorker {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReminderWorker{
		store:    store,
		notifier: notifier,
		interval: interval,
		lead:     lead,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs the worker. Blocks until the context is cancelled.
func (w *ReminderWorker) Start(ctx context.Context) {
	w.logger.Info("starting reminder worker",
		"interval", w.interval.String(),
		"lead", w.lead.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.run(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reminder worker shutting down")
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

func (w *ReminderWorker) run(ctx context.Context) {
	now := w.now()
	due, err := w.store.DueForReminder(ctx, now, w.lead)
	if err != nil {
		w.logger.Error("reminder: list due", "error", err)
		return
	}
	for _, c := range due {
		if c.ScheduledTime == nil {
			continue
		}
		if err := w.notifier.Send(ctx, notify.Reminder(c.UserID, *c.ScheduledTime)); err != nil {
			w.logger.Error("reminder: send", "consultation_id", c.ID, "error", err)
			continue
		}
		// Marked only after a successful send, so a delivery failure is
		// retried on the next tick.
		if err := w.store.MarkReminded(ctx, c.ID, now); err != nil {
			w.logger.Error("reminder: mark", "consultation_id", c.ID, "error", err)
		}
	}
}
