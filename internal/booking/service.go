// Package booking orchestrates consultations, slot reservations, payments,
// and notifications into the user-facing flows.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/uzlex/consult-platform/internal/audit"
	"github.com/uzlex/consult-platform/internal/consultations"
	"github.com/uzlex/consult-platform/internal/notify"
	"github.com/uzlex/consult-platform/internal/observability/metrics"
	"github.com/uzlex/consult-platform/internal/payments"
	"github.com/uzlex/consult-platform/internal/scheduling"
	"github.com/uzlex/consult-platform/pkg/logging"
)

type consultationStore interface {
	Create(ctx context.Context, c *consultations.Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*consultations.Consultation, error)
	MarkPaid(ctx context.Context, id uuid.UUID, actor, reason string) error
	SetScheduled(ctx context.Context, id uuid.UUID, slotStart, deadline time.Time, actor, reason string) error
	SetRescheduled(ctx context.Context, id uuid.UUID, slotStart, deadline time.Time, limit int, actor, reason string) error
	Cancel(ctx context.Context, id uuid.UUID, from consultations.Status, actor, reason string) error
	Complete(ctx context.Context, id uuid.UUID, notes, actor string) error
	MarkRefunded(ctx context.Context, id uuid.UUID, from consultations.Status, actor, reason string) error
	History(ctx context.Context, id uuid.UUID) ([]consultations.TransitionRecord, error)
}

type slotScheduler interface {
	AvailableSlots(ctx context.Context, date time.Time) ([]time.Time, error)
	Reserve(ctx context.Context, consultationID uuid.UUID, slotStart time.Time) error
	Move(ctx context.Context, consultationID uuid.UUID, oldStart, newStart time.Time) error
	Release(ctx context.Context, consultationID uuid.UUID, slotStart *time.Time) error
}

type paymentGateway interface {
	CreatePayment(ctx context.Context, consultationID uuid.UUID, userID, amountTiyin int64, provider payments.Provider) (*payments.Payment, string, error)
	Refund(ctx context.Context, consultationID uuid.UUID) (*payments.Payment, error)
}

// Service drives the consultation lifecycle end to end. All status changes
// go through the state machine guard table first, then through conditional
// writes, so concurrent requests cannot skip a step.
type Service struct {
	store    consultationStore
	machine  *consultations.Machine
	slots    slotScheduler
	gateway  paymentGateway
	notifier notify.Dispatcher
	audit    *audit.Log
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger

	basePriceTiyin int64
	currency       string
}

type ServiceConfig struct {
	BasePriceTiyin int64
	Currency       string
}

func NewService(store consultationStore, machine *consultations.Machine, slots slotScheduler, gateway paymentGateway, notifier notify.Dispatcher, auditLog *audit.Log, m *metrics.BookingMetrics, cfg ServiceConfig, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogDispatcher(logger)
	}
	return &Service{
		store:          store,
		machine:        machine,
		slots:          slots,
		gateway:        gateway,
		notifier:       notifier,
		audit:          auditLog,
		metrics:        m,
		logger:         logger,
		basePriceTiyin: cfg.BasePriceTiyin,
		currency:       cfg.Currency,
	}
}

// CreateRequest is the input for a new consultation.
type CreateRequest struct {
	UserID             int64
	Type               consultations.Type
	PhoneNumber        string
	ProblemDescription string
}

// CreateConsultation validates the request and creates a pending
// consultation with the price locked at the configured base.
func (s *Service) CreateConsultation(ctx context.Context, req CreateRequest) (*consultations.Consultation, error) {
	if req.UserID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if req.Type != consultations.TypeOnline && req.Type != consultations.TypeOffice {
		return nil, fmt.Errorf("%w: type must be online or office", ErrValidation)
	}
	phone, err := normalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	problem, err := validateProblem(req.ProblemDescription)
	if err != nil {
		return nil, err
	}

	c := &consultations.Consultation{
		ID:                 uuid.New(),
		UserID:             req.UserID,
		Type:               req.Type,
		Status:             consultations.StatusPending,
		AmountTiyin:        s.basePriceTiyin,
		Currency:           s.currency,
		PhoneNumber:        phone,
		ProblemDescription: problem,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, c.ID, audit.ActionConsultationCreated, map[string]any{
		"user_id": c.UserID,
		"type":    string(c.Type),
		"amount":  c.AmountTiyin,
	})
	s.metrics.ObserveConsultation(string(c.Type))
	s.logger.Info("consultation created", "consultation_id", c.ID, "user_id", c.UserID, "type", c.Type)
	return c, nil
}

// Get loads one consultation.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*consultations.Consultation, error) {
	return s.store.GetByID(ctx, id)
}

// History returns the consultation's status trail.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]consultations.TransitionRecord, error) {
	return s.store.History(ctx, id)
}

// AvailableSlots lists bookable slot starts for a date.
func (s *Service) AvailableSlots(ctx context.Context, date time.Time) ([]time.Time, error) {
	return s.slots.AvailableSlots(ctx, date)
}

// SelectPayment creates a pending payment for a pending consultation and
// returns the provider checkout URL.
func (s *Service) SelectPayment(ctx context.Context, consultationID uuid.UUID, provider payments.Provider) (*payments.Payment, string, error) {
	c, err := s.store.GetByID(ctx, consultationID)
	if err != nil {
		return nil, "", err
	}
	if c.Status != consultations.StatusPending {
		return nil, "", fmt.Errorf("%w: payment selection on %s", consultations.ErrInvalidTransition, c.Status)
	}

	p, url, err := s.gateway.CreatePayment(ctx, c.ID, c.UserID, c.AmountTiyin, provider)
	if err != nil {
		return nil, "", err
	}
	s.audit.Record(ctx, c.ID, audit.ActionPaymentCreated, map[string]any{
		"payment_id": p.ID.String(),
		"provider":   string(provider),
		"amount":     p.AmountTiyin,
	})
	return p, url, nil
}

// ConfirmPayment advances the consultation to paid when its payment
// completes. It is idempotent: provider redeliveries for a consultation
// already past pending are acknowledged without effect.
func (s *Service) ConfirmPayment(ctx context.Context, p *payments.Payment) error {
	c, err := s.store.GetByID(ctx, p.ConsultationID)
	if err != nil {
		return err
	}

	switch c.Status {
	case consultations.StatusPaid, consultations.StatusScheduled, consultations.StatusCompleted:
		return nil
	case consultations.StatusPending:
	default:
		// Cancelled or otherwise closed: no amount of redelivery confirms
		// this payment, so report the conflict as permanent.
		return fmt.Errorf("%w: consultation %s is %s", payments.ErrConfirmConflict, c.ID, c.Status)
	}

	if _, err := s.machine.Next(c, consultations.EventPaymentConfirmed); err != nil {
		return err
	}
	if err := s.store.MarkPaid(ctx, c.ID, "provider:"+string(p.Provider), "payment "+p.ID.String()); err != nil {
		if errors.Is(err, consultations.ErrInvalidTransition) {
			// Lost the race to another delivery of the same payment.
			return nil
		}
		return err
	}

	s.audit.Record(ctx, c.ID, audit.ActionPaymentCompleted, map[string]any{
		"payment_id": p.ID.String(),
		"provider":   string(p.Provider),
	})
	s.metrics.ObserveTransition(string(consultations.EventPaymentConfirmed))
	s.send(ctx, notify.PaymentConfirmed(c.UserID, p.AmountTiyin, string(p.Provider)))
	return nil
}

// Schedule reserves a slot for a paid consultation. The reservation insert
// settles slot races; losing it leaves the consultation paid and untouched.
func (s *Service) Schedule(ctx context.Context, consultationID uuid.UUID, slotStart time.Time) (*consultations.Consultation, error) {
	c, err := s.store.GetByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.machine.Next(c, consultations.EventSlotReserved); err != nil {
		return nil, err
	}

	if err := s.slots.Reserve(ctx, c.ID, slotStart); err != nil {
		if errors.Is(err, scheduling.ErrSlotTaken) {
			s.metrics.ObserveSlotConflict()
		}
		return nil, err
	}

	deadline := s.machine.CancellationDeadlineFor(slotStart)
	if err := s.store.SetScheduled(ctx, c.ID, slotStart, deadline, "user", "slot selected"); err != nil {
		// Compensate: the reservation must not outlive the failed transition.
		if rerr := s.slots.Release(ctx, c.ID, &slotStart); rerr != nil {
			s.logger.Error("failed to release slot after schedule failure", "consultation_id", c.ID, "error", rerr)
		}
		return nil, err
	}

	c.Status = consultations.StatusScheduled
	c.ScheduledTime = &slotStart
	c.CancellationDeadline = &deadline

	s.audit.Record(ctx, c.ID, audit.ActionSlotScheduled, map[string]any{
		"slot_start": slotStart.Format(time.RFC3339),
	})
	s.metrics.ObserveTransition(string(consultations.EventSlotReserved))
	s.send(ctx, notify.Scheduled(c.UserID, slotStart))
	return c, nil
}

// Reschedule moves a scheduled consultation to a new slot. The single-row
// reservation update keeps the old slot when the new one is taken.
func (s *Service) Reschedule(ctx context.Context, consultationID uuid.UUID, newStart time.Time) (*consultations.Consultation, error) {
	c, err := s.store.GetByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.machine.Next(c, consultations.EventReschedule); err != nil {
		return nil, err
	}
	oldStart := *c.ScheduledTime

	if err := s.slots.Move(ctx, c.ID, oldStart, newStart); err != nil {
		if errors.Is(err, scheduling.ErrSlotTaken) {
			s.metrics.ObserveSlotConflict()
		}
		return nil, err
	}

	deadline := s.machine.CancellationDeadlineFor(newStart)
	if err := s.store.SetRescheduled(ctx, c.ID, newStart, deadline, s.machine.RescheduleLimit, "user", "rescheduled"); err != nil {
		if rerr := s.slots.Move(ctx, c.ID, newStart, oldStart); rerr != nil {
			s.logger.Error("failed to move slot back after reschedule failure", "consultation_id", c.ID, "error", rerr)
		}
		return nil, err
	}

	c.ScheduledTime = &newStart
	c.CancellationDeadline = &deadline
	c.RescheduleCount++

	s.audit.Record(ctx, c.ID, audit.ActionSlotRescheduled, map[string]any{
		"from": oldStart.Format(time.RFC3339),
		"to":   newStart.Format(time.RFC3339),
	})
	s.metrics.ObserveTransition(string(consultations.EventReschedule))
	s.send(ctx, notify.Rescheduled(c.UserID, newStart, s.machine.RescheduleLimit-c.RescheduleCount))
	return c, nil
}

// Cancel cancels a pending or scheduled consultation before its deadline
// and frees the reserved slot.
func (s *Service) Cancel(ctx context.Context, consultationID uuid.UUID, actor string) error {
	c, err := s.store.GetByID(ctx, consultationID)
	if err != nil {
		return err
	}
	if _, err := s.machine.Next(c, consultations.EventCancel); err != nil {
		return err
	}
	if actor == "" {
		actor = "user"
	}

	if err := s.store.Cancel(ctx, c.ID, c.Status, actor, "cancelled"); err != nil {
		return err
	}
	if c.ScheduledTime != nil {
		if err := s.slots.Release(ctx, c.ID, c.ScheduledTime); err != nil {
			s.logger.Error("failed to release slot on cancel", "consultation_id", c.ID, "error", err)
		}
	}

	s.audit.Record(ctx, c.ID, audit.ActionCancelled, map[string]any{"actor": actor})
	s.metrics.ObserveTransition(string(consultations.EventCancel))
	s.send(ctx, notify.Cancelled(c.UserID))
	return nil
}

// ForceCancel cancels on behalf of an operator, ignoring the cancellation
// deadline. The transition table still applies: completed or refunded
// consultations stay terminal.
func (s *Service) ForceCancel(ctx context.Context, consultationID uuid.UUID, reason string) error {
	c, err := s.store.GetByID(ctx, consultationID)
	if err != nil {
		return err
	}
	if _, err := s.machine.Force(c, consultations.EventCancel); err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled by admin"
	}

	if err := s.store.Cancel(ctx, c.ID, c.Status, "admin", reason); err != nil {
		return err
	}
	if c.ScheduledTime != nil {
		if err := s.slots.Release(ctx, c.ID, c.ScheduledTime); err != nil {
			s.logger.Error("failed to release slot on admin cancel", "consultation_id", c.ID, "error", err)
		}
	}

	s.audit.Record(ctx, c.ID, audit.ActionCancelled, map[string]any{"actor": "admin", "reason": reason})
	s.metrics.ObserveTransition(string(consultations.EventCancel))
	s.send(ctx, notify.Cancelled(c.UserID))
	return nil
}

// Complete marks a held session completed with the specialist's notes.
func (s *Service) Complete(ctx context.Context, consultationID uuid.UUID, notes string) error {
	c, err := s.store.GetByID(ctx, consultationID)
	if err != nil {
		return err
	}
	if _, err := s.machine.Next(c, consultations.EventSessionHeld); err != nil {
		return err
	}

	if err := s.store.Complete(ctx, c.ID, notes, "admin"); err != nil {
		return err
	}
	s.audit.Record(ctx, c.ID, audit.ActionCompleted, nil)
	s.metrics.ObserveTransition(string(consultations.EventSessionHeld))
	return nil
}

// Refund returns the funds and moves the consultation to refunded. Payment
// eligibility (window, single issue) is the gateway's job; this method owns
// the consultation side.
func (s *Service) Refund(ctx context.Context, consultationID uuid.UUID) (*payments.Payment, error) {
	c, err := s.store.GetByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.machine.Next(c, consultations.EventRefund); err != nil {
		return nil, err
	}

	p, err := s.gateway.Refund(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkRefunded(ctx, c.ID, c.Status, "admin", "refund "+p.RefundTransactionID); err != nil {
		// The money went back but our status write lost a race. Surface it;
		// the status history shows what happened.
		return nil, err
	}
	if c.ScheduledTime != nil {
		if err := s.slots.Release(ctx, c.ID, c.ScheduledTime); err != nil {
			s.logger.Error("failed to release slot on refund", "consultation_id", c.ID, "error", err)
		}
	}

	s.audit.Record(ctx, c.ID, audit.ActionPaymentRefunded, map[string]any{
		"payment_id":    p.ID.String(),
		"refund_txn_id": p.RefundTransactionID,
	})
	s.metrics.ObserveTransition(string(consultations.EventRefund))
	s.send(ctx, notify.Refunded(c.UserID, p.AmountTiyin))
	return p, nil
}

// send delivers a notification without letting delivery failures break the
// calling flow.
func (s *Service) send(ctx context.Context, msg notify.Message) {
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.Error("notification failed", "chat_id", msg.ChatID, "error", err)
	}
}
