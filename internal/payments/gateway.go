package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/uzlex/consult-platform/internal/observability/metrics"
	"github.com/uzlex/consult-platform/pkg/logging"
)

type paymentStore interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	LatestForConsultation(ctx context.Context, consultationID uuid.UUID) (*Payment, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, providerTxnID string) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, providerTxnID string) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	Fail(ctx context.Context, id uuid.UUID) (bool, error)
	ClaimRefund(ctx context.Context, id uuid.UUID) (bool, error)
	ReleaseRefundClaim(ctx context.Context, id uuid.UUID) error
	MarkRefunded(ctx context.Context, id uuid.UUID, refundTxnID string) (bool, error)
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

type reconciliationFlagger interface {
	Flag(ctx context.Context, paymentID uuid.UUID, reason string) error
}

// ConsultationConfirmer advances the consultation once its payment
// completes. Implementations must be idempotent: the gateway may call it
// again for the same payment when a provider retries delivery. A failure
// wrapping ErrConfirmConflict is permanent and routes the payment to
// reconciliation; any other error is retried on the next delivery.
type ConsultationConfirmer interface {
	ConfirmPayment(ctx context.Context, p *Payment) error
}

// Gateway is the provider-independent payment surface: it creates invoices,
// applies provider callbacks exactly once, and issues refunds.
type Gateway struct {
	repo      paymentStore
	adapters  map[Provider]Adapter
	processed processedTracker
	recon     reconciliationFlagger
	confirmer ConsultationConfirmer

	minAmountTiyin int64
	maxAmountTiyin int64
	currency       string
	refundWindow   time.Duration

	metrics *metrics.PaymentMetrics
	logger  *logging.Logger
	now     func() time.Time
}

type GatewayConfig struct {
	MinAmountTiyin int64
	MaxAmountTiyin int64
	Currency       string
	RefundWindow   time.Duration
}

func NewGateway(repo paymentStore, processed processedTracker, recon reconciliationFlagger, cfg GatewayConfig, m *metrics.PaymentMetrics, logger *logging.Logger, adapters ...Adapter) *Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	byName := make(map[Provider]Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Gateway{
		repo:           repo,
		adapters:       byName,
		processed:      processed,
		recon:          recon,
		minAmountTiyin: cfg.MinAmountTiyin,
		maxAmountTiyin: cfg.MaxAmountTiyin,
		currency:       cfg.Currency,
		refundWindow:   cfg.RefundWindow,
		metrics:        m,
		logger:         logger,
		now:            time.Now,
	}
}

// WithConfirmer wires the consultation side after construction. The booking
// service depends on the gateway, so the confirmer cannot be a constructor
// argument.
func (g *Gateway) WithConfirmer(c ConsultationConfirmer) *Gateway {
	g.confirmer = c
	return g
}

// Adapter exposes a configured provider adapter for webhook handlers.
func (g *Gateway) Adapter(provider Provider) (Adapter, bool) {
	a, ok := g.adapters[provider]
	return a, ok
}

// CreatePayment validates the amount, persists a pending payment, and asks
// the provider for a checkout URL. A second active payment for the same
// consultation is rejected with ErrActivePaymentExists.
func (g *Gateway) CreatePayment(ctx context.Context, consultationID uuid.UUID, userID, amountTiyin int64, provider Provider) (*Payment, string, error) {
	if amountTiyin < g.minAmountTiyin || amountTiyin > g.maxAmountTiyin {
		return nil, "", fmt.Errorf("%w: %d not in [%d, %d]", ErrAmountOutOfRange, amountTiyin, g.minAmountTiyin, g.maxAmountTiyin)
	}
	adapter, ok := g.adapters[provider]
	if !ok {
		return nil, "", fmt.Errorf("payments: provider %s not configured", provider)
	}

	p := &Payment{
		ConsultationID: consultationID,
		UserID:         userID,
		Provider:       provider,
		AmountTiyin:    amountTiyin,
		Currency:       g.currency,
	}
	if err := g.repo.Create(ctx, p); err != nil {
		return nil, "", err
	}

	url, err := adapter.PaymentURL(ctx, p)
	if err != nil {
		// Free the active-payment slot so the user can retry.
		if _, ferr := g.repo.Fail(ctx, p.ID); ferr != nil {
			g.logger.Error("failed to fail payment after url error", "payment_id", p.ID, "error", ferr)
		}
		return nil, "", err
	}

	g.metrics.ObserveCreated(string(provider))
	g.logger.Info("payment created",
		"payment_id", p.ID,
		"consultation_id", consultationID,
		"provider", provider,
		"amount_tiyin", amountTiyin,
	)
	return p, url, nil
}

// ProcessCallback applies an authenticated provider callback. It is safe to
// call any number of times with the same event: the payment-status CAS and
// the processed-event record make redelivery a no-op.
func (g *Gateway) ProcessCallback(ctx context.Context, cb *Callback) error {
	p, err := g.repo.GetByID(ctx, cb.PaymentID)
	if err != nil {
		return err
	}
	if cb.AmountTiyin != 0 && cb.AmountTiyin != p.AmountTiyin {
		return fmt.Errorf("%w: callback %d, payment %d", ErrAmountMismatch, cb.AmountTiyin, p.AmountTiyin)
	}

	switch cb.Status {
	case CallbackCheck:
		if p.Status.Active() || p.Status == StatusCompleted {
			return nil
		}
		return ErrAlreadyFinal
	case CallbackProcessing:
		return g.applyProcessing(ctx, cb, p)
	case CallbackCompleted:
		return g.applyCompleted(ctx, cb, p)
	case CallbackCancelled:
		return g.applyCancelled(ctx, cb, p)
	default:
		return fmt.Errorf("payments: unknown callback status %q", cb.Status)
	}
}

func (g *Gateway) applyProcessing(ctx context.Context, cb *Callback, p *Payment) error {
	moved, err := g.repo.MarkProcessing(ctx, p.ID, cb.ProviderTransactionID)
	if err != nil {
		return err
	}
	if moved {
		g.metrics.ObserveCallback(string(cb.Provider), "processing")
		g.logger.Info("payment processing",
			"payment_id", p.ID,
			"provider", cb.Provider,
			"provider_txn_id", cb.ProviderTransactionID,
		)
		return nil
	}
	// Lost the CAS. Redelivery of the same create, or the perform already
	// landed; both are fine. Anything else is final.
	fresh, err := g.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if fresh.Status == StatusProcessing || fresh.Status == StatusCompleted {
		return nil
	}
	return ErrAlreadyFinal
}

func (g *Gateway) applyCompleted(ctx context.Context, cb *Callback, p *Payment) error {
	seen, err := g.processed.AlreadyProcessed(ctx, string(cb.Provider), cb.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	performed, err := g.repo.Complete(ctx, p.ID, cb.ProviderTransactionID)
	if err != nil {
		return err
	}
	if !performed {
		// Lost the CAS. The snapshot loaded before it may be stale, so judge
		// on the current row: a concurrent delivery of the same completion
		// already won, and this one only has to be a no-op.
		fresh, err := g.repo.GetByID(ctx, p.ID)
		if err != nil {
			return err
		}
		if fresh.Status != StatusCompleted || fresh.ProviderTransactionID != cb.ProviderTransactionID {
			// Success callback for a payment that already failed, was
			// cancelled, or completed under a different transaction. Flag it
			// rather than guessing which side is right.
			if ferr := g.recon.Flag(ctx, p.ID, fmt.Sprintf("success callback in status %s", fresh.Status)); ferr != nil {
				g.logger.Error("failed to flag reconciliation", "payment_id", p.ID, "error", ferr)
			}
			g.metrics.ObserveCallback(string(cb.Provider), "conflict")
			return ErrAlreadyFinal
		}
		p = fresh
	}

	now := g.now()
	p.Status = StatusCompleted
	p.ProviderTransactionID = cb.ProviderTransactionID
	if p.PaidAt == nil {
		p.PaidAt = &now
	}
	if g.confirmer != nil {
		if err := g.confirmer.ConfirmPayment(ctx, p); err != nil {
			if errors.Is(err, ErrConfirmConflict) {
				// The consultation can no longer accept the money and no
				// retry will change that. Acknowledge the callback so the
				// provider stops redelivering, and hand the payment to
				// reconciliation.
				if ferr := g.recon.Flag(ctx, p.ID, "completed payment on unconfirmable consultation: "+err.Error()); ferr != nil {
					g.logger.Error("failed to flag reconciliation", "payment_id", p.ID, "error", ferr)
				}
				if _, merr := g.processed.MarkProcessed(ctx, string(cb.Provider), cb.EventID); merr != nil {
					g.logger.Error("failed to record processed event", "provider", cb.Provider, "event_id", cb.EventID, "error", merr)
				}
				g.metrics.ObserveCallback(string(cb.Provider), "conflict")
				g.logger.Warn("payment completed but consultation rejected it",
					"payment_id", p.ID,
					"consultation_id", p.ConsultationID,
					"error", err,
				)
				return nil
			}
			// Not marked processed yet, so a transient failure here is
			// retried on the provider's next delivery.
			return fmt.Errorf("payments: confirm consultation: %w", err)
		}
	}

	if _, err := g.processed.MarkProcessed(ctx, string(cb.Provider), cb.EventID); err != nil {
		g.logger.Error("failed to record processed event", "provider", cb.Provider, "event_id", cb.EventID, "error", err)
	}
	g.metrics.ObserveCallback(string(cb.Provider), "completed")
	g.logger.Info("payment completed",
		"payment_id", p.ID,
		"provider", cb.Provider,
		"provider_txn_id", cb.ProviderTransactionID,
	)
	return nil
}

func (g *Gateway) applyCancelled(ctx context.Context, cb *Callback, p *Payment) error {
	seen, err := g.processed.AlreadyProcessed(ctx, string(cb.Provider), cb.EventID)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}

	cancelled, err := g.repo.Cancel(ctx, p.ID)
	if err != nil {
		return err
	}
	if !cancelled && p.Status == StatusCompleted {
		// Cancellation arriving after we confirmed the payment. The money
		// side and our side disagree, so a human has to look.
		if ferr := g.recon.Flag(ctx, p.ID, "cancel callback after completion"); ferr != nil {
			g.logger.Error("failed to flag reconciliation", "payment_id", p.ID, "error", ferr)
		}
		g.metrics.ObserveCallback(string(cb.Provider), "conflict")
	} else {
		g.metrics.ObserveCallback(string(cb.Provider), "cancelled")
	}

	if _, err := g.processed.MarkProcessed(ctx, string(cb.Provider), cb.EventID); err != nil {
		g.logger.Error("failed to record processed event", "provider", cb.Provider, "event_id", cb.EventID, "error", err)
	}
	return nil
}

// Refund returns the funds for a consultation's completed payment. The
// refunding claim guarantees the provider is called at most once even under
// concurrent requests.
func (g *Gateway) Refund(ctx context.Context, consultationID uuid.UUID) (*Payment, error) {
	p, err := g.repo.LatestForConsultation(ctx, consultationID)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case StatusRefunded, StatusRefunding:
		return nil, ErrAlreadyRefunded
	case StatusCompleted:
	default:
		return nil, fmt.Errorf("%w: status %s", ErrRefundIneligible, p.Status)
	}
	if p.PaidAt == nil || p.ProviderTransactionID == "" {
		return nil, fmt.Errorf("%w: payment has no provider transaction", ErrRefundIneligible)
	}
	if g.now().Sub(*p.PaidAt) > g.refundWindow {
		return nil, fmt.Errorf("%w: paid %s, window %s", ErrRefundIneligible, p.PaidAt.Format(time.RFC3339), g.refundWindow)
	}

	adapter, ok := g.adapters[p.Provider]
	if !ok {
		return nil, fmt.Errorf("payments: provider %s not configured", p.Provider)
	}

	claimed, err := g.repo.ClaimRefund(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrAlreadyRefunded
	}

	refundTxnID, err := adapter.Refund(ctx, p)
	if err != nil {
		var provErr *ProviderError
		if !errors.As(err, &provErr) {
			// Transport failure: the provider may or may not have acted.
			// Keep the claim released so the refund can be retried, and
			// flag the payment for manual reconciliation.
			if ferr := g.recon.Flag(ctx, p.ID, "refund outcome unknown: "+err.Error()); ferr != nil {
				g.logger.Error("failed to flag reconciliation", "payment_id", p.ID, "error", ferr)
			}
		}
		if rerr := g.repo.ReleaseRefundClaim(ctx, p.ID); rerr != nil {
			g.logger.Error("failed to release refund claim", "payment_id", p.ID, "error", rerr)
		}
		return nil, err
	}

	if _, err := g.repo.MarkRefunded(ctx, p.ID, refundTxnID); err != nil {
		g.logger.Error("refund issued but not recorded", "payment_id", p.ID, "refund_txn_id", refundTxnID, "error", err)
		return nil, err
	}

	now := g.now()
	p.Status = StatusRefunded
	p.RefundTransactionID = refundTxnID
	p.RefundedAt = &now
	g.metrics.ObserveRefund(string(p.Provider))
	g.logger.Info("payment refunded",
		"payment_id", p.ID,
		"provider", p.Provider,
		"refund_txn_id", refundTxnID,
	)
	return p, nil
}
