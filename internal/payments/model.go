// Package payments handles invoice creation, provider callbacks, and refunds
// for the click, payme, and uzum payment providers.
package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Provider identifies a payment provider.
type Provider string

const (
	ProviderClick Provider = "click"
	ProviderPayme Provider = "payme"
	ProviderUzum  Provider = "uzum"
)

func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderClick, ProviderPayme, ProviderUzum:
		return Provider(s), nil
	}
	return "", fmt.Errorf("payments: unknown provider %q", s)
}

// Status is the lifecycle state of a payment record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	// StatusRefunding marks a refund claimed but not yet confirmed by the
	// provider. The claim is what makes refunds exactly-once under
	// concurrent requests.
	StatusRefunding Status = "refunding"
	StatusRefunded  Status = "refunded"
)

// Active reports whether the payment still occupies the consultation's
// single active-payment slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

type Payment struct {
	ID                    uuid.UUID
	ConsultationID        uuid.UUID
	UserID                int64
	Provider              Provider
	AmountTiyin           int64
	Currency              string
	Status                Status
	ProviderTransactionID string
	RefundTransactionID   string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	PaidAt                *time.Time
	RefundedAt            *time.Time
}

var (
	ErrNotFound            = errors.New("payments: payment not found")
	ErrActivePaymentExists = errors.New("payments: consultation already has an active payment")
	ErrAmountOutOfRange    = errors.New("payments: amount out of allowed range")
	ErrAmountMismatch      = errors.New("payments: callback amount does not match payment")
	ErrSignature           = errors.New("payments: invalid callback signature")
	ErrAlreadyFinal        = errors.New("payments: payment already in a final state")
	ErrRefundIneligible    = errors.New("payments: payment not eligible for refund")
	ErrAlreadyRefunded     = errors.New("payments: payment already refunded")
	// ErrConfirmConflict means money arrived for a consultation that can no
	// longer accept it (cancelled, rescheduled away). Retrying the callback
	// cannot fix it; the payment goes to manual reconciliation instead.
	ErrConfirmConflict = errors.New("payments: consultation cannot accept payment")
)

// ProviderError is an explicit rejection returned by a provider API, as
// opposed to a transport failure whose outcome is unknown.
type ProviderError struct {
	Provider Provider
	Code     string
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payments: %s rejected request: %s (%s)", e.Provider, e.Message, e.Code)
}

// CallbackStatus is the normalized outcome a provider callback reports.
type CallbackStatus string

const (
	CallbackCompleted CallbackStatus = "completed"
	CallbackCancelled CallbackStatus = "cancelled"
	// CallbackProcessing marks the provider-side transaction as created but
	// not yet performed (payme CreateTransaction).
	CallbackProcessing CallbackStatus = "processing"
	// CallbackCheck is a pre-flight validation request that must not change
	// payment state (payme CheckPerformTransaction).
	CallbackCheck CallbackStatus = "check"
)

// Callback is a provider webhook normalized into provider-independent form.
type Callback struct {
	Provider              Provider
	EventID               string
	PaymentID             uuid.UUID
	ProviderTransactionID string
	AmountTiyin           int64
	Status                CallbackStatus
}
