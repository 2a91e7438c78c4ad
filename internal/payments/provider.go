package payments

import (
	"context"
	"net/http"
)

// Adapter translates between the gateway's provider-independent model and
// one provider's wire protocol. VerifyCallback must authenticate the payload
// before interpreting it; an authentication failure is ErrSignature.
type Adapter interface {
	Name() Provider

	// PaymentURL returns the hosted checkout URL for a pending payment.
	PaymentURL(ctx context.Context, p *Payment) (string, error)

	// VerifyCallback authenticates and normalizes a webhook delivery.
	VerifyCallback(body []byte, header http.Header) (*Callback, error)

	// Refund asks the provider to return the funds and reports the
	// provider's refund transaction id.
	Refund(ctx context.Context, p *Payment) (string, error)
}
