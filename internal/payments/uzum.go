package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/uzlex/consult-platform/pkg/logging"
)

var uzumTracer = otel.Tracer("consult.internal.payments.uzum")

// UzumAdapter implements the Uzum checkout API. Invoices are registered over
// HTTP and callbacks are authenticated with an HMAC signature over the
// sorted payload fields.
type UzumAdapter struct {
	merchantID string
	secretKey  string
	returnURL  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewUzumAdapter(merchantID, secretKey, returnURL string, timeout time.Duration, logger *logging.Logger) *UzumAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &UzumAdapter{
		merchantID: merchantID,
		secretKey:  secretKey,
		returnURL:  returnURL,
		baseURL:    "https://checkout.uzumbank.uz",
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// WithBaseURL overrides the Uzum API host for tests.
func (a *UzumAdapter) WithBaseURL(baseURL string) *UzumAdapter {
	if baseURL != "" {
		a.baseURL = strings.TrimRight(baseURL, "/")
	}
	return a
}

func (a *UzumAdapter) Name() Provider { return ProviderUzum }

// PaymentURL registers an invoice with Uzum and returns the hosted checkout
// link. Unlike click and payme, the link cannot be built locally.
func (a *UzumAdapter) PaymentURL(ctx context.Context, p *Payment) (string, error) {
	ctx, span := uzumTracer.Start(ctx, "uzum.register")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", p.ID.String()),
		attribute.Int64("payment.amount_tiyin", p.AmountTiyin),
	)

	fields := map[string]string{
		"merchant_id": a.merchantID,
		"order_id":    p.ID.String(),
		"amount":      strconv.FormatInt(p.AmountTiyin, 10),
		"currency":    p.Currency,
	}
	if a.returnURL != "" {
		fields["return_url"] = a.returnURL
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("payments: uzum payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v1/payment/register", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("payments: uzum request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", uzumSign(a.secretKey, fields))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("payments: uzum http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("payments: uzum api status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		PaymentURL  string `json:"payment_url"`
		OperationID string `json:"operation_id"`
		ErrorCode   string `json:"error_code"`
		Message     string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("payments: uzum decode: %w", err)
	}
	if parsed.ErrorCode != "" {
		return "", &ProviderError{Provider: ProviderUzum, Code: parsed.ErrorCode, Message: parsed.Message}
	}
	if parsed.PaymentURL == "" {
		return "", fmt.Errorf("payments: uzum response missing payment_url")
	}
	return parsed.PaymentURL, nil
}

// uzumCallback is the JSON payload Uzum posts on payment state changes.
type uzumCallback struct {
	OperationID string `json:"operation_id"`
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
}

// VerifyCallback checks the X-Signature header against the payload fields
// and normalizes the callback. Status SUCCESS completes the payment, FAILED
// cancels it.
func (a *UzumAdapter) VerifyCallback(body []byte, header http.Header) (*Callback, error) {
	var cb uzumCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("payments: uzum decode: %w", err)
	}
	if cb.OperationID == "" || cb.OrderID == "" {
		return nil, fmt.Errorf("payments: uzum callback missing fields")
	}

	fields := map[string]string{
		"operation_id": cb.OperationID,
		"order_id":     cb.OrderID,
		"amount":       strconv.FormatInt(cb.Amount, 10),
		"status":       cb.Status,
	}
	expected := uzumSign(a.secretKey, fields)
	got := strings.ToLower(header.Get("X-Signature"))
	if !hmac.Equal([]byte(expected), []byte(got)) {
		return nil, ErrSignature
	}

	paymentID, err := uuid.Parse(cb.OrderID)
	if err != nil {
		return nil, fmt.Errorf("payments: uzum order_id: %w", err)
	}

	var status CallbackStatus
	switch cb.Status {
	case "SUCCESS":
		status = CallbackCompleted
	case "FAILED", "CANCELLED":
		status = CallbackCancelled
	default:
		return nil, fmt.Errorf("payments: uzum unknown status %q", cb.Status)
	}
	return &Callback{
		Provider:              ProviderUzum,
		EventID:               cb.OperationID,
		PaymentID:             paymentID,
		ProviderTransactionID: cb.OperationID,
		AmountTiyin:           cb.Amount,
		Status:                status,
	}, nil
}

// Refund reverses a completed Uzum payment.
func (a *UzumAdapter) Refund(ctx context.Context, p *Payment) (string, error) {
	ctx, span := uzumTracer.Start(ctx, "uzum.refund")
	defer span.End()
	span.SetAttributes(attribute.String("payment.id", p.ID.String()))

	fields := map[string]string{
		"merchant_id":  a.merchantID,
		"operation_id": p.ProviderTransactionID,
		"amount":       strconv.FormatInt(p.AmountTiyin, 10),
	}
	body, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("payments: uzum refund payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v1/payment/refund", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("payments: uzum refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", uzumSign(a.secretKey, fields))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("payments: uzum refund http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("payments: uzum refund status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		RefundID  string `json:"refund_id"`
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("payments: uzum refund decode: %w", err)
	}
	if parsed.ErrorCode != "" {
		return "", &ProviderError{Provider: ProviderUzum, Code: parsed.ErrorCode, Message: parsed.Message}
	}
	if parsed.RefundID == "" {
		return "", fmt.Errorf("payments: uzum refund response missing refund_id")
	}
	return parsed.RefundID, nil
}

// uzumSign computes HMAC-SHA256 hex over the fields rendered as "k=v" pairs,
// sorted by key and joined with ";".
func uzumSign(secret string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+fields[k])
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, ";")))
	return hex.EncodeToString(mac.Sum(nil))
}
