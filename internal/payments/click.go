package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/uzlex/consult-platform/pkg/logging"
)

var clickTracer = otel.Tracer("consult.internal.payments.click")

const clickPayHost = "https://my.click.uz"

// ClickAdapter implements the Click merchant protocol: a hosted pay page,
// signed form-encoded callbacks, and the reversal API for refunds.
type ClickAdapter struct {
	merchantID     string
	serviceID      string
	merchantUserID string
	secretKey      string
	returnURL      string
	baseURL        string
	httpClient     *http.Client
	logger         *logging.Logger
}

func NewClickAdapter(merchantID, serviceID, secretKey, returnURL string, timeout time.Duration, logger *logging.Logger) *ClickAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ClickAdapter{
		merchantID:     merchantID,
		serviceID:      serviceID,
		merchantUserID: merchantID,
		secretKey:      secretKey,
		returnURL:      returnURL,
		baseURL:        "https://api.click.uz",
		httpClient:     &http.Client{Timeout: timeout},
		logger:         logger,
	}
}

// WithBaseURL overrides the merchant API host for tests.
func (a *ClickAdapter) WithBaseURL(baseURL string) *ClickAdapter {
	if baseURL != "" {
		a.baseURL = strings.TrimRight(baseURL, "/")
	}
	return a
}

func (a *ClickAdapter) Name() Provider { return ProviderClick }

// PaymentURL builds the hosted pay page link. Click expects the amount as a
// decimal soum string.
func (a *ClickAdapter) PaymentURL(_ context.Context, p *Payment) (string, error) {
	q := url.Values{}
	q.Set("service_id", a.serviceID)
	q.Set("merchant_id", a.merchantID)
	q.Set("amount", clickAmount(p.AmountTiyin))
	q.Set("transaction_param", p.ID.String())
	if a.returnURL != "" {
		q.Set("return_url", a.returnURL)
	}
	return clickPayHost + "/services/pay?" + q.Encode(), nil
}

// clickCallback is the form-encoded payload Click posts to the merchant.
type clickCallback struct {
	ClickTransID    string
	MerchantTransID string
	Amount          string
	Action          int
	Error           int
	SignTime        string
	SignString      string
}

func parseClickForm(body []byte) (*clickCallback, error) {
	vals, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("payments: click form: %w", err)
	}
	action, err := strconv.Atoi(vals.Get("action"))
	if err != nil {
		return nil, fmt.Errorf("payments: click action: %w", err)
	}
	errCode := 0
	if v := vals.Get("error"); v != "" {
		if errCode, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("payments: click error code: %w", err)
		}
	}
	return &clickCallback{
		ClickTransID:    vals.Get("click_trans_id"),
		MerchantTransID: vals.Get("merchant_trans_id"),
		Amount:          vals.Get("amount"),
		Action:          action,
		Error:           errCode,
		SignTime:        vals.Get("sign_time"),
		SignString:      vals.Get("sign_string"),
	}, nil
}

// VerifyCallback authenticates the sign_string and normalizes the payload.
// Action 1 (complete) with error 0 reports a completed payment; a negative
// error code reports cancellation.
func (a *ClickAdapter) VerifyCallback(body []byte, _ http.Header) (*Callback, error) {
	cb, err := parseClickForm(body)
	if err != nil {
		return nil, err
	}
	if cb.ClickTransID == "" || cb.MerchantTransID == "" || cb.SignTime == "" {
		return nil, fmt.Errorf("payments: click callback missing fields: %w", ErrSignature)
	}
	expected := clickSign(a.secretKey, cb.ClickTransID, cb.MerchantTransID, cb.Amount, cb.SignTime)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(cb.SignString))) {
		return nil, ErrSignature
	}

	paymentID, err := uuid.Parse(cb.MerchantTransID)
	if err != nil {
		return nil, fmt.Errorf("payments: click merchant_trans_id: %w", err)
	}
	amount, err := parseClickAmount(cb.Amount)
	if err != nil {
		return nil, err
	}

	status := CallbackCompleted
	if cb.Error < 0 {
		status = CallbackCancelled
	} else if cb.Action != 1 {
		// Prepare step: authenticated but nothing to apply yet.
		status = CallbackCheck
	}
	return &Callback{
		Provider:              ProviderClick,
		EventID:               cb.ClickTransID + ":" + strconv.Itoa(cb.Action),
		PaymentID:             paymentID,
		ProviderTransactionID: cb.ClickTransID,
		AmountTiyin:           amount,
		Status:                status,
	}, nil
}

// Refund calls the Click reversal API for a completed payment.
func (a *ClickAdapter) Refund(ctx context.Context, p *Payment) (string, error) {
	ctx, span := clickTracer.Start(ctx, "click.refund")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", p.ID.String()),
		attribute.Int64("payment.amount_tiyin", p.AmountTiyin),
	)

	apiURL := fmt.Sprintf("%s/v2/merchant/payment/reversal/%s/%s", a.baseURL, a.serviceID, p.ProviderTransactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("payments: click refund request: %w", err)
	}
	req.Header.Set("Auth", a.authDigest(time.Now()))
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("payments: click refund http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("payments: click refund status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		ErrorCode int    `json:"error_code"`
		ErrorNote string `json:"error_note"`
		PaymentID int64  `json:"payment_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("payments: click refund decode: %w", err)
	}
	if parsed.ErrorCode != 0 {
		return "", &ProviderError{
			Provider: ProviderClick,
			Code:     strconv.Itoa(parsed.ErrorCode),
			Message:  parsed.ErrorNote,
		}
	}
	return strconv.FormatInt(parsed.PaymentID, 10), nil
}

// authDigest builds the Click merchant API auth header:
// merchant_user_id:sha1(timestamp + secret_key):timestamp.
func (a *ClickAdapter) authDigest(now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	sum := sha1.Sum([]byte(ts + a.secretKey))
	return a.merchantUserID + ":" + hex.EncodeToString(sum[:]) + ":" + ts
}

// clickSign computes the callback signature: HMAC-SHA256 hex over the
// concatenation click_trans_id + secret + merchant_trans_id + amount + sign_time.
func clickSign(secret, clickTransID, merchantTransID, amount, signTime string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(clickTransID + secret + merchantTransID + amount + signTime))
	return hex.EncodeToString(mac.Sum(nil))
}

// clickAmount renders tiyin as a decimal soum string, e.g. 5000000 -> "50000.00".
func clickAmount(tiyin int64) string {
	return fmt.Sprintf("%d.%02d", tiyin/100, tiyin%100)
}

// parseClickAmount converts a decimal soum string back to tiyin.
func parseClickAmount(s string) (int64, error) {
	whole, frac, _ := strings.Cut(s, ".")
	soum, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("payments: click amount %q: %w", s, err)
	}
	var tiyin int64
	switch len(frac) {
	case 0:
	case 1:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("payments: click amount %q: %w", s, err)
		}
		tiyin = d * 10
	case 2:
		d, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("payments: click amount %q: %w", s, err)
		}
		tiyin = d
	default:
		return 0, fmt.Errorf("payments: click amount %q: too many decimal places", s)
	}
	return soum*100 + tiyin, nil
}
