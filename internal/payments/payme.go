package payments

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/uzlex/consult-platform/pkg/logging"
)

var paymeTracer = otel.Tracer("consult.internal.payments.payme")

const paymeCheckoutHost = "https://checkout.paycom.uz"

// Payme JSON-RPC error codes used in webhook responses.
const (
	PaymeErrAuth         = -32504
	PaymeErrParse        = -32700
	PaymeErrOrderMissing = -31050
	PaymeErrWrongAmount  = -31001
	PaymeErrCannotCancel = -31007
	PaymeErrInternal     = -32400
)

// PaymeAdapter implements the Paycom merchant API: base64 checkout links and
// JSON-RPC callbacks authenticated with an X-Auth basic credential.
type PaymeAdapter struct {
	merchantID string
	secretKey  string
	returnURL  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewPaymeAdapter(merchantID, secretKey, returnURL string, timeout time.Duration, logger *logging.Logger) *PaymeAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PaymeAdapter{
		merchantID: merchantID,
		secretKey:  secretKey,
		returnURL:  returnURL,
		baseURL:    "https://checkout.paycom.uz/api",
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// WithBaseURL overrides the Paycom API endpoint for tests.
func (a *PaymeAdapter) WithBaseURL(baseURL string) *PaymeAdapter {
	if baseURL != "" {
		a.baseURL = strings.TrimRight(baseURL, "/")
	}
	return a
}

func (a *PaymeAdapter) Name() Provider { return ProviderPayme }

// PaymentURL encodes the checkout parameters the way Paycom's hosted page
// expects: base64 of "m=<merchant>;ac.order_id=<id>;a=<tiyin>;c=<return>".
func (a *PaymeAdapter) PaymentURL(_ context.Context, p *Payment) (string, error) {
	params := fmt.Sprintf("m=%s;ac.order_id=%s;a=%d", a.merchantID, p.ID.String(), p.AmountTiyin)
	if a.returnURL != "" {
		params += ";c=" + a.returnURL
	}
	return paymeCheckoutHost + "/" + base64.StdEncoding.EncodeToString([]byte(params)), nil
}

// paymeRequest is the JSON-RPC envelope Paycom posts to the merchant.
type paymeRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params struct {
		ID      string `json:"id"`
		Amount  int64  `json:"amount"`
		Account struct {
			OrderID string `json:"order_id"`
		} `json:"account"`
	} `json:"params"`
}

// VerifyCallback checks the X-Auth credential and maps the JSON-RPC method
// onto the normalized callback model: CreateTransaction moves the payment to
// processing, PerformTransaction completes it, CancelTransaction cancels it,
// and the check methods only validate.
func (a *PaymeAdapter) VerifyCallback(body []byte, header http.Header) (*Callback, error) {
	if !a.authorized(header) {
		return nil, ErrSignature
	}

	var req paymeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("payments: payme decode: %w", err)
	}
	if req.Params.Account.OrderID == "" {
		return nil, fmt.Errorf("payments: payme callback missing account.order_id")
	}
	paymentID, err := uuid.Parse(req.Params.Account.OrderID)
	if err != nil {
		return nil, fmt.Errorf("payments: payme order_id: %w", err)
	}

	var status CallbackStatus
	switch req.Method {
	case "PerformTransaction":
		status = CallbackCompleted
	case "CreateTransaction":
		status = CallbackProcessing
	case "CancelTransaction":
		status = CallbackCancelled
	case "CheckPerformTransaction", "CheckTransaction":
		status = CallbackCheck
	default:
		return nil, fmt.Errorf("payments: payme unsupported method %q", req.Method)
	}

	return &Callback{
		Provider:              ProviderPayme,
		EventID:               req.Params.ID + ":" + req.Method,
		PaymentID:             paymentID,
		ProviderTransactionID: req.Params.ID,
		AmountTiyin:           req.Params.Amount,
		Status:                status,
	}, nil
}

// authorized validates the X-Auth header, "Basic base64(merchant_id:secret)".
func (a *PaymeAdapter) authorized(header http.Header) bool {
	auth := header.Get("X-Auth")
	if auth == "" {
		auth = header.Get("Authorization")
	}
	auth = strings.TrimPrefix(auth, "Basic ")
	expected := base64.StdEncoding.EncodeToString([]byte(a.merchantID + ":" + a.secretKey))
	return subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) == 1
}

// Refund cancels the receipt through the Paycom subscribe API.
func (a *PaymeAdapter) Refund(ctx context.Context, p *Payment) (string, error) {
	ctx, span := paymeTracer.Start(ctx, "payme.refund")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.id", p.ID.String()),
		attribute.Int64("payment.amount_tiyin", p.AmountTiyin),
	)

	body, err := json.Marshal(map[string]any{
		"id":     1,
		"method": "receipts.cancel",
		"params": map[string]any{"id": p.ProviderTransactionID},
	})
	if err != nil {
		return "", fmt.Errorf("payments: payme refund payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("payments: payme refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth", a.merchantID+":"+a.secretKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("payments: payme refund http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("payments: payme refund status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Result struct {
			Receipt struct {
				ID    string `json:"_id"`
				State int    `json:"state"`
			} `json:"receipt"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("payments: payme refund decode: %w", err)
	}
	if parsed.Error != nil {
		return "", &ProviderError{
			Provider: ProviderPayme,
			Code:     strconv.Itoa(parsed.Error.Code),
			Message:  parsed.Error.Message,
		}
	}
	if parsed.Result.Receipt.ID == "" {
		return "", fmt.Errorf("payments: payme refund response missing receipt id")
	}
	return parsed.Result.Receipt.ID, nil
}
