package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/uzlex/consult-platform/internal/observability/metrics"
	"github.com/uzlex/consult-platform/pkg/logging"
)

// callbackProcessor is the gateway surface webhook handlers need.
type callbackProcessor interface {
	ProcessCallback(ctx context.Context, cb *Callback) error
}

// ClickWebhookHandler receives Click's prepare/complete callbacks. Click
// expects HTTP 200 with an error code in the JSON body for business
// rejections; only authentication failures get a non-200 status.
type ClickWebhookHandler struct {
	adapter *ClickAdapter
	gateway callbackProcessor
	metrics *metrics.PaymentMetrics
	logger  *logging.Logger
}

func NewClickWebhookHandler(adapter *ClickAdapter, gateway callbackProcessor, m *metrics.PaymentMetrics, logger *logging.Logger) *ClickWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ClickWebhookHandler{adapter: adapter, gateway: gateway, metrics: m, logger: logger}
}

// Click protocol error codes.
const (
	clickOK              = 0
	clickErrSign         = -1
	clickErrAmount       = -2
	clickErrAlreadyPaid  = -4
	clickErrOrderMissing = -5
	clickErrInternal     = -8
)

type clickAck struct {
	ClickTransID    string `json:"click_trans_id"`
	MerchantTransID string `json:"merchant_trans_id"`
	Error           int    `json:"error"`
	ErrorNote       string `json:"error_note"`
}

func (h *ClickWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveWebhookLatency(string(ProviderClick), time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	cb, err := h.adapter.VerifyCallback(body, r.Header)
	if err != nil {
		if errors.Is(err, ErrSignature) {
			h.logger.Warn("click webhook signature rejected")
			writeClickAck(w, http.StatusUnauthorized, clickAck{Error: clickErrSign, ErrorNote: "SIGN CHECK FAILED"})
			return
		}
		h.logger.Error("click webhook parse failed", "error", err)
		writeClickAck(w, http.StatusBadRequest, clickAck{Error: clickErrOrderMissing, ErrorNote: "invalid request"})
		return
	}

	ack := clickAck{
		ClickTransID:    cb.ProviderTransactionID,
		MerchantTransID: cb.PaymentID.String(),
		Error:           clickOK,
		ErrorNote:       "Success",
	}
	if err := h.gateway.ProcessCallback(r.Context(), cb); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			ack.Error, ack.ErrorNote = clickErrOrderMissing, "order not found"
		case errors.Is(err, ErrAmountMismatch):
			ack.Error, ack.ErrorNote = clickErrAmount, "incorrect amount"
		case errors.Is(err, ErrAlreadyFinal):
			ack.Error, ack.ErrorNote = clickErrAlreadyPaid, "transaction already finalized"
		default:
			h.logger.Error("click webhook processing failed", "payment_id", cb.PaymentID, "error", err)
			writeClickAck(w, http.StatusInternalServerError, clickAck{
				ClickTransID:    cb.ProviderTransactionID,
				MerchantTransID: cb.PaymentID.String(),
				Error:           clickErrInternal,
				ErrorNote:       "internal error",
			})
			return
		}
	}
	writeClickAck(w, http.StatusOK, ack)
}

func writeClickAck(w http.ResponseWriter, status int, ack clickAck) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ack)
}
