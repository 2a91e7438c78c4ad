package payments

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/uzlex/consult-platform/internal/observability/metrics"
	"github.com/uzlex/consult-platform/pkg/logging"
)

const paymeErrCannotPerform = -31008

// PaymeWebhookHandler speaks the Paycom merchant JSON-RPC protocol. Every
// response is a JSON-RPC envelope echoing the request id; rejections carry
// an error object with a protocol code.
type PaymeWebhookHandler struct {
	adapter *PaymeAdapter
	gateway callbackProcessor
	metrics *metrics.PaymentMetrics
	logger  *logging.Logger
}

func NewPaymeWebhookHandler(adapter *PaymeAdapter, gateway callbackProcessor, m *metrics.PaymentMetrics, logger *logging.Logger) *PaymeWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PaymeWebhookHandler{adapter: adapter, gateway: gateway, metrics: m, logger: logger}
}

type paymeResponse struct {
	ID     int64          `json:"id"`
	Result map[string]any `json:"result,omitempty"`
	Error  *paymeError    `json:"error,omitempty"`
}

type paymeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (h *PaymeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveWebhookLatency(string(ProviderPayme), time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	// The envelope is needed for the echo id and the method-specific result
	// shape, independent of callback normalization.
	var req paymeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writePaymeResponse(w, http.StatusOK, paymeResponse{Error: &paymeError{Code: PaymeErrParse, Message: "parse error"}})
		return
	}

	cb, err := h.adapter.VerifyCallback(body, r.Header)
	if err != nil {
		if errors.Is(err, ErrSignature) {
			h.logger.Warn("payme webhook auth rejected")
			writePaymeResponse(w, http.StatusUnauthorized, paymeResponse{ID: req.ID, Error: &paymeError{Code: PaymeErrAuth, Message: "unauthorized"}})
			return
		}
		h.logger.Error("payme webhook parse failed", "error", err)
		writePaymeResponse(w, http.StatusOK, paymeResponse{ID: req.ID, Error: &paymeError{Code: PaymeErrOrderMissing, Message: "invalid account"}})
		return
	}

	if err := h.gateway.ProcessCallback(r.Context(), cb); err != nil {
		resp := paymeResponse{ID: req.ID}
		switch {
		case errors.Is(err, ErrNotFound):
			resp.Error = &paymeError{Code: PaymeErrOrderMissing, Message: "order not found"}
		case errors.Is(err, ErrAmountMismatch):
			resp.Error = &paymeError{Code: PaymeErrWrongAmount, Message: "incorrect amount"}
		case errors.Is(err, ErrAlreadyFinal):
			code := paymeErrCannotPerform
			if req.Method == "CancelTransaction" {
				code = PaymeErrCannotCancel
			}
			resp.Error = &paymeError{Code: code, Message: "transaction already finalized"}
		default:
			h.logger.Error("payme webhook processing failed", "payment_id", cb.PaymentID, "error", err)
			resp.Error = &paymeError{Code: PaymeErrInternal, Message: "internal error"}
		}
		writePaymeResponse(w, http.StatusOK, resp)
		return
	}

	nowMillis := time.Now().UnixMilli()
	var result map[string]any
	switch req.Method {
	case "CheckPerformTransaction":
		result = map[string]any{"allow": true}
	case "CreateTransaction":
		result = map[string]any{"transaction": cb.PaymentID.String(), "create_time": nowMillis, "state": 1}
	case "PerformTransaction":
		result = map[string]any{"transaction": cb.PaymentID.String(), "perform_time": nowMillis, "state": 2}
	case "CancelTransaction":
		result = map[string]any{"transaction": cb.PaymentID.String(), "cancel_time": nowMillis, "state": -1}
	case "CheckTransaction":
		result = map[string]any{"transaction": cb.PaymentID.String(), "state": 1}
	default:
		result = map[string]any{}
	}
	writePaymeResponse(w, http.StatusOK, paymeResponse{ID: req.ID, Result: result})
}

func writePaymeResponse(w http.ResponseWriter, status int, resp paymeResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
