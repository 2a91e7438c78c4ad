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

// UzumWebhookHandler receives Uzum payment state callbacks and answers with
// a {"success": bool} body.
type UzumWebhookHandler struct {
	adapter *UzumAdapter
	gateway callbackProcessor
	metrics *metrics.PaymentMetrics
	logger  *logging.Logger
}

func NewUzumWebhookHandler(adapter *UzumAdapter, gateway callbackProcessor, m *metrics.PaymentMetrics, logger *logging.Logger) *UzumWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &UzumWebhookHandler{adapter: adapter, gateway: gateway, metrics: m, logger: logger}
}

type uzumAck struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (h *UzumWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		h.metrics.ObserveWebhookLatency(string(ProviderUzum), time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	cb, err := h.adapter.VerifyCallback(body, r.Header)
	if err != nil {
		if errors.Is(err, ErrSignature) {
			h.logger.Warn("uzum webhook signature rejected")
			writeUzumAck(w, http.StatusUnauthorized, uzumAck{Success: false, Error: "invalid signature"})
			return
		}
		h.logger.Error("uzum webhook parse failed", "error", err)
		writeUzumAck(w, http.StatusBadRequest, uzumAck{Success: false, Error: "invalid payload"})
		return
	}

	if err := h.gateway.ProcessCallback(r.Context(), cb); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			writeUzumAck(w, http.StatusNotFound, uzumAck{Success: false, Error: "order not found"})
		case errors.Is(err, ErrAmountMismatch):
			writeUzumAck(w, http.StatusBadRequest, uzumAck{Success: false, Error: "incorrect amount"})
		case errors.Is(err, ErrAlreadyFinal):
			writeUzumAck(w, http.StatusConflict, uzumAck{Success: false, Error: "transaction already finalized"})
		default:
			h.logger.Error("uzum webhook processing failed", "payment_id", cb.PaymentID, "error", err)
			writeUzumAck(w, http.StatusInternalServerError, uzumAck{Success: false, Error: "internal error"})
		}
		return
	}
	writeUzumAck(w, http.StatusOK, uzumAck{Success: true})
}

func writeUzumAck(w http.ResponseWriter, status int, ack uzumAck) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ack)
}
