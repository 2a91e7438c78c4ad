package payments

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/uzlex/consult-platform/pkg/logging"
)

// AdminHandler exposes the reconciliation queue to operators.
type AdminHandler struct {
	recon  *ReconciliationStore
	logger *logging.Logger
}

func NewAdminHandler(recon *ReconciliationStore, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{recon: recon, logger: logger}
}

type reconciliationResponse struct {
	ID         int64   `json:"id"`
	PaymentID  string  `json:"payment_id"`
	Reason     string  `json:"reason"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

// ListReconciliations handles GET /api/admin/reconciliations.
func (h *AdminHandler) ListReconciliations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			adminError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	entries, err := h.recon.Open(r.Context(), limit)
	if err != nil {
		h.logger.Error("admin: list reconciliations", "error", err)
		adminError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]reconciliationResponse, 0, len(entries))
	for _, e := range entries {
		resp := reconciliationResponse{
			ID:        e.ID,
			PaymentID: e.PaymentID.String(),
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
		if e.ResolvedAt != nil {
			s := e.ResolvedAt.Format(time.RFC3339)
			resp.ResolvedAt = &s
		}
		out = append(out, resp)
	}
	adminJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// ResolveReconciliation handles POST /api/admin/reconciliations/{id}/resolve.
func (h *AdminHandler) ResolveReconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		adminError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	if err := h.recon.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			adminError(w, http.StatusNotFound, "reconciliation entry not found or already resolved")
			return
		}
		h.logger.Error("admin: resolve reconciliation", "id", id, "error", err)
		adminError(w, http.StatusInternalServerError, "internal error")
		return
	}
	adminJSON(w, http.StatusOK, map[string]any{"resolved": true})
}

func adminJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func adminError(w http.ResponseWriter, status int, msg string) {
	adminJSON(w, status, map[string]string{"error": msg})
}
