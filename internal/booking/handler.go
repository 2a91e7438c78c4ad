package booking

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/uzlex/consult-platform/internal/consultations"
	"github.com/uzlex/consult-platform/internal/payments"
	"github.com/uzlex/consult-platform/internal/scheduling"
	"github.com/uzlex/consult-platform/pkg/logging"
)

// Handler exposes the booking flows over HTTP.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

type consultationResponse struct {
	ID                   string     `json:"id"`
	UserID               int64      `json:"user_id"`
	Type                 string     `json:"type"`
	Status               string     `json:"status"`
	AmountTiyin          int64      `json:"amount_tiyin"`
	Currency             string     `json:"currency"`
	PhoneNumber          string     `json:"phone_number"`
	ProblemDescription   string     `json:"problem_description"`
	ScheduledTime        *time.Time `json:"scheduled_time,omitempty"`
	RescheduleCount      int        `json:"reschedule_count"`
	CancellationDeadline *time.Time `json:"cancellation_deadline,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

func toConsultationResponse(c *consultations.Consultation) consultationResponse {
	return consultationResponse{
		ID:                   c.ID.String(),
		UserID:               c.UserID,
		Type:                 string(c.Type),
		Status:               string(c.Status),
		AmountTiyin:          c.AmountTiyin,
		Currency:             c.Currency,
		PhoneNumber:          c.PhoneNumber,
		ProblemDescription:   c.ProblemDescription,
		ScheduledTime:        c.ScheduledTime,
		RescheduleCount:      c.RescheduleCount,
		CancellationDeadline: c.CancellationDeadline,
		CreatedAt:            c.CreatedAt,
	}
}

type createConsultationRequest struct {
	UserID             int64  `json:"user_id"`
	Type               string `json:"type"`
	PhoneNumber        string `json:"phone_number"`
	ProblemDescription string `json:"problem_description"`
}

// CreateConsultation handles POST /api/consultations.
func (h *Handler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	var req createConsultationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	c, err := h.svc.CreateConsultation(r.Context(), CreateRequest{
		UserID:             req.UserID,
		Type:               consultations.Type(req.Type),
		PhoneNumber:        req.PhoneNumber,
		ProblemDescription: req.ProblemDescription,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConsultationResponse(c))
}

// GetConsultation handles GET /api/consultations/{id}.
func (h *Handler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consultationID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsultationResponse(c))
}

type historyEntry struct {
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// GetHistory handles GET /api/consultations/{id}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consultationID(w, r)
	if !ok {
		return
	}
	records, err := h.svc.History(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, historyEntry{
			From:       string(rec.From),
			To:         string(rec.To),
			Actor:      rec.Actor,
			Reason:     rec.Reason,
			OccurredAt: rec.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": out})
}

// GetSlots handles GET /api/slots?date=YYYY-MM-DD.
func (h *Handler) GetSlots(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "date query parameter is required")
		return
	}
	date, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.svc.AvailableSlots(r.Context(), date)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": raw, "slots": out})
}

type selectPaymentRequest struct {
	Provider string `json:"provider"`
}

type selectPaymentResponse struct {
	PaymentID   string `json:"payment_id"`
	Provider    string `json:"provider"`
	AmountTiyin int64  `json:"amount_tiyin"`
	PaymentURL  string `json:"payment_url"`
}

// SelectPayment handles POST /api/consultations/{id}/payment.
func (h *Handler) SelectPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consultationID(w, r)
	if !ok {
		return
	}
	var req selectPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	provider, err := payments.ParseProvider(req.Provider)
	if err != nil {
		writeError(w, http.StatusBadRequest, "provider must be click, payme, or uzum")
		return
	}

	p, url, err := h.svc.SelectPayment(r.Context(), id, provider)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, selectPaymentResponse{
		PaymentID:   p.ID.String(),
		Provider:    string(p.Provider),
		AmountTiyin: p.AmountTiyin,
		PaymentURL:  url,
	})
}

type slotRequest struct {
	SlotStart string `json:"slot_start"`
}

func (h *Handler) parseSlot(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return time.Time{}, false
	}
	slot, err := time.Parse(time.RFC3339, req.SlotStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "slot_start must be RFC3339")
		return time.Time{}, false
	}
	return slot, true
}

// Schedule handles POST /api/consultations/{id}/schedule.
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consultationID(w, r)
	if !ok {
		return
	}
	slot, ok := h.parseSlot(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Schedule(r.Context(), id, slot)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsultationResponse(c))
}

// Reschedule handles POST /api/consultations/{id}/reschedule.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consultationID(w, r)
	if !ok {
		return
	}
	slot, ok := h.parseSlot(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Reschedule(r.Context(), id, slot)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConsultationResponse(c))
}

// Cancel handles POST /api/consultations/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consultationID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Cancel(r.Context(), id, "user"); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(consultations.StatusCancelled)})
}

type forceCancelRequest struct {
	Reason string `json:"reason"`
}

// ForceCancel handles POST /api/admin/consultations/{id}/cancel.
func (h *Handler) ForceCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consultationID(w, r)
	if !ok {
		return
	}
	var req forceCancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := h.svc.ForceCancel(r.Context(), id, req.Reason); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(consultations.StatusCancelled)})
}

type completeRequest struct {
	Notes string `json:"notes"`
}

// Complete handles POST /api/admin/consultations/{id}/complete.
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consultationID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := h.svc.Complete(r.Context(), id, req.Notes); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(consultations.StatusCompleted)})
}

// Refund handles POST /api/admin/consultations/{id}/refund.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, ok := h.consultationID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.Refund(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":        string(consultations.StatusRefunded),
		"refund_txn_id": p.RefundTransactionID,
	})
}

func (h *Handler) consultationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid consultation id")
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps domain errors onto the HTTP surface: validation is
// 400, losing a race is 409, an illegal lifecycle step is 422, provider
// rejections are 502.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var provErr *payments.ProviderError
	switch {
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, consultations.ErrNotFound), errors.Is(err, payments.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, scheduling.ErrSlotTaken), errors.Is(err, payments.ErrActivePaymentExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduling.ErrSlotInvalid), errors.Is(err, payments.ErrAmountOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, consultations.ErrInvalidTransition),
		errors.Is(err, payments.ErrRefundIneligible),
		errors.Is(err, payments.ErrAlreadyRefunded):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &provErr):
		writeError(w, http.StatusBadGateway, provErr.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
