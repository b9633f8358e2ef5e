package payment

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/transport-fees/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(service ServiceAPI, lg *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

func (h *Handler) ListFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	query := ListQuery{
		StudentRef: q.Get("student_ref"),
		Status:     q.Get("status"),
		Period:     q.Get("period"),
		Limit:      transport.QueryInt(r, "limit", 0),
		Offset:     transport.QueryInt(r, "offset", 0),
	}

	result, err := h.Service.ListRecords(r.Context(), caller, query)
	if err != nil {
		h.Logger.Error("ListFees: service error", "error", err, "user_id", caller.UserID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) GetFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}

	recordID := chi.URLParam(r, "id")
	record, err := h.Service.GetRecord(r.Context(), caller, recordID)
	if err != nil {
		h.Logger.Warn("GetFee: service error", "error", err, "record_id", recordID, "user_id", caller.UserID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) InitiateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}

	recordID := chi.URLParam(r, "id")
	order, err := h.Service.InitiateOrder(r.Context(), caller, recordID)
	if err != nil {
		h.Logger.Error("InitiateOrder: service error", "error", err, "record_id", recordID, "user_id", caller.UserID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("InitiateOrder: order opened",
		"record_id", recordID,
		"order_ref", order.OrderRef,
		"user_id", caller.UserID)
	h.WriteJSON(w, http.StatusCreated, order)
}

// ConfirmPayment is called by the checkout client after the gateway reports
// success. The gateway signature authenticates the request.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}

	record, err := h.Service.ConfirmPayment(r.Context(), req)
	if err != nil {
		h.Logger.Error("ConfirmPayment: service error", "error", err, "record_id", req.RecordID, "order_ref", req.OrderRef)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) ManualPayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}

	var req ManualPaymentRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}

	recordID := chi.URLParam(r, "id")
	record, err := h.Service.MarkManualPayment(r.Context(), caller, recordID, req)
	if err != nil {
		h.Logger.Error("ManualPayment: service error", "error", err, "record_id", recordID, "user_id", caller.UserID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) DeleteFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}

	recordID := chi.URLParam(r, "id")
	if err := h.Service.DeleteRecord(r.Context(), caller, recordID); err != nil {
		h.Logger.Error("DeleteFee: service error", "error", err, "record_id", recordID, "user_id", caller.UserID)
		h.HandleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
