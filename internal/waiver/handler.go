package waiver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/transport-fees/internal"
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

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}

	var req SubmitRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}

	recordID := chi.URLParam(r, "id")
	created, err := h.Service.Submit(r.Context(), caller, recordID, req)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) ListForRecord(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}

	recordID := chi.URLParam(r, "id")
	requests, err := h.Service.ListForRecord(r.Context(), caller, recordID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"requests": requests})
}

func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}

	list, err := h.Service.ListPending(r.Context(), caller, transport.QueryInt(r, "limit", 0), transport.QueryInt(r, "offset", 0))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.Service.Approve)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.Service.Reject)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, caller internal.Caller, id string, req ResolveRequest) (*Decision, error)) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}

	// The note is optional, so an empty body is accepted.
	var req ResolveRequest
	if r.ContentLength != 0 && !h.DecodeJSON(w, r, &req) {
		return
	}

	requestID := chi.URLParam(r, "id")
	decision, err := apply(r.Context(), caller, requestID, req)
	if err != nil {
		h.Logger.Warn("waiver resolution failed", "waiver_id", requestID, "user_id", caller.UserID, "error", err)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, decision)
}
