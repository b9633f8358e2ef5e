package report

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/frahmantamala/transport-fees/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	Service *Service
}

func NewHandler(service *Service, lg *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
	}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}
	summary, err := h.Service.Summary(r.Context(), caller, r.URL.Query().Get("period"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) Outstanding(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}
	period := r.URL.Query().Get("period")
	rows, err := h.Service.Outstanding(r.Context(), caller, period)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"period": period, "records": rows})
}

func (h *Handler) Breakdown(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}
	breakdown, err := h.Service.Breakdown(r.Context(), caller, r.URL.Query().Get("period"))
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, breakdown)
}

// CollectionCSV buffers the export so a failure can still be reported as JSON.
func (h *Handler) CollectionCSV(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}
	period := r.URL.Query().Get("period")

	var buf bytes.Buffer
	if err := h.Service.CollectionCSV(r.Context(), caller, period, &buf); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="collections-%s.csv"`, period))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.Logger.Warn("failed to write csv export", "period", period, "error", err)
	}
}

type remindRequest struct {
	Period string `json:"period"`
}

func (h *Handler) SendReminders(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}
	var req remindRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}
	sent, err := h.Service.SendReminders(r.Context(), caller, req.Period)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"period": req.Period, "sent": sent})
}
