package billing

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/transport-fees/internal/transport"
)

type Handler struct {
	*transport.BaseHandler
	Generator *Generator
}

func NewHandler(generator *Generator, lg *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Generator:   generator,
	}
}

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.Caller(w, r)
	if !ok {
		return
	}

	var req GenerateRequest
	if !h.DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.Generator.Generate(r.Context(), caller, req)
	if err != nil {
		h.Logger.Error("Generate: service error", "error", err, "period", req.Period, "user_id", caller.UserID)
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, result)
}
