package payment

import (
	"io"
	"net/http"

	"github.com/frahmantamala/transport-fees/internal"
)

const maxWebhookBytes = 1 << 20

// signatureHeaders are checked in order; Midtrans signs inside the body and
// sends none of them.
var signatureHeaders = []string{"X-Razorpay-Signature", "X-Signature"}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		h.Logger.Error("HandleWebhook: failed to read body", "error", err)
		h.HandleServiceError(w, internal.NewValidationError("unreadable webhook body", internal.ErrCodeValidationFailed))
		return
	}

	var signature string
	for _, name := range signatureHeaders {
		if signature = r.Header.Get(name); signature != "" {
			break
		}
	}

	result, err := h.Service.HandleWebhook(r.Context(), body, signature)
	if err != nil {
		h.Logger.Error("HandleWebhook: service error", "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("HandleWebhook: processed", "status", result.Status, "event_id", result.EventID, "record_id", result.RecordID)
	h.WriteJSON(w, http.StatusOK, result)
}
