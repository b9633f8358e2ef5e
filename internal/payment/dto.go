package payment

import (
	"strings"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/common/validation"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ConfirmRequest is the checkout completion callback.
type ConfirmRequest struct {
	RecordID   string `json:"record_id"`
	OrderRef   string `json:"order_ref"`
	PaymentRef string `json:"payment_ref"`
	Signature  string `json:"signature"`
	Method     string `json:"method,omitempty"`
}

func (r *ConfirmRequest) Validate() error {
	v := validation.NewValidator()
	v.Field("record_id", r.RecordID).Required()
	v.Field("order_ref", r.OrderRef).Required()
	v.Field("payment_ref", r.PaymentRef).Required()
	v.Field("signature", r.Signature).Required()
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type ManualPaymentRequest struct {
	Method    string `json:"method,omitempty"`
	Reference string `json:"reference,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

func (r *ManualPaymentRequest) Validate() error {
	v := validation.NewValidator()
	v.Field("method", r.Method).MaxLength(50, internal.ErrCodeValidationFailed)
	v.Field("reference", r.Reference).MaxLength(100, internal.ErrCodeValidationFailed)
	v.Field("notes", r.Notes).MaxLength(500, internal.ErrCodeValidationFailed)
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type ListQuery struct {
	StudentRef string `json:"student_ref,omitempty"`
	Status     string `json:"status,omitempty"`
	Period     string `json:"period,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

func (q *ListQuery) Validate() error {
	v := validation.NewValidator()
	v.Field("status", q.Status).OneOf(
		string(feerecord.StatusPending),
		string(feerecord.StatusCaptured),
		string(feerecord.StatusFailed),
		string(feerecord.StatusWaived),
	)
	v.Field("period", q.Period).Period()
	if appErr := v.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

func (q *ListQuery) normalize() {
	q.StudentRef = strings.TrimSpace(q.StudentRef)
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}
