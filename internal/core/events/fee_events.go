package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/waiver"
)

const (
	EventTypeFeeGenerated    = "fee.generated"
	EventTypePaymentCaptured = "fee.payment.captured"
	EventTypePaymentFailed   = "fee.payment.failed"
	EventTypeFeeReminder     = "fee.reminder"
	EventTypeWaiverSubmitted = "waiver.submitted"
	EventTypeWaiverApproved  = "waiver.approved"
	EventTypeWaiverRejected  = "waiver.rejected"
)

// NotifiableTypes are the events relayed to the notification collaborator.
var NotifiableTypes = []string{
	EventTypeFeeGenerated,
	EventTypePaymentCaptured,
	EventTypePaymentFailed,
	EventTypeFeeReminder,
	EventTypeWaiverSubmitted,
	EventTypeWaiverApproved,
	EventTypeWaiverRejected,
}

type FeeEvent struct {
	BaseEvent
	RecordID   string `json:"record_id"`
	StudentRef string `json:"student_ref"`
}

func newFeeEvent(eventType string, r *feerecord.FeeRecord, extra map[string]interface{}) *FeeEvent {
	data := map[string]interface{}{
		"record_id":      r.ID,
		"student_ref":    r.StudentRef,
		"billing_period": r.BillingPeriod,
		"status":         string(r.Status),
		"base_amount":    r.BaseAmount.String(),
		"fine_amount":    r.FineAmount.String(),
		"total_amount":   r.TotalAmount.String(),
		"currency":       r.Currency,
		"due_date":       r.DueDate.Format(time.DateOnly),
	}
	for k, v := range extra {
		data[k] = v
	}
	return &FeeEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now().UTC(),
			Data:      data,
		},
		RecordID:   r.ID,
		StudentRef: r.StudentRef,
	}
}

func NewFeeGeneratedEvent(r *feerecord.FeeRecord) *FeeEvent {
	return newFeeEvent(EventTypeFeeGenerated, r, nil)
}

func NewPaymentCapturedEvent(r *feerecord.FeeRecord) *FeeEvent {
	extra := map[string]interface{}{}
	if r.PaymentMethod != nil {
		extra["payment_method"] = *r.PaymentMethod
	}
	if r.ReceiptNumber != nil {
		extra["receipt_number"] = *r.ReceiptNumber
	}
	if r.PaidAt != nil {
		extra["paid_at"] = r.PaidAt.Format(time.RFC3339)
	}
	return newFeeEvent(EventTypePaymentCaptured, r, extra)
}

func NewPaymentFailedEvent(r *feerecord.FeeRecord, reason string) *FeeEvent {
	return newFeeEvent(EventTypePaymentFailed, r, map[string]interface{}{"failure_reason": reason})
}

func NewFeeReminderEvent(r *feerecord.FeeRecord) *FeeEvent {
	return newFeeEvent(EventTypeFeeReminder, r, nil)
}

func NewWaiverEvent(eventType string, req *waiver.Request, r *feerecord.FeeRecord) *FeeEvent {
	extra := map[string]interface{}{
		"waiver_id":     req.ID,
		"waiver_status": string(req.Status),
		"reason":        req.Reason,
		"requested_by":  req.RequestedBy,
	}
	if req.ResolvedBy != nil {
		extra["resolved_by"] = *req.ResolvedBy
	}
	return newFeeEvent(eventType, r, extra)
}
