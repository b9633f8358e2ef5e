package feerecord

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusCaptured Status = "captured"
	StatusFailed   Status = "failed"
	StatusWaived   Status = "waived"
)

// PeriodLayout is the billing period token format.
const PeriodLayout = "2006-01"

var transitions = map[Status][]Status{
	StatusPending: {StatusCaptured, StatusFailed, StatusWaived},
	StatusFailed:  {StatusPending, StatusCaptured, StatusWaived},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCaptured, StatusFailed, StatusWaived:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCaptured || s == StatusWaived
}

// Payable reports whether a record in this status still accepts payment.
func (s Status) Payable() bool {
	return s == StatusPending || s == StatusFailed
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// FeeRecord is one student's fee obligation for one billing period.
// TotalAmount is only ever written through Recompute.
type FeeRecord struct {
	ID                string          `json:"id" gorm:"column:id;primaryKey"`
	StudentRef        string          `json:"student_ref" gorm:"column:student_ref;not null;uniqueIndex:idx_fee_records_student_period"`
	BillingPeriod     string          `json:"billing_period" gorm:"column:billing_period;not null;uniqueIndex:idx_fee_records_student_period"`
	BaseAmount        decimal.Decimal `json:"base_amount" gorm:"column:base_amount;type:numeric(12,2);not null"`
	FineAmount        decimal.Decimal `json:"fine_amount" gorm:"column:fine_amount;type:numeric(12,2);not null"`
	TotalAmount       decimal.Decimal `json:"total_amount" gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency          string          `json:"currency" gorm:"column:currency;not null"`
	DueDate           time.Time       `json:"due_date" gorm:"column:due_date;not null"`
	Status            Status          `json:"status" gorm:"column:status;not null;default:pending;index"`
	PaymentMethod     *string         `json:"payment_method,omitempty" gorm:"column:payment_method"`
	PaidAt            *time.Time      `json:"paid_at,omitempty" gorm:"column:paid_at"`
	GatewayOrderRef   *string         `json:"gateway_order_ref,omitempty" gorm:"column:gateway_order_ref;index"`
	GatewayPaymentRef *string         `json:"gateway_payment_ref,omitempty" gorm:"column:gateway_payment_ref"`
	OrderAttemptRef   *string         `json:"-" gorm:"column:order_attempt_ref"`
	OrderRequestedAt  *time.Time      `json:"order_requested_at,omitempty" gorm:"column:order_requested_at"`
	FineAssessedAt    *time.Time      `json:"fine_assessed_at,omitempty" gorm:"column:fine_assessed_at"`
	FineWaivedAt      *time.Time      `json:"fine_waived_at,omitempty" gorm:"column:fine_waived_at"`
	ReceiptNumber     *string         `json:"receipt_number,omitempty" gorm:"column:receipt_number"`
	FailureReason     *string         `json:"failure_reason,omitempty" gorm:"column:failure_reason"`
	Version           int64           `json:"version" gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time       `json:"updated_at" gorm:"column:updated_at"`
}

func (FeeRecord) TableName() string {
	return "fee_records"
}

// New builds a pending record with no fine.
func New(id, studentRef, period, currency string, base decimal.Decimal, dueDate time.Time) *FeeRecord {
	r := &FeeRecord{
		ID:            id,
		StudentRef:    studentRef,
		BillingPeriod: period,
		BaseAmount:    base.Round(2),
		FineAmount:    decimal.Zero,
		Currency:      currency,
		DueDate:       dueDate,
		Status:        StatusPending,
		Version:       1,
	}
	r.Recompute()
	return r
}

func (r *FeeRecord) Recompute() {
	r.TotalAmount = r.BaseAmount.Add(r.FineAmount)
}

// FineLocked reports whether the fine can no longer change: it was waived
// or the record is settled.
func (r *FeeRecord) FineLocked() bool {
	return r.FineWaivedAt != nil || r.Status.IsTerminal()
}

// AssessFine raises the fine to amount. Fines never decrease through
// assessment and are frozen once locked. It reports whether anything changed.
// A changed total supersedes any open gateway order.
func (r *FeeRecord) AssessFine(amount decimal.Decimal, at time.Time) bool {
	if r.FineLocked() || !amount.GreaterThan(r.FineAmount) {
		return false
	}
	r.FineAmount = amount
	r.FineAssessedAt = &at
	r.Recompute()
	r.supersedeOrder()
	return true
}

// WaiveFine zeroes the fine permanently and supersedes any open gateway order.
func (r *FeeRecord) WaiveFine(at time.Time) {
	changed := !r.FineAmount.IsZero()
	r.FineAmount = decimal.Zero
	r.FineWaivedAt = &at
	r.Recompute()
	if changed {
		r.supersedeOrder()
	}
}

// OrderOpen reports whether a gateway order or an in-flight attempt exists
// for the current total.
func (r *FeeRecord) OrderOpen() bool {
	return r.GatewayOrderRef != nil || r.OrderAttemptRef != nil
}

// supersedeOrder drops the order refs so a capture against an order opened
// for the old total fails with a mismatch and the payer re-initiates.
func (r *FeeRecord) supersedeOrder() {
	r.GatewayOrderRef = nil
	r.OrderAttemptRef = nil
}

// BeginAttempt starts a fresh order attempt, superseding any earlier one.
func (r *FeeRecord) BeginAttempt(attemptRef string, at time.Time) {
	if r.Status == StatusFailed {
		r.Status = StatusPending
	}
	r.GatewayOrderRef = nil
	r.OrderAttemptRef = &attemptRef
	r.OrderRequestedAt = &at
	r.FailureReason = nil
}

func (r *FeeRecord) AttemptMatches(attemptRef string) bool {
	return r.OrderAttemptRef != nil && *r.OrderAttemptRef == attemptRef
}

func (r *FeeRecord) OrderMatches(orderRef string) bool {
	return r.GatewayOrderRef != nil && orderRef != "" && *r.GatewayOrderRef == orderRef
}

// Capture settles the record. The fine is frozen at its current value.
func (r *FeeRecord) Capture(method, paymentRef, receipt string, at time.Time) {
	r.Status = StatusCaptured
	r.PaymentMethod = &method
	r.PaidAt = &at
	if paymentRef != "" {
		r.GatewayPaymentRef = &paymentRef
	}
	r.ReceiptNumber = &receipt
	r.OrderAttemptRef = nil
	r.FailureReason = nil
	r.Recompute()
}

func (r *FeeRecord) MarkFailed(reason string) {
	r.Status = StatusFailed
	r.FailureReason = &reason
	r.OrderAttemptRef = nil
}

// PeriodStart parses a billing period token into the first day of its month.
func PeriodStart(period string) (time.Time, error) {
	return time.Parse(PeriodLayout, period)
}
