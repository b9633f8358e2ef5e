package waiver

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) IsResolved() bool {
	return s == StatusApproved || s == StatusRejected
}

type Request struct {
	ID             string          `json:"id" gorm:"column:id;primaryKey"`
	FeeRecordID    string          `json:"fee_record_id" gorm:"column:fee_record_id;not null;index"`
	RequestedBy    string          `json:"requested_by" gorm:"column:requested_by;not null"`
	Reason         string          `json:"reason" gorm:"column:reason;not null"`
	FineAtRequest  decimal.Decimal `json:"fine_at_request" gorm:"column:fine_at_request;type:numeric(12,2);not null"`
	Status         Status          `json:"status" gorm:"column:status;not null;default:pending;index"`
	ResolvedBy     *string         `json:"resolved_by,omitempty" gorm:"column:resolved_by"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty" gorm:"column:resolved_at"`
	ResolutionNote *string         `json:"resolution_note,omitempty" gorm:"column:resolution_note"`
	CreatedAt      time.Time       `json:"created_at" gorm:"column:created_at"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"column:updated_at"`
}

func (Request) TableName() string {
	return "waiver_requests"
}

func (r *Request) Resolve(status Status, by string, note string, at time.Time) {
	r.Status = status
	r.ResolvedBy = &by
	r.ResolvedAt = &at
	if note != "" {
		r.ResolutionNote = &note
	}
}
