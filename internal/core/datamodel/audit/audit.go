package audit

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ActionManualPayment  = "fee.manual_payment"
	ActionRecordDeleted  = "fee.deleted"
	ActionWaiverApproved = "waiver.approved"
	ActionWaiverRejected = "waiver.rejected"
	ActionFeesGenerated  = "fee.generated"
)

type Entry struct {
	ID          int64          `json:"id" gorm:"primaryKey"`
	Action      string         `json:"action" gorm:"column:action;not null;index"`
	ActorID     string         `json:"actor_id" gorm:"column:actor_id;not null"`
	FeeRecordID *string        `json:"fee_record_id,omitempty" gorm:"column:fee_record_id;index"`
	Details     datatypes.JSON `json:"details,omitempty" gorm:"column:details"`
	CreatedAt   time.Time      `json:"created_at" gorm:"column:created_at"`
}

func (Entry) TableName() string {
	return "audit_entries"
}
