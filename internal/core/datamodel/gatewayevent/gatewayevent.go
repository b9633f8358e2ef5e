package gatewayevent

import (
	"time"

	"gorm.io/datatypes"
)

// Event is one verified webhook delivery from a payment provider.
type Event struct {
	ID          int64          `gorm:"primaryKey"`
	Provider    string         `gorm:"column:provider;not null;uniqueIndex:idx_gateway_events_provider_event"`
	EventID     string         `gorm:"column:event_id;not null;uniqueIndex:idx_gateway_events_provider_event"`
	EventType   string         `gorm:"column:event_type;not null"`
	OrderRef    string         `gorm:"column:order_ref;index"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	ProcessedAt *time.Time     `gorm:"column:processed_at"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (Event) TableName() string {
	return "gateway_events"
}
