// Package payment drives fee records through the payment lifecycle.
package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/gatewayevent"
)

// GatewayEventRepository deduplicates webhook deliveries.
type GatewayEventRepository interface {
	// Record stores the event unless (provider, event id) is already known,
	// and returns whichever row ends up stored.
	Record(ctx context.Context, e *gatewayevent.Event) (*gatewayevent.Event, error)
	MarkProcessed(ctx context.Context, id int64) error
}

type Auditor interface {
	Record(ctx context.Context, action, actorID string, recordID *string, details map[string]interface{}) error
}

type ServiceAPI interface {
	InitiateOrder(ctx context.Context, caller internal.Caller, recordID string) (*OrderResult, error)
	ConfirmPayment(ctx context.Context, req ConfirmRequest) (*feerecord.FeeRecord, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (*WebhookResult, error)
	MarkManualPayment(ctx context.Context, caller internal.Caller, recordID string, req ManualPaymentRequest) (*feerecord.FeeRecord, error)
	DeleteRecord(ctx context.Context, caller internal.Caller, recordID string) error
	GetRecord(ctx context.Context, caller internal.Caller, recordID string) (*feerecord.FeeRecord, error)
	ListRecords(ctx context.Context, caller internal.Caller, q ListQuery) (*ListResult, error)
}

type OrderResult struct {
	RecordID     string                 `json:"record_id"`
	Provider     string                 `json:"provider"`
	OrderRef     string                 `json:"order_ref"`
	Amount       decimal.Decimal        `json:"amount"`
	FineAmount   decimal.Decimal        `json:"fine_amount"`
	Currency     string                 `json:"currency"`
	ClientParams map[string]interface{} `json:"client_params"`
}

type WebhookResult struct {
	Status   string `json:"status"`
	EventID  string `json:"event_id,omitempty"`
	RecordID string `json:"record_id,omitempty"`
}

const (
	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

type ListResult struct {
	Records []*feerecord.FeeRecord `json:"records"`
	Total   int64                  `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

type SweepResult struct {
	Scanned int `json:"scanned"`
	Raised  int `json:"raised"`
	Failed  int `json:"failed"`
}
