// Package report answers read-only questions about collections. Nothing in
// it mutates the ledger.
package report

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/transport-fees/internal/core/datamodel/student"
)

type Summary struct {
	Period           string          `json:"period" db:"-"`
	CapturedTotal    decimal.Decimal `json:"captured_total" db:"captured_total"`
	CapturedCount    int64           `json:"captured_count" db:"captured_count"`
	OutstandingTotal decimal.Decimal `json:"outstanding_total" db:"outstanding_total"`
	OutstandingCount int64           `json:"outstanding_count" db:"outstanding_count"`
	WaivedCount      int64           `json:"waived_count" db:"waived_count"`
	FinesCollected   decimal.Decimal `json:"fines_collected" db:"fines_collected"`
	FinesWaived      decimal.Decimal `json:"fines_waived" db:"-"`
}

// Row is the reporting projection of a fee record.
type Row struct {
	RecordID      string          `json:"record_id" db:"id"`
	StudentRef    string          `json:"student_ref" db:"student_ref"`
	BillingPeriod string          `json:"billing_period" db:"billing_period"`
	Status        string          `json:"status" db:"status"`
	BaseAmount    decimal.Decimal `json:"base_amount" db:"base_amount"`
	FineAmount    decimal.Decimal `json:"fine_amount" db:"fine_amount"`
	TotalAmount   decimal.Decimal `json:"total_amount" db:"total_amount"`
	Currency      string          `json:"currency" db:"currency"`
	DueDate       time.Time       `json:"due_date" db:"due_date"`
	PaymentMethod *string         `json:"payment_method,omitempty" db:"payment_method"`
	ReceiptNumber *string         `json:"receipt_number,omitempty" db:"receipt_number"`
	PaidAt        *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}

// Group totals records sharing a route or a bus.
type Group struct {
	ID               string          `json:"id"`
	Label            string          `json:"label"`
	CapturedTotal    decimal.Decimal `json:"captured_total"`
	CapturedCount    int             `json:"captured_count"`
	OutstandingTotal decimal.Decimal `json:"outstanding_total"`
	OutstandingCount int             `json:"outstanding_count"`
}

type LookupError struct {
	StudentRef string `json:"student_ref"`
	Error      string `json:"error"`
}

// Breakdown groups a period's records by route and by bus. Partial is set
// when some directory lookups failed; those records are counted under the
// unassigned group.
type Breakdown struct {
	Period  string        `json:"period"`
	Routes  []Group       `json:"routes"`
	Buses   []Group       `json:"buses"`
	Partial bool          `json:"partial"`
	Errors  []LookupError `json:"errors,omitempty"`
}

// RepositoryAPI is the read side of the fee store.
type RepositoryAPI interface {
	Summary(ctx context.Context, period string) (*Summary, error)
	FinesWaived(ctx context.Context, period string) (decimal.Decimal, error)
	Rows(ctx context.Context, period string, statuses ...string) ([]Row, error)
}

// AssignmentLookup resolves a student's current route and bus.
type AssignmentLookup interface {
	RouteAssignment(ctx context.Context, studentRef string) (student.Assignment, error)
}
