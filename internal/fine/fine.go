// Package fine computes late-payment fines for fee records.
//
// Compute is pure: the same due date, as-of date, base amount and policy
// always yield the same fine. Dates are compared by calendar day in UTC, so
// a payment made at any time on the due date is on time.
package fine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/transport-fees/internal"
)

type Kind string

const (
	// KindPercent charges Percent of the base amount once the record is overdue.
	KindPercent Kind = "percent"
	// KindFlat charges FlatAmount once the record is overdue.
	KindFlat Kind = "flat"
	// KindDaily charges DailyRate for every day overdue past the grace period.
	KindDaily Kind = "daily"
)

var hundred = decimal.NewFromInt(100)

// Policy describes how a fine is derived. A zero MaxAmount means no cap.
type Policy struct {
	Kind       Kind
	Percent    decimal.Decimal
	FlatAmount decimal.Decimal
	DailyRate  decimal.Decimal
	GraceDays  int
	MaxAmount  decimal.Decimal
}

// DefaultPolicy is a one-time 10% fine with no grace period.
func DefaultPolicy() Policy {
	return Policy{
		Kind:    KindPercent,
		Percent: decimal.NewFromInt(10),
	}
}

func PolicyFromConfig(cfg internal.FineConfig) (Policy, error) {
	p := Policy{
		Kind:       Kind(cfg.Kind),
		Percent:    decimal.NewFromFloat(cfg.Percent),
		FlatAmount: decimal.NewFromFloat(cfg.FlatAmount),
		DailyRate:  decimal.NewFromFloat(cfg.DailyRate),
		GraceDays:  cfg.GraceDays,
		MaxAmount:  decimal.NewFromFloat(cfg.MaxAmount),
	}
	if p.Kind == "" {
		p.Kind = KindPercent
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	invalid := func(msg string) error {
		return internal.NewValidationError(msg, internal.ErrCodeInvalidFinePolicy)
	}
	switch p.Kind {
	case KindPercent:
		if p.Percent.IsNegative() || p.Percent.GreaterThan(hundred) {
			return invalid("fine percent must be between 0 and 100")
		}
	case KindFlat:
		if p.FlatAmount.IsNegative() {
			return invalid("flat fine amount cannot be negative")
		}
	case KindDaily:
		if p.DailyRate.IsNegative() {
			return invalid("daily fine rate cannot be negative")
		}
	default:
		return invalid(fmt.Sprintf("unknown fine kind %q", p.Kind))
	}
	if p.GraceDays < 0 {
		return invalid("grace days cannot be negative")
	}
	if p.MaxAmount.IsNegative() {
		return invalid("fine cap cannot be negative")
	}
	return nil
}

// Compute returns the fine owed on baseAmount when settled on asOf.
func Compute(dueDate, asOf time.Time, baseAmount decimal.Decimal, p Policy) decimal.Decimal {
	if !baseAmount.IsPositive() {
		return decimal.Zero
	}
	overdue := DaysOverdue(dueDate, asOf) - p.GraceDays
	if overdue <= 0 {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch p.Kind {
	case KindFlat:
		amount = p.FlatAmount
	case KindDaily:
		amount = p.DailyRate.Mul(decimal.NewFromInt(int64(overdue)))
	default:
		amount = baseAmount.Mul(p.Percent).Div(hundred)
	}

	if p.MaxAmount.IsPositive() && amount.GreaterThan(p.MaxAmount) {
		amount = p.MaxAmount
	}
	return amount.Round(2)
}

// DaysOverdue counts whole calendar days from dueDate to asOf, zero when on time.
func DaysOverdue(dueDate, asOf time.Time) int {
	days := int(Day(asOf).Sub(Day(dueDate)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
