package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/frahmantamala/transport-fees/internal/report"
)

type ReportRepository struct {
	db *sqlx.DB
}

func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

var _ report.RepositoryAPI = (*ReportRepository)(nil)

const summaryQuery = `
SELECT
	COALESCE(SUM(CASE WHEN status = 'captured' THEN total_amount ELSE 0 END), 0) AS captured_total,
	COUNT(CASE WHEN status = 'captured' THEN 1 END) AS captured_count,
	COALESCE(SUM(CASE WHEN status IN ('pending', 'failed') THEN total_amount ELSE 0 END), 0) AS outstanding_total,
	COUNT(CASE WHEN status IN ('pending', 'failed') THEN 1 END) AS outstanding_count,
	COUNT(CASE WHEN status = 'waived' THEN 1 END) AS waived_count,
	COALESCE(SUM(CASE WHEN status = 'captured' THEN fine_amount ELSE 0 END), 0) AS fines_collected
FROM fee_records
WHERE billing_period = ?`

func (r *ReportRepository) Summary(ctx context.Context, period string) (*report.Summary, error) {
	var s report.Summary
	if err := r.db.GetContext(ctx, &s, r.db.Rebind(summaryQuery), period); err != nil {
		return nil, fmt.Errorf("summary query: %w", err)
	}
	s.Period = period
	return &s, nil
}

const finesWaivedQuery = `
SELECT COALESCE(SUM(w.fine_at_request), 0)
FROM waiver_requests w
JOIN fee_records f ON f.id = w.fee_record_id
WHERE f.billing_period = ? AND w.status = 'approved'`

func (r *ReportRepository) FinesWaived(ctx context.Context, period string) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(finesWaivedQuery), period); err != nil {
		return decimal.Zero, fmt.Errorf("fines waived query: %w", err)
	}
	return total, nil
}

const rowColumns = `id, student_ref, billing_period, status, base_amount, fine_amount, total_amount,
	currency, due_date, payment_method, receipt_number, paid_at`

// Rows lists the period's records, optionally restricted to statuses.
func (r *ReportRepository) Rows(ctx context.Context, period string, statuses ...string) ([]report.Row, error) {
	query := "SELECT " + rowColumns + " FROM fee_records WHERE billing_period = ?"
	args := []interface{}{period}
	if len(statuses) > 0 {
		query += " AND status IN (?)"
		args = append(args, statuses)
	}
	query += " ORDER BY student_ref ASC, id ASC"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("rows query: %w", err)
	}

	var rows []report.Row
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("rows query: %w", err)
	}
	return rows, nil
}
