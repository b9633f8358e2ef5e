package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/feerecord"
	"github.com/frahmantamala/transport-fees/internal/core/store"
	"github.com/frahmantamala/transport-fees/internal/ledger"
)

type FeeRecordRepository struct {
	db *gorm.DB
}

func NewFeeRecordRepository(db *gorm.DB) *FeeRecordRepository {
	return &FeeRecordRepository{db: db}
}

var _ ledger.RepositoryAPI = (*FeeRecordRepository)(nil)

var unpaidStatuses = []feerecord.Status{feerecord.StatusPending, feerecord.StatusFailed}

// CreateIfAbsent inserts r unless a record for the same student and period
// exists. It reports whether r was inserted.
func (r *FeeRecordRepository) CreateIfAbsent(ctx context.Context, rec *feerecord.FeeRecord) (bool, error) {
	res := store.DB(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "student_ref"}, {Name: "billing_period"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *FeeRecordRepository) GetByID(ctx context.Context, id string) (*feerecord.FeeRecord, error) {
	var rec feerecord.FeeRecord
	err := store.DB(ctx, r.db).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *FeeRecordRepository) GetByOrderRef(ctx context.Context, orderRef string) (*feerecord.FeeRecord, error) {
	var rec feerecord.FeeRecord
	err := store.DB(ctx, r.db).Where("gateway_order_ref = ?", orderRef).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *FeeRecordRepository) List(ctx context.Context, f ledger.Filter) ([]*feerecord.FeeRecord, int64, error) {
	q := store.DB(ctx, r.db).Model(&feerecord.FeeRecord{})
	if f.StudentRefs != nil {
		q = q.Where("student_ref IN ?", f.StudentRefs)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Period != "" {
		q = q.Where("billing_period = ?", f.Period)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	var records []*feerecord.FeeRecord
	err := q.Order("billing_period DESC").Order("student_ref ASC").
		Limit(limit).Offset(f.Offset).
		Find(&records).Error
	return records, total, err
}

func (r *FeeRecordRepository) ListOverdue(ctx context.Context, asOf time.Time, limit, offset int) ([]*feerecord.FeeRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	var records []*feerecord.FeeRecord
	err := store.DB(ctx, r.db).
		Where("status IN ?", unpaidStatuses).
		Where("due_date < ?", asOf).
		Where("fine_waived_at IS NULL").
		Order("due_date ASC").
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	return records, err
}

func (r *FeeRecordRepository) HasUnpaidBefore(ctx context.Context, studentRef, period string) (bool, error) {
	var count int64
	err := store.DB(ctx, r.db).Model(&feerecord.FeeRecord{}).
		Where("student_ref = ?", studentRef).
		Where("billing_period < ?", period).
		Where("status IN ?", unpaidStatuses).
		Count(&count).Error
	return count > 0, err
}

// Update writes every mutable column, conditional on the version the
// caller loaded, and bumps the version.
func (r *FeeRecordRepository) Update(ctx context.Context, rec *feerecord.FeeRecord) error {
	now := time.Now().UTC()
	prev := rec.Version

	updates := map[string]interface{}{
		"base_amount":         rec.BaseAmount,
		"fine_amount":         rec.FineAmount,
		"total_amount":        rec.TotalAmount,
		"due_date":            rec.DueDate,
		"status":              rec.Status,
		"payment_method":      rec.PaymentMethod,
		"paid_at":             rec.PaidAt,
		"gateway_order_ref":   rec.GatewayOrderRef,
		"gateway_payment_ref": rec.GatewayPaymentRef,
		"order_attempt_ref":   rec.OrderAttemptRef,
		"order_requested_at":  rec.OrderRequestedAt,
		"fine_assessed_at":    rec.FineAssessedAt,
		"fine_waived_at":      rec.FineWaivedAt,
		"receipt_number":      rec.ReceiptNumber,
		"failure_reason":      rec.FailureReason,
		"version":             prev + 1,
		"updated_at":          now,
	}

	res := store.DB(ctx, r.db).Model(&feerecord.FeeRecord{}).
		Where("id = ? AND version = ?", rec.ID, prev).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return internal.ErrConcurrentModification
	}

	rec.Version = prev + 1
	rec.UpdatedAt = now
	return nil
}

func (r *FeeRecordRepository) Delete(ctx context.Context, rec *feerecord.FeeRecord) error {
	res := store.DB(ctx, r.db).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Delete(&feerecord.FeeRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return internal.ErrConcurrentModification
	}
	return nil
}
