package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/frahmantamala/transport-fees/internal"
	"github.com/frahmantamala/transport-fees/internal/core/datamodel/waiver"
	"github.com/frahmantamala/transport-fees/internal/core/store"
	waiversvc "github.com/frahmantamala/transport-fees/internal/waiver"
)

type WaiverRepository struct {
	db *gorm.DB
}

func NewWaiverRepository(db *gorm.DB) *WaiverRepository {
	return &WaiverRepository{db: db}
}

var _ waiversvc.RepositoryAPI = (*WaiverRepository)(nil)

func (r *WaiverRepository) Create(ctx context.Context, req *waiver.Request) error {
	err := store.DB(ctx, r.db).Create(req).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return internal.ErrWaiverAlreadyPending
	}
	return err
}

func (r *WaiverRepository) GetByID(ctx context.Context, id string) (*waiver.Request, error) {
	var req waiver.Request
	err := store.DB(ctx, r.db).Where("id = ?", id).First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrWaiverNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *WaiverRepository) HasPending(ctx context.Context, feeRecordID string) (bool, error) {
	var count int64
	err := store.DB(ctx, r.db).Model(&waiver.Request{}).
		Where("fee_record_id = ? AND status = ?", feeRecordID, waiver.StatusPending).
		Count(&count).Error
	return count > 0, err
}

func (r *WaiverRepository) ListForRecord(ctx context.Context, feeRecordID string) ([]*waiver.Request, error) {
	var requests []*waiver.Request
	err := store.DB(ctx, r.db).
		Where("fee_record_id = ?", feeRecordID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&requests).Error
	return requests, err
}

func (r *WaiverRepository) ListPending(ctx context.Context, limit, offset int) ([]*waiver.Request, int64, error) {
	pending := func() *gorm.DB {
		return store.DB(ctx, r.db).Model(&waiver.Request{}).Where("status = ?", waiver.StatusPending)
	}

	var total int64
	if err := pending().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []*waiver.Request
	err := pending().Order("created_at ASC").Order("id ASC").Limit(limit).Offset(offset).Find(&requests).Error
	return requests, total, err
}

func (r *WaiverRepository) Resolve(ctx context.Context, req *waiver.Request) error {
	res := store.DB(ctx, r.db).Model(&waiver.Request{}).
		Where("id = ? AND status = ?", req.ID, waiver.StatusPending).
		Updates(map[string]interface{}{
			"status":          req.Status,
			"resolved_by":     req.ResolvedBy,
			"resolved_at":     req.ResolvedAt,
			"resolution_note": req.ResolutionNote,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return internal.ErrRequestAlreadyResolved
	}
	return nil
}
