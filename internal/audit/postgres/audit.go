package postgres

import (
	"context"

	"gorm.io/gorm"

	auditmodel "github.com/frahmantamala/transport-fees/internal/core/datamodel/audit"
	"github.com/frahmantamala/transport-fees/internal/core/store"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry *auditmodel.Entry) error {
	return store.DB(ctx, r.db).Create(entry).Error
}

func (r *AuditRepository) ListForRecord(ctx context.Context, recordID string) ([]*auditmodel.Entry, error) {
	var entries []*auditmodel.Entry
	err := store.DB(ctx, r.db).
		Where("fee_record_id = ?", recordID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error
	return entries, err
}
