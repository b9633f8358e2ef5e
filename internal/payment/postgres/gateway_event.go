package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/transport-fees/internal/core/datamodel/gatewayevent"
	"github.com/frahmantamala/transport-fees/internal/core/store"
	"github.com/frahmantamala/transport-fees/internal/payment"
)

type GatewayEventRepository struct {
	db *gorm.DB
}

func NewGatewayEventRepository(db *gorm.DB) payment.GatewayEventRepository {
	return &GatewayEventRepository{db: db}
}

func (r *GatewayEventRepository) Record(ctx context.Context, e *gatewayevent.Event) (*gatewayevent.Event, error) {
	db := store.DB(ctx, r.db)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(e)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return e, nil
	}

	var existing gatewayevent.Event
	if err := db.Where("provider = ? AND event_id = ?", e.Provider, e.EventID).First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

func (r *GatewayEventRepository) MarkProcessed(ctx context.Context, id int64) error {
	return store.DB(ctx, r.db).Model(&gatewayevent.Event{}).
		Where("id = ?", id).
		Update("processed_at", time.Now().UTC()).Error
}
