package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/clubhouse/internal/webhook/domain"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) domain.Repository {
	return &repository{db: tx}
}

func (r *repository) Receive(ctx context.Context, record *domain.EventRecord) (*domain.EventRecord, bool, error) {
	existing, err := r.FindByEvent(ctx, record.Provider, record.ProviderEventID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, false, err
	}
	return record, false, nil
}

func (r *repository) FindByEvent(ctx context.Context, provider, eventID string) (*domain.EventRecord, error) {
	var record domain.EventRecord
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id snowflake.ID, outcome domain.Outcome, orgID *snowflake.ID, now time.Time) error {
	updates := map[string]any{
		"outcome":      string(outcome),
		"processed_at": now,
	}
	if orgID != nil {
		updates["org_id"] = *orgID
	}
	return r.db.WithContext(ctx).
		Model(&domain.EventRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}
