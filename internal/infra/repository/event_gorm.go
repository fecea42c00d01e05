package repository

import (
	"context"
	"time"

	"commerce/internal/domain/model"
	repo "commerce/internal/repository"

	"gorm.io/gorm"
)

type eventGormRepository struct {
	db *gorm.DB
}

func NewEventGormRepository(db *gorm.DB) repo.EventRepository {
	return &eventGormRepository{db: db}
}

func (r *eventGormRepository) Create(ctx context.Context, ev model.DomainEvent) error {
	if err := r.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return err
	}
	return nil
}

// 未送信を古い順に
func (r *eventGormRepository) ListUnpublished(ctx context.Context, limit int) ([]model.DomainEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var events []model.DomainEvent
	if err := r.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("created_at asc").
		Order("id asc").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *eventGormRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&model.DomainEvent{}).
		Where("id = ? AND published_at IS NULL", id).
		Update("published_at", at)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}
