package repository

import (
	"context"
	"errors"
	"time"

	"commerce/internal/domain/model"
	repo "commerce/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// カートのJSONを cart_snapshots に置く KeyValueStore
type CartGormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// DI
func NewCartGormStore(db *gorm.DB) *CartGormStore {
	return &CartGormStore{db: db, now: time.Now}
}

func (s *CartGormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var row model.CartSnapshot
	err := s.db.WithContext(ctx).
		Where("snapshot_key = ?", key).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(row.Data), nil
}

// 同じキーなら上書き
func (s *CartGormStore) Set(ctx context.Context, key string, value []byte) error {
	row := model.CartSnapshot{
		Key:       key,
		Data:      string(value),
		UpdatedAt: s.now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "snapshot_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&row).Error
}

// 無いキーの削除はエラーにしない
func (s *CartGormStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).
		Where("snapshot_key = ?", key).
		Delete(&model.CartSnapshot{}).Error
}
