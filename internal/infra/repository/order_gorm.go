package repository

import (
	"context"
	"errors"

	"commerce/internal/domain/model"
	repo "commerce/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 注文の可変項目。金額・明細は作成後に変えない
var orderMutableColumns = []string{
	"status",
	"payment_status",
	"refunded_amount",
	"tracking_number",
	"carrier",
	"updated_at",
}

type OrderGormRepository struct {
	db *gorm.DB
}

func NewOrderGormRepository(db *gorm.DB) *OrderGormRepository {
	return &OrderGormRepository{db: db}
}

func (r *OrderGormRepository) FindByID(ctx context.Context, orderID string) (model.Order, error) {
	var o model.Order
	err := r.withDetails(r.db.WithContext(ctx)).
		Where("id = ?", orderID).
		First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Order{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (r *OrderGormRepository) List(ctx context.Context, f repo.OrderListFilter) ([]model.Order, error) {
	q := r.withDetails(r.db.WithContext(ctx)).Model(&model.Order{})

	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	//新しい順
	q = q.Order("created_at desc").Order("id desc")

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var orders []model.Order
	if err := q.Limit(limit).Offset(offset).Find(&orders).Error; err != nil {
		return []model.Order{}, err
	}
	return orders, nil
}

// 注文・明細・最初の履歴を1トランザクションで作る
func (r *OrderGormRepository) Create(ctx context.Context, order model.Order) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items := order.Items
		history := order.History
		order.Items = nil
		order.History = nil

		if err := tx.Omit(clause.Associations).Create(&order).Error; err != nil {
			return err
		}

		if len(items) > 0 {
			for i := range items {
				items[i].OrderID = order.ID
			}
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}

		if len(history) > 0 {
			for i := range history {
				history[i].OrderID = order.ID
			}
			if err := tx.Create(&history).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// 可変項目を更新し、履歴を追記する
func (r *OrderGormRepository) Update(ctx context.Context, order model.Order, appended []model.OrderHistory) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := order
		row.Items = nil
		row.History = nil

		res := tx.Model(&model.Order{}).
			Where("id = ?", order.ID).
			Select(orderMutableColumns).
			Omit(clause.Associations).
			Updates(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repo.ErrNotFound
		}

		if len(appended) == 0 {
			return nil
		}
		entries := make([]model.OrderHistory, len(appended))
		copy(entries, appended)
		for i := range entries {
			entries[i].ID = 0
			entries[i].OrderID = order.ID
		}
		return tx.Create(&entries).Error
	})
}

func (r *OrderGormRepository) withDetails(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") })
}
