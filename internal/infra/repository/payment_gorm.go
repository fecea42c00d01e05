package repository

import (
	"context"
	"errors"

	"commerce/internal/domain/model"
	repo "commerce/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var paymentMutableColumns = []string{
	"status",
	"transaction_id",
	"gateway_response",
	"failure_reason",
	"processed_at",
	"updated_at",
}

type PaymentGormRepository struct {
	db *gorm.DB
}

func NewPaymentGormRepository(db *gorm.DB) *PaymentGormRepository {
	return &PaymentGormRepository{db: db}
}

func (r *PaymentGormRepository) FindByID(ctx context.Context, paymentID string) (model.Payment, error) {
	var p model.Payment
	err := r.db.WithContext(ctx).
		Preload("Refunds", func(db *gorm.DB) *gorm.DB { return db.Order("created_at asc").Order("id asc") }).
		Where("id = ?", paymentID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Payment{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Payment{}, err
	}
	return p, nil
}

// 作成順（古い順）で返す
func (r *PaymentGormRepository) List(ctx context.Context, f repo.PaymentListFilter) ([]model.Payment, error) {
	q := r.db.WithContext(ctx).
		Model(&model.Payment{}).
		Preload("Refunds", func(db *gorm.DB) *gorm.DB { return db.Order("created_at asc").Order("id asc") })

	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Method != "" {
		q = q.Where("method = ?", f.Method)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var payments []model.Payment
	if err := q.Order("created_at asc").Order("id asc").Limit(limit).Offset(offset).Find(&payments).Error; err != nil {
		return []model.Payment{}, err
	}
	return payments, nil
}

func (r *PaymentGormRepository) Create(ctx context.Context, p model.Payment) error {
	p.Refunds = nil
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(&p).Error
}

// 状態を更新し、返金を追記する
func (r *PaymentGormRepository) Update(ctx context.Context, p model.Payment, appended []model.PaymentRefund) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := p
		row.Refunds = nil

		res := tx.Model(&model.Payment{}).
			Where("id = ?", p.ID).
			Select(paymentMutableColumns).
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
		refunds := make([]model.PaymentRefund, len(appended))
		copy(refunds, appended)
		for i := range refunds {
			refunds[i].PaymentID = p.ID
		}
		return tx.Create(&refunds).Error
	})
}
