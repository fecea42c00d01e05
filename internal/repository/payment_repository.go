package repository

import (
	"context"
	"time"

	"commerce/internal/domain/model"
)

type PaymentListFilter struct {
	OrderID string
	Status  model.PaymentStatus
	Method  model.PaymentMethod
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}

type PaymentRepository interface {
	FindByID(ctx context.Context, paymentID string) (model.Payment, error)
	List(ctx context.Context, f PaymentListFilter) ([]model.Payment, error)
	Create(ctx context.Context, p model.Payment) error
	//状態の更新と返金の追記
	Update(ctx context.Context, p model.Payment, appended []model.PaymentRefund) error
}
