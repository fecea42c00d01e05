package repository

import (
	"context"
	"time"

	"commerce/internal/domain/model"
)

type OrderListFilter struct {
	Status        model.OrderStatus
	PaymentStatus model.OrderPaymentStatus
	SessionID     string
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID string) (model.Order, error)
	List(ctx context.Context, f OrderListFilter) ([]model.Order, error)

	//注文・明細・最初の履歴をまとめて保存
	Create(ctx context.Context, order model.Order) error
	//可変項目の更新と履歴の追記
	Update(ctx context.Context, order model.Order, appended []model.OrderHistory) error
}
