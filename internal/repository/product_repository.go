package repository

import (
	"commerce/internal/domain/model"
	"context"
	"errors"
)

var ErrNotFound = errors.New("not found")

// 一覧検索
type ProductListQuery struct {
	SellerID string
	Limit    int
	Offset   int
}

// 商品カタログの参照。在庫・価格の最新値はここから取る
type Catalog interface {
	GetProduct(ctx context.Context, id string) (model.Product, error)
}

// 商品の永続化（保存・取得）だけを約束。
type ProductRepository interface {
	Catalog
	List(ctx context.Context, q ProductListQuery) ([]model.Product, error)
	Upsert(ctx context.Context, p model.Product) error
	SetStock(ctx context.Context, id string, stock int) error
}
