package usecase

import (
	"context"
	"errors"
	"strings"

	"commerce/internal/domain/model"
	repo "commerce/internal/repository"
	"commerce/internal/retry"

	"github.com/shopspring/decimal"
)

type ProductUsecase struct {
	productRepo repo.ProductRepository
	clock       Clock
	policy      retry.Policy
}

// DI
func NewProductUsecase(productRepo repo.ProductRepository, clock Clock, policy retry.Policy) *ProductUsecase {
	return &ProductUsecase{
		productRepo: productRepo,
		clock:       clock,
		policy:      policy,
	}
}

// GET /products の入力
type ListProductsInput struct {
	SellerID string
	Limit    int
	Offset   int
}

type ProductListOutput struct {
	Items  []model.Product `json:"items"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (u *ProductUsecase) ListProducts(ctx context.Context, in ListProductsInput) (ProductListOutput, error) {
	if in.Limit < 1 || in.Limit > 100 {
		return ProductListOutput{}, NewAppError(KindValidation, "invalid limit")
	}
	if in.Offset < 0 {
		return ProductListOutput{}, NewAppError(KindValidation, "invalid offset")
	}

	items, err := retry.DoValue(ctx, u.policy, func(ctx context.Context) ([]model.Product, error) {
		return u.productRepo.List(ctx, repo.ProductListQuery{
			SellerID: strings.TrimSpace(in.SellerID),
			Limit:    in.Limit,
			Offset:   in.Offset,
		})
	})
	if err != nil {
		return ProductListOutput{}, wrapError(KindInternal, "db error", err)
	}

	return ProductListOutput{Items: items, Limit: in.Limit, Offset: in.Offset}, nil
}

// 非公開の商品は存在しない扱い
func (u *ProductUsecase) GetProduct(ctx context.Context, productID string) (model.Product, error) {
	if strings.TrimSpace(productID) == "" {
		return model.Product{}, NewAppError(KindValidation, "invalid product id")
	}

	p, err := retry.DoValue(ctx, u.policy, func(ctx context.Context) (model.Product, error) {
		return u.productRepo.GetProduct(ctx, productID)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, NewAppError(KindNotFound, "not found")
	}
	if err != nil {
		return model.Product{}, wrapError(KindInternal, "db error", err)
	}
	if !p.IsActive {
		return model.Product{}, NewAppError(KindNotFound, "not found")
	}
	return p, nil
}

type AdminUpsertProductInput struct {
	ID            string
	Name          string
	Brand         string
	Image         string
	Price         decimal.Decimal
	OriginalPrice decimal.Decimal
	Stock         int
	SellerID      string
	SellerName    string
	IsActive      bool
}

// 管理者による登録・更新（ID が同じなら上書き）
func (u *ProductUsecase) AdminUpsertProduct(ctx context.Context, in AdminUpsertProductInput) (model.Product, error) {
	if strings.TrimSpace(in.ID) == "" {
		return model.Product{}, NewAppError(KindValidation, "id required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return model.Product{}, NewAppError(KindValidation, "name required")
	}
	if strings.TrimSpace(in.SellerID) == "" {
		return model.Product{}, NewAppError(KindValidation, "seller_id required")
	}
	if in.Price.IsNegative() {
		return model.Product{}, NewAppError(KindValidation, "price must be >= 0")
	}
	if in.OriginalPrice.IsNegative() {
		return model.Product{}, NewAppError(KindValidation, "original_price must be >= 0")
	}
	if in.Stock < 0 {
		return model.Product{}, NewAppError(KindValidation, "stock must be >= 0")
	}

	now := u.clock.Now()
	p := model.Product{
		ID:            strings.TrimSpace(in.ID),
		Name:          strings.TrimSpace(in.Name),
		Brand:         strings.TrimSpace(in.Brand),
		Image:         in.Image,
		Price:         in.Price.Round(2),
		OriginalPrice: in.OriginalPrice.Round(2),
		Stock:         in.Stock,
		SellerID:      strings.TrimSpace(in.SellerID),
		SellerName:    strings.TrimSpace(in.SellerName),
		IsActive:      in.IsActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := retry.Do(ctx, u.policy, func(ctx context.Context) error {
		return u.productRepo.Upsert(ctx, p)
	})
	if err != nil {
		return model.Product{}, wrapError(KindInternal, "db error", err)
	}
	return p, nil
}

func (u *ProductUsecase) AdminSetStock(ctx context.Context, productID string, stock int) error {
	if strings.TrimSpace(productID) == "" {
		return NewAppError(KindValidation, "invalid product id")
	}
	if stock < 0 {
		return NewAppError(KindValidation, "stock must be >= 0")
	}

	err := retry.Do(ctx, u.policy, func(ctx context.Context) error {
		return u.productRepo.SetStock(ctx, productID, stock)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return NewAppError(KindNotFound, "not found")
	}
	if err != nil {
		return wrapError(KindInternal, "db error", err)
	}
	return nil
}
