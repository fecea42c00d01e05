package usecase

import (
	"sort"

	"github.com/shopspring/decimal"
)

// 小計がしきい値以上なら Rate を割り引く
type DiscountTier struct {
	Threshold decimal.Decimal
	Rate      decimal.Decimal
}

// 税・送料・割引の計算ルール
type PricingPolicy struct {
	Currency               string
	TaxRate                decimal.Decimal
	ShippingBase           decimal.Decimal
	ShippingPerExtraSeller decimal.Decimal
	DiscountTiers          []DiscountTier
}

func DefaultPricingPolicy() PricingPolicy {
	return PricingPolicy{
		Currency:               "USD",
		TaxRate:                decimal.RequireFromString("0.08"),
		ShippingBase:           decimal.RequireFromString("5.99"),
		ShippingPerExtraSeller: decimal.RequireFromString("2.99"),
		DiscountTiers: []DiscountTier{
			{Threshold: decimal.NewFromInt(100), Rate: decimal.RequireFromString("0.10")},
			{Threshold: decimal.NewFromInt(50), Rate: decimal.RequireFromString("0.05")},
		},
	}
}

type Amounts struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Compute は total = subtotal + tax + shipping - discount を返す。各項目は小数2桁に丸める
func (p PricingPolicy) Compute(subtotal decimal.Decimal, sellerCount int) Amounts {
	subtotal = subtotal.Round(2)
	tax := subtotal.Mul(p.TaxRate).Round(2)

	shipping := decimal.Zero
	if sellerCount > 0 {
		extra := decimal.NewFromInt(int64(sellerCount - 1))
		shipping = p.ShippingBase.Add(p.ShippingPerExtraSeller.Mul(extra)).Round(2)
	}

	discount := subtotal.Mul(p.discountRate(subtotal)).Round(2)

	return Amounts{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    subtotal.Add(tax).Add(shipping).Sub(discount),
	}
}

// 一番高いしきい値から順に判定
func (p PricingPolicy) discountRate(subtotal decimal.Decimal) decimal.Decimal {
	tiers := append([]DiscountTier(nil), p.DiscountTiers...)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].Threshold.GreaterThan(tiers[j].Threshold)
	})
	for _, t := range tiers {
		if subtotal.GreaterThanOrEqual(t.Threshold) {
			return t.Rate
		}
	}
	return decimal.Zero
}
