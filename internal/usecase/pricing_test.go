package usecase_test

import (
	"testing"

	"commerce/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPricingPolicy_Compute(t *testing.T) {
	p := usecase.DefaultPricingPolicy()

	tests := []struct {
		name     string
		subtotal string
		sellers  int
		discount string
		shipping string
		total    string
	}{
		{name: "below tiers", subtotal: "40.00", sellers: 1, discount: "0.00", shipping: "5.99", total: "49.19"},
		{name: "five percent tier", subtotal: "50.00", sellers: 1, discount: "2.50", shipping: "5.99", total: "57.49"},
		{name: "ten percent tier", subtotal: "110.00", sellers: 1, discount: "11.00", shipping: "5.99", total: "113.79"},
		{name: "extra sellers", subtotal: "110.00", sellers: 3, discount: "11.00", shipping: "11.97", total: "119.77"},
		{name: "no sellers", subtotal: "0", sellers: 0, discount: "0", shipping: "0", total: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := p.Compute(money(tt.subtotal), tt.sellers)
			assert.True(t, money(tt.discount).Equal(a.Discount), "discount=%s", a.Discount)
			assert.True(t, money(tt.shipping).Equal(a.Shipping), "shipping=%s", a.Shipping)
			assert.True(t, money(tt.total).Equal(a.Total), "total=%s", a.Total)
			assert.True(t, a.Subtotal.Add(a.Tax).Add(a.Shipping).Sub(a.Discount).Equal(a.Total))
		})
	}
}

func TestPricingPolicy_TierOrderDoesNotMatter(t *testing.T) {
	p := usecase.DefaultPricingPolicy()
	p.DiscountTiers = []usecase.DiscountTier{
		{Threshold: decimal.NewFromInt(50), Rate: money("0.05")},
		{Threshold: decimal.NewFromInt(100), Rate: money("0.10")},
	}

	a := p.Compute(money("120.00"), 1)
	assert.True(t, money("12.00").Equal(a.Discount), a.Discount.String())
}
