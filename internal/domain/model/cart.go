package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// 追加時点の商品情報
type ProductSnapshot struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
	Brand string `json:"brand,omitempty"`
	Stock int    `json:"stock"`
}

// カートの明細
// 同一性は (ProductID, OptionsKey)
type CartLine struct {
	ID                string            `json:"id"`
	ProductID         string            `json:"product_id"`
	Options           map[string]string `json:"options,omitempty"`
	OptionsKey        string            `json:"options_key"`
	Quantity          int               `json:"quantity"`
	UnitPrice         decimal.Decimal   `json:"unit_price"`
	OriginalUnitPrice decimal.Decimal   `json:"original_unit_price"`
	SellerID          string            `json:"seller_id"`
	SellerName        string            `json:"seller_name"`
	Product           *ProductSnapshot  `json:"product,omitempty"`
	AddedAt           time.Time         `json:"added_at"`
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l CartLine) OriginalLineTotal() decimal.Decimal {
	return l.OriginalUnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// セッション単位のカート。KeyValueStore に JSON で保存する
type Cart struct {
	SessionID string     `json:"session_id"`
	Lines     []CartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// オプションの正規化キー。map の JSON はキー順で出力される
func OptionsFingerprint(options map[string]string) string {
	if len(options) == 0 {
		return ""
	}
	b, err := json.Marshal(options)
	if err != nil {
		return ""
	}
	return string(b)
}

func (c *Cart) IndexOf(productID string, optionsKey string) int {
	for i, l := range c.Lines {
		if l.ProductID == productID && l.OptionsKey == optionsKey {
			return i
		}
	}
	return -1
}

func (c *Cart) IndexOfLine(lineID string) int {
	for i, l := range c.Lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

func (c *Cart) RemoveAt(i int) {
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
}

func (c Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

func (c Cart) OriginalTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.OriginalLineTotal())
	}
	return total
}

// 出品者ごとの小計。出現順を保つ
func (c Cart) BySeller() []SellerSubtotal {
	groups := []SellerSubtotal{}
	index := map[string]int{}
	for _, l := range c.Lines {
		i, ok := index[l.SellerID]
		if !ok {
			i = len(groups)
			index[l.SellerID] = i
			groups = append(groups, SellerSubtotal{
				SellerID:   l.SellerID,
				SellerName: l.SellerName,
				Subtotal:   decimal.Zero,
			})
		}
		groups[i].Lines = append(groups[i].Lines, l)
		groups[i].ItemCount += l.Quantity
		groups[i].Subtotal = groups[i].Subtotal.Add(l.LineTotal())
	}
	return groups
}

func (c Cart) Clone() Cart {
	out := c
	out.Lines = make([]CartLine, len(c.Lines))
	for i, l := range c.Lines {
		if l.Options != nil {
			opts := make(map[string]string, len(l.Options))
			for k, v := range l.Options {
				opts[k] = v
			}
			l.Options = opts
		}
		if l.Product != nil {
			snap := *l.Product
			l.Product = &snap
		}
		out.Lines[i] = l
	}
	return out
}

type SellerSubtotal struct {
	SellerID   string          `json:"seller_id"`
	SellerName string          `json:"seller_name"`
	Lines      []CartLine      `json:"lines"`
	ItemCount  int             `json:"item_count"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// 明細ごとの指摘
type CartIssue struct {
	LineID    string `json:"line_id"`
	ProductID string `json:"product_id"`
	Message   string `json:"message"`
}

type CartValidation struct {
	Valid    bool        `json:"valid"`
	Errors   []CartIssue `json:"errors"`
	Warnings []CartIssue `json:"warnings"`
}

type CartSummary struct {
	Lines              []CartLine       `json:"lines"`
	LineCount          int              `json:"line_count"`
	ItemCount          int              `json:"item_count"`
	Total              decimal.Decimal  `json:"total"`
	OriginalTotal      decimal.Decimal  `json:"original_total"`
	Savings            decimal.Decimal  `json:"savings"`
	DiscountPercentage int64            `json:"discount_percentage"`
	Sellers            []SellerSubtotal `json:"sellers"`
	Validation         CartValidation   `json:"validation"`
}
