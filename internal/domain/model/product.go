package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// カタログの商品。カート行のスナップショット元
type Product struct {
	ID            string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name          string          `gorm:"type:varchar(255);not null" json:"name"`
	Brand         string          `gorm:"type:varchar(255)" json:"brand"`
	Image         string          `gorm:"type:text" json:"image"`
	Price         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	OriginalPrice decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"original_price"`
	Stock         int             `gorm:"not null" json:"stock"`
	SellerID      string          `gorm:"type:varchar(64);not null;index" json:"seller_id"`
	SellerName    string          `gorm:"type:varchar(255)" json:"seller_name"`
	IsActive      bool            `gorm:"not null" json:"is_active"`
	CreatedAt     time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
}

// 定価が無い商品は販売価格を定価として扱う
func (p Product) ListPrice() decimal.Decimal {
	if p.OriginalPrice.IsZero() || p.OriginalPrice.LessThan(p.Price) {
		return p.Price
	}
	return p.OriginalPrice
}
