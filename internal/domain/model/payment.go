package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCreditCard     PaymentMethod = "credit_card"
	PaymentMethodDebitCard      PaymentMethod = "debit_card"
	PaymentMethodPayPal         PaymentMethod = "paypal"
	PaymentMethodStripe         PaymentMethod = "stripe"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodPayPal,
		PaymentMethodStripe, PaymentMethodCashOnDelivery, PaymentMethodBankTransfer:
		return true
	}
	return false
}

func (m PaymentMethod) IsCard() bool {
	return m == PaymentMethodCreditCard || m == PaymentMethodDebitCard
}

// 決済が外部で後から確定する方式
func (m PaymentMethod) SettlesOutOfBand() bool {
	return m == PaymentMethodCashOnDelivery || m == PaymentMethodBankTransfer
}

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusProcessing        PaymentStatus = "PROCESSING"
	PaymentStatusCompleted         PaymentStatus = "COMPLETED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:           {PaymentStatusProcessing, PaymentStatusCancelled},
	PaymentStatusProcessing:        {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusCompleted:         {PaymentStatusRefunded, PaymentStatusPartiallyRefunded},
	PaymentStatusPartiallyRefunded: {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
	PaymentStatusFailed:            {},
	PaymentStatusCancelled:         {},
	PaymentStatusRefunded:          {},
}

func (s PaymentStatus) IsTerminal() bool {
	return len(paymentTransitions[s]) == 0
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// カード情報。永続化しない
type CardDetails struct {
	Number         string `json:"number"`
	ExpiryMonth    int    `json:"expiry_month"`
	ExpiryYear     int    `json:"expiry_year"`
	CVV            string `json:"cvv"`
	CardholderName string `json:"cardholder_name"`
}

// ゲートウェイ応答（JSON で保存する不透明な値）
type GatewayResponse map[string]any

// 1回の決済試行
type Payment struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID         string          `gorm:"type:varchar(36);not null;index" json:"order_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency        string          `gorm:"type:varchar(3);not null" json:"currency"`
	Method          PaymentMethod   `gorm:"type:varchar(30);not null;index" json:"method"`
	Status          PaymentStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	TransactionID   *string         `gorm:"type:varchar(100)" json:"transaction_id"`
	GatewayResponse GatewayResponse `gorm:"type:text;serializer:json" json:"gateway_response"`
	FailureReason   *string         `gorm:"type:text" json:"failure_reason"`
	Refunds         []PaymentRefund `gorm:"foreignKey:PaymentID" json:"refunds"`
	ProcessedAt     *time.Time      `json:"processed_at"`
	CreatedAt       time.Time       `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"not null" json:"updated_at"`
}

func (p Payment) RefundedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, r := range p.Refunds {
		total = total.Add(r.Amount)
	}
	return total
}

func (p Payment) Clone() Payment {
	out := p
	out.Refunds = append([]PaymentRefund(nil), p.Refunds...)
	if p.GatewayResponse != nil {
		out.GatewayResponse = make(GatewayResponse, len(p.GatewayResponse))
		for k, v := range p.GatewayResponse {
			out.GatewayResponse[k] = v
		}
	}
	if p.TransactionID != nil {
		v := *p.TransactionID
		out.TransactionID = &v
	}
	if p.FailureReason != nil {
		v := *p.FailureReason
		out.FailureReason = &v
	}
	if p.ProcessedAt != nil {
		v := *p.ProcessedAt
		out.ProcessedAt = &v
	}
	return out
}

type PaymentRefund struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PaymentID string          `gorm:"type:varchar(36);not null;index" json:"payment_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Reason    string          `gorm:"type:text" json:"reason"`
	CreatedAt time.Time       `gorm:"not null" json:"timestamp"`
}
