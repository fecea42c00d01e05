package usecase

import (
	"context"
	"time"

	"commerce/internal/domain/model"

	"github.com/shopspring/decimal"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID() string
}

// カード番号・期限・CVV の検証（ゲートウェイ呼び出し前に必ず通す）
type CardValidator interface {
	ValidateCard(card model.CardDetails) error
}

// 購入者情報・住所の検証
type CheckoutValidator interface {
	ValidateCustomer(c model.Customer) error
	ValidateAddress(a model.Address) error
}

type GatewayRequest struct {
	// 冪等キー。再送しても二重オーソリにならない
	PaymentID string
	OrderID   string
	Method    model.PaymentMethod
	Amount    decimal.Decimal
	Currency  string
	Card      *model.CardDetails
	Details   map[string]string
}

type GatewayResult struct {
	Approved      bool
	Reference     string
	DeclineReason string
	Raw           map[string]any
}

// カードネットワーク・ウォレットの抽象。返す error はネットワーク系のみ
type Gateway interface {
	Authorize(ctx context.Context, req GatewayRequest) (GatewayResult, error)
}

// 送りっぱなしのイベント記録。失敗してもパイプラインは止めない
type EventSink interface {
	Record(ctx context.Context, name model.EventName, resource model.EventResourceType, resourceID string, payload any)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock は実時間の Clock
func SystemClock() Clock { return systemClock{} }

type nopSink struct{}

func (nopSink) Record(context.Context, model.EventName, model.EventResourceType, string, any) {}

// NopSink は何も記録しない EventSink
func NopSink() EventSink { return nopSink{} }
