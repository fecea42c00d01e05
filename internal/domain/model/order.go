package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// 遷移表。同じステータスの再適用は非終端のみ許可
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusPending, OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusConfirmed, OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing: {OrderStatusProcessing, OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusShipped, OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// 全額返金で REFUNDED に移れる状態。DELIVERED は返品として例外的に含む
var orderRefundableFrom = map[OrderStatus]bool{
	OrderStatusConfirmed:  true,
	OrderStatusProcessing: true,
	OrderStatusShipped:    true,
	OrderStatusDelivered:  true,
}

// 進捗の順序（追跡番号の付与判定で使う）
var orderRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRefunded
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s OrderStatus) RefundMovesTo() bool {
	return orderRefundableFrom[s]
}

// CONFIRMED 以降の進行中ステータスか
func (s OrderStatus) AtLeastConfirmed() bool {
	r, ok := orderRank[s]
	return ok && r >= orderRank[OrderStatusConfirmed]
}

type OrderPaymentStatus string

const (
	OrderPaymentPending           OrderPaymentStatus = "PENDING"
	OrderPaymentPaid              OrderPaymentStatus = "PAID"
	OrderPaymentFailed            OrderPaymentStatus = "FAILED"
	OrderPaymentRefunded          OrderPaymentStatus = "REFUNDED"
	OrderPaymentPartiallyRefunded OrderPaymentStatus = "PARTIALLY_REFUNDED"
)

type Customer struct {
	Name  string `gorm:"type:varchar(255)" json:"name"`
	Email string `gorm:"type:varchar(255);index" json:"email"`
	Phone string `gorm:"type:varchar(50)" json:"phone"`
}

type Address struct {
	FirstName string `gorm:"type:varchar(255)" json:"first_name"`
	LastName  string `gorm:"type:varchar(255)" json:"last_name"`
	Street    string `gorm:"type:varchar(255)" json:"street"`
	City      string `gorm:"type:varchar(255)" json:"city"`
	State     string `gorm:"type:varchar(255)" json:"state"`
	Zip       string `gorm:"type:varchar(20)" json:"zip"`
	Country   string `gorm:"type:varchar(100)" json:"country"`
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// 注文。合計は作成時に一度だけ計算し、返金は RefundedAmount に別途記録する
type Order struct {
	ID                string             `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderNumber       string             `gorm:"type:varchar(20);not null;index" json:"order_number"`
	SessionID         string             `gorm:"type:varchar(128);not null;index" json:"session_id"`
	Customer          Customer           `gorm:"embedded;embeddedPrefix:customer_" json:"customer"`
	ShippingAddress   Address            `gorm:"embedded;embeddedPrefix:ship_" json:"shipping_address"`
	BillingAddress    Address            `gorm:"embedded;embeddedPrefix:bill_" json:"billing_address"`
	Items             []OrderItem        `gorm:"foreignKey:OrderID" json:"items"`
	Subtotal          decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"subtotal"`
	Tax               decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"tax"`
	Shipping          decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"shipping"`
	Discount          decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"discount"`
	Total             decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"total"`
	RefundedAmount    decimal.Decimal    `gorm:"type:numeric(12,2);not null;default:0" json:"refunded_amount"`
	Currency          string             `gorm:"type:varchar(3);not null" json:"currency"`
	Status            OrderStatus        `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentStatus     OrderPaymentStatus `gorm:"type:varchar(20);not null;index" json:"payment_status"`
	PaymentMethod     PaymentMethod      `gorm:"type:varchar(30)" json:"payment_method"`
	TrackingNumber    *string            `gorm:"type:varchar(100)" json:"tracking_number"`
	Carrier           *string            `gorm:"type:varchar(100)" json:"carrier"`
	EstimatedDelivery time.Time          `gorm:"not null" json:"estimated_delivery"`
	History           []OrderHistory     `gorm:"foreignKey:OrderID" json:"history"`
	CreatedAt         time.Time          `gorm:"not null;index" json:"created_at"`
	UpdatedAt         time.Time          `gorm:"not null" json:"updated_at"`
}

// 返金可能な残額
func (o Order) Refundable() decimal.Decimal {
	return o.Total.Sub(o.RefundedAmount)
}

// キャッシュや呼び出し元と共有しないための深いコピー
func (o Order) Clone() Order {
	out := o
	out.Items = append([]OrderItem(nil), o.Items...)
	out.History = append([]OrderHistory(nil), o.History...)
	if o.TrackingNumber != nil {
		v := *o.TrackingNumber
		out.TrackingNumber = &v
	}
	if o.Carrier != nil {
		v := *o.Carrier
		out.Carrier = &v
	}
	return out
}

// 注文時点のカート明細のコピー
type OrderItem struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID           string          `gorm:"type:varchar(36);not null;index" json:"order_id"`
	ProductID         string          `gorm:"type:varchar(64);not null;index" json:"product_id"`
	ProductName       string          `gorm:"type:varchar(255);not null" json:"product_name"`
	Image             string          `gorm:"type:text" json:"image"`
	Options           string          `gorm:"type:text" json:"options"`
	Quantity          int             `gorm:"not null" json:"quantity"`
	UnitPrice         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unit_price"`
	OriginalUnitPrice decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"original_unit_price"`
	SellerID          string          `gorm:"type:varchar(64);not null;index" json:"seller_id"`
	SellerName        string          `gorm:"type:varchar(255)" json:"seller_name"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// 追記のみの履歴
type OrderHistory struct {
	ID        int64       `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID   string      `gorm:"type:varchar(36);not null;index" json:"-"`
	Status    OrderStatus `gorm:"type:varchar(20);not null" json:"status"`
	Note      string      `gorm:"type:text" json:"note"`
	CreatedAt time.Time   `gorm:"not null" json:"timestamp"`
}

func (OrderHistory) TableName() string {
	return "order_history"
}
