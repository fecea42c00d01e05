package model

import "time"

// 注文・決済のライフサイクルイベント名
type EventName string

const (
	EventOrderCreated       EventName = "order_created"
	EventOrderStatusUpdated EventName = "order_status_updated"
	EventOrderRefunded      EventName = "order_refunded"
	EventTrackingAdded      EventName = "tracking_added"
	EventOrderReconciled    EventName = "order_reconciled"
	EventPaymentCompleted   EventName = "payment_completed"
	EventPaymentFailed      EventName = "payment_failed"
	EventPaymentRefunded    EventName = "payment_refunded"
	EventRefundOutOfSync    EventName = "refund_out_of_sync"
	EventCheckoutCompleted  EventName = "checkout_completed"
	EventCheckoutFailed     EventName = "checkout_failed"
)

// 何に対するイベントか
type EventResourceType string

const (
	EventResourceOrder   EventResourceType = "order"
	EventResourcePayment EventResourceType = "payment"
	EventResourceCart    EventResourceType = "cart"
)

// アウトボックスに積むドメインイベント。
// リレーがブローカーへ送ったら PublishedAt を埋める
type DomainEvent struct {
	//IDはイベントの主キー
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`

	//Nameは order_created / payment_failed など
	Name EventName `gorm:"type:varchar(50);not null;index" json:"name"`

	//対象の種類（order / payment / cart）
	ResourceType EventResourceType `gorm:"type:varchar(20);not null;index" json:"resource_type"`

	//対象のID
	ResourceID string `gorm:"type:varchar(128);not null;index" json:"resource_id"`

	//JSON文字列で保存する
	PayloadJSON string `gorm:"type:text" json:"payload"`

	//作成時刻
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`

	//送信済み時刻。未送信は NULL
	PublishedAt *time.Time `gorm:"index" json:"published_at"`
}

// カートの KeyValueStore を Postgres で持つときの行
type CartSnapshot struct {
	Key       string    `gorm:"primaryKey;column:snapshot_key;type:varchar(200)" json:"key"`
	Data      string    `gorm:"type:text;not null" json:"data"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}
