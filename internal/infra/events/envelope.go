// Package events はドメインイベントの記録（アウトボックス）とブローカーへの中継。
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"commerce/internal/domain/model"
)

const (
	EnvelopeVersion = 1
	Producer        = "commerce"
)

// ブローカーに流す形
type Envelope[T any] struct {
	EventName    string    `json:"eventName"`
	EventVersion int       `json:"eventVersion"`
	EventID      string    `json:"eventId"`
	Producer     string    `json:"producer"`
	PartitionKey string    `json:"partitionKey"`
	ResourceType string    `json:"resourceType"`
	OccurredAt   time.Time `json:"occurredAt"`
	Payload      T         `json:"payload"`
}

// Validate はイベント名とバージョンを確認する
func (e Envelope[T]) Validate(expectedName model.EventName) error {
	if e.EventName != string(expectedName) {
		return fmt.Errorf("unexpected eventName: %s", e.EventName)
	}
	if e.EventVersion != EnvelopeVersion {
		return fmt.Errorf("unexpected eventVersion: %d", e.EventVersion)
	}
	return nil
}

// 送信単位。Key は同じ注文・決済の順序を保つために使う
type Message struct {
	ID   string
	Name model.EventName
	Key  string
	Body []byte
}

// アウトボックスの行をエンベロープに包む
func NewMessage(ev model.DomainEvent) (Message, error) {
	payload := json.RawMessage(ev.PayloadJSON)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	env := Envelope[json.RawMessage]{
		EventName:    string(ev.Name),
		EventVersion: EnvelopeVersion,
		EventID:      ev.ID,
		Producer:     Producer,
		PartitionKey: ev.ResourceID,
		ResourceType: string(ev.ResourceType),
		OccurredAt:   ev.CreatedAt.UTC(),
		Payload:      payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s envelope: %w", ev.Name, err)
	}
	return Message{ID: ev.ID, Name: ev.Name, Key: ev.ResourceID, Body: body}, nil
}

// ブローカーから読んだ本文を型付きで戻す
func DecodeEnvelope[T any](body []byte) (Envelope[T], error) {
	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope[T]{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}
