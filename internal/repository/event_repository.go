package repository

import (
	"context"
	"time"

	"commerce/internal/domain/model"
)

// アウトボックスの保存・取り出しの約束。
type EventRepository interface {
	//イベントを1件保存
	Create(ctx context.Context, ev model.DomainEvent) error

	//未送信を古い順に取得
	ListUnpublished(ctx context.Context, limit int) ([]model.DomainEvent, error)

	//送信済みにする
	MarkPublished(ctx context.Context, id string, at time.Time) error
}
