package events

import (
	"context"
	"encoding/json"
	"log"

	"commerce/internal/domain/model"
	repo "commerce/internal/repository"
	"commerce/internal/usecase"
)

// OutboxSink はイベントをアウトボックステーブルに積む。
// 保存に失敗してもログだけ出して処理は続ける
type OutboxSink struct {
	events repo.EventRepository
	ids    usecase.IDGenerator
	clock  usecase.Clock
	logger *log.Logger
}

func NewOutboxSink(events repo.EventRepository, ids usecase.IDGenerator, clock usecase.Clock, logger *log.Logger) *OutboxSink {
	if logger == nil {
		logger = log.Default()
	}
	return &OutboxSink{events: events, ids: ids, clock: clock, logger: logger}
}

func (s *OutboxSink) Record(ctx context.Context, name model.EventName, resource model.EventResourceType, resourceID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Printf("event %s %s: marshal payload: %v", name, resourceID, err)
		return
	}

	ev := model.DomainEvent{
		ID:           s.ids.NewID(),
		Name:         name,
		ResourceType: resource,
		ResourceID:   resourceID,
		PayloadJSON:  string(body),
		CreatedAt:    s.clock.Now(),
	}
	// 呼び出し元のキャンセルで記録を落とさない
	if err := s.events.Create(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Printf("event %s %s: store: %v", name, resourceID, err)
	}
}

// LogSink はイベントをログに出すだけ
type LogSink struct {
	logger *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, name model.EventName, resource model.EventResourceType, resourceID string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("?")
	}
	s.logger.Printf("event %s %s=%s %s", name, resource, resourceID, body)
}
