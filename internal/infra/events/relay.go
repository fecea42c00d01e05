package events

import (
	"context"
	"log"
	"time"

	repo "commerce/internal/repository"
	"commerce/internal/usecase"
)

const (
	DefaultRelayInterval = time.Second
	DefaultRelayBatch    = 100
)

// Relay はアウトボックスの未送信イベントをブローカーに送る。
// 送れたものだけ送信済みにするので、落ちても次の周期で再送される
type Relay struct {
	events    repo.EventRepository
	publisher Publisher
	clock     usecase.Clock
	logger    *log.Logger
	batch     int
}

func NewRelay(events repo.EventRepository, publisher Publisher, clock usecase.Clock, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.Default()
	}
	return &Relay{
		events:    events,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		batch:     DefaultRelayBatch,
	}
}

func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRelayInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				r.logger.Printf("failed to fetch events %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RelayOnce は1バッチ分を送り、送信済みにできた件数を返す
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	pending, err := r.events.ListUnpublished(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ev := range pending {
		msg, err := NewMessage(ev)
		if err != nil {
			r.logger.Printf("failed to encode event id = %v with error %v", ev.ID, err)
			continue
		}
		if err := r.publisher.Publish(ctx, msg); err != nil {
			r.logger.Printf("failed to publish event id = %v with error %v", ev.ID, err)
			// 後ろを先に送ると順序が崩れるのでここで止める
			break
		}
		if err := r.events.MarkPublished(ctx, ev.ID, r.clock.Now()); err != nil {
			r.logger.Printf("failed to mark event as published id = %v with error %v", ev.ID, err)
			continue
		}
		sent++
	}
	return sent, nil
}
