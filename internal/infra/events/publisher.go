package events

import (
	"context"
	"log"
)

// ブローカーへの送信
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// LogPublisher はブローカーを使わないときの送信先
type LogPublisher struct {
	logger *log.Logger
}

func NewLogPublisher(logger *log.Logger) *LogPublisher {
	if logger == nil {
		logger = log.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	p.logger.Printf("publish %s key=%s %s", msg.Name, msg.Key, msg.Body)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
