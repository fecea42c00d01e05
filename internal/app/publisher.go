package app

import (
	"fmt"
	"log"

	"commerce/internal/config"
	"commerce/internal/infra/events"
)

// OpenPublisher は EVENT_PUBLISHER に応じたブローカーへの送信口を返す
func OpenPublisher(cfg config.Config, logger *log.Logger) (events.Publisher, error) {
	switch cfg.EventPublisher {
	case config.PublisherRabbitMQ:
		p, err := events.DialRabbit(cfg.RabbitMQURL, cfg.RabbitMQQueue)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		return p, nil
	case config.PublisherKafka:
		return events.NewKafkaPublisher(cfg.KafkaTopic, cfg.KafkaBrokers...), nil
	default:
		return events.NewLogPublisher(logger), nil
	}
}
