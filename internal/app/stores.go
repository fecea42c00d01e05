package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"commerce/internal/config"
	"commerce/internal/domain/model"
	"commerce/internal/infra/db"
	"commerce/internal/infra/memory"
	infraRepo "commerce/internal/infra/repository"
	repo "commerce/internal/repository"

	"github.com/redis/go-redis/v9"
)

const cartKeyPrefix = "commerce:"

// Stores はユースケースが使う保存先一式
type Stores struct {
	Products repo.ProductRepository
	Orders   repo.OrderRepository
	Payments repo.PaymentRepository
	Events   repo.EventRepository
	Carts    repo.KeyValueStore

	closers []func() error
}

func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// MemoryStores はプロセス内だけで完結する保存先
func MemoryStores(products ...model.Product) *Stores {
	return &Stores{
		Products: memory.NewProductStore(products...),
		Orders:   memory.NewOrderStore(),
		Payments: memory.NewPaymentStore(),
		Events:   memory.NewEventStore(),
		Carts:    memory.NewKVStore(),
	}
}

// OpenStores は設定に従って保存先を開く。
// カートは REDIS_ADDR があれば Redis、無ければ注文と同じ保存先に置く
func OpenStores(ctx context.Context, cfg config.Config, logger *log.Logger) (*Stores, error) {
	if logger == nil {
		logger = log.Default()
	}

	var s *Stores
	switch cfg.Storage {
	case config.StorageMemory:
		s = MemoryStores()
		logger.Printf("storage: memory")
	default:
		gormDB, err := db.Connect(cfg.DSN())
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(gormDB); err != nil {
			_ = db.Close(gormDB)
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s = &Stores{
			Products: infraRepo.NewProductGormRepository(gormDB),
			Orders:   infraRepo.NewOrderGormRepository(gormDB),
			Payments: infraRepo.NewPaymentGormRepository(gormDB),
			Events:   infraRepo.NewEventGormRepository(gormDB),
			Carts:    infraRepo.NewCartGormStore(gormDB),
			closers:  []func() error{func() error { return db.Close(gormDB) }},
		}
		logger.Printf("storage: postgres")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = s.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		s.Carts = infraRepo.NewCartRedisStore(client, cartKeyPrefix, cfg.CartTTL)
		s.closers = append(s.closers, client.Close)
		logger.Printf("cart store: redis %s", cfg.RedisAddr)
	}

	return s, nil
}
