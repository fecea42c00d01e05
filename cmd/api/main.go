package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"commerce/internal/app"
	"commerce/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	logger := log.New(os.Stdout, "[commerce-api] ", log.LstdFlags|log.Lshortfile)

	//.envは無くてもよい
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	//保存先（Postgres or memory, カートは Redis も可）
	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("open stores: %v", err)
	}

	//アウトボックスの送信先
	publisher, err := app.OpenPublisher(cfg, logger)
	if err != nil {
		_ = stores.Close()
		logger.Fatalf("open publisher: %v", err)
	}

	a := app.New(cfg, stores, app.Options{Logger: logger})

	if err := a.Run(ctx, publisher); err != nil {
		logger.Printf("server error: %v", err)
	}

	if err := publisher.Close(); err != nil {
		logger.Printf("publisher close error: %v", err)
	}
	if err := a.Close(); err != nil {
		logger.Printf("close error: %v", err)
	}
	logger.Printf("server exited")
}
