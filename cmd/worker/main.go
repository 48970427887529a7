package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"pnldash/internal/config"
	"pnldash/internal/database"
	"pnldash/internal/exchange"
	"pnldash/internal/queue"
	"pnldash/internal/service"
	"pnldash/internal/worker"

	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()

	db, err := database.Open(cfg.PostgresURL)
	if err != nil {
		logger.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	rdb, err := queue.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis connect failed: %v", err)
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factory := exchange.NewFactory(cfg.BinanceBaseURL, cfg.SettlementAsset, cfg.ExchangeRPS, cfg.PriceCacheTTL, logger)
	factory.Prices.Start(ctx, time.Minute)
	clients := func(apiKey, secretKey string) exchange.PriceHistoryClient {
		return factory.New(apiKey, secretKey)
	}

	w := worker.New(
		queue.New(rdb, logger),
		database.New(db, logger),
		clients,
		service.NewPnLService(cfg.QuoteSymbol, logger),
		cfg.WorkerConcurrency,
		logger,
	)
	if err := w.Run(ctx); err != nil {
		logger.Fatalf("worker: %v", err)
	}
}
