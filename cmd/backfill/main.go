package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"pnldash/internal/config"
	"pnldash/internal/database"
	"pnldash/internal/exchange"
	"pnldash/internal/models"
	"pnldash/internal/service"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// backfill computes and stores reports inline, without going through the queue.
func main() {
	userFlag := flag.String("user", "", "user id to backfill (default: every user with credentials)")
	rangesFlag := flag.String("ranges", "7d,30d", "comma separated range types")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()

	var ranges []models.RangeType
	for _, s := range strings.Split(*rangesFlag, ",") {
		rt, err := service.ParseDashboardRange(strings.TrimSpace(s))
		if err != nil {
			logger.Fatalf("ranges: %v", err)
		}
		ranges = append(ranges, rt)
	}

	db, err := database.Open(cfg.PostgresURL)
	if err != nil {
		logger.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	repo := database.New(db, logger)
	users := []string{*userFlag}
	if *userFlag == "" {
		if users, err = repo.UsersWithAPIKeys(ctx); err != nil {
			logger.Fatalf("list users: %v", err)
		}
	}

	factory := exchange.NewFactory(cfg.BinanceBaseURL, cfg.SettlementAsset, cfg.ExchangeRPS, cfg.PriceCacheTTL, logger)
	svc := service.NewPnLService(cfg.QuoteSymbol, logger)

	var saved, skipped int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.WorkerConcurrency)
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			key, err := repo.GetAPIKey(gctx, userID)
			if err != nil {
				return fmt.Errorf("credentials for %s: %w", userID, err)
			}
			client := factory.New(key.APIKey, key.SecretKey)
			for _, rt := range ranges {
				rng, err := service.ResolveRange(string(rt), "", "", time.Now())
				if err != nil {
					return err
				}
				report := svc.Compute(gctx, client, rng)
				if report.IsEmpty() {
					logger.Warnf("empty %s report for %s, skipped", rt, userID)
					atomic.AddInt64(&skipped, 1)
					continue
				}
				if err := repo.UpsertReport(gctx, userID, rt, report); err != nil {
					return fmt.Errorf("save %s for %s: %w", rt, userID, err)
				}
				atomic.AddInt64(&saved, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Fatalf("backfill failed: %v", err)
	}
	fmt.Printf("Backfilled %d reports for %d users (%d skipped)\n", saved, len(users), skipped)
}
