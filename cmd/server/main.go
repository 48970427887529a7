package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pnldash/internal/config"
	"pnldash/internal/database"
	"pnldash/internal/handlers"
	"pnldash/internal/queue"
	"pnldash/internal/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()

	if err := database.RunMigrations(cfg.PostgresURL, cfg.MigrationsPath); err != nil {
		logger.Fatalf("migrations failed: %v", err)
	}
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

	repo := database.New(db, logger)
	q := queue.New(rdb, logger)
	dispatcher := scheduler.NewDispatcher(q, repo, logger)

	runner := scheduler.NewRunner(dispatcher, logger, ctx)
	if _, err := runner.ScheduleRefresh(cfg.RefreshSchedule); err != nil {
		logger.Fatalf("bad REFRESH_SCHEDULE %q: %v", cfg.RefreshSchedule, err)
	}
	runner.Start()
	defer runner.Stop()

	h := handlers.NewHandler(repo, dispatcher, q, logger)
	rg := gin.Default()
	h.Register(rg)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: rg}
	go func() {
		logger.Infof("server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}
