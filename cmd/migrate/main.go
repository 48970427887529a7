package main

import (
	"flag"

	"pnldash/internal/config"
	"pnldash/internal/database"

	"github.com/sirupsen/logrus"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	version := flag.Bool("version", false, "print the current schema version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.NewLogger()

	switch {
	case *version:
		v, dirty, err := database.MigrationVersion(cfg.PostgresURL, cfg.MigrationsPath)
		if err != nil {
			logger.Fatalf("version: %v", err)
		}
		logger.Infof("schema version %d (dirty=%t)", v, dirty)
	case *down:
		if err := database.RollbackMigrations(cfg.PostgresURL, cfg.MigrationsPath); err != nil {
			logger.Fatalf("rollback: %v", err)
		}
		logger.Info("migrations rolled back")
	default:
		if err := database.RunMigrations(cfg.PostgresURL, cfg.MigrationsPath); err != nil {
			logger.Fatalf("migrate up: %v", err)
		}
		logger.Info("migrations applied")
	}
}
