package main

import (
	"context"
	"flag"

	"aquavo-api/internal/config"
	"aquavo-api/internal/db"
	"aquavo-api/internal/logging"
	"aquavo-api/internal/migrate"
)

func main() {
	down := flag.Int("down", 0, "roll back this many migrations instead of applying")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.New("error", "", "migrate").WithError(err).Fatal("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.AppEnv, "migrate")

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString, logger)
	if err != nil {
		logger.WithError(err).Fatal("connect db")
	}
	defer pool.Close()

	if *down > 0 {
		if err := migrate.Rollback(ctx, pool, *down); err != nil {
			logger.WithError(err).Fatal("roll back migrations")
		}
		logger.WithField("steps", *down).Info("migrations rolled back")
		return
	}

	version, err := migrate.Apply(ctx, pool)
	if err != nil {
		logger.WithError(err).Fatal("apply migrations")
	}
	logger.WithField("version", version).Info("migrations applied")
}
