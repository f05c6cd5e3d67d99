package main

import (
	"context"

	"aquavo-api/internal/config"
	"aquavo-api/internal/db"
	"aquavo-api/internal/logging"
	couponrepo "aquavo-api/internal/repository/coupon"
	productrepo "aquavo-api/internal/repository/product"
	"aquavo-api/internal/seed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("error", "", "seed").WithError(err).Fatal("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.AppEnv, "seed")

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString, logger)
	if err != nil {
		logger.WithError(err).Fatal("connect db")
	}
	defer pool.Close()

	err = seed.Apply(ctx, productrepo.NewPostgres(pool, logger), couponrepo.NewPostgres(pool, logger), logger)
	if err != nil {
		logger.WithError(err).Fatal("seed apply")
	}
}
