package main

import (
	"context"
	"flag"
	"os"
	"time"

	"aquavo-api/internal/config"
	"aquavo-api/internal/db"
	"aquavo-api/internal/importer"
	"aquavo-api/internal/logging"
	"aquavo-api/internal/repository/product"
	"github.com/sirupsen/logrus"
)

func main() {
	var filePath string
	flag.StringVar(&filePath, "file", "", "Path to catalog CSV export")
	flag.Parse()

	if filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.New("error", "", "importer").WithError(err).Fatal("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.AppEnv, "importer")
	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DBConnString, logger)
	if err != nil {
		logger.WithError(err).Fatal("connect db")
	}
	defer pool.Close()

	f, err := os.Open(filePath)
	if err != nil {
		logger.WithError(err).Fatal("open file")
	}
	defer f.Close()

	imp := importer.NewCSVImporter(f, product.NewPostgres(pool, logger))

	start := time.Now()
	count, err := imp.Run(ctx)
	if err != nil {
		logger.WithError(err).WithField("imported", count).Fatal("import failed")
	}
	logger.WithFields(logrus.Fields{
		"products": count,
		"took":     time.Since(start).Truncate(time.Millisecond).String(),
	}).Info("import finished")
}
