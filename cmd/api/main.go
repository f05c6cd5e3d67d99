package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aquavo-api/internal/config"
	"aquavo-api/internal/db"
	"aquavo-api/internal/httpserver"
	"aquavo-api/internal/logging"
	"aquavo-api/internal/metrics"
	"aquavo-api/internal/ratelimit"
	couponrepo "aquavo-api/internal/repository/coupon"
	orderrepo "aquavo-api/internal/repository/order"
	productrepo "aquavo-api/internal/repository/product"
	couponsvc "aquavo-api/internal/service/coupon"
	ordersvc "aquavo-api/internal/service/order"
	productsvc "aquavo-api/internal/service/product"
	"aquavo-api/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const janitorInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("error", "", "api").WithError(err).Fatal("load config")
	}
	logger := logging.New(cfg.LogLevel, cfg.AppEnv, "api")
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	dbpool, err := db.Connect(ctx, cfg.DBConnString, logger)
	if err != nil {
		logger.WithError(err).Fatal("connect to db")
	}
	defer dbpool.Close()

	store := rateLimitStore(ctx, cfg, logger)

	m := metrics.New()
	validator, err := validation.New()
	if err != nil {
		logger.WithError(err).Fatal("init validator")
	}

	productRepo := productrepo.NewPostgres(dbpool, logger)
	couponRepo := couponrepo.NewPostgres(dbpool, logger)
	orderRepo := orderrepo.NewPostgres(dbpool, logger)

	couponService := couponsvc.New(couponRepo)
	orderService := ordersvc.New(orderRepo, couponService, validator,
		ordersvc.WithMetrics(m),
		ordersvc.WithLogger(logger),
		ordersvc.WithPersistTimeout(cfg.OrderPersistTimeout),
	)
	productService := productsvc.New(productRepo)

	srv, err := httpserver.New(cfg.HTTPAddr, logger, dbpool, httpserver.Deps{
		Orders:         orderService,
		Coupons:        couponService,
		Products:       productService,
		Validator:      validator,
		Metrics:        m,
		GlobalLimiter:  ratelimit.New(store, "global:", cfg.RateLimitMax, cfg.RateLimitWindow),
		OrderLimiter:   ratelimit.New(store, "orders:", cfg.OrderRateLimitMax, cfg.OrderRateLimitWindow),
		TrustedProxies: cfg.TrustedProxies,
		ClientURL:      cfg.ClientURL,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		JWTSecret:      []byte(cfg.JWTSecret),
		AdminAPIKeys:   cfg.AdminAPIKeys,
	})
	if err != nil {
		logger.WithError(err).Fatal("init server")
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serverErr:
		logger.WithError(err).Error("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	} else {
		logger.Info("server stopped")
	}
}

// rateLimitStore shares counters through Redis when REDIS_URL is set, so all
// instances enforce one limit. Without it each process counts on its own.
func rateLimitStore(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) ratelimit.Store {
	if cfg.RedisURL != "" {
		client, err := db.ConnectRedis(ctx, cfg.RedisURL, logger)
		if err == nil {
			go func() {
				<-ctx.Done()
				_ = client.Close()
			}()
			return ratelimit.NewRedisStore(client)
		}
		if cfg.IsProduction() {
			logger.WithError(err).Fatal("connect to redis")
		}
		logger.WithError(err).Warn("redis unavailable, using in-memory rate limits")
	}

	store := ratelimit.NewMemoryStore()
	go store.RunJanitor(ctx, janitorInterval)
	return store
}
