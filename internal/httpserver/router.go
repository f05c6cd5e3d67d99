package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"aquavo-api/internal/domain"
	"aquavo-api/internal/metrics"
	"aquavo-api/internal/ratelimit"
	couponsvc "aquavo-api/internal/service/coupon"
	ordersvc "aquavo-api/internal/service/order"
	"aquavo-api/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type orderService interface {
	Create(ctx context.Context, in ordersvc.CreateInput) (*ordersvc.Result, error)
	Get(ctx context.Context, id string) (*domain.Order, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id string, next domain.OrderStatus, actor string) (*domain.Order, error)
	AuditTrail(ctx context.Context, id string) ([]domain.AuditEntry, error)
}

type couponService interface {
	Resolve(ctx context.Context, code, userID string, subtotal decimal.Decimal) (*couponsvc.Quote, error)
}

type productService interface {
	Get(ctx context.Context, id string) (*domain.Product, error)
	Search(ctx context.Context, query string) ([]domain.Product, error)
}

// Deps are the collaborators the router needs.
type Deps struct {
	Orders    orderService
	Coupons   couponService
	Products  productService
	Validator *validation.Validator
	Metrics   *metrics.Metrics

	// GlobalLimiter applies to every request; OrderLimiter additionally to
	// order creation.
	GlobalLimiter *ratelimit.Limiter
	OrderLimiter  *ratelimit.Limiter

	// TrustedProxies lists the proxy addresses or CIDRs allowed to set
	// X-Forwarded-For and X-Real-IP. Empty means the socket peer is the client.
	TrustedProxies []string

	ClientURL    string
	MaxBodyBytes int64
	JWTSecret    []byte
	AdminAPIKeys []string
}

func (d Deps) check() error {
	switch {
	case d.Orders == nil, d.Coupons == nil, d.Products == nil:
		return errors.New("httpserver: services are required")
	case d.Validator == nil:
		return errors.New("httpserver: validator is required")
	case d.GlobalLimiter == nil || d.OrderLimiter == nil:
		return errors.New("httpserver: rate limiters are required")
	}
	return nil
}

const defaultMaxBodyBytes = 1 << 20

// buildRouter wires the security chain and the API routes.
func buildRouter(logger logrus.FieldLogger, db pinger, deps Deps) (*gin.Engine, error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}

	router := gin.New()
	if err := router.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, fmt.Errorf("httpserver: trusted proxies: %w", err)
	}
	router.Use(
		requestIDMiddleware(),
		accessLogMiddleware(logger),
		recoveryMiddleware(logger),
		metricsMiddleware(deps.Metrics),
		rateLimitMiddleware(deps.GlobalLimiter, "global", deps.Metrics, logger),
		requestSizeMiddleware(deps.MaxBodyBytes),
		corsMiddleware(allowedOrigins(deps.ClientURL)),
		securityHeadersMiddleware(),
		sanitizeBodyMiddleware(),
		securityLoggerMiddleware(deps.Metrics, logger),
	)
	router.NoRoute(func(c *gin.Context) {
		body := errorBody(msgRouteNotFound)
		body["path"] = c.Request.URL.Path
		c.AbortWithStatusJSON(http.StatusNotFound, body)
	})

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(db))
	router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	h := &handlers{deps: deps, logger: logger}
	api := router.Group("/api", authMiddleware(deps.JWTSecret))
	{
		api.POST("/orders", rateLimitMiddleware(deps.OrderLimiter, "orders", deps.Metrics, logger), h.createOrder)
		api.GET("/orders", requireUser(), h.listMyOrders)
		api.GET("/orders/track/:id", h.trackOrder)
		api.GET("/coupons/validate", h.validateCoupon)
		api.GET("/products", h.listProducts)
		api.GET("/products/:id", h.getProduct)
	}

	admin := api.Group("/admin", adminMiddleware(deps.AdminAPIKeys))
	admin.PUT("/orders/:id/status", h.updateOrderStatus)
	admin.GET("/orders/:id/audit", h.orderAuditTrail)

	return router, nil
}
