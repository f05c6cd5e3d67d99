package order

import (
	"context"
	"errors"
	"time"

	"aquavo-api/internal/domain"
	"aquavo-api/internal/logging"
	"aquavo-api/internal/metrics"
	orderrepo "aquavo-api/internal/repository/order"
	"aquavo-api/internal/sanitize"
	couponsvc "aquavo-api/internal/service/coupon"
	"aquavo-api/internal/validation"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const defaultPersistTimeout = 30 * time.Second

// DefaultMaxOrderTotal is the exclusive upper bound on an order subtotal. It
// is the first value that no longer fits the NUMERIC(14,2) order columns.
var DefaultMaxOrderTotal = decimal.New(1, 12)

type couponResolver interface {
	Resolve(ctx context.Context, code, userID string, subtotal decimal.Decimal) (*couponsvc.Quote, error)
}

type Service struct {
	repo           orderrepo.Repository
	coupons        couponResolver
	validator      *validation.Validator
	metrics        *metrics.Metrics
	logger         logrus.FieldLogger
	persistTimeout time.Duration
	maxTotal       decimal.Decimal
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPersistTimeout bounds the database transaction of Create. The
// transaction is detached from the request context so that a client
// disconnect does not abort it halfway.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

func WithMaxTotal(max decimal.Decimal) Option {
	return func(s *Service) { s.maxTotal = max }
}

func New(repo orderrepo.Repository, coupons couponResolver, v *validation.Validator, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		coupons:        coupons,
		validator:      v,
		logger:         logging.Discard(),
		persistTimeout: defaultPersistTimeout,
		maxTotal:       DefaultMaxOrderTotal,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("service", "order")
	return s
}

type CreateInput struct {
	validation.OrderInput
	UserID string
}

// Result is the created order. CouponRejected is set when an optional
// coupon was dropped.
type Result struct {
	*domain.Order
	CouponRejected domain.CouponReason `json:"couponRejected,omitempty"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Result, error) {
	if errs := s.validator.Struct(in.OrderInput); len(errs) > 0 {
		return nil, &validation.Error{Fields: errs}
	}

	order := buildOrder(in)
	if order.Subtotal.GreaterThanOrEqual(s.maxTotal) {
		return nil, &validation.Error{Fields: []validation.FieldError{{
			Field:   "items",
			Rule:    "max_total",
			Param:   s.maxTotal.String(),
			Message: s.validator.Message("max_total", "items", s.maxTotal.String()),
		}}}
	}

	res := &Result{}
	if in.CouponCode != "" {
		quote, err := s.coupons.Resolve(ctx, in.CouponCode, in.UserID, order.Subtotal)
		switch {
		case err == nil:
			order.ApplyCoupon(quote.Coupon, quote.Discount)
		case in.CouponOptional && isCouponError(err):
			res.CouponRejected = s.rejectCoupon(err)
		default:
			if isCouponError(err) {
				s.rejectCoupon(err)
			}
			return nil, err
		}
	}

	created, err := s.persist(ctx, order)
	// the coupon may have been used up between Resolve and the locked re-check
	if err != nil && in.CouponOptional && order.CouponID != "" && isCouponError(err) {
		res.CouponRejected = s.rejectCoupon(err)
		order.ClearCoupon()
		created, err = s.persist(ctx, order)
	}
	if err != nil {
		if isCouponError(err) {
			s.rejectCoupon(err)
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.OrdersCreated.Inc()
	}
	s.logger.WithFields(logrus.Fields{
		"order_id": created.ID,
		"total":    created.Total.String(),
		"coupon":   created.CouponCode,
	}).Info("order placed")
	res.Order = created
	return res, nil
}

func (s *Service) persist(ctx context.Context, order domain.Order) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
	defer cancel()
	return s.repo.Create(ctx, order)
}

func (s *Service) rejectCoupon(err error) domain.CouponReason {
	var cerr *domain.CouponError
	errors.As(err, &cerr)
	if s.metrics != nil {
		s.metrics.CouponRejections.WithLabelValues(string(cerr.Reason)).Inc()
	}
	s.logger.WithFields(logrus.Fields{"coupon": cerr.Code, "reason": cerr.Reason}).Info("coupon rejected")
	return cerr.Reason
}

func isCouponError(err error) bool {
	var cerr *domain.CouponError
	return errors.As(err, &cerr)
}

// buildOrder turns validated input into a pending order with sanitized text
// and computed totals.
func buildOrder(in CreateInput) domain.Order {
	items := make([]domain.OrderItem, len(in.Items))
	for i, it := range in.Items {
		items[i] = domain.OrderItem{
			ProductID: it.ID,
			Name:      sanitize.String(it.Name),
			Price:     decimal.NewFromFloat(it.Price),
			Quantity:  it.Quantity,
			Image:     it.Image,
		}
	}
	order := domain.Order{
		UserID: in.UserID,
		Status: domain.StatusPending,
		Customer: sanitize.CustomerInfo(domain.CustomerInfo{
			Name:    in.CustomerInfo.Name,
			Phone:   in.CustomerInfo.Phone,
			Address: in.CustomerInfo.Address,
			Email:   in.CustomerInfo.Email,
			Notes:   in.CustomerInfo.Notes,
		}),
		Items:    items,
		Subtotal: domain.Subtotal(items),
	}
	order.ClearCoupon()
	return order
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

// UpdateStatus moves an order along its lifecycle. actor is recorded in the
// audit log; an empty actor is logged as the admin key holder.
func (s *Service) UpdateStatus(ctx context.Context, id string, next domain.OrderStatus, actor string) (*domain.Order, error) {
	if !next.Valid() {
		return nil, &validation.Error{Fields: []validation.FieldError{{
			Field:   "status",
			Rule:    "invalid",
			Param:   string(next),
			Message: s.validator.Message("invalid", "status", string(next)),
		}}}
	}
	order, err := s.repo.UpdateStatus(ctx, id, next, actor)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{"order_id": id, "status": next}).Info("order status updated")
	return order, nil
}

func (s *Service) AuditTrail(ctx context.Context, id string) ([]domain.AuditEntry, error) {
	return s.repo.AuditTrail(ctx, id)
}
