package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrProductUnavailable means an ordered product no longer exists in the catalog.
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrPriceChanged means the submitted unit price differs from the catalog price.
	ErrPriceChanged = errors.New("product price changed")
	// ErrOutOfStock means the catalog cannot cover the requested quantity.
	ErrOutOfStock = errors.New("insufficient stock")
	// ErrInvalidTransition rejects order status changes outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// ProductError ties a catalog failure to the product that caused it.
type ProductError struct {
	ProductID string
	Err       error
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("product %s: %v", e.ProductID, e.Err)
}

func (e *ProductError) Unwrap() error { return e.Err }

// CouponReason is the machine readable cause of a coupon rejection.
type CouponReason string

const (
	CouponInvalid          CouponReason = "invalid"
	CouponInactive         CouponReason = "inactive"
	CouponNotStarted       CouponReason = "not_started"
	CouponExpired          CouponReason = "expired"
	CouponExhausted        CouponReason = "exhausted"
	CouponUserLimitReached CouponReason = "user_limit_reached"
	CouponNotApplicable    CouponReason = "not_applicable"
	CouponMinAmountNotMet  CouponReason = "min_amount_not_met"
)

// CouponError is returned when a coupon cannot be applied to an order.
type CouponError struct {
	Code   string
	Reason CouponReason
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason)
}

func NewCouponError(code string, reason CouponReason) *CouponError {
	return &CouponError{Code: code, Reason: reason}
}
