package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusShipped    OrderStatus = "shipped"
	StatusDelivered  OrderStatus = "delivered"
	StatusCancelled  OrderStatus = "cancelled"
	StatusArchived   OrderStatus = "archived"
)

// Orders are never deleted; archived is the terminal state.
var statusTransitions = map[OrderStatus][]OrderStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {StatusArchived},
	StatusCancelled:  {StatusArchived},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusArchived:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CustomerInfo is the contact snapshot stored with each order.
type CustomerInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Email   string `json:"email,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

type OrderItem struct {
	ProductID string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId,omitempty"`
	Status     OrderStatus     `json:"status"`
	Customer   CustomerInfo    `json:"customerInfo"`
	Items      []OrderItem     `json:"items"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	Discount   decimal.Decimal `json:"discount"`
	Total      decimal.Decimal `json:"total"`
	CouponID   string          `json:"-"`
	CouponCode string          `json:"couponCode,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func Subtotal(items []OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// ApplyCoupon records the coupon on the order and recomputes the total.
func (o *Order) ApplyCoupon(c Coupon, discount decimal.Decimal) {
	o.CouponID = c.ID
	o.CouponCode = c.Code
	o.Discount = discount
	o.recomputeTotal()
}

// ClearCoupon drops any applied coupon.
func (o *Order) ClearCoupon() {
	o.CouponID = ""
	o.CouponCode = ""
	o.Discount = decimal.Zero
	o.recomputeTotal()
}

func (o *Order) recomputeTotal() {
	total := o.Subtotal.Sub(o.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.Total = total
}
