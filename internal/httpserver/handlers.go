package httpserver

import (
	"net/http"
	"strings"
	"time"

	"aquavo-api/internal/domain"
	ordersvc "aquavo-api/internal/service/order"
	"aquavo-api/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type handlers struct {
	deps   Deps
	logger logrus.FieldLogger
}

func (h *handlers) createOrder(c *gin.Context) {
	raw, ok := c.Get(bodyKey)
	if !ok {
		abortWith(c, http.StatusBadRequest, msgBadRequest)
		return
	}
	res := validation.Validate[validation.OrderInput](h.deps.Validator, raw)
	if !res.Success {
		writeError(c, h.logger, &validation.Error{Fields: res.Errors})
		return
	}

	out, err := h.deps.Orders.Create(c.Request.Context(), ordersvc.CreateInput{
		OrderInput: res.Data,
		UserID:     currentUserID(c),
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (h *handlers) listMyOrders(c *gin.Context) {
	orders, err := h.deps.Orders.ListForUser(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// trackingView is the public projection of an order. It carries no contact
// details.
type trackingView struct {
	ID        string             `json:"id"`
	Status    domain.OrderStatus `json:"status"`
	Items     []trackingItem     `json:"items"`
	Total     decimal.Decimal    `json:"total"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type trackingItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

func (h *handlers) trackOrder(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		abortWith(c, http.StatusNotFound, msgNotFound)
		return
	}
	order, err := h.deps.Orders.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	view := trackingView{
		ID:        order.ID,
		Status:    order.Status,
		Items:     make([]trackingItem, 0, len(order.Items)),
		Total:     order.Total,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
	for _, it := range order.Items {
		view.Items = append(view.Items, trackingItem{Name: it.Name, Quantity: it.Quantity})
	}
	c.JSON(http.StatusOK, view)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *handlers) updateOrderStatus(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		abortWith(c, http.StatusNotFound, msgNotFound)
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWith(c, http.StatusBadRequest, msgBadRequest)
		return
	}
	// A bearer token on an admin call names the staff member; the key alone
	// is recorded as admin.
	actor := currentUserID(c)
	if actor == "" {
		actor = domain.AuditActorAdmin
	}
	next := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	order, err := h.deps.Orders.UpdateStatus(c.Request.Context(), id, next, actor)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *handlers) orderAuditTrail(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		abortWith(c, http.StatusNotFound, msgNotFound)
		return
	}
	entries, err := h.deps.Orders.AuditTrail(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *handlers) validateCoupon(c *gin.Context) {
	subtotal, err := decimal.NewFromString(c.DefaultQuery("subtotal", "0"))
	if err != nil || subtotal.IsNegative() {
		abortWith(c, http.StatusBadRequest, msgBadRequest)
		return
	}
	quote, err := h.deps.Coupons.Resolve(c.Request.Context(), c.Query("code"), currentUserID(c), subtotal)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":    true,
		"code":     quote.Coupon.Code,
		"type":     quote.Coupon.Type,
		"value":    quote.Coupon.Value,
		"discount": quote.Discount,
		"total":    quote.Total,
	})
}

func (h *handlers) listProducts(c *gin.Context) {
	products, err := h.deps.Products.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *handlers) getProduct(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		abortWith(c, http.StatusNotFound, msgNotFound)
		return
	}
	product, err := h.deps.Products.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

// isUUID accepts only the canonical 36 character form.
func isUUID(s string) bool {
	return len(s) == 36 && uuid.Validate(s) == nil
}
