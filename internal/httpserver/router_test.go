package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aquavo-api/internal/domain"
	"aquavo-api/internal/logging"
	"aquavo-api/internal/metrics"
	"aquavo-api/internal/ratelimit"
	couponsvc "aquavo-api/internal/service/coupon"
	ordersvc "aquavo-api/internal/service/order"
	"aquavo-api/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "test-secret"
	testAdmin   = "admin-key"
	testOrderID = "0d7c6a7e-8b1f-4c55-9a3e-5f2b1d9e4c21"
)

type stubOrders struct {
	result     *ordersvc.Result
	createErr  error
	lastCreate ordersvc.CreateInput
	order      *domain.Order
	getErr     error
	orders     []domain.Order
	lastUser   string
	updateErr  error
	lastStatus domain.OrderStatus
	lastActor  string
	audit      []domain.AuditEntry
}

func (s *stubOrders) Create(_ context.Context, in ordersvc.CreateInput) (*ordersvc.Result, error) {
	s.lastCreate = in
	return s.result, s.createErr
}

func (s *stubOrders) Get(_ context.Context, _ string) (*domain.Order, error) {
	return s.order, s.getErr
}

func (s *stubOrders) ListForUser(_ context.Context, userID string) ([]domain.Order, error) {
	s.lastUser = userID
	return s.orders, nil
}

func (s *stubOrders) UpdateStatus(_ context.Context, id string, next domain.OrderStatus, actor string) (*domain.Order, error) {
	s.lastStatus = next
	s.lastActor = actor
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return &domain.Order{ID: id, Status: next}, nil
}

func (s *stubOrders) AuditTrail(_ context.Context, _ string) ([]domain.AuditEntry, error) {
	return s.audit, nil
}

type stubCoupons struct {
	quote *couponsvc.Quote
	err   error
}

func (s *stubCoupons) Resolve(_ context.Context, _, _ string, _ decimal.Decimal) (*couponsvc.Quote, error) {
	return s.quote, s.err
}

type stubProducts struct {
	product  *domain.Product
	products []domain.Product
	err      error
}

func (s *stubProducts) Get(_ context.Context, _ string) (*domain.Product, error) {
	return s.product, s.err
}

func (s *stubProducts) Search(_ context.Context, _ string) ([]domain.Product, error) {
	return s.products, s.err
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	v, err := validation.New(validation.WithLocale("en"))
	require.NoError(t, err)
	store := ratelimit.NewMemoryStore()
	return Deps{
		Orders:        &stubOrders{},
		Coupons:       &stubCoupons{},
		Products:      &stubProducts{},
		Validator:     v,
		Metrics:       metrics.New(),
		GlobalLimiter: ratelimit.New(store, "global:", 1000, time.Minute),
		OrderLimiter:  ratelimit.New(store, "orders:", 1000, time.Hour),
		ClientURL:     "https://shop.example.com/",
		MaxBodyBytes:  1 << 20,
		JWTSecret:     []byte(testSecret),
		AdminAPIKeys:  []string{testAdmin},
	}
}

func newTestRouter(t *testing.T, deps Deps) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router, err := buildRouter(logging.Discard(), nil, deps)
	require.NoError(t, err)
	return router
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func bearer(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

const validOrderBody = `{
  "customerInfo": {"name": "Ali Hassan", "phone": "07701234567", "address": "Karrada, Baghdad, street 12"},
  "items": [{"id": "9b2f7c3e-2f1a-4d7e-9c1b-1f2e3d4c5b6a", "name": "Neon tetra", "price": 2500, "quantity": 2}],
  "couponCode": "SAVE"
}`

func TestSecurityHeaders(t *testing.T) {
	router := newTestRouter(t, testDeps(t))
	rec := serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "1; mode=block", rec.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, contentSecurityPolicy, rec.Header().Get("Content-Security-Policy"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "frame-ancestors 'none';")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestCORSAllowedOriginIsReflected(t *testing.T) {
	router := newTestRouter(t, testDeps(t))
	for _, origin := range []string{"http://localhost:3000", "https://aquavo.iq", "https://shop.example.com"} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", origin)
		rec := serve(router, req)

		assert.Equal(t, http.StatusOK, rec.Code, origin)
		assert.Equal(t, origin, rec.Header().Get("Access-Control-Allow-Origin"), origin)
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	}
}

func TestCORSUnknownOriginGetsNoAllowOrigin(t *testing.T) {
	router := newTestRouter(t, testDeps(t))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := serve(router, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORSPreflightAlwaysNoContent(t *testing.T) {
	router := newTestRouter(t, testDeps(t))

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := serve(router, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "http://localhost:5000")
	rec = serve(router, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Type, Authorization, X-CSRF-Token", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestGlobalRateLimit(t *testing.T) {
	deps := testDeps(t)
	deps.GlobalLimiter = ratelimit.New(ratelimit.NewMemoryStore(), "global:", 2, time.Minute)
	router := newTestRouter(t, deps)

	newReq := func(remote string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = remote
		return req
	}
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(router, newReq("10.0.0.1:4000")).Code)
	}
	rec := serve(router, newReq("10.0.0.1:4001"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	body := decode(t, rec)
	assert.Equal(t, msgRateLimited, body["error"])
	assert.Equal(t, float64(60), body["retryAfter"])
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.RateLimited.WithLabelValues("global")))

	// other clients are counted separately
	assert.Equal(t, http.StatusOK, serve(router, newReq("10.0.0.2:4000")).Code)
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	deps := testDeps(t)
	deps.GlobalLimiter = ratelimit.New(ratelimit.NewMemoryStore(), "global:", 3, time.Minute)
	router := newTestRouter(t, deps)

	allowed := 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "203.0.113.7:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("192.0.2.%d", i+1))
		if serve(router, req).Code == http.StatusOK {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}

func TestRateLimitUsesForwardedForFromTrustedProxy(t *testing.T) {
	deps := testDeps(t)
	deps.GlobalLimiter = ratelimit.New(ratelimit.NewMemoryStore(), "global:", 1, time.Minute)
	deps.TrustedProxies = []string{"10.0.0.0/8"}
	router := newTestRouter(t, deps)

	newReq := func(client string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.1.2.3:8080"
		req.Header.Set("X-Forwarded-For", client)
		return req
	}
	assert.Equal(t, http.StatusOK, serve(router, newReq("198.51.100.1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(router, newReq("198.51.100.1")).Code)
	assert.Equal(t, http.StatusOK, serve(router, newReq("198.51.100.2")).Code)
}

func TestOrderRouteHasItsOwnLimit(t *testing.T) {
	deps := testDeps(t)
	deps.OrderLimiter = ratelimit.New(ratelimit.NewMemoryStore(), "orders:", 1, time.Hour)
	orders := &stubOrders{result: &ordersvc.Result{Order: &domain.Order{ID: testOrderID}}}
	deps.Orders = orders
	router := newTestRouter(t, deps)

	require.Equal(t, http.StatusCreated, serve(router, jsonRequest(http.MethodPost, "/api/orders", validOrderBody)).Code)
	rec := serve(router, jsonRequest(http.MethodPost, "/api/orders", validOrderBody))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))

	// the stricter limit does not leak onto other routes
	assert.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
}

func TestRequestSizeLimit(t *testing.T) {
	deps := testDeps(t)
	deps.MaxBodyBytes = 64
	router := newTestRouter(t, deps)
	big := `{"note":"` + strings.Repeat("x", 200) + `"}`

	rec := serve(router, jsonRequest(http.MethodPost, "/api/orders", big))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, msgTooLarge, decode(t, rec)["error"])

	// undeclared length is still capped while reading
	req := jsonRequest(http.MethodPost, "/api/orders", big)
	req.ContentLength = -1
	rec = serve(router, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestSanitizeBodyStripsPollutingKeys(t *testing.T) {
	router := newTestRouter(t, testDeps(t))
	router.POST("/echo", func(c *gin.Context) {
		raw, _ := c.Get(bodyKey)
		var reread map[string]any
		if err := c.ShouldBindJSON(&reread); err != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ctx": raw, "body": reread})
	})

	body := `{"a":{"__proto__":{"admin":true},"keep":1},"constructor":"x","list":[{"prototype":1,"ok":2}]}`
	rec := serve(router, jsonRequest(http.MethodPost, "/echo", body))
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.NotContains(t, out, "__proto__")
	assert.NotContains(t, out, "constructor")
	assert.NotContains(t, out, "prototype")
	assert.Contains(t, out, `"keep":1`)
	assert.Contains(t, out, `"ok":2`)
}

func TestSanitizeBodyRejectsMalformedJSON(t *testing.T) {
	router := newTestRouter(t, testDeps(t))
	rec := serve(router, jsonRequest(http.MethodPost, "/api/orders", `{"items": [`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgBadRequest, decode(t, rec)["error"])
}

func TestSuspiciousPathsAreCountedNotBlocked(t *testing.T) {
	deps := testDeps(t)
	router := newTestRouter(t, deps)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/.env", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, msgRouteNotFound, decode(t, rec)["error"])
	serve(router, httptest.NewRequest(http.MethodGet, "/wp-admin/setup.php", nil))
	serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(deps.Metrics.SuspiciousRequests))
}

func TestCreateOrder(t *testing.T) {
	deps := testDeps(t)
	orders := &stubOrders{result: &ordersvc.Result{
		Order:          &domain.Order{ID: testOrderID, Status: domain.StatusPending, Total: decimal.NewFromInt(5000)},
		CouponRejected: domain.CouponExpired,
	}}
	deps.Orders = orders
	router := newTestRouter(t, deps)

	req := jsonRequest(http.MethodPost, "/api/orders", validOrderBody)
	req.Header.Set("Authorization", bearer(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()}))
	rec := serve(router, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, testOrderID, body["id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "expired", body["couponRejected"])

	assert.Equal(t, "user-1", orders.lastCreate.UserID)
	assert.Equal(t, "SAVE", orders.lastCreate.CouponCode)
	require.Len(t, orders.lastCreate.Items, 1)
	assert.Equal(t, 2500.0, orders.lastCreate.Items[0].Price)
}

func TestCreateOrderValidationErrors(t *testing.T) {
	router := newTestRouter(t, testDeps(t))
	body := `{
  "customerInfo": {"name": "A1", "phone": "0123", "address": "short"},
  "items": [{"id": "nope", "name": "x", "price": "10", "quantity": 1}]
}`
	rec := serve(router, jsonRequest(http.MethodPost, "/api/orders", body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, msgInvalidInput, resp["error"])
	details, ok := resp["details"].([]any)
	require.True(t, ok)
	require.Len(t, details, 1)
	assert.Equal(t, "type", details[0].(map[string]any)["rule"])
	assert.Equal(t, "items[0].price", details[0].(map[string]any)["field"])

	body = `{
  "customerInfo": {"name": "A1", "phone": "0123", "address": "short"},
  "items": [{"id": "nope", "name": "x", "price": 10, "quantity": 1}]
}`
	rec = serve(router, jsonRequest(http.MethodPost, "/api/orders", body))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := map[string]bool{}
	for _, d := range decode(t, rec)["details"].([]any) {
		fields[d.(map[string]any)["field"].(string)] = true
	}
	assert.True(t, fields["customerInfo.name"])
	assert.True(t, fields["customerInfo.phone"])
	assert.True(t, fields["customerInfo.address"])
	assert.True(t, fields["items[0].id"])
}

func TestCreateOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name:   "coupon",
			err:    domain.NewCouponError("OLD", domain.CouponExhausted),
			status: http.StatusBadRequest,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "exhausted", body["reason"])
			},
		},
		{
			name:   "stock",
			err:    &domain.ProductError{ProductID: "p1", Err: domain.ErrOutOfStock},
			status: http.StatusConflict,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "out_of_stock", body["reason"])
				assert.Equal(t, "p1", body["productId"])
			},
		},
		{
			name:   "price",
			err:    &domain.ProductError{ProductID: "p1", Err: domain.ErrPriceChanged},
			status: http.StatusConflict,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "price_changed", body["reason"])
			},
		},
		{
			name:   "internal",
			err:    errors.New("pq: relation orders does not exist"),
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, msgInternal, body["error"])
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := testDeps(t)
			deps.Orders = &stubOrders{createErr: tc.err}
			router := newTestRouter(t, deps)

			rec := serve(router, jsonRequest(http.MethodPost, "/api/orders", validOrderBody))
			require.Equal(t, tc.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), "relation")
			tc.check(t, decode(t, rec))
		})
	}
}

func TestListMyOrdersRequiresUser(t *testing.T) {
	deps := testDeps(t)
	orders := &stubOrders{orders: []domain.Order{{ID: testOrderID}}}
	deps.Orders = orders
	router := newTestRouter(t, deps)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, serve(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", bearer(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Minute).Unix()}))
	assert.Equal(t, http.StatusUnauthorized, serve(router, req).Code, "expired token")

	req = httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", bearer(t, jwt.MapClaims{"user_id": "user-2"}))
	rec = serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-2", orders.lastUser)
}

func TestTrackOrderHidesContactDetails(t *testing.T) {
	deps := testDeps(t)
	deps.Orders = &stubOrders{order: &domain.Order{
		ID:       testOrderID,
		Status:   domain.StatusShipped,
		Customer: domain.CustomerInfo{Name: "Ali Hassan", Phone: "07701234567", Address: "Karrada"},
		Items:    []domain.OrderItem{{ProductID: "p1", Name: "Betta", Quantity: 1}},
	}}
	router := newTestRouter(t, deps)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/orders/track/"+testOrderID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"shipped"`)
	assert.Contains(t, rec.Body.String(), "Betta")
	assert.NotContains(t, rec.Body.String(), "07701234567")
	assert.NotContains(t, rec.Body.String(), "Karrada")

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/orders/track/not-a-uuid", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminUpdateStatus(t *testing.T) {
	deps := testDeps(t)
	orders := &stubOrders{}
	deps.Orders = orders
	router := newTestRouter(t, deps)
	path := "/api/admin/orders/" + testOrderID + "/status"

	rec := serve(router, jsonRequest(http.MethodPut, path, `{"status":"shipped"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := jsonRequest(http.MethodPut, path, `{"status":"shipped"}`)
	req.Header.Set("X-API-Key", "wrong")
	assert.Equal(t, http.StatusForbidden, serve(router, req).Code)

	req = jsonRequest(http.MethodPut, path, `{"status":" Shipped "}`)
	req.Header.Set("X-API-Key", testAdmin)
	rec = serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusShipped, orders.lastStatus)
	assert.Equal(t, domain.AuditActorAdmin, orders.lastActor)

	req = jsonRequest(http.MethodPut, path, `{"status":"delivered"}`)
	req.Header.Set("X-API-Key", testAdmin)
	req.Header.Set("Authorization", bearer(t, jwt.MapClaims{"sub": "staff-7", "exp": time.Now().Add(time.Hour).Unix()}))
	require.Equal(t, http.StatusOK, serve(router, req).Code)
	assert.Equal(t, "staff-7", orders.lastActor)

	orders.updateErr = domain.ErrInvalidTransition
	req = jsonRequest(http.MethodPut, path, `{"status":"pending"}`)
	req.Header.Set("X-API-Key", testAdmin)
	assert.Equal(t, http.StatusConflict, serve(router, req).Code)

	orders.updateErr = domain.ErrNotFound
	req = jsonRequest(http.MethodPut, path, `{"status":"shipped"}`)
	req.Header.Set("X-API-Key", testAdmin)
	assert.Equal(t, http.StatusNotFound, serve(router, req).Code)
}

func TestAdminOrderAuditTrail(t *testing.T) {
	deps := testDeps(t)
	orders := &stubOrders{audit: []domain.AuditEntry{
		{Actor: domain.AuditActorGuest, Action: domain.AuditActionCreate, EntityType: domain.AuditEntityOrder, EntityID: testOrderID},
		{Actor: domain.AuditActorAdmin, Action: domain.AuditActionUpdate, EntityType: domain.AuditEntityOrder, EntityID: testOrderID,
			Changes: map[string]any{"status": "processing"}},
	}}
	deps.Orders = orders
	router := newTestRouter(t, deps)
	path := "/api/admin/orders/" + testOrderID + "/audit"

	assert.Equal(t, http.StatusUnauthorized, serve(router, httptest.NewRequest(http.MethodGet, path, nil)).Code)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-API-Key", testAdmin)
	rec := serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "guest", entries[0]["userId"])
	assert.Equal(t, "update", entries[1]["action"])
	assert.Equal(t, "processing", entries[1]["changes"].(map[string]any)["status"])
}

func TestValidateCoupon(t *testing.T) {
	deps := testDeps(t)
	coupons := &stubCoupons{quote: &couponsvc.Quote{
		Coupon:   domain.Coupon{Code: "SAVE", Type: domain.CouponFixed, Value: decimal.NewFromInt(1000)},
		Discount: decimal.NewFromInt(1000),
		Total:    decimal.NewFromInt(4000),
	}}
	deps.Coupons = coupons
	router := newTestRouter(t, deps)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/coupons/validate?code=save&subtotal=5000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "1000", body["discount"])

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/coupons/validate?code=save&subtotal=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	coupons.err = domain.NewCouponError("SAVE", domain.CouponMinAmountNotMet)
	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/coupons/validate?code=save&subtotal=5", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "min_amount_not_met", decode(t, rec)["reason"])
}

func TestProducts(t *testing.T) {
	deps := testDeps(t)
	products := &stubProducts{product: &domain.Product{ID: testOrderID, Name: "Betta"}}
	deps.Products = products
	router := newTestRouter(t, deps)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/api/products/"+testOrderID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Betta")

	products.err = domain.ErrNotFound
	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/products/"+testOrderID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/api/products/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t, testDeps(t))

	assert.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(router, httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "aquavo_http_requests_total")
}

func TestBuildRouterRequiresServices(t *testing.T) {
	deps := testDeps(t)
	deps.Orders = nil
	_, err := buildRouter(logging.Discard(), nil, deps)
	assert.Error(t, err)
}

func TestBuildRouterRejectsBadTrustedProxy(t *testing.T) {
	deps := testDeps(t)
	deps.TrustedProxies = []string{"not-an-ip"}
	_, err := buildRouter(logging.Discard(), nil, deps)
	assert.Error(t, err)
}

func TestClientIPResolution(t *testing.T) {
	cases := []struct {
		name    string
		trusted []string
		headers map[string]string
		remote  string
		want    string
	}{
		{"no trusted proxies uses peer", nil, map[string]string{"X-Forwarded-For": "203.0.113.7"}, "10.0.0.9:1234", "10.0.0.9"},
		{"real ip from untrusted peer ignored", nil, map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.9:1234", "10.0.0.9"},
		{"trusted proxy forwards client", []string{"10.0.0.0/8"}, map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.9:1234", "203.0.113.7"},
		{"trusted proxy real ip", []string{"10.0.0.9"}, map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.9:1234", "198.51.100.2"},
		{"peer outside trusted range", []string{"10.0.0.0/8"}, map[string]string{"X-Forwarded-For": "203.0.113.7"}, "192.0.2.1:5555", "192.0.2.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := testDeps(t)
			deps.TrustedProxies = tc.trusted
			router := newTestRouter(t, deps)
			router.GET("/ip", func(c *gin.Context) { c.String(http.StatusOK, c.ClientIP()) })

			req := httptest.NewRequest(http.MethodGet, "/ip", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := serve(router, req)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.want, rec.Body.String())
		})
	}
}
