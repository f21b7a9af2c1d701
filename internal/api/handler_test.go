package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkout-service/internal/auth"
	"checkout-service/internal/models"
	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockOrders struct {
	mock.Mock
}

func (m *mockOrders) PlaceOrder(ctx context.Context, req *service.PlaceOrderRequest) (*models.Order, bool, error) {
	args := m.Called(ctx, req)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Bool(1), args.Error(2)
}

func (m *mockOrders) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *mockOrders) ListCustomerOrders(ctx context.Context, customerRef string) ([]models.Order, error) {
	args := m.Called(ctx, customerRef)
	orders, _ := args.Get(0).([]models.Order)
	return orders, args.Error(1)
}

func (m *mockOrders) UpdateOrderStatus(ctx context.Context, orderID int64, next models.OrderStatus, trackingNumber string) (*models.Order, error) {
	args := m.Called(ctx, orderID, next, trackingNumber)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

func (m *mockOrders) ApplyPaymentResult(ctx context.Context, event *models.PaymentResultEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockOrders) RequestLookupCode(ctx context.Context, orderNumber, email string) {
	m.Called(ctx, orderNumber, email)
}

func (m *mockOrders) LookupGuestOrder(ctx context.Context, orderNumber, email, code string) (*models.Order, error) {
	args := m.Called(ctx, orderNumber, email, code)
	order, _ := args.Get(0).(*models.Order)
	return order, args.Error(1)
}

type testServer struct {
	router *gin.Engine
	orders *mockOrders
	authn  *auth.JWTAuthenticator
}

func newTestServer(t *testing.T, env string, checks ...ReadinessCheck) *testServer {
	t.Helper()
	orders := &mockOrders{}
	authn := auth.NewJWTAuthenticator("test-secret", "")

	router := gin.New()
	NewHandler(orders, authn, auth.CapabilityAuthorizer{}, env, checks...).SetupRoutes(router)
	return &testServer{router: router, orders: orders, authn: authn}
}

func (s *testServer) token(t *testing.T, subject string, caps ...string) string {
	t.Helper()
	token, err := s.authn.IssueToken(subject, subject+"@example.com", caps, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func guestOrder() *models.Order {
	order := &models.Order{
		ID:             1,
		OrderNumber:    "ORD-123456-001",
		TotalAmount:    decimal.RequireFromString("20.00"),
		DeliveryOption: models.DeliveryStandard,
		PaymentMethod:  models.PaymentMobileMoney,
		Status:         models.OrderStatusPending,
		CreatedAt:      time.Now(),
	}
	order.SetGuest(&models.GuestCustomer{Name: "Ama", Email: "ama@example.com", Phone: "024"})
	return order
}

func userOrder(userID string) *models.Order {
	return &models.Order{
		ID:          2,
		OrderNumber: "ORD-123456-002",
		UserID:      sql.NullString{String: userID, Valid: true},
		TotalAmount: decimal.RequireFromString("5.00"),
		Status:      models.OrderStatusPending,
	}
}

const guestCart = `{"items":[{"productId":1,"quantity":2}],"guestCustomer":{"name":"Ama","email":"ama@example.com","phone":"024"}}`

func TestPlaceOrderCreated(t *testing.T) {
	s := newTestServer(t, "test")
	s.orders.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req *service.PlaceOrderRequest) bool {
		return req.CustomerRef == "" && req.Guest != nil && req.Guest.Name == "Ama" &&
			len(req.Items) == 1 && req.Items[0].Quantity == 2 && req.IdempotencyKey == "key-1"
	})).Return(guestOrder(), false, nil)

	w := s.do(http.MethodPost, "/api/v1/orders", "", guestCart, "Idempotency-Key", "key-1")
	require.Equal(t, http.StatusCreated, w.Code)

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	order := body["order"].(map[string]interface{})
	assert.Equal(t, "ORD-123456-001", order["orderNumber"])
	assert.Equal(t, "Pending", order["status"])
	assert.Equal(t, "Ama", order["customerInfo"].(map[string]interface{})["name"])
	s.orders.AssertExpectations(t)
}

func TestPlaceOrderUsesIdentity(t *testing.T) {
	s := newTestServer(t, "test")
	s.orders.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(req *service.PlaceOrderRequest) bool {
		return req.CustomerRef == "user-1" && req.CustomerEmail == "user-1@example.com"
	})).Return(userOrder("user-1"), false, nil)

	w := s.do(http.MethodPost, "/api/v1/orders", s.token(t, "user-1"), `{"items":[{"productId":1,"quantity":1}]}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	s.orders.AssertExpectations(t)
}

func TestPlaceOrderReplay(t *testing.T) {
	s := newTestServer(t, "test")
	s.orders.On("PlaceOrder", mock.Anything, mock.Anything).Return(guestOrder(), true, nil)

	w := s.do(http.MethodPost, "/api/v1/orders", "", guestCart, "Idempotency-Key", "key-1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
}

func TestPlaceOrderBindingErrors(t *testing.T) {
	s := newTestServer(t, "test")

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"no items", `{"items":[]}`, "items"},
		{"zero quantity", `{"items":[{"productId":1,"quantity":0}]}`, "items[0].quantity"},
		{"missing product", `{"items":[{"quantity":1}]}`, "items[0].productId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/api/v1/orders", "", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["fields"], tt.field)
		})
	}

	w := s.do(http.MethodPost, "/api/v1/orders", "", `{"items":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request body", decode(t, w)["error"])
	s.orders.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestPlaceOrderErrorMapping(t *testing.T) {
	stockErr := &service.StockValidationError{Items: []service.Shortfall{{
		ProductID: 1, ProductName: "Shea Butter", Requested: 10, Available: 5, Reason: service.ReasonInsufficientStock,
	}}}

	tests := []struct {
		name   string
		err    error
		status int
		check  func(t *testing.T, body map[string]interface{})
	}{
		{"insufficient stock", stockErr, http.StatusBadRequest, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "Insufficient stock", body["error"])
			assert.NotEmpty(t, body["message"])
			items := body["outOfStockItems"].([]interface{})
			require.Len(t, items, 1)
			item := items[0].(map[string]interface{})
			assert.Equal(t, float64(1), item["productId"])
			assert.Equal(t, float64(10), item["requested"])
			assert.Equal(t, float64(5), item["available"])
		}},
		{"customer missing", service.ErrCustomerInfoMissing, http.StatusBadRequest, func(t *testing.T, body map[string]interface{}) {
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body, "fields")
		}},
		{"validation", &service.ValidationError{Fields: map[string]string{"totalAmount": "mismatch"}}, http.StatusBadRequest,
			func(t *testing.T, body map[string]interface{}) {
				assert.Contains(t, body["fields"], "totalAmount")
			}},
		{"duplicate order number", service.ErrDuplicateOrderNumber, http.StatusConflict, nil},
		{"idempotency in progress", service.ErrIdempotencyInProgress, http.StatusConflict, nil},
		{"idempotency key reused", service.ErrIdempotencyKeyReused, http.StatusUnprocessableEntity, nil},
		{"internal", errors.New("connection reset"), http.StatusInternalServerError, func(t *testing.T, body map[string]interface{}) {
			assert.Equal(t, "Failed to place order", body["error"])
			assert.Equal(t, "connection reset", body["details"])
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, "test")
			s.orders.On("PlaceOrder", mock.Anything, mock.Anything).Return(nil, false, tt.err)

			w := s.do(http.MethodPost, "/api/v1/orders", "", guestCart)
			require.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}
}

func TestInternalErrorHidesDetailsInProduction(t *testing.T) {
	s := newTestServer(t, "production")
	s.orders.On("PlaceOrder", mock.Anything, mock.Anything).Return(nil, false, errors.New("pq: password authentication failed"))

	w := s.do(http.MethodPost, "/api/v1/orders", "", guestCart)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, decode(t, w), "details")
}

func TestGetOrderAccess(t *testing.T) {
	s := newTestServer(t, "test")
	s.orders.On("GetOrder", mock.Anything, int64(2)).Return(userOrder("user-1"), nil)
	s.orders.On("GetOrder", mock.Anything, int64(3)).Return(nil, service.ErrOrderNotFound)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1/orders/2", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/orders/2", s.token(t, "user-1"), nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/orders/2", s.token(t, "user-2"), nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1/orders/2", s.token(t, "admin", auth.CapOrdersAdmin), nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/v1/orders/3", s.token(t, "user-1"), nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/orders/abc", s.token(t, "user-1"), nil).Code)
}

func TestListOrders(t *testing.T) {
	s := newTestServer(t, "test")
	s.orders.On("ListCustomerOrders", mock.Anything, "user-1").Return([]models.Order{*userOrder("user-1")}, nil)

	w := s.do(http.MethodGet, "/api/v1/orders", s.token(t, "user-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["orders"], 1)
}

func TestUpdateOrderStatus(t *testing.T) {
	s := newTestServer(t, "test")
	shipped := userOrder("user-1")
	shipped.Status = models.OrderStatusShipped
	s.orders.On("UpdateOrderStatus", mock.Anything, int64(2), models.OrderStatusShipped, "TRK-1").Return(shipped, nil)
	s.orders.On("UpdateOrderStatus", mock.Anything, int64(2), models.OrderStatusPending, "").
		Return(nil, service.ErrInvalidTransition)

	admin := s.token(t, "admin", auth.CapOrdersAdmin)

	w := s.do(http.MethodPatch, "/api/v1/orders/2/status", s.token(t, "user-1"), `{"status":"Shipped"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPatch, "/api/v1/orders/2/status", admin, `{"status":"Shipped","trackingNumber":"TRK-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Shipped", decode(t, w)["order"].(map[string]interface{})["status"])

	w = s.do(http.MethodPatch, "/api/v1/orders/2/status", admin, `{"status":"Pending"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPatch, "/api/v1/orders/2/status", admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentCallback(t *testing.T) {
	s := newTestServer(t, "test")
	s.orders.On("ApplyPaymentResult", mock.Anything, mock.MatchedBy(func(e *models.PaymentResultEvent) bool {
		return e.OrderNumber == "ORD-1" && e.ResultCode == "success" && e.EventType == models.EventTypePaymentResult
	})).Return(nil)

	gateway := s.token(t, "gateway", auth.CapPaymentsCallback)

	w := s.do(http.MethodPost, "/api/v1/payments/callback", s.token(t, "user-1"), `{"order_number":"ORD-1","result_code":"success"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/payments/callback", gateway, `{"event_id":"evt-1","order_number":"ORD-1","result_code":"success"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/v1/payments/callback", gateway, `{"order_number":"ORD-1","result_code":"maybe"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["fields"], "result_code")
	s.orders.AssertNumberOfCalls(t, "ApplyPaymentResult", 1)
}

func TestGuestLookup(t *testing.T) {
	s := newTestServer(t, "test")
	s.orders.On("RequestLookupCode", mock.Anything, "ORD-123456-001", "ama@example.com").Return()
	s.orders.On("LookupGuestOrder", mock.Anything, "ORD-123456-001", "ama@example.com", "123456").Return(guestOrder(), nil)
	s.orders.On("LookupGuestOrder", mock.Anything, "ORD-123456-001", "ama@example.com", "654321").Return(nil, service.ErrInvalidCode)

	w := s.do(http.MethodPost, "/api/v1/orders/lookup/code", "", `{"orderNumber":"ORD-123456-001","email":"ama@example.com"}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(http.MethodPost, "/api/v1/orders/lookup", "", `{"orderNumber":"ORD-123456-001","email":"ama@example.com","code":"123456"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ORD-123456-001", decode(t, w)["order"].(map[string]interface{})["orderNumber"])

	w = s.do(http.MethodPost, "/api/v1/orders/lookup", "", `{"orderNumber":"ORD-123456-001","email":"ama@example.com","code":"654321"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/v1/orders/lookup", "", `{"orderNumber":"ORD-123456-001","email":"ama@example.com","code":"12ab"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, "test",
		ReadinessCheck{Name: "database", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("dial tcp: refused") }},
	)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", nil).Code)

	w := s.do(http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	checks := decode(t, w)["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["database"])
	assert.Equal(t, "dial tcp: refused", checks["redis"])
}
