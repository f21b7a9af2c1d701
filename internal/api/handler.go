package api

import (
	"context"
	"net/http"
	"time"

	"checkout-service/internal/auth"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderAPI is the order service surface exposed over HTTP
type OrderAPI interface {
	PlaceOrder(ctx context.Context, req *service.PlaceOrderRequest) (*models.Order, bool, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	ListCustomerOrders(ctx context.Context, customerRef string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, next models.OrderStatus, trackingNumber string) (*models.Order, error)
	ApplyPaymentResult(ctx context.Context, event *models.PaymentResultEvent) error
	RequestLookupCode(ctx context.Context, orderNumber, email string)
	LookupGuestOrder(ctx context.Context, orderNumber, email, code string) (*models.Order, error)
}

// ReadinessCheck is a named dependency probe for /ready
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders     OrderAPI
	authn      auth.Authenticator
	authz      auth.Authorizer
	checks     []ReadinessCheck
	production bool
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders OrderAPI, authn auth.Authenticator, authz auth.Authorizer, env string, checks ...ReadinessCheck) *Handler {
	registerJSONFieldNames()

	return &Handler{
		orders:     orders,
		authn:      authn,
		authz:      authz,
		checks:     checks,
		production: env == "production",
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", auth.OptionalAuth(h.authn), h.placeOrder)
		v1.POST("/orders/lookup/code", h.requestLookupCode)
		v1.POST("/orders/lookup", h.lookupGuestOrder)

		authed := v1.Group("", auth.RequireAuth(h.authn))
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.PATCH("/orders/:id/status",
			auth.RequireCapability(h.authz, auth.CapOrdersAdmin), h.updateOrderStatus)
		authed.POST("/payments/callback",
			auth.RequireCapability(h.authz, auth.CapPaymentsCallback), h.paymentCallback)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(gin.H, len(h.checks))
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[check.Name] = err.Error()
			continue
		}
		results[check.Name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": results,
		"time":   time.Now().Unix(),
	})
}
