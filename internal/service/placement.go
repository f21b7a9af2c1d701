package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"checkout-service/internal/mailer"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Transactor runs fn in one atomic transaction carried by the ctx it passes
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads and decrements stock, joining the ambient transaction
type ProductRepository interface {
	FindProductByID(ctx context.Context, id int64) (*models.Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int) error
}

// OrderRepository persists new orders, enforcing unique order numbers
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
}

// NotificationSender delivers a message; failures are the caller's to log
type NotificationSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EventPublisher emits analytics events
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
}

// TaskDispatcher runs tasks out of band. Dispatch must not block.
type TaskDispatcher interface {
	Dispatch(kind string, task func(ctx context.Context) error) bool
}

// PlaceOrderRequest represents a checkout request
type PlaceOrderRequest struct {
	Items          []LineItemRequest     `json:"items" binding:"required,min=1,dive"`
	Guest          *models.GuestCustomer `json:"guestCustomer,omitempty"`
	TotalAmount    *decimal.Decimal      `json:"totalAmount,omitempty"`
	DeliveryOption models.DeliveryOption `json:"deliveryOption,omitempty"`
	PaymentMethod  models.PaymentMethod  `json:"paymentMethod,omitempty"`
	OrderNumber    string                `json:"orderNumber,omitempty" binding:"omitempty,max=64"`

	// Filled from the authenticated identity, never from the body
	CustomerRef    string `json:"-"`
	CustomerEmail  string `json:"-"`
	IdempotencyKey string `json:"-"`
}

// LineItemRequest represents one cart entry
type LineItemRequest struct {
	ProductID int64 `json:"productId" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required,min=1"`
}

// PlacementConfig tunes the placement engine
type PlacementConfig struct {
	TxTimeout         time.Duration
	MaxNumberAttempts int
	StoreName         string
}

// PlacementEngine validates carts against live inventory, reserves stock
// and persists orders in a single transaction
type PlacementEngine struct {
	tx         Transactor
	products   ProductRepository
	orders     OrderRepository
	numbers    *OrderNumberGenerator
	dispatcher TaskDispatcher
	notifier   NotificationSender
	events     EventPublisher
	validate   *validator.Validate
	cfg        PlacementConfig
	logger     *zap.Logger
}

// NewPlacementEngine creates a new placement engine.
// notifier and events may be nil to disable that side effect.
func NewPlacementEngine(
	tx Transactor,
	products ProductRepository,
	orders OrderRepository,
	numbers *OrderNumberGenerator,
	dispatcher TaskDispatcher,
	notifier NotificationSender,
	events EventPublisher,
	cfg PlacementConfig,
) *PlacementEngine {
	if cfg.MaxNumberAttempts < 1 {
		cfg.MaxNumberAttempts = 1
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 10 * time.Second
	}

	return &PlacementEngine{
		tx:         tx,
		products:   products,
		orders:     orders,
		numbers:    numbers,
		dispatcher: dispatcher,
		notifier:   notifier,
		events:     events,
		validate:   validator.New(),
		cfg:        cfg,
		logger:     util.GetLogger(),
	}
}

// PlaceOrder reserves stock and persists an order atomically, then
// schedules the confirmation email and analytics event
func (e *PlacementEngine) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "PlacementEngine.PlaceOrder",
		attribute.Int("items", len(req.Items)))
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderPlacementLatency.Observe(time.Since(start).Seconds())
	}()

	if err := e.validateRequest(req); err != nil {
		util.OrdersRejectedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	var order *models.Order
	for attempt := 1; ; attempt++ {
		number, generated := req.OrderNumber, false
		if number == "" {
			number, generated = e.numbers.Next(), true
		}

		var err error
		order, err = e.placeOnce(ctx, req, number)
		if err == nil {
			break
		}

		if generated && errors.Is(err, store.ErrDuplicateOrderNumber) && attempt < e.cfg.MaxNumberAttempts {
			util.OrderNumberRetriesTotal.Inc()
			e.logger.Warn("Order number collision, retrying",
				zap.String("order_number", number),
				zap.Int("attempt", attempt))
			continue
		}

		util.OrdersRejectedTotal.WithLabelValues(rejectReason(err)).Inc()
		util.RecordError(ctx, err)
		return nil, err
	}

	customer := "user"
	if order.Guest() != nil {
		customer = "guest"
	}
	util.OrdersPlacedTotal.WithLabelValues(customer).Inc()
	e.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	e.dispatchSideEffects(order)
	return order, nil
}

// placeOnce runs the validate-decrement-persist transaction with one order number
func (e *PlacementEngine) placeOnce(ctx context.Context, req *PlaceOrderRequest, orderNumber string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.TxTimeout)
	defer cancel()

	var order *models.Order
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		products, shortfalls, err := e.checkStock(ctx, req.Items)
		if err != nil {
			return err
		}
		if len(shortfalls) > 0 {
			return &StockValidationError{Items: shortfalls}
		}

		for _, item := range req.Items {
			if err := e.products.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				if errors.Is(err, store.ErrInsufficientStock) {
					p := products[item.ProductID]
					return &StockValidationError{Items: []Shortfall{{
						ProductID:   item.ProductID,
						ProductName: p.Name,
						Requested:   item.Quantity,
						Available:   p.Stock,
						Reason:      ReasonInsufficientStock,
					}}}
				}
				return err
			}
		}

		order, err = e.assembleOrder(req, products, orderNumber)
		if err != nil {
			return err
		}

		return e.orders.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, classifyPlacementError(err)
	}

	for _, item := range order.Items {
		util.StockUnitsReservedTotal.Add(float64(item.Quantity))
	}
	return order, nil
}

// checkStock locks every referenced product in ascending id order and
// reports each product the cart oversubscribes. Quantities for repeated
// products are summed.
func (e *PlacementEngine) checkStock(ctx context.Context, items []LineItemRequest) (map[int64]*models.Product, []Shortfall, error) {
	requested := make(map[int64]int, len(items))
	cartOrder := make([]int64, 0, len(items))
	for _, item := range items {
		if _, seen := requested[item.ProductID]; !seen {
			cartOrder = append(cartOrder, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}

	ids := append([]int64(nil), cartOrder...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	products := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		product, err := e.products.FindProductByID(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		products[id] = product
	}

	var shortfalls []Shortfall
	for _, id := range cartOrder {
		product, want := products[id], requested[id]

		switch {
		case product == nil:
			shortfalls = append(shortfalls, Shortfall{
				ProductID: id,
				Requested: want,
				Reason:    ReasonNotFound,
			})
		case !product.IsPurchasable():
			shortfalls = append(shortfalls, Shortfall{
				ProductID:   id,
				ProductName: product.Name,
				Requested:   want,
				Reason:      ReasonInactive,
			})
		case product.Stock < want:
			shortfalls = append(shortfalls, Shortfall{
				ProductID:   id,
				ProductName: product.Name,
				Requested:   want,
				Available:   product.Stock,
				Reason:      ReasonInsufficientStock,
			})
		}
	}

	return products, shortfalls, nil
}

// assembleOrder resolves the customer branch and snapshots the line items
func (e *PlacementEngine) assembleOrder(req *PlaceOrderRequest, products map[int64]*models.Product, orderNumber string) (*models.Order, error) {
	order := &models.Order{
		OrderNumber:    orderNumber,
		DeliveryOption: req.DeliveryOption,
		PaymentMethod:  req.PaymentMethod,
		Status:         models.OrderStatusPending,
		Items:          make([]models.OrderItem, 0, len(req.Items)),
	}
	if order.DeliveryOption == "" {
		order.DeliveryOption = models.DeliveryStandard
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = models.PaymentMobileMoney
	}

	// An authenticated identity takes precedence over any guest record
	switch {
	case req.CustomerRef != "":
		order.UserID.String, order.UserID.Valid = req.CustomerRef, true
		if req.CustomerEmail != "" {
			order.CustomerEmail.String, order.CustomerEmail.Valid = req.CustomerEmail, true
		}
	case !guestEmpty(req.Guest):
		if err := e.validateGuest(req.Guest); err != nil {
			return nil, err
		}
		order.SetGuest(req.Guest)
	default:
		return nil, ErrCustomerInfoMissing
	}

	total := decimal.Zero
	for _, item := range req.Items {
		product := products[item.ProductID]
		line := models.OrderItem{
			ProductID:   product.ID,
			Quantity:    item.Quantity,
			ProductName: product.Name,
			UnitPrice:   product.Price,
			ImageURL:    product.ImageURL,
		}
		total = total.Add(line.Subtotal())
		order.Items = append(order.Items, line)
	}
	order.TotalAmount = total.Round(2)

	if req.TotalAmount != nil && !req.TotalAmount.Round(2).Equal(order.TotalAmount) {
		return nil, &ValidationError{Fields: map[string]string{
			"totalAmount": fmt.Sprintf("declared total %s does not match computed total %s",
				req.TotalAmount.StringFixed(2), order.TotalAmount.StringFixed(2)),
		}}
	}

	return order, nil
}

// validateRequest checks the request shape before any transaction starts
func (e *PlacementEngine) validateRequest(req *PlaceOrderRequest) error {
	verr := &ValidationError{}

	if len(req.Items) == 0 {
		verr.add("items", "at least one line item is required")
	}
	for i, item := range req.Items {
		if item.ProductID <= 0 {
			verr.add(fmt.Sprintf("items[%d].productId", i), "must be a valid product reference")
		}
		if item.Quantity < 1 {
			verr.add(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
	}
	if req.DeliveryOption != "" && !req.DeliveryOption.Valid() {
		verr.add("deliveryOption", "must be one of standard, express, pickup")
	}
	if req.PaymentMethod != "" && !req.PaymentMethod.Valid() {
		verr.add("paymentMethod", "must be one of mobile_money, card, bank, cash, paypal")
	}
	if req.TotalAmount != nil && req.TotalAmount.IsNegative() {
		verr.add("totalAmount", "must not be negative")
	}

	return verr.orNil()
}

func (e *PlacementEngine) validateGuest(g *models.GuestCustomer) error {
	verr := &ValidationError{}

	if strings.TrimSpace(g.Name) == "" {
		verr.add("guestCustomer.name", "is required")
	}
	if strings.TrimSpace(g.Phone) == "" {
		verr.add("guestCustomer.phone", "is required")
	}
	if strings.TrimSpace(g.Email) == "" {
		verr.add("guestCustomer.email", "is required")
	} else if err := e.validate.Var(g.Email, "email"); err != nil {
		verr.add("guestCustomer.email", "must be a valid email address")
	}

	return verr.orNil()
}

func guestEmpty(g *models.GuestCustomer) bool {
	return g == nil || (strings.TrimSpace(g.Name) == "" &&
		strings.TrimSpace(g.Email) == "" &&
		strings.TrimSpace(g.Phone) == "")
}

// dispatchSideEffects schedules post-commit work. Nothing here can fail the order.
func (e *PlacementEngine) dispatchSideEffects(order *models.Order) {
	if e.dispatcher == nil {
		return
	}

	if to := order.ContactEmail(); to != "" && e.notifier != nil {
		subject, body, err := mailer.RenderOrderConfirmation(order, e.cfg.StoreName)
		if err != nil {
			e.logger.Error("Failed to render confirmation email",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		} else if !e.dispatcher.Dispatch("confirmation_email", func(ctx context.Context) error {
			return e.notifier.Send(ctx, to, subject, body)
		}) {
			e.logger.Warn("Confirmation email dropped", zap.Int64("order_id", order.ID))
		}
	}

	if e.events != nil {
		event := orderPlacedEvent(order)
		if !e.dispatcher.Dispatch("order_placed_event", func(ctx context.Context) error {
			return e.events.PublishOrderPlaced(ctx, event)
		}) {
			e.logger.Warn("OrderPlaced event dropped", zap.Int64("order_id", order.ID))
		}
	}
}

func orderPlacedEvent(order *models.Order) *models.OrderPlacedEvent {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	return &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID.String,
		Guest:          order.Guest() != nil,
		TotalAmount:    order.TotalAmount,
		DeliveryOption: order.DeliveryOption,
		PaymentMethod:  order.PaymentMethod,
		Items:          items,
	}
}

// classifyPlacementError keeps domain errors as they are and wraps the rest
func classifyPlacementError(err error) error {
	var stockErr *StockValidationError
	var verr *ValidationError
	var cerr *store.ConstraintError

	switch {
	case errors.As(err, &stockErr), errors.As(err, &verr),
		errors.Is(err, ErrCustomerInfoMissing), errors.Is(err, store.ErrDuplicateOrderNumber):
		return err
	case errors.As(err, &cerr):
		return fromConstraint(cerr)
	default:
		return fmt.Errorf("failed to place order: %w", err)
	}
}

func rejectReason(err error) string {
	var stockErr *StockValidationError
	var verr *ValidationError

	switch {
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &verr):
		return "validation"
	case errors.Is(err, ErrCustomerInfoMissing):
		return "customer_missing"
	case errors.Is(err, store.ErrDuplicateOrderNumber):
		return "duplicate_order_number"
	default:
		return "internal"
	}
}
