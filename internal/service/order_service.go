package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/mailer"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderStore reads orders and applies status changes
type OrderStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus, trackingNumber string) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// IdempotencyStore remembers which order a checkout key produced
type IdempotencyStore interface {
	GetIdempotentOrder(ctx context.Context, key string) (*models.IdempotencyRecord, error)
	SaveIdempotentOrder(ctx context.Context, key string, rec models.IdempotencyRecord, ttl time.Duration) error
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// VerificationStore holds pending guest lookup codes with expiry
type VerificationStore interface {
	SaveCode(ctx context.Context, token, code string, ttl time.Duration) error
	ConsumeCode(ctx context.Context, token string) (string, error)
}

// OrderServiceConfig tunes the order service
type OrderServiceConfig struct {
	IdempotencyTTL  time.Duration
	VerificationTTL time.Duration
	StoreName       string
}

// OrderService handles order business logic around the placement engine
type OrderService struct {
	engine     *PlacementEngine
	tx         Transactor
	orders     OrderStore
	idem       IdempotencyStore
	codes      VerificationStore
	dispatcher TaskDispatcher
	notifier   NotificationSender
	cfg        OrderServiceConfig
	logger     *zap.Logger
}

// NewOrderService creates a new order service.
// idem and codes may be nil; checkout then runs without idempotency and
// guest lookup is unavailable.
func NewOrderService(
	engine *PlacementEngine,
	tx Transactor,
	orders OrderStore,
	idem IdempotencyStore,
	codes VerificationStore,
	dispatcher TaskDispatcher,
	notifier NotificationSender,
	cfg OrderServiceConfig,
) *OrderService {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 10 * time.Minute
	}

	return &OrderService{
		engine:     engine,
		tx:         tx,
		orders:     orders,
		idem:       idem,
		codes:      codes,
		dispatcher: dispatcher,
		notifier:   notifier,
		cfg:        cfg,
		logger:     util.GetLogger(),
	}
}

// PlaceOrder places an order. When the same customer repeats an
// idempotency key with the same cart, the order that key produced is
// returned with replayed set; a different cart under that key is rejected.
func (s *OrderService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (order *models.Order, replayed bool, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	clientKey := strings.TrimSpace(req.IdempotencyKey)
	if clientKey == "" || s.idem == nil {
		order, err = s.engine.PlaceOrder(ctx, req)
		return order, false, err
	}
	key := idempotencyScope(req, clientKey)
	fingerprint := cartFingerprint(req)

	if order, err := s.replay(ctx, key, fingerprint); err != nil || order != nil {
		return order, order != nil, err
	}

	// Covers every order number attempt plus the final save
	lockTTL := time.Duration(s.engine.cfg.MaxNumberAttempts+1) * s.engine.cfg.TxTimeout
	lock := "idempotency:" + key
	token, err := s.idem.AcquireLock(ctx, lock, lockTTL)
	switch {
	case err != nil:
		s.logger.Warn("Idempotency lock unavailable, placing without it",
			zap.String("idempotency_key", clientKey), zap.Error(err))
	case token == "":
		return nil, false, ErrIdempotencyInProgress
	default:
		defer func() {
			if err := s.idem.ReleaseLock(context.WithoutCancel(ctx), lock, token); err != nil {
				s.logger.Warn("Failed to release idempotency lock", zap.String("idempotency_key", clientKey), zap.Error(err))
			}
		}()
		// A concurrent holder may have finished between the first check and the lock
		if order, err := s.replay(ctx, key, fingerprint); err != nil || order != nil {
			return order, order != nil, err
		}
	}

	order, err = s.engine.PlaceOrder(ctx, req)
	if err != nil {
		return nil, false, err
	}

	rec := models.IdempotencyRecord{OrderID: order.ID, Fingerprint: fingerprint}
	if err := s.idem.SaveIdempotentOrder(ctx, key, rec, s.cfg.IdempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotency key",
			zap.String("idempotency_key", clientKey),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
	return order, false, nil
}

// replay returns the order previously stored for key, or nil
func (s *OrderService) replay(ctx context.Context, key, fingerprint string) (*models.Order, error) {
	rec, err := s.idem.GetIdempotentOrder(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed, placing without it",
			zap.String("idempotency_key", key), zap.Error(err))
		return nil, nil
	}
	if rec == nil {
		return nil, nil
	}
	if rec.Fingerprint != fingerprint {
		return nil, ErrIdempotencyKeyReused
	}

	order, err := s.GetOrder(ctx, rec.OrderID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", order.ID))
	return order, nil
}

// idempotencyScope namespaces a client key by who is checking out, so one
// customer's key never resolves to another customer's order
func idempotencyScope(req *PlaceOrderRequest, clientKey string) string {
	if req.CustomerRef != "" {
		return "user:" + req.CustomerRef + ":" + clientKey
	}
	if req.Guest != nil {
		if email := strings.ToLower(strings.TrimSpace(req.Guest.Email)); email != "" {
			return "guest:" + email + ":" + clientKey
		}
	}
	return "anon:" + clientKey
}

// cartFingerprint hashes everything in a request that decides what order
// gets placed. Line order does not matter.
func cartFingerprint(req *PlaceOrderRequest) string {
	items := append([]LineItemRequest(nil), req.Items...)
	sort.Slice(items, func(i, j int) bool {
		if items[i].ProductID != items[j].ProductID {
			return items[i].ProductID < items[j].ProductID
		}
		return items[i].Quantity < items[j].Quantity
	})

	d := xxhash.New()
	for _, item := range items {
		fmt.Fprintf(d, "%d:%d;", item.ProductID, item.Quantity)
	}
	fmt.Fprintf(d, "|%s|%s|%s", req.DeliveryOption, req.PaymentMethod, req.OrderNumber)
	if req.TotalAmount != nil {
		fmt.Fprintf(d, "|%s", req.TotalAmount.String())
	}
	if g := req.Guest; g != nil && req.CustomerRef == "" {
		fmt.Fprintf(d, "|%s|%s|%s", g.Name, g.Phone, g.Address)
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// GetOrder retrieves an order with its items by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %d: %w", orderID, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// GetOrderByNumber retrieves an order with its items by order number
func (s *OrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderNumber, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// ListCustomerOrders lists an authenticated customer's orders, newest first
func (s *OrderService) ListCustomerOrders(ctx context.Context, customerRef string) ([]models.Order, error) {
	orders, err := s.orders.ListOrdersByUserID(ctx, customerRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// UpdateOrderStatus applies an administrative status transition
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, next models.OrderStatus, trackingNumber string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateOrderStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("status", string(next)))
	defer span.End()

	if !next.Valid() {
		return nil, &ValidationError{Fields: map[string]string{"status": fmt.Sprintf("unknown status %q", next)}}
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%s -> %s: %w", order.Status, next, ErrInvalidTransition)
	}

	if err := s.orders.UpdateOrderStatus(ctx, orderID, order.Status, next, strings.TrimSpace(trackingNumber)); err != nil {
		if errors.Is(err, store.ErrStatusChanged) {
			return nil, fmt.Errorf("order %d changed concurrently: %w", orderID, ErrInvalidTransition)
		}
		return nil, err
	}

	util.OrderStatusChangesTotal.WithLabelValues(string(next)).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(next)))

	updated, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.notifyStatus(updated)
	return updated, nil
}

// ApplyPaymentResult settles a pending order from a payment gateway result.
// Results are deduplicated by event id and only move Pending orders.
func (s *OrderService) ApplyPaymentResult(ctx context.Context, event *models.PaymentResultEvent) error {
	ctx, span := util.StartSpan(ctx, "OrderService.ApplyPaymentResult",
		attribute.String("order_number", event.OrderNumber),
		attribute.String("result", event.ResultCode))
	defer span.End()

	var next models.OrderStatus
	switch event.ResultCode {
	case models.PaymentResultSuccess:
		next = models.OrderStatusConfirmed
	case models.PaymentResultFailed:
		next = models.OrderStatusCancelled
	default:
		return &ValidationError{Fields: map[string]string{"resultCode": "must be success or failed"}}
	}

	var settled *models.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if event.EventID != "" {
			processed, err := s.orders.IsEventProcessed(ctx, event.EventID)
			if err != nil {
				return fmt.Errorf("failed to check event processed: %w", err)
			}
			if processed {
				s.logger.Info("Event already processed", zap.String("event_id", event.EventID))
				return nil
			}
		}

		order, err := s.orders.GetOrderByNumber(ctx, event.OrderNumber)
		if err != nil {
			return fmt.Errorf("failed to get order %s: %w", event.OrderNumber, err)
		}
		if order == nil {
			return ErrOrderNotFound
		}

		if order.Status != models.OrderStatusPending {
			s.logger.Warn("Payment result for settled order ignored",
				zap.String("order_number", order.OrderNumber),
				zap.String("status", string(order.Status)),
				zap.String("result", event.ResultCode))
		} else {
			err := s.orders.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, next, "")
			if err != nil && !errors.Is(err, store.ErrStatusChanged) {
				return err
			}
			if err == nil {
				order.Status = next
				settled = order
			}
		}

		if event.EventID != "" {
			if err := s.orders.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
				return fmt.Errorf("failed to mark event processed: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	util.PaymentResultsTotal.WithLabelValues(event.ResultCode).Inc()
	if settled != nil {
		util.OrderStatusChangesTotal.WithLabelValues(string(next)).Inc()
		s.logger.Info("Payment result applied",
			zap.Int64("order_id", settled.ID),
			zap.String("order_number", settled.OrderNumber),
			zap.String("status", string(next)),
			zap.String("gateway_tx_id", event.GatewayTxID))
		s.notifyStatus(settled)
	}
	return nil
}

// RequestLookupCode emails a one-time code to the guest who placed
// orderNumber. Unknown orders and mismatched emails are silently ignored.
func (s *OrderService) RequestLookupCode(ctx context.Context, orderNumber, email string) {
	ctx, span := util.StartSpan(ctx, "OrderService.RequestLookupCode")
	defer span.End()

	if s.codes == nil {
		return
	}

	order, err := s.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		s.logger.Error("Lookup code: failed to load order", zap.String("order_number", orderNumber), zap.Error(err))
		return
	}
	if order == nil || !guestEmailMatches(order, email) {
		return
	}

	code, err := newVerificationCode()
	if err != nil {
		s.logger.Error("Lookup code: failed to generate code", zap.Error(err))
		return
	}
	if err := s.codes.SaveCode(ctx, orderNumber, code, s.cfg.VerificationTTL); err != nil {
		s.logger.Error("Lookup code: failed to store code", zap.String("order_number", orderNumber), zap.Error(err))
		return
	}

	if s.dispatcher == nil || s.notifier == nil {
		return
	}
	subject, body, err := mailer.RenderLookupCode(orderNumber, code, int(s.cfg.VerificationTTL.Minutes()), s.cfg.StoreName)
	if err != nil {
		s.logger.Error("Lookup code: failed to render email", zap.Error(err))
		return
	}
	to := order.GuestEmail.String
	if !s.dispatcher.Dispatch("lookup_code_email", func(ctx context.Context) error {
		return s.notifier.Send(ctx, to, subject, body)
	}) {
		s.logger.Warn("Lookup code email dropped", zap.String("order_number", orderNumber))
	}
}

// LookupGuestOrder returns a guest order once the emailed code is presented.
// A code is consumed by the first attempt, right or wrong.
func (s *OrderService) LookupGuestOrder(ctx context.Context, orderNumber, email, code string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.LookupGuestOrder")
	defer span.End()

	if s.codes == nil {
		return nil, ErrInvalidCode
	}

	stored, err := s.codes.ConsumeCode(ctx, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to read verification code: %w", err)
	}
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(code))) != 1 {
		return nil, ErrInvalidCode
	}

	order, err := s.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderNumber, err)
	}
	if order == nil || !guestEmailMatches(order, email) {
		return nil, ErrInvalidCode
	}
	return order, nil
}

// notifyStatus emails the customer about a status change
func (s *OrderService) notifyStatus(order *models.Order) {
	to := order.ContactEmail()
	if to == "" || s.dispatcher == nil || s.notifier == nil {
		return
	}

	subject, body, err := mailer.RenderStatusUpdate(order, s.cfg.StoreName)
	if err != nil {
		s.logger.Error("Failed to render status email", zap.Int64("order_id", order.ID), zap.Error(err))
		return
	}
	if !s.dispatcher.Dispatch("status_email", func(ctx context.Context) error {
		return s.notifier.Send(ctx, to, subject, body)
	}) {
		s.logger.Warn("Status email dropped", zap.Int64("order_id", order.ID))
	}
}

func guestEmailMatches(order *models.Order, email string) bool {
	return order.GuestEmail.Valid && email != "" &&
		strings.EqualFold(strings.TrimSpace(order.GuestEmail.String), strings.TrimSpace(email))
}

func newVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
