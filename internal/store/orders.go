package store

import (
	"context"
	"database/sql"
	"fmt"

	"checkout-service/internal/models"
)

// CreateOrder inserts an order and its line items.
// Called outside a transaction it opens its own.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	if !inTx(ctx) {
		return s.WithinTx(ctx, func(ctx context.Context) error {
			return s.CreateOrder(ctx, order)
		})
	}

	query := `
		INSERT INTO orders (order_number, user_id, guest_name, guest_email, guest_phone, guest_address,
			customer_email, total_amount, delivery_option, payment_method, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err := s.conn(ctx).GetContext(ctx, order, query,
		order.OrderNumber, order.UserID, order.GuestName, order.GuestEmail, order.GuestPhone,
		order.GuestAddress, order.CustomerEmail, order.TotalAmount, order.DeliveryOption,
		order.PaymentMethod, order.Status)
	if err != nil {
		return classifyError(fmt.Errorf("failed to insert order: %w", err))
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if err := s.createOrderItem(ctx, item); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) createOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, quantity, product_name, unit_price, image_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := s.conn(ctx).GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.Quantity, item.ProductName, item.UnitPrice, item.ImageURL)
	if err != nil {
		return classifyError(fmt.Errorf("failed to insert order item: %w", err))
	}
	return nil
}

// GetOrderByID retrieves an order with its items, or nil if it does not exist
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return s.getOrder(ctx, "SELECT * FROM orders WHERE id = $1", id)
}

// GetOrderByNumber retrieves an order by its order number, or nil
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	return s.getOrder(ctx, "SELECT * FROM orders WHERE order_number = $1", orderNumber)
}

func (s *Store) getOrder(ctx context.Context, query string, arg interface{}) (*models.Order, error) {
	var order models.Order
	err := s.conn(ctx).GetContext(ctx, &order, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := s.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

// ListOrdersByUserID retrieves orders for a user, newest first
func (s *Store) ListOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.conn(ctx).SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.conn(ctx).SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateOrderStatus moves an order from one status to another.
// ErrStatusChanged is returned when the order is no longer in from.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, from, to models.OrderStatus, trackingNumber string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
			tracking_number = COALESCE(NULLIF($2, ''), tracking_number),
			shipped_at = CASE WHEN $1 = 'Shipped' THEN NOW() ELSE shipped_at END,
			updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		to, trackingNumber, orderID, from)
	if err != nil {
		return classifyError(fmt.Errorf("failed to update order status: %w", err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("order %d: %w", orderID, ErrStatusChanged)
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.conn(ctx).GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
