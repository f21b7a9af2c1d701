package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced   = "ORDER_PLACED"
	EventTypePaymentResult = "PAYMENT_RESULT"
)

// Payment result codes reported by a gateway callback
const (
	PaymentResultSuccess = "success"
	PaymentResultFailed  = "failed"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published after an order commits
type OrderPlacedEvent struct {
	BaseEvent
	OrderID        int64           `json:"order_id"`
	OrderNumber    string          `json:"order_number"`
	UserID         string          `json:"user_id,omitempty"`
	Guest          bool            `json:"guest"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DeliveryOption DeliveryOption  `json:"delivery_option"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	Items          []OrderItemData `json:"items"`
}

// PaymentResultEvent is a payment gateway callback outcome
type PaymentResultEvent struct {
	BaseEvent
	OrderNumber string `json:"order_number" binding:"required"`
	ResultCode  string `json:"result_code" binding:"required,oneof=success failed"`
	GatewayTxID string `json:"gateway_tx_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
