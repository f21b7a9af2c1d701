package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog product with its purchasable stock
type Product struct {
	ID        int64           `db:"id" json:"id"`
	SKU       string          `db:"sku" json:"sku"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	Status    string          `db:"status" json:"status"`
	ImageURL  string          `db:"image_url" json:"imageUrl"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// Product statuses
const (
	ProductStatusActive   = "active"
	ProductStatusInactive = "inactive"
)

// IsPurchasable reports whether the product may be ordered at all
func (p *Product) IsPurchasable() bool {
	return p.Status == ProductStatusActive
}

// GuestCustomer is the contact record of a checkout without an authenticated identity
type GuestCustomer struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
}

// Order represents a placed order
type Order struct {
	ID             int64           `db:"id" json:"id"`
	OrderNumber    string          `db:"order_number" json:"orderNumber"`
	UserID         sql.NullString  `db:"user_id" json:"-"`
	GuestName      sql.NullString  `db:"guest_name" json:"-"`
	GuestEmail     sql.NullString  `db:"guest_email" json:"-"`
	GuestPhone     sql.NullString  `db:"guest_phone" json:"-"`
	GuestAddress   sql.NullString  `db:"guest_address" json:"-"`
	CustomerEmail  sql.NullString  `db:"customer_email" json:"-"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"totalAmount"`
	DeliveryOption DeliveryOption  `db:"delivery_option" json:"deliveryOption"`
	PaymentMethod  PaymentMethod   `db:"payment_method" json:"paymentMethod"`
	Status         OrderStatus     `db:"status" json:"status"`
	TrackingNumber sql.NullString  `db:"tracking_number" json:"-"`
	ShippedAt      sql.NullTime    `db:"shipped_at" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`

	Items []OrderItem `db:"-" json:"items"`
}

// Guest returns the embedded guest record, or nil for an authenticated order
func (o *Order) Guest() *GuestCustomer {
	if !o.GuestName.Valid {
		return nil
	}
	return &GuestCustomer{
		Name:    o.GuestName.String,
		Email:   o.GuestEmail.String,
		Phone:   o.GuestPhone.String,
		Address: o.GuestAddress.String,
	}
}

// SetGuest stores the guest record on the order
func (o *Order) SetGuest(g *GuestCustomer) {
	o.GuestName = nullString(g.Name)
	o.GuestEmail = nullString(g.Email)
	o.GuestPhone = nullString(g.Phone)
	o.GuestAddress = nullString(g.Address)
}

// ContactEmail resolves the address a confirmation should go to
func (o *Order) ContactEmail() string {
	if o.CustomerEmail.Valid && o.CustomerEmail.String != "" {
		return o.CustomerEmail.String
	}
	return o.GuestEmail.String
}

// OrderItem is a line item snapshot taken at order time
type OrderItem struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"orderId"`
	ProductID   int64           `db:"product_id" json:"productId"`
	Quantity    int             `db:"quantity" json:"quantity"`
	ProductName string          `db:"product_name" json:"productName"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unitPrice"`
	ImageURL    string          `db:"image_url" json:"imageUrl"`
}

// Subtotal is unit price times quantity
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// IdempotencyRecord is what a checkout key remembers: the order it produced
// and a fingerprint of the cart that produced it
type IdempotencyRecord struct {
	OrderID     int64
	Fingerprint string
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
