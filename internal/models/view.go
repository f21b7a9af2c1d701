package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerInfo is the customer display block of an order response
type CustomerInfo struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// OrderView is the public projection of an order
type OrderView struct {
	ID             int64           `json:"id"`
	OrderNumber    string          `json:"orderNumber"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	Status         OrderStatus     `json:"status"`
	CustomerInfo   CustomerInfo    `json:"customerInfo"`
	User           string          `json:"user,omitempty"`
	GuestCustomer  *GuestCustomer  `json:"guestCustomer,omitempty"`
	DeliveryOption DeliveryOption  `json:"deliveryOption"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod"`
	TrackingNumber string          `json:"trackingNumber,omitempty"`
	Items          []OrderItem     `json:"items,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// View builds the public projection of o
func (o *Order) View() *OrderView {
	v := &OrderView{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		TotalAmount:    o.TotalAmount,
		Status:         o.Status,
		DeliveryOption: o.DeliveryOption,
		PaymentMethod:  o.PaymentMethod,
		TrackingNumber: o.TrackingNumber.String,
		Items:          o.Items,
		CreatedAt:      o.CreatedAt,
	}

	if guest := o.Guest(); guest != nil {
		v.GuestCustomer = guest
		v.CustomerInfo = CustomerInfo{
			Name:  guest.Name,
			Email: guest.Email,
			Phone: guest.Phone,
		}
		return v
	}

	v.User = o.UserID.String
	v.CustomerInfo = CustomerInfo{
		UserID: o.UserID.String,
		Email:  o.CustomerEmail.String,
	}
	return v
}
