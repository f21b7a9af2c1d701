package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"checkout-service/internal/store"
)

var (
	ErrCustomerInfoMissing   = errors.New("customer information is required")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidTransition     = errors.New("invalid order status transition")
	ErrInvalidCode           = errors.New("invalid or expired verification code")
	ErrIdempotencyInProgress = errors.New("a request with this idempotency key is in progress")
	ErrIdempotencyKeyReused  = errors.New("idempotency key was already used for a different order request")
	ErrDuplicateOrderNumber  = store.ErrDuplicateOrderNumber
)

// Shortfall reasons
const (
	ReasonNotFound          = "not_found"
	ReasonInactive          = "inactive"
	ReasonInsufficientStock = "insufficient_stock"
)

// Shortfall is a line item the current inventory cannot satisfy
type Shortfall struct {
	ProductID   int64  `json:"productId"`
	ProductName string `json:"productName,omitempty"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
	Reason      string `json:"reason"`
}

// StockValidationError rejects a cart; nothing was written
type StockValidationError struct {
	Items []Shortfall
}

func (e *StockValidationError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		parts = append(parts, fmt.Sprintf("product %d: %s (requested %d, available %d)",
			item.ProductID, item.Reason, item.Requested, item.Available))
	}
	return "stock validation failed: " + strings.Join(parts, "; ")
}

// ValidationError carries field-level messages for a malformed request
// or a row the database schema rejected
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// fromConstraint turns a schema rejection into a field-level validation error
func fromConstraint(err *store.ConstraintError) *ValidationError {
	field := err.Column
	if field == "" {
		field = err.Constraint
	}
	return &ValidationError{Fields: map[string]string{field: err.Message}}
}
