package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
	ErrStatusChanged        = errors.New("order status changed concurrently")
)

// Postgres error codes
const (
	codeUniqueViolation  = "23505"
	codeCheckViolation   = "23514"
	codeNotNullViolation = "23502"
	codeInvalidText      = "22P02"
)

const orderNumberConstraint = "orders_order_number_key"

// ConstraintError is a row rejected by a schema constraint
type ConstraintError struct {
	Constraint string
	Column     string
	Message    string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint %q violated: %s", e.Constraint, e.Message)
}

// classifyError maps driver errors onto store errors, keeping the cause wrapped
func classifyError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case codeUniqueViolation:
		if pqErr.Constraint == orderNumberConstraint {
			return fmt.Errorf("%w: %v", ErrDuplicateOrderNumber, err)
		}
	case codeCheckViolation, codeNotNullViolation, codeInvalidText:
		return &ConstraintError{
			Constraint: pqErr.Constraint,
			Column:     pqErr.Column,
			Message:    pqErr.Message,
		}
	}
	return err
}
