package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var registerOnce sync.Once

// registerJSONFieldNames makes binding errors report json field names
func registerJSONFieldNames() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// bind decodes and validates the JSON body, writing a 400 on failure
func (h *Handler) bind(c *gin.Context, obj interface{}) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}

	if fields := fieldErrors(err); fields != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"fields":  fields,
		})
		return false
	}

	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   "Invalid request body",
		"details": err.Error(),
	})
	return false
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Namespace()
		if i := strings.Index(name, "."); i >= 0 {
			name = name[i+1:]
		}
		fields[name] = describe(fe)
	}
	return fields
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "email":
		return "must be a valid email address"
	case "numeric":
		return "must be numeric"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}

// writeError maps service errors to status codes and response bodies
func (h *Handler) writeError(c *gin.Context, err error, internalMessage string) {
	var stockErr *service.StockValidationError
	var verr *service.ValidationError

	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"success":         false,
			"error":           "Insufficient stock",
			"outOfStockItems": stockErr.Items,
			"message":         "Some items are unavailable in the requested quantity. Update your cart and try again.",
		})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Validation failed",
			"fields":  verr.Fields,
		})
	case errors.Is(err, service.ErrCustomerInfoMissing):
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Customer information is required: sign in or provide guest name, email and phone",
		})
	case errors.Is(err, service.ErrDuplicateOrderNumber):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "Order number already exists",
		})
	case errors.Is(err, service.ErrIdempotencyInProgress):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "A request with this Idempotency-Key is already being processed",
		})
	case errors.Is(err, service.ErrIdempotencyKeyReused):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"error":   "Idempotency-Key was already used for a different order request",
		})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "Order cannot move to the requested status",
			"details": err.Error(),
		})
	case errors.Is(err, service.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Order not found",
		})
	case errors.Is(err, service.ErrInvalidCode):
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Invalid or expired verification code",
		})
	default:
		h.logger.Error(internalMessage,
			zap.String("path", c.FullPath()),
			zap.Error(err))

		body := gin.H{
			"success": false,
			"error":   internalMessage,
		}
		if !h.production {
			body["details"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}
