package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedMessage marks a message that can never be handled
var ErrMalformedMessage = errors.New("malformed message")

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderPlaced publishes OrderPlaced event keyed by order so that
// events for one order stay on one partition
func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	if err := ep.producer.PublishEvent(ctx, key, event); err != nil {
		return err
	}
	util.GetLogger().Info("OrderPlaced event published",
		zap.Int64("order_id", event.OrderID),
		zap.String("event_id", event.EventID))
	return nil
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentResult func(context.Context, *models.PaymentResultEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentResult registers a handler for PaymentResult events
func (eh *EventHandler) OnPaymentResult(handler func(context.Context, *models.PaymentResultEvent) error) {
	eh.onPaymentResult = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: failed to unmarshal base event: %w", ErrMalformedMessage, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentResult:
		if eh.onPaymentResult != nil {
			var event models.PaymentResultEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: failed to unmarshal PaymentResult event: %w", ErrMalformedMessage, err)
			}
			return eh.onPaymentResult(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
