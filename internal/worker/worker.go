package worker

import (
	"context"
	"errors"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// PaymentResultApplier settles orders from gateway results
type PaymentResultApplier interface {
	ApplyPaymentResult(ctx context.Context, event *models.PaymentResultEvent) error
}

// PaymentResultWorker consumes payment gateway results from Kafka
type PaymentResultWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	applier      PaymentResultApplier
	logger       *zap.Logger
}

// NewPaymentResultWorker creates a new payment result worker
func NewPaymentResultWorker(consumer *broker.Consumer, applier PaymentResultApplier) *PaymentResultWorker {
	w := &PaymentResultWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		applier:      applier,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnPaymentResult(w.handle)
	return w
}

// Start starts the worker
func (w *PaymentResultWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment result worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentResultWorker) Stop() error {
	w.logger.Info("Stopping payment result worker")
	return w.consumer.Close()
}

// handle applies one result. Results that can never apply are logged and
// acknowledged; other errors go back to the consumer, which retries the
// message before fetching the next one.
func (w *PaymentResultWorker) handle(ctx context.Context, event *models.PaymentResultEvent) error {
	err := w.applier.ApplyPaymentResult(ctx, event)

	var verr *service.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrOrderNotFound), errors.As(err, &verr):
		w.logger.Warn("Discarding payment result",
			zap.String("event_id", event.EventID),
			zap.String("order_number", event.OrderNumber),
			zap.Error(err))
		return nil
	default:
		return err
	}
}
