// Package worker consumes the gateway webhook relay and turns each
// callback into the same idempotent confirmation call the HTTP redirect
// path uses.
package worker

import (
	"context"
	"errors"
	"log"

	"venfurneer-orders/internal/broker"
	"venfurneer-orders/internal/models"
	"venfurneer-orders/internal/service"
)

// PaymentConfirmer applies a claimed payment result to an order.
// *service.CheckoutService satisfies this.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, req *service.ConfirmPaymentRequest) (*models.Order, error)
}

// EventDeduper tracks which event ids have already been handled.
// *store.Store satisfies this.
type EventDeduper interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PaymentWorker consumes payment-callback events
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	confirmer    PaymentConfirmer
	dedupe       EventDeduper
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, confirmer PaymentConfirmer, dedupe EventDeduper) *PaymentWorker {
	w := &PaymentWorker{
		consumer:  consumer,
		confirmer: confirmer,
		dedupe:    dedupe,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentCallback(w.handleCallback)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	log.Println("Starting payment worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	log.Println("Stopping payment worker...")
	return w.consumer.Close()
}

func (w *PaymentWorker) handleCallback(ctx context.Context, event *models.PaymentCallbackEvent) error {
	processed, err := w.dedupe.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		log.Printf("Callback already processed: %s", event.EventID)
		return nil
	}

	_, err = w.confirmer.ConfirmPayment(ctx, &service.ConfirmPaymentRequest{
		OrderNumber:      event.OrderNumber,
		GatewayOrderID:   event.GatewayOrderID,
		GatewayPaymentID: event.PaymentID,
		Signature:        event.Signature,
		Amount:           event.Amount,
	})
	if err != nil {
		// Forged signatures and unknown orders will not improve on retry;
		// mark them handled so the consumer does not loop on poison.
		if errors.Is(err, models.ErrSignatureMismatch) || errors.Is(err, models.ErrUnknownOrder) || errors.Is(err, models.ErrPaymentConflict) {
			log.Printf("Callback rejected for order %s: %v", event.OrderNumber, err)
			return w.dedupe.MarkEventProcessed(ctx, event.EventID, event.EventType)
		}
		return err
	}

	return w.dedupe.MarkEventProcessed(ctx, event.EventID, event.EventType)
}
