package service

import (
	"context"
	"time"

	"venfurneer-orders/internal/gateway"
	"venfurneer-orders/internal/models"
)

// OrderStore is the durable order record the services write through.
// *store.Store satisfies this.
type OrderStore interface {
	CreatePendingOrder(ctx context.Context, order *models.Order) error
	GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	SetGatewayOrderID(ctx context.Context, orderNumber, gatewayOrderID string) error
	ApplyPaymentConfirmation(ctx context.Context, orderNumber string, payment *models.Payment) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderNumber string, next models.OrderStatus) error
	UpdatePaymentStatus(ctx context.Context, orderNumber string, next models.PaymentStatus) error
}

// NumberAllocator produces order numbers. *ordernumber.Allocator satisfies this.
type NumberAllocator interface {
	Allocate(ctx context.Context) (string, error)
}

// GatewayClient creates remote payment intents. *gateway.Client satisfies this.
type GatewayClient interface {
	CreateIntent(ctx context.Context, amountPaise int64, currency, receipt string, notes map[string]string) (*gateway.Intent, error)
	KeyID() string
}

// PaymentVerifier checks gateway signatures. *gateway.SignatureVerifier
// satisfies this.
type PaymentVerifier interface {
	Verify(gatewayOrderID, gatewayPaymentID, signature string) bool
}

// EventPublisher emits domain events. *broker.EventPublisher satisfies this.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishPaymentVerified(ctx context.Context, event *models.PaymentVerifiedEvent) error
	PublishPaymentRejected(ctx context.Context, event *models.PaymentRejectedEvent) error
}

// ViewCache caches rendered order views. *redisclient.Client satisfies this.
type ViewCache interface {
	GetOrderView(ctx context.Context, orderNumber string) ([]byte, error)
	CacheOrderView(ctx context.Context, orderNumber string, payload []byte, ttl time.Duration) error
	InvalidateOrderView(ctx context.Context, orderNumber string) error
}
