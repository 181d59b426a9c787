package models

import "time"

// Event types
const (
	EventTypeOrderPlaced     = "ORDER_PLACED"
	EventTypePaymentVerified = "PAYMENT_VERIFIED"
	EventTypePaymentRejected = "PAYMENT_REJECTED"
	EventTypePaymentCallback = "PAYMENT_CALLBACK"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published when a pending order is persisted
type OrderPlacedEvent struct {
	BaseEvent
	OrderNumber string          `json:"order_number"`
	Total       int64           `json:"total"`
	Items       []OrderItemData `json:"items"`
}

// PaymentVerifiedEvent published when a signature-checked payment is
// reconciled onto the order
type PaymentVerifiedEvent struct {
	BaseEvent
	OrderNumber    string `json:"order_number"`
	GatewayOrderID string `json:"gateway_order_id"`
	PaymentID      string `json:"payment_id"`
	Amount         int64  `json:"amount"`
}

// PaymentRejectedEvent published when a confirmation attempt fails the
// signature check
type PaymentRejectedEvent struct {
	BaseEvent
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
}

// PaymentCallbackEvent is the inbound webhook relay message carrying the
// gateway's claimed payment result for an order
type PaymentCallbackEvent struct {
	BaseEvent
	OrderNumber    string `json:"order_number"`
	GatewayOrderID string `json:"gateway_order_id"`
	PaymentID      string `json:"payment_id"`
	Signature      string `json:"signature"`
	Amount         int64  `json:"amount,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}
