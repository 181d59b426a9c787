package models

import "time"

// Customer holds the buyer details captured at checkout. Only name and
// email are mandatory; the shipping address is optional.
type Customer struct {
	Name    string `db:"customer_name" json:"name"`
	Email   string `db:"customer_email" json:"email"`
	Phone   string `db:"customer_phone" json:"phone,omitempty"`
	Street  string `db:"ship_street" json:"street,omitempty"`
	City    string `db:"ship_city" json:"city,omitempty"`
	State   string `db:"ship_state" json:"state,omitempty"`
	Zip     string `db:"ship_zip" json:"zip,omitempty"`
	Country string `db:"ship_country" json:"country,omitempty"`
}

// Order is the durable record of a checkout. Amounts are whole rupees.
// The line items are a snapshot taken at creation time and never change
// afterwards. Invariant: Total == Subtotal + Shipping + Tax.
type Order struct {
	ID          int64  `db:"id" json:"-"`
	OrderNumber string `db:"order_number" json:"order_number"`
	Customer
	Subtotal       int64         `db:"subtotal" json:"subtotal"`
	Shipping       int64         `db:"shipping" json:"shipping"`
	Tax            int64         `db:"tax" json:"tax"`
	Total          int64         `db:"total" json:"total"`
	Status         OrderStatus   `db:"status" json:"status"`
	PaymentStatus  PaymentStatus `db:"payment_status" json:"payment_status"`
	GatewayOrderID string        `db:"gateway_order_id" json:"gateway_order_id,omitempty"`
	Items          []OrderItem   `db:"-" json:"items"`
	Payment        *Payment      `db:"-" json:"payment,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// OrderItem is one line of an order snapshot.
type OrderItem struct {
	ID        int64  `db:"id" json:"-"`
	OrderID   int64  `db:"order_id" json:"-"`
	ProductID string `db:"product_id" json:"product_id"`
	Name      string `db:"name" json:"name"`
	UnitPrice int64  `db:"unit_price" json:"unit_price"`
	Quantity  int    `db:"quantity" json:"quantity"`
	Size      string `db:"size" json:"size,omitempty"`
	Color     string `db:"color" json:"color,omitempty"`
	Image     string `db:"image" json:"image,omitempty"`
}

// Payment is the reconciled gateway result attached to an order after a
// confirmation attempt succeeded. TransactionID is the gateway payment id
// and is unique across all orders.
type Payment struct {
	ID             int64     `db:"id" json:"-"`
	OrderID        int64     `db:"order_id" json:"-"`
	Method         string    `db:"method" json:"method"`
	TransactionID  string    `db:"transaction_id" json:"transaction_id"`
	GatewayOrderID string    `db:"gateway_order_id" json:"gateway_order_id"`
	Status         string    `db:"status" json:"status"`
	Amount         int64     `db:"amount" json:"amount"`
	Currency       string    `db:"currency" json:"currency"`
	PaidAt         time.Time `db:"paid_at" json:"paid_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Payment sub-record statuses
const (
	PaymentRecordPending   = "pending"
	PaymentRecordCompleted = "completed"
	PaymentRecordFailed    = "failed"
	PaymentRecordRefunded  = "refunded"
)

// PaymentMethodRazorpay is the only method the checkout flow produces.
const PaymentMethodRazorpay = "razorpay"

// CurrencyINR is the single supported currency.
const CurrencyINR = "INR"

// ProcessedEvent records a consumed event id for webhook dedup.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
