package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"venfurneer-orders/internal/models"
)

const orderColumns = `id, order_number, customer_name, customer_email, customer_phone,
	ship_street, ship_city, ship_state, ship_zip, ship_country,
	subtotal, shipping, tax, total, status, payment_status, gateway_order_id,
	created_at, updated_at`

// CreatePendingOrder inserts a new order with its line items in a single
// transaction. The pending statuses are forced here regardless of what
// the caller set. Returns models.ErrDuplicateOrderNumber when the
// allocated order number collides.
func (s *Store) CreatePendingOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order.Status = models.OrderStatusPending
	order.PaymentStatus = models.PaymentStatusPending

	query := `
		INSERT INTO orders (order_number, customer_name, customer_email, customer_phone,
			ship_street, ship_city, ship_state, ship_zip, ship_country,
			subtotal, shipping, tax, total, status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.OrderNumber, order.Name, order.Email, order.Phone,
		order.Street, order.City, order.State, order.Zip, order.Country,
		order.Subtotal, order.Shipping, order.Tax, order.Total,
		order.Status, order.PaymentStatus,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "orders_order_number_key") {
			return models.ErrDuplicateOrderNumber
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (order_id, product_id, name, unit_price, quantity, size, color, image)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		if err := tx.QueryRowxContext(ctx, itemQuery,
			item.OrderID, item.ProductID, item.Name, item.UnitPrice,
			item.Quantity, item.Size, item.Color, item.Image,
		).Scan(&item.ID); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByNumber retrieves an order with its items and payment record.
func (s *Store) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		fmt.Sprintf("SELECT %s FROM orders WHERE order_number = $1", orderColumns), orderNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUnknownOrder
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	if err := s.loadOrderChildren(ctx, &order); err != nil {
		return nil, err
	}

	return &order, nil
}

func (s *Store) loadOrderChildren(ctx context.Context, order *models.Order) error {
	if err := s.db.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", order.ID); err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}

	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE order_id = $1", order.ID)
	if err == nil {
		order.Payment = &payment
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to load payment: %w", err)
	}

	return nil
}

// SetGatewayOrderID records the gateway's order id on a pending order so
// that asynchronous callbacks can be correlated. Status is untouched.
func (s *Store) SetGatewayOrderID(ctx context.Context, orderNumber, gatewayOrderID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET gateway_order_id = $1, updated_at = NOW() WHERE order_number = $2",
		gatewayOrderID, orderNumber)
	if err != nil {
		return fmt.Errorf("failed to set gateway order id: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return models.ErrUnknownOrder
	}
	return nil
}

// ApplyPaymentConfirmation atomically confirms an order and attaches the
// payment record. Idempotent: a replay carrying the transaction id of an
// already-applied confirmation returns the confirmed order unchanged. A
// different transaction id against a confirmed order is a conflict.
func (s *Store) ApplyPaymentConfirmation(ctx context.Context, orderNumber string, payment *models.Payment) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order,
		fmt.Sprintf("SELECT %s FROM orders WHERE order_number = $1 FOR UPDATE", orderColumns), orderNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrUnknownOrder
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}

	// The callback must belong to the intent created for this order. A
	// validly-signed callback for another order's intent is a cross-order
	// replay, not a confirmation.
	if order.GatewayOrderID != "" && payment.GatewayOrderID != order.GatewayOrderID {
		return nil, fmt.Errorf("%w: callback for intent %s does not match order %s",
			models.ErrPaymentConflict, payment.GatewayOrderID, orderNumber)
	}

	if order.Status != models.OrderStatusPending {
		var existing models.Payment
		err = tx.GetContext(ctx, &existing, "SELECT * FROM payments WHERE order_id = $1", order.ID)
		if err == nil && existing.TransactionID == payment.TransactionID {
			// Replayed confirmation; nothing to apply.
			if err := tx.SelectContext(ctx, &order.Items,
				"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", order.ID); err != nil {
				return nil, fmt.Errorf("failed to load order items: %w", err)
			}
			if err := tx.Commit(); err != nil {
				return nil, err
			}
			order.Payment = &existing
			return &order, nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to load payment: %w", err)
		}
		if order.Status == models.OrderStatusConfirmed {
			return nil, models.ErrPaymentConflict
		}
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, order.Status, models.OrderStatusConfirmed)
	}

	payment.OrderID = order.ID
	payment.Amount = order.Total
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO payments (order_id, method, transaction_id, gateway_order_id, status, amount, currency, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		payment.OrderID, payment.Method, payment.TransactionID, payment.GatewayOrderID,
		payment.Status, payment.Amount, payment.Currency, payment.PaidAt,
	).Scan(&payment.ID, &payment.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			// The same transaction id already landed on another order, or a
			// concurrent replay won the race on this one.
			return nil, models.ErrPaymentConflict
		}
		return nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	err = tx.GetContext(ctx, &order, fmt.Sprintf(`
		UPDATE orders SET status = $1, payment_status = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING %s`, orderColumns),
		models.OrderStatusConfirmed, models.PaymentStatusPaid, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm order: %w", err)
	}

	if err := tx.SelectContext(ctx, &order.Items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", order.ID); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit confirmation: %w", err)
	}

	order.Payment = payment
	return &order, nil
}

// UpdateOrderStatus applies an administrative status transition, checked
// against the transition table.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderNumber string, next models.OrderStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", models.ErrIllegalTransition, next)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current models.OrderStatus
	err = tx.GetContext(ctx, &current,
		"SELECT status FROM orders WHERE order_number = $1 FOR UPDATE", orderNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrUnknownOrder
	}
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, current, next)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE order_number = $2",
		next, orderNumber); err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	return tx.Commit()
}

// UpdatePaymentStatus applies an administrative payment-status transition,
// checked against the transition table.
func (s *Store) UpdatePaymentStatus(ctx context.Context, orderNumber string, next models.PaymentStatus) error {
	if !next.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", models.ErrIllegalTransition, next)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current models.PaymentStatus
	err = tx.GetContext(ctx, &current,
		"SELECT payment_status FROM orders WHERE order_number = $1 FOR UPDATE", orderNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrUnknownOrder
	}
	if err != nil {
		return fmt.Errorf("failed to lock order: %w", err)
	}

	if !current.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", models.ErrIllegalTransition, current, next)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE order_number = $2",
		next, orderNumber); err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	return tx.Commit()
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
