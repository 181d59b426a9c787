package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"venfurneer-orders/internal/models"
	"venfurneer-orders/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutService drives the order lifecycle: place order, initiate
// payment, confirm payment. It is the only writer on the checkout path.
type CheckoutService struct {
	store          OrderStore
	allocator      NumberAllocator
	gateway        GatewayClient
	verifier       PaymentVerifier
	eventPublisher EventPublisher
	cache          ViewCache
	allocRetries   int
	logger         *zap.Logger
}

// NewCheckoutService creates a new checkout service. allocRetries bounds
// how many times a colliding order number is re-allocated.
func NewCheckoutService(
	store OrderStore,
	allocator NumberAllocator,
	gw GatewayClient,
	verifier PaymentVerifier,
	eventPublisher EventPublisher,
	cache ViewCache,
	allocRetries int,
) *CheckoutService {
	if allocRetries < 1 {
		allocRetries = 1
	}
	return &CheckoutService{
		store:          store,
		allocator:      allocator,
		gateway:        gw,
		verifier:       verifier,
		eventPublisher: eventPublisher,
		cache:          cache,
		allocRetries:   allocRetries,
		logger:         util.GetLogger(),
	}
}

// CartItem is one line of a checkout submission.
type CartItem struct {
	ProductID string `json:"product_id" binding:"required"`
	Name      string `json:"name" binding:"required"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	Image     string `json:"image,omitempty"`
}

// PlaceOrderRequest is the checkout submission.
type PlaceOrderRequest struct {
	Customer models.Customer `json:"customer" binding:"required"`
	Items    []CartItem      `json:"items"`
}

// PlaceOrderResponse is returned to the storefront after the pending
// order is durably written.
type PlaceOrderResponse struct {
	OrderNumber string             `json:"order_number"`
	Total       int64              `json:"total"`
	Status      models.OrderStatus `json:"status"`
}

// InitiatePaymentResponse carries what the payment UI needs to open the
// gateway checkout.
type InitiatePaymentResponse struct {
	GatewayOrderID string `json:"gateway_order_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"key_id"`
}

// ConfirmPaymentRequest is the client- or webhook-supplied claim that a
// payment completed at the gateway.
type ConfirmPaymentRequest struct {
	OrderNumber      string `json:"order_number" binding:"required"`
	GatewayOrderID   string `json:"gateway_order_id" binding:"required"`
	GatewayPaymentID string `json:"gateway_payment_id" binding:"required"`
	Signature        string `json:"signature" binding:"required"`
	Amount           int64  `json:"amount,omitempty"`
}

// PlaceOrder validates the cart, allocates an order number and persists a
// pending order in a single all-or-nothing write. No gateway interaction
// happens here.
func (s *CheckoutService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.PlaceOrder")
	defer span.End()

	if err := validatePlaceOrder(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	var subtotal int64
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		subtotal += it.UnitPrice * int64(it.Quantity)
		items = append(items, models.OrderItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Size:      it.Size,
			Color:     it.Color,
			Image:     it.Image,
		})
	}

	order := &models.Order{
		Customer: req.Customer,
		Subtotal: subtotal,
		// Shipping and tax are not itemized yet; kept as explicit fields so
		// a rate calculation can slot in without a schema change.
		Shipping: 0,
		Tax:      0,
		Items:    items,
	}
	order.Total = order.Subtotal + order.Shipping + order.Tax

	var err error
	for attempt := 0; attempt < s.allocRetries; attempt++ {
		order.OrderNumber, err = s.allocator.Allocate(ctx)
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues("allocation").Inc()
			return nil, fmt.Errorf("failed to allocate order number: %w", err)
		}

		err = s.store.CreatePendingOrder(ctx, order)
		if err == nil {
			break
		}
		if !errors.Is(err, models.ErrDuplicateOrderNumber) {
			util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
			return nil, fmt.Errorf("failed to create order: %w", err)
		}
		s.logger.Warn("Order number collision, re-allocating",
			zap.String("order_number", order.OrderNumber),
			zap.Int("attempt", attempt+1))
	}
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("allocation_exhausted").Inc()
		return nil, fmt.Errorf("order number allocation exhausted: %w", err)
	}

	util.OrdersPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("total", order.Total))

	eventItems := make([]models.OrderItemData, 0, len(order.Items))
	for _, it := range order.Items {
		eventItems = append(eventItems, models.OrderItemData{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderNumber: order.OrderNumber,
		Total:       order.Total,
		Items:       eventItems,
	}
	if err := s.eventPublisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}

	return &PlaceOrderResponse{
		OrderNumber: order.OrderNumber,
		Total:       order.Total,
		Status:      order.Status,
	}, nil
}

// InitiatePayment creates a gateway intent for the order's total and
// records the gateway order id for callback correlation. Order status is
// not mutated; gateway failures leave the order retryable.
func (s *CheckoutService) InitiatePayment(ctx context.Context, orderNumber string) (*InitiatePaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.InitiatePayment")
	defer span.End()

	order, err := s.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		return nil, fmt.Errorf("%w: payment already settled for %s", models.ErrPaymentConflict, orderNumber)
	}
	if order.Total <= 0 {
		return nil, fmt.Errorf("%w: order total %d", models.ErrInvalidAmount, order.Total)
	}

	amountPaise := order.Total * 100
	notes := map[string]string{
		"order_number":   order.OrderNumber,
		"customer_name":  order.Name,
		"customer_email": order.Email,
	}

	intent, err := s.gateway.CreateIntent(ctx, amountPaise, models.CurrencyINR, order.OrderNumber, notes)
	if err != nil {
		util.PaymentIntentFailuresTotal.WithLabelValues(intentFailureReason(err)).Inc()
		return nil, err
	}

	if err := s.store.SetGatewayOrderID(ctx, order.OrderNumber, intent.ID); err != nil {
		return nil, fmt.Errorf("failed to record gateway order id: %w", err)
	}

	util.PaymentIntentsCreatedTotal.Inc()
	s.logger.Info("Payment intent created",
		zap.String("order_number", order.OrderNumber),
		zap.String("gateway_order_id", intent.ID))

	return &InitiatePaymentResponse{
		GatewayOrderID: intent.ID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		KeyID:          s.gateway.KeyID(),
	}, nil
}

// ConfirmPayment reconciles a claimed gateway result onto the order. The
// signature check gates everything: nothing is written unless it passes.
// Replays with the same gateway payment id are idempotent at the store.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, req *ConfirmPaymentRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.ConfirmPayment")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ConfirmationLatency.Observe(time.Since(start).Seconds())
	}()

	if !s.verifier.Verify(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		util.PaymentsRejectedTotal.Inc()
		s.logger.Warn("Payment signature rejected",
			zap.String("order_number", req.OrderNumber),
			zap.String("gateway_order_id", req.GatewayOrderID),
			zap.String("gateway_payment_id", req.GatewayPaymentID))

		event := &models.PaymentRejectedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentRejected,
				Timestamp: time.Now(),
			},
			OrderNumber: req.OrderNumber,
			Reason:      "signature_mismatch",
		}
		if err := s.eventPublisher.PublishPaymentRejected(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentRejected event", zap.Error(err))
		}

		return nil, models.ErrSignatureMismatch
	}

	payment := &models.Payment{
		Method:         models.PaymentMethodRazorpay,
		TransactionID:  req.GatewayPaymentID,
		GatewayOrderID: req.GatewayOrderID,
		Status:         models.PaymentRecordCompleted,
		Currency:       models.CurrencyINR,
		PaidAt:         time.Now(),
	}

	order, err := s.store.ApplyPaymentConfirmation(ctx, req.OrderNumber, payment)
	if err != nil {
		return nil, err
	}

	if req.Amount != 0 && req.Amount != order.Total {
		s.logger.Warn("Claimed amount differs from order total",
			zap.String("order_number", order.OrderNumber),
			zap.Int64("claimed", req.Amount),
			zap.Int64("total", order.Total))
	}

	if order.UpdatedAt.Before(start) {
		// Nothing changed in this call: a replay of an applied confirmation.
		util.PaymentReplaysTotal.Inc()
	} else {
		util.PaymentsVerifiedTotal.Inc()
	}

	if err := s.cache.InvalidateOrderView(ctx, order.OrderNumber); err != nil {
		s.logger.Warn("Failed to invalidate order view cache", zap.Error(err))
	}

	s.logger.Info("Payment confirmed",
		zap.String("order_number", order.OrderNumber),
		zap.String("transaction_id", req.GatewayPaymentID))

	event := &models.PaymentVerifiedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentVerified,
			Timestamp: time.Now(),
		},
		OrderNumber:    order.OrderNumber,
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.GatewayPaymentID,
		Amount:         order.Total,
	}
	if err := s.eventPublisher.PublishPaymentVerified(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentVerified event", zap.Error(err))
	}

	return order, nil
}

// UpdateStatus applies an administrative order-status transition.
func (s *CheckoutService) UpdateStatus(ctx context.Context, orderNumber string, next models.OrderStatus) error {
	if err := s.store.UpdateOrderStatus(ctx, orderNumber, next); err != nil {
		return err
	}
	if err := s.cache.InvalidateOrderView(ctx, orderNumber); err != nil {
		s.logger.Warn("Failed to invalidate order view cache", zap.Error(err))
	}
	return nil
}

// UpdatePaymentStatus applies an administrative payment-status transition.
func (s *CheckoutService) UpdatePaymentStatus(ctx context.Context, orderNumber string, next models.PaymentStatus) error {
	if err := s.store.UpdatePaymentStatus(ctx, orderNumber, next); err != nil {
		return err
	}
	if err := s.cache.InvalidateOrderView(ctx, orderNumber); err != nil {
		s.logger.Warn("Failed to invalidate order view cache", zap.Error(err))
	}
	return nil
}

func validatePlaceOrder(req *PlaceOrderRequest) error {
	if len(req.Items) == 0 {
		return models.ErrEmptyCart
	}
	if strings.TrimSpace(req.Customer.Name) == "" {
		return &models.MissingFieldError{Field: "name"}
	}
	if strings.TrimSpace(req.Customer.Email) == "" {
		return &models.MissingFieldError{Field: "email"}
	}
	for _, it := range req.Items {
		if it.Quantity < 1 {
			return fmt.Errorf("%w: quantity %d for product %s", models.ErrInvalidAmount, it.Quantity, it.ProductID)
		}
		if it.UnitPrice < 0 {
			return fmt.Errorf("%w: unit price %d for product %s", models.ErrInvalidAmount, it.UnitPrice, it.ProductID)
		}
	}
	return nil
}

func intentFailureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrGatewayTimeout):
		return "timeout"
	case errors.Is(err, models.ErrGatewayUnavailable):
		return "unavailable"
	case errors.Is(err, models.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "error"
	}
}
