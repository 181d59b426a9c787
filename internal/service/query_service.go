package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"venfurneer-orders/internal/models"
	"venfurneer-orders/internal/redisclient"
	"venfurneer-orders/internal/util"

	"go.uber.org/zap"
)

// OrderView is the read-only projection rendered on the confirmation
// page. It exists before payment confirmation completes.
type OrderView struct {
	OrderNumber   string               `json:"order_number"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Subtotal      int64                `json:"subtotal"`
	Shipping      int64                `json:"shipping"`
	Tax           int64                `json:"tax"`
	Total         int64                `json:"total"`
	Customer      models.Customer      `json:"customer"`
	Items         []models.OrderItem   `json:"items"`
	Payment       *models.Payment      `json:"payment,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

// QueryService is the read side: lookup by order number with a short-TTL
// cache in front of the store. It never mutates order state.
type QueryService struct {
	store    OrderStore
	cache    ViewCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewQueryService creates a new query service.
func NewQueryService(store OrderStore, cache ViewCache, cacheTTL time.Duration) *QueryService {
	return &QueryService{
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   util.GetLogger(),
	}
}

// GetByNumber returns the order view, from cache when fresh. Cache
// failures fall through to the store; a missing order is
// models.ErrUnknownOrder.
func (q *QueryService) GetByNumber(ctx context.Context, orderNumber string) (*OrderView, error) {
	ctx, span := util.StartSpan(ctx, "QueryService.GetByNumber")
	defer span.End()

	if payload, err := q.cache.GetOrderView(ctx, orderNumber); err == nil {
		var view OrderView
		if err := json.Unmarshal(payload, &view); err == nil {
			return &view, nil
		}
		q.logger.Warn("Discarding corrupt cached order view", zap.String("order_number", orderNumber))
	} else if !errors.Is(err, redisclient.ErrCacheMiss) {
		q.logger.Warn("Order view cache read failed", zap.Error(err))
	}

	order, err := q.store.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	view := &OrderView{
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Subtotal:      order.Subtotal,
		Shipping:      order.Shipping,
		Tax:           order.Tax,
		Total:         order.Total,
		Customer:      order.Customer,
		Items:         order.Items,
		Payment:       order.Payment,
		CreatedAt:     order.CreatedAt,
	}

	if payload, err := json.Marshal(view); err == nil {
		if err := q.cache.CacheOrderView(ctx, orderNumber, payload, q.cacheTTL); err != nil {
			q.logger.Warn("Order view cache write failed", zap.Error(err))
		}
	}

	return view, nil
}
