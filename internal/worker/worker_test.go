package worker

import (
	"context"
	"sync"
	"testing"

	"venfurneer-orders/internal/models"
	"venfurneer-orders/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfirmer struct {
	mu    sync.Mutex
	calls []*service.ConfirmPaymentRequest
	err   error
}

func (f *fakeConfirmer) ConfirmPayment(ctx context.Context, req *service.ConfirmPaymentRequest) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{OrderNumber: req.OrderNumber, Status: models.OrderStatusConfirmed}, nil
}

type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: make(map[string]bool)}
}

func (f *fakeDeduper) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[eventID], nil
}

func (f *fakeDeduper) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[eventID] = true
	return nil
}

func callbackEvent(id string) *models.PaymentCallbackEvent {
	return &models.PaymentCallbackEvent{
		BaseEvent: models.BaseEvent{
			EventID:   id,
			EventType: models.EventTypePaymentCallback,
		},
		OrderNumber:    "VF-20260315-0001",
		GatewayOrderID: "order_gw_1",
		PaymentID:      "pay_1",
		Signature:      "sig",
	}
}

func TestHandleCallbackConfirmsAndMarksProcessed(t *testing.T) {
	confirmer := &fakeConfirmer{}
	dedupe := newFakeDeduper()
	w := NewPaymentWorker(nil, confirmer, dedupe)

	err := w.handleCallback(context.Background(), callbackEvent("evt-1"))
	require.NoError(t, err)
	require.Len(t, confirmer.calls, 1)
	assert.Equal(t, "pay_1", confirmer.calls[0].GatewayPaymentID)
	assert.True(t, dedupe.seen["evt-1"])
}

func TestHandleCallbackSkipsProcessedEvents(t *testing.T) {
	confirmer := &fakeConfirmer{}
	dedupe := newFakeDeduper()
	dedupe.seen["evt-1"] = true
	w := NewPaymentWorker(nil, confirmer, dedupe)

	err := w.handleCallback(context.Background(), callbackEvent("evt-1"))
	require.NoError(t, err)
	assert.Empty(t, confirmer.calls)
}

func TestHandleCallbackDoesNotRetryRejections(t *testing.T) {
	for _, rejection := range []error{
		models.ErrSignatureMismatch,
		models.ErrUnknownOrder,
		models.ErrPaymentConflict,
	} {
		confirmer := &fakeConfirmer{err: rejection}
		dedupe := newFakeDeduper()
		w := NewPaymentWorker(nil, confirmer, dedupe)

		err := w.handleCallback(context.Background(), callbackEvent("evt-1"))
		require.NoError(t, err, "%v must be swallowed, not redelivered", rejection)
		assert.True(t, dedupe.seen["evt-1"], "%v must be marked processed", rejection)
	}
}

func TestHandleCallbackRetriesTransientErrors(t *testing.T) {
	confirmer := &fakeConfirmer{err: context.DeadlineExceeded}
	dedupe := newFakeDeduper()
	w := NewPaymentWorker(nil, confirmer, dedupe)

	err := w.handleCallback(context.Background(), callbackEvent("evt-1"))
	require.Error(t, err, "transient failures must be surfaced for redelivery")
	assert.False(t, dedupe.seen["evt-1"])
}
