package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"venfurneer-orders/internal/gateway"
	"venfurneer-orders/internal/models"
	"venfurneer-orders/internal/redisclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrderStore mirrors the store's documented semantics in memory:
// unique order numbers, all-or-nothing insert, idempotent confirmation.
type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	nextID int64
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]*models.Order)}
}

func (f *fakeOrderStore) CreatePendingOrder(ctx context.Context, order *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.orders[order.OrderNumber]; exists {
		return models.ErrDuplicateOrderNumber
	}

	f.nextID++
	order.ID = f.nextID
	order.Status = models.OrderStatusPending
	order.PaymentStatus = models.PaymentStatusPending
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}

	stored := *order
	stored.Items = append([]models.OrderItem(nil), order.Items...)
	f.orders[order.OrderNumber] = &stored
	return nil
}

func (f *fakeOrderStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(orderNumber)
}

func (f *fakeOrderStore) snapshot(orderNumber string) (*models.Order, error) {
	stored, ok := f.orders[orderNumber]
	if !ok {
		return nil, models.ErrUnknownOrder
	}
	out := *stored
	out.Items = append([]models.OrderItem(nil), stored.Items...)
	if stored.Payment != nil {
		p := *stored.Payment
		out.Payment = &p
	}
	return &out, nil
}

func (f *fakeOrderStore) SetGatewayOrderID(ctx context.Context, orderNumber, gatewayOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.orders[orderNumber]
	if !ok {
		return models.ErrUnknownOrder
	}
	stored.GatewayOrderID = gatewayOrderID
	stored.UpdatedAt = time.Now()
	return nil
}

func (f *fakeOrderStore) ApplyPaymentConfirmation(ctx context.Context, orderNumber string, payment *models.Payment) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.orders[orderNumber]
	if !ok {
		return nil, models.ErrUnknownOrder
	}

	if stored.GatewayOrderID != "" && payment.GatewayOrderID != stored.GatewayOrderID {
		return nil, models.ErrPaymentConflict
	}

	if stored.Status != models.OrderStatusPending {
		if stored.Payment != nil && stored.Payment.TransactionID == payment.TransactionID {
			return f.snapshot(orderNumber)
		}
		if stored.Status == models.OrderStatusConfirmed {
			return nil, models.ErrPaymentConflict
		}
		return nil, models.ErrIllegalTransition
	}

	payment.OrderID = stored.ID
	payment.Amount = stored.Total
	payment.CreatedAt = time.Now()
	p := *payment
	stored.Payment = &p
	stored.Status = models.OrderStatusConfirmed
	stored.PaymentStatus = models.PaymentStatusPaid
	stored.UpdatedAt = time.Now()

	return f.snapshot(orderNumber)
}

func (f *fakeOrderStore) UpdateOrderStatus(ctx context.Context, orderNumber string, next models.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.orders[orderNumber]
	if !ok {
		return models.ErrUnknownOrder
	}
	if !stored.Status.CanTransitionTo(next) {
		return models.ErrIllegalTransition
	}
	stored.Status = next
	stored.UpdatedAt = time.Now()
	return nil
}

func (f *fakeOrderStore) UpdatePaymentStatus(ctx context.Context, orderNumber string, next models.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.orders[orderNumber]
	if !ok {
		return models.ErrUnknownOrder
	}
	if !stored.PaymentStatus.CanTransitionTo(next) {
		return models.ErrIllegalTransition
	}
	stored.PaymentStatus = next
	stored.UpdatedAt = time.Now()
	return nil
}

type fakeAllocator struct {
	mu      sync.Mutex
	numbers []string
	n       int
}

func (f *fakeAllocator) Allocate(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n < len(f.numbers) {
		n := f.numbers[f.n]
		f.n++
		return n, nil
	}
	f.n++
	return fmt.Sprintf("VF-20260315-%04d", f.n), nil
}

type fakeGateway struct {
	intent *gateway.Intent
	err    error
	calls  int
}

func (f *fakeGateway) CreateIntent(ctx context.Context, amountPaise int64, currency, receipt string, notes map[string]string) (*gateway.Intent, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.intent != nil {
		return f.intent, nil
	}
	return &gateway.Intent{
		ID:       "order_gw_" + receipt,
		Amount:   amountPaise,
		Currency: currency,
		Status:   "created",
	}, nil
}

func (f *fakeGateway) KeyID() string { return "rzp_test_key" }

type fakePublisher struct {
	mu       sync.Mutex
	placed   []*models.OrderPlacedEvent
	verified []*models.PaymentVerifiedEvent
	rejected []*models.PaymentRejectedEvent
}

func (f *fakePublisher) PublishOrderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, e)
	return nil
}

func (f *fakePublisher) PublishPaymentVerified(ctx context.Context, e *models.PaymentVerifiedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, e)
	return nil
}

func (f *fakePublisher) PublishPaymentRejected(ctx context.Context, e *models.PaymentRejectedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, e)
	return nil
}

type fakeCache struct {
	mu    sync.Mutex
	views map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{views: make(map[string][]byte)}
}

func (f *fakeCache) GetOrderView(ctx context.Context, orderNumber string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.views[orderNumber]
	if !ok {
		return nil, redisclient.ErrCacheMiss
	}
	return v, nil
}

func (f *fakeCache) CacheOrderView(ctx context.Context, orderNumber string, payload []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views[orderNumber] = payload
	return nil
}

func (f *fakeCache) InvalidateOrderView(ctx context.Context, orderNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.views, orderNumber)
	return nil
}

type checkoutFixture struct {
	store     *fakeOrderStore
	allocator *fakeAllocator
	gateway   *fakeGateway
	verifier  *gateway.SignatureVerifier
	publisher *fakePublisher
	cache     *fakeCache
	svc       *CheckoutService
}

func newCheckoutFixture() *checkoutFixture {
	f := &checkoutFixture{
		store:     newFakeOrderStore(),
		allocator: &fakeAllocator{},
		gateway:   &fakeGateway{},
		verifier:  gateway.NewSignatureVerifier("test_secret"),
		publisher: &fakePublisher{},
		cache:     newFakeCache(),
	}
	f.svc = NewCheckoutService(f.store, f.allocator, f.gateway, f.verifier, f.publisher, f.cache, 3)
	return f
}

func diffuserCart() *PlaceOrderRequest {
	return &PlaceOrderRequest{
		Customer: models.Customer{
			Name:  "Asha Rao",
			Email: "asha@example.com",
			City:  "Bengaluru",
		},
		Items: []CartItem{
			{ProductID: "prod-reed-01", Name: "Reed Diffuser - Oud", UnitPrice: 999, Quantity: 2},
		},
	}
}

func TestPlaceOrderCreatesPendingOrder(t *testing.T) {
	f := newCheckoutFixture()

	resp, err := f.svc.PlaceOrder(context.Background(), diffuserCart())
	require.NoError(t, err)
	assert.Equal(t, int64(1998), resp.Total)
	assert.Equal(t, models.OrderStatusPending, resp.Status)
	assert.NotEmpty(t, resp.OrderNumber)

	order, err := f.store.GetOrderByNumber(context.Background(), resp.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.Nil(t, order.Payment)
	assert.Equal(t, int64(1998), order.Subtotal)
	assert.Equal(t, int64(0), order.Shipping)
	assert.Equal(t, int64(0), order.Tax)
	assert.Equal(t, order.Subtotal+order.Shipping+order.Tax, order.Total)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)

	require.Len(t, f.publisher.placed, 1)
	assert.Equal(t, resp.OrderNumber, f.publisher.placed[0].OrderNumber)
}

func TestPlaceOrderTotalAcrossCarts(t *testing.T) {
	carts := []struct {
		items []CartItem
		total int64
	}{
		{[]CartItem{{ProductID: "a", Name: "A", UnitPrice: 999, Quantity: 2}}, 1998},
		{[]CartItem{
			{ProductID: "a", Name: "A", UnitPrice: 450, Quantity: 3},
			{ProductID: "b", Name: "B", UnitPrice: 1250, Quantity: 1},
		}, 2600},
		{[]CartItem{{ProductID: "a", Name: "A", UnitPrice: 0, Quantity: 5}}, 0},
	}

	for _, tc := range carts {
		f := newCheckoutFixture()
		resp, err := f.svc.PlaceOrder(context.Background(), &PlaceOrderRequest{
			Customer: models.Customer{Name: "Asha Rao", Email: "asha@example.com"},
			Items:    tc.items,
		})
		require.NoError(t, err)
		assert.Equal(t, tc.total, resp.Total)
	}
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	f := newCheckoutFixture()

	_, err := f.svc.PlaceOrder(context.Background(), &PlaceOrderRequest{
		Customer: models.Customer{Name: "Asha Rao", Email: "asha@example.com"},
	})
	assert.ErrorIs(t, err, models.ErrEmptyCart)
	assert.Empty(t, f.store.orders, "no document may be created")
	assert.Empty(t, f.publisher.placed)
}

func TestPlaceOrderMissingCustomerFields(t *testing.T) {
	f := newCheckoutFixture()

	req := diffuserCart()
	req.Customer.Email = ""
	_, err := f.svc.PlaceOrder(context.Background(), req)

	var mf *models.MissingFieldError
	require.ErrorAs(t, err, &mf)
	assert.Equal(t, "email", mf.Field)
	assert.Empty(t, f.store.orders)
}

func TestPlaceOrderRejectsBadQuantity(t *testing.T) {
	f := newCheckoutFixture()

	req := diffuserCart()
	req.Items[0].Quantity = 0
	_, err := f.svc.PlaceOrder(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)
}

func TestPlaceOrderRetriesOnDuplicateNumber(t *testing.T) {
	f := newCheckoutFixture()

	// Occupy the number the allocator will hand out first.
	taken := diffuserCart()
	f.allocator.numbers = []string{"VF-20260315-0042", "VF-20260315-0042", "VF-20260315-0043"}
	resp1, err := f.svc.PlaceOrder(context.Background(), taken)
	require.NoError(t, err)
	assert.Equal(t, "VF-20260315-0042", resp1.OrderNumber)

	resp2, err := f.svc.PlaceOrder(context.Background(), diffuserCart())
	require.NoError(t, err)
	assert.Equal(t, "VF-20260315-0043", resp2.OrderNumber)
}

func TestPlaceOrderAllocationExhausted(t *testing.T) {
	f := newCheckoutFixture()

	f.allocator.numbers = []string{"VF-X", "VF-X", "VF-X", "VF-X"}
	_, err := f.svc.PlaceOrder(context.Background(), diffuserCart())
	require.NoError(t, err, "first insert occupies VF-X")

	_, err = f.svc.PlaceOrder(context.Background(), diffuserCart())
	assert.ErrorIs(t, err, models.ErrDuplicateOrderNumber)
}

func TestInitiatePaymentCreatesIntent(t *testing.T) {
	f := newCheckoutFixture()

	placed, err := f.svc.PlaceOrder(context.Background(), diffuserCart())
	require.NoError(t, err)

	resp, err := f.svc.InitiatePayment(context.Background(), placed.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, int64(199800), resp.Amount, "amount must be in paise")
	assert.Equal(t, models.CurrencyINR, resp.Currency)
	assert.Equal(t, "rzp_test_key", resp.KeyID)

	order, err := f.store.GetOrderByNumber(context.Background(), placed.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, resp.GatewayOrderID, order.GatewayOrderID)
	assert.Equal(t, models.OrderStatusPending, order.Status, "initiating payment must not mutate status")
}

func TestInitiatePaymentUnknownOrder(t *testing.T) {
	f := newCheckoutFixture()

	_, err := f.svc.InitiatePayment(context.Background(), "VF-20260315-9999")
	assert.ErrorIs(t, err, models.ErrUnknownOrder)
	assert.Zero(t, f.gateway.calls)
}

func TestInitiatePaymentGatewayDownLeavesOrderPending(t *testing.T) {
	f := newCheckoutFixture()
	placed, err := f.svc.PlaceOrder(context.Background(), diffuserCart())
	require.NoError(t, err)

	f.gateway.err = models.ErrGatewayTimeout
	_, err = f.svc.InitiatePayment(context.Background(), placed.OrderNumber)
	assert.ErrorIs(t, err, models.ErrGatewayTimeout)

	order, err := f.store.GetOrderByNumber(context.Background(), placed.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Empty(t, order.GatewayOrderID)
}

// confirmFixture places an order, initiates payment and builds a validly
// signed confirmation request for it.
func confirmFixture(t *testing.T, f *checkoutFixture) *ConfirmPaymentRequest {
	t.Helper()

	placed, err := f.svc.PlaceOrder(context.Background(), diffuserCart())
	require.NoError(t, err)

	intent, err := f.svc.InitiatePayment(context.Background(), placed.OrderNumber)
	require.NoError(t, err)

	paymentID := "pay_" + placed.OrderNumber
	return &ConfirmPaymentRequest{
		OrderNumber:      placed.OrderNumber,
		GatewayOrderID:   intent.GatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        f.verifier.Sign(intent.GatewayOrderID, paymentID),
	}
}

func TestConfirmPaymentHappyPath(t *testing.T) {
	f := newCheckoutFixture()
	req := confirmFixture(t, f)

	order, err := f.svc.ConfirmPayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	require.NotNil(t, order.Payment)
	assert.Equal(t, models.PaymentRecordCompleted, order.Payment.Status)
	assert.Equal(t, req.GatewayPaymentID, order.Payment.TransactionID)
	assert.Equal(t, int64(1998), order.Payment.Amount)
	assert.False(t, order.Payment.PaidAt.IsZero())

	require.Len(t, f.publisher.verified, 1)
	assert.Equal(t, order.OrderNumber, f.publisher.verified[0].OrderNumber)
}

func TestConfirmPaymentReplayIsIdempotent(t *testing.T) {
	f := newCheckoutFixture()
	req := confirmFixture(t, f)

	first, err := f.svc.ConfirmPayment(context.Background(), req)
	require.NoError(t, err)

	second, err := f.svc.ConfirmPayment(context.Background(), req)
	require.NoError(t, err, "replay must not surface a user-facing error")

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Payment.TransactionID, second.Payment.TransactionID)

	stored, err := f.store.GetOrderByNumber(context.Background(), req.OrderNumber)
	require.NoError(t, err)
	require.NotNil(t, stored.Payment, "exactly one payment record")
	assert.Equal(t, req.GatewayPaymentID, stored.Payment.TransactionID)
}

func TestConfirmPaymentConcurrentReplays(t *testing.T) {
	f := newCheckoutFixture()
	req := confirmFixture(t, f)

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ConfirmPayment(context.Background(), req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	stored, err := f.store.GetOrderByNumber(context.Background(), req.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, stored.Status)
	require.NotNil(t, stored.Payment)
}

func TestConfirmPaymentForgedSignature(t *testing.T) {
	f := newCheckoutFixture()
	req := confirmFixture(t, f)
	req.Signature = "deadbeef" + req.Signature[8:]

	_, err := f.svc.ConfirmPayment(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrSignatureMismatch)

	order, err := f.store.GetOrderByNumber(context.Background(), req.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status, "order must remain pending")
	assert.Nil(t, order.Payment)

	require.Len(t, f.publisher.rejected, 1)
	assert.Empty(t, f.publisher.verified)
}

func TestConfirmPaymentUnknownOrder(t *testing.T) {
	f := newCheckoutFixture()

	gwOrder, payID := "order_gw_missing", "pay_missing"
	req := &ConfirmPaymentRequest{
		OrderNumber:      "VF-20260315-9999",
		GatewayOrderID:   gwOrder,
		GatewayPaymentID: payID,
		Signature:        f.verifier.Sign(gwOrder, payID),
	}

	_, err := f.svc.ConfirmPayment(context.Background(), req)
	assert.ErrorIs(t, err, models.ErrUnknownOrder)
	assert.Empty(t, f.store.orders, "no write may happen")
}

func TestConfirmPaymentConflictingTransaction(t *testing.T) {
	f := newCheckoutFixture()
	req := confirmFixture(t, f)

	_, err := f.svc.ConfirmPayment(context.Background(), req)
	require.NoError(t, err)

	other := *req
	other.GatewayPaymentID = "pay_other"
	other.Signature = f.verifier.Sign(other.GatewayOrderID, other.GatewayPaymentID)

	_, err = f.svc.ConfirmPayment(context.Background(), &other)
	assert.ErrorIs(t, err, models.ErrPaymentConflict)
}

func TestConfirmPaymentRejectsCrossOrderCallback(t *testing.T) {
	f := newCheckoutFixture()
	ctx := context.Background()

	placeWithPrice := func(price int64) string {
		resp, err := f.svc.PlaceOrder(ctx, &PlaceOrderRequest{
			Customer: models.Customer{Name: "Asha Rao", Email: "asha@example.com"},
			Items:    []CartItem{{ProductID: "prod-reed-01", Name: "Reed Diffuser - Oud", UnitPrice: price, Quantity: 1}},
		})
		require.NoError(t, err)
		return resp.OrderNumber
	}

	expensive := placeWithPrice(10000)
	cheap := placeWithPrice(10)

	_, err := f.svc.InitiatePayment(ctx, expensive)
	require.NoError(t, err)
	cheapIntent, err := f.svc.InitiatePayment(ctx, cheap)
	require.NoError(t, err)

	// A validly-signed callback for the cheap order's intent, submitted
	// with the expensive order's number, must not confirm anything.
	payID := "pay_cheap_1"
	_, err = f.svc.ConfirmPayment(ctx, &ConfirmPaymentRequest{
		OrderNumber:      expensive,
		GatewayOrderID:   cheapIntent.GatewayOrderID,
		GatewayPaymentID: payID,
		Signature:        f.verifier.Sign(cheapIntent.GatewayOrderID, payID),
	})
	assert.ErrorIs(t, err, models.ErrPaymentConflict)

	order, err := f.store.GetOrderByNumber(ctx, expensive)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Nil(t, order.Payment)
}

func TestAdministrativeTransitions(t *testing.T) {
	f := newCheckoutFixture()
	req := confirmFixture(t, f)
	_, err := f.svc.ConfirmPayment(context.Background(), req)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, f.svc.UpdateStatus(ctx, req.OrderNumber, models.OrderStatusProcessing))
	require.NoError(t, f.svc.UpdateStatus(ctx, req.OrderNumber, models.OrderStatusShipped))
	require.NoError(t, f.svc.UpdateStatus(ctx, req.OrderNumber, models.OrderStatusDelivered))

	err = f.svc.UpdateStatus(ctx, req.OrderNumber, models.OrderStatusPending)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}
