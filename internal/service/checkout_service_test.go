package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/payment"
	"github.com/fjod/cartcheckout/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddress = &domain.ShippingAddress{Details: "1 Main St", Phone: "555-0100", City: "Springfield", PostalCode: "12345"}

func pricedCheckoutConfig() CheckoutConfig {
	cfg := testCheckoutConfig()
	cfg.TaxPrice = 1.5
	cfg.ShippingPrice = 5
	return cfg
}

// seedCatalog adds a plain product and a product with color variants.
func seedCatalog(env *testEnv) {
	env.addProduct(&domain.Product{ID: "p1", Name: "Mug", ImageCover: "mug.png", Price: 10, Quantity: 5})
	env.addProduct(&domain.Product{
		ID: "p2", Name: "Shoes", Price: 20, Quantity: 4,
		Variants: []domain.Variant{{Color: "red", Quantity: 2}, {Color: "blue", Quantity: 2}},
	})
}

func fillStandardCart(t *testing.T, env *testEnv, userID string) *domain.Cart {
	return env.fill(t, userID,
		AddItemInput{ProductID: "p1", Quantity: 2},
		AddItemInput{ProductID: "p2", Color: "red", Quantity: 1},
	)
}

func TestCheckoutService_CreateCashOrder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, pricedCheckoutConfig())
	seedCatalog(env)
	cart := fillStandardCart(t, env, "u1")
	deletesBefore := env.cache.DeleteCount("u1")

	res, err := env.checkout.CreateCashOrder(ctx, Principal{UserID: "u1"}, testAddress)
	require.NoError(t, err)
	require.False(t, res.IsBlocked())
	require.NotNil(t, res.Order)

	order := res.Order
	assert.Equal(t, "u1", order.UserID)
	assert.Equal(t, cart.ID, order.CheckoutRef)
	assert.Equal(t, domain.PaymentMethodCash, order.PaymentMethod)
	assert.False(t, order.IsPaid)
	assert.Nil(t, order.PaidAt)
	assert.Equal(t, 46.5, order.TotalPrice)
	assert.Equal(t, testAddress, order.ShippingAddress)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "Mug", order.Items[0].Name)
	assert.Equal(t, "mug.png", order.Items[0].ImageCover)
	assert.Equal(t, "red", order.Items[1].Color)

	mug := env.product(t, "p1")
	assert.Equal(t, 3, mug.Quantity)
	assert.Equal(t, 2, mug.Sold)
	shoes := env.product(t, "p2")
	assert.Equal(t, 3, shoes.Quantity)
	assert.Equal(t, 1, shoes.Sold)
	assert.Equal(t, 1, shoes.Variants[0].Quantity)
	assert.Equal(t, 2, shoes.Variants[1].Quantity)

	_, err = env.store.GetCart(ctx, "u1")
	assert.ErrorIs(t, err, repository.ErrCartNotFound)
	assert.Greater(t, env.cache.DeleteCount("u1"), deletesBefore)

	stored, err := env.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.TotalPrice, stored.TotalPrice)

	events := env.outboxEvents(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.OrderPlaced, events[0].Type)
	assert.Equal(t, order.ID, events[0].OrderID)
	assert.Equal(t, cart.ID, events[0].CheckoutRef)
	assert.Equal(t, 46.5, events[0].TotalPrice)
}

func TestCheckoutService_CreateCashOrderWithCoupon(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, pricedCheckoutConfig())
	seedCatalog(env)
	env.store.SetCoupon(&domain.Coupon{Name: "TEN", Discount: 10, ExpireAt: time.Now().Add(time.Hour)})
	fillStandardCart(t, env, "u1")
	_, err := env.carts.ApplyCoupon(ctx, "u1", "TEN")
	require.NoError(t, err)

	res, err := env.checkout.CreateCashOrder(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Order)

	// 40 * 0.9 + 1.5 + 5
	assert.Equal(t, 42.5, res.Order.TotalPrice)
	assert.Nil(t, res.Order.ShippingAddress)
}

func TestCheckoutService_EmptyCart(t *testing.T) {
	env := newTestEnv(t, nil, testCheckoutConfig())

	_, err := env.checkout.CreateCashOrder(context.Background(), Principal{UserID: "u1"}, nil)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = env.checkout.CreateCheckoutSession(context.Background(), Principal{UserID: "u1"}, nil)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckoutService_ShortageBlocksCheckout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	seedCatalog(env)
	cart := env.fill(t, "u1", AddItemInput{ProductID: "p1", Quantity: 3})
	env.addProduct(&domain.Product{ID: "p1", Name: "Mug", Price: 10, Quantity: 1})

	res, err := env.checkout.CreateCashOrder(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)
	require.True(t, res.IsBlocked())
	assert.Nil(t, res.Order)
	assert.Nil(t, res.Cart)
	assert.Equal(t, MsgAvailabilityChanged, res.Blocked.Message())
	require.Len(t, res.Blocked.Annotations, 1)
	a := res.Blocked.Annotations[0]
	assert.Equal(t, ItemShortage, a.Status)
	assert.Equal(t, 3, a.QuantityInCart)
	assert.Equal(t, 1, a.AvailableQuantity)

	stored, err := env.store.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, cart.Version, stored.Version)
	assert.Equal(t, 3, stored.Items[0].Quantity)
	assert.Equal(t, 1, env.product(t, "p1").Quantity)
	assert.Empty(t, env.outboxEvents(t))

	orders, err := env.store.ListOrders(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// Each line fits the stock on its own but together they exceed it. Checkout
// must report the shortage instead of failing the commit with a conflict.
func TestCheckoutService_CombinedLinesShortageBlocksCheckout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	env.addProduct(&domain.Product{ID: "p1", Name: "Mug", Price: 10, Quantity: 3})
	env.fill(t, "u1",
		AddItemInput{ProductID: "p1", Quantity: 2},
		AddItemInput{ProductID: "p1", Color: "red", Quantity: 2},
	)

	res, err := env.checkout.CreateCashOrder(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)
	require.True(t, res.IsBlocked())
	assert.Equal(t, MsgAvailabilityChanged, res.Blocked.Message())
	require.Len(t, res.Blocked.Annotations, 2)
	for _, a := range res.Blocked.Annotations {
		assert.Equal(t, ItemShortage, a.Status)
	}

	assert.Equal(t, 3, env.product(t, "p1").Quantity)
	_, err = env.store.GetCart(ctx, "u1")
	assert.NoError(t, err)
}

func TestCheckoutService_DroppedColorBlocksCheckout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	seedCatalog(env)
	env.fill(t, "u1", AddItemInput{ProductID: "p2", Color: "blue", Quantity: 1})
	env.addProduct(&domain.Product{ID: "p2", Name: "Shoes", Price: 20, Quantity: 4,
		Variants: []domain.Variant{{Color: "red", Quantity: 2}}})

	res, err := env.checkout.CreateCheckoutSession(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)
	require.True(t, res.IsBlocked())
	assert.Equal(t, ItemUnavailable, res.Blocked.Annotations[0].Status)
	assert.Empty(t, env.gateway.Requests)
}

func TestCheckoutService_PriceDriftIsPersisted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	seedCatalog(env)
	env.store.SetCoupon(&domain.Coupon{Name: "TEN", Discount: 10, ExpireAt: time.Now().Add(time.Hour)})
	env.fill(t, "u1", AddItemInput{ProductID: "p1", Quantity: 2})
	_, err := env.carts.ApplyCoupon(ctx, "u1", "TEN")
	require.NoError(t, err)
	env.addProduct(&domain.Product{ID: "p1", Name: "Mug", Price: 12, Quantity: 5})

	res, err := env.checkout.CreateCashOrder(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)
	require.True(t, res.IsBlocked())
	assert.Equal(t, MsgPriceChanged, res.Blocked.Message())
	require.NotNil(t, res.Cart)
	assert.Equal(t, 12.0, res.Cart.Items[0].UnitPrice)
	assert.Equal(t, 24.0, res.Cart.Subtotal)
	assert.Nil(t, res.Cart.DiscountedTotal)

	stored, err := env.store.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 24.0, stored.Subtotal)
	assert.Nil(t, stored.DiscountedTotal)

	// the corrected cart checks out as-is
	res, err = env.checkout.CreateCashOrder(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Equal(t, 24.0, res.Order.TotalPrice)
	assert.Equal(t, 3, env.product(t, "p1").Quantity)
}

func TestCheckoutService_ConcurrentCheckoutOfLastUnit(t *testing.T) {
	ctx := context.Background()
	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	env := newTestEnv(t, &FlakyTx{Barrier: barrier}, testCheckoutConfig())
	env.addProduct(&domain.Product{ID: "p1", Name: "Last one", Price: 99, Quantity: 1})
	env.fill(t, "u1", AddItemInput{ProductID: "p1", Quantity: 1})
	env.fill(t, "u2", AddItemInput{ProductID: "p1", Quantity: 1})

	type outcome struct {
		res *CheckoutResult
		err error
	}
	results := make(chan outcome, 2)
	for _, uid := range []string{"u1", "u2"} {
		go func(uid string) {
			res, err := env.checkout.CreateCashOrder(ctx, Principal{UserID: uid}, nil)
			results <- outcome{res, err}
		}(uid)
	}

	var placed, conflicts int
	for i := 0; i < 2; i++ {
		o := <-results
		switch {
		case o.err == nil:
			require.NotNil(t, o.res.Order)
			placed++
		case assert.ErrorIs(t, o.err, domain.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, placed)
	assert.Equal(t, 1, conflicts)

	p := env.product(t, "p1")
	assert.Equal(t, 0, p.Quantity)
	assert.Equal(t, 1, p.Sold)

	orders, err := env.store.ListOrders(ctx, "")
	require.NoError(t, err)
	require.Len(t, orders, 1)

	// the loser keeps the cart
	loser := "u1"
	if orders[0].UserID == "u1" {
		loser = "u2"
	}
	_, err = env.store.GetCart(ctx, loser)
	assert.NoError(t, err)
	assert.Len(t, env.outboxEvents(t), 1)
}

func TestCheckoutService_TransientFailuresAreRetried(t *testing.T) {
	ctx := context.Background()
	tx := &FlakyTx{Failures: 2}
	env := newTestEnv(t, tx, testCheckoutConfig())
	seedCatalog(env)
	fillStandardCart(t, env, "u1")

	res, err := env.checkout.CreateCashOrder(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.Equal(t, 3, tx.Calls())
	assert.Equal(t, 3, env.product(t, "p1").Quantity)
}

func TestCheckoutService_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	cfg := testCheckoutConfig()
	cfg.MaxAttempts = 2
	tx := &FlakyTx{Failures: 5}
	env := newTestEnv(t, tx, cfg)
	seedCatalog(env)
	fillStandardCart(t, env, "u1")

	_, err := env.checkout.CreateCashOrder(ctx, Principal{UserID: "u1"}, nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 2, tx.Calls())

	_, err = env.store.GetCart(ctx, "u1")
	assert.NoError(t, err)
	assert.Equal(t, 5, env.product(t, "p1").Quantity)
}

func TestCheckoutService_Timeout(t *testing.T) {
	ctx := context.Background()
	cfg := testCheckoutConfig()
	cfg.Timeout = 20 * time.Millisecond
	env := newTestEnv(t, &FlakyTx{Delay: time.Second}, cfg)
	seedCatalog(env)
	fillStandardCart(t, env, "u1")

	start := time.Now()
	_, err := env.checkout.CreateCashOrder(ctx, Principal{UserID: "u1"}, nil)
	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	_, err = env.store.GetCart(ctx, "u1")
	assert.NoError(t, err)
	assert.Empty(t, env.outboxEvents(t))
}

func TestCheckoutService_CreateCheckoutSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, pricedCheckoutConfig())
	seedCatalog(env)
	cart := fillStandardCart(t, env, "u1")

	res, err := env.checkout.CreateCheckoutSession(ctx, Principal{UserID: "u1", Email: "u1@example.com"}, testAddress)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "cs_"+cart.ID, res.Session.ID)

	require.Len(t, env.gateway.Requests, 1)
	req := env.gateway.Requests[0]
	assert.Equal(t, cart.ID, req.ClientReferenceID)
	assert.Equal(t, "u1@example.com", req.CustomerEmail)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, []payment.LineItem{
		{Name: "Mug", UnitAmount: 1000, Quantity: 2},
		{Name: "Shoes (red)", UnitAmount: 2000, Quantity: 1},
		{Name: "Tax", UnitAmount: 150, Quantity: 1},
		{Name: "Shipping", UnitAmount: 500, Quantity: 1},
	}, req.LineItems)
	assert.Equal(t, "u1", req.Metadata[metaUserID])
	assert.Equal(t, fmt.Sprint(cart.Version), req.Metadata[metaCartVersion])
	assert.Equal(t, "Springfield", req.Metadata[metaCity])

	// nothing is committed until the payment is confirmed
	_, err = env.store.GetCart(ctx, "u1")
	assert.NoError(t, err)
	assert.Equal(t, 5, env.product(t, "p1").Quantity)
}

func TestCheckoutService_CreateCheckoutSessionWithCoupon(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	seedCatalog(env)
	env.store.SetCoupon(&domain.Coupon{Name: "TEN", Discount: 10, ExpireAt: time.Now().Add(time.Hour)})
	fillStandardCart(t, env, "u1")
	_, err := env.carts.ApplyCoupon(ctx, "u1", "TEN")
	require.NoError(t, err)

	_, err = env.checkout.CreateCheckoutSession(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)

	require.Len(t, env.gateway.Requests, 1)
	assert.Equal(t, []payment.LineItem{
		{Name: "Cart total (coupon applied)", UnitAmount: 3600, Quantity: 1},
	}, env.gateway.Requests[0].LineItems)
}

func TestCheckoutService_CreateCheckoutSessionGatewayFailure(t *testing.T) {
	env := newTestEnv(t, nil, testCheckoutConfig())
	seedCatalog(env)
	fillStandardCart(t, env, "u1")
	env.gateway.CreateErr = fmt.Errorf("stripe unavailable: %w", domain.ErrUpstreamFailure)

	_, err := env.checkout.CreateCheckoutSession(context.Background(), Principal{UserID: "u1"}, nil)
	assert.ErrorIs(t, err, domain.ErrUpstreamFailure)
}

func completedEvent(t *testing.T, env *testEnv, eventID string) []byte {
	t.Helper()
	require.NotEmpty(t, env.gateway.Requests)
	req := env.gateway.Requests[len(env.gateway.Requests)-1]
	return webhookPayload(t, payment.Event{
		ID:   eventID,
		Type: payment.EventCheckoutCompleted,
		Session: &payment.CompletedSession{
			ID:                "cs_" + req.ClientReferenceID,
			ClientReferenceID: req.ClientReferenceID,
			AmountTotal:       4650,
			Currency:          "usd",
			Metadata:          req.Metadata,
		},
	})
}

func TestCheckoutService_HandleWebhook(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, pricedCheckoutConfig())
	seedCatalog(env)
	cart := fillStandardCart(t, env, "u1")
	_, err := env.checkout.CreateCheckoutSession(ctx, Principal{UserID: "u1"}, testAddress)
	require.NoError(t, err)
	payload := completedEvent(t, env, "evt_1")

	res, err := env.checkout.HandleWebhook(ctx, payload, validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, res.Status)
	assert.Equal(t, "evt_1", res.EventID)

	order, err := env.store.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodCard, order.PaymentMethod)
	assert.True(t, order.IsPaid)
	assert.NotNil(t, order.PaidAt)
	assert.Equal(t, 46.5, order.TotalPrice)
	assert.Equal(t, "cs_"+cart.ID, order.PaymentRef)
	assert.Equal(t, cart.ID, order.CheckoutRef)
	assert.Equal(t, testAddress, order.ShippingAddress)

	_, err = env.store.GetCart(ctx, "u1")
	assert.ErrorIs(t, err, repository.ErrCartNotFound)

	// replay
	res, err = env.checkout.HandleWebhook(ctx, payload, validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookDuplicate, res.Status)

	orders, err := env.store.ListOrders(ctx, "")
	require.NoError(t, err)
	assert.Len(t, orders, 1)
	assert.Equal(t, 3, env.product(t, "p1").Quantity)
	assert.Len(t, env.outboxEvents(t), 1)
}

func TestCheckoutService_HandleWebhookConcurrentDeliveries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	seedCatalog(env)
	fillStandardCart(t, env, "u1")
	_, err := env.checkout.CreateCheckoutSession(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)
	payload := completedEvent(t, env, "evt_1")

	var wg sync.WaitGroup
	statuses := make(chan WebhookStatus, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.checkout.HandleWebhook(ctx, payload, validSignature)
			if assert.NoError(t, err) {
				statuses <- res.Status
			}
		}()
	}
	wg.Wait()
	close(statuses)

	counts := map[WebhookStatus]int{}
	for s := range statuses {
		counts[s]++
	}
	assert.Equal(t, 1, counts[WebhookProcessed])
	assert.Equal(t, 3, counts[WebhookDuplicate])
	assert.Equal(t, 3, env.product(t, "p1").Quantity)
}

func TestCheckoutService_HandleWebhookInvalidSignature(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	seedCatalog(env)
	fillStandardCart(t, env, "u1")
	_, err := env.checkout.CreateCheckoutSession(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)

	_, err = env.checkout.HandleWebhook(ctx, completedEvent(t, env, "evt_1"), "t=1,v1=forged")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = env.store.GetCart(ctx, "u1")
	assert.NoError(t, err)
	orders, err := env.store.ListOrders(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckoutService_HandleWebhookIgnoresOtherEvents(t *testing.T) {
	env := newTestEnv(t, nil, testCheckoutConfig())
	payload := webhookPayload(t, payment.Event{ID: "evt_9", Type: "payment_intent.created"})

	res, err := env.checkout.HandleWebhook(context.Background(), payload, validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, res.Status)
}

func TestCheckoutService_HandleWebhookOwnerMismatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	seedCatalog(env)
	cart := fillStandardCart(t, env, "u1")

	payload := webhookPayload(t, payment.Event{
		ID:   "evt_1",
		Type: payment.EventCheckoutCompleted,
		Session: &payment.CompletedSession{
			ID:                "cs_1",
			ClientReferenceID: cart.ID,
			AmountTotal:       4000,
			Metadata:          map[string]string{metaUserID: "someone-else"},
		},
	})

	_, err := env.checkout.HandleWebhook(ctx, payload, validSignature)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = env.store.GetCart(ctx, "u1")
	assert.NoError(t, err)
}

// The customer pays for the cart as it was when the session was created, then
// adds more items before the event arrives. Nothing is placed or decremented.
func TestCheckoutService_HandleWebhookCartEditedAfterSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	seedCatalog(env)
	fillStandardCart(t, env, "u1")
	_, err := env.checkout.CreateCheckoutSession(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)
	payload := completedEvent(t, env, "evt_1")

	edited, err := env.carts.AddItem(ctx, "u1", AddItemInput{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, 4, edited.Items[0].Quantity)

	res, err := env.checkout.HandleWebhook(ctx, payload, validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookCartChanged, res.Status)
	assert.Empty(t, res.OrderID)

	orders, err := env.store.ListOrders(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, 5, env.product(t, "p1").Quantity)
	assert.Empty(t, env.outboxEvents(t))

	cart, err := env.store.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, edited.Version, cart.Version)
}

func TestCheckoutService_HandleWebhookWithoutCartVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	seedCatalog(env)
	cart := fillStandardCart(t, env, "u1")

	payload := webhookPayload(t, payment.Event{
		ID:   "evt_1",
		Type: payment.EventCheckoutCompleted,
		Session: &payment.CompletedSession{
			ID:                "cs_1",
			ClientReferenceID: cart.ID,
			AmountTotal:       4000,
			Metadata:          map[string]string{metaUserID: "u1"},
		},
	})

	res, err := env.checkout.HandleWebhook(ctx, payload, validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookCartChanged, res.Status)
	_, err = env.store.GetCart(ctx, "u1")
	assert.NoError(t, err)
}

// A paid cart cleared before its event arrives is not a replay: no order
// exists for it, so it must not be acknowledged as a duplicate.
func TestCheckoutService_HandleWebhookCartClearedAfterPayment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	seedCatalog(env)
	fillStandardCart(t, env, "u1")
	_, err := env.checkout.CreateCheckoutSession(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)
	payload := completedEvent(t, env, "evt_1")

	require.NoError(t, env.carts.ClearCart(ctx, "u1"))

	res, err := env.checkout.HandleWebhook(ctx, payload, validSignature)
	require.NoError(t, err)
	assert.Equal(t, WebhookCartMissing, res.Status)
	assert.NotEqual(t, WebhookDuplicate, res.Status)

	orders, err := env.store.ListOrders(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, 5, env.product(t, "p1").Quantity)
}

// Add, discount, change quantity, then check out: the later edit voids the
// coupon and the order is charged at the full subtotal.
func TestCheckoutService_CouponVoidedByEditThenCheckout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, testCheckoutConfig())
	env.addProduct(&domain.Product{ID: "P", Name: "Lamp", Price: 100, Quantity: 5})
	env.store.SetCoupon(&domain.Coupon{Name: "SAVE10", Discount: 10, ExpireAt: time.Now().Add(time.Hour)})

	cart := env.fill(t, "u1", AddItemInput{ProductID: "P", Quantity: 2})
	assert.Equal(t, 200.0, cart.Subtotal)

	cart, err := env.carts.ApplyCoupon(ctx, "u1", "SAVE10")
	require.NoError(t, err)
	require.NotNil(t, cart.DiscountedTotal)
	assert.Equal(t, 180.0, *cart.DiscountedTotal)

	cart, err = env.carts.UpdateItemQuantity(ctx, "u1", cart.Items[0].ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 300.0, cart.Subtotal)
	assert.Nil(t, cart.DiscountedTotal)

	res, err := env.checkout.CreateCashOrder(ctx, Principal{UserID: "u1"}, nil)
	require.NoError(t, err)
	require.False(t, res.IsBlocked())
	assert.Equal(t, 300.0, res.Order.TotalPrice)

	p := env.product(t, "P")
	assert.Equal(t, 2, p.Quantity)
	assert.Equal(t, 3, p.Sold)

	_, err = env.store.GetCart(ctx, "u1")
	assert.ErrorIs(t, err, repository.ErrCartNotFound)
}
