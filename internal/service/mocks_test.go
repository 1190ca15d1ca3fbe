package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fjod/cartcheckout/internal/cache"
	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/payment"
	"github.com/fjod/cartcheckout/internal/repository"
	"github.com/fjod/cartcheckout/pkg/logger"
	"github.com/stretchr/testify/require"
)

const validSignature = "valid-signature"

// MockGateway implements payment.Gateway. Webhook payloads are JSON-encoded
// payment.Event values; only validSignature is accepted.
type MockGateway struct {
	mu        sync.Mutex
	Requests  []payment.SessionRequest
	CreateErr error
}

func (m *MockGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.Requests = append(m.Requests, req)
	return &payment.Session{ID: "cs_" + req.ClientReferenceID, URL: "https://pay.example/" + req.ClientReferenceID}, nil
}

func (m *MockGateway) ParseWebhook(payload []byte, signature string) (*payment.Event, error) {
	if signature != validSignature {
		return nil, domain.ErrInvalidSignature
	}
	var ev payment.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// SpyCache implements cache.CartCache in memory and records invalidations.
type SpyCache struct {
	mu      sync.Mutex
	carts   map[string]*domain.Cart
	Deletes map[string]int
}

func NewSpyCache() *SpyCache {
	return &SpyCache{carts: map[string]*domain.Cart{}, Deletes: map[string]int{}}
}

func (c *SpyCache) Generation(_ context.Context, userID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.Deletes[userID]), nil
}

func (c *SpyCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart.Clone(), nil
}

func (c *SpyCache) Set(_ context.Context, userID string, gen int64, cart *domain.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != int64(c.Deletes[userID]) {
		return nil
	}
	c.carts[userID] = cart.Clone()
	return nil
}

func (c *SpyCache) Delete(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, userID)
	c.Deletes[userID]++
	return nil
}

func (c *SpyCache) Has(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.carts[userID]
	return ok
}

func (c *SpyCache) DeleteCount(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Deletes[userID]
}

// GatedCarts reads the cart from the wrapped repository, signals Entered and
// then holds the result until Release is closed or ctx ends.
type GatedCarts struct {
	repository.CartRepository
	Entered chan struct{}
	Release chan struct{}
}

func NewGatedCarts(inner repository.CartRepository) *GatedCarts {
	return &GatedCarts{
		CartRepository: inner,
		Entered:        make(chan struct{}, 8),
		Release:        make(chan struct{}),
	}
}

func (g *GatedCarts) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := g.CartRepository.GetCart(ctx, userID)
	select {
	case g.Entered <- struct{}{}:
	default:
	}
	select {
	case <-g.Release:
		return cart, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FlakyTx fails the first Failures transactions with a transient error, and
// optionally waits on Barrier before running each transaction.
type FlakyTx struct {
	Inner    repository.Transactor
	Failures int
	Delay    time.Duration
	Barrier  *sync.WaitGroup

	mu    sync.Mutex
	calls int
}

func (f *FlakyTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.Failures
	f.mu.Unlock()

	if f.Barrier != nil {
		f.Barrier.Done()
		f.Barrier.Wait()
	}
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return repository.ErrTransient
	}
	return f.Inner.RunInTransaction(ctx, fn)
}

func (f *FlakyTx) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	store    *repository.MemoryStore
	cache    *SpyCache
	gateway  *MockGateway
	carts    *CartService
	checkout *CheckoutService
	orders   *OrderService
}

func testCheckoutConfig() CheckoutConfig {
	return CheckoutConfig{
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Currency:    "usd",
		SuccessURL:  "http://shop.test/orders",
		CancelURL:   "http://shop.test/cart",
	}
}

func newTestEnv(t *testing.T, tx repository.Transactor, cfg CheckoutConfig) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	if tx == nil {
		tx = store
	}
	if f, ok := tx.(*FlakyTx); ok && f.Inner == nil {
		f.Inner = store
	}

	log := logger.Discard()
	spy := NewSpyCache()
	gw := &MockGateway{}

	return &testEnv{
		store:   store,
		cache:   spy,
		gateway: gw,
		carts:   NewCartService(store, store, NewCouponResolver(store), spy, log),
		checkout: NewCheckoutService(CheckoutDeps{
			Carts:    store,
			Products: store,
			Orders:   store,
			Outbox:   store,
			Tx:       tx,
			Gateway:  gw,
			Cache:    spy,
		}, cfg, log),
		orders: NewOrderService(store, store, store, log),
	}
}

func (e *testEnv) addProduct(p *domain.Product) {
	e.store.SetProduct(p)
}

func (e *testEnv) fill(t *testing.T, userID string, items ...AddItemInput) *domain.Cart {
	t.Helper()
	var cart *domain.Cart
	for _, in := range items {
		var err error
		cart, err = e.carts.AddItem(context.Background(), userID, in)
		require.NoError(t, err)
	}
	return cart
}

func (e *testEnv) product(t *testing.T, id string) *domain.Product {
	t.Helper()
	p, err := e.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (e *testEnv) outboxEvents(t *testing.T) []domain.OrderEvent {
	t.Helper()
	raw, err := e.store.GetUnprocessedEvents(context.Background(), 100)
	require.NoError(t, err)
	events := make([]domain.OrderEvent, 0, len(raw))
	for _, r := range raw {
		var ev domain.OrderEvent
		require.NoError(t, json.Unmarshal(r.Payload, &ev))
		events = append(events, ev)
	}
	return events
}

func webhookPayload(t *testing.T, ev payment.Event) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}
