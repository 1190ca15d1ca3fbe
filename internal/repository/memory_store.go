package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/google/uuid"
)

const (
	// OutboxRetention is how long published events are kept before pruning.
	OutboxRetention = 7 * 24 * time.Hour

	// CleanupInterval is how often the background cleanup runs
	CleanupInterval = 30 * time.Second
)

type txKey struct{}

// MemoryStore implements every repository interface plus Transactor on top of
// maps guarded by a single mutex. A transaction holds the mutex for its whole
// duration and restores a snapshot when fn fails, so transactions are
// serializable.
type MemoryStore struct {
	mu       sync.Mutex
	carts    map[string]*domain.Cart // userID -> cart
	cartIDs  map[string]string       // cartID -> userID
	products map[string]*domain.Product
	orders   map[string]*domain.Order
	refs     map[string]string // checkoutRef -> orderID
	coupons  map[string]*domain.Coupon
	outbox   []*domain.OutboxEvent

	now         func() time.Time
	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		carts:       make(map[string]*domain.Cart),
		cartIDs:     make(map[string]string),
		products:    make(map[string]*domain.Product),
		orders:      make(map[string]*domain.Order),
		refs:        make(map[string]string),
		coupons:     make(map[string]*domain.Coupon),
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

// cleanupLoop periodically prunes published outbox events
func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pruneOutbox()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) pruneOutbox() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-OutboxRetention)
	kept := s.outbox[:0]
	for _, ev := range s.outbox {
		if ev.ProcessedAt != nil && ev.ProcessedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, ev)
	}
	s.outbox = kept
}

// Close stops the background cleanup and waits for it to finish
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	s.wg.Wait()
	return nil
}

// lock acquires the store mutex unless ctx belongs to a running transaction,
// which already holds it.
func (s *MemoryStore) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) == s {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	err := fn(context.WithValue(ctx, txKey{}, s))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.restore(snap)
	}
	return err
}

type memorySnapshot struct {
	carts    map[string]*domain.Cart
	cartIDs  map[string]string
	products map[string]*domain.Product
	orders   map[string]*domain.Order
	refs     map[string]string
	outbox   []*domain.OutboxEvent
}

func (s *MemoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		carts:    make(map[string]*domain.Cart, len(s.carts)),
		cartIDs:  make(map[string]string, len(s.cartIDs)),
		products: make(map[string]*domain.Product, len(s.products)),
		orders:   make(map[string]*domain.Order, len(s.orders)),
		refs:     make(map[string]string, len(s.refs)),
		outbox:   make([]*domain.OutboxEvent, 0, len(s.outbox)),
	}
	for k, v := range s.carts {
		snap.carts[k] = v.Clone()
	}
	for k, v := range s.cartIDs {
		snap.cartIDs[k] = v
	}
	for k, v := range s.products {
		snap.products[k] = cloneProduct(v)
	}
	for k, v := range s.orders {
		snap.orders[k] = cloneOrder(v)
	}
	for k, v := range s.refs {
		snap.refs[k] = v
	}
	for _, ev := range s.outbox {
		cp := *ev
		snap.outbox = append(snap.outbox, &cp)
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.carts = snap.carts
	s.cartIDs = snap.cartIDs
	s.products = snap.products
	s.orders = snap.orders
	s.refs = snap.refs
	s.outbox = snap.outbox
}

// --- carts ---

func (s *MemoryStore) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	defer s.lock(ctx)()

	c, ok := s.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) GetCartByID(ctx context.Context, cartID string) (*domain.Cart, error) {
	defer s.lock(ctx)()

	c := s.cartByID(cartID)
	if c == nil {
		return nil, ErrCartNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) AddItem(ctx context.Context, userID string, item domain.CartItem) (*domain.Cart, error) {
	defer s.lock(ctx)()

	c, ok := s.carts[userID]
	if !ok {
		c = &domain.Cart{ID: uuid.NewString(), UserID: userID, CreatedAt: s.now()}
		s.carts[userID] = c
		s.cartIDs[c.ID] = userID
	}

	merged := false
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID && c.Items[i].Color == item.Color {
			c.Items[i].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		c.Items = append(c.Items, item)
	}
	s.touch(c)
	return c.Clone(), nil
}

func (s *MemoryStore) UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.Cart, error) {
	defer s.lock(ctx)()

	c, ok := s.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			c.Items[i].Quantity = quantity
			s.touch(c)
			return c.Clone(), nil
		}
	}
	return nil, ErrItemNotFound
}

func (s *MemoryStore) RemoveItem(ctx context.Context, userID, itemID string) (*domain.Cart, bool, error) {
	defer s.lock(ctx)()

	c, ok := s.carts[userID]
	if !ok {
		return nil, false, ErrCartNotFound
	}
	idx := -1
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, false, ErrItemNotFound
	}

	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	if len(c.Items) == 0 {
		s.deleteCart(c)
		return nil, true, nil
	}
	s.touch(c)
	return c.Clone(), false, nil
}

func (s *MemoryStore) DeleteCart(ctx context.Context, userID string) error {
	defer s.lock(ctx)()

	if c, ok := s.carts[userID]; ok {
		s.deleteCart(c)
	}
	return nil
}

func (s *MemoryStore) SetDiscount(ctx context.Context, cartID string, version int64, discountedTotal float64) (*domain.Cart, error) {
	defer s.lock(ctx)()

	c := s.cartByID(cartID)
	if c == nil {
		return nil, ErrCartNotFound
	}
	if c.Version != version {
		return nil, ErrVersionConflict
	}
	c.DiscountedTotal = &discountedTotal
	c.Version++
	c.UpdatedAt = s.now()
	return c.Clone(), nil
}

func (s *MemoryStore) ReplaceItems(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	defer s.lock(ctx)()

	c := s.cartByID(cart.ID)
	if c == nil {
		return nil, ErrCartNotFound
	}
	if c.Version != cart.Version {
		return nil, ErrVersionConflict
	}
	c.Items = append([]domain.CartItem(nil), cart.Items...)
	s.touch(c)
	return c.Clone(), nil
}

func (s *MemoryStore) DeleteCheckedOut(ctx context.Context, cartID, userID string, version int64) error {
	defer s.lock(ctx)()

	c := s.cartByID(cartID)
	if c == nil || c.UserID != userID {
		return ErrCartNotFound
	}
	if c.Version != version {
		return ErrVersionConflict
	}
	s.deleteCart(c)
	return nil
}

func (s *MemoryStore) cartByID(cartID string) *domain.Cart {
	userID, ok := s.cartIDs[cartID]
	if !ok {
		return nil
	}
	return s.carts[userID]
}

func (s *MemoryStore) deleteCart(c *domain.Cart) {
	delete(s.carts, c.UserID)
	delete(s.cartIDs, c.ID)
}

// touch applies the bookkeeping shared by every cart mutation.
func (s *MemoryStore) touch(c *domain.Cart) {
	c.Subtotal = domain.CalcSubtotal(c.Items)
	c.DiscountedTotal = nil
	c.Version++
	c.UpdatedAt = s.now()
}

// --- products ---

// SetProduct inserts or replaces a catalog entry (used for seeding).
func (s *MemoryStore) SetProduct(p *domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = cloneProduct(p)
}

func (s *MemoryStore) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	defer s.lock(ctx)()

	p, ok := s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return cloneProduct(p), nil
}

func (s *MemoryStore) GetProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	defer s.lock(ctx)()

	result := make(map[string]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = cloneProduct(p)
		}
	}
	return result, nil
}

// DecrementStock validates every line against working copies first and only
// then writes them back, so a failing line leaves all stock untouched.
func (s *MemoryStore) DecrementStock(ctx context.Context, lines []domain.StockLine) error {
	defer s.lock(ctx)()

	work := make(map[string]*domain.Product)
	for _, l := range lines {
		p, ok := work[l.ProductID]
		if !ok {
			orig, exists := s.products[l.ProductID]
			if !exists {
				return ErrStockConflict
			}
			p = cloneProduct(orig)
			work[l.ProductID] = p
		}
		if p.Quantity < l.Quantity {
			return ErrStockConflict
		}
		if l.Variant {
			idx := -1
			for i := range p.Variants {
				if p.Variants[i].Color == l.Color {
					idx = i
					break
				}
			}
			if idx < 0 || p.Variants[idx].Quantity < l.Quantity {
				return ErrStockConflict
			}
			p.Variants[idx].Quantity -= l.Quantity
		}
		p.Quantity -= l.Quantity
		p.Sold += l.Quantity
	}

	for id, p := range work {
		s.products[id] = p
	}
	return nil
}

func cloneProduct(p *domain.Product) *domain.Product {
	cp := *p
	cp.Variants = append([]domain.Variant(nil), p.Variants...)
	return &cp
}

// --- orders ---

func (s *MemoryStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	defer s.lock(ctx)()

	if _, dup := s.refs[order.CheckoutRef]; dup {
		return ErrDuplicateOrder
	}
	s.orders[order.ID] = cloneOrder(order)
	s.refs[order.CheckoutRef] = order.ID
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	defer s.lock(ctx)()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) GetOrderByCheckoutRef(ctx context.Context, ref string) (*domain.Order, error) {
	defer s.lock(ctx)()

	id, ok := s.refs[ref]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	defer s.lock(ctx)()

	orders := make([]*domain.Order, 0)
	for _, o := range s.orders {
		if userID == "" || o.UserID == userID {
			orders = append(orders, cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *MemoryStore) DeleteUnpaidCashOrder(ctx context.Context, id string) error {
	defer s.lock(ctx)()

	o, ok := s.orders[id]
	if !ok || !o.Cancellable() {
		return ErrOrderNotFound
	}
	delete(s.orders, id)
	delete(s.refs, o.CheckoutRef)
	return nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, id string, update domain.StatusUpdate, now time.Time) (*domain.Order, error) {
	defer s.lock(ctx)()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	if update.IsPaid != nil {
		o.IsPaid = *update.IsPaid
		o.PaidAt = nil
		if o.IsPaid {
			t := now
			o.PaidAt = &t
		}
	}
	if update.IsDelivered != nil {
		o.IsDelivered = *update.IsDelivered
		o.DeliveredAt = nil
		if o.IsDelivered {
			t := now
			o.DeliveredAt = &t
		}
	}
	return cloneOrder(o), nil
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		cp.ShippingAddress = &addr
	}
	return &cp
}

// --- coupons ---

// SetCoupon inserts or replaces a coupon (used for seeding).
func (s *MemoryStore) SetCoupon(c *domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	cp.Name = strings.ToUpper(c.Name)
	s.coupons[cp.Name] = &cp
}

func (s *MemoryStore) GetCouponByName(ctx context.Context, name string) (*domain.Coupon, error) {
	defer s.lock(ctx)()

	c, ok := s.coupons[strings.ToUpper(name)]
	if !ok {
		return nil, ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

// --- outbox ---

func (s *MemoryStore) AddEvent(ctx context.Context, event *domain.OutboxEvent) error {
	defer s.lock(ctx)()

	cp := *event
	s.outbox = append(s.outbox, &cp)
	return nil
}

func (s *MemoryStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	defer s.lock(ctx)()

	events := make([]*domain.OutboxEvent, 0)
	for _, ev := range s.outbox {
		if ev.ProcessedAt != nil {
			continue
		}
		cp := *ev
		events = append(events, &cp)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *MemoryStore) MarkEventAsProcessed(ctx context.Context, id string) error {
	defer s.lock(ctx)()

	for _, ev := range s.outbox {
		if ev.ID == id {
			t := s.now()
			ev.ProcessedAt = &t
			return nil
		}
	}
	return nil
}
