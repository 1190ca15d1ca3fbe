package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/cartcheckout/internal/domain"
)

var (
	ErrCartNotFound    = fmt.Errorf("cart %w", domain.ErrNotFound)
	ErrItemNotFound    = fmt.Errorf("item in cart %w", domain.ErrNotFound)
	ErrProductNotFound = fmt.Errorf("product %w", domain.ErrNotFound)
	ErrOrderNotFound   = fmt.Errorf("order %w", domain.ErrNotFound)
	ErrCouponNotFound  = fmt.Errorf("coupon %w", domain.ErrNotFound)

	// ErrVersionConflict means the cart changed since it was read.
	ErrVersionConflict = fmt.Errorf("cart version changed: %w", domain.ErrConflict)
	// ErrStockConflict means a conditional stock decrement matched no product.
	ErrStockConflict = fmt.Errorf("stock changed during checkout: %w", domain.ErrConflict)
	// ErrDuplicateOrder means an order for the same checkout reference already exists.
	ErrDuplicateOrder = fmt.Errorf("order for checkout already exists: %w", domain.ErrConflict)
)

// CartRepository defines the interface for cart data operations.
// Every mutation bumps the cart version and clears any applied discount.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	GetCartByID(ctx context.Context, cartID string) (*domain.Cart, error)
	// AddItem atomically increments the line matching (productID, color) or appends
	// item, creating the cart if the user has none.
	AddItem(ctx context.Context, userID string, item domain.CartItem) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.Cart, error)
	// RemoveItem removes the line. When the cart becomes empty it is deleted and
	// deleted is true.
	RemoveItem(ctx context.Context, userID, itemID string) (cart *domain.Cart, deleted bool, err error)
	DeleteCart(ctx context.Context, userID string) error
	// SetDiscount stores discountedTotal if the cart is still at version.
	SetDiscount(ctx context.Context, cartID string, version int64, discountedTotal float64) (*domain.Cart, error)
	// ReplaceItems overwrites the lines (and derived subtotal) if the cart is
	// still at cart.Version.
	ReplaceItems(ctx context.Context, cart *domain.Cart) (*domain.Cart, error)
	// DeleteCheckedOut deletes the cart if it still belongs to userID and is at
	// version. ErrCartNotFound means it was already checked out.
	DeleteCheckedOut(ctx context.Context, cartID, userID string, version int64) error
}

type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	// GetProducts returns the products found, keyed by id. Missing ids are absent.
	GetProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error)
	// DecrementStock applies every line only if each still has enough stock,
	// otherwise it fails with ErrStockConflict. Inside a transaction a failure
	// aborts all of them.
	DecrementStock(ctx context.Context, lines []domain.StockLine) error
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// GetOrderByCheckoutRef finds the order placed from the given cart.
	GetOrderByCheckoutRef(ctx context.Context, ref string) (*domain.Order, error)
	// ListOrders returns orders newest first; an empty userID lists all.
	ListOrders(ctx context.Context, userID string) ([]*domain.Order, error)
	// DeleteUnpaidCashOrder deletes the order only while it is an unpaid cash order.
	DeleteUnpaidCashOrder(ctx context.Context, id string) error
	UpdateOrderStatus(ctx context.Context, id string, update domain.StatusUpdate, now time.Time) (*domain.Order, error)
}

type CouponRepository interface {
	GetCouponByName(ctx context.Context, name string) (*domain.Coupon, error)
}

type OutboxRepository interface {
	AddEvent(ctx context.Context, event *domain.OutboxEvent) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id string) error
}

// Transactor runs fn atomically. Repository calls made with the ctx handed to fn
// take part in the transaction; fn may be invoked more than once.
type Transactor interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

var (
	_ CartRepository    = (*MemoryStore)(nil)
	_ ProductRepository = (*MemoryStore)(nil)
	_ OrderRepository   = (*MemoryStore)(nil)
	_ CouponRepository  = (*MemoryStore)(nil)
	_ OutboxRepository  = (*MemoryStore)(nil)
	_ Transactor        = (*MemoryStore)(nil)

	_ CartRepository    = (*MongoCartRepository)(nil)
	_ ProductRepository = (*MongoProductRepository)(nil)
	_ OrderRepository   = (*MongoOrderRepository)(nil)
	_ CouponRepository  = (*MongoCouponRepository)(nil)
	_ OutboxRepository  = (*MongoOutboxRepository)(nil)
	_ Transactor        = (*MongoTransactor)(nil)
)
