package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/cartcheckout/internal/cache"
	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/repository"
	"golang.org/x/sync/singleflight"
)

const (
	couponAttempts  = 5
	cartLoadTimeout = 5 * time.Second
)

type AddItemInput struct {
	ProductID string `json:"productId"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

type CartService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	coupons  *CouponResolver
	cache    cache.CartCache
	sfg      singleflight.Group // Prevents cache stampede
	log      *slog.Logger
}

func NewCartService(
	carts repository.CartRepository,
	products repository.ProductRepository,
	coupons *CouponResolver,
	cartCache cache.CartCache,
	log *slog.Logger,
) *CartService {
	return &CartService{
		carts:    carts,
		products: products,
		coupons:  coupons,
		cache:    cartCache,
		log:      log,
	}
}

func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	// Concurrent readers of one user share a single load (cache stampede).
	// The load is detached from the caller that started it so one cancelled
	// request cannot fail the others waiting on it.
	ch := s.sfg.DoChan(userID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cartLoadTimeout)
		defer cancel()
		return s.loadCart(loadCtx, userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Cart), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *CartService) loadCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.log.WarnContext(ctx, "cache get error", "error", err) // log cache error but continue
	}

	// Read before the store so a write landing in between voids the fill.
	gen, errGen := s.cache.Generation(ctx, userID)

	cart, err = s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, cartErr(err)
	}

	if errGen != nil {
		s.log.WarnContext(ctx, "cache generation error", "error", errGen)
		return cart, nil
	}
	go func() {
		setCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if errSet := s.cache.Set(setCtx, userID, gen, cart); errSet != nil {
			s.log.Warn("cache set error", "error", errSet)
		}
	}()

	return cart, nil
}

// AddItem adds quantity units of a product to the user's cart, creating the
// cart when needed. The live product price becomes the unit price of a new line.
func (s *CartService) AddItem(ctx context.Context, userID string, in AddItemInput) (*domain.Cart, error) {
	in.ProductID = strings.TrimSpace(in.ProductID)
	if in.ProductID == "" {
		return nil, fmt.Errorf("productId is required: %w", domain.ErrInvalidInput)
	}
	if in.Quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1: %w", domain.ErrInvalidInput)
	}

	product, err := s.products.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	if err := checkStock(product, in.Color, in.Quantity); err != nil {
		return nil, err
	}

	cart, err := s.carts.AddItem(ctx, userID, domain.CartItem{
		ProductID: in.ProductID,
		Color:     in.Color,
		Quantity:  in.Quantity,
		UnitPrice: product.Price,
	})
	if err != nil {
		s.log.ErrorContext(ctx, "repo add item error", "user_id", userID, "error", err)
		return nil, err
	}

	s.invalidateCache(userID)
	return cart, nil
}

func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.Cart, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1: %w", domain.ErrInvalidInput)
	}

	current, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, cartErr(err)
	}
	item, ok := current.FindItem(itemID)
	if !ok {
		return nil, repository.ErrItemNotFound
	}
	product, err := s.products.GetProduct(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	if err := checkStock(product, item.Color, quantity); err != nil {
		return nil, err
	}

	cart, err := s.carts.UpdateItemQuantity(ctx, userID, itemID, quantity)
	if err != nil {
		s.log.ErrorContext(ctx, "repo update item quantity error", "user_id", userID, "error", err)
		return nil, cartErr(err)
	}

	s.invalidateCache(userID)
	return cart, nil
}

// RemoveItem removes a line. When it was the last one the cart is deleted and
// the returned cart is nil.
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID string) (*domain.Cart, error) {
	cart, _, err := s.carts.RemoveItem(ctx, userID, itemID)
	if err != nil {
		return nil, cartErr(err)
	}

	s.invalidateCache(userID)
	return cart, nil
}

// ClearCart deletes the user's cart. Clearing a missing cart is not an error.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	if err := s.carts.DeleteCart(ctx, userID); err != nil {
		s.log.ErrorContext(ctx, "repo delete cart error", "user_id", userID, "error", err)
		return err
	}

	s.invalidateCache(userID)
	return nil
}

// ApplyCoupon stores the discounted total for the cart's current subtotal. The
// write only lands if the cart did not change in between; otherwise it is
// recomputed, a bounded number of times.
func (s *CartService) ApplyCoupon(ctx context.Context, userID, code string) (*domain.Cart, error) {
	percent, err := s.coupons.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < couponAttempts; attempt++ {
		cart, err := s.carts.GetCart(ctx, userID)
		if err != nil {
			return nil, cartErr(err)
		}

		updated, err := s.carts.SetDiscount(ctx, cart.ID, cart.Version, ApplyDiscount(cart.Subtotal, percent))
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, cartErr(err)
		}

		s.invalidateCache(userID)
		return updated, nil
	}
	return nil, repository.ErrVersionConflict
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cache invalidate error", "user_id", userID, "error", err)
	}
}

func checkStock(p *domain.Product, color string, quantity int) error {
	available, ok := p.Available(color)
	if !ok {
		return ErrVariantNotFound
	}
	if quantity > available {
		return &InsufficientStockError{Available: available, Requested: quantity}
	}
	return nil
}

func cartErr(err error) error {
	if errors.Is(err, repository.ErrCartNotFound) {
		return ErrEmptyCart
	}
	return err
}
