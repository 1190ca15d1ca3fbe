package cache

import (
	"context"
	"errors"

	"github.com/fjod/cartcheckout/internal/domain"
)

// CartCache is a read-through cache of carts keyed by user. Every Delete bumps
// the user's generation; Set only stores a cart when the generation is still
// the one the caller read before loading it, so a fill that raced a write is
// dropped instead of resurrecting an old version.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Generation(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, userID string, gen int64, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NoopCache always misses. Used when no Redis is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }
func (NoopCache) Generation(context.Context, string) (int64, error) { return 0, nil }
func (NoopCache) Set(context.Context, string, int64, *domain.Cart) error { return nil }
func (NoopCache) Delete(context.Context, string) error { return nil }
