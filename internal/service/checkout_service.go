package service

import (
	"log/slog"
	"time"

	"github.com/fjod/cartcheckout/internal/cache"
	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/payment"
	"github.com/fjod/cartcheckout/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type CheckoutConfig struct {
	Timeout       time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
	TaxPrice      float64
	ShippingPrice float64
	Currency      string
	SuccessURL    string
	CancelURL     string
}

type CheckoutDeps struct {
	Carts    repository.CartRepository
	Products repository.ProductRepository
	Orders   repository.OrderRepository
	Outbox   repository.OutboxRepository
	Tx       repository.Transactor
	Gateway  payment.Gateway
	Cache    cache.CartCache
}

// CheckoutService turns a reconciled cart into an order, either directly
// (cash) or after the payment gateway confirms a hosted checkout (card).
type CheckoutService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	orders   repository.OrderRepository
	outbox   repository.OutboxRepository
	tx       repository.Transactor
	gateway  payment.Gateway
	cache    cache.CartCache
	cfg      CheckoutConfig
	log      *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewCheckoutService(deps CheckoutDeps, cfg CheckoutConfig, log *slog.Logger) *CheckoutService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &CheckoutService{
		carts:    deps.Carts,
		products: deps.Products,
		orders:   deps.Orders,
		outbox:   deps.Outbox,
		tx:       deps.Tx,
		gateway:  deps.Gateway,
		cache:    deps.Cache,
		cfg:      cfg,
		log:      log,
		tracer:   otel.Tracer("github.com/fjod/cartcheckout/internal/service"),
		now:      time.Now,
	}
}

// CheckoutResult is either a placed order, a created payment session, or a
// blocked checkout carrying what changed.
type CheckoutResult struct {
	Order   *domain.Order
	Session *payment.Session
	// Blocked is set when reconciliation found drift; nothing was committed.
	Blocked *Reconciliation
	// Cart is the corrected cart when only prices drifted.
	Cart *domain.Cart
}

func (r *CheckoutResult) IsBlocked() bool {
	return r.Blocked != nil
}

type WebhookStatus string

const (
	WebhookProcessed WebhookStatus = "processed"
	WebhookDuplicate WebhookStatus = "duplicate"
	WebhookIgnored   WebhookStatus = "ignored"

	// WebhookCartChanged means the cart was edited after the payment session
	// was created. No order is placed; the payment needs manual follow-up.
	WebhookCartChanged WebhookStatus = "cart_changed"

	// WebhookCartMissing means the referenced cart is gone and no order was
	// placed from it.
	WebhookCartMissing WebhookStatus = "cart_missing"
)

type WebhookResult struct {
	EventID string
	Status  WebhookStatus
	OrderID string
}

// checkoutAttempt tracks one checkout through its states.
type checkoutAttempt struct {
	status domain.CheckoutStatus
	log    *slog.Logger
}

func newCheckoutAttempt(log *slog.Logger) *checkoutAttempt {
	return &checkoutAttempt{status: domain.CheckoutStatusCartLoaded, log: log}
}

func (a *checkoutAttempt) advance(next domain.CheckoutStatus) error {
	if !a.status.CanTransitionTo(next) {
		return &IllegalTransitionError{From: a.status, To: next}
	}
	a.log.Debug("checkout transition", "from", a.status.String(), "to", next.String())
	a.status = next
	return nil
}
