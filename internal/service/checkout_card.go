package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/payment"
	"github.com/fjod/cartcheckout/internal/repository"
	"github.com/shopspring/decimal"
)

const (
	metaUserID      = "user_id"
	metaCartVersion = "cart_version"
	metaDetails     = "details"
	metaPhone       = "phone"
	metaCity        = "city"
	metaPostalCode  = "postal_code"
)

// CreateCheckoutSession reconciles the caller's cart and opens a hosted
// payment session for it. The order is only created when the gateway later
// reports the payment through the webhook.
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, p Principal, address *domain.ShippingAddress) (*CheckoutResult, error) {
	attempt := newCheckoutAttempt(s.log)

	rc, err := s.loadAndReconcile(ctx, attempt, p.UserID)
	if err != nil {
		return nil, err
	}
	if rc.blocked != nil {
		return rc.blocked, nil
	}

	req := payment.SessionRequest{
		LineItems:         s.lineItems(rc.cart, rc.products),
		Currency:          s.cfg.Currency,
		SuccessURL:        s.cfg.SuccessURL,
		CancelURL:         s.cfg.CancelURL,
		CustomerEmail:     p.Email,
		ClientReferenceID: rc.cart.ID,
		Metadata:          sessionMetadata(rc.cart, address),
	}
	session, err := s.gateway.CreateSession(ctx, req)
	if err != nil {
		s.log.ErrorContext(ctx, "create checkout session failed", "user_id", p.UserID, "error", err)
		return nil, err
	}
	return &CheckoutResult{Session: session}, nil
}

// lineItems prices the session in minor units. With a coupon applied the
// per-line prices no longer add up to what is owed, so a single line carrying
// the discounted total is sent instead.
func (s *CheckoutService) lineItems(cart *domain.Cart, products map[string]*domain.Product) []payment.LineItem {
	var items []payment.LineItem
	if cart.DiscountedTotal != nil {
		items = append(items, payment.LineItem{
			Name:       "Cart total (coupon applied)",
			UnitAmount: toMinor(*cart.DiscountedTotal),
			Quantity:   1,
		})
	} else {
		for _, it := range cart.Items {
			name := it.ProductID
			if p, ok := products[it.ProductID]; ok {
				name = p.Name
			}
			if it.Color != "" {
				name = fmt.Sprintf("%s (%s)", name, it.Color)
			}
			items = append(items, payment.LineItem{
				Name:       name,
				UnitAmount: toMinor(it.UnitPrice),
				Quantity:   int64(it.Quantity),
			})
		}
	}
	if s.cfg.TaxPrice > 0 {
		items = append(items, payment.LineItem{Name: "Tax", UnitAmount: toMinor(s.cfg.TaxPrice), Quantity: 1})
	}
	if s.cfg.ShippingPrice > 0 {
		items = append(items, payment.LineItem{Name: "Shipping", UnitAmount: toMinor(s.cfg.ShippingPrice), Quantity: 1})
	}
	return items
}

// HandleWebhook verifies and applies a payment gateway event. A completed
// checkout places a paid card order for the referenced cart, but only if the
// cart is still the version the customer paid for. Replays are harmless: once
// the order exists the event is acknowledged as a duplicate.
func (s *CheckoutService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return nil, err
	}
	if ev.Type != payment.EventCheckoutCompleted || ev.Session == nil {
		return &WebhookResult{EventID: ev.ID, Status: WebhookIgnored}, nil
	}
	sess := ev.Session

	cart, err := s.carts.GetCartByID(ctx, sess.ClientReferenceID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return s.resolveMissingCart(ctx, ev.ID, sess)
	}
	if err != nil {
		return nil, fmt.Errorf("load paid cart: %w: %w", domain.ErrUpstreamFailure, err)
	}

	if uid := sess.Metadata[metaUserID]; uid != "" && uid != cart.UserID {
		s.log.WarnContext(ctx, "webhook user does not own cart", "event_id", ev.ID, "cart_id", cart.ID)
		return nil, fmt.Errorf("session user does not match cart owner: %w", domain.ErrInvalidInput)
	}
	if v := sess.Metadata[metaCartVersion]; v != strconv.FormatInt(cart.Version, 10) {
		s.log.ErrorContext(ctx, "paid cart changed after session was created, order not placed",
			"event_id", ev.ID, "session_id", sess.ID, "cart_id", cart.ID, "user_id", cart.UserID,
			"session_version", v, "cart_version", cart.Version, "amount_paid", fromMinor(sess.AmountTotal))
		return &WebhookResult{EventID: ev.ID, Status: WebhookCartChanged}, nil
	}

	products, err := s.products.GetProducts(ctx, cart.ProductIDs())
	if err != nil {
		return nil, fmt.Errorf("load cart products: %w: %w", domain.ErrUpstreamFailure, err)
	}

	attempt := newCheckoutAttempt(s.log)
	if err := attempt.advance(domain.CheckoutStatusReconciled); err != nil {
		return nil, err
	}
	if err := attempt.advance(domain.CheckoutStatusCleared); err != nil {
		return nil, err
	}

	order, err := s.placeOrder(ctx, attempt, placement{
		cart:       cart,
		products:   products,
		method:     domain.PaymentMethodCard,
		paid:       true,
		paymentRef: sess.ID,
		totalPrice: fromMinor(sess.AmountTotal),
		address:    addressFromMetadata(sess.Metadata),
	})
	if errors.Is(err, errAlreadyPlaced) {
		return s.resolveMissingCart(ctx, ev.ID, sess)
	}
	if err != nil {
		s.log.ErrorContext(ctx, "card order placement failed", "event_id", ev.ID, "cart_id", cart.ID, "error", err)
		return nil, err
	}
	return &WebhookResult{EventID: ev.ID, Status: WebhookProcessed, OrderID: order.ID}, nil
}

// resolveMissingCart tells a replay of an applied event apart from a payment
// whose cart vanished without producing an order.
func (s *CheckoutService) resolveMissingCart(ctx context.Context, eventID string, sess *payment.CompletedSession) (*WebhookResult, error) {
	order, err := s.orders.GetOrderByCheckoutRef(ctx, sess.ClientReferenceID)
	switch {
	case err == nil:
		s.log.InfoContext(ctx, "webhook for consumed cart", "event_id", eventID, "cart_id", sess.ClientReferenceID, "order_id", order.ID)
		return &WebhookResult{EventID: eventID, Status: WebhookDuplicate, OrderID: order.ID}, nil
	case errors.Is(err, repository.ErrOrderNotFound):
		s.log.ErrorContext(ctx, "paid cart is gone and no order was placed",
			"event_id", eventID, "session_id", sess.ID, "cart_id", sess.ClientReferenceID,
			"user_id", sess.Metadata[metaUserID], "amount_paid", fromMinor(sess.AmountTotal))
		return &WebhookResult{EventID: eventID, Status: WebhookCartMissing}, nil
	default:
		return nil, fmt.Errorf("look up order for cart: %w: %w", domain.ErrUpstreamFailure, err)
	}
}

func sessionMetadata(cart *domain.Cart, address *domain.ShippingAddress) map[string]string {
	meta := map[string]string{
		metaUserID:      cart.UserID,
		metaCartVersion: strconv.FormatInt(cart.Version, 10),
	}
	if address != nil {
		for k, v := range map[string]string{
			metaDetails:    address.Details,
			metaPhone:      address.Phone,
			metaCity:       address.City,
			metaPostalCode: address.PostalCode,
		} {
			if v != "" {
				meta[k] = v
			}
		}
	}
	return meta
}

func addressFromMetadata(meta map[string]string) *domain.ShippingAddress {
	addr := &domain.ShippingAddress{
		Details:    meta[metaDetails],
		Phone:      meta[metaPhone],
		City:       meta[metaCity],
		PostalCode: meta[metaPostalCode],
	}
	if *addr == (domain.ShippingAddress{}) {
		return nil
	}
	return addr
}

func toMinor(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinor(amount int64) float64 {
	return decimal.New(amount, -2).InexactFloat64()
}
