package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/pkg/circuitbreaker"
	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeGateway struct {
	sessions      checkoutsession.Client
	webhookSecret string
	breaker       *circuitbreaker.Breaker[*stripe.CheckoutSession]
}

// NewStripeGateway talks to the Stripe API using backend; pass nil for the
// default API backend.
func NewStripeGateway(secretKey, webhookSecret string, backend stripe.Backend, log *slog.Logger) *StripeGateway {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}

	settings := circuitbreaker.DefaultSettings("stripe")
	settings.Logger = log
	settings.IsSuccessful = func(err error) bool {
		// 4xx from Stripe is our request being wrong, not Stripe being down.
		var se *stripe.Error
		if errors.As(err, &se) {
			return se.HTTPStatusCode < 500
		}
		return err == nil
	}

	return &StripeGateway{
		sessions:      checkoutsession.Client{B: backend, Key: secretKey},
		webhookSecret: webhookSecret,
		breaker:       circuitbreaker.New[*stripe.CheckoutSession](settings),
	}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.ClientReferenceID),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for _, li := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(li.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(li.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(li.Name),
				},
			},
		})
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := g.breaker.Execute(func() (*stripe.CheckoutSession, error) {
		return g.sessions.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w: %w", domain.ErrUpstreamFailure, err)
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSignature, err)
	}

	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if out.Type != EventCheckoutCompleted {
		return out, nil
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w: %w", domain.ErrInvalidInput, err)
	}
	out.Session = &CompletedSession{
		ID:                s.ID,
		ClientReferenceID: s.ClientReferenceID,
		AmountTotal:       s.AmountTotal,
		Currency:          string(s.Currency),
		CustomerEmail:     s.CustomerEmail,
		Metadata:          s.Metadata,
	}
	return out, nil
}
