package payment

import "context"

const EventCheckoutCompleted = "checkout.session.completed"

// Gateway is the hosted-checkout payment provider.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	// ParseWebhook verifies the signature header against the raw payload and
	// decodes the event. Verification failures wrap domain.ErrInvalidSignature.
	ParseWebhook(payload []byte, signatureHeader string) (*Event, error)
}

type LineItem struct {
	Name       string
	UnitAmount int64 // minor currency units
	Quantity   int64
}

type SessionRequest struct {
	LineItems         []LineItem
	Currency          string
	SuccessURL        string
	CancelURL         string
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Event struct {
	ID      string
	Type    string
	Session *CompletedSession // set for EventCheckoutCompleted
}

type CompletedSession struct {
	ID                string
	ClientReferenceID string
	AmountTotal       int64 // minor currency units
	Currency          string
	CustomerEmail     string
	Metadata          map[string]string
}
