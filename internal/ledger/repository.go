package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEntryNotFound  = errors.New("ledger entry not found")
	ErrDuplicateEntry = errors.New("order already recorded in ledger")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// Entry is one placed order as seen by the sales ledger.
type Entry struct {
	OrderID       string
	CheckoutRef   string
	UserID        string
	PaymentMethod string
	TotalPrice    float64
	ItemCount     int
	PlacedAt      time.Time
	CancelledAt   *time.Time
}

type MethodSummary struct {
	PaymentMethod string  `json:"paymentMethod"`
	Orders        int     `json:"orders"`
	Revenue       float64 `json:"revenue"`
}

// SalesSummary aggregates orders placed since a point in time, excluding
// cancelled ones.
type SalesSummary struct {
	Since        time.Time       `json:"since"`
	TotalOrders  int             `json:"totalOrders"`
	TotalRevenue float64         `json:"totalRevenue"`
	Methods      []MethodSummary `json:"methods"`
}

type Repository interface {
	RecordOrder(ctx context.Context, entry *Entry) error
	// MarkCancelled stamps the entry as cancelled. Entries already cancelled are
	// left as they are.
	MarkCancelled(ctx context.Context, orderID string, at time.Time) error
	GetEntry(ctx context.Context, orderID string) (*Entry, error)
	SummarizeSales(ctx context.Context, since time.Time) (*SalesSummary, error)
	RunMigrations(*Credentials) error
	Close() error
}
