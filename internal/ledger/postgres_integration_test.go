package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*PostgresRepository, func()) {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	creds := &Credentials{
		Host:              host,
		Port:              port.Int(),
		User:              "testuser",
		Password:          "testpass",
		DBName:            "testdb",
		MigrationsDirPath: "./migrations",
	}

	repo, err := NewRepository(creds)
	require.NoError(t, err)

	err = repo.RunMigrations(creds)
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}

	return repo, cleanup
}

func TestPostgres_LedgerLifecycle(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	placed := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	entries := []*Entry{
		{OrderID: "o1", CheckoutRef: "c1", UserID: "u1", PaymentMethod: "cash", TotalPrice: 10.25, ItemCount: 1, PlacedAt: placed},
		{OrderID: "o2", CheckoutRef: "c2", UserID: "u2", PaymentMethod: "card", TotalPrice: 99.99, ItemCount: 2, PlacedAt: placed.Add(time.Hour)},
		{OrderID: "o3", CheckoutRef: "c3", UserID: "u1", PaymentMethod: "card", TotalPrice: 0.01, ItemCount: 1, PlacedAt: placed.Add(2 * time.Hour)},
		{OrderID: "old", CheckoutRef: "c0", UserID: "u3", PaymentMethod: "cash", TotalPrice: 500, ItemCount: 4, PlacedAt: placed.Add(-48 * time.Hour)},
	}
	for _, e := range entries {
		require.NoError(t, repo.RecordOrder(ctx, e))
	}

	err := repo.RecordOrder(ctx, entries[0])
	assert.ErrorIs(t, err, ErrDuplicateEntry)

	got, err := repo.GetEntry(ctx, "o2")
	require.NoError(t, err)
	assert.Equal(t, "c2", got.CheckoutRef)
	assert.Equal(t, 99.99, got.TotalPrice)
	assert.True(t, placed.Add(time.Hour).Equal(got.PlacedAt))
	assert.Nil(t, got.CancelledAt)

	require.NoError(t, repo.MarkCancelled(ctx, "o1", placed.Add(3*time.Hour)))
	// a second cancellation keeps the first timestamp
	require.NoError(t, repo.MarkCancelled(ctx, "o1", placed.Add(5*time.Hour)))
	got, err = repo.GetEntry(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got.CancelledAt)
	assert.True(t, placed.Add(3*time.Hour).Equal(*got.CancelledAt))

	assert.ErrorIs(t, repo.MarkCancelled(ctx, "nope", placed), ErrEntryNotFound)

	summary, err := repo.SummarizeSales(ctx, placed.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalOrders)
	assert.Equal(t, 100.0, summary.TotalRevenue)
	require.Len(t, summary.Methods, 1)
	assert.Equal(t, MethodSummary{PaymentMethod: "card", Orders: 2, Revenue: 100}, summary.Methods[0])
}
