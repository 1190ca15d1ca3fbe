package ledger

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &PostgresRepository{db: db}, mock
}

func testEntry() *Entry {
	return &Entry{
		OrderID:       "order-1",
		CheckoutRef:   "cart-1",
		UserID:        "user-1",
		PaymentMethod: "cash",
		TotalPrice:    46.5,
		ItemCount:     3,
		PlacedAt:      time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRecordOrder(t *testing.T) {
	repo, mock := newMockRepo(t)
	e := testEntry()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_ledger")).
		WithArgs(e.OrderID, e.CheckoutRef, e.UserID, e.PaymentMethod, e.TotalPrice, e.ItemCount, e.PlacedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.RecordOrder(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOrder_Duplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_ledger")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := repo.RecordOrder(context.Background(), testEntry())
	assert.ErrorIs(t, err, ErrDuplicateEntry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOrder_OtherError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO order_ledger")).
		WillReturnError(sql.ErrConnDone)

	err := repo.RecordOrder(context.Background(), testEntry())
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NotErrorIs(t, err, ErrDuplicateEntry)
}

func TestMarkCancelled(t *testing.T) {
	at := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	t.Run("updates row", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE order_ledger SET cancelled_at")).
			WithArgs("order-1", at).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.MarkCancelled(context.Background(), "order-1", at))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown order", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(regexp.QuoteMeta("UPDATE order_ledger SET cancelled_at")).
			WithArgs("missing", at).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.MarkCancelled(context.Background(), "missing", at)
		assert.ErrorIs(t, err, ErrEntryNotFound)
	})
}

func TestGetEntry_NotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_ledger WHERE order_id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetEntry(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestSummarizeSales(t *testing.T) {
	repo, mock := newMockRepo(t)
	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"payment_method", "count", "sum"}).
		AddRow("card", 2, "120.10").
		AddRow("cash", 1, "0.20")
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_ledger")).
		WithArgs(since).
		WillReturnRows(rows)

	summary, err := repo.SummarizeSales(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, since, summary.Since)
	assert.Equal(t, 3, summary.TotalOrders)
	assert.Equal(t, 120.3, summary.TotalRevenue)
	assert.Equal(t, []MethodSummary{
		{PaymentMethod: "card", Orders: 2, Revenue: 120.1},
		{PaymentMethod: "cash", Orders: 1, Revenue: 0.2},
	}, summary.Methods)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSummarizeSales_Empty(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM order_ledger")).
		WillReturnRows(sqlmock.NewRows([]string{"payment_method", "count", "sum"}))

	summary, err := repo.SummarizeSales(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, summary.TotalOrders)
	assert.Zero(t, summary.TotalRevenue)
	assert.NotNil(t, summary.Methods)
}
