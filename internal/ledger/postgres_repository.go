package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewRepository(cred *Credentials) (*PostgresRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	return &PostgresRepository{db: db}, nil
}

func (r *PostgresRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "ledger_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *PostgresRepository) RecordOrder(ctx context.Context, entry *Entry) error {
	query := `INSERT INTO order_ledger (order_id, checkout_ref, user_id, payment_method, total_price, item_count, placed_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		entry.OrderID,
		entry.CheckoutRef,
		entry.UserID,
		entry.PaymentMethod,
		entry.TotalPrice,
		entry.ItemCount,
		entry.PlacedAt.UTC())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkCancelled(ctx context.Context, orderID string, at time.Time) error {
	query := `UPDATE order_ledger SET cancelled_at = COALESCE(cancelled_at, $2) WHERE order_id = $1`

	res, err := r.db.ExecContext(ctx, query, orderID, at.UTC())
	if err != nil {
		return fmt.Errorf("cancel ledger entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel ledger entry: %w", err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *PostgresRepository) GetEntry(ctx context.Context, orderID string) (*Entry, error) {
	query := `SELECT order_id, checkout_ref, user_id, payment_method, total_price, item_count, placed_at, cancelled_at
	          FROM order_ledger WHERE order_id = $1`

	var e Entry
	var cancelledAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, orderID).Scan(
		&e.OrderID,
		&e.CheckoutRef,
		&e.UserID,
		&e.PaymentMethod,
		&e.TotalPrice,
		&e.ItemCount,
		&e.PlacedAt,
		&cancelledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger entry: %w", err)
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		e.CancelledAt = &t
	}
	return &e, nil
}

func (r *PostgresRepository) SummarizeSales(ctx context.Context, since time.Time) (*SalesSummary, error) {
	query := `SELECT payment_method, COUNT(*), COALESCE(SUM(total_price), 0)
	          FROM order_ledger
	          WHERE cancelled_at IS NULL AND placed_at >= $1
	          GROUP BY payment_method
	          ORDER BY payment_method`

	rows, err := r.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("query sales summary: %w", err)
	}
	defer rows.Close()

	summary := &SalesSummary{Since: since, Methods: []MethodSummary{}}
	revenue := decimal.Zero
	for rows.Next() {
		var m MethodSummary
		var total string
		if err := rows.Scan(&m.PaymentMethod, &m.Orders, &total); err != nil {
			return nil, fmt.Errorf("scan sales row: %w", err)
		}
		d, err := decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("parse revenue %q: %w", total, err)
		}
		m.Revenue = d.InexactFloat64()
		revenue = revenue.Add(d)
		summary.TotalOrders += m.Orders
		summary.Methods = append(summary.Methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	summary.TotalRevenue = revenue.InexactFloat64()
	return summary, nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}
