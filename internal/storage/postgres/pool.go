// Package postgres implements the order, catalog, API key and promo
// repositories on PostgreSQL with raw pgx queries.
package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/quickbite/db"
)

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// RunMigrations applies the embedded migrations in file name order.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations, err := db.Migrations()
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			return fmt.Errorf("running migration %s: %w", m.Name, err)
		}
	}
	return nil
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
