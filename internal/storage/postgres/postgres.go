// Package postgres keeps the trade ledger in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger pool defaults. A pool_max_conns or application_name set in the DSN
// wins.
const (
	ledgerMaxConns     = 4
	ledgerMaxConnIdle  = 5 * time.Minute
	ledgerHealthPeriod = 30 * time.Second
	applicationName    = "alpha-mirror"
)

// Pool is the ledger's connection pool.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to dsn and pings the server before returning.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := poolConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect ledger db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping ledger db: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

func poolConfig(dsn string) (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse ledger dsn: %w", err)
	}
	if !strings.Contains(dsn, "pool_max_conns") {
		config.MaxConns = ledgerMaxConns
	}
	config.MaxConnIdleTime = ledgerMaxConnIdle
	config.HealthCheckPeriod = ledgerHealthPeriod
	if config.ConnConfig.RuntimeParams["application_name"] == "" {
		config.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return config, nil
}

// Close closes the pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

const pgErrUniqueViolation = "23505"

// isDuplicateKeyError reports a unique_violation, raised when a ledger row id
// is appended twice.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
