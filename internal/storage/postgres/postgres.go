package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// PostgreSQL error codes
const (
	pgErrDatatypeMismatch  = "42804" // datatype_mismatch
	pgErrNotNullViolation  = "23502" // not_null_violation
	pgErrUndefinedTable    = "42P01" // undefined_table
	pgClassDataException   = "22"
	pgClassConnException   = "08"
	pgClassInsufficientRes = "53"
	pgClassOperatorInter   = "57"
)

// isTypeMismatchError reports whether the server rejected a value for its column.
func isTypeMismatchError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgErrDatatypeMismatch, pgErrNotNullViolation, pgErrUndefinedTable:
		return true
	}
	return strings.HasPrefix(pgErr.Code, pgClassDataException)
}

// isConnectionError reports whether err came from the link rather than the data.
func isConnectionError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, pgClassConnException) ||
			strings.HasPrefix(pgErr.Code, pgClassInsufficientRes) ||
			strings.HasPrefix(pgErr.Code, pgClassOperatorInter)
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	return errors.As(err, &connErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		pgconn.Timeout(err)
}

// quote returns the sanitized, double-quoted form of name.
func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}
