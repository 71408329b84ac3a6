// Package db provides the PostgreSQL-backed repositories of the billing
// service. Repositories accept a DBTX so the same code runs on a
// *pgxpool.Pool or inside a pgx.Tx.
package db

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDB is a DBTX that can also open transactions. *pgxpool.Pool satisfies it.
type TxDB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// pgErrorCode returns the SQLSTATE of err, or "" when err is not a
// PostgreSQL error.
func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == pgerrcode.UniqueViolation
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == pgerrcode.ForeignKeyViolation
}
