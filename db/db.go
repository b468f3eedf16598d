// Package db holds the connection abstraction and transaction helpers used by
// the query and relation packages.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// Conn returns the transaction carried by ctx, or conn when there is none.
func Conn(ctx context.Context, conn DBTX) DBTX {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return conn
}

// TxFromContext returns the innermost transaction opened by Atomic.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// InTransaction reports whether ctx carries an Atomic transaction.
func InTransaction(ctx context.Context) bool {
	return TxFromContext(ctx) != nil
}

func withTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}
