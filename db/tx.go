package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spandigital/pgext/internal/logger"
)

type atomicOptions struct {
	savepoint bool
}

type AtomicOption func(*atomicOptions)

// WithoutSavepoint makes a nested Atomic call join the surrounding
// transaction instead of opening a savepoint. The outermost call still
// begins a transaction.
func WithoutSavepoint() AtomicOption {
	return func(o *atomicOptions) { o.savepoint = false }
}

// Atomic runs fn inside a transaction. The transaction travels in the context
// handed to fn; use Conn(ctx, conn) to reach it. Nested calls open a savepoint
// unless WithoutSavepoint is given. The unit is rolled back when fn returns an
// error or panics.
func Atomic(ctx context.Context, conn DBTX, fn func(ctx context.Context) error, opts ...AtomicOption) (err error) {
	o := atomicOptions{savepoint: true}
	for _, opt := range opts {
		opt(&o)
	}

	outer := TxFromContext(ctx)
	if outer != nil && !o.savepoint {
		return fn(ctx)
	}
	parent := hooksFromContext(ctx)
	own := &commitHooks{}

	var tx pgx.Tx
	if outer != nil {
		tx, err = outer.Begin(ctx)
		if err != nil {
			return fmt.Errorf("creating savepoint: %w", err)
		}
	} else {
		tx, err = conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
	}

	log := logger.FromContext(ctx)
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Warn("Transaction rollback failed after panic", "error", rbErr)
			}
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Warn("Transaction rollback failed", "error", rbErr)
			}
			return
		}
		if cErr := tx.Commit(ctx); cErr != nil {
			err = fmt.Errorf("committing transaction: %w", cErr)
			return
		}
		if parent != nil {
			parent.fns = append(parent.fns, own.fns...)
			return
		}
		for _, hook := range own.fns {
			hook()
		}
	}()

	err = fn(withHooks(withTx(ctx, tx), own))
	return err
}

type commitHooks struct {
	fns []func()
}

type hooksKey struct{}

func hooksFromContext(ctx context.Context) *commitHooks {
	h, _ := ctx.Value(hooksKey{}).(*commitHooks)
	return h
}

func withHooks(ctx context.Context, h *commitHooks) context.Context {
	return context.WithValue(ctx, hooksKey{}, h)
}

// OnCommit runs fn after the outermost transaction carried by ctx commits,
// or at once when ctx carries none. A savepoint that rolls back drops the
// callbacks registered inside it.
func OnCommit(ctx context.Context, fn func()) {
	h := hooksFromContext(ctx)
	if h == nil {
		fn()
		return
	}
	h.fns = append(h.fns, fn)
}
