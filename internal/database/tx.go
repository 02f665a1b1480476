package database

import (
	"context"
	"errors"
	"strings"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

type txKey struct{}

type txState struct {
	tx       bun.Tx
	after    []func(context.Context)
	rollback []func(context.Context)
}

// WithTx runs fn inside a transaction carried by the context. Nested calls join the
// outer transaction. Hooks registered with AfterCommit run once the outermost commit
// succeeds; OnRollback hooks run when it does not.
func WithTx(ctx context.Context, db *bun.DB, fn func(ctx context.Context) error) (err error) {
	if fromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	st := &txState{tx: tx}
	txCtx := context.WithValue(ctx, txKey{}, st)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			st.runRollback(ctx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		st.runRollback(ctx)
		return err
	}
	if err := tx.Commit(); err != nil {
		st.runRollback(ctx)
		return err
	}

	for _, hook := range st.after {
		hook(ctx)
	}
	return nil
}

// IDB returns the transaction in ctx, or db when there is none.
func IDB(ctx context.Context, db *bun.DB) bun.IDB {
	if st := fromContext(ctx); st != nil {
		return st.tx
	}
	return db
}

// AfterCommit defers fn until the surrounding transaction commits. Outside a
// transaction fn runs immediately. Hooks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if st := fromContext(ctx); st != nil {
		st.after = append(st.after, fn)
		return
	}
	fn(ctx)
}

// OnRollback registers compensation for work done outside the database, such as a
// Redis write, that must be undone if the surrounding transaction fails. Outside a
// transaction it does nothing.
func OnRollback(ctx context.Context, fn func(context.Context)) {
	if st := fromContext(ctx); st != nil {
		st.rollback = append(st.rollback, fn)
	}
}

func (st *txState) runRollback(ctx context.Context) {
	for i := len(st.rollback) - 1; i >= 0; i-- {
		st.rollback[i](context.WithoutCancel(ctx))
	}
}

// InTx reports whether ctx carries a transaction.
func InTx(ctx context.Context) bool {
	return fromContext(ctx) != nil
}

func fromContext(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// IsUniqueViolation recognizes duplicate-key errors from postgres and sqlite.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
