package relica

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/coregx/courier"
	"github.com/coregx/relica"
)

// queryer is the subset of relica.DB and relica.Tx the repositories build on.
type queryer interface {
	Select(cols ...string) *relica.SelectQuery
	Update(table string) *relica.UpdateQuery
	Model(model interface{}) *relica.ModelQuery
}

type txKey struct{}

// querier returns the transaction bound to ctx by Repositories.InTx, or db.
func querier(ctx context.Context, db *relica.DB) queryer {
	if tx, ok := ctx.Value(txKey{}).(*relica.Tx); ok {
		return tx
	}
	return db.WithContext(ctx)
}

// TxRunner implements courier.Transactor over one database handle.
type TxRunner struct {
	db *relica.DB
}

var _ courier.Transactor = (*TxRunner)(nil)

// NewTxRunner wraps sqlDB for courier.Transactor use.
func NewTxRunner(sqlDB *sql.DB, driverName string) *TxRunner {
	return &TxRunner{db: relica.WrapDB(sqlDB, driverName)}
}

// InTx begins a transaction and binds it to the ctx passed to fn. Message
// and event repository calls made with that ctx run inside it. A nested
// call joins the outer transaction.
func (t *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*relica.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
