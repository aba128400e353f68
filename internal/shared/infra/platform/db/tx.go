package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	outboxDomain "github.com/davicafu/outboxlab/internal/outbox/domain"
)

type txKey struct{}

// WithTx deja la transacción en el contexto para que los repositorios se unan a ella.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext recupera la transacción abierta, si la hay.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// Executor es lo común entre *sql.DB y *sql.Tx.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ExecutorFrom devuelve la transacción del contexto o, si no hay, la conexión.
func ExecutorFrom(ctx context.Context, db *sql.DB) Executor {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db
}

// TxManager abre transacciones SQL y las propaga por contexto.
type TxManager struct {
	db   *sql.DB
	opts *sql.TxOptions
	log  *zap.Logger
}

func NewTxManager(db *sql.DB, log *zap.Logger) *TxManager {
	return &TxManager{db: db, log: log}
}

// WithinTransaction ejecuta fn dentro de una transacción.
// Si el contexto ya trae una, fn se une a ella y el commit queda en manos de quien la abrió.
func (m *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, m.opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				m.log.Warn("⚠️ Error en rollback", zap.Error(rbErr))
			}
		}
	}()

	if err = fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Verificación en tiempo de compilación.
var _ outboxDomain.TransactionRunner = (*TxManager)(nil)
