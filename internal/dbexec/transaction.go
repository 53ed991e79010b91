package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// WithTransaction runs fn inside a new transaction. The transaction commits
// when fn returns nil and rolls back when fn returns an error or panics; the
// panic is re-raised after rollback.
func WithTransaction(ctx context.Context, b Beginner, fn func(tx TxExecutor) error) (err error) {
	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
