package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"cark-backend/internal/logger"
	"cark-backend/internal/repository"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so every repository can run
// inside or outside a unit of work.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	*queries
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, queries: &queries{db: db}}
}

// WithinTx runs fn in a database transaction. Row locks taken by
// GetForUpdate and LockWallet are held until commit or rollback.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &queries{db: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		logger.Error("Failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queries binds the repositories to one connection or transaction.
type queries struct {
	db DBTX
}

func (q *queries) Rentals() repository.RentalRepository      { return NewRentalRepository(q.db) }
func (q *queries) SelfDrive() repository.SelfDriveRepository { return NewSelfDriveRepository(q.db) }
func (q *queries) Ledger() repository.LedgerRepository       { return NewLedgerRepository(q.db) }
func (q *queries) Cars() repository.CarRepository            { return NewCarRepository(q.db) }
