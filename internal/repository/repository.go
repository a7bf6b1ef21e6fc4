package repository

import (
	"context"
	"time"

	"cark-backend/internal/domain"
)

// RentalRepository persists chauffeured rental aggregates together with their
// trip, breakdown, payment legs and audit trail.
type RentalRepository interface {
	Create(ctx context.Context, rental *domain.Rental) error
	GetByID(ctx context.Context, id int32) (*domain.Rental, error)
	// GetForUpdate loads the aggregate and holds its row lock until the unit
	// of work ends.
	GetForUpdate(ctx context.Context, id int32) (*domain.Rental, error)
	Save(ctx context.Context, rental *domain.Rental) error
}

type SelfDriveRepository interface {
	Create(ctx context.Context, rental *domain.SelfDriveRental) error
	GetByID(ctx context.Context, id int32) (*domain.SelfDriveRental, error)
	GetForUpdate(ctx context.Context, id int32) (*domain.SelfDriveRental, error)
	Save(ctx context.Context, rental *domain.SelfDriveRental) error
	// ListDepositExpired returns candidates for the deposit-expiry sweep.
	// Callers must re-check each one under lock.
	ListDepositExpired(ctx context.Context, now time.Time) ([]int32, error)
}

type LedgerRepository interface {
	GetWallet(ctx context.Context, account string) (*domain.Wallet, error)
	// LockWallet creates the wallet on first use and holds its row lock until
	// the unit of work ends.
	LockWallet(ctx context.Context, account string) (*domain.Wallet, error)
	UpdateBalance(ctx context.Context, wallet *domain.Wallet) error
	AppendTransaction(ctx context.Context, tx *domain.LedgerTransaction) error
	ListTransactions(ctx context.Context, account string, page, pageSize int32) ([]domain.LedgerTransaction, int32, error)
	ListByReference(ctx context.Context, reference string) ([]domain.LedgerTransaction, error)
	GetSummary(ctx context.Context, account string) (*domain.LedgerSummary, error)
}

// CarRepository reads the car catalog.
type CarRepository interface {
	GetByID(ctx context.Context, id int32) (*domain.Car, error)
}

// Tx exposes repositories bound to a single unit of work.
type Tx interface {
	Rentals() RentalRepository
	SelfDrive() SelfDriveRepository
	Ledger() LedgerRepository
	Cars() CarRepository
}

// Store runs units of work. fn's writes are committed when it returns nil and
// rolled back otherwise.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
