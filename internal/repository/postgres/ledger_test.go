package postgres_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cark-backend/internal/domain"
	"cark-backend/internal/repository/postgres"
)

func TestLedgerRepository_AppendTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewLedgerRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		tx := &domain.LedgerTransaction{
			Account:       domain.UserAccount(7),
			Type:          domain.TransactionTypeRentalPayment,
			Amount:        decimal.RequireFromString("175.50"),
			BalanceBefore: decimal.RequireFromString("500"),
			BalanceAfter:  decimal.RequireFromString("324.50"),
			Status:        domain.TransactionStatusCompleted,
			Reference:     "chauffeured:3:deposit",
			Description:   "deposit",
			CreatedAt:     time.Now(),
		}

		mock.ExpectExec("INSERT INTO ledger_transactions").
			WithArgs(sqlmock.AnyArg(), tx.Account, tx.Type, tx.Amount, tx.BalanceBefore, tx.BalanceAfter,
				tx.Status, tx.Reference, tx.Description, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.AppendTransaction(ctx, tx)
		assert.NoError(t, err)
		assert.NotEmpty(t, tx.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DatabaseError", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO ledger_transactions").
			WillReturnError(errors.New("connection reset"))

		err := repo.AppendTransaction(ctx, &domain.LedgerTransaction{Account: "platform:escrow"})
		assert.Error(t, err)
	})
}

func TestLedgerRepository_LockWallet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewLedgerRepository(db)
	now := time.Now()

	mock.ExpectExec("INSERT INTO wallets .* ON CONFLICT \\(account_id\\) DO NOTHING").
		WithArgs("user:7", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT account_id, balance, floor, created_at, updated_at FROM wallets WHERE account_id = \\$1 FOR UPDATE").
		WithArgs("user:7").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "balance", "floor", "created_at", "updated_at"}).
			AddRow("user:7", "250.00", "0", now, now))

	w, err := repo.LockWallet(context.Background(), "user:7")
	require.NoError(t, err)
	assert.Equal(t, "user:7", w.AccountID)
	assert.True(t, decimal.RequireFromString("250").Equal(w.Balance))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_GetWallet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewLedgerRepository(db)

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("SELECT account_id, balance, floor, created_at, updated_at FROM wallets").
			WithArgs("user:99").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetWallet(context.Background(), "user:99")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestLedgerRepository_ListTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewLedgerRepository(db)
	now := time.Now()

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM ledger_transactions WHERE account_id = \\$1").
		WithArgs("user:7").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("FROM ledger_transactions\\s+WHERE account_id = \\$1 ORDER BY created_at DESC").
		WithArgs("user:7", int32(2), int32(2)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "type", "amount", "balance_before", "balance_after", "status", "reference", "description", "created_at",
		}).AddRow("b7c1", "user:7", "wallet_top_up", "100", "0", "100", "completed", "", "top up", now))

	txs, total, err := repo.ListTransactions(context.Background(), "user:7", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(3), total)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TransactionTypeTopUp, txs[0].Type)
	assert.True(t, decimal.NewFromInt(100).Equal(txs[0].BalanceAfter))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerRepository_GetSummary(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewLedgerRepository(db)
	now := time.Now()

	mock.ExpectQuery("SELECT account_id, balance, floor, created_at, updated_at FROM wallets").
		WithArgs("user:7").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "balance", "floor", "created_at", "updated_at"}).
			AddRow("user:7", "60", "0", now, now))
	mock.ExpectQuery("SELECT type, COALESCE\\(SUM\\(amount\\), 0\\), count\\(\\*\\)").
		WithArgs("user:7").
		WillReturnRows(sqlmock.NewRows([]string{"type", "sum", "count"}).
			AddRow("wallet_top_up", "100", 1).
			AddRow("rental_payment", "50", 2).
			AddRow("rental_refund", "10", 1))

	summary, err := repo.GetSummary(context.Background(), "user:7")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(60).Equal(summary.Balance))
	assert.True(t, decimal.NewFromInt(110).Equal(summary.TotalCredits))
	assert.True(t, decimal.NewFromInt(50).Equal(summary.TotalDebits))
	assert.True(t, decimal.NewFromInt(60).Equal(summary.Net))
	assert.Equal(t, int32(4), summary.TransactionCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
