package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cark-backend/internal/domain"
	"cark-backend/internal/logger"
	"cark-backend/internal/repository"
)

type ledgerRepository struct {
	db DBTX
}

func NewLedgerRepository(db DBTX) repository.LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) GetWallet(ctx context.Context, account string) (*domain.Wallet, error) {
	logger.EnterMethod("ledgerRepository.GetWallet", "account", account)

	w := &domain.Wallet{}
	query := `SELECT account_id, balance, floor, created_at, updated_at FROM wallets WHERE account_id = $1`
	err := r.db.QueryRowContext(ctx, query, account).Scan(&w.AccountID, &w.Balance, &w.Floor, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		err = notFound(err, "wallet", account)
		logger.ExitMethodWithError("ledgerRepository.GetWallet", err, "account", account)
		return nil, err
	}

	logger.ExitMethod("ledgerRepository.GetWallet", "account", account)
	return w, nil
}

func (r *ledgerRepository) LockWallet(ctx context.Context, account string) (*domain.Wallet, error) {
	logger.EnterMethod("ledgerRepository.LockWallet", "account", account)

	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (account_id, balance, floor, created_at, updated_at)
		VALUES ($1, 0, 0, $2, $2)
		ON CONFLICT (account_id) DO NOTHING`, account, now)
	if err != nil {
		logger.ExitMethodWithError("ledgerRepository.LockWallet", err, "account", account)
		return nil, err
	}

	w := &domain.Wallet{}
	query := `SELECT account_id, balance, floor, created_at, updated_at FROM wallets WHERE account_id = $1 FOR UPDATE`
	err = r.db.QueryRowContext(ctx, query, account).Scan(&w.AccountID, &w.Balance, &w.Floor, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		logger.ExitMethodWithError("ledgerRepository.LockWallet", err, "account", account)
		return nil, err
	}

	logger.ExitMethod("ledgerRepository.LockWallet", "account", account, "balance", w.Balance.String())
	return w, nil
}

func (r *ledgerRepository) UpdateBalance(ctx context.Context, w *domain.Wallet) error {
	logger.EnterMethod("ledgerRepository.UpdateBalance", "account", w.AccountID, "balance", w.Balance.String())

	res, err := r.db.ExecContext(ctx, `UPDATE wallets SET balance = $1, updated_at = $2 WHERE account_id = $3`,
		w.Balance, w.UpdatedAt, w.AccountID)
	if err != nil {
		logger.ExitMethodWithError("ledgerRepository.UpdateBalance", err, "account", w.AccountID)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NewNotFound("wallet", w.AccountID)
	}

	logger.ExitMethod("ledgerRepository.UpdateBalance", "account", w.AccountID)
	return nil
}

func (r *ledgerRepository) AppendTransaction(ctx context.Context, tx *domain.LedgerTransaction) error {
	logger.EnterMethod("ledgerRepository.AppendTransaction", "account", tx.Account, "type", tx.Type, "reference", tx.Reference)

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	query := `
		INSERT INTO ledger_transactions (
			id, account_id, type, amount, balance_before, balance_after, status, reference, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	logger.DatabaseCall("INSERT", "ledger_transactions", "account", tx.Account)
	_, err := r.db.ExecContext(ctx, query,
		tx.ID, tx.Account, tx.Type, tx.Amount, tx.BalanceBefore, tx.BalanceAfter, tx.Status,
		tx.Reference, tx.Description, tx.CreatedAt,
	)
	if err != nil {
		logger.ExitMethodWithError("ledgerRepository.AppendTransaction", err, "account", tx.Account)
		return err
	}

	logger.ExitMethod("ledgerRepository.AppendTransaction", "transactionID", tx.ID)
	return nil
}

const transactionColumns = `id, account_id, type, amount, balance_before, balance_after, status,
	COALESCE(reference, ''), COALESCE(description, ''), created_at`

func (r *ledgerRepository) ListTransactions(ctx context.Context, account string, page, pageSize int32) ([]domain.LedgerTransaction, int32, error) {
	logger.EnterMethod("ledgerRepository.ListTransactions", "account", account, "page", page, "pageSize", pageSize)

	var count int32
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM ledger_transactions WHERE account_id = $1`, account).Scan(&count)
	if err != nil {
		logger.ExitMethodWithError("ledgerRepository.ListTransactions", err, "account", account)
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	query := `SELECT ` + transactionColumns + ` FROM ledger_transactions
	          WHERE account_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2 OFFSET $3`
	txs, err := r.query(ctx, query, account, pageSize, offset)
	if err != nil {
		logger.ExitMethodWithError("ledgerRepository.ListTransactions", err, "account", account)
		return nil, 0, err
	}

	logger.ExitMethod("ledgerRepository.ListTransactions", "account", account, "count", len(txs), "total", count)
	return txs, count, nil
}

func (r *ledgerRepository) ListByReference(ctx context.Context, reference string) ([]domain.LedgerTransaction, error) {
	logger.EnterMethod("ledgerRepository.ListByReference", "reference", reference)

	query := `SELECT ` + transactionColumns + ` FROM ledger_transactions WHERE reference = $1 ORDER BY seq`
	txs, err := r.query(ctx, query, reference)
	if err != nil {
		logger.ExitMethodWithError("ledgerRepository.ListByReference", err, "reference", reference)
		return nil, err
	}

	logger.ExitMethod("ledgerRepository.ListByReference", "count", len(txs))
	return txs, nil
}

func (r *ledgerRepository) GetSummary(ctx context.Context, account string) (*domain.LedgerSummary, error) {
	logger.EnterMethod("ledgerRepository.GetSummary", "account", account)

	summary := &domain.LedgerSummary{
		Account:      account,
		Balance:      decimal.Zero,
		TotalCredits: decimal.Zero,
		TotalDebits:  decimal.Zero,
	}

	w, err := r.GetWallet(ctx, account)
	switch {
	case err == nil:
		summary.Balance = w.Balance
	case domain.KindOf(err) != domain.KindNotFound:
		logger.ExitMethodWithError("ledgerRepository.GetSummary", err, "account", account)
		return nil, err
	}

	// Polarity lives in the transaction type, so totals are grouped per type.
	rows, err := r.db.QueryContext(ctx, `
		SELECT type, COALESCE(SUM(amount), 0), count(*)
		FROM ledger_transactions WHERE account_id = $1
		GROUP BY type`, account)
	if err != nil {
		logger.ExitMethodWithError("ledgerRepository.GetSummary", err, "account", account)
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var txType domain.TransactionType
		var total decimal.Decimal
		var count int32
		if err := rows.Scan(&txType, &total, &count); err != nil {
			return nil, err
		}
		if txType.IsCredit() {
			summary.TotalCredits = summary.TotalCredits.Add(total)
		} else {
			summary.TotalDebits = summary.TotalDebits.Add(total)
		}
		summary.TransactionCount += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	summary.Net = summary.TotalCredits.Sub(summary.TotalDebits)

	logger.ExitMethod("ledgerRepository.GetSummary", "account", account)
	return summary, nil
}

func (r *ledgerRepository) query(ctx context.Context, query string, args ...any) ([]domain.LedgerTransaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []domain.LedgerTransaction{}
	for rows.Next() {
		var tx domain.LedgerTransaction
		if err := rows.Scan(&tx.ID, &tx.Account, &tx.Type, &tx.Amount, &tx.BalanceBefore, &tx.BalanceAfter,
			&tx.Status, &tx.Reference, &tx.Description, &tx.CreatedAt); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
