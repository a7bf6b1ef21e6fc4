package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"cark-backend/internal/domain"
	"cark-backend/internal/logger"
	"cark-backend/internal/repository"
)

// Posting is a single credit or debit against one account.
type Posting struct {
	Account     string
	Amount      decimal.Decimal
	Type        domain.TransactionType
	Reference   string
	Description string
}

type TransferRequest struct {
	From        string
	To          string
	Amount      decimal.Decimal
	DebitType   domain.TransactionType
	CreditType  domain.TransactionType
	Reference   string
	Description string
}

type ledgerService struct {
	store repository.Store
	now   Clock
}

func NewLedgerService(store repository.Store, now Clock) LedgerService {
	return &ledgerService{store: store, now: now.orDefault()}
}

func (s *ledgerService) Credit(ctx context.Context, p Posting) (*domain.LedgerTransaction, error) {
	var out *domain.LedgerTransaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = newLedgerBook(tx.Ledger(), s.now).credit(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ledgerService) Debit(ctx context.Context, p Posting) (*domain.LedgerTransaction, error) {
	var out *domain.LedgerTransaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		out, err = newLedgerBook(tx.Ledger(), s.now).debit(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ledgerService) Transfer(ctx context.Context, req TransferRequest) (*domain.LedgerTransaction, *domain.LedgerTransaction, error) {
	var debitTx, creditTx *domain.LedgerTransaction
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		debitTx, creditTx, err = newLedgerBook(tx.Ledger(), s.now).transfer(ctx, req)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return debitTx, creditTx, nil
}

// GetBalance returns the account's wallet. Accounts that never received a
// posting report a zero balance.
func (s *ledgerService) GetBalance(ctx context.Context, account string) (*domain.Wallet, error) {
	var w *domain.Wallet
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		w, err = tx.Ledger().GetWallet(ctx, account)
		if domain.KindOf(err) == domain.KindNotFound {
			w, err = &domain.Wallet{AccountID: account, Balance: decimal.Zero, Floor: decimal.Zero}, nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s *ledgerService) ListTransactions(ctx context.Context, account string, page, pageSize int32) ([]domain.LedgerTransaction, int32, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	var txs []domain.LedgerTransaction
	var total int32
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		txs, total, err = tx.Ledger().ListTransactions(ctx, account, page, pageSize)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

func (s *ledgerService) GetSummary(ctx context.Context, account string) (*domain.LedgerSummary, error) {
	var summary *domain.LedgerSummary
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		summary, err = tx.Ledger().GetSummary(ctx, account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *ledgerService) TopUp(ctx context.Context, actor domain.Actor, userID int32, amount decimal.Decimal, reference string) (*domain.LedgerTransaction, error) {
	if !actor.IsAdmin() && !actor.IsSystem() {
		return nil, domain.NewForbidden("NOT_ADMIN", "only administrators can top up wallets")
	}
	return s.Credit(ctx, Posting{
		Account:     domain.UserAccount(userID),
		Amount:      amount,
		Type:        domain.TransactionTypeTopUp,
		Reference:   reference,
		Description: fmt.Sprintf("wallet top up by %d", actor.UserID),
	})
}

// ledgerBook applies postings inside one unit of work. Wallets are locked on
// first use and cached, so later postings see earlier balances.
type ledgerBook struct {
	repo    repository.LedgerRepository
	now     Clock
	wallets map[string]*domain.Wallet
}

func newLedgerBook(repo repository.LedgerRepository, now Clock) *ledgerBook {
	return &ledgerBook{repo: repo, now: now.orDefault(), wallets: map[string]*domain.Wallet{}}
}

// lockAll locks accounts in ascending account id order. Callers that touch
// several accounts lock the whole set before the first posting.
func (b *ledgerBook) lockAll(ctx context.Context, accounts ...string) error {
	sorted := slices.Clone(accounts)
	slices.Sort(sorted)
	for _, account := range slices.Compact(sorted) {
		if _, err := b.wallet(ctx, account); err != nil {
			return err
		}
	}
	return nil
}

func (b *ledgerBook) wallet(ctx context.Context, account string) (*domain.Wallet, error) {
	if w, ok := b.wallets[account]; ok {
		return w, nil
	}
	w, err := b.repo.LockWallet(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet %s: %w", account, err)
	}
	b.wallets[account] = w
	return w, nil
}

// canDebit reports whether a debit would keep the account at or above its
// floor. The account must already be locked.
func (b *ledgerBook) canDebit(ctx context.Context, account string, amount decimal.Decimal, txType domain.TransactionType) (bool, error) {
	w, err := b.wallet(ctx, account)
	if err != nil {
		return false, err
	}
	return txType.AllowsOverdraft() || !w.Balance.Sub(amount).LessThan(w.Floor), nil
}

func validatePosting(p Posting, credit bool) error {
	if !p.Amount.IsPositive() {
		return domain.NewInvalidAmount(fmt.Sprintf("amount must be positive, got %s", p.Amount))
	}
	if p.Account == "" {
		return domain.NewInvalidInput("ACCOUNT_REQUIRED", "account is required")
	}
	if !p.Type.Valid() || p.Type.IsCredit() != credit {
		return domain.NewInvalidInput("INVALID_TRANSACTION_TYPE", fmt.Sprintf("%q cannot be used for this posting", p.Type))
	}
	return nil
}

func (b *ledgerBook) credit(ctx context.Context, p Posting) (*domain.LedgerTransaction, error) {
	if err := validatePosting(p, true); err != nil {
		return nil, err
	}
	return b.apply(ctx, p)
}

func (b *ledgerBook) debit(ctx context.Context, p Posting) (*domain.LedgerTransaction, error) {
	if err := validatePosting(p, false); err != nil {
		return nil, err
	}
	return b.apply(ctx, p)
}

func (b *ledgerBook) transfer(ctx context.Context, req TransferRequest) (*domain.LedgerTransaction, *domain.LedgerTransaction, error) {
	debit := Posting{Account: req.From, Amount: req.Amount, Type: req.DebitType, Reference: req.Reference, Description: req.Description}
	credit := Posting{Account: req.To, Amount: req.Amount, Type: req.CreditType, Reference: req.Reference, Description: req.Description}
	if err := validatePosting(debit, false); err != nil {
		return nil, nil, err
	}
	if err := validatePosting(credit, true); err != nil {
		return nil, nil, err
	}
	if req.From == req.To {
		return nil, nil, domain.NewInvalidInput("SAME_ACCOUNT", "cannot transfer to the same account")
	}
	if err := b.lockAll(ctx, req.From, req.To); err != nil {
		return nil, nil, err
	}

	debitTx, err := b.apply(ctx, debit)
	if err != nil {
		return nil, nil, err
	}
	creditTx, err := b.apply(ctx, credit)
	if err != nil {
		return nil, nil, err
	}
	return debitTx, creditTx, nil
}

func (b *ledgerBook) apply(ctx context.Context, p Posting) (*domain.LedgerTransaction, error) {
	w, err := b.wallet(ctx, p.Account)
	if err != nil {
		return nil, err
	}

	before := w.Balance
	after := before.Add(p.Amount)
	if !p.Type.IsCredit() {
		after = before.Sub(p.Amount)
		if after.LessThan(w.Floor) && !p.Type.AllowsOverdraft() {
			return nil, domain.NewInsufficientFunds(p.Account)
		}
	}

	now := b.now()
	updated := *w
	updated.Balance = after
	updated.UpdatedAt = now
	if err := b.repo.UpdateBalance(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update balance of %s: %w", p.Account, err)
	}

	tx := &domain.LedgerTransaction{
		Account:       p.Account,
		Type:          p.Type,
		Amount:        p.Amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        domain.TransactionStatusCompleted,
		Reference:     p.Reference,
		Description:   p.Description,
		CreatedAt:     now,
	}
	if err := b.repo.AppendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to record %s on %s: %w", p.Type, p.Account, err)
	}
	*w = updated

	logger.LedgerPosting(p.Account, string(p.Type), p.Amount.String(), after.String(), p.Reference)
	return tx, nil
}
