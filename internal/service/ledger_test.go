package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cark-backend/internal/domain"
	"cark-backend/internal/service"
)

func TestLedgerService_Postings(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, new(MockGateway))
	account := domain.UserAccount(renterID)

	tx, err := h.ledger.Credit(ctx, service.Posting{Account: account, Amount: dec("50"), Type: domain.TransactionTypeTopUp, Reference: "r1"})
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
	assertAmount(t, "0", tx.BalanceBefore)
	assertAmount(t, "50", tx.BalanceAfter)
	assert.Equal(t, domain.TransactionStatusCompleted, tx.Status)

	tx, err = h.ledger.Debit(ctx, service.Posting{Account: account, Amount: dec("20.5"), Type: domain.TransactionTypeWithdrawal})
	require.NoError(t, err)
	assertAmount(t, "50", tx.BalanceBefore)
	assertAmount(t, "29.5", tx.BalanceAfter)

	t.Run("RejectsBadPostings", func(t *testing.T) {
		tests := []struct {
			name string
			call func() error
			kind domain.ErrorKind
			code string
		}{
			{"ZeroAmount", func() error {
				_, err := h.ledger.Credit(ctx, service.Posting{Account: account, Amount: dec("0"), Type: domain.TransactionTypeTopUp})
				return err
			}, domain.KindInvalidAmount, "INVALID_AMOUNT"},
			{"NegativeAmount", func() error {
				_, err := h.ledger.Debit(ctx, service.Posting{Account: account, Amount: dec("-1"), Type: domain.TransactionTypeWithdrawal})
				return err
			}, domain.KindInvalidAmount, "INVALID_AMOUNT"},
			{"DebitTypeAsCredit", func() error {
				_, err := h.ledger.Credit(ctx, service.Posting{Account: account, Amount: dec("1"), Type: domain.TransactionTypeWithdrawal})
				return err
			}, domain.KindInvalidInput, "INVALID_TRANSACTION_TYPE"},
			{"UnknownType", func() error {
				_, err := h.ledger.Debit(ctx, service.Posting{Account: account, Amount: dec("1"), Type: "bonus"})
				return err
			}, domain.KindInvalidInput, "INVALID_TRANSACTION_TYPE"},
			{"MissingAccount", func() error {
				_, err := h.ledger.Credit(ctx, service.Posting{Amount: dec("1"), Type: domain.TransactionTypeTopUp})
				return err
			}, domain.KindInvalidInput, "ACCOUNT_REQUIRED"},
			{"Overdraw", func() error {
				_, err := h.ledger.Debit(ctx, service.Posting{Account: account, Amount: dec("30"), Type: domain.TransactionTypeWithdrawal})
				return err
			}, domain.KindInsufficientFunds, "INSUFFICIENT_FUNDS"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assertCode(t, tt.call(), tt.kind, tt.code)
			})
		}
		h.assertBalance(t, account, "29.5")
	})

	t.Run("CommissionMayOverdraw", func(t *testing.T) {
		tx, err := h.ledger.Debit(ctx, service.Posting{Account: account, Amount: dec("40"), Type: domain.TransactionTypePlatformCommission})
		require.NoError(t, err)
		assertAmount(t, "-10.5", tx.BalanceAfter)
	})

	assertLedgerPolarity(t, h, account)
}

func TestLedgerService_Transfer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, new(MockGateway))
	from, to := domain.UserAccount(renterID), domain.UserAccount(ownerID)
	h.topUp(t, renterID, "100")

	debit, credit, err := h.ledger.Transfer(ctx, service.TransferRequest{
		From: from, To: to, Amount: dec("60"),
		DebitType: domain.TransactionTypeTransferOut, CreditType: domain.TransactionTypeTransferIn,
		Reference: "gift",
	})
	require.NoError(t, err)
	assertAmount(t, "40", debit.BalanceAfter)
	assertAmount(t, "60", credit.BalanceAfter)
	assert.Equal(t, "gift", credit.Reference)

	t.Run("InsufficientFundsAppliesNeitherLeg", func(t *testing.T) {
		_, _, err := h.ledger.Transfer(ctx, service.TransferRequest{
			From: from, To: to, Amount: dec("41"),
			DebitType: domain.TransactionTypeTransferOut, CreditType: domain.TransactionTypeTransferIn,
		})
		assertCode(t, err, domain.KindInsufficientFunds, "INSUFFICIENT_FUNDS")
		h.assertBalance(t, from, "40")
		h.assertBalance(t, to, "60")
	})

	t.Run("SameAccount", func(t *testing.T) {
		_, _, err := h.ledger.Transfer(ctx, service.TransferRequest{
			From: from, To: from, Amount: dec("1"),
			DebitType: domain.TransactionTypeTransferOut, CreditType: domain.TransactionTypeTransferIn,
		})
		assertCode(t, err, domain.KindInvalidInput, "SAME_ACCOUNT")
	})

	summary, err := h.ledger.GetSummary(ctx, from)
	require.NoError(t, err)
	assertAmount(t, "40", summary.Balance)
	assertAmount(t, "100", summary.TotalCredits)
	assertAmount(t, "60", summary.TotalDebits)
	assertAmount(t, "40", summary.Net)
	assert.Equal(t, int32(2), summary.TransactionCount)
}

func TestLedgerService_ConcurrentDebits(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, new(MockGateway))
	from, to := domain.UserAccount(renterID), domain.UserAccount(ownerID)
	h.topUp(t, renterID, "100")

	// Sixteen debits of 10 race for 100: ten fit.
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		debits []*domain.LedgerTransaction
	)
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var tx *domain.LedgerTransaction
			var err error
			if i%2 == 0 {
				tx, err = h.ledger.Debit(ctx, service.Posting{Account: from, Amount: dec("10"), Type: domain.TransactionTypeWithdrawal})
			} else {
				tx, _, err = h.ledger.Transfer(ctx, service.TransferRequest{
					From: from, To: to, Amount: dec("10"),
					DebitType: domain.TransactionTypeTransferOut, CreditType: domain.TransactionTypeTransferIn,
				})
			}
			errs[i] = err
			if err == nil {
				mu.Lock()
				debits = append(debits, tx)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assertCode(t, err, domain.KindInsufficientFunds, "INSUFFICIENT_FUNDS")
		}
	}
	assert.Equal(t, 6, failed)
	require.Len(t, debits, 10)

	seen := make(map[string]bool)
	for _, tx := range debits {
		before := tx.BalanceBefore.StringFixed(2)
		assert.False(t, seen[before], "balance_before %s read twice", before)
		seen[before] = true
		assertAmount(t, tx.BalanceBefore.Sub(dec("10")).String(), tx.BalanceAfter)
	}
	for _, want := range []string{"100", "90", "80", "70", "60", "50", "40", "30", "20", "10"} {
		assert.True(t, seen[dec(want).StringFixed(2)], "no debit started from %s", want)
	}
	h.assertBalance(t, from, "0")
	assertLedgerPolarity(t, h, from)
}

func TestLedgerService_TopUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, new(MockGateway))

	_, err := h.ledger.TopUp(ctx, renter, renterID, dec("10"), "self")
	assertCode(t, err, domain.KindForbidden, "NOT_ADMIN")

	tx, err := h.ledger.TopUp(ctx, admin, renterID, dec("10"), "promo")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionTypeTopUp, tx.Type)
	h.assertBalance(t, domain.UserAccount(renterID), "10")
}

func TestLedgerService_ListTransactions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, new(MockGateway))
	for _, amount := range []string{"1", "2", "3"} {
		h.topUp(t, renterID, amount)
	}

	txs, total, err := h.ledger.ListTransactions(ctx, domain.UserAccount(renterID), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(3), total)
	require.Len(t, txs, 2)
	assertAmount(t, "3", txs[0].Amount)
	assertAmount(t, "2", txs[1].Amount)

	txs, _, err = h.ledger.ListTransactions(ctx, domain.UserAccount(renterID), 2, 2)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assertAmount(t, "1", txs[0].Amount)

	w, err := h.ledger.GetBalance(ctx, domain.UserAccount(404))
	require.NoError(t, err)
	assertAmount(t, "0", w.Balance)
}
