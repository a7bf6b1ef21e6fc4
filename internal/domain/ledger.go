package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountPlatformEscrow  = "platform:escrow"
	AccountPlatformRevenue = "platform:revenue"
)

// UserAccount is the ledger account id of a user's wallet.
func UserAccount(userID int32) string {
	return fmt.Sprintf("user:%d", userID)
}

type Wallet struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	Floor     decimal.Decimal `json:"floor"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type TransactionType string

const (
	TransactionTypeTopUp              TransactionType = "wallet_top_up"
	TransactionTypeWithdrawal         TransactionType = "wallet_withdrawal"
	TransactionTypeTransferIn         TransactionType = "transfer_in"
	TransactionTypeTransferOut        TransactionType = "transfer_out"
	TransactionTypeRentalPayment      TransactionType = "rental_payment"
	TransactionTypeEscrowHold         TransactionType = "escrow_hold"
	TransactionTypeExternalCharge     TransactionType = "external_charge"
	TransactionTypeRentalRefund       TransactionType = "rental_refund"
	TransactionTypeEscrowRelease      TransactionType = "escrow_release"
	TransactionTypeExternalRefund     TransactionType = "external_refund"
	TransactionTypeOwnerEarnings      TransactionType = "owner_earnings"
	TransactionTypePlatformCommission TransactionType = "platform_commission"
	TransactionTypePlatformRevenue    TransactionType = "platform_revenue"
	TransactionTypeAdjustment         TransactionType = "adjustment"
)

type transactionPolicy struct {
	credit    bool
	overdraft bool
}

var transactionPolicies = map[TransactionType]transactionPolicy{
	TransactionTypeTopUp:              {credit: true},
	TransactionTypeWithdrawal:         {},
	TransactionTypeTransferIn:         {credit: true},
	TransactionTypeTransferOut:        {},
	TransactionTypeRentalPayment:      {},
	TransactionTypeEscrowHold:         {credit: true},
	TransactionTypeExternalCharge:     {credit: true},
	TransactionTypeRentalRefund:       {credit: true},
	TransactionTypeEscrowRelease:      {},
	TransactionTypeExternalRefund:     {},
	TransactionTypeOwnerEarnings:      {credit: true},
	TransactionTypePlatformCommission: {overdraft: true},
	TransactionTypePlatformRevenue:    {credit: true},
	TransactionTypeAdjustment:         {credit: true},
}

func (t TransactionType) Valid() bool {
	_, ok := transactionPolicies[t]
	return ok
}

// IsCredit is the polarity of the type: credits add to the balance, debits
// subtract.
func (t TransactionType) IsCredit() bool {
	return transactionPolicies[t].credit
}

// AllowsOverdraft reports whether a debit of this type may take the balance
// below the account floor.
func (t TransactionType) AllowsOverdraft() bool {
	return transactionPolicies[t].overdraft
}

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
)

// LedgerTransaction is immutable once written. BalanceAfter is computed at
// write time and never recalculated.
type LedgerTransaction struct {
	ID            string            `json:"id"`
	Account       string            `json:"account"`
	Type          TransactionType   `json:"type"`
	Amount        decimal.Decimal   `json:"amount"`
	BalanceBefore decimal.Decimal   `json:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after"`
	Status        TransactionStatus `json:"status"`
	Reference     string            `json:"reference"`
	Description   string            `json:"description"`
	CreatedAt     time.Time         `json:"created_at"`
}

type LedgerSummary struct {
	Account          string          `json:"account"`
	Balance          decimal.Decimal `json:"balance"`
	TotalCredits     decimal.Decimal `json:"total_credits"`
	TotalDebits      decimal.Decimal `json:"total_debits"`
	Net              decimal.Decimal `json:"net"`
	TransactionCount int32           `json:"transaction_count"`
}
