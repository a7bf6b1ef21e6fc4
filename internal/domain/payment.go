package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodWallet PaymentMethod = "wallet"
	PaymentMethodCard   PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodWallet, PaymentMethodCard:
		return true
	}
	return false
}

// IsElectronic reports whether money for this method moves through the
// gateway or the wallet ledger rather than by hand.
func (m PaymentMethod) IsElectronic() bool {
	return m == PaymentMethodWallet || m == PaymentMethodCard
}

type LegName string

const (
	LegDeposit   LegName = "deposit"
	LegRemaining LegName = "remaining"
	LegBuffer    LegName = "buffer"
	LegExcess    LegName = "excess"
)

type LegStatus string

const (
	LegStatusPending           LegStatus = "Pending"
	LegStatusPaid              LegStatus = "Paid"
	LegStatusConfirmed         LegStatus = "Confirmed"
	LegStatusFailed            LegStatus = "Failed"
	LegStatusRefunded          LegStatus = "Refunded"
	LegStatusPartiallyRefunded LegStatus = "Partially Refunded"
	LegStatusNothingToRefund   LegStatus = "No Remaining to Refund"
)

// PaymentLeg is one named payment component of a rental with its own status
// and external transaction id.
type PaymentLeg struct {
	Name                LegName         `json:"name"`
	Amount              decimal.Decimal `json:"amount"`
	Status              LegStatus       `json:"status"`
	PaidAt              *time.Time      `json:"paid_at,omitempty"`
	TransactionID       string          `json:"transaction_id,omitempty"`
	RefundedAmount      decimal.Decimal `json:"refunded_amount"`
	RefundedAt          *time.Time      `json:"refunded_at,omitempty"`
	RefundTransactionID string          `json:"refund_transaction_id,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func NewPaymentLeg(name LegName, amount decimal.Decimal) PaymentLeg {
	return PaymentLeg{Name: name, Amount: amount, Status: LegStatusPending}
}

// Settled reports whether the leg's money has been collected, electronically
// or confirmed in cash.
func (l *PaymentLeg) Settled() bool {
	return l.Status == LegStatusPaid || l.Status == LegStatusConfirmed
}

// Refunded reports whether a refund was already issued against the leg.
func (l *PaymentLeg) Refunded() bool {
	return l.RefundedAt != nil
}

type RentalKind string

const (
	RentalKindChauffeured RentalKind = "chauffeured"
	RentalKindSelfDrive   RentalKind = "selfdrive"
)

// RentalRef identifies a rental of either kind.
type RentalRef struct {
	Kind RentalKind `json:"kind"`
	ID   int32      `json:"id"`
}

func (r RentalRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// LegReference is the ledger reference used for every posting made for a leg.
func (r RentalRef) LegReference(leg LegName) string {
	return fmt.Sprintf("%s:%d:%s", r.Kind, r.ID, leg)
}

// RentalPayment is the deposit/remaining/buffer/excess sub-ledger of a
// chauffeured rental.
type RentalPayment struct {
	Deposit   PaymentLeg `json:"deposit"`
	Remaining PaymentLeg `json:"remaining"`
	Buffer    PaymentLeg `json:"buffer"`
	Excess    PaymentLeg `json:"excess"`
}

func (p *RentalPayment) Legs() []*PaymentLeg {
	return []*PaymentLeg{&p.Deposit, &p.Remaining, &p.Buffer, &p.Excess}
}

// SelfDrivePayment is the deposit/remaining/excess sub-ledger of a
// self-drive rental.
type SelfDrivePayment struct {
	Deposit   PaymentLeg `json:"deposit"`
	Remaining PaymentLeg `json:"remaining"`
	Excess    PaymentLeg `json:"excess"`
}

func (p *SelfDrivePayment) Legs() []*PaymentLeg {
	return []*PaymentLeg{&p.Deposit, &p.Remaining, &p.Excess}
}
