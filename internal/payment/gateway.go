package payment

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cark-backend/internal/domain"
)

// Gateway is the external charge/refund capability.
// Implementations make a single synchronous attempt per call and never retry.
// A declined charge is reported as Result.Success == false with a nil error;
// a non-nil error means the gateway could not be reached at all.
type Gateway interface {
	// Charge collects amount from the payer using method.
	// Reference identifies the rental leg being paid (e.g. "selfdrive:12:deposit").
	Charge(ctx context.Context, req ChargeRequest) (*Result, error)

	// Refund returns amount to the payer. OriginalTransactionID is the charge
	// being refunded, when known.
	Refund(ctx context.Context, req RefundRequest) (*Result, error)
}

type ChargeRequest struct {
	PayerID   int32
	Amount    decimal.Decimal
	Method    domain.PaymentMethod
	Reference string
}

type RefundRequest struct {
	PayerID               int32
	Amount                decimal.Decimal
	Method                domain.PaymentMethod
	Reference             string
	OriginalTransactionID string
}

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusDeclined  Status = "declined"
)

// Result is everything the core reads from a gateway response.
type Result struct {
	Success       bool
	TransactionID string
	Message       string
	Status        Status
	ProcessedAt   time.Time
}
