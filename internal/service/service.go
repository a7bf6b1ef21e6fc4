package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cark-backend/internal/domain"
	"cark-backend/internal/pricing"
	"cark-backend/internal/repository"
)

// Clock returns the current time. Services take one so tests can pin time.
type Clock func() time.Time

func (c Clock) orDefault() Clock {
	if c == nil {
		return time.Now
	}
	return c
}

type LedgerService interface {
	Credit(ctx context.Context, p Posting) (*domain.LedgerTransaction, error)
	Debit(ctx context.Context, p Posting) (*domain.LedgerTransaction, error)
	// Transfer debits From and credits To atomically. Neither leg is applied
	// when the debit fails.
	Transfer(ctx context.Context, req TransferRequest) (*domain.LedgerTransaction, *domain.LedgerTransaction, error)
	GetBalance(ctx context.Context, account string) (*domain.Wallet, error)
	ListTransactions(ctx context.Context, account string, page, pageSize int32) ([]domain.LedgerTransaction, int32, error)
	GetSummary(ctx context.Context, account string) (*domain.LedgerSummary, error)
	TopUp(ctx context.Context, actor domain.Actor, userID int32, amount decimal.Decimal, reference string) (*domain.LedgerTransaction, error)
}

// SettlementCoordinator moves money for payment legs. Every method runs inside
// the caller's unit of work and mutates the leg it is given; the caller saves
// the aggregate.
type SettlementCoordinator interface {
	// Charge collects leg.Amount from the payer. Cash legs stay Pending until a
	// human confirms them. A declined charge leaves the leg Failed and returns
	// a PaymentFailed error.
	Charge(ctx context.Context, tx repository.Tx, req ChargeRequest) error

	// RecordPayment books a payment completed outside the core, such as a
	// hosted checkout.
	RecordPayment(ctx context.Context, tx repository.Tx, p ExternalPayment) error

	ConfirmCash(leg *domain.PaymentLeg, at time.Time) error

	Refund(ctx context.Context, tx repository.Tx, req RefundRequest) error

	// SettleBuffer consumes the buffer against post-trip extra cost, refunds
	// what is left and charges any shortfall on the excess leg.
	SettleBuffer(ctx context.Context, tx repository.Tx, req BufferSettlementRequest) (pricing.BufferSettlement, error)

	// ReleaseEarnings splits a finished rental's revenue between owner and
	// platform. It returns the owner's wallet after the split.
	ReleaseEarnings(ctx context.Context, tx repository.Tx, req EarningsRequest) (*domain.Wallet, error)
}

type RentalService interface {
	Create(ctx context.Context, actor domain.Actor, in CreateRentalInput) (*domain.Rental, error)
	Get(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error)
	CalculateCosts(ctx context.Context, actor domain.Actor, id int32, plannedKm decimal.Decimal, waitingMinutes int) (*domain.Rental, error)
	Confirm(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error)
	StartTrip(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error)
	StopArrival(ctx context.Context, actor domain.Actor, id int32, order int, waitingStartedAt time.Time) (*domain.Rental, error)
	EndWaiting(ctx context.Context, actor domain.Actor, id int32, order int, actualMinutes int, endedAt time.Time) (*domain.Rental, error)
	EndTrip(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error)
	Payout(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error)
	Cancel(ctx context.Context, actor domain.Actor, id int32, reason string) (*domain.Rental, error)
	ConfirmCashReceived(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error)
}

type SelfDriveService interface {
	Create(ctx context.Context, actor domain.Actor, in CreateSelfDriveInput) (*domain.SelfDriveRental, error)
	Get(ctx context.Context, actor domain.Actor, id int32) (*domain.SelfDriveRental, error)
	ConfirmByOwner(ctx context.Context, actor domain.Actor, id int32) (*domain.SelfDriveRental, error)
	DepositPaid(ctx context.Context, actor domain.Actor, id int32, transactionID string) (*domain.SelfDriveRental, error)
	DepositPayment(ctx context.Context, actor domain.Actor, id int32, leg domain.LegName, transactionID string) (*domain.SelfDriveRental, error)
	OwnerPickupHandover(ctx context.Context, actor domain.Actor, id int32, in OwnerPickupInput) (*domain.SelfDriveRental, error)
	RenterPickupHandover(ctx context.Context, actor domain.Actor, id int32, in RenterPickupInput) (*domain.SelfDriveRental, error)
	RenterReturnHandover(ctx context.Context, actor domain.Actor, id int32, in RenterReturnInput) (*domain.SelfDriveRental, error)
	OwnerReturnHandover(ctx context.Context, actor domain.Actor, id int32, in OwnerReturnInput) (*domain.SelfDriveRental, error)
	Cancel(ctx context.Context, actor domain.Actor, id int32, reason string) (*domain.SelfDriveRental, error)
	ConfirmRemainingCashReceived(ctx context.Context, actor domain.Actor, id int32) (*domain.SelfDriveRental, error)
	ConfirmExcessCashReceived(ctx context.Context, actor domain.Actor, id int32) (*domain.SelfDriveRental, error)
	RecalculateInvoice(ctx context.Context, actor domain.Actor, id int32) (*Invoice, error)
	Invoice(ctx context.Context, actor domain.Actor, id int32) (*Invoice, error)
	// ExpireDeposits cancels every DepositRequired rental whose deadline has
	// passed and returns how many were canceled.
	ExpireDeposits(ctx context.Context, now time.Time) (int, error)
}

type StopInput struct {
	Order                 int             `json:"stop_order"`
	Location              domain.Location `json:"location"`
	PlannedWaitingMinutes int             `json:"approx_waiting_time_minutes"`
}

type CreateRentalInput struct {
	CarID         int32                `json:"car_id"`
	StartDate     time.Time            `json:"start_date"`
	EndDate       time.Time            `json:"end_date"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	Pickup        domain.Location      `json:"pickup"`
	Dropoff       domain.Location      `json:"dropoff"`
	PlannedKm     decimal.Decimal      `json:"planned_km"`
	Stops         []StopInput          `json:"stops"`
}

type CreateSelfDriveInput struct {
	CarID         int32                `json:"car_id"`
	StartTime     time.Time            `json:"start_time"`
	EndTime       time.Time            `json:"end_time"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	Pickup        domain.Location      `json:"pickup"`
	Dropoff       domain.Location      `json:"dropoff"`
}

type OwnerPickupInput struct {
	ContractImage string `json:"contract_image"`
	// ConfirmRemainingCash must be true for cash rentals and absent otherwise.
	ConfirmRemainingCash *bool `json:"confirm_remaining_cash,omitempty"`
}

type RenterPickupInput struct {
	CarImage      string              `json:"car_image"`
	OdometerImage string              `json:"odometer_image"`
	OdometerValue decimal.NullDecimal `json:"odometer_value"`
}

type RenterReturnInput struct {
	CarImage      string              `json:"car_image"`
	OdometerImage string              `json:"odometer_image"`
	OdometerValue decimal.NullDecimal `json:"odometer_value"`
	Notes         string              `json:"notes"`
}

type OwnerReturnInput struct {
	Notes             string `json:"notes"`
	ConfirmExcessCash bool   `json:"confirm_excess_cash"`
}

// ExcessDetails explains the post-trip extras of a self-drive rental.
type ExcessDetails struct {
	ExcessAmount          decimal.Decimal `json:"excess_amount"`
	ExtraKm               decimal.Decimal `json:"extra_km"`
	ExtraKmRate           decimal.Decimal `json:"extra_km_cost"`
	ExtraKmFee            decimal.Decimal `json:"extra_km_fee"`
	LateDays              int             `json:"late_days"`
	LateFeePerDay         decimal.Decimal `json:"late_fee_per_day"`
	LateFeeServicePercent int64           `json:"late_fee_service_percent"`
	LateFee               decimal.Decimal `json:"late_fee"`
}

type Invoice struct {
	RentalID      int32                     `json:"rental_id"`
	Status        domain.SelfDriveStatus    `json:"status"`
	PaymentMethod domain.PaymentMethod      `json:"payment_method"`
	Breakdown     domain.SelfDriveBreakdown `json:"breakdown"`
	Payment       domain.SelfDrivePayment   `json:"payment"`
	Excess        ExcessDetails             `json:"excess_details"`
}
