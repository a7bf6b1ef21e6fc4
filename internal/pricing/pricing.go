package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cark-backend/internal/domain"
)

var (
	minutesPerHour = decimal.NewFromInt(60)
	one            = decimal.NewFromInt(1)
)

const secondsPerDay = 86400

// Policy holds every rate the calculator applies. Rates are fractions, so
// 0.25 means 25%.
type Policy struct {
	ChauffeuredCommission decimal.Decimal
	SelfDriveCommission   decimal.Decimal
	BufferRate            decimal.Decimal
	DepositRate           decimal.Decimal
	CTWRate               decimal.Decimal
	DiscountPerDay        decimal.Decimal
	MaxDiscountDays       int
	LateSurcharge         decimal.Decimal

	// DepositWindow is how long a renter has to pay the self-drive deposit
	// after the owner confirms.
	DepositWindow time.Duration
	// OwnerSoftFloor gates owner confirmations; it never blocks a debit.
	OwnerSoftFloor decimal.Decimal
}

func DefaultPolicy() Policy {
	return Policy{
		ChauffeuredCommission: decimal.RequireFromString("0.10"),
		SelfDriveCommission:   decimal.RequireFromString("0.20"),
		BufferRate:            decimal.RequireFromString("0.25"),
		DepositRate:           decimal.RequireFromString("0.15"),
		CTWRate:               decimal.RequireFromString("0.30"),
		DiscountPerDay:        decimal.RequireFromString("0.015"),
		MaxDiscountDays:       15,
		LateSurcharge:         decimal.RequireFromString("0.30"),
		DepositWindow:         24 * time.Hour,
		OwnerSoftFloor:        decimal.NewFromInt(-1000),
	}
}

// Calculator turns trip parameters into cost breakdowns. It has no state
// beyond its policy and performs no I/O.
type Calculator struct {
	policy Policy
}

func NewCalculator(policy Policy) *Calculator {
	return &Calculator{policy: policy}
}

func (c *Calculator) Policy() Policy {
	return c.policy
}

// clamp returns zero for negative values.
func clamp(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// InclusiveDays counts calendar days from start to end, both included.
func InclusiveDays(start, end time.Time) (int, error) {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if e.Before(s) {
		return 0, fmt.Errorf("end date must be >= start date")
	}
	return int(e.Sub(s).Hours()/24) + 1, nil
}

// WaitingCost prices waiting minutes at an hourly rate. The per-minute
// division is the only inexact step, so the result is rounded to cents here.
func WaitingCost(minutes int, hourRate decimal.Decimal) decimal.Decimal {
	if minutes <= 0 {
		return decimal.Zero
	}
	return clamp(hourRate).Mul(decimal.NewFromInt(int64(minutes))).DivRound(minutesPerHour, 2)
}

type ChauffeuredInput struct {
	StartDate      time.Time
	EndDate        time.Time
	PlannedKm      decimal.Decimal
	WaitingMinutes int
	Method         domain.PaymentMethod
	Prices         domain.PriceSnapshot
}

// Chauffeured computes the pre-trip quote of a chauffeured rental.
func (c *Calculator) Chauffeured(in ChauffeuredInput) (domain.RentalBreakdown, error) {
	days, err := InclusiveDays(in.StartDate, in.EndDate)
	if err != nil {
		return domain.RentalBreakdown{}, err
	}
	d := decimal.NewFromInt(int64(days))
	plannedKm := clamp(in.PlannedKm)

	allowedKm := d.Mul(clamp(in.Prices.DailyKmLimit))
	extraKm := clamp(plannedKm.Sub(allowedKm))
	extraKmCost := extraKm.Mul(clamp(in.Prices.ExtraKmRate))
	waitingMinutes := max(in.WaitingMinutes, 0)
	waitingCost := WaitingCost(waitingMinutes, in.Prices.ExtraHourRate)
	baseCost := d.Mul(clamp(in.Prices.DailyPrice))
	subtotal := baseCost.Add(extraKmCost).Add(waitingCost)

	buffer := decimal.Zero
	deposit := decimal.Zero
	if in.Method.IsElectronic() {
		buffer = subtotal.Mul(c.policy.BufferRate)
	}
	finalCost := subtotal.Add(buffer)
	if in.Method.IsElectronic() {
		deposit = finalCost.Mul(c.policy.DepositRate)
	}
	platformFee := subtotal.Mul(c.policy.ChauffeuredCommission)

	return domain.RentalBreakdown{
		DurationDays:          days,
		AllowedKm:             allowedKm,
		PlannedKm:             plannedKm,
		ExtraKm:               extraKm,
		ExtraKmCost:           extraKmCost,
		PlannedWaitingMinutes: waitingMinutes,
		WaitingCost:           waitingCost,
		BaseCost:              baseCost,
		Subtotal:              subtotal,
		Buffer:                buffer,
		FinalCost:             finalCost,
		Deposit:               deposit,
		Remaining:             finalCost.Sub(deposit),
		CommissionRate:        c.policy.ChauffeuredCommission,
		PlatformFee:           platformFee,
		DriverEarnings:        subtotal.Sub(platformFee),
		ExtraCost:             decimal.Zero,
		ActualTotal:           decimal.Zero,
		BufferUsed:            decimal.Zero,
		BufferRefund:          decimal.Zero,
		Shortfall:             decimal.Zero,
	}, nil
}

// ExtraWaiting compares planned and actual waiting. extraMinutes may be
// negative; the cost is computed on the clamped value.
func ExtraWaiting(plannedMinutes, actualMinutes int, hourRate decimal.Decimal) (int, decimal.Decimal) {
	extra := actualMinutes - plannedMinutes
	return extra, WaitingCost(extra, hourRate)
}

type BufferOutcome string

const (
	BufferFullRefund    BufferOutcome = "full_refund"
	BufferPartialRefund BufferOutcome = "partial_refund"
	BufferNoRefund      BufferOutcome = "no_refund"
)

// BufferSettlement is the result of consuming the buffer against post-trip
// excess.
type BufferSettlement struct {
	Buffer    decimal.Decimal
	ExtraCost decimal.Decimal
	Used      decimal.Decimal
	Refund    decimal.Decimal
	Shortfall decimal.Decimal
	Outcome   BufferOutcome
}

// SettleBuffer consumes the buffer first; only what the buffer cannot cover
// is owed as new excess.
func SettleBuffer(buffer, extraCost decimal.Decimal) BufferSettlement {
	buffer = clamp(buffer)
	extraCost = clamp(extraCost)
	s := BufferSettlement{Buffer: buffer, ExtraCost: extraCost}
	switch {
	case extraCost.IsZero():
		s.Used = decimal.Zero
		s.Refund = buffer
		s.Shortfall = decimal.Zero
		s.Outcome = BufferFullRefund
	case extraCost.LessThan(buffer):
		s.Used = extraCost
		s.Refund = buffer.Sub(extraCost)
		s.Shortfall = decimal.Zero
		s.Outcome = BufferPartialRefund
	default:
		s.Used = buffer
		s.Refund = decimal.Zero
		s.Shortfall = extraCost.Sub(buffer)
		s.Outcome = BufferNoRefund
	}
	return s
}

// DiscountRate is the multi-day discount: DiscountPerDay for every day past
// the first, capped at MaxDiscountDays.
func (c *Calculator) DiscountRate(days int) decimal.Decimal {
	n := min(days-1, c.policy.MaxDiscountDays)
	if n <= 0 {
		return decimal.Zero
	}
	return c.policy.DiscountPerDay.Mul(decimal.NewFromInt(int64(n)))
}

type SelfDriveInput struct {
	StartTime time.Time
	EndTime   time.Time
	Prices    domain.PriceSnapshot
}

// SelfDrive computes the booking quote of a self-drive rental: discounted
// base plus CTW fee, split into deposit and remaining.
func (c *Calculator) SelfDrive(in SelfDriveInput) (domain.SelfDriveBreakdown, error) {
	days, err := InclusiveDays(in.StartTime, in.EndTime)
	if err != nil {
		return domain.SelfDriveBreakdown{}, err
	}
	d := decimal.NewFromInt(int64(days))
	daily := clamp(in.Prices.DailyPrice)

	before := daily.Mul(d)
	discount := c.DiscountRate(days)
	base := before.Mul(one.Sub(discount))
	ctw := base.Mul(c.policy.CTWRate)
	initial := base.Add(ctw)
	deposit := initial.Mul(c.policy.DepositRate)
	platform := initial.Mul(c.policy.SelfDriveCommission)

	return domain.SelfDriveBreakdown{
		Days:             days,
		DailyPrice:       daily,
		BaseBeforeDisc:   before,
		DiscountRate:     discount,
		BaseCost:         base,
		CTWFee:           ctw,
		InitialCost:      initial,
		Deposit:          deposit,
		Remaining:        initial.Sub(deposit),
		AllowedKm:        d.Mul(clamp(in.Prices.DailyKmLimit)),
		KmUsed:           decimal.Zero,
		ExtraKm:          decimal.Zero,
		ExtraKmFee:       decimal.Zero,
		LateFee:          decimal.Zero,
		TotalExtras:      decimal.Zero,
		FinalCost:        initial,
		CommissionRate:   c.policy.SelfDriveCommission,
		PlatformEarnings: platform,
		OwnerEarnings:    initial.Sub(platform),
	}, nil
}

// LateFee charges every started day past the scheduled end at the daily
// price plus the late surcharge.
func (c *Calculator) LateFee(scheduledEnd, actual time.Time, dailyPrice decimal.Decimal) (int, decimal.Decimal) {
	overage := int64(actual.Sub(scheduledEnd) / time.Second)
	if overage <= 0 {
		return 0, decimal.Zero
	}
	days := (overage + secondsPerDay - 1) / secondsPerDay
	fee := clamp(dailyPrice).Mul(one.Add(c.policy.LateSurcharge)).Mul(decimal.NewFromInt(days))
	return int(days), fee
}

type SelfDriveSettlementInput struct {
	Quote         domain.SelfDriveBreakdown
	ScheduledEnd  time.Time
	ActualDropoff time.Time
	StartOdometer decimal.Decimal
	EndOdometer   decimal.Decimal
	ExtraKmRate   decimal.Decimal
}

// SelfDriveSettlement recomputes the breakdown from recorded odometers and
// the drop-off time. The booking quote fields are carried over unchanged.
func (c *Calculator) SelfDriveSettlement(in SelfDriveSettlementInput) domain.SelfDriveBreakdown {
	b := in.Quote
	b.KmUsed = clamp(in.EndOdometer.Sub(in.StartOdometer))
	b.ExtraKm = clamp(b.KmUsed.Sub(b.AllowedKm))
	b.ExtraKmFee = b.ExtraKm.Mul(clamp(in.ExtraKmRate))
	b.LateDays, b.LateFee = c.LateFee(in.ScheduledEnd, in.ActualDropoff, b.DailyPrice)
	b.TotalExtras = b.ExtraKmFee.Add(b.LateFee)
	b.FinalCost = b.InitialCost.Add(b.TotalExtras)
	b.CommissionRate = c.policy.SelfDriveCommission
	b.PlatformEarnings = b.FinalCost.Mul(c.policy.SelfDriveCommission)
	b.OwnerEarnings = b.FinalCost.Sub(b.PlatformEarnings)
	return b
}
