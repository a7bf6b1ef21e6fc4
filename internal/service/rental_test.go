package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cark-backend/internal/domain"
	"cark-backend/internal/payment"
	"cark-backend/internal/service"
)

var (
	tripStart = time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	tripEnd   = time.Date(2026, 11, 4, 18, 0, 0, 0, time.UTC)
)

func rentalInput(method domain.PaymentMethod, stops ...service.StopInput) service.CreateRentalInput {
	return service.CreateRentalInput{
		CarID:         carID,
		StartDate:     tripStart,
		EndDate:       tripEnd,
		PaymentMethod: method,
		PlannedKm:     dec("150"),
		Stops:         stops,
	}
}

func createRental(t *testing.T, h *harness, method domain.PaymentMethod, stops ...service.StopInput) *domain.Rental {
	t.Helper()
	rt, err := h.rentals.Create(context.Background(), renter, rentalInput(method, stops...))
	require.NoError(t, err)
	return rt
}

// driveTrip confirms and starts the rental, then walks every stop with the
// given actual waiting minutes.
func driveTrip(t *testing.T, h *harness, id int32, waiting ...int) {
	t.Helper()
	ctx := context.Background()
	_, err := h.rentals.Confirm(ctx, owner, id)
	require.NoError(t, err)
	_, err = h.rentals.StartTrip(ctx, owner, id)
	require.NoError(t, err)
	for i, minutes := range waiting {
		_, err = h.rentals.StopArrival(ctx, owner, id, i+1, time.Time{})
		require.NoError(t, err)
		_, err = h.rentals.EndWaiting(ctx, owner, id, i+1, minutes, time.Time{})
		require.NoError(t, err)
	}
}

func TestRentalService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("CashQuote", func(t *testing.T) {
		h := newHarness(t, new(MockGateway))
		rt := createRental(t, h, domain.PaymentMethodCash)

		assert.Equal(t, domain.RentalStatusPending, rt.Status)
		assert.Equal(t, ownerID, rt.OwnerID)
		assertAmount(t, "300", rt.Breakdown.BaseCost)
		assertAmount(t, "0", rt.Breakdown.Deposit)
		assertAmount(t, "300", rt.Breakdown.Remaining)
		assertAmount(t, "300", rt.Breakdown.FinalCost)
		assertAmount(t, "300", rt.Payment.Remaining.Amount)
		assert.True(t, rt.HasLog("create_rental"))
		assertRentalHistory(t, rt, domain.RentalStatusPending)
		assert.Contains(t, h.publisher.types(), domain.EventRentalCreated)
	})

	t.Run("WalletQuote", func(t *testing.T) {
		h := newHarness(t, new(MockGateway))
		rt := createRental(t, h, domain.PaymentMethodWallet)

		b := rt.Breakdown
		assertAmount(t, "300", b.Subtotal)
		assertAmount(t, "75", b.Buffer)
		assertAmount(t, "375", b.FinalCost)
		assertAmount(t, "56.25", b.Deposit)
		assertAmount(t, "318.75", b.Remaining)
		assertAmount(t, "375", rt.Payment.Deposit.Amount.Add(rt.Payment.Remaining.Amount))
		assertAmount(t, "75", rt.Payment.Buffer.Amount)
		assertAmount(t, "0", rt.Payment.Excess.Amount)
	})

	t.Run("Validation", func(t *testing.T) {
		h := newHarness(t, new(MockGateway))
		tests := []struct {
			name  string
			actor domain.Actor
			in    service.CreateRentalInput
			kind  domain.ErrorKind
			code  string
		}{
			{"OwnCar", owner, rentalInput(domain.PaymentMethodCash), domain.KindGuardViolation, "OWN_CAR"},
			{"UnknownMethod", renter, rentalInput("bitcoin"), domain.KindInvalidInput, "INVALID_PAYMENT_METHOD"},
			{"EndBeforeStart", renter, func() service.CreateRentalInput {
				in := rentalInput(domain.PaymentMethodCash)
				in.EndDate = tripStart.AddDate(0, 0, -1)
				return in
			}(), domain.KindInvalidInput, "INVALID_DATES"},
			{"StopGap", renter, rentalInput(domain.PaymentMethodCash, service.StopInput{Order: 2}), domain.KindInvalidInput, "INVALID_STOP_ORDER"},
			{"UnknownCar", renter, func() service.CreateRentalInput {
				in := rentalInput(domain.PaymentMethodCash)
				in.CarID = 404
				return in
			}(), domain.KindNotFound, "NOT_FOUND"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := h.rentals.Create(ctx, tt.actor, tt.in)
				assertCode(t, err, tt.kind, tt.code)
			})
		}
	})
}

func TestRentalService_CalculateCosts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, new(MockGateway).approveAll())
	h.topUp(t, renterID, "1000")
	rt := createRental(t, h, domain.PaymentMethodCard)

	t.Run("RecomputesQuoteAndLegs", func(t *testing.T) {
		// 100 km over the 600 km allowance at 1.5, one hour of waiting at 10.
		got, err := h.rentals.CalculateCosts(ctx, renter, rt.ID, dec("700"), 60)
		require.NoError(t, err)

		b := got.Breakdown
		assertAmount(t, "150", b.ExtraKmCost)
		assertAmount(t, "10", b.WaitingCost)
		assertAmount(t, "460", b.Subtotal)
		assertAmount(t, "115", b.Buffer)
		assertAmount(t, "575", b.FinalCost)
		assert.Equal(t, 60, b.PlannedWaitingMinutes)
		assertAmount(t, "86.25", got.Payment.Deposit.Amount)
		assertAmount(t, "488.75", got.Payment.Remaining.Amount)
		assertAmount(t, "115", got.Payment.Buffer.Amount)
		assert.True(t, got.HasLog("calculate_costs"))
	})

	t.Run("OnlyWhilePending", func(t *testing.T) {
		_, err := h.rentals.Confirm(ctx, owner, rt.ID)
		require.NoError(t, err)

		_, err = h.rentals.CalculateCosts(ctx, renter, rt.ID, dec("100"), 0)
		assertCode(t, err, domain.KindGuardViolation, "INVALID_STATUS")
	})

	t.Run("Outsider", func(t *testing.T) {
		_, err := h.rentals.CalculateCosts(ctx, domain.Actor{UserID: 77}, rt.ID, dec("100"), 0)
		assertCode(t, err, domain.KindForbidden, "NOT_PARTICIPANT")
	})
}

func TestRentalService_WalletLifecycleWithShortfall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, new(MockGateway).approveAll())
	h.topUp(t, renterID, "1000")
	rt := createRental(t, h, domain.PaymentMethodWallet, service.StopInput{Order: 1})

	confirmed, err := h.rentals.Confirm(ctx, owner, rt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RentalStatusConfirmed, confirmed.Status)
	assert.Equal(t, domain.LegStatusPaid, confirmed.Payment.Deposit.Status)
	h.assertBalance(t, domain.UserAccount(renterID), "943.75")
	h.assertBalance(t, domain.AccountPlatformEscrow, "56.25")

	started, err := h.rentals.StartTrip(ctx, owner, rt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RentalStatusOngoing, started.Status)
	assert.Equal(t, domain.LegStatusPaid, started.Payment.Remaining.Status)
	assert.Equal(t, domain.LegStatusPaid, started.Payment.Buffer.Status)
	h.assertBalance(t, domain.UserAccount(renterID), "625")
	h.assertBalance(t, domain.AccountPlatformEscrow, "375")

	_, err = h.rentals.StopArrival(ctx, owner, rt.ID, 1, time.Time{})
	require.NoError(t, err)
	_, err = h.rentals.EndWaiting(ctx, owner, rt.ID, 1, 600, time.Time{})
	require.NoError(t, err)

	// Ten hours of unplanned waiting cost 100; the buffer covers 75.
	ended, err := h.rentals.EndTrip(ctx, owner, rt.ID)
	require.NoError(t, err)
	b := ended.Breakdown
	assert.Equal(t, domain.RentalStatusFinished, ended.Status)
	assert.Equal(t, 600, b.ExtraWaitingMinutes)
	assertAmount(t, "100", b.ExtraCost)
	assertAmount(t, "75", b.BufferUsed)
	assertAmount(t, "0", b.BufferRefund)
	assertAmount(t, "25", b.Shortfall)
	assertAmount(t, "400", b.ActualTotal)
	assertAmount(t, "25", ended.Payment.Excess.Amount)
	assert.Equal(t, domain.LegStatusPaid, ended.Payment.Excess.Status)
	assert.Equal(t, domain.LegStatusNothingToRefund, ended.Payment.Buffer.Status)
	h.assertBalance(t, domain.UserAccount(renterID), "600")
	h.assertBalance(t, domain.AccountPlatformEscrow, "400")

	paid, err := h.rentals.Payout(ctx, owner, rt.ID)
	require.NoError(t, err)
	require.NotNil(t, paid.PayoutAt)
	assert.True(t, paid.HasLog("payout"))
	h.assertBalance(t, domain.UserAccount(ownerID), "370")
	h.assertBalance(t, domain.AccountPlatformRevenue, "30")
	h.assertBalance(t, domain.AccountPlatformEscrow, "0")

	_, err = h.rentals.Payout(ctx, owner, rt.ID)
	assertCode(t, err, domain.KindAlreadyDone, "ALREADY_PAID_OUT")

	final, err := h.rentals.Get(ctx, renter, rt.ID)
	require.NoError(t, err)
	assertRentalHistory(t, final,
		domain.RentalStatusPending, domain.RentalStatusConfirmed, domain.RentalStatusOngoing, domain.RentalStatusFinished)
	assertLedgerPolarity(t, h, domain.UserAccount(renterID), domain.UserAccount(ownerID),
		domain.AccountPlatformEscrow, domain.AccountPlatformRevenue)
	assert.Subset(t, h.publisher.types(), []domain.EventType{
		domain.EventRentalConfirmed, domain.EventTripStarted, domain.EventStopArrived,
		domain.EventWaitingEnded, domain.EventTripEnded, domain.EventPayoutProcessed,
	})
}

func TestRentalService_CardLifecycleWithBufferRefund(t *testing.T) {
	ctx := context.Background()
	gw := new(MockGateway).approveAll()
	h := newHarness(t, gw)
	rt := createRental(t, h, domain.PaymentMethodCard, service.StopInput{Order: 1, PlannedWaitingMinutes: 60})

	// 90 minutes against 60 planned cost 5 extra; 72.5 of the 77.5 buffer
	// goes back.
	driveTrip(t, h, rt.ID, 90)
	h.assertBalance(t, domain.AccountPlatformEscrow, "387.5")

	ended, err := h.rentals.EndTrip(ctx, owner, rt.ID)
	require.NoError(t, err)
	b := ended.Breakdown
	assertAmount(t, "310", b.Subtotal)
	assertAmount(t, "5", b.ExtraCost)
	assertAmount(t, "72.5", b.BufferRefund)
	assertAmount(t, "315", b.ActualTotal)
	assert.Equal(t, domain.LegStatusPartiallyRefunded, ended.Payment.Buffer.Status)
	assertAmount(t, "72.5", ended.Payment.Buffer.RefundedAmount)
	assert.Equal(t, "TX-REFUND", ended.Payment.Buffer.RefundTransactionID)
	gw.AssertCalled(t, "Refund", mock.Anything, mock.MatchedBy(func(req payment.RefundRequest) bool {
		return req.Amount.Equal(dec("72.5")) && req.OriginalTransactionID == "TX-CHARGE"
	}))
	h.assertBalance(t, domain.AccountPlatformEscrow, "315")

	_, err = h.rentals.Payout(ctx, owner, rt.ID)
	require.NoError(t, err)
	h.assertBalance(t, domain.UserAccount(ownerID), "284")
	h.assertBalance(t, domain.AccountPlatformRevenue, "31")
	h.assertBalance(t, domain.AccountPlatformEscrow, "0")
}

func TestRentalService_CashLifecycle(t *testing.T) {
	ctx := context.Background()
	// The gateway has no expectations: a cash rental must never reach it.
	gw := new(MockGateway)
	h := newHarness(t, gw)
	rt := createRental(t, h, domain.PaymentMethodCash)

	driveTrip(t, h, rt.ID)
	_, err := h.rentals.ConfirmCashReceived(ctx, owner, rt.ID)
	assertCode(t, err, domain.KindGuardViolation, "INVALID_STATUS")

	ended, err := h.rentals.EndTrip(ctx, owner, rt.ID)
	require.NoError(t, err)
	assertAmount(t, "300", ended.Breakdown.ActualTotal)
	assert.Equal(t, domain.LegStatusPending, ended.Payment.Remaining.Status)

	confirmed, err := h.rentals.ConfirmCashReceived(ctx, owner, rt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LegStatusConfirmed, confirmed.Payment.Remaining.Status)

	_, err = h.rentals.ConfirmCashReceived(ctx, owner, rt.ID)
	assertCode(t, err, domain.KindAlreadyDone, "ALREADY_CONFIRMED")

	// The commission comes out of the owner's wallet.
	_, err = h.rentals.Payout(ctx, owner, rt.ID)
	require.NoError(t, err)
	h.assertBalance(t, domain.UserAccount(ownerID), "-30")
	h.assertBalance(t, domain.AccountPlatformRevenue, "30")
	h.assertBalance(t, domain.AccountPlatformEscrow, "0")
	gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
}

func TestRentalService_PaymentDeclines(t *testing.T) {
	ctx := context.Background()

	t.Run("DepositDeclinedKeepsPending", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("Charge", mock.Anything, chargeFor(domain.LegDeposit)).Return(declined(), nil).Once()
		gw.approveAll()
		h := newHarness(t, gw)
		rt := createRental(t, h, domain.PaymentMethodCard)

		_, err := h.rentals.Confirm(ctx, owner, rt.ID)
		assertCode(t, err, domain.KindPaymentFailed, "PAYMENT_FAILED")
		assert.ErrorIs(t, err, domain.ErrPaymentFailed)

		got, err := h.rentals.Get(ctx, owner, rt.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RentalStatusPending, got.Status)
		assert.Equal(t, domain.LegStatusFailed, got.Payment.Deposit.Status)
		assert.True(t, got.HasLog("deposit_payment_failed"))
		assert.Contains(t, h.publisher.types(), domain.EventPaymentFailed)
		h.assertBalance(t, domain.AccountPlatformEscrow, "0")

		// A retry charges again.
		got, err = h.rentals.Confirm(ctx, owner, rt.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RentalStatusConfirmed, got.Status)
		assert.Equal(t, domain.LegStatusPaid, got.Payment.Deposit.Status)
	})

	t.Run("RemainingDeclinedKeepsConfirmed", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("Charge", mock.Anything, chargeFor(domain.LegRemaining)).Return(declined(), nil).Once()
		gw.approveAll()
		h := newHarness(t, gw)
		rt := createRental(t, h, domain.PaymentMethodCard)
		_, err := h.rentals.Confirm(ctx, owner, rt.ID)
		require.NoError(t, err)

		_, err = h.rentals.StartTrip(ctx, owner, rt.ID)
		assertCode(t, err, domain.KindPaymentFailed, "PAYMENT_FAILED")

		got, err := h.rentals.Get(ctx, owner, rt.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RentalStatusConfirmed, got.Status)
		assert.Equal(t, domain.LegStatusFailed, got.Payment.Remaining.Status)
		assert.Equal(t, domain.LegStatusPending, got.Payment.Buffer.Status)
		h.assertBalance(t, domain.AccountPlatformEscrow, "56.25")
	})

	t.Run("BufferRefundDeclinedKeepsOngoing", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("Refund", mock.Anything, mock.Anything).Return(declined(), nil).Once()
		gw.approveAll()
		h := newHarness(t, gw)
		rt := createRental(t, h, domain.PaymentMethodCard, service.StopInput{Order: 1, PlannedWaitingMinutes: 60})
		driveTrip(t, h, rt.ID, 90)

		_, err := h.rentals.EndTrip(ctx, owner, rt.ID)
		assertCode(t, err, domain.KindPaymentFailed, "REFUND_FAILED")

		got, err := h.rentals.Get(ctx, owner, rt.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RentalStatusOngoing, got.Status)
		assert.Equal(t, domain.LegStatusPaid, got.Payment.Buffer.Status)
		assert.True(t, got.HasLog("buffer_refund_failed"))
		assert.False(t, got.HasLog("excess_payment_failed"))
		assert.Equal(t, []string{string(domain.LegBuffer)}, h.publisher.failedLegs())
		h.assertBalance(t, domain.AccountPlatformEscrow, "387.5")

		ended, err := h.rentals.EndTrip(ctx, owner, rt.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LegStatusPartiallyRefunded, ended.Payment.Buffer.Status)
		h.assertBalance(t, domain.AccountPlatformEscrow, "315")
	})

	t.Run("GatewayUnreachableRollsBack", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("Charge", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))
		h := newHarness(t, gw)
		rt := createRental(t, h, domain.PaymentMethodCard)

		_, err := h.rentals.Confirm(ctx, owner, rt.ID)
		require.Error(t, err)
		assert.Empty(t, domain.KindOf(err))

		got, err := h.rentals.Get(ctx, owner, rt.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LegStatusPending, got.Payment.Deposit.Status)
	})

	t.Run("InsufficientWalletFunds", func(t *testing.T) {
		gw := new(MockGateway)
		h := newHarness(t, gw)
		h.topUp(t, renterID, "10")
		rt := createRental(t, h, domain.PaymentMethodWallet)

		_, err := h.rentals.Confirm(ctx, owner, rt.ID)
		assertCode(t, err, domain.KindPaymentFailed, "INSUFFICIENT_FUNDS")
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

		got, err := h.rentals.Get(ctx, owner, rt.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.RentalStatusPending, got.Status)
		assert.Equal(t, domain.LegStatusFailed, got.Payment.Deposit.Status)
		h.assertBalance(t, domain.UserAccount(renterID), "10")
		gw.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything)
	})
}

func TestRentalService_TripGuards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, new(MockGateway).approveAll())
	rt := createRental(t, h, domain.PaymentMethodCard, service.StopInput{Order: 1}, service.StopInput{Order: 2})

	_, err := h.rentals.StopArrival(ctx, owner, rt.ID, 1, time.Time{})
	assertCode(t, err, domain.KindGuardViolation, "TRIP_NOT_STARTED")

	_, err = h.rentals.Confirm(ctx, renter, rt.ID)
	assertCode(t, err, domain.KindForbidden, "NOT_OWNER")

	_, err = h.rentals.Payout(ctx, owner, rt.ID)
	assertCode(t, err, domain.KindGuardViolation, "INVALID_STATUS")

	driveTrip(t, h, rt.ID)

	tests := []struct {
		name string
		call func() error
		kind domain.ErrorKind
		code string
	}{
		{"UnknownStop", func() error {
			_, err := h.rentals.StopArrival(ctx, owner, rt.ID, 7, time.Time{})
			return err
		}, domain.KindNotFound, "NOT_FOUND"},
		{"EndWaitingBeforeArrival", func() error {
			_, err := h.rentals.EndWaiting(ctx, owner, rt.ID, 1, 5, time.Time{})
			return err
		}, domain.KindGuardViolation, "ARRIVAL_REQUIRED"},
		{"SkipStop", func() error {
			if _, err := h.rentals.StopArrival(ctx, owner, rt.ID, 1, time.Time{}); err != nil {
				return err
			}
			_, err := h.rentals.StopArrival(ctx, owner, rt.ID, 2, time.Time{})
			return err
		}, domain.KindGuardViolation, "PREVIOUS_STOP_NOT_ENDED"},
		{"ArriveTwice", func() error {
			_, err := h.rentals.StopArrival(ctx, owner, rt.ID, 1, time.Time{})
			return err
		}, domain.KindAlreadyDone, "ARRIVAL_ALREADY_CONFIRMED"},
		{"NegativeWaiting", func() error {
			_, err := h.rentals.EndWaiting(ctx, owner, rt.ID, 1, -5, time.Time{})
			return err
		}, domain.KindInvalidInput, "INVALID_WAITING_TIME"},
		{"EndTripBeforeLastStop", func() error {
			_, err := h.rentals.EndTrip(ctx, owner, rt.ID)
			return err
		}, domain.KindGuardViolation, "LAST_STOP_NOT_ENDED"},
		{"CancelOngoing", func() error {
			_, err := h.rentals.Cancel(ctx, renter, rt.ID, "changed plans")
			return err
		}, domain.KindGuardViolation, "INVALID_STATUS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertCode(t, tt.call(), tt.kind, tt.code)
		})
	}

	t.Run("EndWaitingTwice", func(t *testing.T) {
		got, err := h.rentals.EndWaiting(ctx, owner, rt.ID, 1, 5, time.Time{})
		require.NoError(t, err)
		assert.True(t, got.Stop(1).Completed)
		assert.True(t, got.Stop(1).LocationVerified)

		_, err = h.rentals.EndWaiting(ctx, owner, rt.ID, 1, 5, time.Time{})
		assertCode(t, err, domain.KindAlreadyDone, "WAITING_ALREADY_ENDED")
	})
}

func TestRentalService_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("RefundsPaidDepositToWallet", func(t *testing.T) {
		h := newHarness(t, new(MockGateway).approveAll())
		h.topUp(t, renterID, "1000")
		rt := createRental(t, h, domain.PaymentMethodWallet)
		_, err := h.rentals.Confirm(ctx, owner, rt.ID)
		require.NoError(t, err)

		got, err := h.rentals.Cancel(ctx, renter, rt.ID, "changed plans")
		require.NoError(t, err)
		assert.Equal(t, domain.RentalStatusCanceled, got.Status)
		assert.Equal(t, domain.LegStatusRefunded, got.Payment.Deposit.Status)
		assert.Contains(t, got.Payment.Deposit.RefundTransactionID, "REFUND-chauffeured-")
		h.assertBalance(t, domain.UserAccount(renterID), "1000")
		h.assertBalance(t, domain.AccountPlatformEscrow, "0")
		assertRentalHistory(t, got, domain.RentalStatusPending, domain.RentalStatusConfirmed, domain.RentalStatusCanceled)

		_, err = h.rentals.Cancel(ctx, owner, rt.ID, "again")
		assertCode(t, err, domain.KindAlreadyDone, "ALREADY_CANCELED")
	})

	t.Run("PendingWithoutMoney", func(t *testing.T) {
		h := newHarness(t, new(MockGateway))
		rt := createRental(t, h, domain.PaymentMethodCard)

		got, err := h.rentals.Cancel(ctx, admin, rt.ID, "fraud check")
		require.NoError(t, err)
		assert.Equal(t, domain.RentalStatusCanceled, got.Status)
		assert.Equal(t, domain.LegStatusPending, got.Payment.Deposit.Status)
	})
}

func TestRentalService_ConcurrentEndTrip(t *testing.T) {
	ctx := context.Background()
	gw := new(MockGateway).approveAll()
	h := newHarness(t, gw)
	rt := createRental(t, h, domain.PaymentMethodCard)
	driveTrip(t, h, rt.ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.rentals.EndTrip(ctx, owner, rt.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assertCode(t, err, domain.KindGuardViolation, "INVALID_STATUS")
	}
	assert.Equal(t, 1, succeeded)
	gw.AssertNumberOfCalls(t, "Refund", 1)
	h.assertBalance(t, domain.AccountPlatformEscrow, "300")
}
