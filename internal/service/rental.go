package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"cark-backend/internal/domain"
	"cark-backend/internal/events"
	"cark-backend/internal/logger"
	"cark-backend/internal/pricing"
	"cark-backend/internal/repository"
)

type rentalService struct {
	store      repository.Store
	calc       *pricing.Calculator
	settlement SettlementCoordinator
	publisher  events.Publisher
	now        Clock
}

func NewRentalService(
	store repository.Store,
	calc *pricing.Calculator,
	settlement SettlementCoordinator,
	publisher events.Publisher,
	now Clock,
) RentalService {
	return &rentalService{
		store:      store,
		calc:       calc,
		settlement: settlement,
		publisher:  publisher,
		now:        now.orDefault(),
	}
}

func (s *rentalService) Create(ctx context.Context, actor domain.Actor, in CreateRentalInput) (*domain.Rental, error) {
	logger.EnterMethod("rentalService.Create", "renterID", actor.UserID, "carID", in.CarID)

	if err := validateCreateRental(actor, in); err != nil {
		reject("rentalService.Create", err, "renterID", actor.UserID)
		return nil, err
	}

	var rt *domain.Rental
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		car, err := tx.Cars().GetByID(ctx, in.CarID)
		if err != nil {
			return err
		}
		if !car.AvailableWithDriver {
			return domain.NewGuardViolation("CAR_NOT_AVAILABLE", "this car is not offered with a driver")
		}
		if car.OwnerID == actor.UserID {
			return domain.NewGuardViolation("OWN_CAR", "you cannot rent your own car")
		}

		now := s.now()
		rt = &domain.Rental{
			RenterID:      actor.UserID,
			CarID:         car.ID,
			OwnerID:       car.OwnerID,
			StartDate:     in.StartDate,
			EndDate:       in.EndDate,
			Status:        domain.RentalStatusPending,
			PaymentMethod: in.PaymentMethod,
			Pickup:        in.Pickup,
			Dropoff:       in.Dropoff,
			Prices: domain.PriceSnapshot{
				DailyPrice:    car.DailyPriceWithDriver,
				DailyKmLimit:  car.DailyKmLimit,
				ExtraKmRate:   car.ExtraKmCost,
				ExtraHourRate: car.ExtraHourCost,
			},
			Trip:      domain.PlannedTrip{PlannedKm: in.PlannedKm},
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, st := range in.Stops {
			rt.Trip.Stops = append(rt.Trip.Stops, domain.Stop{
				Order:                 st.Order,
				Location:              st.Location,
				PlannedWaitingMinutes: st.PlannedWaitingMinutes,
			})
		}
		rt.Payment = domain.RentalPayment{
			Deposit:   domain.NewPaymentLeg(domain.LegDeposit, decimal.Zero),
			Remaining: domain.NewPaymentLeg(domain.LegRemaining, decimal.Zero),
			Buffer:    domain.NewPaymentLeg(domain.LegBuffer, decimal.Zero),
			Excess:    domain.NewPaymentLeg(domain.LegExcess, decimal.Zero),
		}
		if err := s.requote(rt, rt.Trip.PlannedWaitingMinutes(), now); err != nil {
			return err
		}

		rt.History = append(rt.History, domain.StatusChange{NewStatus: string(domain.RentalStatusPending), ActorID: actor.UserID, CreatedAt: now})
		rt.AddLog("create_rental", domain.ActorRoleRenter, actor.UserID, now, map[string]string{
			"payment_method": string(in.PaymentMethod),
			"final_cost":     rt.Breakdown.FinalCost.String(),
		})
		if err := tx.Rentals().Create(ctx, rt); err != nil {
			return err
		}
		rt.Emit(domain.EventRentalCreated, actor.UserID, now, nil)
		return nil
	})
	if err != nil {
		reject("rentalService.Create", err, "renterID", actor.UserID)
		return nil, err
	}

	events.PublishCommitted(ctx, s.publisher, rt.Events)
	logger.ExitMethod("rentalService.Create", "rentalID", rt.ID)
	return rt, nil
}

func validateCreateRental(actor domain.Actor, in CreateRentalInput) error {
	if actor.UserID <= 0 {
		return domain.NewForbidden("RENTER_REQUIRED", "rentals are booked by a signed-in renter")
	}
	if !in.PaymentMethod.Valid() {
		return domain.NewInvalidInput("INVALID_PAYMENT_METHOD", fmt.Sprintf("unknown payment method %q", in.PaymentMethod))
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return domain.NewInvalidInput("DATES_REQUIRED", "start and end dates are required")
	}
	if _, err := pricing.InclusiveDays(in.StartDate, in.EndDate); err != nil {
		return domain.NewInvalidInput("INVALID_DATES", err.Error())
	}
	if in.PlannedKm.IsNegative() {
		return domain.NewInvalidInput("INVALID_PLANNED_KM", "planned km cannot be negative")
	}
	for i, st := range in.Stops {
		if st.Order != i+1 {
			return domain.NewInvalidInput("INVALID_STOP_ORDER", "stops must be numbered 1..n in order")
		}
		if st.PlannedWaitingMinutes < 0 {
			return domain.NewInvalidInput("INVALID_WAITING_TIME", fmt.Sprintf("stop %d has negative waiting time", st.Order))
		}
	}
	return nil
}

func (s *rentalService) Get(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error) {
	var rt *domain.Rental
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		rt, err = tx.Rentals().GetByID(ctx, id)
		if err != nil {
			return err
		}
		_, err = participantRole(actor, rt.RenterID, rt.OwnerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// rentalStep is one transition body. It runs against the locked aggregate and
// returns a guard, payment or infrastructure error.
type rentalStep func(ctx context.Context, tx repository.Tx, rt *domain.Rental, role domain.ActorRole, now time.Time) error

type roleCheck func(actor domain.Actor, renterID, ownerID int32) (domain.ActorRole, error)

// transition runs step in its own unit of work: lock, authorize, mutate,
// recompute, save. Events are published only after commit.
func (s *rentalService) transition(ctx context.Context, method string, actor domain.Actor, id int32, authorize roleCheck, step rentalStep) (*domain.Rental, error) {
	name := "rentalService." + method
	logger.EnterMethod(name, "rentalID", id, "actorID", actor.UserID)

	var rt *domain.Rental
	var reported error
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		reported = nil
		var err error
		rt, err = tx.Rentals().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		role, err := authorize(actor, rt.RenterID, rt.OwnerID)
		if err != nil {
			return err
		}

		from := rt.Status
		now := s.now()
		if err := step(ctx, tx, rt, role, now); err != nil {
			if err, reported = splitCommitted(err); err != nil {
				return err
			}
		}
		if err := s.recompute(rt, now); err != nil {
			return err
		}
		if err := tx.Rentals().Save(ctx, rt); err != nil {
			return err
		}
		if rt.Status != from {
			logger.Transition(string(domain.RentalKindChauffeured), rt.ID, string(from), string(rt.Status), actor.UserID)
		}
		return nil
	})
	if err != nil {
		reject(name, err, "rentalID", id)
		return nil, err
	}

	events.PublishCommitted(ctx, s.publisher, rt.Events)
	if reported != nil {
		reject(name, reported, "rentalID", id)
		return nil, reported
	}
	logger.ExitMethod(name, "rentalID", id, "status", rt.Status)
	return rt, nil
}

// recompute consumes recomputation events emitted during the transition.
func (s *rentalService) recompute(rt *domain.Rental, now time.Time) error {
	for _, e := range rt.Events {
		if e.Type != domain.EventTripParametersChanged {
			continue
		}
		waiting := rt.Trip.PlannedWaitingMinutes()
		if v, ok := e.Data["planned_waiting_minutes"]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("bad planned_waiting_minutes %q: %w", v, err)
			}
			waiting = n
		}
		if err := s.requote(rt, waiting, now); err != nil {
			return err
		}
	}
	return nil
}

// requote rebuilds the pre-trip breakdown and updates the payment legs in
// place.
func (s *rentalService) requote(rt *domain.Rental, waitingMinutes int, now time.Time) error {
	b, err := s.calc.Chauffeured(pricing.ChauffeuredInput{
		StartDate:      rt.StartDate,
		EndDate:        rt.EndDate,
		PlannedKm:      rt.Trip.PlannedKm,
		WaitingMinutes: waitingMinutes,
		Method:         rt.PaymentMethod,
		Prices:         rt.Prices,
	})
	if err != nil {
		return domain.NewInvalidInput("INVALID_DATES", err.Error())
	}
	b.UpdatedAt = now
	rt.Breakdown = b
	rt.Payment.Deposit.Amount = b.Deposit
	rt.Payment.Remaining.Amount = b.Remaining
	rt.Payment.Buffer.Amount = b.Buffer
	rt.Payment.Excess.Amount = decimal.Zero
	for _, leg := range rt.Payment.Legs() {
		leg.UpdatedAt = now
	}
	return nil
}

func (s *rentalService) CalculateCosts(ctx context.Context, actor domain.Actor, id int32, plannedKm decimal.Decimal, waitingMinutes int) (*domain.Rental, error) {
	return s.transition(ctx, "CalculateCosts", actor, id, participantRole, func(ctx context.Context, tx repository.Tx, rt *domain.Rental, role domain.ActorRole, now time.Time) error {
		if rt.Status != domain.RentalStatusPending {
			return domain.NewGuardViolation("INVALID_STATUS", "costs can only be recalculated while the rental is pending")
		}
		if plannedKm.IsNegative() || waitingMinutes < 0 {
			return domain.NewInvalidInput("INVALID_TRIP_PARAMETERS", "planned km and waiting minutes cannot be negative")
		}
		rt.Trip.PlannedKm = plannedKm
		rt.UpdatedAt = now
		rt.AddLog("calculate_costs", role, actor.UserID, now, map[string]string{
			"planned_km":              plannedKm.String(),
			"planned_waiting_minutes": strconv.Itoa(waitingMinutes),
		})
		rt.Emit(domain.EventTripParametersChanged, actor.UserID, now, map[string]string{
			"planned_waiting_minutes": strconv.Itoa(waitingMinutes),
		})
		return nil
	})
}

func (s *rentalService) Confirm(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error) {
	return s.transition(ctx, "Confirm", actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.Rental, role domain.ActorRole, now time.Time) error {
		if rt.Status != domain.RentalStatusPending {
			return domain.NewGuardViolation("INVALID_STATUS", "only pending rentals can be confirmed")
		}
		if rt.PaymentMethod.IsElectronic() {
			if err := s.chargeLeg(ctx, tx, rt, &rt.Payment.Deposit, role, actor, now); err != nil {
				return err
			}
		}
		if err := rt.TransitionTo(domain.RentalStatusConfirmed, actor.UserID, now); err != nil {
			return err
		}
		rt.AddLog("confirm", role, actor.UserID, now, map[string]string{"deposit_status": string(rt.Payment.Deposit.Status)})
		rt.Emit(domain.EventRentalConfirmed, actor.UserID, now, nil)
		return nil
	})
}

func (s *rentalService) StartTrip(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error) {
	return s.transition(ctx, "StartTrip", actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.Rental, role domain.ActorRole, now time.Time) error {
		if rt.Status != domain.RentalStatusConfirmed {
			return domain.NewGuardViolation("INVALID_STATUS", "the trip can only start after the booking is confirmed")
		}
		if rt.PaymentMethod.IsElectronic() {
			if err := s.chargeLeg(ctx, tx, rt, &rt.Payment.Remaining, role, actor, now); err != nil {
				return err
			}
			// The buffer is collected as part of the remaining payment and is
			// held until the trip ends.
			buffer := &rt.Payment.Buffer
			buffer.Status = domain.LegStatusPaid
			buffer.PaidAt = rt.Payment.Remaining.PaidAt
			buffer.TransactionID = rt.Payment.Remaining.TransactionID
			buffer.UpdatedAt = now
		} else if err := s.settlement.Charge(ctx, tx, ChargeRequest{Rental: rt.Ref(), Leg: &rt.Payment.Remaining, Method: rt.PaymentMethod, PayerID: rt.RenterID}); err != nil {
			return err
		}

		if err := rt.TransitionTo(domain.RentalStatusOngoing, actor.UserID, now); err != nil {
			return err
		}
		rt.AddLog("start_trip", role, actor.UserID, now, map[string]string{"remaining_status": string(rt.Payment.Remaining.Status)})
		rt.Emit(domain.EventTripStarted, actor.UserID, now, nil)
		return nil
	})
}

// chargeLeg charges an electronic leg. A decline is committed with the leg
// marked Failed and reported afterwards; the rental status is left alone.
func (s *rentalService) chargeLeg(ctx context.Context, tx repository.Tx, rt *domain.Rental, leg *domain.PaymentLeg, role domain.ActorRole, actor domain.Actor, now time.Time) error {
	err := s.settlement.Charge(ctx, tx, ChargeRequest{Rental: rt.Ref(), Leg: leg, Method: rt.PaymentMethod, PayerID: rt.RenterID})
	if err == nil {
		rt.Emit(domain.EventPaymentSucceeded, actor.UserID, now, map[string]string{"leg": string(leg.Name), "transaction_id": leg.TransactionID})
		return nil
	}
	if domain.KindOf(err) != domain.KindPaymentFailed {
		return err
	}
	rt.UpdatedAt = now
	rt.AddLog(string(leg.Name)+"_payment_failed", role, actor.UserID, now, map[string]string{"error": err.Error()})
	rt.Emit(domain.EventPaymentFailed, actor.UserID, now, map[string]string{"leg": string(leg.Name)})
	return commitThenReport(err)
}

func (s *rentalService) StopArrival(ctx context.Context, actor domain.Actor, id int32, order int, waitingStartedAt time.Time) (*domain.Rental, error) {
	return s.transition(ctx, "StopArrival", actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.Rental, role domain.ActorRole, now time.Time) error {
		if rt.Status != domain.RentalStatusOngoing {
			return domain.NewGuardViolation("TRIP_NOT_STARTED", "you must start the trip before arriving at a stop")
		}
		stop := rt.Stop(order)
		if stop == nil {
			return domain.NewNotFound("stop", order)
		}
		if stop.WaitingStartedAt != nil {
			return domain.NewAlreadyDone("ARRIVAL_ALREADY_CONFIRMED", fmt.Sprintf("arrival at stop %d was already confirmed", order))
		}
		if order > 1 {
			if prev := rt.Stop(order - 1); prev != nil && prev.WaitingEndedAt == nil {
				return domain.NewGuardViolation("PREVIOUS_STOP_NOT_ENDED", fmt.Sprintf("end waiting at stop %d before arriving at stop %d", order-1, order))
			}
		}
		if waitingStartedAt.IsZero() {
			waitingStartedAt = now
		}
		stop.WaitingStartedAt = &waitingStartedAt
		stop.LocationVerified = true
		rt.UpdatedAt = now
		rt.AddLog("stop_arrival", role, actor.UserID, now, map[string]string{"stop_order": strconv.Itoa(order)})
		rt.Emit(domain.EventStopArrived, actor.UserID, now, map[string]string{"stop_order": strconv.Itoa(order)})
		return nil
	})
}

func (s *rentalService) EndWaiting(ctx context.Context, actor domain.Actor, id int32, order int, actualMinutes int, endedAt time.Time) (*domain.Rental, error) {
	return s.transition(ctx, "EndWaiting", actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.Rental, role domain.ActorRole, now time.Time) error {
		if rt.Status != domain.RentalStatusOngoing {
			return domain.NewGuardViolation("TRIP_NOT_STARTED", "the trip is not ongoing")
		}
		stop := rt.Stop(order)
		if stop == nil {
			return domain.NewNotFound("stop", order)
		}
		if stop.WaitingStartedAt == nil {
			return domain.NewGuardViolation("ARRIVAL_REQUIRED", fmt.Sprintf("confirm arrival at stop %d before ending the wait", order))
		}
		if stop.WaitingEndedAt != nil {
			return domain.NewAlreadyDone("WAITING_ALREADY_ENDED", fmt.Sprintf("waiting at stop %d was already ended", order))
		}
		if actualMinutes < 0 {
			return domain.NewInvalidInput("INVALID_WAITING_TIME", "actual waiting minutes cannot be negative")
		}
		if endedAt.IsZero() {
			endedAt = now
		}
		stop.ActualWaitingMinutes = actualMinutes
		stop.WaitingEndedAt = &endedAt
		stop.Completed = true
		rt.UpdatedAt = now
		rt.AddLog("end_waiting", role, actor.UserID, now, map[string]string{
			"stop_order":             strconv.Itoa(order),
			"actual_waiting_minutes": strconv.Itoa(actualMinutes),
		})
		rt.Emit(domain.EventWaitingEnded, actor.UserID, now, map[string]string{"stop_order": strconv.Itoa(order)})
		return nil
	})
}

func (s *rentalService) EndTrip(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error) {
	return s.transition(ctx, "EndTrip", actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.Rental, role domain.ActorRole, now time.Time) error {
		if rt.Status != domain.RentalStatusOngoing {
			return domain.NewGuardViolation("INVALID_STATUS", "the trip can only end while it is ongoing")
		}
		if last := rt.LastStop(); last != nil && last.WaitingEndedAt == nil {
			return domain.NewGuardViolation("LAST_STOP_NOT_ENDED", "end waiting at the last stop before ending the trip")
		}

		b := &rt.Breakdown
		b.ActualWaitingMinutes = rt.Trip.ActualWaitingMinutes()
		b.ExtraWaitingMinutes, b.ExtraCost = pricing.ExtraWaiting(b.PlannedWaitingMinutes, b.ActualWaitingMinutes, rt.Prices.ExtraHourRate)
		b.ActualTotal = b.Subtotal.Add(b.ExtraCost)
		b.DriverEarnings = b.ActualTotal.Sub(b.PlatformFee)
		b.UpdatedAt = now

		details := map[string]string{
			"extra_waiting_minutes": strconv.Itoa(b.ExtraWaitingMinutes),
			"extra_cost":            b.ExtraCost.String(),
			"actual_total":          b.ActualTotal.String(),
		}
		if rt.PaymentMethod.IsElectronic() {
			settlement, err := s.settlement.SettleBuffer(ctx, tx, BufferSettlementRequest{
				Rental:    rt.Ref(),
				Payment:   &rt.Payment,
				ExtraCost: b.ExtraCost,
				Method:    rt.PaymentMethod,
				PayerID:   rt.RenterID,
			})
			if err != nil {
				if domain.KindOf(err) != domain.KindPaymentFailed {
					return err
				}
				// A declined refund leaves the buffer untouched; a declined
				// shortfall charge leaves the excess pending.
				event, leg := "excess_payment_failed", domain.LegExcess
				if domain.CodeOf(err) == "REFUND_FAILED" {
					event, leg = "buffer_refund_failed", domain.LegBuffer
				}
				rt.UpdatedAt = now
				rt.AddLog(event, role, actor.UserID, now, map[string]string{"error": err.Error()})
				rt.Emit(domain.EventPaymentFailed, actor.UserID, now, map[string]string{"leg": string(leg)})
				return commitThenReport(err)
			}
			b.BufferUsed = settlement.Used
			b.BufferRefund = settlement.Refund
			b.Shortfall = settlement.Shortfall
			details["buffer_outcome"] = string(settlement.Outcome)
			details["buffer_refund"] = settlement.Refund.String()
			if settlement.Refund.IsPositive() {
				rt.Emit(domain.EventRefundIssued, actor.UserID, now, map[string]string{"leg": string(domain.LegBuffer), "amount": settlement.Refund.String()})
			}
		} else {
			// The driver collects the whole amount in cash.
			rt.Payment.Excess.Amount = b.ExtraCost
			rt.Payment.Excess.UpdatedAt = now
			details["amount_to_collect"] = b.ActualTotal.String()
		}

		if err := rt.TransitionTo(domain.RentalStatusFinished, actor.UserID, now); err != nil {
			return err
		}
		rt.AddLog("end_trip", role, actor.UserID, now, details)
		rt.Emit(domain.EventTripEnded, actor.UserID, now, details)
		return nil
	})
}

func (s *rentalService) Payout(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error) {
	return s.transition(ctx, "Payout", actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.Rental, role domain.ActorRole, now time.Time) error {
		if rt.Status != domain.RentalStatusFinished {
			return domain.NewGuardViolation("INVALID_STATUS", "payout is only possible after the trip is finished")
		}
		if rt.PayoutAt != nil {
			return domain.NewAlreadyDone("ALREADY_PAID_OUT", "payout was already processed")
		}

		b := rt.Breakdown
		w, err := s.settlement.ReleaseEarnings(ctx, tx, EarningsRequest{
			Rental:        rt.Ref(),
			Method:        rt.PaymentMethod,
			OwnerID:       rt.OwnerID,
			OwnerEarnings: b.DriverEarnings,
			PlatformFee:   b.PlatformFee,
			HeldDeposit:   decimal.Zero,
		})
		if err != nil {
			return err
		}

		rt.PayoutAt = &now
		rt.UpdatedAt = now
		rt.AddLog("payout", role, actor.UserID, now, map[string]string{
			"driver_earnings": b.DriverEarnings.String(),
			"platform_fee":    b.PlatformFee.String(),
		})
		warnOwnerFloor(rt.AddLog, s.calc.Policy(), w, rt.OwnerID, now)
		rt.Emit(domain.EventPayoutProcessed, actor.UserID, now, map[string]string{"driver_earnings": b.DriverEarnings.String()})
		return nil
	})
}

func (s *rentalService) Cancel(ctx context.Context, actor domain.Actor, id int32, reason string) (*domain.Rental, error) {
	return s.transition(ctx, "Cancel", actor, id, participantRole, func(ctx context.Context, tx repository.Tx, rt *domain.Rental, role domain.ActorRole, now time.Time) error {
		if rt.Status == domain.RentalStatusCanceled {
			return domain.NewAlreadyDone("ALREADY_CANCELED", "the rental is already canceled")
		}
		if !rt.Status.CanTransition(domain.RentalStatusCanceled) {
			return domain.NewGuardViolation("INVALID_STATUS", fmt.Sprintf("a %s rental cannot be canceled", rt.Status))
		}

		details := map[string]string{"reason": reason}
		deposit := &rt.Payment.Deposit
		if deposit.Status == domain.LegStatusPaid && !deposit.Refunded() && deposit.Amount.IsPositive() {
			err := s.settlement.Refund(ctx, tx, RefundRequest{
				Rental:      rt.Ref(),
				Leg:         deposit,
				Amount:      deposit.Amount,
				Method:      rt.PaymentMethod,
				PayerID:     rt.RenterID,
				Destination: RefundToWallet,
			})
			if err != nil {
				return err
			}
			details["deposit_refund"] = deposit.RefundedAmount.String()
			rt.Emit(domain.EventRefundIssued, actor.UserID, now, map[string]string{"leg": string(domain.LegDeposit), "amount": deposit.RefundedAmount.String()})
		}

		if err := rt.TransitionTo(domain.RentalStatusCanceled, actor.UserID, now); err != nil {
			return err
		}
		rt.AddLog("cancel", role, actor.UserID, now, details)
		rt.Emit(domain.EventRentalCanceled, actor.UserID, now, map[string]string{"reason": reason})
		return nil
	})
}

func (s *rentalService) ConfirmCashReceived(ctx context.Context, actor domain.Actor, id int32) (*domain.Rental, error) {
	return s.transition(ctx, "ConfirmCashReceived", actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.Rental, role domain.ActorRole, now time.Time) error {
		if rt.PaymentMethod != domain.PaymentMethodCash {
			return domain.NewGuardViolation("NOT_CASH", "the rental is not paid in cash")
		}
		if rt.Status != domain.RentalStatusFinished {
			return domain.NewGuardViolation("INVALID_STATUS", "cash is collected at the end of the trip")
		}
		if err := s.settlement.ConfirmCash(&rt.Payment.Remaining, now); err != nil {
			return err
		}
		if rt.Payment.Excess.Amount.IsPositive() {
			if err := s.settlement.ConfirmCash(&rt.Payment.Excess, now); err != nil {
				return err
			}
		}
		rt.UpdatedAt = now
		rt.AddLog("confirm_cash", role, actor.UserID, now, map[string]string{"collected": rt.Breakdown.ActualTotal.String()})
		rt.Emit(domain.EventCashConfirmed, actor.UserID, now, nil)
		return nil
	})
}

// warnOwnerFloor records a warning when the owner's wallet fell below the soft
// floor. New bookings are refused until the owner tops up.
func warnOwnerFloor(addLog func(string, domain.ActorRole, int32, time.Time, map[string]string), policy pricing.Policy, w *domain.Wallet, ownerID int32, now time.Time) {
	if w == nil || !w.Balance.LessThan(policy.OwnerSoftFloor) {
		return
	}
	logger.Warn("Owner wallet below soft floor", "ownerID", ownerID, "balance", w.Balance.String(), "floor", policy.OwnerSoftFloor.String())
	addLog("owner_wallet_below_floor", domain.ActorRoleSystem, 0, now, map[string]string{
		"balance": w.Balance.String(),
		"floor":   policy.OwnerSoftFloor.String(),
	})
}
