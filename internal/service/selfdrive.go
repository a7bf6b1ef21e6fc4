package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cark-backend/internal/documents"
	"cark-backend/internal/domain"
	"cark-backend/internal/events"
	"cark-backend/internal/logger"
	"cark-backend/internal/pricing"
	"cark-backend/internal/repository"
)

type selfDriveService struct {
	store      repository.Store
	calc       *pricing.Calculator
	settlement SettlementCoordinator
	publisher  events.Publisher
	now        Clock
}

func NewSelfDriveService(
	store repository.Store,
	calc *pricing.Calculator,
	settlement SettlementCoordinator,
	publisher events.Publisher,
	now Clock,
) SelfDriveService {
	return &selfDriveService{
		store:      store,
		calc:       calc,
		settlement: settlement,
		publisher:  publisher,
		now:        now.orDefault(),
	}
}

func (s *selfDriveService) Create(ctx context.Context, actor domain.Actor, in CreateSelfDriveInput) (*domain.SelfDriveRental, error) {
	logger.EnterMethod("selfDriveService.Create", "renterID", actor.UserID, "carID", in.CarID)

	if err := validateCreateSelfDrive(actor, in); err != nil {
		reject("selfDriveService.Create", err, "renterID", actor.UserID)
		return nil, err
	}

	var rt *domain.SelfDriveRental
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		car, err := tx.Cars().GetByID(ctx, in.CarID)
		if err != nil {
			return err
		}
		if !car.AvailableWithoutDriver {
			return domain.NewGuardViolation("CAR_NOT_AVAILABLE", "this car is not offered for self-drive")
		}
		if car.OwnerID == actor.UserID {
			return domain.NewGuardViolation("OWN_CAR", "you cannot rent your own car")
		}

		now := s.now()
		prices := domain.PriceSnapshot{
			DailyPrice:    car.DailyRentalPrice,
			DailyKmLimit:  car.DailyKmLimit,
			ExtraKmRate:   car.ExtraKmCost,
			ExtraHourRate: car.ExtraHourCost,
		}
		b, err := s.calc.SelfDrive(pricing.SelfDriveInput{StartTime: in.StartTime, EndTime: in.EndTime, Prices: prices})
		if err != nil {
			return domain.NewInvalidInput("INVALID_DATES", err.Error())
		}
		b.UpdatedAt = now

		rt = &domain.SelfDriveRental{
			RenterID:      actor.UserID,
			CarID:         car.ID,
			OwnerID:       car.OwnerID,
			StartTime:     in.StartTime,
			EndTime:       in.EndTime,
			Status:        domain.SelfDriveStatusPending,
			PaymentMethod: in.PaymentMethod,
			Pickup:        in.Pickup,
			Dropoff:       in.Dropoff,
			Prices:        prices,
			Breakdown:     b,
			Payment: domain.SelfDrivePayment{
				Deposit:   domain.NewPaymentLeg(domain.LegDeposit, b.Deposit),
				Remaining: domain.NewPaymentLeg(domain.LegRemaining, b.Remaining),
				Excess:    domain.NewPaymentLeg(domain.LegExcess, decimal.Zero),
			},
			CreatedAt: now,
			UpdatedAt: now,
		}
		rt.History = append(rt.History, domain.StatusChange{NewStatus: string(domain.SelfDriveStatusPending), ActorID: actor.UserID, CreatedAt: now})
		if err := rt.TransitionTo(domain.SelfDriveStatusPendingOwnerConfirmation, actor.UserID, now); err != nil {
			return err
		}
		rt.AddLog("create_rental", domain.ActorRoleRenter, actor.UserID, now, map[string]string{
			"payment_method": string(in.PaymentMethod),
			"initial_cost":   b.InitialCost.String(),
			"deposit":        b.Deposit.String(),
		})
		if err := tx.SelfDrive().Create(ctx, rt); err != nil {
			return err
		}
		rt.Emit(domain.EventRentalCreated, actor.UserID, now, nil)
		return nil
	})
	if err != nil {
		reject("selfDriveService.Create", err, "renterID", actor.UserID)
		return nil, err
	}

	events.PublishCommitted(ctx, s.publisher, rt.Events)
	logger.ExitMethod("selfDriveService.Create", "rentalID", rt.ID)
	return rt, nil
}

func validateCreateSelfDrive(actor domain.Actor, in CreateSelfDriveInput) error {
	if actor.UserID <= 0 {
		return domain.NewForbidden("RENTER_REQUIRED", "rentals are booked by a signed-in renter")
	}
	if !in.PaymentMethod.Valid() {
		return domain.NewInvalidInput("INVALID_PAYMENT_METHOD", fmt.Sprintf("unknown payment method %q", in.PaymentMethod))
	}
	if in.StartTime.IsZero() || in.EndTime.IsZero() {
		return domain.NewInvalidInput("DATES_REQUIRED", "start and end times are required")
	}
	if in.EndTime.Before(in.StartTime) {
		return domain.NewInvalidInput("INVALID_DATES", "end time must not be before start time")
	}
	return nil
}

func (s *selfDriveService) Get(ctx context.Context, actor domain.Actor, id int32) (*domain.SelfDriveRental, error) {
	var rt *domain.SelfDriveRental
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		rt, err = tx.SelfDrive().GetByID(ctx, id)
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

type selfDriveStep func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, now time.Time) error

// transition runs step in its own unit of work. See rentalService.transition.
func (s *selfDriveService) transition(ctx context.Context, method string, actor domain.Actor, id int32, authorize roleCheck, step selfDriveStep) (*domain.SelfDriveRental, error) {
	name := "selfDriveService." + method
	logger.EnterMethod(name, "rentalID", id, "actorID", actor.UserID)

	var rt *domain.SelfDriveRental
	var reported error
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		reported = nil
		var err error
		rt, err = tx.SelfDrive().GetForUpdate(ctx, id)
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
		if err := tx.SelfDrive().Save(ctx, rt); err != nil {
			return err
		}
		if rt.Status != from {
			logger.Transition(string(domain.RentalKindSelfDrive), rt.ID, string(from), string(rt.Status), actor.UserID)
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

// recompute rebuilds the settlement breakdown when a return was recorded or an
// invoice refresh was requested. It is a pure function of the recorded
// odometers and drop-off time, so running it twice is harmless.
func (s *selfDriveService) recompute(rt *domain.SelfDriveRental, now time.Time) error {
	needed := false
	for _, e := range rt.Events {
		if e.Type == domain.EventReturnRecorded || e.Type == domain.EventInvoiceRecalculationRequired {
			needed = true
		}
	}
	if !needed {
		return nil
	}

	start := rt.Odometer(domain.OdometerStart)
	if start == nil {
		return domain.NewGuardViolation("ODOMETER_START_REQUIRED", "the pickup odometer reading is missing")
	}
	end := start.Value
	if o := rt.Odometer(domain.OdometerEnd); o != nil {
		end = o.Value
	}
	dropoff := now
	if rt.ActualDropoffAt != nil {
		dropoff = *rt.ActualDropoffAt
	}

	b := s.calc.SelfDriveSettlement(pricing.SelfDriveSettlementInput{
		Quote:         rt.Breakdown,
		ScheduledEnd:  rt.EndTime,
		ActualDropoff: dropoff,
		StartOdometer: start.Value,
		EndOdometer:   end,
		ExtraKmRate:   rt.Prices.ExtraKmRate,
	})
	b.UpdatedAt = now
	rt.Breakdown = b

	// A settled excess keeps the amount that was actually collected.
	if excess := &rt.Payment.Excess; !excess.Settled() {
		excess.Amount = b.TotalExtras
		excess.UpdatedAt = now
	}
	return nil
}

func (s *selfDriveService) ConfirmByOwner(ctx context.Context, actor domain.Actor, id int32) (*domain.SelfDriveRental, error) {
	return s.transition(ctx, "ConfirmByOwner", actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, now time.Time) error {
		if rt.Status != domain.SelfDriveStatusPendingOwnerConfirmation {
			return domain.NewGuardViolation("INVALID_STATUS", "the rental is not waiting for owner confirmation")
		}
		policy := s.calc.Policy()
		balance := decimal.Zero
		w, err := tx.Ledger().GetWallet(ctx, domain.UserAccount(rt.OwnerID))
		switch {
		case err == nil:
			balance = w.Balance
		case domain.KindOf(err) != domain.KindNotFound:
			return err
		}
		if balance.LessThan(policy.OwnerSoftFloor) {
			return domain.NewForbidden("WALLET_LIMIT", fmt.Sprintf("your wallet balance %s is below %s; top up before accepting rentals", balance, policy.OwnerSoftFloor))
		}

		due := now.Add(policy.DepositWindow)
		rt.DepositDueAt = &due
		if err := rt.TransitionTo(domain.SelfDriveStatusDepositRequired, actor.UserID, now); err != nil {
			return err
		}
		rt.AddLog("owner_confirmed", role, actor.UserID, now, map[string]string{"deposit_due_at": due.Format(time.RFC3339)})
		rt.Emit(domain.EventOwnerConfirmed, actor.UserID, now, map[string]string{"deposit_due_at": due.Format(time.RFC3339)})
		return nil
	})
}

func (s *selfDriveService) DepositPaid(ctx context.Context, actor domain.Actor, id int32, transactionID string) (*domain.SelfDriveRental, error) {
	return s.transition(ctx, "DepositPaid", actor, id, renterRole, func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, now time.Time) error {
		return s.payDeposit(ctx, tx, rt, role, actor, transactionID, now)
	})
}

// depositExpired reports whether the deposit deadline passed without payment.
func depositExpired(rt *domain.SelfDriveRental, now time.Time) bool {
	return rt.Status == domain.SelfDriveStatusDepositRequired &&
		!rt.Payment.Deposit.Settled() &&
		rt.DepositDueAt != nil && now.After(*rt.DepositDueAt)
}

// expire cancels a rental whose deposit deadline passed.
func expire(rt *domain.SelfDriveRental, role domain.ActorRole, actorID int32, now time.Time) error {
	if err := rt.TransitionTo(domain.SelfDriveStatusCanceled, actorID, now); err != nil {
		return err
	}
	details := map[string]string{"deposit_due_at": rt.DepositDueAt.Format(time.RFC3339)}
	rt.AddLog("deposit_expired", role, actorID, now, details)
	rt.Emit(domain.EventRentalCanceled, actorID, now, map[string]string{"reason": "deposit_expired"})
	return nil
}

func (s *selfDriveService) payDeposit(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, actor domain.Actor, transactionID string, now time.Time) error {
	deposit := &rt.Payment.Deposit
	if deposit.Settled() {
		return domain.NewAlreadyPaid("ALREADY_PAID", "the deposit was already paid")
	}
	if rt.Status != domain.SelfDriveStatusDepositRequired {
		return domain.NewGuardViolation("INVALID_STATUS", "the rental is not waiting for a deposit")
	}
	if depositExpired(rt, now) {
		if err := expire(rt, role, actor.UserID, now); err != nil {
			return err
		}
		return commitThenReport(domain.NewGuardViolation("DEPOSIT_EXPIRED", "the deposit deadline has passed and the rental was canceled"))
	}

	// Cash rentals pay the deposit electronically too.
	method := domain.PaymentMethodCard
	if rt.PaymentMethod == domain.PaymentMethodWallet {
		method = domain.PaymentMethodWallet
	}
	if err := s.settlement.RecordPayment(ctx, tx, ExternalPayment{
		Rental:        rt.Ref(),
		Leg:           deposit,
		Method:        method,
		PayerID:       rt.RenterID,
		TransactionID: transactionID,
	}); err != nil {
		return err
	}

	rt.Contract = &domain.SelfDriveContract{
		RenterSigned:   true,
		RenterSignedAt: &now,
		Document:       documents.GenerateContract(rt.ID, now),
	}
	if err := rt.TransitionTo(domain.SelfDriveStatusConfirmed, actor.UserID, now); err != nil {
		return err
	}
	rt.AddLog("deposit_paid", role, actor.UserID, now, map[string]string{
		"amount":          deposit.Amount.String(),
		"transaction_id":  deposit.TransactionID,
		"contract_digest": rt.Contract.Document.Digest,
	})
	rt.Emit(domain.EventDepositPaid, actor.UserID, now, map[string]string{"transaction_id": deposit.TransactionID})
	return nil
}

func (s *selfDriveService) DepositPayment(ctx context.Context, actor domain.Actor, id int32, leg domain.LegName, transactionID string) (*domain.SelfDriveRental, error) {
	return s.transition(ctx, "DepositPayment", actor, id, renterRole, func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, now time.Time) error {
		if depositExpired(rt, now) {
			if err := expire(rt, role, actor.UserID, now); err != nil {
				return err
			}
			return commitThenReport(domain.NewGuardViolation("DEPOSIT_EXPIRED", "the deposit deadline has passed and the rental was canceled"))
		}

		switch leg {
		case domain.LegDeposit:
			return s.payDeposit(ctx, tx, rt, role, actor, transactionID, now)
		case domain.LegRemaining:
			if rt.Payment.Remaining.Settled() {
				return domain.NewAlreadyPaid("ALREADY_PAID", "the remaining amount was already paid")
			}
			if rt.PaymentMethod == domain.PaymentMethodCash {
				return domain.NewGuardViolation("CASH_CONFIRM_REQUIRED", "cash payments are confirmed by the owner")
			}
			if rt.Contract == nil || !rt.Contract.OwnerSigned || !rt.Contract.RenterSigned {
				return domain.NewGuardViolation("CONTRACT_NOT_SIGNED", "both parties must sign the contract first")
			}
			if rt.Contract.SignedContractImage == "" {
				return domain.NewGuardViolation("CONTRACT_IMAGE_REQUIRED", "the signed contract image is required")
			}
			return s.payLeg(ctx, tx, rt, &rt.Payment.Remaining, role, actor, transactionID, now)
		case domain.LegExcess:
			// Until the return is recorded the excess is only an estimate.
			if rt.Contract == nil || !rt.Contract.RenterReturnDone {
				return domain.NewGuardViolation("RENTER_RETURN_REQUIRED", "the excess is payable once the car is returned")
			}
			if !rt.Payment.Excess.Amount.IsPositive() {
				return domain.NewGuardViolation("NO_EXCESS", "there is no excess to pay")
			}
			if rt.Payment.Excess.Settled() {
				return domain.NewAlreadyPaid("ALREADY_PAID", "the excess was already paid")
			}
			if rt.PaymentMethod == domain.PaymentMethodCash {
				return domain.NewGuardViolation("CASH_CONFIRM_REQUIRED", "cash payments are confirmed by the owner")
			}
			return s.payLeg(ctx, tx, rt, &rt.Payment.Excess, role, actor, transactionID, now)
		}
		return domain.NewInvalidInput("INVALID_TYPE", fmt.Sprintf("unknown payment type %q", leg))
	})
}

// payLeg records an externally completed payment when a transaction id is
// given and charges through the gateway otherwise.
func (s *selfDriveService) payLeg(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, leg *domain.PaymentLeg, role domain.ActorRole, actor domain.Actor, transactionID string, now time.Time) error {
	var err error
	if transactionID != "" {
		err = s.settlement.RecordPayment(ctx, tx, ExternalPayment{Rental: rt.Ref(), Leg: leg, Method: rt.PaymentMethod, PayerID: rt.RenterID, TransactionID: transactionID})
	} else {
		err = s.settlement.Charge(ctx, tx, ChargeRequest{Rental: rt.Ref(), Leg: leg, Method: rt.PaymentMethod, PayerID: rt.RenterID})
	}
	if err != nil {
		if domain.KindOf(err) != domain.KindPaymentFailed {
			return err
		}
		rt.UpdatedAt = now
		rt.AddLog(string(leg.Name)+"_payment_failed", role, actor.UserID, now, map[string]string{"error": err.Error()})
		rt.Emit(domain.EventPaymentFailed, actor.UserID, now, map[string]string{"leg": string(leg.Name)})
		return commitThenReport(err)
	}
	rt.UpdatedAt = now
	rt.AddLog(string(leg.Name)+"_paid", role, actor.UserID, now, map[string]string{
		"amount":         leg.Amount.String(),
		"transaction_id": leg.TransactionID,
	})
	rt.Emit(domain.EventPaymentSucceeded, actor.UserID, now, map[string]string{"leg": string(leg.Name), "transaction_id": leg.TransactionID})
	return nil
}

func (s *selfDriveService) OwnerPickupHandover(ctx context.Context, actor domain.Actor, id int32, in OwnerPickupInput) (*domain.SelfDriveRental, error) {
	return s.transition(ctx, "OwnerPickupHandover", actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, now time.Time) error {
		if rt.Status != domain.SelfDriveStatusConfirmed || rt.Contract == nil || !rt.Payment.Deposit.Settled() {
			return domain.NewGuardViolation("DEPOSIT_REQUIRED", "the deposit must be paid before pickup")
		}
		c := rt.Contract
		if c.OwnerPickupDone {
			return domain.NewAlreadyDone("ALREADY_DONE", "owner pickup handover was already completed")
		}
		if in.ContractImage == "" {
			return domain.NewGuardViolation("CONTRACT_IMAGE_REQUIRED", "upload the signed contract image")
		}
		cash := rt.PaymentMethod == domain.PaymentMethodCash
		if cash && (in.ConfirmRemainingCash == nil || !*in.ConfirmRemainingCash) {
			return domain.NewGuardViolation("CASH_CONFIRM_REQUIRED", "confirm that the remaining amount was received in cash")
		}
		if !cash && in.ConfirmRemainingCash != nil {
			return domain.NewGuardViolation("CASH_NOT_ALLOWED", "cash confirmation only applies to cash rentals")
		}
		if cash && !rt.Payment.Remaining.Settled() {
			if err := s.settlement.ConfirmCash(&rt.Payment.Remaining, now); err != nil {
				return err
			}
		}

		c.OwnerSigned = true
		c.OwnerSignedAt = &now
		c.SignedContractImage = in.ContractImage
		c.OwnerPickupDone = true
		c.OwnerPickupAt = &now
		rt.UpdatedAt = now
		rt.AddLog("owner_pickup_handover", role, actor.UserID, now, map[string]string{"remaining_status": string(rt.Payment.Remaining.Status)})
		rt.Emit(domain.EventOwnerPickupHandover, actor.UserID, now, nil)
		return nil
	})
}

func (s *selfDriveService) RenterPickupHandover(ctx context.Context, actor domain.Actor, id int32, in RenterPickupInput) (*domain.SelfDriveRental, error) {
	return s.transition(ctx, "RenterPickupHandover", actor, id, renterRole, func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, now time.Time) error {
		if rt.Contract == nil || !rt.Contract.OwnerPickupDone {
			return domain.NewGuardViolation("OWNER_PICKUP_REQUIRED", "the owner must hand over the car first")
		}
		c := rt.Contract
		if c.RenterPickupDone {
			return domain.NewAlreadyDone("ALREADY_DONE", "renter pickup handover was already completed")
		}
		if in.CarImage == "" {
			return domain.NewGuardViolation("CAR_IMAGE_REQUIRED", "upload a photo of the car at pickup")
		}
		if in.OdometerImage == "" || !in.OdometerValue.Valid {
			return domain.NewGuardViolation("ODOMETER_START_REQUIRED", "upload the odometer photo and reading")
		}
		if in.OdometerValue.Decimal.IsNegative() {
			return domain.NewInvalidInput("INVALID_ODOMETER", "odometer reading cannot be negative")
		}

		// The remaining amount is charged before anything else changes, so a
		// decline leaves only the failed leg behind.
		if rt.PaymentMethod.IsElectronic() && !rt.Payment.Remaining.Settled() {
			if err := s.payLeg(ctx, tx, rt, &rt.Payment.Remaining, role, actor, "", now); err != nil {
				return err
			}
		}

		rt.CarImages = append(rt.CarImages, domain.CarImage{Type: domain.CarImagePickup, ImageRef: in.CarImage, UploadedBy: actor.UserID, UploadedAt: now})
		rt.SetOdometer(domain.OdometerImage{Type: domain.OdometerStart, Value: in.OdometerValue.Decimal, ImageRef: in.OdometerImage, UploadedAt: now})
		c.RenterPickupDone = true
		c.RenterPickupAt = &now
		rt.ActualPickupAt = &now
		if err := rt.TransitionTo(domain.SelfDriveStatusOngoing, actor.UserID, now); err != nil {
			return err
		}
		rt.AddLog("renter_pickup_handover", role, actor.UserID, now, map[string]string{"odometer_start": in.OdometerValue.Decimal.String()})
		rt.Emit(domain.EventRenterPickupHandover, actor.UserID, now, nil)
		return nil
	})
}

func (s *selfDriveService) RenterReturnHandover(ctx context.Context, actor domain.Actor, id int32, in RenterReturnInput) (*domain.SelfDriveRental, error) {
	return s.transition(ctx, "RenterReturnHandover", actor, id, renterRole, func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, now time.Time) error {
		if rt.Status != domain.SelfDriveStatusOngoing || rt.Contract == nil {
			return domain.NewGuardViolation("TRIP_NOT_STARTED", "the rental has not started")
		}
		c := rt.Contract
		if c.RenterReturnDone {
			return domain.NewAlreadyDone("ALREADY_DONE", "renter return handover was already completed")
		}
		if in.OdometerImage == "" || !in.OdometerValue.Valid {
			return domain.NewGuardViolation("ODOMETER_END_REQUIRED", "upload the odometer photo and reading")
		}
		if in.CarImage == "" {
			return domain.NewGuardViolation("CAR_IMAGE_REQUIRED", "upload a photo of the car at return")
		}
		start := rt.Odometer(domain.OdometerStart)
		if start == nil {
			return domain.NewGuardViolation("ODOMETER_START_REQUIRED", "the pickup odometer reading is missing")
		}
		if in.OdometerValue.Decimal.LessThan(start.Value) {
			return domain.NewGuardViolation("INVALID_ODOMETER", fmt.Sprintf("end reading %s is below start reading %s", in.OdometerValue.Decimal, start.Value))
		}

		rt.CarImages = append(rt.CarImages, domain.CarImage{Type: domain.CarImageReturn, ImageRef: in.CarImage, UploadedBy: actor.UserID, Notes: in.Notes, UploadedAt: now})
		rt.SetOdometer(domain.OdometerImage{Type: domain.OdometerEnd, Value: in.OdometerValue.Decimal, ImageRef: in.OdometerImage, UploadedAt: now})
		c.RenterReturnDone = true
		c.RenterReturnAt = &now
		rt.ActualDropoffAt = &now
		rt.UpdatedAt = now
		rt.Emit(domain.EventReturnRecorded, actor.UserID, now, map[string]string{"odometer_end": in.OdometerValue.Decimal.String()})

		// The excess is charged on the recomputed breakdown.
		if err := s.recompute(rt, now); err != nil {
			return err
		}
		excess := &rt.Payment.Excess
		if rt.PaymentMethod.IsElectronic() && excess.Amount.IsPositive() && !excess.Settled() {
			err := s.settlement.Charge(ctx, tx, ChargeRequest{Rental: rt.Ref(), Leg: excess, Method: rt.PaymentMethod, PayerID: rt.RenterID})
			if err != nil {
				if domain.KindOf(err) == domain.KindPaymentFailed {
					return domain.NewPaymentFailed("EXCESS_PAYMENT_FAILED", "the excess charge was declined; the return was not recorded", err)
				}
				return err
			}
			rt.Emit(domain.EventPaymentSucceeded, actor.UserID, now, map[string]string{"leg": string(domain.LegExcess), "transaction_id": excess.TransactionID})
		}

		rt.AddLog("renter_return_handover", role, actor.UserID, now, map[string]string{
			"odometer_end": in.OdometerValue.Decimal.String(),
			"total_extras": rt.Breakdown.TotalExtras.String(),
			"notes":        in.Notes,
		})
		return nil
	})
}

func (s *selfDriveService) OwnerReturnHandover(ctx context.Context, actor domain.Actor, id int32, in OwnerReturnInput) (*domain.SelfDriveRental, error) {
	return s.transition(ctx, "OwnerReturnHandover", actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, now time.Time) error {
		if rt.Contract == nil || !rt.Contract.RenterReturnDone {
			return domain.NewGuardViolation("RENTER_RETURN_REQUIRED", "the renter must return the car first")
		}
		c := rt.Contract
		if c.OwnerReturnDone {
			return domain.NewAlreadyDone("ALREADY_DONE", "owner return handover was already completed")
		}
		p := &rt.Payment
		cash := rt.PaymentMethod == domain.PaymentMethodCash
		if cash && p.Excess.Amount.IsPositive() && !p.Excess.Settled() {
			if !in.ConfirmExcessCash {
				return domain.NewGuardViolation("EXCESS_CASH_CONFIRM_REQUIRED", "confirm that the excess was received in cash")
			}
			if err := s.settlement.ConfirmCash(&p.Excess, now); err != nil {
				return err
			}
		}
		if !p.Remaining.Settled() {
			return domain.NewGuardViolation("REMAINING_NOT_PAID", "the remaining amount has not been paid")
		}
		if p.Excess.Amount.IsPositive() && !p.Excess.Settled() {
			return domain.NewGuardViolation("EXCESS_NOT_PAID", "the excess has not been paid")
		}

		c.OwnerReturnDone = true
		c.OwnerReturnAt = &now
		if err := rt.TransitionTo(domain.SelfDriveStatusFinished, actor.UserID, now); err != nil {
			return err
		}
		rt.AddLog("owner_return_handover", role, actor.UserID, now, map[string]string{"notes": in.Notes})
		rt.Emit(domain.EventOwnerReturnHandover, actor.UserID, now, nil)
		rt.Emit(domain.EventTripFinished, actor.UserID, now, nil)

		b := rt.Breakdown
		held := decimal.Zero
		if p.Deposit.Status == domain.LegStatusPaid {
			held = p.Deposit.Amount
		}
		w, err := s.settlement.ReleaseEarnings(ctx, tx, EarningsRequest{
			Rental:        rt.Ref(),
			Method:        rt.PaymentMethod,
			OwnerID:       rt.OwnerID,
			OwnerEarnings: b.OwnerEarnings,
			PlatformFee:   b.PlatformEarnings,
			HeldDeposit:   held,
		})
		if err != nil {
			return err
		}
		rt.AddLog("revenue_settled", domain.ActorRoleSystem, 0, now, map[string]string{
			"owner_earnings":    b.OwnerEarnings.String(),
			"platform_earnings": b.PlatformEarnings.String(),
			"owner_balance":     w.Balance.String(),
		})
		warnOwnerFloor(rt.AddLog, s.calc.Policy(), w, rt.OwnerID, now)
		rt.Emit(domain.EventRevenueSettled, actor.UserID, now, map[string]string{"owner_earnings": b.OwnerEarnings.String()})
		return nil
	})
}

func (s *selfDriveService) Cancel(ctx context.Context, actor domain.Actor, id int32, reason string) (*domain.SelfDriveRental, error) {
	return s.transition(ctx, "Cancel", actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, now time.Time) error {
		if rt.AnyHandoverDone() {
			return domain.NewGuardViolation("HANDOVER_ALREADY_DONE", "a rental cannot be canceled after handover started")
		}
		if rt.Status == domain.SelfDriveStatusCanceled {
			return domain.NewAlreadyDone("ALREADY_CANCELED", "the rental is already canceled")
		}
		if !rt.Status.CanTransition(domain.SelfDriveStatusCanceled) {
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

		if err := rt.TransitionTo(domain.SelfDriveStatusCanceled, actor.UserID, now); err != nil {
			return err
		}
		rt.AddLog("cancel", role, actor.UserID, now, details)
		rt.Emit(domain.EventRentalCanceled, actor.UserID, now, map[string]string{"reason": reason})
		return nil
	})
}

func (s *selfDriveService) ConfirmRemainingCashReceived(ctx context.Context, actor domain.Actor, id int32) (*domain.SelfDriveRental, error) {
	return s.confirmCash(ctx, "ConfirmRemainingCashReceived", actor, id, domain.LegRemaining)
}

func (s *selfDriveService) ConfirmExcessCashReceived(ctx context.Context, actor domain.Actor, id int32) (*domain.SelfDriveRental, error) {
	return s.confirmCash(ctx, "ConfirmExcessCashReceived", actor, id, domain.LegExcess)
}

func (s *selfDriveService) confirmCash(ctx context.Context, method string, actor domain.Actor, id int32, name domain.LegName) (*domain.SelfDriveRental, error) {
	return s.transition(ctx, method, actor, id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, now time.Time) error {
		if rt.PaymentMethod != domain.PaymentMethodCash {
			return domain.NewGuardViolation("NOT_CASH", "the rental is not paid in cash")
		}
		if !rt.Payment.Deposit.Settled() {
			return domain.NewGuardViolation("DEPOSIT_REQUIRED", "the deposit must be paid first")
		}
		leg := &rt.Payment.Remaining
		if name == domain.LegExcess {
			leg = &rt.Payment.Excess
			if rt.Contract == nil || !rt.Contract.RenterReturnDone {
				return domain.NewGuardViolation("RENTER_RETURN_REQUIRED", "the excess is confirmed once the car is returned")
			}
			if !leg.Amount.IsPositive() {
				return domain.NewGuardViolation("NO_EXCESS", "there is no excess to confirm")
			}
		}
		if err := s.settlement.ConfirmCash(leg, now); err != nil {
			return err
		}
		rt.UpdatedAt = now
		rt.AddLog("confirm_"+string(name)+"_cash", role, actor.UserID, now, map[string]string{"amount": leg.Amount.String()})
		rt.Emit(domain.EventCashConfirmed, actor.UserID, now, map[string]string{"leg": string(name)})
		return nil
	})
}

func (s *selfDriveService) RecalculateInvoice(ctx context.Context, actor domain.Actor, id int32) (*Invoice, error) {
	rt, err := s.transition(ctx, "RecalculateInvoice", actor, id, participantRole, func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, now time.Time) error {
		if rt.Status != domain.SelfDriveStatusOngoing {
			return domain.NewGuardViolation("INVALID_STATUS", "the invoice can only be recalculated during the rental")
		}
		rt.UpdatedAt = now
		rt.AddLog("recalculate_invoice", role, actor.UserID, now, nil)
		rt.Emit(domain.EventInvoiceRecalculationRequired, actor.UserID, now, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.invoice(rt), nil
}

func (s *selfDriveService) Invoice(ctx context.Context, actor domain.Actor, id int32) (*Invoice, error) {
	rt, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.invoice(rt), nil
}

var hundred = decimal.NewFromInt(100)

func (s *selfDriveService) invoice(rt *domain.SelfDriveRental) *Invoice {
	b := rt.Breakdown
	surcharge := s.calc.Policy().LateSurcharge
	return &Invoice{
		RentalID:      rt.ID,
		Status:        rt.Status,
		PaymentMethod: rt.PaymentMethod,
		Breakdown:     b,
		Payment:       rt.Payment,
		Excess: ExcessDetails{
			ExcessAmount:          b.TotalExtras,
			ExtraKm:               b.ExtraKm,
			ExtraKmRate:           rt.Prices.ExtraKmRate,
			ExtraKmFee:            b.ExtraKmFee,
			LateDays:              b.LateDays,
			LateFeePerDay:         b.DailyPrice.Mul(decimal.NewFromInt(1).Add(surcharge)),
			LateFeeServicePercent: surcharge.Mul(hundred).IntPart(),
			LateFee:               b.LateFee,
		},
	}
}

func (s *selfDriveService) ExpireDeposits(ctx context.Context, now time.Time) (int, error) {
	log := logger.WithJob("expire-deposits")

	var ids []int32
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		ids, err = tx.SelfDrive().ListDepositExpired(ctx, now)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list expired deposits: %w", err)
	}

	canceled := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return canceled, err
		}
		expired := false
		_, err := s.transition(ctx, "ExpireDeposits", domain.SystemActor(), id, ownerRole, func(ctx context.Context, tx repository.Tx, rt *domain.SelfDriveRental, role domain.ActorRole, _ time.Time) error {
			// The renter may have paid since the candidates were listed.
			if !depositExpired(rt, now) {
				return nil
			}
			expired = true
			return expire(rt, role, 0, now)
		})
		if err != nil {
			log.Error("Failed to expire deposit", "rentalID", id, "error", err)
			continue
		}
		if expired {
			canceled++
		}
	}
	if canceled > 0 {
		log.Info("Expired unpaid deposits", "canceled", canceled, "candidates", len(ids))
	}
	return canceled, nil
}
