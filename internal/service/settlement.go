package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cark-backend/internal/domain"
	"cark-backend/internal/logger"
	"cark-backend/internal/payment"
	"cark-backend/internal/pricing"
	"cark-backend/internal/repository"
)

type ChargeRequest struct {
	Rental  domain.RentalRef
	Leg     *domain.PaymentLeg
	Method  domain.PaymentMethod
	PayerID int32
}

type ExternalPayment struct {
	Rental        domain.RentalRef
	Leg           *domain.PaymentLeg
	Method        domain.PaymentMethod
	PayerID       int32
	TransactionID string
}

type RefundDestination string

const (
	// RefundToWallet credits the renter's wallet from escrow.
	RefundToWallet RefundDestination = "wallet"
	// RefundToOriginal sends card refunds back through the gateway; other
	// methods fall back to the wallet.
	RefundToOriginal RefundDestination = "original"
)

type RefundRequest struct {
	Rental      domain.RentalRef
	Leg         *domain.PaymentLeg
	Amount      decimal.Decimal
	Method      domain.PaymentMethod
	PayerID     int32
	Destination RefundDestination
}

type BufferSettlementRequest struct {
	Rental    domain.RentalRef
	Payment   *domain.RentalPayment
	ExtraCost decimal.Decimal
	Method    domain.PaymentMethod
	PayerID   int32
}

type EarningsRequest struct {
	Rental        domain.RentalRef
	Method        domain.PaymentMethod
	OwnerID       int32
	OwnerEarnings decimal.Decimal
	PlatformFee   decimal.Decimal
	// HeldDeposit is the part of a cash rental collected electronically and
	// still sitting in escrow.
	HeldDeposit decimal.Decimal
}

type settlementCoordinator struct {
	gateway payment.Gateway
	now     Clock
}

func NewSettlementCoordinator(gateway payment.Gateway, now Clock) SettlementCoordinator {
	return &settlementCoordinator{gateway: gateway, now: now.orDefault()}
}

func (c *settlementCoordinator) Charge(ctx context.Context, tx repository.Tx, req ChargeRequest) error {
	leg := req.Leg
	if leg.Settled() {
		return domain.NewAlreadyPaid("ALREADY_PAID", fmt.Sprintf("%s payment was already made", leg.Name))
	}
	if !req.Method.Valid() {
		return domain.NewInvalidInput("INVALID_PAYMENT_METHOD", fmt.Sprintf("unknown payment method %q", req.Method))
	}
	now := c.now()
	if req.Method == domain.PaymentMethodCash {
		leg.Status = domain.LegStatusPending
		leg.UpdatedAt = now
		return nil
	}
	if leg.Amount.IsNegative() {
		return domain.NewInvalidAmount(fmt.Sprintf("%s amount is negative", leg.Name))
	}
	if leg.Amount.IsZero() {
		c.markPaid(leg, "", now)
		return nil
	}

	book := newLedgerBook(tx.Ledger(), c.now)
	payer := domain.UserAccount(req.PayerID)
	reference := req.Rental.LegReference(leg.Name)

	if req.Method == domain.PaymentMethodWallet {
		if err := book.lockAll(ctx, payer, domain.AccountPlatformEscrow); err != nil {
			return err
		}
		ok, err := book.canDebit(ctx, payer, leg.Amount, domain.TransactionTypeRentalPayment)
		if err != nil {
			return err
		}
		if !ok {
			c.markFailed(leg, now)
			return domain.NewPaymentFailed("INSUFFICIENT_FUNDS", "wallet balance does not cover the payment", domain.NewInsufficientFunds(payer))
		}
	} else if err := book.lockAll(ctx, domain.AccountPlatformEscrow); err != nil {
		return err
	}

	logger.ExternalServiceCall("payment-gateway", "Charge", "reference", reference, "amount", leg.Amount.String())
	res, err := c.gateway.Charge(ctx, payment.ChargeRequest{
		PayerID:   req.PayerID,
		Amount:    leg.Amount,
		Method:    req.Method,
		Reference: reference,
	})
	if err != nil {
		logger.ExternalServiceResult("payment-gateway", "Charge", err, "reference", reference)
		return fmt.Errorf("payment gateway charge for %s failed: %w", reference, err)
	}
	if !res.Success {
		c.markFailed(leg, now)
		logger.Warn("Payment declined", "reference", reference, "message", res.Message)
		return domain.NewPaymentFailed("PAYMENT_FAILED", res.Message, nil)
	}

	description := fmt.Sprintf("%s payment for %s", leg.Name, req.Rental)
	if req.Method == domain.PaymentMethodWallet {
		_, _, err = book.transfer(ctx, TransferRequest{
			From:        payer,
			To:          domain.AccountPlatformEscrow,
			Amount:      leg.Amount,
			DebitType:   domain.TransactionTypeRentalPayment,
			CreditType:  domain.TransactionTypeEscrowHold,
			Reference:   reference,
			Description: description,
		})
	} else {
		_, err = book.credit(ctx, Posting{
			Account:     domain.AccountPlatformEscrow,
			Amount:      leg.Amount,
			Type:        domain.TransactionTypeExternalCharge,
			Reference:   reference,
			Description: description,
		})
	}
	if err != nil {
		return err
	}

	c.markPaid(leg, res.TransactionID, now)
	return nil
}

func (c *settlementCoordinator) RecordPayment(ctx context.Context, tx repository.Tx, p ExternalPayment) error {
	leg := p.Leg
	if leg.Settled() {
		return domain.NewAlreadyPaid("ALREADY_PAID", fmt.Sprintf("%s payment was already made", leg.Name))
	}
	if !p.Method.Valid() {
		return domain.NewInvalidInput("INVALID_PAYMENT_METHOD", fmt.Sprintf("unknown payment method %q", p.Method))
	}
	if leg.Amount.IsNegative() {
		return domain.NewInvalidAmount(fmt.Sprintf("%s amount is negative", leg.Name))
	}

	txID := p.TransactionID
	if txID == "" {
		txID = "EXT-" + uuid.NewString()
	}
	now := c.now()
	if leg.Amount.IsZero() {
		c.markPaid(leg, txID, now)
		return nil
	}

	book := newLedgerBook(tx.Ledger(), c.now)
	reference := p.Rental.LegReference(leg.Name)
	description := fmt.Sprintf("%s payment for %s (%s)", leg.Name, p.Rental, txID)
	var err error
	if p.Method == domain.PaymentMethodWallet {
		_, _, err = book.transfer(ctx, TransferRequest{
			From:        domain.UserAccount(p.PayerID),
			To:          domain.AccountPlatformEscrow,
			Amount:      leg.Amount,
			DebitType:   domain.TransactionTypeRentalPayment,
			CreditType:  domain.TransactionTypeEscrowHold,
			Reference:   reference,
			Description: description,
		})
	} else {
		_, err = book.credit(ctx, Posting{
			Account:     domain.AccountPlatformEscrow,
			Amount:      leg.Amount,
			Type:        domain.TransactionTypeExternalCharge,
			Reference:   reference,
			Description: description,
		})
	}
	if err != nil {
		return err
	}

	c.markPaid(leg, txID, now)
	return nil
}

func (c *settlementCoordinator) ConfirmCash(leg *domain.PaymentLeg, at time.Time) error {
	switch leg.Status {
	case domain.LegStatusConfirmed:
		return domain.NewAlreadyDone("ALREADY_CONFIRMED", fmt.Sprintf("%s cash was already confirmed", leg.Name))
	case domain.LegStatusPaid:
		return domain.NewAlreadyPaid("ALREADY_PAID", fmt.Sprintf("%s was already paid electronically", leg.Name))
	}
	leg.Status = domain.LegStatusConfirmed
	leg.PaidAt = &at
	leg.UpdatedAt = at
	return nil
}

func (c *settlementCoordinator) Refund(ctx context.Context, tx repository.Tx, req RefundRequest) error {
	leg := req.Leg
	if leg.Refunded() {
		return domain.NewAlreadyDone("ALREADY_REFUNDED", fmt.Sprintf("%s was already refunded", leg.Name))
	}
	// Only electronically collected legs are held in escrow.
	if leg.Status != domain.LegStatusPaid {
		return domain.NewGuardViolation("NOT_REFUNDABLE", fmt.Sprintf("%s is %s and cannot be refunded", leg.Name, leg.Status))
	}
	if !req.Amount.IsPositive() || req.Amount.GreaterThan(leg.Amount) {
		return domain.NewInvalidAmount(fmt.Sprintf("refund of %s must be positive and at most %s", req.Amount, leg.Amount))
	}

	now := c.now()
	book := newLedgerBook(tx.Ledger(), c.now)
	reference := req.Rental.LegReference(leg.Name)
	description := fmt.Sprintf("%s refund for %s", leg.Name, req.Rental)

	var refundID string
	if req.Destination == RefundToOriginal && req.Method == domain.PaymentMethodCard {
		if err := book.lockAll(ctx, domain.AccountPlatformEscrow); err != nil {
			return err
		}
		logger.ExternalServiceCall("payment-gateway", "Refund", "reference", reference, "amount", req.Amount.String())
		res, err := c.gateway.Refund(ctx, payment.RefundRequest{
			PayerID:               req.PayerID,
			Amount:                req.Amount,
			Method:                req.Method,
			Reference:             reference,
			OriginalTransactionID: leg.TransactionID,
		})
		if err != nil {
			logger.ExternalServiceResult("payment-gateway", "Refund", err, "reference", reference)
			return fmt.Errorf("payment gateway refund for %s failed: %w", reference, err)
		}
		if !res.Success {
			return domain.NewPaymentFailed("REFUND_FAILED", res.Message, nil)
		}
		if _, err := book.debit(ctx, Posting{
			Account:     domain.AccountPlatformEscrow,
			Amount:      req.Amount,
			Type:        domain.TransactionTypeExternalRefund,
			Reference:   reference,
			Description: description,
		}); err != nil {
			return err
		}
		refundID = res.TransactionID
	} else {
		if _, _, err := book.transfer(ctx, TransferRequest{
			From:        domain.AccountPlatformEscrow,
			To:          domain.UserAccount(req.PayerID),
			Amount:      req.Amount,
			DebitType:   domain.TransactionTypeEscrowRelease,
			CreditType:  domain.TransactionTypeRentalRefund,
			Reference:   reference,
			Description: description,
		}); err != nil {
			return err
		}
		refundID = fmt.Sprintf("REFUND-%s-%d-%d", req.Rental.Kind, req.Rental.ID, now.Unix())
	}

	leg.RefundedAmount = req.Amount
	leg.RefundedAt = &now
	leg.RefundTransactionID = refundID
	leg.UpdatedAt = now
	if req.Amount.Equal(leg.Amount) {
		leg.Status = domain.LegStatusRefunded
	} else {
		leg.Status = domain.LegStatusPartiallyRefunded
	}
	return nil
}

func (c *settlementCoordinator) SettleBuffer(ctx context.Context, tx repository.Tx, req BufferSettlementRequest) (pricing.BufferSettlement, error) {
	buffer := &req.Payment.Buffer
	if buffer.Refunded() || buffer.Status == domain.LegStatusNothingToRefund {
		return pricing.BufferSettlement{}, domain.NewAlreadyDone("BUFFER_ALREADY_SETTLED", "the buffer was already settled")
	}

	settlement := pricing.SettleBuffer(buffer.Amount, req.ExtraCost)
	switch {
	case settlement.Refund.IsPositive():
		err := c.Refund(ctx, tx, RefundRequest{
			Rental:      req.Rental,
			Leg:         buffer,
			Amount:      settlement.Refund,
			Method:      req.Method,
			PayerID:     req.PayerID,
			Destination: RefundToOriginal,
		})
		if err != nil {
			return settlement, err
		}
	case settlement.Shortfall.IsPositive():
		excess := &req.Payment.Excess
		excess.Amount = settlement.Shortfall
		if err := c.Charge(ctx, tx, ChargeRequest{Rental: req.Rental, Leg: excess, Method: req.Method, PayerID: req.PayerID}); err != nil {
			return settlement, err
		}
		c.markNothingToRefund(buffer)
	default:
		c.markNothingToRefund(buffer)
	}
	return settlement, nil
}

func (c *settlementCoordinator) ReleaseEarnings(ctx context.Context, tx repository.Tx, req EarningsRequest) (*domain.Wallet, error) {
	book := newLedgerBook(tx.Ledger(), c.now)
	owner := domain.UserAccount(req.OwnerID)
	if err := book.lockAll(ctx, owner, domain.AccountPlatformEscrow, domain.AccountPlatformRevenue); err != nil {
		return nil, err
	}

	reference := req.Rental.String() + ":earnings"
	var transfers []TransferRequest
	if req.Method.IsElectronic() {
		transfers = append(transfers,
			TransferRequest{
				From: domain.AccountPlatformEscrow, To: owner, Amount: req.OwnerEarnings,
				DebitType: domain.TransactionTypeEscrowRelease, CreditType: domain.TransactionTypeOwnerEarnings,
				Description: fmt.Sprintf("owner earnings for %s", req.Rental),
			},
			TransferRequest{
				From: domain.AccountPlatformEscrow, To: domain.AccountPlatformRevenue, Amount: req.PlatformFee,
				DebitType: domain.TransactionTypeEscrowRelease, CreditType: domain.TransactionTypePlatformRevenue,
				Description: fmt.Sprintf("platform fee for %s", req.Rental),
			},
		)
	} else {
		transfers = append(transfers,
			TransferRequest{
				From: domain.AccountPlatformEscrow, To: owner, Amount: req.HeldDeposit,
				DebitType: domain.TransactionTypeEscrowRelease, CreditType: domain.TransactionTypeOwnerEarnings,
				Description: fmt.Sprintf("held deposit for %s", req.Rental),
			},
			TransferRequest{
				From: owner, To: domain.AccountPlatformRevenue, Amount: req.PlatformFee,
				DebitType: domain.TransactionTypePlatformCommission, CreditType: domain.TransactionTypePlatformRevenue,
				Description: fmt.Sprintf("platform commission for %s", req.Rental),
			},
		)
	}

	for _, t := range transfers {
		if !t.Amount.IsPositive() {
			continue
		}
		t.Reference = reference
		if _, _, err := book.transfer(ctx, t); err != nil {
			return nil, err
		}
	}

	w, err := book.wallet(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := *w
	return &out, nil
}

func (c *settlementCoordinator) markPaid(leg *domain.PaymentLeg, txID string, at time.Time) {
	leg.Status = domain.LegStatusPaid
	leg.PaidAt = &at
	leg.TransactionID = txID
	leg.UpdatedAt = at
}

func (c *settlementCoordinator) markFailed(leg *domain.PaymentLeg, at time.Time) {
	leg.Status = domain.LegStatusFailed
	leg.UpdatedAt = at
}

func (c *settlementCoordinator) markNothingToRefund(leg *domain.PaymentLeg) {
	now := c.now()
	leg.Status = domain.LegStatusNothingToRefund
	leg.RefundedAmount = decimal.Zero
	leg.UpdatedAt = now
}
