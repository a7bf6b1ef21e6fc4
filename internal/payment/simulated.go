package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cark-backend/internal/logger"
)

// SimulatedGateway approves every request unless the amount exceeds
// DeclineAbove or Decline returns true. It stands in for a real provider in
// development and tests.
type SimulatedGateway struct {
	// DeclineAbove declines charges strictly above this amount. Zero disables
	// the threshold.
	DeclineAbove decimal.Decimal
	// Decline, when set, declines any charge it returns true for.
	Decline func(req ChargeRequest) bool
	now     func() time.Time
}

func NewSimulatedGateway(declineAbove decimal.Decimal) *SimulatedGateway {
	return &SimulatedGateway{DeclineAbove: declineAbove, now: time.Now}
}

func (g *SimulatedGateway) Charge(ctx context.Context, req ChargeRequest) (*Result, error) {
	logger.ExternalServiceCall("payment-gateway", "Charge", "payerID", req.PayerID, "amount", req.Amount.String(), "method", req.Method, "reference", req.Reference)
	if err := ctx.Err(); err != nil {
		logger.ExternalServiceResult("payment-gateway", "Charge", err)
		return nil, err
	}

	if g.declines(req) {
		res := &Result{
			Success:     false,
			Message:     fmt.Sprintf("charge of %s declined", req.Amount.StringFixed(2)),
			Status:      StatusDeclined,
			ProcessedAt: g.clock(),
		}
		logger.ExternalServiceResult("payment-gateway", "Charge", nil, "status", res.Status)
		return res, nil
	}

	res := &Result{
		Success:       true,
		TransactionID: "SIM-" + uuid.NewString(),
		Message:       "charge approved",
		Status:        StatusSucceeded,
		ProcessedAt:   g.clock(),
	}
	logger.ExternalServiceResult("payment-gateway", "Charge", nil, "status", res.Status, "transactionID", res.TransactionID)
	return res, nil
}

func (g *SimulatedGateway) Refund(ctx context.Context, req RefundRequest) (*Result, error) {
	logger.ExternalServiceCall("payment-gateway", "Refund", "payerID", req.PayerID, "amount", req.Amount.String(), "reference", req.Reference)
	if err := ctx.Err(); err != nil {
		logger.ExternalServiceResult("payment-gateway", "Refund", err)
		return nil, err
	}

	res := &Result{
		Success:       true,
		TransactionID: "SIM-REFUND-" + uuid.NewString(),
		Message:       "refund issued",
		Status:        StatusSucceeded,
		ProcessedAt:   g.clock(),
	}
	logger.ExternalServiceResult("payment-gateway", "Refund", nil, "transactionID", res.TransactionID)
	return res, nil
}

func (g *SimulatedGateway) declines(req ChargeRequest) bool {
	if g.Decline != nil && g.Decline(req) {
		return true
	}
	return g.DeclineAbove.IsPositive() && req.Amount.GreaterThan(g.DeclineAbove)
}

func (g *SimulatedGateway) clock() time.Time {
	if g.now == nil {
		return time.Now()
	}
	return g.now()
}
