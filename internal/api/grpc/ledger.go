package grpc

import (
	"context"

	"cark-backend/internal/domain"
	"cark-backend/internal/service"
)

type LedgerHandler struct {
	ledgerSvc service.LedgerService
}

func NewLedgerHandler(ledgerSvc service.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledgerSvc: ledgerSvc}
}

func (h *LedgerHandler) GetBalance(ctx context.Context, req *GetBalanceRequest) (*GetBalanceResponse, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	wallet, err := h.ledgerSvc.GetBalance(ctx, domain.UserAccount(userID))
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetBalanceResponse{Wallet: wallet}, nil
}

func (h *LedgerHandler) ListTransactions(ctx context.Context, req *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	txs, count, err := h.ledgerSvc.ListTransactions(ctx, domain.UserAccount(userID), req.Page, req.PageSize)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListTransactionsResponse{
		Transactions: txs,
		TotalCount:   count,
	}, nil
}

func (h *LedgerHandler) GetLedgerSummary(ctx context.Context, req *GetLedgerSummaryRequest) (*GetLedgerSummaryResponse, error) {
	userID, err := GetUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := h.ledgerSvc.GetSummary(ctx, domain.UserAccount(userID))
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetLedgerSummaryResponse{Summary: summary}, nil
}
