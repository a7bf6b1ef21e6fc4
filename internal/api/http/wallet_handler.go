package http

import (
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"cark-backend/internal/domain"
	"cark-backend/internal/service"
)

// WalletHandler exposes the caller's wallet and the admin top-up.
type WalletHandler struct {
	ledger service.LedgerService
}

func NewWalletHandler(ledger service.LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

type transactionsResponse struct {
	Transactions []domain.LedgerTransaction `json:"transactions"`
	TotalCount   int32                      `json:"total_count"`
	Page         int32                      `json:"page"`
	PageSize     int32                      `json:"page_size"`
}

type topUpRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no authenticated caller")
		return
	}
	wallet, err := h.ledger.GetBalance(r.Context(), domain.UserAccount(actor.UserID))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func queryInt32(r *http.Request, name string, fallback int32) int32 {
	v, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 32)
	if err != nil {
		return fallback
	}
	return int32(v)
}

func (h *WalletHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no authenticated caller")
		return
	}
	page := queryInt32(r, "page", 1)
	pageSize := queryInt32(r, "page_size", 20)
	txs, total, err := h.ledger.ListTransactions(r.Context(), domain.UserAccount(actor.UserID), page, pageSize)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionsResponse{Transactions: txs, TotalCount: total, Page: page, PageSize: pageSize})
}

func (h *WalletHandler) Summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no authenticated caller")
		return
	}
	summary, err := h.ledger.GetSummary(r.Context(), domain.UserAccount(actor.UserID))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *WalletHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no authenticated caller")
		return
	}
	userID, ok := pathID(w, r, "user_id")
	if !ok {
		return
	}
	var req topUpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tx, err := h.ledger.TopUp(r.Context(), actor, userID, req.Amount, req.Reference)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}
