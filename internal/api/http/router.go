package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"cark-backend/internal/security"
	"cark-backend/internal/service"
)

// Services are the workflows the HTTP API exposes.
type Services struct {
	Rentals   service.RentalService
	SelfDrive service.SelfDriveService
	Ledger    service.LedgerService
}

// NewRouter registers every route behind the logging and auth middleware.
func NewRouter(svc Services, tm security.TokenManager) *mux.Router {
	router := mux.NewRouter()
	router.Use(LoggingMiddleware, NewAuthMiddleware(tm).Handler)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	RegisterRentalRoutes(api, NewRentalHandler(svc.Rentals))
	RegisterSelfDriveRoutes(api, NewSelfDriveHandler(svc.SelfDrive))
	RegisterWalletRoutes(api, NewWalletHandler(svc.Ledger))
	return router
}

func RegisterRentalRoutes(r *mux.Router, h *RentalHandler) {
	r.HandleFunc("/rentals", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/rentals/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/rentals/{id}/calculate-costs", h.CalculateCosts).Methods(http.MethodPost)
	r.HandleFunc("/rentals/{id}/confirm", h.Confirm).Methods(http.MethodPost)
	r.HandleFunc("/rentals/{id}/start-trip", h.StartTrip).Methods(http.MethodPost)
	r.HandleFunc("/rentals/{id}/stop-arrival", h.StopArrival).Methods(http.MethodPost)
	r.HandleFunc("/rentals/{id}/end-waiting", h.EndWaiting).Methods(http.MethodPost)
	r.HandleFunc("/rentals/{id}/end-trip", h.EndTrip).Methods(http.MethodPost)
	r.HandleFunc("/rentals/{id}/payout", h.Payout).Methods(http.MethodPost)
	r.HandleFunc("/rentals/{id}/cancel", h.Cancel).Methods(http.MethodPost)
	r.HandleFunc("/rentals/{id}/confirm-cash", h.ConfirmCash).Methods(http.MethodPost)
}

func RegisterSelfDriveRoutes(r *mux.Router, h *SelfDriveHandler) {
	r.HandleFunc("/selfdrive-rentals", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}", h.Get).Methods(http.MethodGet)
	r.HandleFunc("/selfdrive-rentals/{id}/confirm-by-owner", h.ConfirmByOwner).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}/deposit-paid", h.DepositPaid).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}/deposit-payment", h.DepositPayment).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}/owner-pickup-handover", h.OwnerPickupHandover).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}/renter-pickup-handover", h.RenterPickupHandover).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}/renter-return-handover", h.RenterReturnHandover).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}/renter-dropoff-handover", h.RenterReturnHandover).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}/owner-return-handover", h.OwnerReturnHandover).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}/cancel", h.Cancel).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}/recalculate-invoice", h.RecalculateInvoice).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}/invoice", h.Invoice).Methods(http.MethodGet)
	r.HandleFunc("/selfdrive-rentals/{id}/confirm-remaining-cash", h.ConfirmRemainingCash).Methods(http.MethodPost)
	r.HandleFunc("/selfdrive-rentals/{id}/confirm-excess-cash", h.ConfirmExcessCash).Methods(http.MethodPost)
}

func RegisterWalletRoutes(r *mux.Router, h *WalletHandler) {
	r.HandleFunc("/wallet", h.Balance).Methods(http.MethodGet)
	r.HandleFunc("/wallet/transactions", h.Transactions).Methods(http.MethodGet)
	r.HandleFunc("/wallet/summary", h.Summary).Methods(http.MethodGet)
	r.HandleFunc("/admin/wallets/{user_id}/top-up", h.TopUp).Methods(http.MethodPost)
}
