package http

import (
	"net/http"

	"cark-backend/internal/domain"
	"cark-backend/internal/service"
)

// SelfDriveHandler serves the self-drive rental workflow.
type SelfDriveHandler struct {
	selfDrive service.SelfDriveService
}

func NewSelfDriveHandler(selfDrive service.SelfDriveService) *SelfDriveHandler {
	return &SelfDriveHandler{selfDrive: selfDrive}
}

type depositPaidRequest struct {
	TransactionID string `json:"transaction_id"`
}

type depositPaymentRequest struct {
	Type          domain.LegName `json:"type"`
	TransactionID string         `json:"transaction_id"`
}

func (h *SelfDriveHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no authenticated caller")
		return
	}
	var in service.CreateSelfDriveInput
	if !decodeBody(w, r, &in) {
		return
	}
	rt, err := h.selfDrive.Create(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (h *SelfDriveHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.selfDrive.Get(r.Context(), actor, id))
}

func (h *SelfDriveHandler) ConfirmByOwner(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.selfDrive.ConfirmByOwner(r.Context(), actor, id))
}

func (h *SelfDriveHandler) DepositPaid(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	var req depositPaidRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, r)(h.selfDrive.DepositPaid(r.Context(), actor, id, req.TransactionID))
}

func (h *SelfDriveHandler) DepositPayment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	var req depositPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, r)(h.selfDrive.DepositPayment(r.Context(), actor, id, req.Type, req.TransactionID))
}

func (h *SelfDriveHandler) OwnerPickupHandover(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	var in service.OwnerPickupInput
	if !decodeBody(w, r, &in) {
		return
	}
	h.respond(w, r)(h.selfDrive.OwnerPickupHandover(r.Context(), actor, id, in))
}

func (h *SelfDriveHandler) RenterPickupHandover(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	var in service.RenterPickupInput
	if !decodeBody(w, r, &in) {
		return
	}
	h.respond(w, r)(h.selfDrive.RenterPickupHandover(r.Context(), actor, id, in))
}

func (h *SelfDriveHandler) RenterReturnHandover(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	var in service.RenterReturnInput
	if !decodeBody(w, r, &in) {
		return
	}
	h.respond(w, r)(h.selfDrive.RenterReturnHandover(r.Context(), actor, id, in))
}

func (h *SelfDriveHandler) OwnerReturnHandover(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	var in service.OwnerReturnInput
	if !decodeBody(w, r, &in) {
		return
	}
	h.respond(w, r)(h.selfDrive.OwnerReturnHandover(r.Context(), actor, id, in))
}

func (h *SelfDriveHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, r)(h.selfDrive.Cancel(r.Context(), actor, id, req.Reason))
}

func (h *SelfDriveHandler) ConfirmRemainingCash(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.selfDrive.ConfirmRemainingCashReceived(r.Context(), actor, id))
}

func (h *SelfDriveHandler) ConfirmExcessCash(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.selfDrive.ConfirmExcessCashReceived(r.Context(), actor, id))
}

func (h *SelfDriveHandler) RecalculateInvoice(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respondInvoice(w, r)(h.selfDrive.RecalculateInvoice(r.Context(), actor, id))
}

func (h *SelfDriveHandler) Invoice(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respondInvoice(w, r)(h.selfDrive.Invoice(r.Context(), actor, id))
}

func (h *SelfDriveHandler) respond(w http.ResponseWriter, r *http.Request) func(*domain.SelfDriveRental, error) {
	return func(rt *domain.SelfDriveRental, err error) {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rt)
	}
}

func (h *SelfDriveHandler) respondInvoice(w http.ResponseWriter, r *http.Request) func(*service.Invoice, error) {
	return func(inv *service.Invoice, err error) {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	}
}
