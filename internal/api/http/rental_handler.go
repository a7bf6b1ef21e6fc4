package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"cark-backend/internal/domain"
	"cark-backend/internal/service"
)

// RentalHandler serves the chauffeured rental workflow.
type RentalHandler struct {
	rentals service.RentalService
}

func NewRentalHandler(rentals service.RentalService) *RentalHandler {
	return &RentalHandler{rentals: rentals}
}

type calculateCostsRequest struct {
	PlannedKm      decimal.Decimal `json:"planned_km"`
	WaitingMinutes int             `json:"approx_waiting_time_minutes"`
}

type stopArrivalRequest struct {
	StopOrder        int       `json:"stop_order"`
	WaitingStartedAt time.Time `json:"waiting_started_at"`
}

type endWaitingRequest struct {
	StopOrder     int       `json:"stop_order"`
	ActualMinutes int       `json:"actual_waiting_minutes"`
	EndedAt       time.Time `json:"ended_at"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// pathID parses the {id} route variable.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int32, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 32)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "invalid "+name)
		return 0, false
	}
	return int32(id), true
}

// request resolves the caller and the rental id shared by every route.
func request(w http.ResponseWriter, r *http.Request) (domain.Actor, int32, bool) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no authenticated caller")
		return domain.Actor{}, 0, false
	}
	id, ok := pathID(w, r, "id")
	return actor, id, ok
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func (h *RentalHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no authenticated caller")
		return
	}
	var in service.CreateRentalInput
	if !decodeBody(w, r, &in) {
		return
	}
	rt, err := h.rentals.Create(r.Context(), actor, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (h *RentalHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.rentals.Get(r.Context(), actor, id))
}

func (h *RentalHandler) CalculateCosts(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	var req calculateCostsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, r)(h.rentals.CalculateCosts(r.Context(), actor, id, req.PlannedKm, req.WaitingMinutes))
}

func (h *RentalHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.rentals.Confirm(r.Context(), actor, id))
}

func (h *RentalHandler) StartTrip(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.rentals.StartTrip(r.Context(), actor, id))
}

func (h *RentalHandler) StopArrival(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	var req stopArrivalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, r)(h.rentals.StopArrival(r.Context(), actor, id, req.StopOrder, orNow(req.WaitingStartedAt)))
}

func (h *RentalHandler) EndWaiting(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	var req endWaitingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, r)(h.rentals.EndWaiting(r.Context(), actor, id, req.StopOrder, req.ActualMinutes, orNow(req.EndedAt)))
}

func (h *RentalHandler) EndTrip(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.rentals.EndTrip(r.Context(), actor, id))
}

func (h *RentalHandler) Payout(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.rentals.Payout(r.Context(), actor, id))
}

func (h *RentalHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.respond(w, r)(h.rentals.Cancel(r.Context(), actor, id, req.Reason))
}

func (h *RentalHandler) ConfirmCash(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := request(w, r)
	if !ok {
		return
	}
	h.respond(w, r)(h.rentals.ConfirmCashReceived(r.Context(), actor, id))
}

func (h *RentalHandler) respond(w http.ResponseWriter, r *http.Request) func(*domain.Rental, error) {
	return func(rt *domain.Rental, err error) {
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rt)
	}
}
