package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type RentalStatus string

const (
	RentalStatusPending   RentalStatus = "Pending"
	RentalStatusConfirmed RentalStatus = "Confirmed"
	RentalStatusOngoing   RentalStatus = "Ongoing"
	RentalStatusFinished  RentalStatus = "Finished"
	RentalStatusCanceled  RentalStatus = "Canceled"
)

// RentalTransitions is the chauffeured rental transition table.
var RentalTransitions = map[RentalStatus][]RentalStatus{
	RentalStatusPending:   {RentalStatusConfirmed, RentalStatusCanceled},
	RentalStatusConfirmed: {RentalStatusOngoing, RentalStatusCanceled},
	RentalStatusOngoing:   {RentalStatusFinished},
}

func (s RentalStatus) CanTransition(to RentalStatus) bool {
	for _, next := range RentalTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Stop struct {
	ID                    int32      `json:"id"`
	Order                 int        `json:"stop_order"`
	Location              Location   `json:"location"`
	PlannedWaitingMinutes int        `json:"planned_waiting_minutes"`
	ActualWaitingMinutes  int        `json:"actual_waiting_minutes"`
	WaitingStartedAt      *time.Time `json:"waiting_started_at,omitempty"`
	WaitingEndedAt        *time.Time `json:"waiting_ended_at,omitempty"`
	LocationVerified      bool       `json:"location_verified"`
	Completed             bool       `json:"is_completed"`
}

type PlannedTrip struct {
	PlannedKm decimal.Decimal `json:"planned_km"`
	Stops     []Stop          `json:"stops"`
}

func (t *PlannedTrip) PlannedWaitingMinutes() int {
	total := 0
	for _, s := range t.Stops {
		total += s.PlannedWaitingMinutes
	}
	return total
}

func (t *PlannedTrip) ActualWaitingMinutes() int {
	total := 0
	for _, s := range t.Stops {
		total += s.ActualWaitingMinutes
	}
	return total
}

// RentalBreakdown holds every computed money figure of a chauffeured rental.
// The pre-trip quote is fixed once money moves; the post-trip fields are
// filled by end of trip.
type RentalBreakdown struct {
	DurationDays          int             `json:"duration_days"`
	AllowedKm             decimal.Decimal `json:"allowed_km"`
	PlannedKm             decimal.Decimal `json:"planned_km"`
	ExtraKm               decimal.Decimal `json:"extra_km"`
	ExtraKmCost           decimal.Decimal `json:"extra_km_cost"`
	PlannedWaitingMinutes int             `json:"planned_waiting_minutes"`
	WaitingCost           decimal.Decimal `json:"waiting_cost"`
	BaseCost              decimal.Decimal `json:"base_cost"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	Buffer                decimal.Decimal `json:"buffer"`
	FinalCost             decimal.Decimal `json:"final_cost"`
	Deposit               decimal.Decimal `json:"deposit"`
	Remaining             decimal.Decimal `json:"remaining"`
	CommissionRate        decimal.Decimal `json:"commission_rate"`
	PlatformFee           decimal.Decimal `json:"platform_fee"`
	DriverEarnings        decimal.Decimal `json:"driver_earnings"`

	ActualWaitingMinutes int             `json:"actual_waiting_minutes"`
	ExtraWaitingMinutes  int             `json:"extra_waiting_minutes"`
	ExtraCost            decimal.Decimal `json:"extra_cost"`
	ActualTotal          decimal.Decimal `json:"actual_total"`
	BufferUsed           decimal.Decimal `json:"buffer_used"`
	BufferRefund         decimal.Decimal `json:"buffer_refund"`
	Shortfall            decimal.Decimal `json:"shortfall"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Rental is a chauffeured rental aggregate.
type Rental struct {
	ID            int32           `json:"id"`
	RenterID      int32           `json:"renter_id"`
	CarID         int32           `json:"car_id"`
	OwnerID       int32           `json:"owner_id"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
	Status        RentalStatus    `json:"status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Pickup        Location        `json:"pickup"`
	Dropoff       Location        `json:"dropoff"`
	Prices        PriceSnapshot   `json:"prices"`
	Trip          PlannedTrip     `json:"trip"`
	Breakdown     RentalBreakdown `json:"breakdown"`
	Payment       RentalPayment   `json:"payment"`
	PayoutAt      *time.Time      `json:"payout_at,omitempty"`
	Logs          []RentalLog     `json:"logs"`
	History       []StatusChange  `json:"status_history"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	Events []Event `json:"-"`
}

func (r *Rental) Ref() RentalRef {
	return RentalRef{Kind: RentalKindChauffeured, ID: r.ID}
}

// TransitionTo moves the rental along the transition table and records the
// change in the status history.
func (r *Rental) TransitionTo(to RentalStatus, actorID int32, at time.Time) error {
	if !r.Status.CanTransition(to) {
		return NewGuardViolation("INVALID_STATUS", fmt.Sprintf("rental cannot move from %s to %s", r.Status, to))
	}
	r.History = append(r.History, StatusChange{
		OldStatus: string(r.Status),
		NewStatus: string(to),
		ActorID:   actorID,
		CreatedAt: at,
	})
	r.Status = to
	r.UpdatedAt = at
	return nil
}

func (r *Rental) AddLog(event string, role ActorRole, actorID int32, at time.Time, details map[string]string) {
	r.Logs = append(r.Logs, RentalLog{
		Event:     event,
		ActorRole: role,
		ActorID:   actorID,
		Details:   details,
		CreatedAt: at,
	})
}

func (r *Rental) Emit(t EventType, actorID int32, at time.Time, data map[string]string) {
	r.Events = append(r.Events, Event{
		Type:       t,
		Rental:     r.Ref(),
		Status:     string(r.Status),
		ActorID:    actorID,
		OccurredAt: at,
		Data:       data,
	})
}

// Stop returns the stop with the given order, or nil.
func (r *Rental) Stop(order int) *Stop {
	for i := range r.Trip.Stops {
		if r.Trip.Stops[i].Order == order {
			return &r.Trip.Stops[i]
		}
	}
	return nil
}

func (r *Rental) LastStop() *Stop {
	var last *Stop
	for i := range r.Trip.Stops {
		if last == nil || r.Trip.Stops[i].Order > last.Order {
			last = &r.Trip.Stops[i]
		}
	}
	return last
}

// HasLog reports whether an entry for event was already recorded.
func (r *Rental) HasLog(event string) bool {
	for _, l := range r.Logs {
		if l.Event == event {
			return true
		}
	}
	return false
}
