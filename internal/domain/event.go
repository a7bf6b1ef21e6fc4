package domain

import "time"

type EventType string

const (
	EventRentalCreated         EventType = "rental_created"
	EventTripParametersChanged EventType = "trip_parameters_changed"
	EventRentalConfirmed       EventType = "rental_confirmed"
	EventTripStarted           EventType = "trip_started"
	EventStopArrived           EventType = "stop_arrived"
	EventWaitingEnded          EventType = "waiting_ended"
	EventTripEnded             EventType = "trip_ended"
	EventPayoutProcessed       EventType = "payout_processed"
	EventRentalCanceled        EventType = "rental_canceled"
	EventCashConfirmed         EventType = "cash_confirmed"
	EventPaymentSucceeded      EventType = "payment_succeeded"
	EventPaymentFailed         EventType = "payment_failed"
	EventRefundIssued          EventType = "refund_issued"

	EventOwnerConfirmed               EventType = "owner_confirmed"
	EventDepositPaid                  EventType = "deposit_paid"
	EventOwnerPickupHandover          EventType = "owner_pickup_handover"
	EventRenterPickupHandover         EventType = "renter_pickup_handover"
	EventReturnRecorded               EventType = "return_recorded"
	EventOwnerReturnHandover          EventType = "owner_return_handover"
	EventTripFinished                 EventType = "trip_finished"
	EventInvoiceRecalculationRequired EventType = "invoice_recalculation_requested"
	EventRevenueSettled               EventType = "revenue_settled"
)

// Recomputes reports whether the event must be consumed by the recomputation
// step before the unit of work commits.
func (t EventType) Recomputes() bool {
	switch t {
	case EventTripParametersChanged, EventReturnRecorded, EventInvoiceRecalculationRequired:
		return true
	}
	return false
}

// Event is a domain event emitted by a transition. Events are collected on
// the aggregate, consumed by recomputation inside the unit of work and
// published after commit.
type Event struct {
	Type       EventType         `json:"type"`
	Rental     RentalRef         `json:"rental"`
	Status     string            `json:"status"`
	ActorID    int32             `json:"actor_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}
