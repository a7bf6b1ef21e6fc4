package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type SelfDriveStatus string

const (
	SelfDriveStatusPending                  SelfDriveStatus = "Pending"
	SelfDriveStatusPendingOwnerConfirmation SelfDriveStatus = "PendingOwnerConfirmation"
	SelfDriveStatusDepositRequired          SelfDriveStatus = "DepositRequired"
	SelfDriveStatusConfirmed                SelfDriveStatus = "Confirmed"
	SelfDriveStatusOngoing                  SelfDriveStatus = "Ongoing"
	SelfDriveStatusFinished                 SelfDriveStatus = "Finished"
	SelfDriveStatusCanceled                 SelfDriveStatus = "Canceled"
)

// SelfDriveTransitions is the self-drive transition table.
var SelfDriveTransitions = map[SelfDriveStatus][]SelfDriveStatus{
	SelfDriveStatusPending:                  {SelfDriveStatusPendingOwnerConfirmation, SelfDriveStatusCanceled},
	SelfDriveStatusPendingOwnerConfirmation: {SelfDriveStatusDepositRequired, SelfDriveStatusCanceled},
	SelfDriveStatusDepositRequired:          {SelfDriveStatusConfirmed, SelfDriveStatusCanceled},
	SelfDriveStatusConfirmed:                {SelfDriveStatusOngoing, SelfDriveStatusCanceled},
	SelfDriveStatusOngoing:                  {SelfDriveStatusFinished},
}

func (s SelfDriveStatus) CanTransition(to SelfDriveStatus) bool {
	for _, next := range SelfDriveTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type OdometerType string

const (
	OdometerStart OdometerType = "start"
	OdometerEnd   OdometerType = "end"
)

type OdometerImage struct {
	ID         int32           `json:"id"`
	Type       OdometerType    `json:"type"`
	Value      decimal.Decimal `json:"value"`
	ImageRef   string          `json:"image"`
	UploadedAt time.Time       `json:"uploaded_at"`
}

type CarImageType string

const (
	CarImagePickup CarImageType = "pickup"
	CarImageReturn CarImageType = "return"
)

type CarImage struct {
	ID         int32        `json:"id"`
	Type       CarImageType `json:"type"`
	ImageRef   string       `json:"image"`
	UploadedBy int32        `json:"uploaded_by"`
	Notes      string       `json:"notes,omitempty"`
	UploadedAt time.Time    `json:"uploaded_at"`
}

// ContractDocument is the generated rental contract artifact.
type ContractDocument struct {
	FileName    string    `json:"file_name"`
	Digest      string    `json:"digest"`
	Content     []byte    `json:"content"`
	GeneratedAt time.Time `json:"generated_at"`
}

// SelfDriveContract exists once the deposit is paid. It tracks both
// signatures and the four handover steps.
type SelfDriveContract struct {
	RenterSigned   bool       `json:"renter_signed"`
	RenterSignedAt *time.Time `json:"renter_signed_at,omitempty"`
	OwnerSigned    bool       `json:"owner_signed"`
	OwnerSignedAt  *time.Time `json:"owner_signed_at,omitempty"`

	OwnerPickupDone  bool       `json:"owner_pickup_done"`
	OwnerPickupAt    *time.Time `json:"owner_pickup_at,omitempty"`
	RenterPickupDone bool       `json:"renter_pickup_done"`
	RenterPickupAt   *time.Time `json:"renter_pickup_at,omitempty"`
	RenterReturnDone bool       `json:"renter_return_done"`
	RenterReturnAt   *time.Time `json:"renter_return_at,omitempty"`
	OwnerReturnDone  bool       `json:"owner_return_done"`
	OwnerReturnAt    *time.Time `json:"owner_return_at,omitempty"`

	SignedContractImage string           `json:"signed_contract_image,omitempty"`
	Document            ContractDocument `json:"document"`
}

// AnyHandoverDone reports whether any pickup or return step happened.
func (c *SelfDriveContract) AnyHandoverDone() bool {
	return c.OwnerPickupDone || c.RenterPickupDone || c.RenterReturnDone || c.OwnerReturnDone
}

// SelfDriveBreakdown holds the computed money figures of a self-drive rental.
type SelfDriveBreakdown struct {
	Days             int             `json:"num_days"`
	DailyPrice       decimal.Decimal `json:"daily_price"`
	BaseBeforeDisc   decimal.Decimal `json:"base_cost_before_discount"`
	DiscountRate     decimal.Decimal `json:"discount_rate"`
	BaseCost         decimal.Decimal `json:"base_cost"`
	CTWFee           decimal.Decimal `json:"ctw_fee"`
	InitialCost      decimal.Decimal `json:"initial_cost"`
	Deposit          decimal.Decimal `json:"deposit"`
	Remaining        decimal.Decimal `json:"remaining"`
	AllowedKm        decimal.Decimal `json:"allowed_km"`
	KmUsed           decimal.Decimal `json:"total_km_used"`
	ExtraKm          decimal.Decimal `json:"extra_km"`
	ExtraKmFee       decimal.Decimal `json:"extra_km_fee"`
	LateDays         int             `json:"late_days"`
	LateFee          decimal.Decimal `json:"late_fee"`
	TotalExtras      decimal.Decimal `json:"total_extras"`
	FinalCost        decimal.Decimal `json:"final_cost"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	PlatformEarnings decimal.Decimal `json:"platform_earnings"`
	OwnerEarnings    decimal.Decimal `json:"driver_earnings"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SelfDriveRental is a self-drive rental aggregate.
type SelfDriveRental struct {
	ID              int32              `json:"id"`
	RenterID        int32              `json:"renter_id"`
	CarID           int32              `json:"car_id"`
	OwnerID         int32              `json:"owner_id"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         time.Time          `json:"end_time"`
	Status          SelfDriveStatus    `json:"status"`
	PaymentMethod   PaymentMethod      `json:"payment_method"`
	Pickup          Location           `json:"pickup"`
	Dropoff         Location           `json:"dropoff"`
	Prices          PriceSnapshot      `json:"prices"`
	DepositDueAt    *time.Time         `json:"deposit_due_at,omitempty"`
	ActualPickupAt  *time.Time         `json:"actual_pickup_time,omitempty"`
	ActualDropoffAt *time.Time         `json:"actual_dropoff_time,omitempty"`
	Contract        *SelfDriveContract `json:"contract,omitempty"`
	Odometers       []OdometerImage    `json:"odometer_images"`
	CarImages       []CarImage         `json:"car_images"`
	Breakdown       SelfDriveBreakdown `json:"breakdown"`
	Payment         SelfDrivePayment   `json:"payment"`
	Logs            []RentalLog        `json:"logs"`
	History         []StatusChange     `json:"status_history"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`

	Events []Event `json:"-"`
}

func (r *SelfDriveRental) Ref() RentalRef {
	return RentalRef{Kind: RentalKindSelfDrive, ID: r.ID}
}

func (r *SelfDriveRental) TransitionTo(to SelfDriveStatus, actorID int32, at time.Time) error {
	if !r.Status.CanTransition(to) {
		return NewGuardViolation("INVALID_STATUS", fmt.Sprintf("self-drive rental cannot move from %s to %s", r.Status, to))
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

func (r *SelfDriveRental) AddLog(event string, role ActorRole, actorID int32, at time.Time, details map[string]string) {
	r.Logs = append(r.Logs, RentalLog{
		Event:     event,
		ActorRole: role,
		ActorID:   actorID,
		Details:   details,
		CreatedAt: at,
	})
}

func (r *SelfDriveRental) Emit(t EventType, actorID int32, at time.Time, data map[string]string) {
	r.Events = append(r.Events, Event{
		Type:       t,
		Rental:     r.Ref(),
		Status:     string(r.Status),
		ActorID:    actorID,
		OccurredAt: at,
		Data:       data,
	})
}

// Odometer returns the reading of the given type, or nil.
func (r *SelfDriveRental) Odometer(t OdometerType) *OdometerImage {
	for i := range r.Odometers {
		if r.Odometers[i].Type == t {
			return &r.Odometers[i]
		}
	}
	return nil
}

// SetOdometer records a reading, replacing an earlier one of the same type.
func (r *SelfDriveRental) SetOdometer(o OdometerImage) {
	if existing := r.Odometer(o.Type); existing != nil {
		o.ID = existing.ID
		*existing = o
		return
	}
	r.Odometers = append(r.Odometers, o)
}

func (r *SelfDriveRental) HasCarImage(t CarImageType) bool {
	for _, img := range r.CarImages {
		if img.Type == t {
			return true
		}
	}
	return false
}

func (r *SelfDriveRental) AnyHandoverDone() bool {
	return r.Contract != nil && r.Contract.AnyHandoverDone()
}
