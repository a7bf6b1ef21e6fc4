package domain

import "github.com/shopspring/decimal"

// Car is the pricing and usage policy view of a catalog car. The catalog is
// owned elsewhere; this service only reads it.
type Car struct {
	ID                     int32           `json:"id"`
	OwnerID                int32           `json:"owner_id"`
	DailyRentalPrice       decimal.Decimal `json:"daily_rental_price"`
	DailyPriceWithDriver   decimal.Decimal `json:"daily_rental_price_with_driver"`
	DailyKmLimit           decimal.Decimal `json:"daily_km_limit"`
	ExtraKmCost            decimal.Decimal `json:"extra_km_cost"`
	ExtraHourCost          decimal.Decimal `json:"extra_hour_cost"`
	AvailableWithDriver    bool            `json:"available_with_driver"`
	AvailableWithoutDriver bool            `json:"available_without_driver"`
}

// PriceSnapshot is captured from the car when a rental is created.
// All cost calculations use the snapshot, not live catalog prices.
type PriceSnapshot struct {
	DailyPrice    decimal.Decimal `json:"daily_price"`
	DailyKmLimit  decimal.Decimal `json:"daily_km_limit"`
	ExtraKmRate   decimal.Decimal `json:"extra_km_rate"`
	ExtraHourRate decimal.Decimal `json:"extra_hour_rate"`
}

// Location is a pickup or dropoff point.
type Location struct {
	Lat     decimal.Decimal `json:"lat"`
	Lng     decimal.Decimal `json:"lng"`
	Address string          `json:"address,omitempty"`
}
