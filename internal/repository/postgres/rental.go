package postgres

import (
	"context"
	"fmt"

	"cark-backend/internal/domain"
	"cark-backend/internal/logger"
	"cark-backend/internal/repository"
)

type rentalRepository struct {
	db DBTX
}

func NewRentalRepository(db DBTX) repository.RentalRepository {
	return &rentalRepository{db: db}
}

const rentalColumns = `id, renter_id, car_id, owner_id, start_date, end_date, status, payment_method,
	pickup, dropoff, prices, planned_km, breakdown, payout_at, created_at, updated_at`

func (r *rentalRepository) Create(ctx context.Context, rt *domain.Rental) error {
	logger.EnterMethod("rentalRepository.Create", "renterID", rt.RenterID, "carID", rt.CarID)

	pickup, dropoff, prices, breakdown, err := encodeRental(rt)
	if err != nil {
		logger.ExitMethodWithError("rentalRepository.Create", err)
		return err
	}
	query := `
		INSERT INTO rentals (
			renter_id, car_id, owner_id, start_date, end_date, status, payment_method,
			pickup, dropoff, prices, planned_km, breakdown, payout_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`
	err = r.db.QueryRowContext(ctx, query,
		rt.RenterID, rt.CarID, rt.OwnerID, rt.StartDate, rt.EndDate, rt.Status, rt.PaymentMethod,
		pickup, dropoff, prices, rt.Trip.PlannedKm, breakdown, rt.PayoutAt, rt.CreatedAt, rt.UpdatedAt,
	).Scan(&rt.ID)
	if err != nil {
		logger.ExitMethodWithError("rentalRepository.Create", err, "renterID", rt.RenterID)
		return err
	}

	if err := r.saveChildren(ctx, rt); err != nil {
		logger.ExitMethodWithError("rentalRepository.Create", err, "rentalID", rt.ID)
		return err
	}

	logger.ExitMethod("rentalRepository.Create", "rentalID", rt.ID)
	return nil
}

func (r *rentalRepository) GetByID(ctx context.Context, id int32) (*domain.Rental, error) {
	return r.get(ctx, id, "")
}

func (r *rentalRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Rental, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *rentalRepository) get(ctx context.Context, id int32, lock string) (*domain.Rental, error) {
	logger.EnterMethod("rentalRepository.get", "rentalID", id, "lock", lock != "")

	rt := &domain.Rental{}
	var pickup, dropoff, prices, breakdown []byte
	err := r.db.QueryRowContext(ctx, `SELECT `+rentalColumns+` FROM rentals WHERE id = $1`+lock, id).Scan(
		&rt.ID, &rt.RenterID, &rt.CarID, &rt.OwnerID, &rt.StartDate, &rt.EndDate, &rt.Status, &rt.PaymentMethod,
		&pickup, &dropoff, &prices, &rt.Trip.PlannedKm, &breakdown, &rt.PayoutAt, &rt.CreatedAt, &rt.UpdatedAt,
	)
	if err != nil {
		err = notFound(err, "rental", id)
		logger.ExitMethodWithError("rentalRepository.get", err, "rentalID", id)
		return nil, err
	}
	for _, f := range []struct {
		data []byte
		dst  any
	}{{pickup, &rt.Pickup}, {dropoff, &rt.Dropoff}, {prices, &rt.Prices}, {breakdown, &rt.Breakdown}} {
		if err := fromJSONB(f.data, f.dst); err != nil {
			return nil, err
		}
	}

	if rt.Trip.Stops, err = r.loadStops(ctx, id); err != nil {
		return nil, err
	}
	if err := loadLegs(ctx, r.db, rt.Ref(), rt.Payment.Legs()); err != nil {
		return nil, err
	}
	if rt.Logs, rt.History, err = loadAudit(ctx, r.db, rt.Ref()); err != nil {
		return nil, err
	}

	logger.ExitMethod("rentalRepository.get", "rentalID", id, "status", rt.Status)
	return rt, nil
}

func (r *rentalRepository) Save(ctx context.Context, rt *domain.Rental) error {
	logger.EnterMethod("rentalRepository.Save", "rentalID", rt.ID, "status", rt.Status)

	pickup, dropoff, prices, breakdown, err := encodeRental(rt)
	if err != nil {
		return err
	}
	query := `
		UPDATE rentals SET status=$1, payment_method=$2, pickup=$3, dropoff=$4, prices=$5,
			planned_km=$6, breakdown=$7, payout_at=$8, updated_at=$9
		WHERE id=$10
	`
	res, err := r.db.ExecContext(ctx, query,
		rt.Status, rt.PaymentMethod, pickup, dropoff, prices,
		rt.Trip.PlannedKm, breakdown, rt.PayoutAt, rt.UpdatedAt, rt.ID,
	)
	if err != nil {
		logger.ExitMethodWithError("rentalRepository.Save", err, "rentalID", rt.ID)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err := domain.NewNotFound("rental", rt.ID)
		logger.ExitMethodWithError("rentalRepository.Save", err, "rentalID", rt.ID)
		return err
	}

	if err := r.saveChildren(ctx, rt); err != nil {
		logger.ExitMethodWithError("rentalRepository.Save", err, "rentalID", rt.ID)
		return err
	}

	logger.ExitMethod("rentalRepository.Save", "rentalID", rt.ID)
	return nil
}

func (r *rentalRepository) saveChildren(ctx context.Context, rt *domain.Rental) error {
	if err := r.saveStops(ctx, rt); err != nil {
		return err
	}
	if err := saveLegs(ctx, r.db, rt.Ref(), rt.Payment.Legs()); err != nil {
		return err
	}
	return saveAudit(ctx, r.db, rt.Ref(), rt.Logs, rt.History)
}

func (r *rentalRepository) saveStops(ctx context.Context, rt *domain.Rental) error {
	for i := range rt.Trip.Stops {
		s := &rt.Trip.Stops[i]
		location, err := jsonb(s.Location)
		if err != nil {
			return err
		}
		if s.ID == 0 {
			err = r.db.QueryRowContext(ctx, `
				INSERT INTO rental_stops (
					rental_id, stop_order, location, planned_waiting_minutes, actual_waiting_minutes,
					waiting_started_at, waiting_ended_at, location_verified, is_completed
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
				rt.ID, s.Order, location, s.PlannedWaitingMinutes, s.ActualWaitingMinutes,
				s.WaitingStartedAt, s.WaitingEndedAt, s.LocationVerified, s.Completed,
			).Scan(&s.ID)
		} else {
			_, err = r.db.ExecContext(ctx, `
				UPDATE rental_stops SET stop_order=$1, location=$2, planned_waiting_minutes=$3,
					actual_waiting_minutes=$4, waiting_started_at=$5, waiting_ended_at=$6,
					location_verified=$7, is_completed=$8
				WHERE id=$9`,
				s.Order, location, s.PlannedWaitingMinutes, s.ActualWaitingMinutes,
				s.WaitingStartedAt, s.WaitingEndedAt, s.LocationVerified, s.Completed, s.ID,
			)
		}
		if err != nil {
			return fmt.Errorf("failed to save stop %d: %w", s.Order, err)
		}
	}
	return nil
}

func (r *rentalRepository) loadStops(ctx context.Context, rentalID int32) ([]domain.Stop, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, stop_order, location, planned_waiting_minutes, actual_waiting_minutes,
		       waiting_started_at, waiting_ended_at, location_verified, is_completed
		FROM rental_stops WHERE rental_id = $1 ORDER BY stop_order`, rentalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []domain.Stop
	for rows.Next() {
		var s domain.Stop
		var location []byte
		if err := rows.Scan(&s.ID, &s.Order, &location, &s.PlannedWaitingMinutes, &s.ActualWaitingMinutes,
			&s.WaitingStartedAt, &s.WaitingEndedAt, &s.LocationVerified, &s.Completed); err != nil {
			return nil, err
		}
		if err := fromJSONB(location, &s.Location); err != nil {
			return nil, err
		}
		stops = append(stops, s)
	}
	return stops, rows.Err()
}

func encodeRental(rt *domain.Rental) (pickup, dropoff, prices, breakdown []byte, err error) {
	if pickup, err = jsonb(rt.Pickup); err != nil {
		return
	}
	if dropoff, err = jsonb(rt.Dropoff); err != nil {
		return
	}
	if prices, err = jsonb(rt.Prices); err != nil {
		return
	}
	breakdown, err = jsonb(rt.Breakdown)
	return
}
