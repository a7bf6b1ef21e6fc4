package postgres

import (
	"context"

	"cark-backend/internal/domain"
	"cark-backend/internal/logger"
	"cark-backend/internal/repository"
)

type carRepository struct {
	db DBTX
}

func NewCarRepository(db DBTX) repository.CarRepository {
	return &carRepository{db: db}
}

func (r *carRepository) GetByID(ctx context.Context, id int32) (*domain.Car, error) {
	logger.EnterMethod("carRepository.GetByID", "carID", id)

	car := &domain.Car{}
	query := `
		SELECT id, owner_id, daily_rental_price, daily_rental_price_with_driver, daily_km_limit,
		       extra_km_cost, extra_hour_cost, available_with_driver, available_without_driver
		FROM cars WHERE id = $1
	`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&car.ID, &car.OwnerID, &car.DailyRentalPrice, &car.DailyPriceWithDriver, &car.DailyKmLimit,
		&car.ExtraKmCost, &car.ExtraHourCost, &car.AvailableWithDriver, &car.AvailableWithoutDriver,
	)
	if err != nil {
		err = notFound(err, "car", id)
		logger.ExitMethodWithError("carRepository.GetByID", err, "carID", id)
		return nil, err
	}

	logger.ExitMethod("carRepository.GetByID", "carID", id)
	return car, nil
}
