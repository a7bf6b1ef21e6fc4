package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"cark-backend/internal/domain"
	"cark-backend/internal/logger"
	"cark-backend/internal/repository"
)

type selfDriveRepository struct {
	db DBTX
}

func NewSelfDriveRepository(db DBTX) repository.SelfDriveRepository {
	return &selfDriveRepository{db: db}
}

const selfDriveColumns = `id, renter_id, car_id, owner_id, start_time, end_time, status, payment_method,
	pickup, dropoff, prices, deposit_due_at, actual_pickup_at, actual_dropoff_at, contract, breakdown,
	created_at, updated_at`

func (r *selfDriveRepository) Create(ctx context.Context, rt *domain.SelfDriveRental) error {
	logger.EnterMethod("selfDriveRepository.Create", "renterID", rt.RenterID, "carID", rt.CarID)

	enc, err := encodeSelfDrive(rt)
	if err != nil {
		logger.ExitMethodWithError("selfDriveRepository.Create", err)
		return err
	}
	query := `
		INSERT INTO selfdrive_rentals (
			renter_id, car_id, owner_id, start_time, end_time, status, payment_method,
			pickup, dropoff, prices, deposit_due_at, actual_pickup_at, actual_dropoff_at,
			contract, breakdown, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id
	`
	err = r.db.QueryRowContext(ctx, query,
		rt.RenterID, rt.CarID, rt.OwnerID, rt.StartTime, rt.EndTime, rt.Status, rt.PaymentMethod,
		enc.pickup, enc.dropoff, enc.prices, rt.DepositDueAt, rt.ActualPickupAt, rt.ActualDropoffAt,
		enc.contract, enc.breakdown, rt.CreatedAt, rt.UpdatedAt,
	).Scan(&rt.ID)
	if err != nil {
		logger.ExitMethodWithError("selfDriveRepository.Create", err, "renterID", rt.RenterID)
		return err
	}

	if err := r.saveChildren(ctx, rt); err != nil {
		logger.ExitMethodWithError("selfDriveRepository.Create", err, "rentalID", rt.ID)
		return err
	}

	logger.ExitMethod("selfDriveRepository.Create", "rentalID", rt.ID)
	return nil
}

func (r *selfDriveRepository) GetByID(ctx context.Context, id int32) (*domain.SelfDriveRental, error) {
	return r.get(ctx, id, "")
}

func (r *selfDriveRepository) GetForUpdate(ctx context.Context, id int32) (*domain.SelfDriveRental, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *selfDriveRepository) get(ctx context.Context, id int32, lock string) (*domain.SelfDriveRental, error) {
	logger.EnterMethod("selfDriveRepository.get", "rentalID", id, "lock", lock != "")

	rt := &domain.SelfDriveRental{}
	var pickup, dropoff, prices, contract, breakdown []byte
	err := r.db.QueryRowContext(ctx, `SELECT `+selfDriveColumns+` FROM selfdrive_rentals WHERE id = $1`+lock, id).Scan(
		&rt.ID, &rt.RenterID, &rt.CarID, &rt.OwnerID, &rt.StartTime, &rt.EndTime, &rt.Status, &rt.PaymentMethod,
		&pickup, &dropoff, &prices, &rt.DepositDueAt, &rt.ActualPickupAt, &rt.ActualDropoffAt, &contract, &breakdown,
		&rt.CreatedAt, &rt.UpdatedAt,
	)
	if err != nil {
		err = notFound(err, "self-drive rental", id)
		logger.ExitMethodWithError("selfDriveRepository.get", err, "rentalID", id)
		return nil, err
	}
	if len(contract) > 0 {
		rt.Contract = &domain.SelfDriveContract{}
		if err := fromJSONB(contract, rt.Contract); err != nil {
			return nil, err
		}
	}
	for _, f := range []struct {
		data []byte
		dst  any
	}{{pickup, &rt.Pickup}, {dropoff, &rt.Dropoff}, {prices, &rt.Prices}, {breakdown, &rt.Breakdown}} {
		if err := fromJSONB(f.data, f.dst); err != nil {
			return nil, err
		}
	}

	if rt.Odometers, err = r.loadOdometers(ctx, id); err != nil {
		return nil, err
	}
	if rt.CarImages, err = r.loadCarImages(ctx, id); err != nil {
		return nil, err
	}
	if err := loadLegs(ctx, r.db, rt.Ref(), rt.Payment.Legs()); err != nil {
		return nil, err
	}
	if rt.Logs, rt.History, err = loadAudit(ctx, r.db, rt.Ref()); err != nil {
		return nil, err
	}

	logger.ExitMethod("selfDriveRepository.get", "rentalID", id, "status", rt.Status)
	return rt, nil
}

func (r *selfDriveRepository) Save(ctx context.Context, rt *domain.SelfDriveRental) error {
	logger.EnterMethod("selfDriveRepository.Save", "rentalID", rt.ID, "status", rt.Status)

	enc, err := encodeSelfDrive(rt)
	if err != nil {
		return err
	}
	query := `
		UPDATE selfdrive_rentals SET status=$1, payment_method=$2, pickup=$3, dropoff=$4, prices=$5,
			deposit_due_at=$6, actual_pickup_at=$7, actual_dropoff_at=$8, contract=$9, breakdown=$10,
			updated_at=$11
		WHERE id=$12
	`
	res, err := r.db.ExecContext(ctx, query,
		rt.Status, rt.PaymentMethod, enc.pickup, enc.dropoff, enc.prices,
		rt.DepositDueAt, rt.ActualPickupAt, rt.ActualDropoffAt, enc.contract, enc.breakdown,
		rt.UpdatedAt, rt.ID,
	)
	if err != nil {
		logger.ExitMethodWithError("selfDriveRepository.Save", err, "rentalID", rt.ID)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err := domain.NewNotFound("self-drive rental", rt.ID)
		logger.ExitMethodWithError("selfDriveRepository.Save", err, "rentalID", rt.ID)
		return err
	}

	if err := r.saveChildren(ctx, rt); err != nil {
		logger.ExitMethodWithError("selfDriveRepository.Save", err, "rentalID", rt.ID)
		return err
	}

	logger.ExitMethod("selfDriveRepository.Save", "rentalID", rt.ID)
	return nil
}

func (r *selfDriveRepository) ListDepositExpired(ctx context.Context, now time.Time) ([]int32, error) {
	logger.EnterMethod("selfDriveRepository.ListDepositExpired", "now", now)

	query := `
		SELECT s.id FROM selfdrive_rentals s
		LEFT JOIN rental_payment_legs l
			ON l.rental_kind = $1 AND l.rental_id = s.id AND l.leg = $2
		WHERE s.status = $3 AND s.deposit_due_at < $4
		  AND COALESCE(l.status, $5) <> ALL($6)
		ORDER BY s.id
	`
	settled := pq.Array([]string{string(domain.LegStatusPaid), string(domain.LegStatusConfirmed)})
	rows, err := r.db.QueryContext(ctx, query,
		domain.RentalKindSelfDrive, domain.LegDeposit, domain.SelfDriveStatusDepositRequired, now,
		domain.LegStatusPending, settled,
	)
	if err != nil {
		logger.ExitMethodWithError("selfDriveRepository.ListDepositExpired", err)
		return nil, err
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logger.ExitMethod("selfDriveRepository.ListDepositExpired", "count", len(ids))
	return ids, nil
}

func (r *selfDriveRepository) saveChildren(ctx context.Context, rt *domain.SelfDriveRental) error {
	for i := range rt.Odometers {
		o := &rt.Odometers[i]
		err := r.db.QueryRowContext(ctx, `
			INSERT INTO selfdrive_odometers (rental_id, type, value, image_ref, uploaded_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (rental_id, type) DO UPDATE SET
				value = EXCLUDED.value, image_ref = EXCLUDED.image_ref, uploaded_at = EXCLUDED.uploaded_at
			RETURNING id`,
			rt.ID, o.Type, o.Value, o.ImageRef, o.UploadedAt,
		).Scan(&o.ID)
		if err != nil {
			return fmt.Errorf("failed to save %s odometer: %w", o.Type, err)
		}
	}
	for i := range rt.CarImages {
		img := &rt.CarImages[i]
		if img.ID != 0 {
			continue
		}
		err := r.db.QueryRowContext(ctx, `
			INSERT INTO selfdrive_car_images (rental_id, type, image_ref, uploaded_by, notes, uploaded_at)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			rt.ID, img.Type, img.ImageRef, img.UploadedBy, img.Notes, img.UploadedAt,
		).Scan(&img.ID)
		if err != nil {
			return fmt.Errorf("failed to save %s car image: %w", img.Type, err)
		}
	}
	if err := saveLegs(ctx, r.db, rt.Ref(), rt.Payment.Legs()); err != nil {
		return err
	}
	return saveAudit(ctx, r.db, rt.Ref(), rt.Logs, rt.History)
}

func (r *selfDriveRepository) loadOdometers(ctx context.Context, rentalID int32) ([]domain.OdometerImage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, value, image_ref, uploaded_at
		FROM selfdrive_odometers WHERE rental_id = $1 ORDER BY id`, rentalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.OdometerImage
	for rows.Next() {
		var o domain.OdometerImage
		if err := rows.Scan(&o.ID, &o.Type, &o.Value, &o.ImageRef, &o.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *selfDriveRepository) loadCarImages(ctx context.Context, rentalID int32) ([]domain.CarImage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, image_ref, uploaded_by, COALESCE(notes, ''), uploaded_at
		FROM selfdrive_car_images WHERE rental_id = $1 ORDER BY id`, rentalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CarImage
	for rows.Next() {
		var img domain.CarImage
		if err := rows.Scan(&img.ID, &img.Type, &img.ImageRef, &img.UploadedBy, &img.Notes, &img.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

type selfDriveEncoded struct {
	pickup, dropoff, prices, breakdown []byte
	// contract stays a nil interface so the column is written as NULL.
	contract any
}

func encodeSelfDrive(rt *domain.SelfDriveRental) (selfDriveEncoded, error) {
	var enc selfDriveEncoded
	var err error
	if enc.pickup, err = jsonb(rt.Pickup); err != nil {
		return enc, err
	}
	if enc.dropoff, err = jsonb(rt.Dropoff); err != nil {
		return enc, err
	}
	if enc.prices, err = jsonb(rt.Prices); err != nil {
		return enc, err
	}
	if rt.Contract != nil {
		contract, err := jsonb(rt.Contract)
		if err != nil {
			return enc, err
		}
		enc.contract = contract
	}
	enc.breakdown, err = jsonb(rt.Breakdown)
	return enc, err
}
