package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"cark-backend/internal/domain"
)

// notFound maps a missing row to the domain error and passes anything else
// through.
func notFound(err error, entity string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewNotFound(entity, id)
	}
	return err
}

func jsonb(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode jsonb: %w", err)
	}
	return data, nil
}

func fromJSONB(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode jsonb: %w", err)
	}
	return nil
}

func saveLegs(ctx context.Context, db DBTX, ref domain.RentalRef, legs []*domain.PaymentLeg) error {
	query := `
		INSERT INTO rental_payment_legs (
			rental_kind, rental_id, leg, amount, status, paid_at, transaction_id,
			refunded_amount, refunded_at, refund_transaction_id, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (rental_kind, rental_id, leg) DO UPDATE SET
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			paid_at = EXCLUDED.paid_at,
			transaction_id = EXCLUDED.transaction_id,
			refunded_amount = EXCLUDED.refunded_amount,
			refunded_at = EXCLUDED.refunded_at,
			refund_transaction_id = EXCLUDED.refund_transaction_id,
			updated_at = EXCLUDED.updated_at
	`
	for _, leg := range legs {
		_, err := db.ExecContext(ctx, query,
			ref.Kind, ref.ID, leg.Name, leg.Amount, leg.Status, leg.PaidAt, leg.TransactionID,
			leg.RefundedAmount, leg.RefundedAt, leg.RefundTransactionID, leg.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save %s leg: %w", leg.Name, err)
		}
	}
	return nil
}

// loadLegs fills the legs present in the table; absent legs keep their zero
// value.
func loadLegs(ctx context.Context, db DBTX, ref domain.RentalRef, legs []*domain.PaymentLeg) error {
	query := `
		SELECT leg, amount, status, paid_at, COALESCE(transaction_id, ''),
		       refunded_amount, refunded_at, COALESCE(refund_transaction_id, ''), updated_at
		FROM rental_payment_legs WHERE rental_kind = $1 AND rental_id = $2
	`
	rows, err := db.QueryContext(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	byName := make(map[domain.LegName]*domain.PaymentLeg, len(legs))
	for _, leg := range legs {
		byName[leg.Name] = leg
	}
	for rows.Next() {
		var l domain.PaymentLeg
		if err := rows.Scan(&l.Name, &l.Amount, &l.Status, &l.PaidAt, &l.TransactionID,
			&l.RefundedAmount, &l.RefundedAt, &l.RefundTransactionID, &l.UpdatedAt); err != nil {
			return err
		}
		if target, ok := byName[l.Name]; ok {
			*target = l
		}
	}
	return rows.Err()
}

// saveAudit inserts log and history entries that have not been persisted yet.
func saveAudit(ctx context.Context, db DBTX, ref domain.RentalRef, logs []domain.RentalLog, history []domain.StatusChange) error {
	for i := range logs {
		if logs[i].ID != 0 {
			continue
		}
		details, err := jsonb(logs[i].Details)
		if err != nil {
			return err
		}
		err = db.QueryRowContext(ctx, `
			INSERT INTO rental_logs (rental_kind, rental_id, event, actor_role, actor_id, details, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			ref.Kind, ref.ID, logs[i].Event, logs[i].ActorRole, logs[i].ActorID, details, logs[i].CreatedAt,
		).Scan(&logs[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert rental log: %w", err)
		}
	}
	for i := range history {
		if history[i].ID != 0 {
			continue
		}
		err := db.QueryRowContext(ctx, `
			INSERT INTO rental_status_history (rental_kind, rental_id, old_status, new_status, actor_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			ref.Kind, ref.ID, history[i].OldStatus, history[i].NewStatus, history[i].ActorID, history[i].CreatedAt,
		).Scan(&history[i].ID)
		if err != nil {
			return fmt.Errorf("failed to insert status history: %w", err)
		}
	}
	return nil
}

func loadAudit(ctx context.Context, db DBTX, ref domain.RentalRef) ([]domain.RentalLog, []domain.StatusChange, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, event, actor_role, actor_id, details, created_at
		FROM rental_logs WHERE rental_kind = $1 AND rental_id = $2 ORDER BY id`, ref.Kind, ref.ID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var logs []domain.RentalLog
	for rows.Next() {
		var l domain.RentalLog
		var details []byte
		if err := rows.Scan(&l.ID, &l.Event, &l.ActorRole, &l.ActorID, &details, &l.CreatedAt); err != nil {
			return nil, nil, err
		}
		if err := fromJSONB(details, &l.Details); err != nil {
			return nil, nil, err
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	hrows, err := db.QueryContext(ctx, `
		SELECT id, old_status, new_status, actor_id, created_at
		FROM rental_status_history WHERE rental_kind = $1 AND rental_id = $2 ORDER BY id`, ref.Kind, ref.ID)
	if err != nil {
		return nil, nil, err
	}
	defer hrows.Close()

	var history []domain.StatusChange
	for hrows.Next() {
		var h domain.StatusChange
		if err := hrows.Scan(&h.ID, &h.OldStatus, &h.NewStatus, &h.ActorID, &h.CreatedAt); err != nil {
			return nil, nil, err
		}
		history = append(history, h)
	}
	return logs, history, hrows.Err()
}
