// Package memory is an in-process Store used by tests and by the server when
// storage.type is "memory". Units of work are serialized by a store-wide
// mutex and rolled back by discarding a working copy of the state.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cark-backend/internal/domain"
	"cark-backend/internal/repository"
)

type state struct {
	rentals      map[int32][]byte
	selfDrive    map[int32][]byte
	wallets      map[string]domain.Wallet
	transactions []domain.LedgerTransaction
	cars         map[int32]domain.Car
	seq          int32
}

func (s *state) clone() *state {
	c := &state{
		rentals:      make(map[int32][]byte, len(s.rentals)),
		selfDrive:    make(map[int32][]byte, len(s.selfDrive)),
		wallets:      make(map[string]domain.Wallet, len(s.wallets)),
		transactions: slices.Clone(s.transactions),
		cars:         make(map[int32]domain.Car, len(s.cars)),
		seq:          s.seq,
	}
	for k, v := range s.rentals {
		c.rentals[k] = v
	}
	for k, v := range s.selfDrive {
		c.selfDrive[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.cars {
		c.cars[k] = v
	}
	return c
}

func (s *state) nextID() int32 {
	s.seq++
	return s.seq
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		st: &state{
			rentals:   map[int32][]byte{},
			selfDrive: map[int32][]byte{},
			wallets:   map[string]domain.Wallet{},
			cars:      map[int32]domain.Car{},
		},
		now: time.Now,
	}
}

// PutCar seeds the catalog view.
func (s *Store) PutCar(car domain.Car) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.cars[car.ID] = car
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) Rentals() repository.RentalRepository      { return &rentalRepository{t} }
func (t *tx) SelfDrive() repository.SelfDriveRepository { return &selfDriveRepository{t} }
func (t *tx) Ledger() repository.LedgerRepository       { return &ledgerRepository{t} }
func (t *tx) Cars() repository.CarRepository            { return &carRepository{t} }

type rentalRepository struct{ t *tx }

func (r *rentalRepository) Create(ctx context.Context, rental *domain.Rental) error {
	rental.ID = r.t.st.nextID()
	return r.Save(ctx, rental)
}

func (r *rentalRepository) GetByID(ctx context.Context, id int32) (*domain.Rental, error) {
	data, ok := r.t.st.rentals[id]
	if !ok {
		return nil, domain.NewNotFound("rental", id)
	}
	var rental domain.Rental
	if err := json.Unmarshal(data, &rental); err != nil {
		return nil, fmt.Errorf("failed to decode rental %d: %w", id, err)
	}
	return &rental, nil
}

func (r *rentalRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Rental, error) {
	return r.GetByID(ctx, id)
}

func (r *rentalRepository) Save(ctx context.Context, rental *domain.Rental) error {
	for i := range rental.Trip.Stops {
		if rental.Trip.Stops[i].ID == 0 {
			rental.Trip.Stops[i].ID = r.t.st.nextID()
		}
	}
	r.t.assignAuditIDs(rental.Logs, rental.History)
	data, err := json.Marshal(rental)
	if err != nil {
		return fmt.Errorf("failed to encode rental %d: %w", rental.ID, err)
	}
	r.t.st.rentals[rental.ID] = data
	return nil
}

type selfDriveRepository struct{ t *tx }

func (r *selfDriveRepository) Create(ctx context.Context, rental *domain.SelfDriveRental) error {
	rental.ID = r.t.st.nextID()
	return r.Save(ctx, rental)
}

func (r *selfDriveRepository) GetByID(ctx context.Context, id int32) (*domain.SelfDriveRental, error) {
	data, ok := r.t.st.selfDrive[id]
	if !ok {
		return nil, domain.NewNotFound("self-drive rental", id)
	}
	var rental domain.SelfDriveRental
	if err := json.Unmarshal(data, &rental); err != nil {
		return nil, fmt.Errorf("failed to decode self-drive rental %d: %w", id, err)
	}
	return &rental, nil
}

func (r *selfDriveRepository) GetForUpdate(ctx context.Context, id int32) (*domain.SelfDriveRental, error) {
	return r.GetByID(ctx, id)
}

func (r *selfDriveRepository) Save(ctx context.Context, rental *domain.SelfDriveRental) error {
	for i := range rental.Odometers {
		if rental.Odometers[i].ID == 0 {
			rental.Odometers[i].ID = r.t.st.nextID()
		}
	}
	for i := range rental.CarImages {
		if rental.CarImages[i].ID == 0 {
			rental.CarImages[i].ID = r.t.st.nextID()
		}
	}
	r.t.assignAuditIDs(rental.Logs, rental.History)
	data, err := json.Marshal(rental)
	if err != nil {
		return fmt.Errorf("failed to encode self-drive rental %d: %w", rental.ID, err)
	}
	r.t.st.selfDrive[rental.ID] = data
	return nil
}

func (r *selfDriveRepository) ListDepositExpired(ctx context.Context, now time.Time) ([]int32, error) {
	var ids []int32
	for id := range r.t.st.selfDrive {
		rental, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if rental.Status != domain.SelfDriveStatusDepositRequired || rental.Payment.Deposit.Settled() {
			continue
		}
		if rental.DepositDueAt != nil && rental.DepositDueAt.Before(now) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (t *tx) assignAuditIDs(logs []domain.RentalLog, history []domain.StatusChange) {
	for i := range logs {
		if logs[i].ID == 0 {
			logs[i].ID = t.st.nextID()
		}
	}
	for i := range history {
		if history[i].ID == 0 {
			history[i].ID = t.st.nextID()
		}
	}
}

type ledgerRepository struct{ t *tx }

func (r *ledgerRepository) GetWallet(ctx context.Context, account string) (*domain.Wallet, error) {
	w, ok := r.t.st.wallets[account]
	if !ok {
		return nil, domain.NewNotFound("wallet", account)
	}
	return &w, nil
}

func (r *ledgerRepository) LockWallet(ctx context.Context, account string) (*domain.Wallet, error) {
	if _, ok := r.t.st.wallets[account]; !ok {
		now := r.t.now()
		r.t.st.wallets[account] = domain.Wallet{
			AccountID: account,
			Balance:   decimal.Zero,
			Floor:     decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	return r.GetWallet(ctx, account)
}

func (r *ledgerRepository) UpdateBalance(ctx context.Context, wallet *domain.Wallet) error {
	if _, ok := r.t.st.wallets[wallet.AccountID]; !ok {
		return domain.NewNotFound("wallet", wallet.AccountID)
	}
	r.t.st.wallets[wallet.AccountID] = *wallet
	return nil
}

func (r *ledgerRepository) AppendTransaction(ctx context.Context, tx *domain.LedgerTransaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	r.t.st.transactions = append(r.t.st.transactions, *tx)
	return nil
}

func (r *ledgerRepository) ListTransactions(ctx context.Context, account string, page, pageSize int32) ([]domain.LedgerTransaction, int32, error) {
	// newest first
	var matched []domain.LedgerTransaction
	for i := len(r.t.st.transactions) - 1; i >= 0; i-- {
		if r.t.st.transactions[i].Account == account {
			matched = append(matched, r.t.st.transactions[i])
		}
	}

	total := int32(len(matched))
	start := (page - 1) * pageSize
	if start < 0 || start >= total {
		return []domain.LedgerTransaction{}, total, nil
	}
	end := min(start+pageSize, total)
	return matched[start:end], total, nil
}

func (r *ledgerRepository) ListByReference(ctx context.Context, reference string) ([]domain.LedgerTransaction, error) {
	var matched []domain.LedgerTransaction
	for _, tx := range r.t.st.transactions {
		if tx.Reference == reference {
			matched = append(matched, tx)
		}
	}
	return matched, nil
}

func (r *ledgerRepository) GetSummary(ctx context.Context, account string) (*domain.LedgerSummary, error) {
	summary := &domain.LedgerSummary{
		Account:      account,
		Balance:      decimal.Zero,
		TotalCredits: decimal.Zero,
		TotalDebits:  decimal.Zero,
	}
	if w, ok := r.t.st.wallets[account]; ok {
		summary.Balance = w.Balance
	}
	for _, tx := range r.t.st.transactions {
		if tx.Account != account {
			continue
		}
		if tx.Type.IsCredit() {
			summary.TotalCredits = summary.TotalCredits.Add(tx.Amount)
		} else {
			summary.TotalDebits = summary.TotalDebits.Add(tx.Amount)
		}
		summary.TransactionCount++
	}
	summary.Net = summary.TotalCredits.Sub(summary.TotalDebits)
	return summary, nil
}

type carRepository struct{ t *tx }

func (r *carRepository) GetByID(ctx context.Context, id int32) (*domain.Car, error) {
	car, ok := r.t.st.cars[id]
	if !ok {
		return nil, domain.NewNotFound("car", id)
	}
	return &car, nil
}
