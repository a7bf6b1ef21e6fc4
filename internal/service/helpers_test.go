package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cark-backend/internal/domain"
	"cark-backend/internal/payment"
	"cark-backend/internal/pricing"
	"cark-backend/internal/repository/memory"
	"cark-backend/internal/service"
)

const (
	renterID = int32(1)
	ownerID  = int32(9)
	carID    = int32(4)
)

var (
	renter = domain.Actor{UserID: renterID, Role: domain.RoleUser}
	owner  = domain.Actor{UserID: ownerID, Role: domain.RoleUser}
	admin  = domain.Actor{UserID: 100, Role: domain.RoleAdmin}
)

// MockGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Result), args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, req payment.RefundRequest) (*payment.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Result), args.Error(1)
}

func approved(id string) *payment.Result {
	return &payment.Result{Success: true, TransactionID: id, Status: payment.StatusSucceeded}
}

func declined() *payment.Result {
	return &payment.Result{Success: false, Message: "card declined", Status: payment.StatusDeclined}
}

// approveAll makes every charge and refund succeed.
func (m *MockGateway) approveAll() *MockGateway {
	m.On("Charge", mock.Anything, mock.Anything).Return(approved("TX-CHARGE"), nil)
	m.On("Refund", mock.Anything, mock.Anything).Return(approved("TX-REFUND"), nil)
	return m
}

// chargeFor matches gateway charges for one payment leg.
func chargeFor(leg domain.LegName) any {
	return mock.MatchedBy(func(req payment.ChargeRequest) bool {
		return strings.HasSuffix(req.Reference, ":"+string(leg))
	})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, events []domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// failedLegs lists the leg of every payment failure event, in order.
func (p *recordingPublisher) failedLegs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var legs []string
	for _, e := range p.events {
		if e.Type == domain.EventPaymentFailed {
			legs = append(legs, e.Data["leg"])
		}
	}
	return legs
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	store     *memory.Store
	gateway   *MockGateway
	clock     *testClock
	publisher *recordingPublisher
	ledger    service.LedgerService
	rentals   service.RentalService
	selfDrive service.SelfDriveService
}

func newHarness(t *testing.T, gateway *MockGateway) *harness {
	t.Helper()
	store := memory.NewStore()
	store.PutCar(domain.Car{
		ID:                     carID,
		OwnerID:                ownerID,
		DailyRentalPrice:       decimal.NewFromInt(200),
		DailyPriceWithDriver:   decimal.NewFromInt(100),
		DailyKmLimit:           decimal.NewFromInt(200),
		ExtraKmCost:            decimal.RequireFromString("1.5"),
		ExtraHourCost:          decimal.NewFromInt(10),
		AvailableWithDriver:    true,
		AvailableWithoutDriver: true,
	})

	clock := &testClock{t: time.Date(2026, 11, 1, 8, 0, 0, 0, time.UTC)}
	pub := &recordingPublisher{}
	calc := pricing.NewCalculator(pricing.DefaultPolicy())
	settlement := service.NewSettlementCoordinator(gateway, clock.Now)
	return &harness{
		store:     store,
		gateway:   gateway,
		clock:     clock,
		publisher: pub,
		ledger:    service.NewLedgerService(store, clock.Now),
		rentals:   service.NewRentalService(store, calc, settlement, pub, clock.Now),
		selfDrive: service.NewSelfDriveService(store, calc, settlement, pub, clock.Now),
	}
}

func (h *harness) topUp(t *testing.T, userID int32, amount string) {
	t.Helper()
	_, err := h.ledger.TopUp(context.Background(), admin, userID, dec(amount), "seed")
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, account string) decimal.Decimal {
	t.Helper()
	w, err := h.ledger.GetBalance(context.Background(), account)
	require.NoError(t, err)
	return w.Balance
}

func (h *harness) assertBalance(t *testing.T, account, want string) {
	t.Helper()
	assertAmount(t, want, h.balance(t, account), account)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, what ...string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%v: want %s, got %s", what, want, got)
}

func assertCode(t *testing.T, err error, kind domain.ErrorKind, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, domain.KindOf(err), err.Error())
	assert.Equal(t, code, domain.CodeOf(err), err.Error())
}

// assertRentalHistory checks every recorded status change against the
// chauffeured transition table.
func assertRentalHistory(t *testing.T, rt *domain.Rental, want ...domain.RentalStatus) {
	t.Helper()
	require.Len(t, rt.History, len(want))
	assert.Empty(t, rt.History[0].OldStatus)
	for i, change := range rt.History {
		assert.Equal(t, string(want[i]), change.NewStatus)
		if i > 0 {
			from := domain.RentalStatus(change.OldStatus)
			assert.Equal(t, rt.History[i-1].NewStatus, change.OldStatus)
			assert.True(t, from.CanTransition(domain.RentalStatus(change.NewStatus)), "%s -> %s", change.OldStatus, change.NewStatus)
		}
	}
}

func assertSelfDriveHistory(t *testing.T, rt *domain.SelfDriveRental, want ...domain.SelfDriveStatus) {
	t.Helper()
	require.Len(t, rt.History, len(want))
	assert.Empty(t, rt.History[0].OldStatus)
	for i, change := range rt.History {
		assert.Equal(t, string(want[i]), change.NewStatus)
		if i > 0 {
			from := domain.SelfDriveStatus(change.OldStatus)
			assert.Equal(t, rt.History[i-1].NewStatus, change.OldStatus)
			assert.True(t, from.CanTransition(domain.SelfDriveStatus(change.NewStatus)), "%s -> %s", change.OldStatus, change.NewStatus)
		}
	}
}

// assertLedgerPolarity checks every posting against its type's polarity and
// the running balance it recorded.
func assertLedgerPolarity(t *testing.T, h *harness, accounts ...string) {
	t.Helper()
	ctx := context.Background()
	for _, account := range accounts {
		txs, _, err := h.ledger.ListTransactions(ctx, account, 1, 100)
		require.NoError(t, err)
		for _, tx := range txs {
			assert.True(t, tx.Amount.IsPositive(), "%s amount %s", tx.Type, tx.Amount)
			delta := tx.BalanceAfter.Sub(tx.BalanceBefore)
			if tx.Type.IsCredit() {
				assert.True(t, delta.Equal(tx.Amount), "%s on %s", tx.Type, account)
			} else {
				assert.True(t, delta.Equal(tx.Amount.Neg()), "%s on %s", tx.Type, account)
			}
		}
	}
}
