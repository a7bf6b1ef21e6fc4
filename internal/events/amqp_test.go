package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cark-backend/internal/domain"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable).Error(0)
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, msg).Error(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

func TestAMQPPublisher_Publish(t *testing.T) {
	event := domain.Event{
		Type:       domain.EventDepositPaid,
		Rental:     domain.RentalRef{Kind: domain.RentalKindSelfDrive, ID: 12},
		Status:     "Confirmed",
		ActorID:    3,
		OccurredAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	t.Run("Success", func(t *testing.T) {
		ch := new(MockChannel)
		ch.On("ExchangeDeclare", DefaultExchange, "topic", true).Return(nil)
		ch.On("PublishWithContext", DefaultExchange, "selfdrive.deposit_paid", mock.MatchedBy(func(msg amqp.Publishing) bool {
			var decoded domain.Event
			if err := json.Unmarshal(msg.Body, &decoded); err != nil {
				return false
			}
			return msg.ContentType == "application/json" && decoded.Rental.ID == 12 && decoded.Type == domain.EventDepositPaid
		})).Return(nil)

		p, err := newAMQPPublisher(ch, "")
		require.NoError(t, err)
		assert.NoError(t, p.Publish(context.Background(), []domain.Event{event}))
		ch.AssertExpectations(t)
	})

	t.Run("PublishError", func(t *testing.T) {
		ch := new(MockChannel)
		ch.On("ExchangeDeclare", "custom", "topic", true).Return(nil)
		ch.On("PublishWithContext", "custom", mock.Anything, mock.Anything).Return(errors.New("channel closed"))

		p, err := newAMQPPublisher(ch, "custom")
		require.NoError(t, err)
		err = p.Publish(context.Background(), []domain.Event{event})
		assert.ErrorContains(t, err, "channel closed")
	})

	t.Run("DeclareError", func(t *testing.T) {
		ch := new(MockChannel)
		ch.On("ExchangeDeclare", DefaultExchange, "topic", true).Return(errors.New("access refused"))

		_, err := newAMQPPublisher(ch, "")
		assert.Error(t, err)
	})
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(ctx context.Context, events []domain.Event) error { return f.err }
func (f failingPublisher) Close() error                                          { return nil }

func TestMultiPublisher(t *testing.T) {
	boom := errors.New("boom")
	m := MultiPublisher{NewLogPublisher(), failingPublisher{err: boom}}

	err := m.Publish(context.Background(), []domain.Event{{Type: domain.EventRentalCreated}})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, m.Close())

	// PublishCommitted never surfaces publishing failures
	PublishCommitted(context.Background(), m, []domain.Event{{Type: domain.EventRentalCreated}})
}
