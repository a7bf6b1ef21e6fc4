// Package events hands committed domain events to downstream consumers
// (notifications, analytics). Publishing is best effort and never affects
// the outcome of the transition that produced the events.
package events

import (
	"context"
	"errors"

	"cark-backend/internal/domain"
	"cark-backend/internal/logger"
)

type Publisher interface {
	Publish(ctx context.Context, events []domain.Event) error
	Close() error
}

// LogPublisher writes events to the application log. Used when no broker is
// configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		logger.InfoContext(ctx, "Domain event",
			"type", e.Type, "rental", e.Rental.String(), "status", e.Status, "actor_id", e.ActorID)
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// MultiPublisher fans events out to every publisher and joins their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishCommitted publishes events produced by a committed unit of work.
// Failures are logged and swallowed.
func PublishCommitted(ctx context.Context, p Publisher, events []domain.Event) {
	if p == nil || len(events) == 0 {
		return
	}
	if err := p.Publish(ctx, events); err != nil {
		logger.WarnContext(ctx, "Failed to publish domain events", "count", len(events), "error", err)
	}
}
