package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahajkart/checkout-core/internal/events"
)

// Events persists domain events.
type Events struct {
	Pool *pgxpool.Pool
}

const eventInsertSQL = `
INSERT INTO domain_events (topic, aggregate_id, payload)
VALUES ($1, $2, $3)
RETURNING id, occurred_at`

// InsertDomainEvent appends a domain event and returns the stored row.
func (s *Events) InsertDomainEvent(ctx context.Context, topic string, aggregateID pgtype.UUID, payload []byte) (events.Event, error) {
	ev := events.Event{
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
	}
	err := s.Pool.QueryRow(ctx, eventInsertSQL, topic, aggregateID, payload).Scan(&ev.ID, &ev.OccurredAt)
	if err != nil {
		return events.Event{}, fmt.Errorf("insert domain event: %w", err)
	}
	return ev, nil
}
