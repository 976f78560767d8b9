package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/repository"
)

type eventRepository struct {
	BaseRepository
}

func NewEventRepository(base BaseRepository) repository.EventRepository {
	return &eventRepository{base}
}

// Insert appends one delivery event. Events are never updated or deleted
// here; duplicates from broker redelivery are stored as separate rows.
func (r *eventRepository) Insert(ctx context.Context, event *model.DeliveryEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	query := `
		INSERT INTO delivery_events (
			id, message_id, contact_id, event_type, event_subtype,
			error_detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query,
		event.ID,
		event.MessageID,
		event.ContactID,
		event.Type,
		event.Subtype,
		event.Error,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery event: %w", err)
	}
	return nil
}

// Aggregate reduces the full event set for a message in one query.
// "Sent" counts resolved attempts only: delivered plus permanently
// failed. The reduction runs over the rows every time, so concurrent
// writers never race a stored counter.
func (r *eventRepository) Aggregate(ctx context.Context, messageID uuid.UUID) (*model.DeliverySummary, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE event_type IN ($2, $3)) AS sent,
			COUNT(*) FILTER (WHERE event_type = $2) AS delivered
		FROM delivery_events
		WHERE message_id = $1
	`
	var row struct {
		Sent      int `db:"sent"`
		Delivered int `db:"delivered"`
	}
	err := r.db.GetContext(ctx, &row, query,
		messageID, model.EventDelivered, model.EventDeliveryFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events for message %s: %w", messageID, err)
	}

	return &model.DeliverySummary{
		Sent:         row.Sent,
		Delivered:    row.Delivered,
		NotDelivered: row.Sent - row.Delivered,
	}, nil
}

func (r *eventRepository) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*model.DeliveryEvent, error) {
	query := `
		SELECT id, message_id, contact_id, event_type, event_subtype,
		       error_detail, created_at
		FROM delivery_events
		WHERE message_id = $1
		ORDER BY created_at ASC
	`
	var events []*model.DeliveryEvent
	if err := r.db.SelectContext(ctx, &events, query, messageID); err != nil {
		return nil, fmt.Errorf("failed to list events for message %s: %w", messageID, err)
	}
	return events, nil
}
