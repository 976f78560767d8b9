package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/push-api/internal/model"
)

// ContactRepository is the contact store. Deactivation is a soft-delete
// and must be idempotent: deactivating an already-deactivated contact is
// a no-op success.
type ContactRepository interface {
	Create(ctx context.Context, contact *model.Contact) error
	Get(ctx context.Context, id uuid.UUID) (*model.Contact, error)
	ListSubscribersByDomain(ctx context.Context, domain string) ([]*model.Contact, error)
	Deactivate(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateEmail(ctx context.Context, id uuid.UUID, email string) error
	UpdateVisitorID(ctx context.Context, id uuid.UUID, visitorID string) error
}

type MessageRepository interface {
	Create(ctx context.Context, msg *model.DispatchMessage) error
	Get(ctx context.Context, id uuid.UUID) (*model.DispatchMessage, error)
	ListByDomain(ctx context.Context, domain string, limit int) ([]*model.DispatchMessage, error)
}

// EventRepository is the delivery-event store. Insert is append-only and
// accepts duplicates; Aggregate reduces the event set for one message.
type EventRepository interface {
	Insert(ctx context.Context, event *model.DeliveryEvent) error
	Aggregate(ctx context.Context, messageID uuid.UUID) (*model.DeliverySummary, error)
	ListByMessage(ctx context.Context, messageID uuid.UUID) ([]*model.DeliveryEvent, error)
}
