package contact

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/repository"
	"github.com/jwalitptl/push-api/pkg/errors"
)

// Service handles contact registration and explicit field updates. The
// pipeline never hard-deletes a contact; retirement is the soft-delete
// performed by the delivery worker.
type Service interface {
	Register(ctx context.Context, contact *model.Contact) error
	Get(ctx context.Context, id uuid.UUID) (*model.Contact, error)
	UpdateEmail(ctx context.Context, id uuid.UUID, email string) error
	UpdateVisitorID(ctx context.Context, id uuid.UUID, visitorID string) error
}

type service struct {
	repo repository.ContactRepository
}

func NewService(repo repository.ContactRepository) Service {
	return &service{repo: repo}
}

func (s *service) Register(ctx context.Context, contact *model.Contact) error {
	if contact == nil {
		return errors.BadRequest("contact is required", nil)
	}
	if contact.Domain == "" {
		return errors.BadRequest("domain is required", nil)
	}
	if !contact.Subscription.Routable() && !contact.HasDeviceToken() {
		return errors.BadRequest("contact needs a subscription or a device token", nil)
	}
	return s.repo.Create(ctx, contact)
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	return s.repo.Get(ctx, id)
}

func (s *service) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	if email == "" {
		return errors.BadRequest("email is required", nil)
	}
	return s.repo.UpdateEmail(ctx, id, email)
}

func (s *service) UpdateVisitorID(ctx context.Context, id uuid.UUID, visitorID string) error {
	if visitorID == "" {
		return errors.BadRequest("visitor id is required", nil)
	}
	return s.repo.UpdateVisitorID(ctx, id, visitorID)
}
