package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/jwalitptl/push-api/pkg/errors"

	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/repository"
)

type contactRepository struct {
	BaseRepository
}

func NewContactRepository(base BaseRepository) repository.ContactRepository {
	return &contactRepository{base}
}

// contactRow flattens the optional subscription columns for sqlx scanning.
type contactRow struct {
	ID          uuid.UUID      `db:"id"`
	Domain      string         `db:"domain"`
	DeviceToken sql.NullString `db:"device_token"`
	Endpoint    sql.NullString `db:"endpoint"`
	P256DH      sql.NullString `db:"p256dh"`
	Auth        sql.NullString `db:"auth"`
	VisitorID   sql.NullString `db:"visitor_id"`
	Email       sql.NullString `db:"email"`
	Deleted     bool           `db:"deleted"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r contactRow) toModel() *model.Contact {
	c := &model.Contact{
		ID:          r.ID,
		Domain:      r.Domain,
		DeviceToken: r.DeviceToken.String,
		VisitorID:   r.VisitorID.String,
		Email:       r.Email.String,
		Deleted:     r.Deleted,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Endpoint.Valid && r.Endpoint.String != "" {
		c.Subscription = &model.PushSubscription{
			Endpoint: r.Endpoint.String,
			P256DH:   r.P256DH.String,
			Auth:     r.Auth.String,
		}
	}
	return c
}

func (r *contactRepository) Create(ctx context.Context, contact *model.Contact) error {
	if contact == nil {
		return fmt.Errorf("contact cannot be nil")
	}

	query := `
		INSERT INTO contacts (
			id, domain, device_token, endpoint, p256dh, auth,
			visitor_id, email, deleted, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}
	contact.CreatedAt = time.Now()
	contact.UpdatedAt = contact.CreatedAt

	var endpoint, p256dh, auth string
	if contact.Subscription != nil {
		endpoint = contact.Subscription.Endpoint
		p256dh = contact.Subscription.P256DH
		auth = contact.Subscription.Auth
	}

	_, err := r.db.ExecContext(ctx, query,
		contact.ID,
		contact.Domain,
		contact.DeviceToken,
		endpoint,
		p256dh,
		auth,
		contact.VisitorID,
		contact.Email,
		contact.Deleted,
		contact.CreatedAt,
		contact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

func (r *contactRepository) Get(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	query := `
		SELECT id, domain, device_token, endpoint, p256dh, auth,
		       visitor_id, email, deleted, created_at, updated_at
		FROM contacts
		WHERE id = $1
	`
	var row contactRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("contact", err)
		}
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return row.toModel(), nil
}

// ListSubscribersByDomain returns the active contacts for a domain that
// carry either a push subscription or a legacy device token. Soft-deleted
// contacts are never returned.
func (r *contactRepository) ListSubscribersByDomain(ctx context.Context, domain string) ([]*model.Contact, error) {
	query := `
		SELECT id, domain, device_token, endpoint, p256dh, auth,
		       visitor_id, email, deleted, created_at, updated_at
		FROM contacts
		WHERE domain = $1
		  AND deleted = false
		  AND (COALESCE(endpoint, '') <> '' OR COALESCE(device_token, '') <> '')
		ORDER BY created_at ASC
	`
	var rows []contactRow
	if err := r.db.SelectContext(ctx, &rows, query, domain); err != nil {
		return nil, fmt.Errorf("failed to list subscribers for domain %s: %w", domain, err)
	}

	contacts := make([]*model.Contact, 0, len(rows))
	for _, row := range rows {
		contacts = append(contacts, row.toModel())
	}
	return contacts, nil
}

// Deactivate soft-deletes a contact. The WHERE clause makes it idempotent:
// a second call matches no rows and reports false with no error.
func (r *contactRepository) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE contacts
		SET deleted = true, updated_at = NOW()
		WHERE id = $1 AND deleted = false
	`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate contact: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *contactRepository) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	query := `
		UPDATE contacts
		SET email = $1, updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, email, id)
	if err != nil {
		return fmt.Errorf("failed to update contact email: %w", err)
	}
	return nil
}

func (r *contactRepository) UpdateVisitorID(ctx context.Context, id uuid.UUID, visitorID string) error {
	query := `
		UPDATE contacts
		SET visitor_id = $1, updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.db.ExecContext(ctx, query, visitorID, id)
	if err != nil {
		return fmt.Errorf("failed to update contact visitor id: %w", err)
	}
	return nil
}
