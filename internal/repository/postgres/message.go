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

type messageRepository struct {
	BaseRepository
}

func NewMessageRepository(base BaseRepository) repository.MessageRepository {
	return &messageRepository{base}
}

type messageRow struct {
	ID        uuid.UUID      `db:"id"`
	Domain    string         `db:"domain"`
	Title     string         `db:"title"`
	Body      string         `db:"body"`
	ClickURL  sql.NullString `db:"click_url"`
	ImageURL  sql.NullString `db:"image_url"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r messageRow) toModel() *model.DispatchMessage {
	return &model.DispatchMessage{
		ID:        r.ID,
		Domain:    r.Domain,
		Title:     r.Title,
		Body:      r.Body,
		ClickURL:  r.ClickURL.String,
		ImageURL:  r.ImageURL.String,
		CreatedAt: r.CreatedAt,
	}
}

func (r *messageRepository) Create(ctx context.Context, msg *model.DispatchMessage) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}

	query := `
		INSERT INTO dispatch_messages (
			id, domain, title, body, click_url, image_url, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.Domain,
		msg.Title,
		msg.Body,
		msg.ClickURL,
		msg.ImageURL,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create dispatch message: %w", err)
	}
	return nil
}

func (r *messageRepository) Get(ctx context.Context, id uuid.UUID) (*model.DispatchMessage, error) {
	query := `
		SELECT id, domain, title, body, click_url, image_url, created_at
		FROM dispatch_messages
		WHERE id = $1
	`
	var row messageRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("message", err)
		}
		return nil, fmt.Errorf("failed to get dispatch message: %w", err)
	}
	return row.toModel(), nil
}

func (r *messageRepository) ListByDomain(ctx context.Context, domain string, limit int) ([]*model.DispatchMessage, error) {
	query := `
		SELECT id, domain, title, body, click_url, image_url, created_at
		FROM dispatch_messages
		WHERE domain = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, domain, limit); err != nil {
		return nil, fmt.Errorf("failed to list messages for domain %s: %w", domain, err)
	}

	messages := make([]*model.DispatchMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toModel())
	}
	return messages, nil
}
