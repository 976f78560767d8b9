package model

import (
	"time"

	"github.com/google/uuid"
)

// DispatchMessage is one push-notification send request for a domain.
// Content fields are immutable after creation; the delivery counters are
// projections computed from the delivery-event set, never stored values.
type DispatchMessage struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Domain       string    `db:"domain" json:"domain"`
	Title        string    `db:"title" json:"title"`
	Body         string    `db:"body" json:"body"`
	ClickURL     string    `db:"click_url" json:"click_url,omitempty"`
	ImageURL     string    `db:"image_url" json:"image_url,omitempty"`
	Sent         int       `db:"-" json:"sent"`
	Delivered    int       `db:"-" json:"delivered"`
	NotDelivered int       `db:"-" json:"not_delivered"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
