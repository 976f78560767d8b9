package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies the outcome of one delivery attempt for one
// contact. The set is closed; the worker maps every provider response to
// exactly one of these.
type EventType string

const (
	EventDelivered              EventType = "delivered"
	EventReceived               EventType = "received"
	EventClicked                EventType = "clicked"
	EventProcessingFailed       EventType = "processing_failed"
	EventDeliveryFailed         EventType = "delivery_failed"
	EventDeliveryFailedButRetry EventType = "delivery_failed_but_retry"
)

// EventSubtype records why a failure happened. Deactivation keys on the
// (type, subtype) pair: delivery_failed + invalid_subscription is the only
// combination that retires a contact.
type EventSubtype string

const (
	SubtypeNone                EventSubtype = "none"
	SubtypeInvalidSubscription EventSubtype = "invalid_subscription"
	SubtypeUnknownFailure      EventSubtype = "unknown_failure"
	SubtypeLimitsExceeded      EventSubtype = "limits_exceeded"
)

// DeliveryEvent is an immutable fact: message X was, for contact Y, in
// outcome state Z at time T. Events are append-only; aggregates are always
// computed by reducing the event set.
type DeliveryEvent struct {
	ID        uuid.UUID    `db:"id" json:"id"`
	MessageID uuid.UUID    `db:"message_id" json:"message_id"`
	ContactID uuid.UUID    `db:"contact_id" json:"contact_id"`
	Type      EventType    `db:"event_type" json:"event_type"`
	Subtype   EventSubtype `db:"event_subtype" json:"event_subtype"`
	Error     string       `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// DeliverySummary is the reduced view of a message's event set.
// Sent counts resolved attempts (delivered or permanently failed);
// retryable failures are not yet resolved and do not count as sent.
type DeliverySummary struct {
	Sent         int `db:"sent" json:"sent"`
	Delivered    int `db:"delivered" json:"delivered"`
	NotDelivered int `db:"not_delivered" json:"not_delivered"`
}
