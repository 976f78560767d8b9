package model

import (
	"time"

	"github.com/google/uuid"
)

// PushSubscription holds the browser push subscription credentials for a
// contact: the push-service endpoint plus the two client keys required to
// encrypt payloads for it.
type PushSubscription struct {
	Endpoint string `db:"endpoint" json:"endpoint"`
	P256DH   string `db:"p256dh" json:"p256dh"`
	Auth     string `db:"auth" json:"auth"`
}

// Routable reports whether the subscription carries everything needed to
// deliver through a web-push service. Subscriptions missing the endpoint
// or either key cannot be dispatched.
func (s *PushSubscription) Routable() bool {
	if s == nil {
		return false
	}
	return s.Endpoint != "" && s.P256DH != "" && s.Auth != ""
}

type Contact struct {
	ID           uuid.UUID         `db:"id" json:"id"`
	Domain       string            `db:"domain" json:"domain"`
	DeviceToken  string            `db:"device_token" json:"device_token,omitempty"`
	Subscription *PushSubscription `json:"subscription,omitempty"`
	VisitorID    string            `db:"visitor_id" json:"visitor_id,omitempty"`
	Email        string            `db:"email" json:"email,omitempty"`
	Deleted      bool              `db:"deleted" json:"deleted"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// HasDeviceToken reports whether the contact can still be reached through
// the legacy token-based delivery API.
func (c *Contact) HasDeviceToken() bool {
	return c.DeviceToken != ""
}
