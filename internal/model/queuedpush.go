package model

import "github.com/google/uuid"

// QueuedPush is the payload placed on the durable broker for one
// (message, contact) pair. The broker redelivers at-least-once, so
// consumers must tolerate processing the same QueuedPush twice.
type QueuedPush struct {
	MessageID           uuid.UUID         `json:"message_id"`
	Title               string            `json:"title"`
	Body                string            `json:"body"`
	ClickURL            string            `json:"click_url,omitempty"`
	ImageURL            string            `json:"image_url,omitempty"`
	Subscription        *PushSubscription `json:"subscription,omitempty"`
	DeviceToken         string            `json:"device_token,omitempty"`
	ContactID           uuid.UUID         `json:"contact_id"`
	ClickCallbackURL    string            `json:"click_callback_url,omitempty"`
	ReceivedCallbackURL string            `json:"received_callback_url,omitempty"`
}
