package webpush

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/jwalitptl/push-api/internal/model"
)

// Response is the provider's answer to one delivery attempt. StatusCode
// is only meaningful when Err is nil.
type Response struct {
	StatusCode int
}

// Sender delivers one QueuedPush to the contact's push service. The
// returned error means the attempt itself failed before a provider
// response was obtained; a provider rejection comes back as a Response
// with a non-2xx status code.
type Sender interface {
	Send(ctx context.Context, push *model.QueuedPush) (*Response, error)
}

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	TTL             int
}

type sender struct {
	cfg Config
}

func NewSender(cfg Config) Sender {
	if cfg.TTL <= 0 {
		cfg.TTL = int((24 * time.Hour).Seconds())
	}
	return &sender{cfg: cfg}
}

// notificationPayload is the JSON body the service worker receives.
type notificationPayload struct {
	Title               string `json:"title"`
	Body                string `json:"body"`
	ClickURL            string `json:"click_url,omitempty"`
	ImageURL            string `json:"image_url,omitempty"`
	ClickCallbackURL    string `json:"click_callback_url,omitempty"`
	ReceivedCallbackURL string `json:"received_callback_url,omitempty"`
}

func (s *sender) Send(ctx context.Context, push *model.QueuedPush) (*Response, error) {
	if push.Subscription == nil {
		return nil, fmt.Errorf("queued push %s has no subscription", push.MessageID)
	}

	payload, err := json.Marshal(notificationPayload{
		Title:               push.Title,
		Body:                push.Body,
		ClickURL:            push.ClickURL,
		ImageURL:            push.ImageURL,
		ClickCallbackURL:    push.ClickCallbackURL,
		ReceivedCallbackURL: push.ReceivedCallbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push payload: %w", err)
	}

	sub := &webpush.Subscription{
		Endpoint: push.Subscription.Endpoint,
		Keys: webpush.Keys{
			P256dh: push.Subscription.P256DH,
			Auth:   push.Subscription.Auth,
		},
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		Subscriber:      s.cfg.VAPIDSubject,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	return &Response{StatusCode: resp.StatusCode}, nil
}
