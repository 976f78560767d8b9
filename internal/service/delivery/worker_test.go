package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/push/webpush"
	"github.com/jwalitptl/push-api/pkg/logger"
	"github.com/jwalitptl/push-api/pkg/metrics"
)

type channelBroker struct {
	stream chan []byte
}

func (b *channelBroker) Publish(ctx context.Context, queue string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	b.stream <- payload
	return nil
}

func (b *channelBroker) Subscribe(ctx context.Context, queue string) (<-chan []byte, error) {
	return b.stream, nil
}

func (b *channelBroker) Close() error { return nil }

type stubSender struct {
	mu    sync.Mutex
	resp  *webpush.Response
	err   error
	calls int
}

func (s *stubSender) Send(ctx context.Context, push *model.QueuedPush) (*webpush.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.resp, s.err
}

type recordingEventRepo struct {
	mu     sync.Mutex
	events []*model.DeliveryEvent
}

func (r *recordingEventRepo) Insert(ctx context.Context, e *model.DeliveryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}
func (r *recordingEventRepo) Aggregate(ctx context.Context, id uuid.UUID) (*model.DeliverySummary, error) {
	return &model.DeliverySummary{}, nil
}
func (r *recordingEventRepo) ListByMessage(ctx context.Context, id uuid.UUID) ([]*model.DeliveryEvent, error) {
	return nil, nil
}

func (r *recordingEventRepo) snapshot() []*model.DeliveryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.DeliveryEvent, len(r.events))
	copy(out, r.events)
	return out
}

type recordingContactRepo struct {
	mu          sync.Mutex
	deactivated map[uuid.UUID]int
}

func (r *recordingContactRepo) Create(ctx context.Context, c *model.Contact) error { return nil }
func (r *recordingContactRepo) Get(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	return nil, errors.New("not implemented")
}
func (r *recordingContactRepo) ListSubscribersByDomain(ctx context.Context, domain string) ([]*model.Contact, error) {
	return nil, nil
}

// Deactivate mimics the idempotent soft-delete: only the first call for a
// contact reports a row change.
func (r *recordingContactRepo) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deactivated == nil {
		r.deactivated = make(map[uuid.UUID]int)
	}
	r.deactivated[id]++
	return r.deactivated[id] == 1, nil
}
func (r *recordingContactRepo) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	return nil
}
func (r *recordingContactRepo) UpdateVisitorID(ctx context.Context, id uuid.UUID, visitorID string) error {
	return nil
}

type workerFixture struct {
	worker   *Worker
	broker   *channelBroker
	sender   *stubSender
	events   *recordingEventRepo
	contacts *recordingContactRepo
}

func newWorkerFixture(t *testing.T, sender *stubSender) *workerFixture {
	t.Helper()
	f := &workerFixture{
		broker:   &channelBroker{stream: make(chan []byte, 8)},
		sender:   sender,
		events:   &recordingEventRepo{},
		contacts: &recordingContactRepo{},
	}
	f.worker = NewWorker("apple.webpush.queue", f.broker, f.sender,
		f.events, f.contacts, logger.NewLogger(nil), metrics.New("worker_test"))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.worker.Start(ctx))
	t.Cleanup(func() {
		cancel()
		f.worker.Wait()
	})
	return f
}

func queuedPush() *model.QueuedPush {
	return &model.QueuedPush{
		MessageID: uuid.New(),
		ContactID: uuid.New(),
		Title:     "hello",
		Body:      "world",
		Subscription: &model.PushSubscription{
			Endpoint: "https://web.push.apple.com/abc",
			P256DH:   "p256dh-key",
			Auth:     "auth-key",
		},
	}
}

func TestWorkerRecordsDeliveredEvent(t *testing.T) {
	f := newWorkerFixture(t, &stubSender{resp: &webpush.Response{StatusCode: 201}})

	push := queuedPush()
	require.NoError(t, f.broker.Publish(context.Background(), "apple.webpush.queue", push))

	require.Eventually(t, func() bool {
		return len(f.events.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	event := f.events.snapshot()[0]
	assert.Equal(t, push.MessageID, event.MessageID)
	assert.Equal(t, push.ContactID, event.ContactID)
	assert.Equal(t, model.EventDelivered, event.Type)
	assert.Equal(t, model.SubtypeNone, event.Subtype)

	f.contacts.mu.Lock()
	defer f.contacts.mu.Unlock()
	assert.Empty(t, f.contacts.deactivated)
}

func TestWorkerNetworkErrorRecordsProcessingFailure(t *testing.T) {
	f := newWorkerFixture(t, &stubSender{err: errors.New("dial tcp: connection refused")})

	push := queuedPush()
	require.NoError(t, f.broker.Publish(context.Background(), "apple.webpush.queue", push))

	require.Eventually(t, func() bool {
		return len(f.events.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	event := f.events.snapshot()[0]
	assert.Equal(t, model.EventProcessingFailed, event.Type)
	assert.Equal(t, model.SubtypeUnknownFailure, event.Subtype)
	assert.Contains(t, event.Error, "connection refused")

	// A processing failure never retires the contact.
	f.contacts.mu.Lock()
	defer f.contacts.mu.Unlock()
	assert.Empty(t, f.contacts.deactivated)
}

func TestWorkerGoneSubscriptionDeactivatesContact(t *testing.T) {
	f := newWorkerFixture(t, &stubSender{resp: &webpush.Response{StatusCode: 410}})

	push := queuedPush()
	require.NoError(t, f.broker.Publish(context.Background(), "apple.webpush.queue", push))

	require.Eventually(t, func() bool {
		f.contacts.mu.Lock()
		defer f.contacts.mu.Unlock()
		return f.contacts.deactivated[push.ContactID] == 1
	}, 2*time.Second, 10*time.Millisecond)

	event := f.events.snapshot()[0]
	assert.Equal(t, model.EventDeliveryFailed, event.Type)
	assert.Equal(t, model.SubtypeInvalidSubscription, event.Subtype)
}

func TestWorkerRedeliveryProducesDuplicateEvents(t *testing.T) {
	f := newWorkerFixture(t, &stubSender{resp: &webpush.Response{StatusCode: 410}})

	push := queuedPush()
	require.NoError(t, f.broker.Publish(context.Background(), "apple.webpush.queue", push))
	require.NoError(t, f.broker.Publish(context.Background(), "apple.webpush.queue", push))

	require.Eventually(t, func() bool {
		return len(f.events.snapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	for _, event := range f.events.snapshot() {
		assert.Equal(t, model.EventDeliveryFailed, event.Type)
	}

	// Deactivation was attempted twice but only the first changed a row.
	f.contacts.mu.Lock()
	defer f.contacts.mu.Unlock()
	assert.Equal(t, 2, f.contacts.deactivated[push.ContactID])
}

func TestWorkerDiscardsMalformedPayload(t *testing.T) {
	sender := &stubSender{resp: &webpush.Response{StatusCode: 201}}
	f := newWorkerFixture(t, sender)

	f.broker.stream <- []byte("{not json")

	push := queuedPush()
	require.NoError(t, f.broker.Publish(context.Background(), "apple.webpush.queue", push))

	// The malformed payload is dropped; the next message still flows.
	require.Eventually(t, func() bool {
		return len(f.events.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, 1, sender.calls)
}
