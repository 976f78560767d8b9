package dispatch_test

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

	"github.com/jwalitptl/push-api/internal/callback"
	"github.com/jwalitptl/push-api/internal/config"
	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/push/batch"
	"github.com/jwalitptl/push-api/internal/service/dispatch"
	"github.com/jwalitptl/push-api/pkg/logger"
	"github.com/jwalitptl/push-api/pkg/metrics"
	"github.com/jwalitptl/push-api/pkg/queue"
)

type fakeContactRepo struct {
	mu          sync.Mutex
	contacts    []*model.Contact
	listErr     error
	listCalls   int
	deactivated []uuid.UUID
}

func (f *fakeContactRepo) Create(ctx context.Context, c *model.Contact) error { return nil }
func (f *fakeContactRepo) Get(ctx context.Context, id uuid.UUID) (*model.Contact, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeContactRepo) ListSubscribersByDomain(ctx context.Context, domain string) ([]*model.Contact, error) {
	f.mu.Lock()
	f.listCalls++
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.contacts, nil
}
func (f *fakeContactRepo) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, id)
	return true, nil
}
func (f *fakeContactRepo) UpdateEmail(ctx context.Context, id uuid.UUID, email string) error {
	return nil
}
func (f *fakeContactRepo) UpdateVisitorID(ctx context.Context, id uuid.UUID, visitorID string) error {
	return nil
}

type fakeMessageRepo struct {
	mu      sync.Mutex
	created []*model.DispatchMessage
}

func (f *fakeMessageRepo) Create(ctx context.Context, m *model.DispatchMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, m)
	return nil
}
func (f *fakeMessageRepo) Get(ctx context.Context, id uuid.UUID) (*model.DispatchMessage, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeMessageRepo) ListByDomain(ctx context.Context, domain string, limit int) ([]*model.DispatchMessage, error) {
	return nil, nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []*model.DeliveryEvent
}

func (f *fakeEventRepo) Insert(ctx context.Context, e *model.DeliveryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}
func (f *fakeEventRepo) Aggregate(ctx context.Context, id uuid.UUID) (*model.DeliverySummary, error) {
	return &model.DeliverySummary{}, nil
}
func (f *fakeEventRepo) ListByMessage(ctx context.Context, id uuid.UUID) ([]*model.DeliveryEvent, error) {
	return nil, nil
}

type publishedMessage struct {
	queue   string
	payload []byte
}

type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
}

func (f *fakeBroker) Publish(ctx context.Context, queueName string, message interface{}) error {
	if f.err != nil {
		return f.err
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{queue: queueName, payload: payload})
	return nil
}
func (f *fakeBroker) Subscribe(ctx context.Context, queueName string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBroker) Close() error { return nil }

func (f *fakeBroker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type batchCall struct {
	req batch.SendRequest
}

type fakeBatchSender struct {
	mu      sync.Mutex
	calls   []batchCall
	results []batch.TargetResult
	err     error
}

func (f *fakeBatchSender) Send(ctx context.Context, req batch.SendRequest) ([]batch.TargetResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, batchCall{req: req})
	if f.err != nil {
		return nil, f.err
	}
	if len(req.Tokens) == 0 {
		return nil, nil
	}
	return f.results, nil
}

func (f *fakeBatchSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type dispatchFixture struct {
	svc      dispatch.Service
	tasks    *queue.TaskQueue
	contacts *fakeContactRepo
	messages *fakeMessageRepo
	events   *fakeEventRepo
	broker   *fakeBroker
	batch    *fakeBatchSender
	cancel   context.CancelFunc
}

func newDispatchFixture(t *testing.T, contacts []*model.Contact) *dispatchFixture {
	t.Helper()

	testLogger := logger.NewLogger(nil)
	f := &dispatchFixture{
		tasks:    queue.NewTaskQueue(testLogger),
		contacts: &fakeContactRepo{contacts: contacts},
		messages: &fakeMessageRepo{},
		events:   &fakeEventRepo{},
		broker:   &fakeBroker{},
		batch:    &fakeBatchSender{},
	}

	router := dispatch.NewRouter(testRoutes(), "default.webpush.queue")
	callbacks := callback.NewURLBuilder(config.CallbackConfig{}, testLogger)

	f.svc = dispatch.NewService(
		f.tasks, f.contacts, f.messages, f.events,
		f.broker, f.batch, router, callbacks,
		testLogger, metrics.New("dispatch_test"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.tasks.Start(ctx)
	t.Cleanup(func() {
		cancel()
	})
	return f
}

func routableContact(endpoint string) *model.Contact {
	return &model.Contact{
		ID:     uuid.New(),
		Domain: "example.com",
		Subscription: &model.PushSubscription{
			Endpoint: endpoint,
			P256DH:   "p256dh-key",
			Auth:     "auth-key",
		},
	}
}

func TestDispatchValidation(t *testing.T) {
	f := newDispatchFixture(t, nil)

	tests := []struct {
		name string
		msg  *model.DispatchMessage
	}{
		{"nil message", nil},
		{"missing domain", &model.DispatchMessage{Title: "t", Body: "b"}},
		{"missing title", &model.DispatchMessage{Domain: "example.com", Body: "b"}},
		{"missing body", &model.DispatchMessage{Domain: "example.com", Title: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, f.svc.Dispatch(context.Background(), tt.msg))
		})
	}
	assert.Empty(t, f.messages.created)
}

func TestDispatchRoutesMixedContacts(t *testing.T) {
	apple := routableContact("https://web.push.apple.com/QOsabc")
	legacy := &model.Contact{ID: uuid.New(), Domain: "example.com", DeviceToken: "device-token-1"}
	malformed := &model.Contact{
		ID:     uuid.New(),
		Domain: "example.com",
		Subscription: &model.PushSubscription{
			Endpoint: "https://web.push.apple.com/QOsdef",
			P256DH:   "p256dh-key",
			// auth key missing
		},
	}

	f := newDispatchFixture(t, []*model.Contact{apple, legacy, malformed})

	msg := &model.DispatchMessage{Domain: "example.com", Title: "hello", Body: "world"}
	require.NoError(t, f.svc.Dispatch(context.Background(), msg))

	require.Eventually(t, func() bool {
		return f.broker.count() == 1 && f.batch.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Exactly one publish, to the apple queue, for the routable contact.
	f.broker.mu.Lock()
	published := f.broker.published[0]
	f.broker.mu.Unlock()
	assert.Equal(t, "apple.webpush.queue", published.queue)

	var push model.QueuedPush
	require.NoError(t, json.Unmarshal(published.payload, &push))
	assert.Equal(t, msg.ID, push.MessageID)
	assert.Equal(t, apple.ID, push.ContactID)
	require.NotNil(t, push.Subscription)
	assert.Equal(t, apple.Subscription.Endpoint, push.Subscription.Endpoint)

	// Exactly one batched call carrying only the legacy token.
	f.batch.mu.Lock()
	call := f.batch.calls[0]
	f.batch.mu.Unlock()
	assert.Equal(t, []string{"device-token-1"}, call.req.Tokens)

	// The malformed contact produced neither.
	assert.Equal(t, 1, f.broker.count())
	assert.Equal(t, 1, f.batch.callCount())
}

func TestDispatchEmptyLegacyBucketStillCallsBatchClient(t *testing.T) {
	f := newDispatchFixture(t, []*model.Contact{routableContact("https://fcm.googleapis.com/x")})

	msg := &model.DispatchMessage{Domain: "example.com", Title: "hello", Body: "world"}
	require.NoError(t, f.svc.Dispatch(context.Background(), msg))

	require.Eventually(t, func() bool {
		return f.batch.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.batch.mu.Lock()
	defer f.batch.mu.Unlock()
	assert.Empty(t, f.batch.calls[0].req.Tokens)
}

func TestDispatchStoreFailureIsSwallowed(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.contacts.listErr = errors.New("store down")

	msg := &model.DispatchMessage{Domain: "example.com", Title: "hello", Body: "world"}
	require.NoError(t, f.svc.Dispatch(context.Background(), msg))

	// The task runs, fails, and does not publish anything; the caller
	// never sees the error.
	require.Eventually(t, func() bool {
		f.contacts.mu.Lock()
		defer f.contacts.mu.Unlock()
		return f.contacts.listCalls == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.broker.count())
	assert.Zero(t, f.batch.callCount())
}

func TestDispatchBrokerFailureIsSwallowed(t *testing.T) {
	f := newDispatchFixture(t, []*model.Contact{routableContact("https://web.push.apple.com/z")})
	f.broker.err = errors.New("broker down")

	msg := &model.DispatchMessage{Domain: "example.com", Title: "hello", Body: "world"}
	require.NoError(t, f.svc.Dispatch(context.Background(), msg))

	require.Eventually(t, func() bool {
		return f.batch.callCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.broker.count())
}

func TestDispatchLegacyOutcomesWithSharedDeviceToken(t *testing.T) {
	first := &model.Contact{ID: uuid.New(), Domain: "example.com", DeviceToken: "shared-token"}
	second := &model.Contact{ID: uuid.New(), Domain: "example.com", DeviceToken: "shared-token"}

	f := newDispatchFixture(t, []*model.Contact{first, second})
	f.batch.results = []batch.TargetResult{
		{Token: "shared-token", Delivered: true, Valid: true},
		{Token: "shared-token", Delivered: false, Valid: false, ErrorCode: "UNREGISTERED"},
	}

	msg := &model.DispatchMessage{Domain: "example.com", Title: "hello", Body: "world"}
	require.NoError(t, f.svc.Dispatch(context.Background(), msg))

	require.Eventually(t, func() bool {
		f.events.mu.Lock()
		defer f.events.mu.Unlock()
		return len(f.events.events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// One event per contact: result i pairs with contact i even when the
	// tokens are identical.
	f.events.mu.Lock()
	byContact := make(map[uuid.UUID]*model.DeliveryEvent)
	for _, e := range f.events.events {
		byContact[e.ContactID] = e
	}
	f.events.mu.Unlock()

	require.Len(t, byContact, 2)
	assert.Equal(t, model.EventDelivered, byContact[first.ID].Type)
	assert.Equal(t, model.EventDeliveryFailed, byContact[second.ID].Type)

	f.contacts.mu.Lock()
	defer f.contacts.mu.Unlock()
	assert.Equal(t, []uuid.UUID{second.ID}, f.contacts.deactivated)
}

func TestDispatchRecordsLegacyOutcomes(t *testing.T) {
	dead := &model.Contact{ID: uuid.New(), Domain: "example.com", DeviceToken: "dead-token"}
	alive := &model.Contact{ID: uuid.New(), Domain: "example.com", DeviceToken: "ok-token"}

	f := newDispatchFixture(t, []*model.Contact{dead, alive})
	f.batch.results = []batch.TargetResult{
		{Token: "dead-token", Delivered: false, Valid: false, ErrorCode: "UNREGISTERED"},
		{Token: "ok-token", Delivered: true, Valid: true},
	}

	msg := &model.DispatchMessage{Domain: "example.com", Title: "hello", Body: "world"}
	require.NoError(t, f.svc.Dispatch(context.Background(), msg))

	require.Eventually(t, func() bool {
		f.events.mu.Lock()
		defer f.events.mu.Unlock()
		return len(f.events.events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	f.events.mu.Lock()
	byContact := make(map[uuid.UUID]*model.DeliveryEvent)
	for _, e := range f.events.events {
		byContact[e.ContactID] = e
	}
	f.events.mu.Unlock()

	require.Contains(t, byContact, dead.ID)
	assert.Equal(t, model.EventDeliveryFailed, byContact[dead.ID].Type)
	assert.Equal(t, model.SubtypeInvalidSubscription, byContact[dead.ID].Subtype)

	require.Contains(t, byContact, alive.ID)
	assert.Equal(t, model.EventDelivered, byContact[alive.ID].Type)

	f.contacts.mu.Lock()
	defer f.contacts.mu.Unlock()
	assert.Equal(t, []uuid.UUID{dead.ID}, f.contacts.deactivated)
}
