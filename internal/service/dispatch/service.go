package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/push-api/internal/callback"
	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/push/batch"
	"github.com/jwalitptl/push-api/internal/repository"
	"github.com/jwalitptl/push-api/pkg/errors"
	"github.com/jwalitptl/push-api/pkg/logger"
	"github.com/jwalitptl/push-api/pkg/messaging"
	"github.com/jwalitptl/push-api/pkg/metrics"
	"github.com/jwalitptl/push-api/pkg/queue"
)

// Service is the publisher side of the pipeline. Dispatch validates and
// persists the message, then hands the routing work to the in-process
// queue and returns; everything after that is best-effort and logged,
// never surfaced to the caller.
type Service interface {
	Dispatch(ctx context.Context, msg *model.DispatchMessage) error
}

// BatchSender is the legacy token-delivery client. *batch.Client is the
// production implementation.
type BatchSender interface {
	Send(ctx context.Context, req batch.SendRequest) ([]batch.TargetResult, error)
}

type service struct {
	tasks       *queue.TaskQueue
	contactRepo repository.ContactRepository
	messageRepo repository.MessageRepository
	eventRepo   repository.EventRepository
	broker      messaging.Broker
	batchClient BatchSender
	router      *Router
	callbacks   *callback.URLBuilder
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

func NewService(
	tasks *queue.TaskQueue,
	contactRepo repository.ContactRepository,
	messageRepo repository.MessageRepository,
	eventRepo repository.EventRepository,
	broker messaging.Broker,
	batchClient BatchSender,
	router *Router,
	callbacks *callback.URLBuilder,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) Service {
	return &service{
		tasks:       tasks,
		contactRepo: contactRepo,
		messageRepo: messageRepo,
		eventRepo:   eventRepo,
		broker:      broker,
		batchClient: batchClient,
		router:      router,
		callbacks:   callbacks,
		logger:      logger,
		metrics:     metrics,
	}
}

func (s *service) Dispatch(ctx context.Context, msg *model.DispatchMessage) error {
	if err := s.validate(msg); err != nil {
		return err
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return fmt.Errorf("failed to persist dispatch message: %w", err)
	}

	domain, messageID := msg.Domain, msg.ID
	snapshot := *msg
	if err := s.tasks.Enqueue(func(taskCtx context.Context) {
		s.route(taskCtx, domain, &snapshot)
	}); err != nil {
		return fmt.Errorf("failed to enqueue dispatch for message %s: %w", messageID, err)
	}

	return nil
}

func (s *service) validate(msg *model.DispatchMessage) error {
	if msg == nil {
		return errors.BadRequest("message is required", nil)
	}
	if msg.Domain == "" {
		return errors.BadRequest("domain is required", nil)
	}
	if msg.Title == "" {
		return errors.BadRequest("title is required", nil)
	}
	if msg.Body == "" {
		return errors.BadRequest("body is required", nil)
	}
	return nil
}

// route is the deferred dispatch task. Every failure in here is caught
// and logged with the domain and message id; the task always completes
// from the queue's point of view. Dispatch is best-effort: there is no
// automatic retry, that belongs to the broker and the operator.
func (s *service) route(ctx context.Context, domain string, msg *model.DispatchMessage) {
	s.metrics.DispatchTasks.Inc()
	timer := prometheus.NewTimer(s.metrics.DispatchLatency)
	defer timer.ObserveDuration()

	contacts, err := s.contactRepo.ListSubscribersByDomain(ctx, domain)
	if err != nil {
		s.metrics.DispatchFailures.Inc()
		s.logger.Error(err, "failed to fetch subscribers",
			"domain", domain, "message_id", msg.ID.String())
		return
	}

	routable, legacy := s.partition(contacts, msg.ID)

	var wg sync.WaitGroup
	for _, contact := range routable {
		wg.Add(1)
		go func(c *model.Contact) {
			defer wg.Done()
			s.publishOne(ctx, msg, c)
		}(contact)
	}

	s.sendLegacy(ctx, msg, legacy)
	wg.Wait()
}

// partition splits the domain's contacts into the web-push bucket and the
// legacy device-token bucket. Contacts with neither a routable
// subscription nor a token are malformed: logged and dropped, never
// dispatched.
func (s *service) partition(contacts []*model.Contact, messageID uuid.UUID) (routable, legacy []*model.Contact) {
	for _, contact := range contacts {
		switch {
		case contact.Subscription.Routable():
			routable = append(routable, contact)
		case contact.HasDeviceToken():
			legacy = append(legacy, contact)
		default:
			s.metrics.DroppedSubscriptions.Inc()
			s.logger.Warn("dropping contact with malformed subscription",
				"contact_id", contact.ID.String(), "message_id", messageID.String())
		}
	}
	return routable, legacy
}

func (s *service) publishOne(ctx context.Context, msg *model.DispatchMessage, contact *model.Contact) {
	queueName := s.router.QueueFor(contact.Subscription.Endpoint)

	click, received := s.callbacks.Build(msg.ID, contact.ID)
	push := &model.QueuedPush{
		MessageID:           msg.ID,
		Title:               msg.Title,
		Body:                msg.Body,
		ClickURL:            msg.ClickURL,
		ImageURL:            msg.ImageURL,
		Subscription:        contact.Subscription,
		ContactID:           contact.ID,
		ClickCallbackURL:    click,
		ReceivedCallbackURL: received,
	}

	if err := s.broker.Publish(ctx, queueName, push); err != nil {
		s.metrics.BrokerPublishes.WithLabelValues(queueName, "error").Inc()
		s.logger.Error(err, "failed to publish queued push",
			"domain", msg.Domain, "message_id", msg.ID.String(),
			"contact_id", contact.ID.String(), "queue", queueName)
		return
	}
	s.metrics.BrokerPublishes.WithLabelValues(queueName, "success").Inc()
}

// sendLegacy delivers the device-token bucket through the batched client
// in a single call and records the classified per-token outcomes. An
// empty bucket is a no-op inside the client.
func (s *service) sendLegacy(ctx context.Context, msg *model.DispatchMessage, legacy []*model.Contact) {
	tokens := make([]string, 0, len(legacy))
	for _, contact := range legacy {
		tokens = append(tokens, contact.DeviceToken)
	}

	results, err := s.batchClient.Send(ctx, batch.SendRequest{
		Title:    msg.Title,
		Body:     msg.Body,
		Tokens:   tokens,
		ClickURL: msg.ClickURL,
		ImageURL: msg.ImageURL,
	})
	if err != nil {
		s.metrics.DispatchFailures.Inc()
		s.logger.Error(err, "legacy batch delivery failed",
			"domain", msg.Domain, "message_id", msg.ID.String(), "tokens", len(tokens))
		return
	}

	// Results come back one per token in input order, so result i belongs
	// to contact i. Pairing by index keeps contacts that share a device
	// token distinct.
	for i, result := range results {
		if i >= len(legacy) {
			s.logger.Error(nil, "batch delivery returned more results than tokens sent",
				"domain", msg.Domain, "message_id", msg.ID.String(),
				"tokens", len(legacy), "results", len(results))
			break
		}
		s.recordLegacyOutcome(ctx, msg, legacy[i], result)
	}
}

func (s *service) recordLegacyOutcome(ctx context.Context, msg *model.DispatchMessage, contact *model.Contact, result batch.TargetResult) {
	event := &model.DeliveryEvent{
		MessageID: msg.ID,
		ContactID: contact.ID,
		Type:      model.EventDelivered,
		Subtype:   model.SubtypeNone,
	}
	if !result.Delivered {
		event.Type = model.EventDeliveryFailedButRetry
		event.Subtype = model.SubtypeUnknownFailure
		event.Error = result.ErrorMessage
		if !result.Valid {
			event.Type = model.EventDeliveryFailed
			event.Subtype = model.SubtypeInvalidSubscription
		}
	}

	if err := s.eventRepo.Insert(ctx, event); err != nil {
		s.logger.Error(err, "failed to record legacy delivery event",
			"message_id", msg.ID.String(), "contact_id", contact.ID.String())
	}
	s.metrics.DeliveryOutcomes.WithLabelValues(string(event.Type), string(event.Subtype)).Inc()

	if !result.Valid {
		deactivated, err := s.contactRepo.Deactivate(ctx, contact.ID)
		if err != nil {
			s.logger.Error(err, "failed to deactivate contact with dead token",
				"contact_id", contact.ID.String(), "message_id", msg.ID.String())
			return
		}
		if deactivated {
			s.metrics.ContactDeactivations.Inc()
		}
	}
}
