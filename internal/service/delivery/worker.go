package delivery

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/push/webpush"
	"github.com/jwalitptl/push-api/internal/repository"
	"github.com/jwalitptl/push-api/pkg/logger"
	"github.com/jwalitptl/push-api/pkg/messaging"
	"github.com/jwalitptl/push-api/pkg/metrics"
)

// Worker consumes one provider queue from the durable broker, attempts
// each delivery, and persists the classified outcome. The broker is
// at-least-once: a redelivered QueuedPush produces a duplicate event,
// which the reduction-based aggregator tolerates, and deactivation is
// idempotent so replays cause no further harm.
type Worker struct {
	queue       string
	broker      messaging.Broker
	sender      webpush.Sender
	eventRepo   repository.EventRepository
	contactRepo repository.ContactRepository
	logger      *logger.Logger
	metrics     *metrics.Metrics

	wg sync.WaitGroup
}

func NewWorker(
	queue string,
	broker messaging.Broker,
	sender webpush.Sender,
	eventRepo repository.EventRepository,
	contactRepo repository.ContactRepository,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Worker {
	return &Worker{
		queue:       queue,
		broker:      broker,
		sender:      sender,
		eventRepo:   eventRepo,
		contactRepo: contactRepo,
		logger:      logger.WithFields(map[string]interface{}{"queue": queue}),
		metrics:     metrics,
	}
}

// Start subscribes to the worker's queue and consumes until ctx is
// cancelled. Messages are handled one at a time per subscription.
func (w *Worker) Start(ctx context.Context) error {
	stream, err := w.broker.Subscribe(ctx, w.queue)
	if err != nil {
		return err
	}

	w.logger.Info("worker listening")
	w.wg.Add(1)
	go w.consume(ctx, stream)
	return nil
}

// Wait blocks until the consume loop has drained after cancellation.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) consume(ctx context.Context, stream <-chan []byte) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return
		case payload, ok := <-stream:
			if !ok {
				w.logger.Info("subscription stream closed")
				return
			}
			w.process(ctx, payload)
		}
	}
}

// process handles one queued push end to end. Nothing in here re-throws
// into the consume loop: a failed provider attempt becomes a
// ProcessingFailed event, and event-store or deactivation failures are
// logged and dropped so the broker does not redeliver over a logging
// hiccup.
func (w *Worker) process(ctx context.Context, payload []byte) {
	var push model.QueuedPush
	if err := json.Unmarshal(payload, &push); err != nil {
		w.logger.Error(err, "failed to decode queued push, discarding")
		return
	}

	resp, err := w.sender.Send(ctx, &push)
	result := Classify(resp, err)
	eventType, subtype := result.Outcome()

	w.metrics.DeliveryOutcomes.WithLabelValues(string(eventType), string(subtype)).Inc()

	event := &model.DeliveryEvent{
		MessageID: push.MessageID,
		ContactID: push.ContactID,
		Type:      eventType,
		Subtype:   subtype,
	}
	if err != nil {
		event.Error = err.Error()
	}

	if insertErr := w.eventRepo.Insert(ctx, event); insertErr != nil {
		w.logger.Error(insertErr, "failed to record delivery event",
			"message_id", push.MessageID.String(),
			"contact_id", push.ContactID.String(),
			"result", result.String())
	}

	if result == InvalidSubscription {
		w.deactivate(ctx, &push)
	}
}

func (w *Worker) deactivate(ctx context.Context, push *model.QueuedPush) {
	deactivated, err := w.contactRepo.Deactivate(ctx, push.ContactID)
	if err != nil {
		w.logger.Error(err, "failed to deactivate contact",
			"contact_id", push.ContactID.String(),
			"message_id", push.MessageID.String())
		return
	}
	if deactivated {
		w.metrics.ContactDeactivations.Inc()
		w.logger.Info("contact deactivated after invalid subscription",
			"contact_id", push.ContactID.String(),
			"message_id", push.MessageID.String())
	}
}
