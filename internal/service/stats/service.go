package stats

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/push-api/internal/model"
	"github.com/jwalitptl/push-api/internal/repository"
	"github.com/jwalitptl/push-api/pkg/logger"
)

const (
	summaryCacheTTL     = 15 * time.Second
	summaryCacheCleanup = 5 * time.Minute
)

// Service is the delivery-event aggregator. Record appends raw events;
// Summarize reduces them into per-message counts. Summaries never fail
// the caller: a store hiccup degrades to all-zero, and the degraded
// result is never cached or written back as if it were real.
type Service interface {
	Record(ctx context.Context, event *model.DeliveryEvent) error
	Summarize(ctx context.Context, messageID uuid.UUID) *model.DeliverySummary
}

type service struct {
	eventRepo repository.EventRepository
	cache     *cache.Cache
	logger    *logger.Logger
}

func NewService(eventRepo repository.EventRepository, logger *logger.Logger) Service {
	return &service{
		eventRepo: eventRepo,
		cache:     cache.New(summaryCacheTTL, summaryCacheCleanup),
		logger:    logger,
	}
}

// Record appends one event. Duplicates are accepted by design: the
// broker redelivers at-least-once and the reduction counts what it sees.
func (s *service) Record(ctx context.Context, event *model.DeliveryEvent) error {
	return s.eventRepo.Insert(ctx, event)
}

func (s *service) Summarize(ctx context.Context, messageID uuid.UUID) *model.DeliverySummary {
	key := messageID.String()
	if cached, found := s.cache.Get(key); found {
		return cached.(*model.DeliverySummary)
	}

	summary, err := s.eventRepo.Aggregate(ctx, messageID)
	if err != nil {
		s.logger.Error(err, "failed to aggregate delivery events, degrading to zero summary",
			"message_id", key)
		return &model.DeliverySummary{}
	}

	s.cache.Set(key, summary, cache.DefaultExpiration)
	return summary
}
