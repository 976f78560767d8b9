package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/push-api/internal/callback"
	"github.com/jwalitptl/push-api/internal/config"
	contactHandler "github.com/jwalitptl/push-api/internal/handler/contact"
	"github.com/jwalitptl/push-api/internal/handler/health"
	messageHandler "github.com/jwalitptl/push-api/internal/handler/message"
	"github.com/jwalitptl/push-api/internal/handler/track"
	"github.com/jwalitptl/push-api/internal/push/batch"
	"github.com/jwalitptl/push-api/internal/repository/postgres"
	"github.com/jwalitptl/push-api/internal/router"
	contactService "github.com/jwalitptl/push-api/internal/service/contact"
	"github.com/jwalitptl/push-api/internal/service/dispatch"
	"github.com/jwalitptl/push-api/internal/service/stats"
	"github.com/jwalitptl/push-api/pkg/logger"
	redisbroker "github.com/jwalitptl/push-api/pkg/messaging/redis"
	"github.com/jwalitptl/push-api/pkg/metrics"
	"github.com/jwalitptl/push-api/pkg/queue"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("push_api", "publisher")

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Initialize repositories
	base := postgres.NewBaseRepository(db)
	contactRepo := postgres.NewContactRepository(base)
	messageRepo := postgres.NewMessageRepository(base)
	eventRepo := postgres.NewEventRepository(base)

	// Initialize Redis message broker
	zl := log.Logger
	broker, err := redisbroker.NewRedisBroker(redisbroker.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &zl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	// In-process dispatch queue, owned here and stopped on shutdown
	taskQueue := queue.NewTaskQueue(appLogger)
	queueCtx, queueCancel := context.WithCancel(context.Background())
	taskQueue.Start(queueCtx)

	// Initialize services
	batchClient := batch.NewClient(batch.Config{
		Endpoint:        cfg.Push.DeliveryEndpoint,
		BatchSize:       cfg.Push.BatchSize,
		FatalErrorCodes: cfg.Push.FatalErrorCodes,
		RequestTimeout:  cfg.Push.RequestTimeout,
		RatePerSecond:   cfg.Push.RatePerSecond,
		RateBurst:       cfg.Push.RateBurst,
	}, appLogger, appMetrics)

	pushRouter := dispatch.NewRouter(cfg.Push.Providers, cfg.Push.DefaultQueue)
	callbacks := callback.NewURLBuilder(cfg.Push.Callback, appLogger)

	dispatchSvc := dispatch.NewService(
		taskQueue, contactRepo, messageRepo, eventRepo,
		broker, batchClient, pushRouter, callbacks,
		appLogger, appMetrics,
	)
	statsSvc := stats.NewService(eventRepo, appLogger)
	contactSvc := contactService.NewService(contactRepo)

	// Initialize handlers
	messageH := messageHandler.NewHandler(dispatchSvc, statsSvc, messageRepo)
	contactH := contactHandler.NewHandler(contactSvc)
	trackH := track.NewHandler(callbacks, statsSvc, messageRepo, appLogger)
	healthH := health.NewHandler(db)

	r := router.NewRouter(nil, messageH, contactH, trackH, healthH)

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Setup(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// Start server
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Server.Port).Msg("publisher listening")

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Stop dequeuing and cancel the in-flight dispatch task
	queueCancel()
	taskQueue.Stop()

	log.Info().Msg("server exited properly")
}
