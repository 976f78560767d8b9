package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/push-api/internal/config"
	"github.com/jwalitptl/push-api/internal/push/webpush"
	"github.com/jwalitptl/push-api/internal/repository/postgres"
	"github.com/jwalitptl/push-api/internal/service/delivery"
	"github.com/jwalitptl/push-api/internal/service/dispatch"
	"github.com/jwalitptl/push-api/pkg/logger"
	redisbroker "github.com/jwalitptl/push-api/pkg/messaging/redis"
	"github.com/jwalitptl/push-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	appMetrics := metrics.NewMetrics("push_api", "worker")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	contactRepo := postgres.NewContactRepository(base)
	eventRepo := postgres.NewEventRepository(base)

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

	sender := webpush.NewSender(webpush.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		VAPIDSubject:    cfg.Push.VAPIDSubject,
	})

	// Default to the full routing table when no explicit queue list is
	// configured: one subscription per provider queue.
	queues := cfg.Worker.Queues
	if len(queues) == 0 {
		queues = dispatch.NewRouter(cfg.Push.Providers, cfg.Push.DefaultQueue).Queues()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workers := make([]*delivery.Worker, 0, len(queues))
	for _, queueName := range queues {
		w := delivery.NewWorker(queueName, broker, sender, eventRepo, contactRepo, appLogger, appMetrics)
		if err := w.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("queue", queueName).Msg("failed to start worker")
		}
		workers = append(workers, w)
	}

	setupHealthCheck(appLogger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down workers...")

	cancel()
	for _, w := range workers {
		w.Wait()
	}

	log.Info().Msg("workers exited properly")
}

func setupHealthCheck(logger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(":8081", mux); err != nil {
			logger.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}
