package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/tsaxking/uuid-microservice/internal/platform/config"
	"github.com/tsaxking/uuid-microservice/internal/platform/httpserver"
	"github.com/tsaxking/uuid-microservice/internal/platform/logger"
	"github.com/tsaxking/uuid-microservice/internal/platform/postgres"
	"github.com/tsaxking/uuid-microservice/internal/platform/pubsub"
	"github.com/tsaxking/uuid-microservice/internal/platform/redis"
	"github.com/tsaxking/uuid-microservice/internal/pool/handler"
	"github.com/tsaxking/uuid-microservice/internal/pool/metrics"
	"github.com/tsaxking/uuid-microservice/internal/pool/service"
	"github.com/tsaxking/uuid-microservice/internal/pool/store"
	"github.com/tsaxking/uuid-microservice/internal/provider/randomorg"
	httptransport "github.com/tsaxking/uuid-microservice/internal/transport/http"
	"github.com/tsaxking/uuid-microservice/pkg/platform/tx"
)

// main loads configuration, wires the pool service and runs it until SIGINT
// or SIGTERM. Any startup failure exits with status 1.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "json").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("uuid pool service stopped with error", "error", err)
		stop()
		os.Exit(1)
	}
	log.Info("uuid pool service stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open pool store: %w", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, log); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	poolMetrics := metrics.New(registry)

	poolStore := store.NewPostgres(db, store.WithMetrics(poolMetrics))

	provider, err := randomorg.New(cfg.Provider.APIKey,
		randomorg.WithEndpoint(cfg.Provider.URL),
		randomorg.WithTimeout(cfg.Provider.Timeout),
		randomorg.WithLogger(log),
		randomorg.WithQuotaRecorder(poolMetrics),
	)
	if err != nil {
		return err
	}

	replenisher, err := service.NewReplenisher(poolStore, provider, service.Policy{
		MaxStoredIDs:      cfg.Pool.MaxStoredIDs,
		DailyRequestLimit: cfg.Pool.DailyRequestLimit,
		FetchInterval:     cfg.Pool.FetchInterval(),
	},
		service.WithReplenisherLogger(log),
		service.WithReplenisherMetrics(poolMetrics),
	)
	if err != nil {
		return err
	}

	reservation, err := service.NewReservation(poolStore)
	if err != nil {
		return err
	}

	transport, err := pubsub.NewRedis(redisClient.Client, pubsub.WithLogger(log))
	if err != nil {
		return err
	}
	txRunner, err := tx.NewRunner(db, 0)
	if err != nil {
		return err
	}
	router, err := handler.NewRouter(cfg.Service.Name, reservation, transport,
		handler.WithLogger(log),
		handler.WithMetrics(poolMetrics),
		handler.WithTransactor(txRunner),
	)
	if err != nil {
		return err
	}
	subscription, err := router.Start(ctx, transport)
	if err != nil {
		return err
	}

	reporter := metrics.NewReporter(poolMetrics, cfg.Pool.MetricsInterval(),
		metrics.WithLogger(log),
		metrics.WithPoolSize(poolStore),
	)

	ops := httptransport.NewHandler(poolMetrics, poolStore,
		httptransport.WithLogger(log),
		httptransport.WithReadinessCheck("postgres", poolStore.Ping),
		httptransport.WithReadinessCheck("redis", redisClient.Health),
	)
	srv := httpserver.New(cfg.Ops.Addr, httptransport.NewRouter(ops, registry))

	log.InfoContext(ctx, "uuid pool service started",
		"service", cfg.Service.Name,
		"reserve_topic", router.Topic(),
		"ops_addr", cfg.Ops.Addr,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return replenisher.Run(gctx) })
	g.Go(func() error { return reporter.Run(gctx) })
	g.Go(func() error { return httpserver.ListenAndServe(gctx, srv) })
	g.Go(func() error {
		<-gctx.Done()
		// Stop intake and let in-flight requests finish before connections close.
		if err := subscription.Close(); err != nil {
			log.Warn("closing reserve subscription", "error", err)
		}
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
