package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gridward/internal/administrator"
	"gridward/internal/dataapi"
	"gridward/internal/dataneeds"
	"gridward/internal/outbound"
	"gridward/internal/permission/eventsourcing"
	"gridward/internal/permission/extensions"
	"gridward/internal/permission/handler"
	"gridward/internal/permission/service"
	"gridward/internal/permission/store"
	"gridward/internal/platform/config"
	"gridward/internal/platform/httpserver"
	"gridward/internal/platform/logger"
	"gridward/internal/platform/metrics"
	"gridward/internal/platform/postgres"
	platformredis "gridward/internal/platform/redis"
	"gridward/internal/platform/token"
	"gridward/pkg/domain"
)

// main wires the dependency graph and owns the process lifecycle. Business
// logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	m := metrics.New()

	// Storage: Postgres when configured, in-memory otherwise.
	var (
		repo     store.Repository
		eventLog eventsourcing.EventLog
	)
	if cfg.PostgresURL != "" {
		pool, err := postgres.New(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, store.Schema); err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, eventsourcing.EventLogSchema); err != nil {
			return err
		}
		repo = store.NewPostgresStore(pool)
		eventLog = eventsourcing.NewPostgresEventLog(pool)
	} else {
		log.Warn("POSTGRES_URL not set, using in-memory storage")
		repo = store.NewInMemoryStore()
		eventLog = eventsourcing.NewInMemoryEventLog()
	}

	// Outbound sinks.
	var sinks []outbound.Sink
	redisClient, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		sinks = append(sinks, outbound.NewRedisSink(redisClient.Client, "permission-status"))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := outbound.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	// Data need catalog.
	needs, err := dataneeds.LoadCatalog(cfg.DataNeedsPath)
	if err != nil {
		return err
	}

	// Event bus: extension set is fixed at construction; the transmission
	// extension is late-bound because it needs the service built below.
	transmission := extensions.NewTransmissionExtension(log)
	bus := eventsourcing.NewBus(log,
		extensions.NewSavingExtension(repo),
		extensions.NewMessagingExtension(log, sinks...),
		extensions.NewConsentDocumentExtension(extensions.NewInMemoryDocumentStore()),
		transmission,
	)
	outbox := eventsourcing.NewOutbox(eventLog, repo, bus, log).WithObserver(m)

	adminClient := administrator.NewHTTPClient(cfg.AdministratorURL)
	dataClient := dataapi.NewHTTPClient(cfg.DataAPIURL)

	var emitter service.DataEmitter = discardEmitter{log}
	if redisClient != nil {
		emitter = outbound.NewRedisReadingsEmitter(redisClient.Client, "consumption-readings", log)
	}

	permissions := service.New(repo, outbox, needs, adminClient, log)
	transmission.Bind(permissions)
	fulfillment := service.NewFulfillment(outbox, log)
	retry := service.NewRetry(repo, outbox, log)
	timeout := service.NewTimeout(repo, outbox, log, cfg.TimeoutMaxAge)
	revocation := service.NewRevocation(repo, outbox, log)
	retransmission := service.NewRetransmission(repo, needs, dataClient, emitter, log)
	polling := service.NewPolling(repo, outbox, needs, dataClient, emitter, fulfillment, log)

	// Deliver anything committed but unpublished before the last shutdown.
	if err := outbox.Replay(ctx); err != nil {
		return err
	}

	h := handler.New(permissions, retransmission, revocation, m, token.NewService(cfg.JWTSigningKey, "gridward"), log)
	srv := httpserver.New(cfg.HTTPAddr, h.Router())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		retry.Run(ctx, cfg.RetryInterval)
		return nil
	})
	group.Go(func() error {
		timeout.Run(ctx, cfg.TimeoutInterval)
		return nil
	})
	group.Go(func() error {
		polling.Run(ctx, cfg.PollingInterval)
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		retransmission.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

// discardEmitter stands in when no Redis stream is configured.
type discardEmitter struct {
	log *slog.Logger
}

func (e discardEmitter) EmitReadings(ctx context.Context, permissionID domain.PermissionID, series dataapi.Series) error {
	e.log.InfoContext(ctx, "discarding readings batch, no outbound stream configured",
		"permission_id", permissionID,
		"readings", len(series.Readings),
	)
	return nil
}
