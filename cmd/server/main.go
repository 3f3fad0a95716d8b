// Command server runs the permission broker: the HTTP front door, the
// outbox relay, the lifecycle reactors and the Kafka egress connector.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gridgrant/internal/connector"
	"gridgrant/internal/document"
	"gridgrant/internal/events"
	"gridgrant/internal/outbound/kafka"
	"gridgrant/internal/outbox"
	"gridgrant/internal/permission"
	"gridgrant/internal/platform/config"
	"gridgrant/internal/platform/httpserver"
	"gridgrant/internal/platform/logger"
	"gridgrant/internal/platform/metrics"
	"gridgrant/internal/platform/middleware"
	"gridgrant/internal/platform/postgres"
	redisplat "gridgrant/internal/platform/redis"
	"gridgrant/internal/reactors"
	"gridgrant/internal/service"
	"gridgrant/internal/stream"
	httptransport "gridgrant/internal/transport/http"
	"gridgrant/pkg/platform/tx"
	"gridgrant/pkg/secrets"
)

func main() {
	generateAdminKey := flag.Bool("generate-admin-key", false,
		"print a fresh administrator callback key and its hash, then exit")
	flag.Parse()

	if *generateAdminKey {
		if err := printAdminKey(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(context.Background(), cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// printAdminKey emits the key for the administrator's callback client and
// the hash that goes into GRIDGRANT_ADMIN_KEY_HASH. The key itself is
// never stored.
func printAdminKey() error {
	key, err := secrets.Generate()
	if err != nil {
		return err
	}
	hash, err := secrets.Hash(key)
	if err != nil {
		return err
	}
	fmt.Printf("admin key:  %s\nkey hash:   %s\n", key, hash)
	return nil
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	pool, err := postgres.OpenPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	permStore := permission.NewPostgresStore(db)
	outboxStore := outbox.NewPostgresStore(db, pool)
	projection := reactors.NewPostgresProjection(db)
	for _, ensure := range []func(context.Context) error{
		permStore.EnsureSchema, outboxStore.EnsureSchema, projection.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			return err
		}
	}

	redisClient, err := redisplat.New(cfg.Redis)
	if err != nil {
		return err
	}
	var dedup reactors.Deduper
	if redisClient != nil {
		defer redisClient.Close()
		dedup = reactors.NewRedisDeduper(redisClient, 24*time.Hour)
	} else {
		log.Warn("redis not configured, batch dedup is per-process only")
		dedup = reactors.NewMemoryDeduper()
	}

	registry, err := connector.NewRegistry(connector.NewSimulation())
	if err != nil {
		return err
	}

	m := metrics.New()
	runner := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return tx.Run(ctx, db, fn)
	}
	svc := service.New(permStore, outboxStore, registry, runner,
		service.WithLogger(log),
		service.WithMetrics(m),
	)

	bus := events.NewBus(events.WithLogger(log))
	statusStream := stream.New[reactors.ConnectionStatus](64)
	documentStream := stream.New[reactors.DocumentResult](64)

	reactors.NewStatusReactor(statusStream, projection, log).Register(bus)

	assembler := document.NewAssembler(cfg.Document.SenderParty, cfg.Document.ReceiverParty,
		document.WithLogger(log))
	reactors.NewDocumentReactor(permStore, assembler, documentStream, dedup,
		reactors.WithDocumentLogger(log),
		reactors.WithDocumentMetrics(m),
	).Register(bus)

	fulfillment := reactors.NewFulfillmentReactor(permStore, registry, svc, log)
	fulfillment.Register(bus)

	timeouts := reactors.NewTimeoutReactor(cfg.AdministratorTimeout, svc, log)
	timeouts.Register(bus)
	if err := timeouts.Rearm(ctx, permStore); err != nil {
		return err
	}

	relay := outbox.NewRelay(outboxStore, bus,
		outbox.WithLogger(log),
		outbox.WithMetrics(outbox.NewRelayMetrics()),
		outbox.WithPollInterval(cfg.Outbox.PollInterval),
		outbox.WithBatchSize(cfg.Outbox.BatchSize),
		outbox.WithAlertThreshold(cfg.Outbox.AlertThreshold),
	)

	handler := httptransport.New(svc, statusStream, log, m,
		middleware.NewHMACValidator([]byte(cfg.JWTSigningKey)),
		httptransport.WithAdminKeyHash(cfg.AdminKeyHash),
	)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return relay.Run(ctx)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		egress, err := kafka.New(cfg.Kafka.Brokers, cfg.Kafka.DocumentTopic, cfg.Kafka.StatusTopic,
			kafka.WithLogger(log))
		if err != nil {
			return err
		}
		defer egress.Close()
		if err := egress.EnsureTopics(ctx); err != nil {
			return err
		}
		documents, statuses := documentStream.Subscribe(), statusStream.Subscribe()
		g.Go(func() error {
			return egress.Run(ctx, documents, statuses)
		})
	} else {
		log.Warn("kafka brokers not configured, egress connector disabled")
	}

	g.Go(func() error {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Drain in dependency order: no new timers, no in-flight fetches, then
	// close the streams so SSE clients and the egress connector see EOF.
	timeouts.Stop()
	fulfillment.Wait()
	statusStream.Close(nil)
	documentStream.Close(nil)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
