package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/telhawk-systems/signalhawk/common/config"
	"github.com/telhawk-systems/signalhawk/common/database"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
	"github.com/telhawk-systems/signalhawk/dispatch"
	"github.com/telhawk-systems/signalhawk/ingest/internal/index"
	"github.com/telhawk-systems/signalhawk/ingest/internal/service"
	"github.com/telhawk-systems/signalhawk/ingest/internal/store"

	natsclient "github.com/telhawk-systems/signalhawk/common/messaging/nats"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"), logging.Team(cfg.Team))
	logging.SetDefault(logger)

	slog.Info("Starting Ingest service",
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("topic_prefix", cfg.Pipeline.TopicPrefix),
		slog.String("opensearch_url", cfg.OpenSearch.URL),
		slog.String("store_table", cfg.Store.Table),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Store.Migrate {
		slog.Info("Running database migrations")
		version, err := store.Migrate(cfg.Store.Postgres.ConnString())
		if err != nil {
			slog.Error("Failed to run migrations", logging.Error(err))
			os.Exit(1)
		}
		slog.Info("Database migration complete", slog.Uint64("version", uint64(version)))
	}

	pgStore, err := store.NewPostgresStore(ctx, cfg.Store, cfg.Team)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", logging.Error(err))
		os.Exit(1)
	}
	defer pgStore.Close()
	slog.Info("Connected to PostgreSQL")

	alertIndex, err := index.NewClient(cfg.OpenSearch, cfg.Team)
	if err != nil {
		slog.Error("Failed to create OpenSearch client", logging.Error(err))
		os.Exit(1)
	}
	if err := alertIndex.Health(ctx); err != nil {
		slog.Warn("OpenSearch not reachable yet, alerts will be retried", logging.Error(err))
	}

	js, err := natsclient.NewJetStreamClient(natsclient.ConfigFrom(cfg.NATS, "ingest"), logger)
	if err != nil {
		slog.Error("Failed to connect to NATS", logging.Error(err))
		os.Exit(1)
	}
	defer func() { _ = js.Drain() }()

	classified := natsclient.ClassifiedSignalsStream(cfg.Pipeline.TopicPrefix)
	if err := js.EnsureStream(ctx, classified); err != nil {
		slog.Error("Failed to ensure stream", slog.String("stream", classified.Name), logging.Error(err))
		os.Exit(1)
	}

	router := dispatch.NewRouter(cfg.Pipeline.TopicPrefix, logger)
	service.NewIngestService(pgStore, alertIndex, logger).Register(router)

	if cfg.Pipeline.DeadLetterSubject != "" {
		if _, err := js.EnableDeadLetters(ctx, cfg.Pipeline.DeadLetterSubject); err != nil {
			slog.Error("Failed to enable dead letters", logging.Error(err))
			os.Exit(1)
		}
	}

	consumerCfg := natsclient.IngestConsumerConfig(cfg.Pipeline)
	stopConsumer, err := js.Consume(ctx, consumerCfg, router.Handle)
	if err != nil {
		slog.Error("Failed to start consumer", logging.Error(err))
		os.Exit(1)
	}
	defer stopConsumer()

	if cfg.Metrics.Enabled {
		health := func(ctx context.Context) error {
			ctx, cancel := database.PingContext(ctx)
			defer cancel()
			return errors.Join(js.Health(ctx), pgStore.Health(ctx), alertIndex.Health(ctx))
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port, health, logger); err != nil {
				slog.Error("Metrics listener failed", logging.Error(err))
			}
		}()
	}

	<-ctx.Done()
	slog.Info("Shutting down ingest")
}
