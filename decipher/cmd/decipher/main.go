package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/telhawk-systems/signalhawk/common/config"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
	"github.com/telhawk-systems/signalhawk/decipher/pkg/keys"
	"github.com/telhawk-systems/signalhawk/decipher/internal/service"
	"github.com/telhawk-systems/signalhawk/dispatch"

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
	).With(logging.Service("decipher"), logging.Team(cfg.Team))
	logging.SetDefault(logger)

	slog.Info("Starting Decipher service",
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("keys_url", cfg.Keys.URL),
		slog.String("queue_subject", cfg.Pipeline.QueueSubject),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	js, err := natsclient.NewJetStreamClient(natsclient.ConfigFrom(cfg.NATS, "decipher"), logger)
	if err != nil {
		slog.Error("Failed to connect to NATS", logging.Error(err))
		os.Exit(1)
	}
	defer func() { _ = js.Drain() }()

	classified := natsclient.ClassifiedSignalsStream(cfg.Pipeline.TopicPrefix)
	for _, sc := range []natsclient.StreamConfig{classified, natsclient.DecipheredStream(cfg.Pipeline.QueueSubject)} {
		if err := js.EnsureStream(ctx, sc); err != nil {
			slog.Error("Failed to ensure stream", slog.String("stream", sc.Name), logging.Error(err))
			os.Exit(1)
		}
	}

	provider := keys.NewProvider(cfg.Keys.URL, cfg.Keys.Timeout, logger)
	router := dispatch.NewRouter(cfg.Pipeline.TopicPrefix, logger)
	service.NewDecipherService(provider, js, cfg.Pipeline.QueueSubject, cfg.Team, logger).Register(router)

	if cfg.Pipeline.DeadLetterSubject != "" {
		if _, err := js.EnableDeadLetters(ctx, cfg.Pipeline.DeadLetterSubject); err != nil {
			slog.Error("Failed to enable dead letters", logging.Error(err))
			os.Exit(1)
		}
	}

	consumerCfg := natsclient.DecipherConsumerConfig(cfg.Pipeline)
	stopConsumer, err := js.Consume(ctx, consumerCfg, router.Handle)
	if err != nil {
		slog.Error("Failed to start consumer", logging.Error(err))
		os.Exit(1)
	}
	defer stopConsumer()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Port, js.Health, logger); err != nil {
				slog.Error("Metrics listener failed", logging.Error(err))
			}
		}()
	}

	<-ctx.Done()
	slog.Info("Shutting down decipher")
}
