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
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
	"github.com/telhawk-systems/signalhawk/translate/internal/language"
	"github.com/telhawk-systems/signalhawk/translate/internal/ledger"
	"github.com/telhawk-systems/signalhawk/translate/internal/notify"
	"github.com/telhawk-systems/signalhawk/translate/internal/service"

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
	).With(logging.Service("translate"), logging.Team(cfg.Team))
	logging.SetDefault(logger)

	slog.Info("Starting Translate service",
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("queue_subject", cfg.Pipeline.QueueSubject),
		slog.String("region", cfg.Translate.Region),
		slog.Bool("webhook", cfg.Webhook.URL != ""),
		slog.Bool("ledger", cfg.Redis.Enabled),
	)
	if cfg.Webhook.URL == "" {
		slog.Warn("No webhook URL configured, notifications will only be logged")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detectClient, translateClient, err := language.NewClients(ctx, cfg.Translate)
	if err != nil {
		slog.Error("Failed to create AWS clients", logging.Error(err))
		os.Exit(1)
	}

	notified, err := ledger.New(ctx, cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to notification ledger", logging.Error(err))
		os.Exit(1)
	}
	defer notified.Close()

	js, err := natsclient.NewJetStreamClient(natsclient.ConfigFrom(cfg.NATS, "translate"), logger)
	if err != nil {
		slog.Error("Failed to connect to NATS", logging.Error(err))
		os.Exit(1)
	}
	defer func() { _ = js.Drain() }()

	queue := natsclient.DecipheredStream(cfg.Pipeline.QueueSubject)
	if err := js.EnsureStream(ctx, queue); err != nil {
		slog.Error("Failed to ensure stream", slog.String("stream", queue.Name), logging.Error(err))
		os.Exit(1)
	}

	svc := service.NewTranslateService(
		language.NewDetector(detectClient),
		language.NewTranslator(translateClient, cfg.Translate.TargetLanguage),
		notify.New(cfg.Webhook.URL, cfg.Webhook.Timeout, logger),
		notified,
		cfg.Team,
		logger,
	)

	if cfg.Pipeline.DeadLetterSubject != "" {
		if _, err := js.EnableDeadLetters(ctx, cfg.Pipeline.DeadLetterSubject); err != nil {
			slog.Error("Failed to enable dead letters", logging.Error(err))
			os.Exit(1)
		}
	}

	consumerCfg := natsclient.ConsumerConfigFrom(cfg.Pipeline, queue.Name, messaging.DurableTranslator, cfg.Pipeline.QueueSubject)
	stopConsumer, err := js.Consume(ctx, consumerCfg, svc.Handle)
	if err != nil {
		slog.Error("Failed to start consumer", logging.Error(err))
		os.Exit(1)
	}
	defer stopConsumer()

	if cfg.Metrics.Enabled {
		go func() {
			health := func(ctx context.Context) error {
				return errors.Join(js.Health(ctx), notified.Health(ctx))
			}
			if err := metrics.Serve(ctx, cfg.Metrics.Port, health, logger); err != nil {
				slog.Error("Metrics listener failed", logging.Error(err))
			}
		}()
	}

	<-ctx.Done()
	slog.Info("Shutting down translate")
}
