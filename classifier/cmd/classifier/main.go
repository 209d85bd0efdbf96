package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/telhawk-systems/signalhawk/classifier/internal/service"
	"github.com/telhawk-systems/signalhawk/common/config"
	"github.com/telhawk-systems/signalhawk/common/logging"
	"github.com/telhawk-systems/signalhawk/common/messaging"
	"github.com/telhawk-systems/signalhawk/common/metrics"
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

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("classifier"))
	logging.SetDefault(logger)

	slog.Info("Starting Classifier service",
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("raw_subject", cfg.Pipeline.RawSubject),
		slog.String("topic_prefix", cfg.Pipeline.TopicPrefix),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	js, err := natsclient.NewJetStreamClient(natsclient.ConfigFrom(cfg.NATS, "classifier"), logger)
	if err != nil {
		slog.Error("Failed to connect to NATS", logging.Error(err))
		os.Exit(1)
	}
	defer func() { _ = js.Drain() }()

	rawStream := natsclient.RawSignalsStream(cfg.Pipeline.RawSubject)
	for _, sc := range []natsclient.StreamConfig{rawStream, natsclient.ClassifiedSignalsStream(cfg.Pipeline.TopicPrefix)} {
		if err := js.EnsureStream(ctx, sc); err != nil {
			slog.Error("Failed to ensure stream", slog.String("stream", sc.Name), logging.Error(err))
			os.Exit(1)
		}
	}

	for _, cc := range natsclient.ClassifiedConsumers(cfg.Pipeline) {
		if err := js.EnsureConsumer(ctx, cc); err != nil {
			slog.Error("Failed to ensure downstream consumer", slog.String("durable", cc.Durable), logging.Error(err))
			os.Exit(1)
		}
	}

	dispatcher := dispatch.NewDispatcher(js, cfg.Pipeline.TopicPrefix)
	svc := service.NewClassifierService(dispatcher, logger)

	if cfg.Pipeline.DeadLetterSubject != "" {
		if _, err := js.EnableDeadLetters(ctx, cfg.Pipeline.DeadLetterSubject); err != nil {
			slog.Error("Failed to enable dead letters", logging.Error(err))
			os.Exit(1)
		}
	}

	consumerCfg := natsclient.ConsumerConfigFrom(cfg.Pipeline, rawStream.Name, messaging.DurableClassifier, cfg.Pipeline.RawSubject)
	stopConsumer, err := js.Consume(ctx, consumerCfg, svc.Handle)
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
	slog.Info("Shutting down classifier")
}

