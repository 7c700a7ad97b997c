package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/spf13/pflag"

	"github.com/fraser-isbester/kingfisher/internal/config"
	"github.com/fraser-isbester/kingfisher/internal/ingest"
	"github.com/fraser-isbester/kingfisher/internal/processor"
	"github.com/fraser-isbester/kingfisher/internal/receiver"
	"github.com/fraser-isbester/kingfisher/internal/source"
	"github.com/fraser-isbester/kingfisher/internal/store"
)

const (
	modeEvaluator = "evaluator"
	modeIngester  = "ingester"
)

func main() {
	configPath := pflag.String("config", "", "path to the YAML config file")
	mode := pflag.String("mode", modeEvaluator, "what to run: evaluator or ingester")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))

	if err := run(cfg, *mode); err != nil {
		slog.Error("kingfisher exited", "mode", *mode, "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, mode string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = pubsub.DetectProjectID
	}
	pub, err := processor.NewPubSubPublisher(ctx, processor.PubSubConfig{
		ProjectID:    projectID,
		BatchSize:    cfg.Publish.BatchSize,
		BatchBytes:   cfg.Publish.BatchBytes,
		BatchTimeout: cfg.Publish.BatchTimeout,
		CreateTopics: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Stop(); err != nil {
			slog.Error("error stopping publisher", "err", err)
		}
	}()

	var pipeline *processor.Pipeline
	switch mode {
	case modeEvaluator:
		pipeline = evaluatorPipeline(cfg, pub)
	case modeIngester:
		if cfg.Receiver.Port == 0 {
			return fmt.Errorf("ingester needs receiver.port")
		}
		db, err := store.New(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		pipeline = ingesterPipeline(cfg, pub, db)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	if err := pipeline.Start(ctx); err != nil {
		_ = pipeline.Stop()
		return err
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down gracefully")
	return pipeline.Stop()
}

func evaluatorPipeline(cfg *config.Config, pub *processor.PubSubPublisher) *processor.Pipeline {
	ev := processor.NewEvaluator(pub, processor.Topics{
		Ready: cfg.Topics.Ready,
		NoGo:  cfg.Topics.NoGo,
	}, cfg.Publish.Timeout)

	p := processor.NewPipeline(modeEvaluator, ev, cfg.Workers)
	if cfg.Subscription != "" {
		p.RegisterSource(source.NewSubscription(pub.Client(), cfg.Subscription, cfg.Workers*4))
	}
	if cfg.Receiver.Port > 0 {
		rc := receiver.New(receiver.Config{Port: cfg.Receiver.Port})
		rc.RegisterHandler("pubsub", receiver.NewPushHandler())
		p.RegisterSource(rc)
	}
	return p
}

func ingesterPipeline(cfg *config.Config, pub *processor.PubSubPublisher, db *store.Store) *processor.Pipeline {
	in := ingest.New(store.NewQualifiers(db.Pool), pub, cfg.Topics.Evaluate, cfg.Publish.Timeout)

	p := processor.NewPipeline(modeIngester, in, cfg.Workers)
	rc := receiver.New(receiver.Config{Port: cfg.Receiver.Port})
	rc.RegisterHandler("ocm", receiver.NewOCMHandler())
	rc.RegisterHandler("pubsub", receiver.NewPushHandler())
	p.RegisterSource(rc)
	return p
}
