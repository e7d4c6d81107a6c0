package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"example.com/fitsync/internal/api"
	"example.com/fitsync/internal/app"
	"example.com/fitsync/internal/auth"
	"example.com/fitsync/internal/changefeed"
	"example.com/fitsync/internal/config"
	"example.com/fitsync/internal/observability"
	"example.com/fitsync/internal/outbox"
	"example.com/fitsync/internal/platform/logger"
	httptransport "example.com/fitsync/internal/transport/http"
)

const defaultDLQBatchSize = 50

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing := observability.InitTracing(ctx, log, observability.TracingConfig{
		Enabled:     cfg.OTelEnabled,
		ServiceName: "fitsync-api",
		Version:     cfg.MigrationVersion,
	})

	a, err := app.Open(ctx, cfg, auth.OwnerFromContext, log)
	if err != nil {
		log.Fatal("failed to open stores", "error", err)
	}
	defer a.Close()

	var wg sync.WaitGroup
	if a.Pool != nil && len(cfg.KafkaBrokers) > 0 {
		producer := outbox.NewKafkaProducer(outbox.ProducerConfig{Brokers: cfg.KafkaBrokers})
		defer producer.Close()

		var registry schemaRegistrar = outbox.StaticRegistry{ID: 1}
		if cfg.SchemaRegistryURL != "" {
			registry = outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		}
		dispatcher := outbox.NewDispatcher(a.Pool, producer, registry, outbox.DispatcherConfig{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			Logger:       log,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			dispatcher.Run(ctx)
		}()

		replayer := outbox.NewReplayer(a.Pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runReplayer(ctx, replayer, cfg.DLQPollInterval, log)
		}()
	}

	if len(cfg.KafkaBrokers) > 0 {
		// Every instance needs every change event, so each one joins its own group.
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ChangefeedGroup + "-" + uuid.NewString(),
			Topic:           cfg.ChangefeedTopic,
			StartOffset:     kafka.LastOffset,
			MinBytes:        1,
			MaxBytes:        10e6,
			MaxWait:         500 * time.Millisecond,
			CommitInterval:  time.Second,
			ReadLagInterval: -1,
		})
		proc := changefeed.NewProcessor(reader, changefeed.NewNotifyHandler(a.Hub), changefeed.WithLogger(log))
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()
			log.Info("changefeed consumer started", "topic", cfg.ChangefeedTopic)
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("changefeed consumer stopped", "error", err)
			}
		}()
	}

	handler := api.NewHandler(a.Repos, a.Migrator, a.Executor, log)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", observability.MetricsHandler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.RequestLogger(log, authMiddleware.Wrap(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("fitsync api listening", "address", cfg.HTTPAddress, "remote_store", cfg.RemoteStore)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", "error", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
	}
	wg.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", "error", err)
	}
}

func runReplayer(ctx context.Context, replayer *outbox.Replayer, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Info("dlq replayer started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, err := replayer.RunOnce(ctx, defaultDLQBatchSize)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("dlq replayer error", "error", err)
			} else if processed > 0 {
				log.Info("dlq replayer processed entries", "count", processed)
			}
		}
	}
}
