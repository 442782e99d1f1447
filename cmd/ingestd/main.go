package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"finpulse/api"
	"finpulse/collectors"
	"finpulse/config"
	"finpulse/deduplication"
	"finpulse/enrichment"
	"finpulse/events"
	"finpulse/fingerprint"
	"finpulse/logging"
	"finpulse/messaging"
	"finpulse/orchestrator"
	"finpulse/storage"
)

const (
	sinkTimeout     = 10 * time.Second
	shutdownTimeout = 15 * time.Second
)

type flags struct {
	once   bool
	source string
	addr   string
}

func main() {
	var f flags
	flag.BoolVar(&f.once, "once", false, "run one collection cycle, print the report as JSON and exit")
	flag.StringVar(&f.source, "source", "", "limit -once to a single source id")
	flag.StringVar(&f.addr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if f.addr != "" {
		cfg.HTTPAddr = f.addr
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, f, logger)
	stop()
	if err != nil {
		logger.Error("ingestd exited with error", zap.Error(err))
		logging.Sync(logger)
		os.Exit(1)
	}
	logging.Sync(logger)
}

func run(ctx context.Context, cfg config.Config, f flags, logger *zap.Logger) error {
	caps := cfg.Capabilities()
	logger.Info("capabilities resolved", zap.Any("capabilities", caps))

	store, err := openStore(ctx, cfg, caps, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	adapters := buildAdapters(cfg, logger)
	if len(adapters) == 0 {
		return errors.New("no sources enabled")
	}

	provider := fingerprint.NewEmbeddingsProvider(cfg.Embeddings)
	if provider == nil {
		logger.Warn("no embedding provider configured, semantic dedup disabled")
	}
	fp := fingerprint.NewEngine(fingerprint.EngineConfig{
		Provider:     provider,
		EmbedTimeout: cfg.Embeddings.Timeout,
		Logger:       logger.Named("fingerprint"),
	})

	dedup, err := deduplication.NewEngine(store, deduplication.Config{
		SimilarityThreshold: cfg.SimilarityThreshold,
		Window:              cfg.DedupWindow,
		Buckets:             cfg.DedupBuckets,
		Priorities:          collectors.Priorities(cfg.Sources),
		Logger:              logger.Named("dedup"),
	})
	if err != nil {
		return fmt.Errorf("failed to create dedup engine: %w", err)
	}

	var pool *enrichment.Pool
	if caps.AIScoring {
		enricher := enrichment.NewEnricher(enrichment.NewChatScorer(cfg.AI), enrichment.Config{
			QualityThreshold: cfg.AIQualityThreshold,
			Timeout:          cfg.AI.Timeout,
			RetryBackoff:     time.Second,
			Logger:           logger.Named("enrichment"),
		})
		pool = enrichment.NewPool(enricher, cfg.AIMaxConcurrency)
	} else {
		logger.Warn("AI scoring not configured, articles are stored unscored")
	}

	pub := events.NewPublisher(cfg.SubscriberBuffer, logger.Named("events"))
	defer pub.Close()

	stopSinks, err := attachSinks(ctx, cfg, caps, pub, logger)
	if err != nil {
		return err
	}
	defer stopSinks()

	coord, err := orchestrator.New(orchestrator.Deps{
		Adapters:    adapters,
		Fingerprint: fp,
		Dedup:       dedup,
		Store:       store,
		Pool:        pool,
		Publisher:   pub,
	}, orchestrator.Config{
		Interval:         cfg.CollectionInterval,
		CollectorTimeout: cfg.CollectorTimeout,
		RetentionDays:    cfg.RetentionDays,
		RunOnStart:       cfg.RunOnStart,
		Logger:           logger.Named("orchestrator"),
	})
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	if f.once {
		report := coord.RunCollection(ctx, f.source)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	if caps.Kafka {
		consumer, err := messaging.NewConsumer(messaging.ConsumerConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTriggerTopic,
			GroupID: cfg.KafkaGroupID,
			Handler: messaging.NewTriggerHandler(func(ctx context.Context, sourceID string) {
				coord.RunCollection(ctx, sourceID)
			}, logger),
			Logger: logger.Named("kafka"),
		})
		if err != nil {
			logger.Error("failed to create trigger consumer, Kafka triggers disabled", zap.Error(err))
		} else {
			defer consumer.Close()
			go func() {
				if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("trigger consumer failed to start", zap.Error(err))
				}
			}()
		}
	}

	server := api.NewServer(coord, pub, store, api.Options{
		APIKey:       cfg.APISecretKey,
		Capabilities: caps,
		Logger:       logger.Named("api"),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server",
			zap.String("addr", cfg.HTTPAddr),
			zap.Strings("sources", coord.Sources()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// close streams first so SSE handlers return
	pub.Close()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	return nil
}

// openStore prefers MongoDB, then Redis, then memory.
func openStore(ctx context.Context, cfg config.Config, caps config.Capabilities, logger *zap.Logger) (storage.Store, error) {
	switch {
	case caps.Mongo:
		s, err := storage.NewMongoStore(ctx, cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("failed to open mongo store: %w", err)
		}
		logger.Info("using mongo store", zap.String("database", cfg.Mongo.Database))
		return s, nil
	case caps.Redis:
		s, err := storage.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		logger.Info("using redis store", zap.String("addr", cfg.Redis.Addr))
		return s, nil
	default:
		logger.Warn("no database configured, using in-memory store")
		return storage.NewMemoryStore(), nil
	}
}

func buildAdapters(cfg config.Config, logger *zap.Logger) []collectors.Adapter {
	env := collectors.Env{
		HTTPClient: collectors.NewHTTPClient(nil, cfg.FetchTimeout),
		Logger:     logger.Named("collectors"),
	}
	proxy, err := cfg.Proxy.Resolve()
	if err != nil {
		logger.Warn("ignoring proxy configuration", zap.Error(err))
	}
	if proxy != nil {
		env.ProxyClient = collectors.NewHTTPClient(proxy, cfg.FetchTimeout)
		logger.Info("proxy configured", zap.String("proxy", proxy.Redacted()))
	}
	adapters, _ := collectors.NewRegistry().Build(cfg.Sources, env)
	return adapters
}

// attachSinks subscribes the Kafka and S3 sinks that are configured and
// returns a func stopping them.
func attachSinks(ctx context.Context, cfg config.Config, caps config.Capabilities, pub *events.Publisher, logger *zap.Logger) (func(), error) {
	var stops []func()
	stopAll := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if caps.Kafka {
		producer, err := messaging.NewProducer(messaging.ProducerConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaArticleTopic})
		if err != nil {
			logger.Error("failed to create Kafka producer, article topic disabled", zap.Error(err))
		} else {
			runner := events.Attach(pub, events.NewKafkaSink(producer), sinkTimeout, logger.Named("sink"))
			stops = append(stops, func() { _ = producer.Close() }, runner.Stop)
		}
	}
	if caps.S3 {
		archive, err := storage.NewArchive(ctx, cfg.S3)
		if err != nil {
			stopAll()
			return nil, fmt.Errorf("failed to init S3 archive: %w", err)
		}
		runner := events.Attach(pub, events.NewArchiveSink(archive), sinkTimeout, logger.Named("sink"))
		stops = append(stops, runner.Stop)
	}
	return stopAll, nil
}
