package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/boosts"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/checkpoint"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/durable"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/segment"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/rtsearch/pkg/redis"
)

const (
	checkpointName    = "main"
	dumpNotifyTimeout = 5 * time.Second
)

func newServeCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search API, the ingest consumer and the dump loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/development.yaml", "path to config file")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting rtsearch",
		"port", cfg.Server.Port,
		"rti_size", cfg.Indexer.RTISize,
		"data_dir", cfg.Indexer.DataDir,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		shutdownMetrics, err := metrics.StartServer(fmt.Sprintf(":%d", cfg.Metrics.Port), reg)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownMetrics(sctx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	checker := health.NewChecker()
	analyzer := tokenizer.New(cfg.Indexer.KeywordFields...)

	store, closeStore, err := openBoosts(ctx, cfg, checker)
	if err != nil {
		return err
	}
	defer closeStore()

	checkpoints, closeCheckpoints, err := openCheckpoints(ctx, cfg, checker)
	if err != nil {
		return err
	}
	defer closeCheckpoints()

	compression, err := segment.ParseCompression(cfg.Indexer.Compression)
	if err != nil {
		return err
	}
	ix, err := durable.Open(durable.Options{
		DataDir:     cfg.Indexer.DataDir,
		Parser:      analyzer,
		Compression: compression,
		Facets:      store.Categories,
		Metrics:     m,
	})
	if err != nil {
		return fmt.Errorf("opening durable index: %w", err)
	}
	defer ix.Close()

	var listeners []durable.DumpListener
	var pub handler.EventPublisher
	kafkaEnabled := len(cfg.Kafka.Brokers) > 0
	if kafkaEnabled {
		notifyProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer notifyProducer.Close()
		listeners = append(listeners, consumer.DumpNotifier(notifyProducer, dumpNotifyTimeout))

		ingestProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
		defer ingestProducer.Close()
		pub = publisher.New(ingestProducer)
	} else {
		slog.Warn("kafka brokers not configured, asynchronous ingestion disabled")
	}

	dealer, err := indexer.NewDealer(ctx, indexer.Options{
		RTISize:          cfg.Indexer.RTISize,
		DumpPollInterval: cfg.Indexer.DumpPollInterval,
		DumpRetryDelay:   cfg.Indexer.DumpRetryDelay,
		Parser:           analyzer,
		Durable:          ix,
		Boosts:           store,
		Checkpoints:      checkpoints,
		Listeners:        listeners,
		Metrics:          m,
	})
	if err != nil {
		return fmt.Errorf("creating dealer: %w", err)
	}
	defer dealer.Close()

	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		stats := dealer.Stats()
		msg := fmt.Sprintf("%s live docs in memory, %s segments", stats["rti.current.docs"], stats["durable.segments"])
		if dealer.Dumping() {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "dump in progress; " + msg}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: msg}
	})

	consumerDone := make(chan struct{})
	if kafkaEnabled {
		indexConsumer := consumer.New(kafka.NewConsumer(
			cfg.Kafka,
			cfg.Kafka.Topics.DocumentIngest,
			consumer.HandleMessage(dealer, m),
		))
		go func() {
			defer close(consumerDone)
			if err := indexConsumer.Start(ctx); err != nil {
				slog.Error("consumer error", "error", err)
			}
		}()
		slog.Info("consuming ingest events",
			"topic", cfg.Kafka.Topics.DocumentIngest,
			"group", cfg.Kafka.ConsumerGroup,
		)
	} else {
		close(consumerDone)
	}

	mux := http.NewServeMux()
	qp := parser.New(analyzer, cfg.Search.DefaultFields...)
	handler.New(dealer, qp, pub, cfg.Search.DefaultLimit, cfg.Search.MaxResults).
		WithSearchTimeout(cfg.Search.Timeout).
		Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("rtsearch listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	<-consumerDone

	slog.Info("dumping real-time index before shutdown")
	if err := dealer.Dump(shutdownCtx); err != nil {
		slog.Error("final dump failed", "error", err)
	}
	slog.Info("rtsearch stopped")
	return nil
}

func openBoosts(ctx context.Context, cfg *config.Config, checker *health.Checker) (boosts.Store, func(), error) {
	if cfg.Boosts.Backend != "redis" {
		store, err := boosts.NewMemoryStore(cfg.Boosts.SnapshotPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening boosts snapshot: %w", err)
		}
		slog.Info("boosts store ready", "backend", "memory", "entries", store.Len())
		return store, func() {}, nil
	}

	client, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	store := boosts.NewRedisStore(client, cfg.Redis.KeyPrefix)
	if err := store.Load(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("loading boosts from redis: %w", err)
	}
	checker.Register("redis", health.PingCheck(client.Ping, health.StatusDegraded))
	slog.Info("boosts store ready", "backend", "redis", "addr", cfg.Redis.Addr, "entries", store.Len())
	return store, func() { client.Close() }, nil
}

func openCheckpoints(ctx context.Context, cfg *config.Config, checker *health.Checker) (checkpoint.Store, func(), error) {
	if cfg.Checkpoint.Backend != "postgres" {
		return checkpoint.NewFileStore(cfg.Checkpoint.Path), func() {}, nil
	}

	client, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	store := checkpoint.NewPostgresStore(client, checkpointName)
	if err := store.EnsureSchema(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	checker.Register("postgres", health.PingCheck(client.Ping, health.StatusDown))
	slog.Info("checkpoint store ready", "backend", "postgres", "host", cfg.Postgres.Host)
	return store, func() { client.Close() }, nil
}
