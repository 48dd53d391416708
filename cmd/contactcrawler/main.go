// Command contactcrawler runs the business contact extraction service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/scrapex/contact-crawler/internal/api"
	"github.com/scrapex/contact-crawler/internal/batch"
	"github.com/scrapex/contact-crawler/internal/clock/system"
	"github.com/scrapex/contact-crawler/internal/config"
	"github.com/scrapex/contact-crawler/internal/directory"
	"github.com/scrapex/contact-crawler/internal/govern"
	"github.com/scrapex/contact-crawler/internal/id/uuid"
	"github.com/scrapex/contact-crawler/internal/logging"
	"github.com/scrapex/contact-crawler/internal/notify"
	"github.com/scrapex/contact-crawler/internal/scrape"
	"github.com/scrapex/contact-crawler/internal/storage"
	"github.com/scrapex/contact-crawler/internal/storage/fsdoc"
	"github.com/scrapex/contact-crawler/internal/storage/gcs"
	storagemem "github.com/scrapex/contact-crawler/internal/storage/memory"
	storagepg "github.com/scrapex/contact-crawler/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "contactcrawler: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()

	direct, err := scrape.NewDirectStrategy(scrape.DirectConfig{
		UserAgent:   cfg.Fetch.UserAgent,
		Timeout:     cfg.Fetch.Timeout(),
		Parallelism: cfg.Fetch.Parallelism,
		DomainDelay: cfg.Fetch.DomainDelay(),
	}, logger)
	if err != nil {
		return fmt.Errorf("init direct strategy: %w", err)
	}

	strategies := []scrape.Strategy{direct}
	if cfg.Headless.Enabled {
		rendered, renderErr := scrape.NewRenderedStrategy(scrape.RenderedConfig{
			UserAgent:   cfg.Fetch.UserAgent,
			NavTimeout:  cfg.Headless.NavTimeout(),
			SettleDelay: cfg.Headless.SettleDelay(),
			MaxParallel: cfg.Headless.MaxParallel,
			DomainQPS:   cfg.Headless.DomainQPS,
		}, logger)
		if renderErr != nil {
			return fmt.Errorf("init rendered strategy: %w", renderErr)
		}
		defer func() { _ = rendered.Close() }()
		strategies = append(strategies, rendered)
	}
	ladder := scrape.NewLadder(logger, strategies...)

	crawler := directory.New(ladder, directory.Config{
		MaxListings: cfg.Directory.MaxListings,
	}, logger)

	governor := govern.New(govern.Config{
		MaxConcurrentJobs: cfg.Limits.MaxConcurrentJobs,
		MaxBatchSize:      cfg.Limits.MaxBatchSize,
		JobTimeout:        cfg.Limits.JobTimeout(),
		MemoryBudgetBytes: cfg.Limits.MemoryBudgetBytes(),
		MemoryHighWater:   cfg.Limits.MemoryHighWater,
		SweepInterval:     cfg.Limits.SweepInterval(),
	}, clk, logger)
	go governor.Watch(ctx, func(jobID string) {
		logger.Warn("watchdog expired job", zap.String("job_id", jobID))
	})

	jobs, businesses, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var sink storage.ResultSink
	sink, err = fsdoc.New(fsdoc.Config{BaseDir: cfg.Results.Dir})
	if err != nil {
		return fmt.Errorf("init result sink: %w", err)
	}
	if cfg.Results.GCSBucket != "" {
		client, gcsErr := gcsstorage.NewClient(ctx)
		if gcsErr != nil {
			return fmt.Errorf("init gcs client: %w", gcsErr)
		}
		defer func() { _ = client.Close() }()
		archive, gcsErr := gcs.New(client, gcs.Config{
			Bucket: cfg.Results.GCSBucket,
			Prefix: cfg.Results.GCSPrefix,
		})
		if gcsErr != nil {
			return fmt.Errorf("init gcs archive: %w", gcsErr)
		}
		sink = storage.WithArchive(sink, archive, logger)
	}

	notifier, notifierCleanup, err := buildNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer notifierCleanup()

	orch := batch.New(ladder, crawler, governor, jobs, businesses, sink, notifier, clk,
		batch.Config{ChunkCooldown: cfg.Batch.ChunkCooldown()}, logger)

	server := api.NewServer(ctx, ladder, orch, governor, jobs, sink, uuid.New(), clk,
		api.Config{
			RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
			AuthEnabled:    cfg.Auth.Enabled,
			APIKey:         cfg.Auth.APIKey,
		}, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr := <-errCh:
		return fmt.Errorf("http server: %w", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// buildStores selects Postgres when a DSN is configured, else the
// in-memory stores.
func buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.JobStore, storage.BusinessStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("using in-memory stores")
		store := storagemem.New()
		return store, store, func() {}, nil
	}
	store, err := storagepg.New(ctx, storagepg.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init postgres store: %w", err)
	}
	logger.Info("using postgres stores")
	return store, store, store.Close, nil
}

// buildNotifier wires Pub/Sub when configured; otherwise events are
// kept in memory so the orchestrator path stays uniform.
func buildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (notify.Notifier, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		return notify.NewMemoryNotifier(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	notifier, err := notify.NewPubSubNotifier(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("publishing completion events",
		zap.String("project", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName))
	cleanup := func() {
		topic.Stop()
		_ = client.Close()
	}
	return notifier, cleanup, nil
}
