// Command collegecrawler runs the crawl and extraction pipelines plus the
// HTTP surface in a single process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	archivegcs "github.com/collegedata/crawler/internal/archive/gcs"
	archivemem "github.com/collegedata/crawler/internal/archive/memory"
	archivenoop "github.com/collegedata/crawler/internal/archive/noop"
	"github.com/collegedata/crawler/internal/api"
	systemclock "github.com/collegedata/crawler/internal/clock/system"
	"github.com/collegedata/crawler/internal/config"
	"github.com/collegedata/crawler/internal/crawl"
	"github.com/collegedata/crawler/internal/extract"
	collyfetcher "github.com/collegedata/crawler/internal/fetcher/colly"
	"github.com/collegedata/crawler/internal/fetcher/headless"
	"github.com/collegedata/crawler/internal/hash/sha256"
	uuidgen "github.com/collegedata/crawler/internal/id/uuid"
	"github.com/collegedata/crawler/internal/llm"
	"github.com/collegedata/crawler/internal/logging"
	"github.com/collegedata/crawler/internal/metrics"
	"github.com/collegedata/crawler/internal/pipeline"
	publishermem "github.com/collegedata/crawler/internal/publisher/memory"
	publishernoop "github.com/collegedata/crawler/internal/publisher/noop"
	gcppub "github.com/collegedata/crawler/internal/publisher/pubsub"
	queuemem "github.com/collegedata/crawler/internal/queue/memory"
	"github.com/collegedata/crawler/internal/results"
	"github.com/collegedata/crawler/internal/storage/memory"
	mongostore "github.com/collegedata/crawler/internal/storage/mongo"
	"github.com/collegedata/crawler/internal/storage/postgres"
	"github.com/collegedata/crawler/internal/workerpool"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; env vars apply either way)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "collegecrawler: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := systemclock.New()
	ids := uuidgen.New()
	hasher := sha256.New()

	var (
		targets   pipeline.TargetStore
		crawlJobs pipeline.CrawlJobStore
		aiJobs    pipeline.AIJobStore
		contents  pipeline.ContentStore
		ready     func(ctx context.Context) error
	)
	if cfg.DB.DSN != "" {
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		targets, crawlJobs, aiJobs, contents = store, store, store, store
		ready = store.Ping
		logger.Info("using postgres job storage")
	} else {
		targets = memory.NewTargetStore()
		jobStore := memory.NewJobStore()
		crawlJobs, aiJobs = jobStore, jobStore
		contents = memory.NewContentStore()
		logger.Warn("db.dsn not set, using in-memory job storage")
	}

	var resultStore results.Store
	if cfg.Mongo.URI != "" {
		mongoStore, err := mongostore.NewResultStore(ctx, mongostore.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		}, clock, ids)
		if err != nil {
			return err
		}
		defer func() {
			if err := mongoStore.Close(context.Background()); err != nil {
				logger.Warn("close mongo", zap.Error(err))
			}
		}()
		resultStore = mongoStore
		logger.Info("using mongo result storage", zap.String("database", cfg.Mongo.Database))
	} else {
		resultStore = memory.NewResultStore()
		logger.Warn("mongo.uri not set, using in-memory result storage")
	}

	archive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	events, closeEvents, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.RequestTimeout(),
	})

	var (
		renderer pipeline.Fetcher = headless.NewNoop()
		detector crawl.RenderDetector
	)
	if cfg.Headless.Enabled {
		chromeFetcher, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("build headless fetcher: %w", err)
		}
		defer chromeFetcher.Close()
		renderer = chromeFetcher
		detector = headless.NewDetector(2048, []string{
			"enable javascript",
			"javascript is required",
			"you need to enable javascript",
		})
		logger.Info("headless rendering enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	model := llm.NewManager(llm.Config{
		ModelName:       cfg.Model.Name,
		APIKey:          cfg.Model.APIKey,
		Temperature:     cfg.Model.Temperature,
		MaxOutputTokens: cfg.Model.MaxOutputTokens,
	}, logger)
	defer func() {
		if err := model.Unload(); err != nil {
			logger.Warn("unload model", zap.Error(err))
		}
	}()

	crawlEngine, err := crawl.NewEngine(crawl.Config{
		MaxPages:  cfg.Crawler.MaxPages,
		MaxDepth:  cfg.Crawler.MaxDepth,
		Delay:     cfg.Crawler.CrawlDelay(),
		UserAgent: cfg.Crawler.UserAgent,
	}, crawl.Deps{
		Fetcher:  fetcher,
		Renderer: renderer,
		Detector: detector,
		Targets:  targets,
		Jobs:     crawlJobs,
		Contents: contents,
		Archive:  archive,
		Events:   events,
		Hasher:   hasher,
		Clock:    clock,
		IDs:      ids,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	extractEngine, err := extract.NewEngine(extract.Deps{
		Model:    model,
		Targets:  targets,
		Jobs:     aiJobs,
		Contents: contents,
		Results:  resultStore,
		Events:   events,
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	crawlPool, err := workerpool.New(workerpool.Config{
		Kind:            pipeline.JobKindCrawl,
		Workers:         cfg.Crawler.Workers,
		DequeueTimeout:  time.Duration(cfg.Crawler.DequeueSeconds) * time.Second,
		PollBatch:       cfg.Crawler.PollBatch,
		StallThreshold:  time.Duration(cfg.Crawler.StallMinutes) * time.Minute,
		ShutdownTimeout: time.Duration(cfg.Crawler.ShutdownSeconds) * time.Second,
	}, queuemem.New(cfg.Crawler.QueueDepth), crawlEngine,
		workerpool.CrawlPoller(crawlJobs), workerpool.CrawlFailer(crawlJobs), clock, logger)
	if err != nil {
		return err
	}

	extractPool, err := workerpool.New(workerpool.Config{
		Kind:            pipeline.JobKindExtraction,
		Workers:         cfg.AI.Workers,
		DequeueTimeout:  time.Duration(cfg.AI.DequeueSeconds) * time.Second,
		PollBatch:       cfg.AI.PollBatch,
		StallThreshold:  time.Duration(cfg.AI.StallMinutes) * time.Minute,
		ShutdownTimeout: time.Duration(cfg.AI.ShutdownSeconds) * time.Second,
	}, queuemem.New(cfg.AI.QueueDepth), extractEngine,
		workerpool.ExtractionPoller(aiJobs), workerpool.ExtractionFailer(aiJobs), clock, logger)
	if err != nil {
		return err
	}

	if err := crawlPool.Start(ctx); err != nil {
		return err
	}
	if err := extractPool.Start(ctx); err != nil {
		return err
	}

	server := api.NewServer(api.Deps{
		Targets:     targets,
		CrawlJobs:   crawlJobs,
		AIJobs:      aiJobs,
		Contents:    contents,
		CrawlPool:   crawlPool,
		ExtractPool: extractPool,
		Model:       model,
		Clock:       clock,
		IDs:         ids,
		Ready:       ready,
		Logger:      logger,
	}, cfg)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := crawlPool.Stop(shutdownCtx); err != nil {
		logger.Warn("crawl pool stop", zap.Error(err))
	}
	if err := extractPool.Stop(shutdownCtx); err != nil {
		logger.Warn("extraction pool stop", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.BlobStore, error) {
	switch cfg.Archive.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gcs client: %w", err)
		}
		store, err := archivegcs.New(client, archivegcs.Config{
			Bucket: cfg.Archive.GCSBucket,
			Prefix: cfg.Archive.Prefix,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("archiving snapshots to gcs", zap.String("bucket", cfg.Archive.GCSBucket))
		return store, nil
	case "memory":
		return archivemem.NewBlobStore(), nil
	case "noop", "":
		return archivenoop.New(), nil
	default:
		return nil, fmt.Errorf("unknown archive provider %q", cfg.Archive.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Publisher, func(), error) {
	switch cfg.Events.Provider {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("build pubsub client: %w", err)
		}
		pub, err := gcppub.New(client)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("publishing events to pubsub", zap.String("project", cfg.Events.ProjectID))
		return pub, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("close pubsub publisher", zap.Error(err))
			}
		}, nil
	case "memory", "":
		return publishermem.New(), func() {}, nil
	case "noop":
		return publishernoop.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown events provider %q", cfg.Events.Provider)
	}
}
