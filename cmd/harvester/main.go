// Package main wires together the harvester service binary.
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

	gpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/linkforge/harvester/internal/api"
	"github.com/linkforge/harvester/internal/clock/system"
	"github.com/linkforge/harvester/internal/config"
	"github.com/linkforge/harvester/internal/credentials"
	"github.com/linkforge/harvester/internal/engine"
	"github.com/linkforge/harvester/internal/export"
	exportgcs "github.com/linkforge/harvester/internal/export/gcs"
	exportlocal "github.com/linkforge/harvester/internal/export/local"
	"github.com/linkforge/harvester/internal/harvest"
	"github.com/linkforge/harvester/internal/id/uuid"
	"github.com/linkforge/harvester/internal/lock"
	"github.com/linkforge/harvester/internal/logging"
	"github.com/linkforge/harvester/internal/metrics"
	pubsubpublisher "github.com/linkforge/harvester/internal/publisher/pubsub"
	"github.com/linkforge/harvester/internal/runner"
	"github.com/linkforge/harvester/internal/search"
	memorystorage "github.com/linkforge/harvester/internal/storage/memory"
	"github.com/linkforge/harvester/internal/storage/postgres"
)

// stores is the persistence surface the rest of the wiring needs, satisfied
// by both the memory and Postgres implementations.
type stores interface {
	harvest.CombinationStore
	harvest.LinkStore
	harvest.DorkStore
	credentials.Store
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store  stores
		pinger engine.Pinger
	)
	if cfg.DB.DSN != "" {
		pgStore, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: cfg.ConnLifetime(),
		})
		if err != nil {
			logger.Fatal("connect postgres", zap.Error(err))
		}
		defer pgStore.Close()
		store = pgStore
		pinger = pgStore
		logger.Info("postgres store ready")
	} else {
		store = memorystorage.New()
		logger.Warn("no db.dsn configured, using in-memory store")
	}

	resolver, err := credentials.NewResolver(store, cfg.Provider.CredentialSecret)
	if err != nil {
		logger.Fatal("init credential resolver", zap.Error(err))
	}

	searchClient := search.New(search.Config{
		Endpoint:  cfg.Provider.Endpoint,
		Timeout:   cfg.ProviderTimeout(),
		PageSize:  cfg.Provider.PageSize,
		UserAgent: cfg.Provider.UserAgent,
	})

	var publisher harvest.Publisher
	if cfg.PubSub.Enabled {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("init pubsub client", zap.Error(err))
		}
		p := pubsubpublisher.New(client)
		defer p.Close() //nolint:errcheck
		publisher = p
	}

	var blobs harvest.BlobStore
	switch cfg.Export.Backend {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("init gcs client", zap.Error(err))
		}
		blobs, err = exportgcs.New(client, exportgcs.Config{Bucket: cfg.Export.GCSBucket})
		if err != nil {
			logger.Fatal("init gcs blob store", zap.Error(err))
		}
	default:
		blobs, err = exportlocal.New(exportlocal.Config{BaseDir: cfg.Export.BaseDir})
		if err != nil {
			logger.Fatal("init local blob store", zap.Error(err))
		}
	}

	locks := lock.New()
	clk := system.New()
	idGen := uuid.New()
	retry := harvest.RetryPolicy{MaxRetries: cfg.Harvest.MaxRetries, BaseDelay: cfg.BackoffBase()}

	lifecycle := engine.NewLifecycle(store, store, locks, clk, idGen, logger.Named("lifecycle"))
	executor := engine.NewExecutor(store, store, resolver, searchClient, lifecycle, locks,
		clk, idGen, publisher, retry, searchClient.PageSize(), logger.Named("executor"))
	orchestrator := engine.NewOrchestrator(executor, store, pinger, cfg.CourtesyDelay(), logger.Named("orchestrator"))
	exporter := export.New(store, store, blobs, clk, logger.Named("export"))

	queue := runner.NewQueue(cfg.Harvest.QueueDepth)
	pool := runner.NewPool(queue, orchestrator, cfg.Harvest.Workers, logger.Named("runner"))

	apiServer := api.NewServer(lifecycle, executor, pool, store, store, exporter,
		clk, pinger, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("runner pool started", zap.Int("workers", cfg.Harvest.Workers))
		pool.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}
