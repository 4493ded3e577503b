// Package main wires together the crawl coordination service.
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

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-coordinator/internal/api"
	"github.com/JakeFAU/storefront-coordinator/internal/clock/system"
	"github.com/JakeFAU/storefront-coordinator/internal/config"
	"github.com/JakeFAU/storefront-coordinator/internal/coord"
	"github.com/JakeFAU/storefront-coordinator/internal/hash/sha256"
	"github.com/JakeFAU/storefront-coordinator/internal/id/uuid"
	"github.com/JakeFAU/storefront-coordinator/internal/logging"
	"github.com/JakeFAU/storefront-coordinator/internal/progress"
	"github.com/JakeFAU/storefront-coordinator/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/storefront-coordinator/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/storefront-coordinator/internal/publisher/pubsub"
	"github.com/JakeFAU/storefront-coordinator/internal/quota"
	"github.com/JakeFAU/storefront-coordinator/internal/relay"
	"github.com/JakeFAU/storefront-coordinator/internal/selection"
	"github.com/JakeFAU/storefront-coordinator/internal/state"
	"github.com/JakeFAU/storefront-coordinator/internal/storage/gcs"
	"github.com/JakeFAU/storefront-coordinator/internal/storage/local"
	memorystorage "github.com/JakeFAU/storefront-coordinator/internal/storage/memory"
	"github.com/JakeFAU/storefront-coordinator/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	hub := progress.NewHub(progress.Config{},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)

	var products coord.ProductStore
	if cfg.DB.DSN != "" {
		pgStore, err := postgres.NewProductStore(ctx, postgres.ProductStoreConfig{DSN: cfg.DB.DSN})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pgStore.Close()
		products = pgStore
	} else {
		logger.Warn("db.dsn not set, using in-memory product store")
		products = memorystorage.NewProductStore()
	}

	var blobs coord.BlobStore
	switch {
	case cfg.Storage.GCSBucket != "":
		gcsStore, err := gcs.Connect(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket}, logger)
		if err != nil {
			logger.Fatal("gcs init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := gcsStore.Close(); closeErr != nil {
				logger.Warn("gcs close failed", zap.Error(closeErr))
			}
		}()
		blobs = gcsStore
	case cfg.Storage.LocalDir != "":
		localStore, err := local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			logger.Fatal("local blob store init failed", zap.Error(err))
		}
		blobs = localStore
	default:
		logger.Warn("no blob storage configured, using in-memory blob store")
		blobs = memorystorage.NewBlobStore()
	}

	var publisher coord.Publisher
	if cfg.PubSub.ProjectID != "" {
		psPublisher, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := psPublisher.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		publisher = psPublisher
	} else {
		logger.Warn("pubsub.project_id not set, using in-memory publisher")
		publisher = memorypublisher.New()
	}

	clock := system.New()
	idGen := uuid.New()
	selected := selection.NewRegistry()
	quotaCounter := quota.NewCounter(cfg.Run.TargetProducts)
	states := state.NewStore(state.Config{
		StuckThreshold: cfg.Run.StuckThreshold,
		VisitTimeout:   cfg.VisitTimeout(),
	}, clock, hub, logger.Named("state"))
	ingest := relay.New(
		selected,
		quotaCounter,
		products,
		blobs,
		publisher,
		sha256.New(),
		clock,
		hub,
		relay.Config{
			OperatorKey: cfg.Persistence.OperatorKey,
			BlobPrefix:  cfg.Storage.Prefix,
			Topic:       cfg.PubSub.TopicName,
		},
		logger.Named("relay"),
	)

	apiServer := api.NewServer(
		states,
		quotaCounter,
		selected,
		ingest,
		hub,
		idGen,
		clock,
		cfg,
		registry,
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started",
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
		)
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
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
