// Package main wires together the phonewatch scraper service.
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
	"go.uber.org/zap"

	"github.com/phonewatch/scraper/internal/api"
	gcsblob "github.com/phonewatch/scraper/internal/blobstore/gcs"
	localblob "github.com/phonewatch/scraper/internal/blobstore/local"
	"github.com/phonewatch/scraper/internal/clock/system"
	"github.com/phonewatch/scraper/internal/config"
	memorygateway "github.com/phonewatch/scraper/internal/gateway/memory"
	postgresgateway "github.com/phonewatch/scraper/internal/gateway/postgres"
	"github.com/phonewatch/scraper/internal/hash/sha256"
	"github.com/phonewatch/scraper/internal/logging"
	"github.com/phonewatch/scraper/internal/metrics"
	"github.com/phonewatch/scraper/internal/normalize"
	"github.com/phonewatch/scraper/internal/oracle"
	"github.com/phonewatch/scraper/internal/orchestrator"
	"github.com/phonewatch/scraper/internal/probe"
	memorypublisher "github.com/phonewatch/scraper/internal/publisher/memory"
	pubsubpublisher "github.com/phonewatch/scraper/internal/publisher/pubsub"
	"github.com/phonewatch/scraper/internal/scrape"
	"github.com/phonewatch/scraper/internal/scrape/session"
	"github.com/phonewatch/scraper/internal/settings"
	"github.com/phonewatch/scraper/internal/strategy"
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
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	sessions, err := session.NewFactory(session.Config{
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Browser.UserAgent,
		NavTimeout:        time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
		IdleSettle:        time.Duration(cfg.Browser.IdleSettleMs) * time.Millisecond,
		IdleFallbackDelay: time.Duration(cfg.Browser.IdleFallbackSec) * time.Second,
		MaxSessions:       cfg.Browser.MaxSessions,
		DomainQPS:         cfg.Browser.DomainQPS,
	}, logger.Named("session"))
	if err != nil {
		return fmt.Errorf("init browser sessions: %w", err)
	}
	defer func() {
		if cerr := sessions.Close(); cerr != nil {
			logger.Warn("close session factory", zap.Error(cerr))
		}
	}()

	gateway, cleanupGateway, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanupGateway()

	blobs, cleanupBlobs, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanupBlobs()

	publisher, cleanupPublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanupPublisher()

	var oracleClient *oracle.Client
	var assist normalize.Assist
	var decider scrape.Oracle
	if cfg.Oracle.APIURL != "" {
		oracleClient = oracle.NewClient(oracle.Config{
			APIURL:  cfg.Oracle.APIURL,
			APIKey:  cfg.Oracle.APIKey,
			Model:   cfg.Oracle.Model,
			Timeout: cfg.OracleTimeout(),
		}, logger.Named("oracle"))
		assist = oracleClient
		decider = oracleClient
	} else {
		logger.Warn("no oracle configured; agentic mode degrades to deterministic and normalization runs without the assist tier")
	}

	normalizer, err := normalize.New(cfg.Scraper.NormalizeCache, assist, logger.Named("normalize"))
	if err != nil {
		return fmt.Errorf("init normalizer: %w", err)
	}

	prober := probe.New(cfg.Browser.UserAgent, 10*time.Second, logger.Named("probe"))

	orch, err := orchestrator.New(orchestrator.Deps{
		Sessions:   sessions,
		Oracle:     decider,
		Gateway:    gateway,
		Normalizer: normalizer,
		Blobs:      blobs,
		Hasher:     sha256.New(),
		Publisher:  publisher,
		Prober:     prober,
		Clock:      system.New(),
	}, orchestrator.Config{
		Concurrency: cfg.Scraper.Concurrency,
		RunTimeout:  cfg.RunTimeout(),
		Topic:       cfg.PubSub.TopicName,
		Deterministic: strategy.DeterministicConfig{
			ScrollSteps: cfg.Scraper.ScrollSteps,
		},
		Agentic: strategy.AgenticConfig{
			MaxIterations: cfg.Scraper.MaxIterations,
		},
	}, logger.Named("orchestrator"))
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	store := settings.NewStore(cfg.Settings.Path, logger.Named("settings"))
	apiServer := api.NewServer(ctx, orch, store, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildGateway(ctx context.Context, cfg config.Config, logger *zap.Logger) (scrape.Gateway, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no database configured; using in-memory gateway")
		return memorygateway.New(), func() {}, nil
	}
	gw, err := postgresgateway.New(ctx, postgresgateway.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres gateway: %w", err)
	}
	return gw, gw.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (scrape.BlobStore, func(), error) {
	switch cfg.Storage.Provider {
	case "gcs":
		store, err := gcsblob.New(ctx, gcsblob.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		cleanup := func() {
			if cerr := store.Close(); cerr != nil {
				logger.Warn("close gcs client", zap.Error(cerr))
			}
		}
		return store, cleanup, nil
	case "local":
		store, err := localblob.New(localblob.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (scrape.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return memorypublisher.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub client: %w", err)
	}
	topic := client.Topic(cfg.PubSub.TopicName)
	cleanup := func() {
		topic.Stop()
		if cerr := client.Close(); cerr != nil {
			logger.Warn("close pubsub client", zap.Error(cerr))
		}
	}
	return pubsubpublisher.New(topic), cleanup, nil
}
