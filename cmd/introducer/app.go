package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/introducer/internal/backup"
	"github.com/scrypster/introducer/internal/config"
	"github.com/scrypster/introducer/internal/embedding"
	"github.com/scrypster/introducer/internal/enrichment"
	"github.com/scrypster/introducer/internal/logging"
	"github.com/scrypster/introducer/internal/media"
	"github.com/scrypster/introducer/internal/storage"
	"github.com/scrypster/introducer/internal/storage/postgres"
	"github.com/scrypster/introducer/internal/storage/sqlite"
	"github.com/scrypster/introducer/internal/vectorize"
)

const embeddingCacheEntries = 10000

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    storage.Store
	cache    *embedding.TieredCache
	relay    media.Relay
	enricher *enrichment.Engine
	vectors  *vectorize.Service
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("INTRODUCER_CONFIG_FILE")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	store, err := openStore(ctx, a.cfg.Storage, a.logger)
	if err != nil {
		return err
	}
	a.store = store

	backend, err := embedding.NewBackend(a.cfg.Embedding, a.logger)
	if err != nil {
		return fmt.Errorf("embedding backend: %w", err)
	}
	if backend == nil {
		a.logger.Warn("no embedding backend configured, vectorization is disabled")
	}
	a.cache = embedding.NewTieredCache(ctx, a.cfg.Cache.RedisURL, a.cfg.Cache.TTL, embeddingCacheEntries, a.logger)
	generator := embedding.NewGenerator(backend, embedding.WithCache(a.cache), embedding.WithLogger(a.logger))

	a.relay, err = media.NewRelay(ctx, a.cfg.Media, a.logger)
	if err != nil {
		return fmt.Errorf("image relay: %w", err)
	}

	var provider enrichment.ProfileProvider
	if pc := enrichment.NewProxycurlClient(a.cfg.Enrichment, a.logger); pc != nil {
		provider = pc
	} else {
		a.logger.Warn("no enrichment provider configured, profile lookups will fail")
	}
	a.enricher = enrichment.NewEngine(provider, store,
		enrichment.WithContacts(store),
		enrichment.WithOrganizations(store),
		enrichment.WithRelay(a.relay),
		enrichment.WithFreshness(time.Duration(a.cfg.Enrichment.FreshnessDays)*24*time.Hour),
		enrichment.WithLogger(a.logger),
	)

	a.vectors = vectorize.NewService(store, store, generator,
		vectorize.WithThreshold(a.cfg.Conversation.MatchThreshold),
		vectorize.WithBatchDelay(a.cfg.Conversation.BatchDelay),
		vectorize.WithEnricher(a.enricher),
		vectorize.WithLogger(a.logger),
	)
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	switch cfg.StorageEngine {
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		return store, nil
	default:
		if err := os.MkdirAll(cfg.DataPath, 0o750); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		store, err := sqlite.NewStore(sqlitePath(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		return store, nil
	}
}

func sqlitePath(cfg config.StorageConfig) string {
	return filepath.Join(cfg.DataPath, "introducer.db")
}

// newBackupService snapshots the sqlite store. It returns nil for other
// storage engines.
func (a *app) newBackupService() (*backup.Service, error) {
	if a.cfg.Storage.StorageEngine != "sqlite" {
		return nil, nil
	}
	dir := a.cfg.Backup.Dir
	if dir == "" {
		dir = filepath.Join(a.cfg.Storage.DataPath, "backups")
	}
	return backup.New(backup.Config{
		DBPath:   sqlitePath(a.cfg.Storage),
		Dir:      dir,
		Interval: a.cfg.Backup.Interval,
	}, backup.WithLogger(a.logger))
}

// Close releases every component that holds a connection.
func (a *app) Close() {
	if closer, ok := a.relay.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.logger.Warn("failed to close image relay", zap.Error(err))
		}
	}
	if a.cache != nil {
		hits, misses := a.cache.Stats()
		a.logger.Info("embedding cache stats", zap.Int64("hits", hits), zap.Int64("misses", misses))
		_ = a.cache.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
