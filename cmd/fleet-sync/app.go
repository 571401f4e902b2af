package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sternrassler/fleet-activity-sync/internal/config"
	"github.com/Sternrassler/fleet-activity-sync/internal/ingest"
	"github.com/Sternrassler/fleet-activity-sync/internal/inventory"
	"github.com/Sternrassler/fleet-activity-sync/internal/progress"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage/postgres"
	"github.com/Sternrassler/fleet-activity-sync/internal/storage/sqlite"
	"github.com/Sternrassler/fleet-activity-sync/pkg/cache"
	"github.com/Sternrassler/fleet-activity-sync/pkg/client"
	"github.com/Sternrassler/fleet-activity-sync/pkg/logging"
	"github.com/Sternrassler/fleet-activity-sync/pkg/pagination"
	"github.com/Sternrassler/fleet-activity-sync/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app wires the pipeline components of one process.
type app struct {
	cfg     *config.Config
	gate    *ratelimit.Gate
	client  *client.Client
	store   storage.Store
	service *ingest.Service
	syncer  *inventory.Syncer

	redis *redis.Client
	cache *cache.Manager
}

func newApp(ctx context.Context, cfg *config.Config, withCache bool) (*app, error) {
	gate := ratelimit.NewGate(cfg.MaxConcurrent, cfg.ReleaseDelay, logging.NewLogger("ratelimit"))

	clientCfg := client.DefaultConfig(gate)
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.RequestTimeout = cfg.RequestTimeout
	clientCfg.Retry = cfg.RetryConfig()
	clientCfg.MaxTotalPages = cfg.MaxTotalPages
	fleetClient, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create fleet client: %w", err)
	}

	store, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		fleetClient.Close()
		return nil, err
	}
	if s, ok := store.(interface{ SetChunkSize(int) }); ok {
		s.SetChunkSize(cfg.ChunkSize)
	}

	a := &app{
		cfg:    cfg,
		gate:   gate,
		client: fleetClient,
		store:  store,
		service: ingest.NewService(fleetClient, store, progress.NewRegistry(), pagination.Config{
			BatchSize:   cfg.BatchSize,
			BatchPause:  cfg.BatchPause,
			PageTimeout: cfg.PageTimeout,
		}),
		syncer: inventory.NewSyncer(fleetClient, store),
	}

	for _, p := range a.projects() {
		if err := store.EnsureTable(ctx, p.Table()); err != nil {
			a.Close()
			return nil, fmt.Errorf("prepare table for project %s: %w", p.ID, err)
		}
	}

	if withCache && cfg.RedisURL != "" {
		rdb, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = rdb
		a.cache = cache.NewManager(rdb, cfg.CacheTTL)
		log.Info().Str("redis", cfg.RedisURL).Dur("ttl", cfg.CacheTTL).Msg("Response cache enabled")
	}

	return a, nil
}

// projects returns the configured projects ordered by id.
func (a *app) projects() []*config.Project {
	ids := a.cfg.ProjectIDs()
	out := make([]*config.Project, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.cfg.Projects[id])
	}
	return out
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.store.Close()
	a.client.Close()
}

// storeKind is the backend selected by DATABASE_URL.
type storeKind string

const (
	storePostgres storeKind = "postgres"
	storeSQLite   storeKind = "sqlite"
)

// parseDatabaseURL selects the store backend. postgres:// and postgresql://
// URLs pass through to pgx; sqlite:// URLs and bare paths name a SQLite file.
func parseDatabaseURL(dsn string) (storeKind, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", fmt.Errorf("DATABASE_URL is empty")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return storePostgres, dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite DATABASE_URL has no path")
		}
		return storeSQLite, path, nil
	case strings.Contains(dsn, "://"):
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme in %q", dsn)
	default:
		return storeSQLite, dsn, nil
	}
}

func openStore(ctx context.Context, dsn string) (storage.Store, error) {
	kind, target, err := parseDatabaseURL(dsn)
	if err != nil {
		return nil, err
	}
	if kind == storePostgres {
		store, err := postgres.New(ctx, target)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := sqlite.Open(ctx, target)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// newRedisClient accepts a redis:// URL or a plain host:port address.
func newRedisClient(addr string) (*redis.Client, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}
