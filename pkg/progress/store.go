package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var progressWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "collector_progress_writes_total",
	Help: "Total progress saves by backend and result",
}, []string{"backend", "result"})

// Backend names.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Store persists partition progress per run key.
type Store interface {
	// Load returns every stored partition of the run. Partitions without an
	// entry are implicitly pending; an unknown run key yields an empty map.
	Load(ctx context.Context, runKey string) (map[string]*PartitionProgress, error)

	// Save durably stores one partition before returning.
	Save(ctx context.Context, runKey, partitionID string, p *PartitionProgress) error

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend string

	// Dir holds progress files for the file backend.
	Dir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string

	Logger zerolog.Logger
}

// Open builds the Store selected by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		if opts.Dir == "" {
			return nil, fmt.Errorf("progress dir is required for the file backend")
		}
		return NewFileStore(opts.Dir, opts.Logger)

	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", opts.RedisAddr, err)
		}
		return NewRedisStore(client, opts.Logger), nil

	case BackendPostgres:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres dsn is required for the postgres backend")
		}
		poolConfig, err := pgxpool.ParseConfig(opts.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store, err := NewPostgresStore(ctx, pool, opts.Logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unknown progress backend: %s", opts.Backend)
	}
}

func recordWrite(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	progressWritesTotal.WithLabelValues(backend, result).Inc()
}
