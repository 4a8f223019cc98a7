package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Options selects and sizes the SQL store.
type Options struct {
	Driver     string // postgres | sqlite
	URL        string
	SQLitePath string
	MaxConns   int
}

// Open returns the sqlx handle the repositories run on.
func Open(opts Options) (*sqlx.DB, error) {
	switch opts.Driver {
	case "postgres":
		cfg := DefaultPostgresConfig()
		if opts.MaxConns > 0 {
			cfg.MaxConns = int32(opts.MaxConns)
		}
		return NewPostgresSQLX(opts.URL, cfg)
	case "sqlite":
		return NewSQLite(opts.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown database driver %q", opts.Driver)
	}
}

// PostgresConfig sizes the database/sql pool behind sqlx.
type PostgresConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxConns:        25,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// NewPostgresPool opens a small pgx pool used for readiness probes and pool
// statistics, separate from the sqlx handle.
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	config.MaxConns = 2
	config.MinConns = 0
	config.HealthCheckPeriod = time.Minute
	// pgbouncer 호환
	config.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// RedisConfig sizes the Redis client. ReadTimeout must stay above the
// stream consumer's XREADGROUP block.
type RedisConfig struct {
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedis connects with DefaultRedisConfig, growing the pool so every
// sync worker can hold a connection alongside the consumer and API.
func NewRedis(ctx context.Context, redisURL string, workers int) (*redis.Client, error) {
	cfg := DefaultRedisConfig()
	if need := workers + 10; need > cfg.PoolSize {
		cfg.PoolSize = need
	}
	return NewRedisWithConfig(ctx, redisURL, cfg)
}

func NewRedisWithConfig(ctx context.Context, redisURL string, cfg *RedisConfig) (*redis.Client, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.MaxRetries = cfg.MaxRetries
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
