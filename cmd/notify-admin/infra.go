package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/stagepass/notify/config"
	"github.com/stagepass/notify/internal/bootstrap"
	"github.com/stagepass/notify/internal/data"
	domainjob "github.com/stagepass/notify/internal/domain/job"
	"github.com/stagepass/notify/internal/service"
)

var errRedisNotConfigured = errors.New("redis not configured")

// connectDB opens the Postgres connection commands operate on.
func connectDB(logger *slog.Logger, cfg *config.AppConfig) (*sql.DB, error) {
	db, err := bootstrap.ConnectDB(bootstrap.StoreConfig{DBConfig: cfg.Postgres, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	return db, nil
}

// connectRedis returns a client when redis configuration is present.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectRedis(logger *slog.Logger, cfg *config.AppConfig) (redis.UniversalClient, error) {
	if !hasRedisConfig(&cfg.Redis) {
		return nil, errRedisNotConfigured
	}
	client, err := bootstrap.ConnectRedis(bootstrap.StoreConfig{RedisConfig: cfg.Redis, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}

func closeInfra(db *sql.DB, redisClient redis.UniversalClient) error {
	var closeErr error
	if db != nil {
		if err := db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}

// newQueueService builds the queue facade for admin commands. The cache
// is optional; only pause/resume require a redis client.
func newQueueService(ctx *commandContext, db *sql.DB, redisClient redis.UniversalClient) *service.QueueService {
	cfg := &ctx.Config

	var cache *data.RedisCacheRepo
	if redisClient != nil {
		cache = data.NewRedisCacheRepo(redisClient)
	}

	repo := data.NewJobRepo(db, data.JobRepoConfig{
		Retry:  domainjob.MustNewRetryPolicy(cfg.Queue.BackoffBase, cfg.Queue.MaxAttempts),
		Logger: ctx.Logger,
	})

	opts := service.QueueServiceOptions{
		Repo:         repo,
		DefaultLease: cfg.Queue.DefaultLease,
		DefaultTTL:   cfg.Queue.DefaultTTL,
		Logger:       ctx.Logger,
	}
	if cache != nil {
		opts.Cache = cache
	}
	return service.MustNewQueueService(opts)
}
