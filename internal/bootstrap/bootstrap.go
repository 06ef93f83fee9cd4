// Package bootstrap opens the shared infrastructure clients used by the API
// server and the orphan sweep.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/lesion-intake/internal/config"
	"github.com/example/lesion-intake/internal/storage"
)

func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// OpenStore builds the configured blob store. The returned close function is
// always non-nil.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Store, func() error, error) {
	switch cfg.Backend {
	case config.StorageBackendGCS:
		store, err := storage.NewGCSStore(ctx, cfg.GCS, cfg.KeyPrefix, cfg.SignedURLTTL, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StorageBackendS3:
		store, err := storage.NewS3Store(ctx, cfg.S3, cfg.KeyPrefix, cfg.SignedURLTTL, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			logger.Warn("failed to ensure bucket", zap.String("bucket", cfg.S3.BucketName), zap.Error(err))
		}
		return store, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
