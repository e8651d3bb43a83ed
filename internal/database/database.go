package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/netvault/backend/internal/config"
)

var (
	DB    *gorm.DB
	Redis *redis.Client
)

const (
	connectRetries = 15
	retryDelay     = 2 * time.Second
)

func postgresDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName,
	)
}

func redisAddr(cfg *config.Config) string {
	return fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)
}

// poolSize derives connection pool limits from the backup fan-out: each
// worker holds at most one connection at a time, with headroom for the API
// and the schedulers.
func poolSize(maxConcurrency int) (maxOpen, maxIdle int) {
	maxOpen = maxConcurrency * 2
	if maxOpen < 20 {
		maxOpen = 20
	}
	maxIdle = maxConcurrency
	if maxIdle < 5 {
		maxIdle = 5
	}
	return maxOpen, maxIdle
}

// Connect opens the Postgres and Redis connections. Postgres is retried so
// the service survives starting before the database in a compose stack; a
// Redis failure is fatal here because the progress tracker and cache degrade
// at call time, not at startup.
func Connect(cfg *config.Config) error {
	dsn := postgresDSN(cfg)

	var err error
	for i := 0; i < connectRetries; i++ {
		DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
			DisableForeignKeyConstraintWhenMigrating: true,
		})
		if err == nil {
			break
		}
		log.Printf("Database: connection attempt %d/%d failed: %v, retrying in %s", i+1, connectRetries, err, retryDelay)
		time.Sleep(retryDelay)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database after %d attempts: %w", connectRetries, err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	maxOpen, maxIdle := poolSize(cfg.MaxConcurrency)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Printf("Database: connected to %s/%s (pool %d open / %d idle)", cfg.DBHost, cfg.DBName, maxOpen, maxIdle)

	Redis = redis.NewClient(&redis.Options{
		Addr:     redisAddr(cfg),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Redis.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis at %s: %w", redisAddr(cfg), err)
	}

	log.Printf("Redis: connected to %s", redisAddr(cfg))

	return nil
}

func Close() {
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if Redis != nil {
		Redis.Close()
	}
}
