// Command worker runs the Ledger Consumer (C8, spec §4.8) as a
// standalone process, draining bg_events into the durable usage ledger.
// Grounded on the teacher's cmd/worker/main.go bootstrap (flag parsing,
// signal-driven graceful shutdown with a bounded grace window).
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/internal/config"
	"github.com/budgetguard/budgetguard/internal/ledger"
	"github.com/budgetguard/budgetguard/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to config file")
		logLevel   = flag.String("log-level", "", "Override the configured log level")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	zlog, err := logger.Initialize(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	zlog.Info("starting budgetguard ledger consumer")

	db, err := initDatabase(cfg.Database)
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.Error(err))
	}

	redisClient, err := initRedis(cfg.Redis)
	if err != nil {
		zlog.Fatal("failed to initialize redis", zap.Error(err))
	}

	consumer := ledger.New(db, redisClient, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- consumer.Run(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info("shutdown signal received, stopping ledger consumer")
		cancel()
		select {
		case <-runErr:
		case <-time.After(10 * time.Second):
			zlog.Warn("ledger consumer shutdown timeout reached")
		}
	case err := <-runErr:
		if err != nil && err != context.Canceled {
			zlog.Error("ledger consumer stopped unexpectedly", zap.Error(err))
		}
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = redisClient.Close()

	zlog.Info("budgetguard ledger consumer shutdown complete")
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.PoolSize != 0 {
		opt.PoolSize = cfg.PoolSize
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}
