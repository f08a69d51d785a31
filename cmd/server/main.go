// Command server runs the BudgetGuard admission edge: the HTTP surface
// that authenticates, routes, admits, dispatches, and accounts every
// proxied chat-completions request (spec §4.6).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/internal/admission"
	"github.com/budgetguard/budgetguard/internal/budgetstore"
	"github.com/budgetguard/budgetguard/internal/catalog"
	"github.com/budgetguard/budgetguard/internal/config"
	"github.com/budgetguard/budgetguard/internal/cost"
	"github.com/budgetguard/budgetguard/internal/credential"
	"github.com/budgetguard/budgetguard/internal/events"
	"github.com/budgetguard/budgetguard/internal/ledger"
	"github.com/budgetguard/budgetguard/internal/logger"
	"github.com/budgetguard/budgetguard/internal/metrics"
	"github.com/budgetguard/budgetguard/internal/models"
	"github.com/budgetguard/budgetguard/internal/policy"
	"github.com/budgetguard/budgetguard/internal/providers"
	"github.com/budgetguard/budgetguard/internal/ratelimit"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		panic(err)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := initDatabase(cfg.Database)
	if err != nil {
		log.Fatal("failed to initialize database", zap.Error(err))
	}
	if err := db.AutoMigrate(
		&models.Tenant{}, &models.ApiKey{}, &models.ModelPricing{},
		&models.Budget{}, &models.TagBudget{}, &models.Tag{},
		&models.UsageLedger{}, &models.RequestTag{},
	); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	redisClient, err := initRedis(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, caches degrade to direct-store reads", zap.Error(err))
		redisClient = nil
	}

	cat := catalog.New(db)
	pipeline := &admission.Pipeline{
		DB:               db,
		Logger:           log,
		Credential:       credential.New(db, log),
		Catalog:          cat,
		BudgetStore:      budgetstore.New(db, redisClient, log),
		RateLimiter:      ratelimit.New(redisClient),
		Cost:             cost.New(cat),
		Providers:        buildProviderRegistry(cfg),
		Publisher:        events.NewPublisher(redisClient, log),
		UsageTracker:     ledger.NewTracker(redisClient, log),
		DefaultRateLimit: cfg.RateLimit.MaxRequestsPerMinute,
		UpstreamTimeout:  cfg.Server.UpstreamTimeout,
		DefaultTenant:    cfg.Budget.DefaultTenant,
	}

	if cfg.Policy.WasmPath != "" {
		ctx := context.Background()
		evaluator, err := policy.Load(ctx, cfg.Policy.WasmPath)
		if err != nil {
			log.Warn("policy module failed to load, admitting all requests", zap.Error(err))
		} else {
			pipeline.Policy = evaluator
			defer evaluator.Close(ctx)
		}
	}

	srv := &http.Server{
		Addr:         portAddr(cfg.Server.Port),
		Handler:      admission.NewRouter(pipeline),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("budgetguard admission edge listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	metricsSrv := &http.Server{
		Addr:    portAddr(cfg.Server.MetricsPort),
		Handler: metrics.NewRouter(),
	}
	go func() {
		log.Info("budgetguard metrics listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", zap.Error(err))
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Info("budgetguard admission edge stopped")
}

func buildProviderRegistry(cfg *config.Config) *providers.Registry {
	reg := providers.NewRegistry()
	if cfg.Providers.OpenAIKey != "" {
		reg.Register("openai", providers.NewOpenAI(cfg.Providers.OpenAIBaseURL, cfg.Providers.OpenAIKey))
	}
	if cfg.Providers.AnthropicKey != "" {
		reg.Register("anthropic", providers.NewAnthropic(cfg.Providers.AnthropicBaseURL, cfg.Providers.AnthropicKey))
	}
	if cfg.Providers.GoogleKey != "" {
		reg.Register("google", providers.NewGoogle(cfg.Providers.GoogleBaseURL, cfg.Providers.GoogleKey))
	}
	return reg
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

func portAddr(port int) string {
	if port == 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}
