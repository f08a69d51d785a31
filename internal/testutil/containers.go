//go:build integration

// Package testutil spins up real Postgres and Redis containers for the
// integration suite (gated behind the "integration" build tag so the
// default `go test ./...` run never needs Docker). Grounded on the
// teacher's internal/infrastructure/testutil/database.go.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	testredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	postgresdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/internal/models"
)

// NewTestDB starts a real PostgreSQL container, migrates every model the
// admission pipeline touches, and returns a cleanup func that terminates
// the container.
func NewTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("budgetguard_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start postgres container")

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get postgres connection string")

	time.Sleep(time.Second)

	db, err := gorm.Open(postgresdriver.Open(connStr), &gorm.Config{})
	require.NoError(t, err, "failed to connect to postgres test database")

	require.NoError(t, db.AutoMigrate(
		&models.Tenant{}, &models.ApiKey{}, &models.ModelPricing{},
		&models.Budget{}, &models.TagBudget{}, &models.Tag{},
		&models.UsageLedger{}, &models.RequestTag{},
	), "failed to migrate postgres test database")

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
	return db, cleanup
}

// NewTestRedis starts a real Redis container and returns a connected
// client plus a cleanup func that terminates the container.
func NewTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := testredis.Run(ctx,
		"redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "failed to start redis container")

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err, "failed to get redis connection string")

	opt, err := redis.ParseURL(connStr)
	require.NoError(t, err, "failed to parse redis connection string")

	client := redis.NewClient(opt)
	require.NoError(t, client.Ping(ctx).Err(), "failed to ping redis container")

	cleanup := func() {
		_ = client.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	}
	return client, cleanup
}
