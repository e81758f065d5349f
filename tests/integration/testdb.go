// Package integration runs the fiscal repositories and services against
// real PostgreSQL and Redis instances started with testcontainers.
package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/erp/fiscal/internal/infrastructure/config"
	"github.com/erp/fiscal/internal/infrastructure/migration"
	"github.com/erp/fiscal/internal/infrastructure/persistence"
)

const (
	testDBName     = "fiscal_test"
	testDBUser     = "postgres"
	testDBPassword = "fiscal123"
)

var (
	// Shared containers for all tests in the package
	sharedMu        sync.Mutex
	sharedPostgres  *tcpostgres.PostgresContainer
	sharedDBConfig  *config.DatabaseConfig
	sharedRedis     testcontainers.Container
	sharedRedisAddr string
)

// TestDB is a migrated database connection backed by the shared container
type TestDB struct {
	*persistence.Database
	t *testing.T
}

// NewTestDB returns a connection to the shared PostgreSQL container, starting
// it and applying the embedded migrations on first use. Tables are truncated
// so every test starts empty.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	cfg := sharedDatabase(t)
	db, err := persistence.NewDatabase(cfg, zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel)), persistence.Options{
		LogLevel: "error",
	})
	require.NoError(t, err, "Failed to connect to test database")

	tdb := &TestDB{Database: db, t: t}
	tdb.CleanTables()
	t.Cleanup(func() {
		_ = db.Close()
	})
	return tdb
}

func sharedDatabase(t *testing.T) *config.DatabaseConfig {
	t.Helper()

	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedDBConfig != nil {
		return sharedDBConfig
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase(testDBName),
		tcpostgres.WithUsername(testDBUser),
		tcpostgres.WithPassword(testDBPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := &config.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		User:            testDBUser,
		Password:        testDBPassword,
		DBName:          testDBName,
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5,
		ConnMaxIdleTime: 1,
		SlowQueryThresh: time.Second,
	}

	db, err := persistence.NewDatabase(cfg, zap.NewNop(), persistence.Options{LogLevel: "error"})
	require.NoError(t, err, "Failed to connect for migrations")
	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	migrator, err := migration.NewEmbedded(sqlDB, zap.NewNop())
	require.NoError(t, err, "Failed to create migrator")
	require.NoError(t, migrator.Up(), "Failed to run migrations")
	_ = migrator.Close()

	sharedPostgres = container
	sharedDBConfig = cfg
	return cfg
}

// CleanTables truncates every application table
func (tdb *TestDB) CleanTables() {
	tdb.t.Helper()

	var tables []string
	err := tdb.DB.Raw(`
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		AND tablename != 'schema_migrations'
	`).Scan(&tables).Error
	require.NoError(tdb.t, err, "Failed to get table names")

	for _, table := range tables {
		err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %q CASCADE", table)).Error
		require.NoError(tdb.t, err, "Failed to truncate table %s", table)
	}
}

// WithTransaction runs fn inside a transaction that is always rolled back
func (tdb *TestDB) WithTransaction(fn func(tx *gorm.DB)) {
	tdb.t.Helper()

	tx := tdb.DB.Begin()
	require.NoError(tdb.t, tx.Error, "Failed to begin transaction")
	defer tx.Rollback()

	fn(tx)
}

// NewTestRedis returns a client for the shared Redis container, flushing it
// first.
func NewTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := sharedRedisAddress(t)
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.FlushDB(ctx).Err(), "Failed to flush redis")
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func sharedRedisAddress(t *testing.T) string {
	t.Helper()

	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedRedisAddr != "" {
		return sharedRedisAddr
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Failed to start Redis container")

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	sharedRedis = container
	sharedRedisAddr = endpoint
	return endpoint
}

// CleanupSharedContainers terminates the shared containers. Call it from TestMain.
func CleanupSharedContainers() {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if sharedPostgres != nil {
		_ = sharedPostgres.Terminate(ctx)
		sharedPostgres = nil
		sharedDBConfig = nil
	}
	if sharedRedis != nil {
		_ = sharedRedis.Terminate(ctx)
		sharedRedis = nil
		sharedRedisAddr = ""
	}
}
