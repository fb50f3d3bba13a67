// Package dbtest provides a migrated postgres database for package tests.
package dbtest

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	appdb "github.com/fatflowers/saasbill/internal/platform/db"
)

// EnvDSN points tests at an existing database instead of a container.
const EnvDSN = "APP_TEST_DATABASE_DSN"

const image = "postgres:16-alpine"

var (
	startOnce sync.Once
	sharedDSN string
	startErr  error
)

// Open returns a migrated gorm handle. It uses EnvDSN when set, otherwise a
// postgres container started once per test binary. Tests are skipped when
// neither is available. Rows are shared between tests of a package, so tests
// must use unique ids.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		dsn = containerDSN(t)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Discard, TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(appdb.AllModels...))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// containerDSN starts the shared container on first use. The container is
// reaped by testcontainers when the test binary exits.
func containerDSN(t *testing.T) string {
	t.Helper()
	startOnce.Do(func() {
		ctx := context.Background()
		ctr, err := tcpostgres.Run(ctx, image,
			tcpostgres.WithDatabase("testdb"),
			tcpostgres.WithUsername("testuser"),
			tcpostgres.WithPassword("testpass"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			startErr = err
			return
		}
		sharedDSN, startErr = ctr.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, startErr, "failed to start postgres container")
	return sharedDSN
}
