package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/database"
)

// setupMode controls how much schema preparation MustOpenTestDB performs.
type setupMode int

const (
	setupNone setupMode = iota
	setupMigrate
	setupMigrateAndSeed
)

// TestDBOption selects the schema preparation applied to the test database.
type TestDBOption func(*setupMode)

// WithAutoMigrate migrates the full model set after opening.
func WithAutoMigrate() TestDBOption {
	return func(mode *setupMode) {
		if *mode < setupMigrate {
			*mode = setupMigrate
		}
	}
}

// WithSeedData migrates and additionally inserts the default role permission
// rules, matching what a fresh server boot produces.
func WithSeedData() TestDBOption {
	return func(mode *setupMode) {
		*mode = setupMigrateAndSeed
	}
}

// MustOpenTestDB opens an in-memory SQLite database for the test and closes
// it via t.Cleanup. Failures abort the test immediately.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	mode := setupNone
	for _, opt := range opts {
		opt(&mode)
	}

	db, err := database.Open(database.Config{Driver: "sqlite"})
	require.NoError(t, err)

	switch mode {
	case setupMigrateAndSeed:
		require.NoError(t, database.AutoMigrateAndSeed(db))
	case setupMigrate:
		require.NoError(t, database.AutoMigrate(db))
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
