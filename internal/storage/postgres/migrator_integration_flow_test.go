package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	status := func() MigrationState {
		t.Helper()
		state, err := store.MigrationStatus(ctx)
		require.NoError(t, err)
		return state
	}

	require.NoError(t, store.MigrateDown(ctx, 100))
	state := status()
	assert.Zero(t, state.Version)
	assert.Zero(t, state.Applied)
	assert.Equal(t, []string{"0001_init", "0002_idempotency_keys"}, state.Pending)

	require.NoError(t, store.MigrateUp(ctx, 1))
	state = status()
	assert.Equal(t, int64(1), state.Version)
	assert.Equal(t, []string{"0002_idempotency_keys"}, state.Pending)

	require.NoError(t, store.MigrateUp(ctx, 0))
	state = status()
	assert.Equal(t, int64(2), state.Version)
	assert.Equal(t, 2, state.Applied)
	assert.Empty(t, state.Pending)

	// Повторный up ничего не меняет.
	require.NoError(t, store.MigrateUp(ctx, 0))
	assert.Equal(t, 2, status().Applied)

	require.NoError(t, store.MigrateDown(ctx, 0))
	assert.Equal(t, int64(1), status().Version)

	require.NoError(t, store.MigrateDown(ctx, 1))
	assert.Zero(t, status().Applied)

	require.NoError(t, store.MigrateDown(ctx, 1), "down on empty schema is a no-op")

	require.NoError(t, store.MigrateUp(ctx, 0))
}

func TestMigrator_GuardsAndUnsupportedDirection(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.ErrorIs(t, nilStore.MigrateUp(ctx, 0), errStoreNotInitialized)
	assert.ErrorIs(t, nilStore.MigrateDown(ctx, 1), errStoreNotInitialized)
	_, err := nilStore.MigrationStatus(ctx)
	assert.ErrorIs(t, err, errStoreNotInitialized)

	store := openRawPostgresStoreForIntegrationTest(t)
	assert.Error(t, store.migrate(ctx, migrationDirection("sideways"), 0))
}
