package sql

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"bigapi/backend/internal/config"
	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"
	"bigapi/backend/internal/storage/storagetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(config.DatabaseConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "bigapi.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newSQLiteStore(t)
	})
}

func TestSQLiteStore_MigrateIsIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	require.NoError(t, store.migrate(context.Background()))
}

func TestSQLiteStore_EmptyProviders(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	event := &domain.UsageEvent{ID: "evt-1", AccountID: "acct-1", Timestamp: time.Now().UTC()}
	require.NoError(t, store.AppendUsageEvent(ctx, event))

	events, err := store.RecentUsage(ctx, "acct-1", domain.Window{}, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotNil(t, events[0].ProvidersUsed)
	assert.Empty(t, events[0].ProvidersUsed)
}

func TestNewStore_UnsupportedDriver(t *testing.T) {
	_, err := NewStore(config.DatabaseConfig{Type: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestDialect_Rebind(t *testing.T) {
	pg, err := lookupDialect("pgx")
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	my, err := lookupDialect("mysql")
	require.NoError(t, err)
	assert.Equal(t, "a = ?", my.rebind("a = ?"))

	pq, err := lookupDialect("lib-pq")
	require.NoError(t, err)
	assert.Equal(t, "postgres", pq.driver)
	assert.Equal(t, "$3", pq.placeholder(3))
}
