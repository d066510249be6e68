package sqlstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mcpresso/mcpresso-oauth/internal/testutil"
	"github.com/mcpresso/mcpresso-oauth/storage"
	"github.com/mcpresso/mcpresso-oauth/storage/storagetest"
)

func newSQLiteStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestConformance_SQLite(t *testing.T) {
	storagetest.TestStore(t, func(t *testing.T) storage.Store {
		return newSQLiteStore(t)
	})
}

// TestConformance_Postgres runs against SQLSTORE_TEST_POSTGRES_DSN when set.
func TestConformance_Postgres(t *testing.T) {
	dsn := os.Getenv("SQLSTORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SQLSTORE_TEST_POSTGRES_DSN not set")
	}

	storagetest.TestStore(t, func(t *testing.T) storage.Store {
		store, err := Open(DriverPostgres, dsn, nil)
		require.NoError(t, err)
		t.Cleanup(func() {
			for _, m := range allModels() {
				store.DB().Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m)
			}
			_ = store.Close()
		})
		for _, m := range allModels() {
			require.NoError(t, store.DB().Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error)
		}
		return store
	})
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestStore_JSONColumnsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	user := testutil.NewUser("u1")
	user.Profile = map[string]string{"name": "Alice", "locale": "en-GB"}
	require.NoError(t, store.CreateUser(ctx, user))

	got, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, user.Scopes, got.Scopes)
	assert.Equal(t, user.Profile, got.Profile)
}

func TestStore_CleanupUsesUTC(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)

	// A non-UTC "now" must compare against stored UTC timestamps correctly.
	loc := time.FixedZone("UTC+10", 10*60*60)
	now := time.Now().In(loc)

	require.NoError(t, store.CreateAccessToken(ctx, &storage.AccessToken{
		Token:     "at-live",
		ClientID:  "c1",
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Minute),
	}))
	require.NoError(t, store.CreateAccessToken(ctx, &storage.AccessToken{
		Token:     "at-dead",
		ClientID:  "c1",
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(-30 * time.Minute),
	}))

	n, err := store.CleanupExpiredAccessTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.GetAccessToken(ctx, "at-live")
	assert.NoError(t, err)
}

func TestStore_OperationMetrics(t *testing.T) {
	ctx := context.Background()
	reader := testutil.NewMetricReader(t)
	store := newSQLiteStore(t)
	store.SetInstrumentation(reader.Instrumentation(t))

	require.NoError(t, store.CreateClient(ctx, testutil.NewPublicClient("c1")))
	_, err := store.GetClient(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, int64(2), reader.Sum(t, "storage.operation.total"))
}
