package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	apperrors "wamux/internal/errors"
	"wamux/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "webhooks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New(context.Background(), "")
	assert.Error(t, err)

	_, err = New(context.Background(), "../escape.db")
	assert.Error(t, err)
}

func TestNew_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.db")
	ctx := context.Background()

	db, err := New(ctx, path)
	require.NoError(t, err)
	store := NewWebhookStore(db)
	require.NoError(t, store.Save(ctx, models.WebhookTable{
		"alice": {{URL: "http://hooks.test/a", Events: []string{"onQR"}}},
	}))
	require.NoError(t, db.Close())

	db, err = New(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	table, err := NewWebhookStore(db).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, table["alice"], 1)
}

func TestWebhookStore_SaveReplacesTableAndKeepsOrder(t *testing.T) {
	store := NewWebhookStore(setupTestDB(t))
	ctx := context.Background()

	empty, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first := models.WebhookTable{
		"alice": {
			{URL: "http://hooks.test/z", Events: []string{"onQR", "onConnected"}},
			{URL: "http://hooks.test/a", Events: []string{"onMessageReceived"}},
		},
		"bob": {{URL: "http://hooks.test/b", Events: []string{"onDisconnected"}}},
	}
	require.NoError(t, store.Save(ctx, first))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, loaded)

	second := models.WebhookTable{
		"alice": {{URL: "http://hooks.test/a", Events: []string{"onMessageSent"}}},
	}
	require.NoError(t, store.Save(ctx, second))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, loaded)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWebhookStore_ClosedDatabase(t *testing.T) {
	db := setupTestDB(t)
	store := NewWebhookStore(db)
	require.NoError(t, db.Close())

	_, err := store.Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDatabase))
}

func TestIsRetryableDBError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("disk I/O error"), true},
		{errors.New("UNIQUE constraint failed"), false},
		{errors.New("no such table: webhook_subscriptions"), false},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableDBError(tt.err), "%v", tt.err)
	}
}

func TestRetryableDBOperation_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := retryableDBOperation(context.Background(), func() error {
		calls++
		return errors.New("no such column: x")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
