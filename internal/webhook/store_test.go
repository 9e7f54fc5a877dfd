package webhook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"wamux/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_LoadMissingFile(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "webhooks.json"))
	require.NoError(t, err)

	table, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestFileStore_SaveWritesSessionKeyedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "webhooks.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	table := models.WebhookTable{
		"alice": {{URL: "http://hooks.test/a", Events: []string{"onMessageReceived"}}},
	}
	require.NoError(t, store.Save(context.Background(), table))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"alice":[{"url":"http://hooks.test/a","events":["onMessageReceived"]}]}`, string(raw))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, table, loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFileStore_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	store, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = store.Load(context.Background())
	assert.Error(t, err)
}

// Two writers that each read the table before either writes will lose
// the first writer's change. The in-process Dispatcher mutex prevents this
// within one process; nothing prevents it across processes.
func TestFileStore_ConcurrentWritersLoseUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.json")
	ctx := context.Background()

	writerA, err := NewFileStore(path)
	require.NoError(t, err)
	writerB, err := NewFileStore(path)
	require.NoError(t, err)

	tableA, err := writerA.Load(ctx)
	require.NoError(t, err)
	tableB, err := writerB.Load(ctx)
	require.NoError(t, err)

	tableA["alice"] = []models.WebhookSubscription{{URL: "http://a.test/hook", Events: []string{"onQR"}}}
	require.NoError(t, writerA.Save(ctx, tableA))

	tableB["bob"] = []models.WebhookSubscription{{URL: "http://b.test/hook", Events: []string{"onQR"}}}
	require.NoError(t, writerB.Save(ctx, tableB))

	final, err := writerA.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, final, "bob")
	assert.NotContains(t, final, "alice", "first writer's registration is overwritten")
}
