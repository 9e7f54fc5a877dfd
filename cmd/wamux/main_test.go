package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"wamux/internal/credentials"
	"wamux/internal/models"
	"wamux/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "wamux dev")
}

func TestListCredentials(t *testing.T) {
	cfg := models.CredentialsConfig{Dir: t.TempDir()}
	store, err := credentials.NewStore(cfg)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, listCredentials(&out, cfg))
	assert.Equal(t, "No stored sessions\n", out.String())

	require.NoError(t, store.Save("alice", types.Credentials{"creds.json": []byte("{}")}))
	require.NoError(t, store.Save("bob", types.Credentials{}))

	out.Reset()
	require.NoError(t, listCredentials(&out, cfg))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "alice\tstored\t"))
	assert.True(t, strings.HasPrefix(lines[1], "bob\tempty\t"))
}

func TestApplyLogLevel(t *testing.T) {
	logger := logrus.New()

	applyLogLevel(logger, "warn", false)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	applyLogLevel(logger, "nonsense", false)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())

	applyLogLevel(logger, "error", true)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestOpenWebhookStore(t *testing.T) {
	dir := t.TempDir()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	store, closeFn, err := openWebhookStore(t.Context(), models.WebhooksConfig{
		Store:    "file",
		FilePath: filepath.Join(dir, "webhooks.json"),
	}, logger)
	require.NoError(t, err)
	closeFn()
	table, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Empty(t, table)

	store, closeFn, err = openWebhookStore(t.Context(), models.WebhooksConfig{
		Store:  "sqlite",
		DBPath: filepath.Join(dir, "webhooks.db"),
	}, logger)
	require.NoError(t, err)
	defer closeFn()
	require.NoError(t, store.Save(t.Context(), models.WebhookTable{
		"alice": {{URL: "https://hooks.example.com/a", Events: []string{"onQR"}}},
	}))
	table, err = store.Load(t.Context())
	require.NoError(t, err)
	assert.Len(t, table["alice"], 1)
}
