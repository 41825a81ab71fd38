package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apresai/voiceover/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.OutputDir = filepath.Join(dir, "output")
	cfg.Store.Path = filepath.Join(dir, "output", "voiceover_history.db")
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewReadOnlyWithoutCredentials(t *testing.T) {
	cfg := testConfig(t)
	app, err := New(context.Background(), cfg, ModeReadOnly, quietLogger())
	require.NoError(t, err)
	defer app.Close()

	jobs, err := app.Jobs.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.DirExists(t, cfg.OutputDir)
}

func TestNewSynthesisRequiresAPIKey(t *testing.T) {
	cfg := testConfig(t)
	_, err := New(context.Background(), cfg, ModeSynthesis, quietLogger())
	assert.ErrorContains(t, err, "ELEVENLABS_API_KEY")

	cfg.ElevenLabs.APIKey = "sk_test"
	app, err := New(context.Background(), cfg, ModeSynthesis, quietLogger())
	require.NoError(t, err)
	assert.NoError(t, app.Close())
}
