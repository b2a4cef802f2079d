package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trimet-twin/pipeline/internal/config"
)

func TestNewLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("Poller: tick dropped", "interval", "10s")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "Poller: tick dropped", entry["msg"])

	buf.Reset()
	newLogger(&buf, "", "").Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestPurgeTargets(t *testing.T) {
	cfg := &config.Config{ArchiveDir: "/a", WorkingDir: "/w", ProcessedDir: "/p"}

	got, err := purgeTargets(cfg, "working")
	require.NoError(t, err)
	assert.Equal(t, []purgeTarget{{"working", "/w"}}, got)

	got, err = purgeTargets(cfg, "all")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = purgeTargets(cfg, "everything")
	require.Error(t, err)
}

func TestCleanupInterval(t *testing.T) {
	assert.Equal(t, 15*time.Minute, cleanupInterval(time.Hour))
	assert.Equal(t, time.Minute, cleanupInterval(time.Minute))
}

func TestPurgeCommand(t *testing.T) {
	root := t.TempDir()
	archive := filepath.Join(root, "archive")
	working := filepath.Join(root, "working")
	require.NoError(t, os.MkdirAll(archive, 0o755))
	require.NoError(t, os.MkdirAll(working, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(archive, "vehicle_positions_1.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(working, "vehicle_positions_1.json"), []byte("{}"), 0o644))

	t.Setenv("TRIMET_CONFIG", "")
	t.Setenv("ARCHIVE_DIR", archive)
	t.Setenv("WORKING_DIR", working)
	t.Setenv("PROCESSED_DIR", filepath.Join(root, "processed"))

	rootCmd.SetArgs([]string{"purge", "archive"})
	require.NoError(t, Execute())

	entries, err := os.ReadDir(archive)
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = os.ReadDir(working)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "other folders untouched")
}

func TestPurgeCommand_RejectsUnknownFolder(t *testing.T) {
	rootCmd.SetArgs([]string{"purge", "tmp"})
	rootCmd.SetErr(&bytes.Buffer{})
	require.Error(t, Execute())
}
