package replay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trimet-twin/pipeline/internal/snapshot"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	mu    sync.Mutex
	names []string
	fail  map[string]bool
}

func (p *recordingPublisher) Publish(raw []byte, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[name] {
		return errors.New("disk full")
	}
	p.names = append(p.names, name)
	return nil
}

func seed(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte(`{"resultSet":{"vehicle":[]}}`), 0o644))
	}
	return dir
}

func TestFiles_SortedPayloadsOnly(t *testing.T) {
	src := seed(t, "vehicle_positions_b.json", "readme.txt", "vehicle_positions_a.json", "x.complete")
	require.NoError(t, os.Mkdir(filepath.Join(src, "sub.json"), 0o755))

	names, err := Files(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"vehicle_positions_a.json", "vehicle_positions_b.json"}, names)
}

func TestRun_PublishesInOrder(t *testing.T) {
	src := seed(t, "vehicle_positions_3.json", "vehicle_positions_1.json", "vehicle_positions_2.json")
	pub := &recordingPublisher{}

	res, err := Run(context.Background(), src, pub, time.Millisecond, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, Result{Published: 3, Total: 3}, res)
	assert.Equal(t, []string{"vehicle_positions_1.json", "vehicle_positions_2.json", "vehicle_positions_3.json"}, pub.names)
}

func TestRun_FailureSkipsFile(t *testing.T) {
	src := seed(t, "a.json", "b.json")
	pub := &recordingPublisher{fail: map[string]bool{"a.json": true}}

	res, err := Run(context.Background(), src, pub, 0, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{"b.json"}, pub.names)
}

func TestRun_CancelStopsBetweenFiles(t *testing.T) {
	src := seed(t, "a.json", "b.json", "c.json")
	pub := &recordingPublisher{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := Run(ctx, src, pub, time.Hour, quietLogger())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, res.Published)
	assert.Equal(t, []string{"a.json"}, pub.names)
}

func TestRun_MissingSource(t *testing.T) {
	_, err := Run(context.Background(), filepath.Join(t.TempDir(), "nope"), &recordingPublisher{}, 0, quietLogger())
	require.Error(t, err)
}

func TestRun_WithSnapshotWriterWritesMarkerAfterPayload(t *testing.T) {
	src := seed(t, "vehicle_positions_2023_09_06_12_00_00.json")
	working := t.TempDir()

	_, err := Run(context.Background(), src, snapshot.NewWriter(t.TempDir(), working), 0, quietLogger())
	require.NoError(t, err)

	for _, name := range []string{"vehicle_positions_2023_09_06_12_00_00.json", "vehicle_positions_2023_09_06_12_00_00.complete"} {
		_, err := os.Stat(filepath.Join(working, name))
		assert.NoError(t, err, name)
	}
}
