package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trimet-twin/pipeline/internal/snapshot"
)

type fetchFunc func(ctx context.Context) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context) ([]byte, error) { return f(ctx) }

// recordingWriter records writes and the maximum number of concurrent writes
type recordingWriter struct {
	mu            sync.Mutex
	ids           []string
	active        atomic.Int32
	maxConcurrent atomic.Int32
	delay         time.Duration
}

func (w *recordingWriter) Write(raw []byte, id string) error {
	n := w.active.Add(1)
	defer w.active.Add(-1)
	for {
		m := w.maxConcurrent.Load()
		if n <= m || w.maxConcurrent.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(w.delay)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids = append(w.ids, id)
	return nil
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ids)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okFetcher() Fetcher {
	return fetchFunc(func(ctx context.Context) ([]byte, error) {
		return []byte(`{"resultSet":{"vehicle":[]}}`), nil
	})
}

func TestPoller_FirstTickFiresImmediately(t *testing.T) {
	w := &recordingWriter{}
	p := NewPoller(okFetcher(), w, time.Hour, quietLogger())

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPoller_StateTransitions(t *testing.T) {
	p := NewPoller(okFetcher(), &recordingWriter{}, time.Hour, quietLogger())
	assert.Equal(t, Idle, p.State())

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, Running, p.State())
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyRunning)

	p.Stop()
	assert.Equal(t, Idle, p.State())
	p.Stop() // idempotent

	// restart after stop
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
}

func TestPoller_SlowCyclesDropTicksInsteadOfOverlapping(t *testing.T) {
	slow := fetchFunc(func(ctx context.Context) ([]byte, error) {
		time.Sleep(60 * time.Millisecond)
		return []byte(`{}`), nil
	})
	w := &recordingWriter{delay: 20 * time.Millisecond}
	p := NewPoller(slow, w, 10*time.Millisecond, quietLogger())

	require.NoError(t, p.Start(context.Background()))
	time.Sleep(400 * time.Millisecond)
	p.Stop()

	stats := p.Stats()
	assert.EqualValues(t, 1, w.maxConcurrent.Load(), "cycles overlapped")
	assert.Greater(t, stats.Dropped, int64(0))
	assert.Zero(t, stats.Failures)
	assert.EqualValues(t, w.count(), stats.Written)
	assert.EqualValues(t, stats.Ticks, stats.Written, "one write per real cycle")
}

func TestPoller_StopLetsInFlightCycleFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var fetchErr atomic.Value

	blocking := fetchFunc(func(ctx context.Context) ([]byte, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			fetchErr.Store(err)
		}
		return []byte(`{}`), nil
	})
	w := &recordingWriter{}
	p := NewPoller(blocking, w, time.Hour, quietLogger())

	require.NoError(t, p.Start(context.Background()))
	<-started

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}

	assert.Equal(t, 1, w.count(), "in-flight cycle must complete its write")
	assert.Nil(t, fetchErr.Load(), "in-flight cycle must not be cancelled")
}

func TestPoller_FailuresDoNotStopTheLoop(t *testing.T) {
	var calls atomic.Int32
	flaky := fetchFunc(func(ctx context.Context) ([]byte, error) {
		if calls.Add(1) <= 2 {
			return nil, errors.New("connection refused")
		}
		return []byte(`{}`), nil
	})
	w := &recordingWriter{}
	p := NewPoller(flaky, w, 10*time.Millisecond, quietLogger())

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, func() bool { return w.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, p.Stats().Failures, int64(2))
}

func TestPoller_SetIntervalAppliesToFutureTicks(t *testing.T) {
	w := &recordingWriter{}
	p := NewPoller(okFetcher(), w, time.Hour, quietLogger())

	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.Eventually(t, func() bool { return w.count() == 1 }, time.Second, 5*time.Millisecond)

	p.SetInterval(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, p.Interval())
	require.Eventually(t, func() bool { return w.count() >= 3 }, 2*time.Second, 5*time.Millisecond)

	p.SetInterval(0)
	assert.Equal(t, 10*time.Millisecond, p.Interval(), "non-positive interval is ignored")
}

func TestPoller_SetIntervalWhileIdle(t *testing.T) {
	p := NewPoller(okFetcher(), &recordingWriter{}, time.Hour, quietLogger())
	p.SetInterval(5 * time.Second)
	assert.Equal(t, 5*time.Second, p.Interval())
	assert.Equal(t, Idle, p.State())
}

func TestPoller_RunOnceWithRealWriter(t *testing.T) {
	archive, working := t.TempDir(), t.TempDir()
	w := snapshot.NewWriter(archive, working)
	p := NewPoller(okFetcher(), w, time.Hour, quietLogger())
	p.now = func() time.Time { return time.Date(2023, 9, 6, 12, 0, 0, 0, time.Local) }

	require.NoError(t, p.RunOnce(context.Background()))

	for _, path := range []string{
		filepath.Join(archive, "vehicle_positions_2023_09_06_12_00_00.json"),
		filepath.Join(working, "vehicle_positions_2023_09_06_12_00_00.json"),
		filepath.Join(working, "vehicle_positions_2023_09_06_12_00_00.complete"),
	} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}
}

func TestPoller_MalformedPayloadWritesNothing(t *testing.T) {
	archive, working := t.TempDir(), t.TempDir()
	bad := fetchFunc(func(ctx context.Context) ([]byte, error) {
		return []byte(`<html>maintenance</html>`), nil
	})
	p := NewPoller(bad, snapshot.NewWriter(archive, working), time.Hour, quietLogger())

	err := p.RunOnce(context.Background())
	var mpe *snapshot.MalformedPayloadError
	require.True(t, errors.As(err, &mpe))
	assert.EqualValues(t, 1, p.Stats().Failures)

	entries, err := os.ReadDir(working)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
