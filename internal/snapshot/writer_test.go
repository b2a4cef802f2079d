package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{"resultSet":{"queryTime":"1694000000000","vehicle":[{"vehicleID":"101","latitude":"45.5","longitude":"-122.6","type":"bus"}]}}`

func newTestWriter(t *testing.T) (*Writer, string, string) {
	t.Helper()
	archive := filepath.Join(t.TempDir(), "archive")
	working := filepath.Join(t.TempDir(), "working")
	require.NoError(t, os.MkdirAll(archive, 0755))
	require.NoError(t, os.MkdirAll(working, 0755))
	return NewWriter(archive, working), archive, working
}

func TestNewID(t *testing.T) {
	ts := time.Date(2023, 9, 6, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "_2023_09_06_12_00_00", NewID(ts))
	assert.Equal(t, "vehicle_positions_2023_09_06_12_00_00.json", PayloadName(NewID(ts)))
	assert.Equal(t, "vehicle_positions_2023_09_06_12_00_00.complete", MarkerName(NewID(ts)))

	parsed, err := ParseID(NewID(ts), time.UTC)
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
}

func TestPayloadForMarker(t *testing.T) {
	tests := []struct {
		marker  string
		payload string
		ok      bool
	}{
		{"vehicle_positions_2023_09_06_12_00_00.complete", "vehicle_positions_2023_09_06_12_00_00.json", true},
		{"x.complete", "x.json", true},
		{".complete", "", false},
		{"vehicle_positions_2023_09_06_12_00_00.json", "", false},
		{"", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.marker, func(t *testing.T) {
			payload, ok := PayloadForMarker(tc.marker)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.payload, payload)
		})
	}

	marker, ok := MarkerForPayload("x.json")
	assert.True(t, ok)
	assert.Equal(t, "x.complete", marker)
}

func TestWrite_ProducesPayloadsAndMarker(t *testing.T) {
	w, archive, working := newTestWriter(t)
	id := "_2023_09_06_12_00_00"

	require.NoError(t, w.Write([]byte(samplePayload), id))

	archived, err := os.ReadFile(filepath.Join(archive, PayloadName(id)))
	require.NoError(t, err)
	work, err := os.ReadFile(filepath.Join(working, PayloadName(id)))
	require.NoError(t, err)
	assert.Equal(t, archived, work)
	assert.JSONEq(t, samplePayload, string(work))
	assert.Contains(t, string(work), "\n  \"resultSet\": {")

	info, err := os.Stat(filepath.Join(working, MarkerName(id)))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	// no marker in the archive, no temp files left behind
	_, err = os.Stat(filepath.Join(archive, MarkerName(id)))
	assert.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(working)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWrite_MalformedPayloadWritesNothing(t *testing.T) {
	w, archive, working := newTestWriter(t)

	err := w.Write([]byte(`{"resultSet":`), "_2023_09_06_12_00_00")

	var mpe *MalformedPayloadError
	require.True(t, errors.As(err, &mpe))

	for _, dir := range []string{archive, working} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, dir)
	}
}

func TestWrite_TrailingGarbageIsMalformed(t *testing.T) {
	w, _, _ := newTestWriter(t)
	err := w.Write([]byte(`{} {}`), "_x")

	var mpe *MalformedPayloadError
	assert.True(t, errors.As(err, &mpe))
}

func TestWrite_MissingWorkingDirIsStorageErrorWithoutMarker(t *testing.T) {
	archive := t.TempDir()
	working := filepath.Join(t.TempDir(), "does-not-exist")
	w := NewWriter(archive, working)
	id := "_2023_09_06_12_00_00"

	err := w.Write([]byte(samplePayload), id)

	var se *StorageError
	require.True(t, errors.As(err, &se))

	// archive step completed before the failure, nothing was cleaned up
	_, err = os.Stat(filepath.Join(archive, PayloadName(id)))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(working, MarkerName(id)))
	assert.True(t, os.IsNotExist(err))
}

func TestCanonicalize_PreservesNumbersAndSortsKeys(t *testing.T) {
	out, err := Canonicalize([]byte(`{"b":1694000000000123,"a":"R&D <x>"}`))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": \"R&D <x>\",\n  \"b\": 1694000000000123\n}\n", string(out))
}

func TestSetDirs(t *testing.T) {
	w, _, _ := newTestWriter(t)
	archive, working := t.TempDir(), t.TempDir()
	w.SetDirs(archive, working)

	require.NoError(t, w.Write([]byte(`{}`), "_id"))
	_, err := os.Stat(filepath.Join(archive, PayloadName("_id")))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(working, MarkerName("_id")))
	assert.NoError(t, err)
}

func TestPurgeDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.complete"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	n, err := PurgeDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sub", entries[0].Name())

	n, err = PurgeDir(filepath.Join(dir, "missing"))
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublish_WritesWorkingPayloadThenMarker(t *testing.T) {
	archive, working := t.TempDir(), t.TempDir()
	w := NewWriter(archive, working)

	raw := []byte(`{"resultSet":{"vehicle":[]}}`)
	require.NoError(t, w.Publish(raw, "vehicle_positions_2023_09_06_12_00_00.json"))

	got, err := os.ReadFile(filepath.Join(working, "vehicle_positions_2023_09_06_12_00_00.json"))
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	_, err = os.Stat(filepath.Join(working, "vehicle_positions_2023_09_06_12_00_00.complete"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(archive)
	require.NoError(t, err)
	assert.Empty(t, entries, "archive is not touched")
}

func TestPublish_Rejects(t *testing.T) {
	working := t.TempDir()
	w := NewWriter(t.TempDir(), working)

	require.Error(t, w.Publish([]byte(`{}`), "notes.txt"))

	err := w.Publish([]byte(`{broken`), "vehicle_positions_x.json")
	var mpe *MalformedPayloadError
	require.ErrorAs(t, err, &mpe)

	entries, err := os.ReadDir(working)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
