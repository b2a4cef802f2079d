// Package snapshot persists feed payloads as snapshot files and names them.
//
// A snapshot is written as an archive copy, a working copy and finally a
// zero-byte completion marker next to the working copy. The marker is the
// only signal consumers act on.
package snapshot

import (
	"strings"
	"time"
)

const (
	// FilePrefix starts every snapshot file name
	FilePrefix = "vehicle_positions"
	// PayloadExt is the extension of snapshot payload files
	PayloadExt = ".json"
	// MarkerExt is the extension of completion markers
	MarkerExt = ".complete"

	idLayout = "_2006_01_02_15_04_05"
)

// NewID formats t as a snapshot identifier, e.g. "_2023_09_06_12_00_00".
// Two snapshots written within the same second share an identifier.
func NewID(t time.Time) string {
	return t.Format(idLayout)
}

// ParseID parses an identifier produced by NewID in the given location
func ParseID(id string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(idLayout, id, loc)
}

// PayloadName returns the payload file name for a snapshot identifier
func PayloadName(id string) string {
	return FilePrefix + id + PayloadExt
}

// MarkerName returns the completion marker file name for a snapshot identifier
func MarkerName(id string) string {
	return FilePrefix + id + MarkerExt
}

// IsMarker reports whether name looks like a completion marker
func IsMarker(name string) bool {
	return strings.HasSuffix(name, MarkerExt) && len(name) > len(MarkerExt)
}

// PayloadForMarker maps a marker file name to its payload file name
func PayloadForMarker(marker string) (string, bool) {
	if !IsMarker(marker) {
		return "", false
	}
	return strings.TrimSuffix(marker, MarkerExt) + PayloadExt, true
}

// MarkerForPayload maps a payload file name to its marker file name
func MarkerForPayload(payload string) (string, bool) {
	if !strings.HasSuffix(payload, PayloadExt) || len(payload) == len(PayloadExt) {
		return "", false
	}
	return strings.TrimSuffix(payload, PayloadExt) + MarkerExt, true
}
