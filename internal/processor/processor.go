// Package processor consumes completed snapshots from the working folder.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trimet-twin/pipeline/internal/fleet"
	"github.com/trimet-twin/pipeline/internal/metrics"
	"github.com/trimet-twin/pipeline/internal/models"
	"github.com/trimet-twin/pipeline/internal/snapshot"
)

// MissingPayloadError is returned when a marker has no payload next to it
type MissingPayloadError struct {
	Marker  string
	Payload string
}

func (e *MissingPayloadError) Error() string {
	return fmt.Sprintf("payload %s missing for marker %s", e.Payload, e.Marker)
}

// ConflictError is returned when the processed folder already holds a file
// with the payload's name. The payload is left in the working folder.
type ConflictError struct {
	Src string
	Dst string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("refusing to overwrite %s with %s", e.Dst, e.Src)
}

var errDuplicate = errors.New("duplicate notification")

// Mirror receives every collection published to the shared list
type Mirror interface {
	StoreCollection(ctx context.Context, c fleet.Collection) error
}

// Stats counts notification outcomes
type Stats struct {
	Processed  int64
	Missing    int64
	Conflicts  int64
	Failed     int64
	Duplicates int64
	Duration   metrics.Summary
}

// Processor handles completion markers: it loads the matching payload,
// publishes its vehicles to the shared list and relocates the payload to the
// processed folder. Notifications for the same snapshot are serialized.
type Processor struct {
	workingDir   string
	processedDir string
	list         *fleet.List
	mirror       Mirror
	logger       *slog.Logger

	locks keyedMutex

	processed, missing, conflicts, failed, duplicates atomic.Int64
	duration                                          metrics.DurationStats
}

// New creates a Processor publishing to list
func New(workingDir, processedDir string, list *fleet.List, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		workingDir:   workingDir,
		processedDir: processedDir,
		list:         list,
		logger:       logger,
		locks:        keyedMutex{locks: make(map[string]*refLock)},
	}
}

// SetMirror attaches an optional sink updated after every replace.
// Call before the first notification.
func (p *Processor) SetMirror(m Mirror) {
	p.mirror = m
}

// List returns the shared list the processor publishes to
func (p *Processor) List() *fleet.List {
	return p.list
}

// Stats returns the outcome counters
func (p *Processor) Stats() Stats {
	return Stats{
		Processed:  p.processed.Load(),
		Missing:    p.missing.Load(),
		Conflicts:  p.conflicts.Load(),
		Failed:     p.failed.Load(),
		Duplicates: p.duplicates.Load(),
		Duration:   p.duration.Summary(),
	}
}

// OnNotify processes one completion marker. marker may be a base name or a
// path; only its base name is used and it is resolved in the working folder.
//
// A marker that is already gone is not an error, and a notification whose
// marker and payload were both consumed earlier is ignored, so duplicate
// notifications are harmless. A marker without a payload yields
// *MissingPayloadError and leaves the shared list untouched. A payload
// without a usable vehicle array publishes an empty collection.
func (p *Processor) OnNotify(ctx context.Context, marker string) error {
	start := time.Now()
	defer func() { p.duration.Observe(time.Since(start)) }()

	markerName := filepath.Base(marker)
	payloadName, ok := snapshot.PayloadForMarker(markerName)
	if !ok {
		p.failed.Add(1)
		return fmt.Errorf("not a completion marker: %q", markerName)
	}

	unlock := p.locks.Lock(payloadName)
	defer unlock()

	err := p.process(ctx, markerName, payloadName)
	if err == errDuplicate {
		return nil
	}
	p.record(err)
	return err
}

func (p *Processor) process(ctx context.Context, markerName, payloadName string) error {
	markerPath := filepath.Join(p.workingDir, markerName)
	payloadPath := filepath.Join(p.workingDir, payloadName)

	markerGone := false
	if err := os.Remove(markerPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return &snapshot.StorageError{Op: "remove marker", Path: markerPath, Err: err}
		}
		markerGone = true
	}

	data, err := os.ReadFile(payloadPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if markerGone {
				// marker and payload already handled by an earlier notification
				p.duplicates.Add(1)
				p.logger.Debug("Processor: duplicate notification ignored", "marker", markerName)
				return errDuplicate
			}
			return &MissingPayloadError{Marker: markerName, Payload: payloadName}
		}
		return &snapshot.StorageError{Op: "read payload", Path: payloadPath, Err: err}
	}

	doc, parseErr := models.ParseFeed(data)
	if parseErr == nil {
		c := fleet.Collection{
			SnapshotID: snapshotID(payloadName),
			QueryTime:  doc.QueryTime,
			Vehicles:   doc.Vehicles,
			ReplacedAt: time.Now().UTC(),
		}
		p.list.Replace(c)

		if doc.Skipped > 0 {
			p.logger.Warn("Processor: skipped non-object vehicle entries", "snapshot", payloadName, "skipped", doc.Skipped)
		}
		p.logger.Info("Processor: vehicle list replaced", "snapshot", payloadName, "vehicles", len(doc.Vehicles))

		if p.mirror != nil {
			if err := p.mirror.StoreCollection(ctx, c); err != nil {
				p.logger.Error("Processor: mirror update failed", "snapshot", payloadName, "error", err)
			}
		}
	}

	// An unreadable document still leaves the working folder
	if err := moveNoReplace(payloadPath, filepath.Join(p.processedDir, payloadName)); err != nil {
		return err
	}

	if parseErr != nil {
		return fmt.Errorf("failed to parse payload %s: %w", payloadName, parseErr)
	}
	return nil
}

func (p *Processor) record(err error) {
	var missing *MissingPayloadError
	var conflict *ConflictError
	switch {
	case err == nil:
		p.processed.Add(1)
	case errors.As(err, &missing):
		p.missing.Add(1)
	case errors.As(err, &conflict):
		p.conflicts.Add(1)
	default:
		p.failed.Add(1)
	}
}

// snapshotID strips prefix and extension from a payload name
func snapshotID(payloadName string) string {
	return strings.TrimSuffix(strings.TrimPrefix(payloadName, snapshot.FilePrefix), snapshot.PayloadExt)
}

// moveNoReplace moves src to dst, failing with *ConflictError if dst exists.
// A hard link gives an atomic no-clobber rename on one filesystem; across
// filesystems the file is copied into an exclusively created destination.
func moveNoReplace(src, dst string) error {
	err := os.Link(src, dst)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrExist):
		return &ConflictError{Src: src, Dst: dst}
	default:
		if err := copyExclusive(src, dst); err != nil {
			return err
		}
	}

	if err := os.Remove(src); err != nil {
		return &snapshot.StorageError{Op: "remove moved payload", Path: src, Err: err}
	}
	return nil
}

func copyExclusive(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &snapshot.StorageError{Op: "open payload", Path: src, Err: err}
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &ConflictError{Src: src, Dst: dst}
		}
		return &snapshot.StorageError{Op: "create processed payload", Path: dst, Err: err}
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return &snapshot.StorageError{Op: "copy payload", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return &snapshot.StorageError{Op: "close processed payload", Path: dst, Err: err}
	}
	return nil
}

// keyedMutex hands out one mutex per key and forgets it when unused
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
