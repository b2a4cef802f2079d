package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// MalformedPayloadError is returned when the feed body is not valid JSON.
// Nothing is written to disk in that case.
type MalformedPayloadError struct {
	Err error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed feed payload: %v", e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// StorageError is returned when a snapshot file cannot be written, moved or removed
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Writer writes snapshots to the archive and working folders.
// Folder paths may be changed between writes.
type Writer struct {
	mu         sync.RWMutex
	archiveDir string
	workingDir string
}

// NewWriter creates a snapshot writer
func NewWriter(archiveDir, workingDir string) *Writer {
	return &Writer{archiveDir: archiveDir, workingDir: workingDir}
}

// SetDirs changes the destination folders for subsequent writes
func (w *Writer) SetDirs(archiveDir, workingDir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.archiveDir = archiveDir
	w.workingDir = workingDir
}

// Dirs returns the current archive and working folders
func (w *Writer) Dirs() (archiveDir, workingDir string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.archiveDir, w.workingDir
}

// Write canonicalizes raw and writes, in this order: the archive payload,
// the working payload, then the working completion marker. A step only runs
// once the previous one has completed. No cleanup is attempted on failure;
// a payload without a marker is ignored by consumers.
func (w *Writer) Write(raw []byte, id string) error {
	canonical, err := Canonicalize(raw)
	if err != nil {
		return err
	}

	archiveDir, workingDir := w.Dirs()
	payload := PayloadName(id)

	if err := writeFileAtomic(archiveDir, payload, canonical); err != nil {
		return err
	}
	if err := writeFileAtomic(workingDir, payload, canonical); err != nil {
		return err
	}

	markerPath := filepath.Join(workingDir, MarkerName(id))
	if err := os.WriteFile(markerPath, nil, 0644); err != nil {
		return &StorageError{Op: "write marker", Path: markerPath, Err: err}
	}
	return nil
}

// Publish places an existing payload file name into the working folder and
// marks it complete, skipping the archive. It serves replays of previously
// captured snapshots. raw must be valid JSON.
func (w *Writer) Publish(raw []byte, payloadName string) error {
	marker, ok := MarkerForPayload(payloadName)
	if !ok {
		return fmt.Errorf("not a payload file name: %q", payloadName)
	}
	if !json.Valid(raw) {
		return &MalformedPayloadError{Err: fmt.Errorf("%s is not valid JSON", payloadName)}
	}

	_, workingDir := w.Dirs()
	if err := writeFileAtomic(workingDir, payloadName, raw); err != nil {
		return err
	}

	markerPath := filepath.Join(workingDir, marker)
	if err := os.WriteFile(markerPath, nil, 0644); err != nil {
		return &StorageError{Op: "write marker", Path: markerPath, Err: err}
	}
	return nil
}

// Canonicalize re-serializes a JSON document with stable two-space indentation
// and sorted object keys. Numbers keep their original text.
func Canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &MalformedPayloadError{Err: err}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &MalformedPayloadError{Err: fmt.Errorf("unexpected data after top-level value")}
	}

	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, &MalformedPayloadError{Err: err}
	}
	return out.Bytes(), nil
}

// writeFileAtomic writes data to dir/name through a temp file and a rename,
// so the destination either holds the full payload or does not exist.
func writeFileAtomic(dir, name string, data []byte) error {
	dest := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return &StorageError{Op: "create temp file for", Path: dest, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &StorageError{Op: "write", Path: dest, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &StorageError{Op: "sync", Path: dest, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &StorageError{Op: "close", Path: dest, Err: err}
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return &StorageError{Op: "chmod", Path: dest, Err: err}
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return &StorageError{Op: "rename", Path: dest, Err: err}
	}
	return nil
}

// PurgeDir removes every regular file directly inside dir and returns how
// many were removed. A missing folder is not an error.
func PurgeDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, &StorageError{Op: "list", Path: dir, Err: err}
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, &StorageError{Op: "remove", Path: path, Err: err}
		}
		removed++
	}
	return removed, nil
}
