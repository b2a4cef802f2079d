// Package stops loads the stop reference table used to name vehicle stops.
package stops

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	idColumn   = 0
	nameColumn = 2
)

// Table maps stop ids to stop names. It is read-only once loaded and safe
// for concurrent use.
type Table struct {
	names   map[int]string
	skipped int
}

// Load reads a stops file from disk
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stops file: %w", err)
	}
	defer f.Close()

	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return t, nil
}

// Parse reads stop rows from r. The first column is the integer stop id and
// the third the stop name. A header row, rows with a non-numeric id and rows
// with fewer than three columns are skipped. When an id repeats, the first
// row wins.
func Parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	t := &Table{names: make(map[int]string)}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				t.skipped++
				continue
			}
			return nil, err
		}

		if len(record) <= nameColumn {
			t.skipped++
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(record[idColumn], "\ufeff")))
		if err != nil {
			t.skipped++
			continue
		}
		if _, dup := t.names[id]; dup {
			continue
		}
		t.names[id] = strings.TrimSpace(record[nameColumn])
	}
	return t, nil
}

// Name returns the name of a stop
func (t *Table) Name(id int) (string, bool) {
	if t == nil {
		return "", false
	}
	name, ok := t.names[id]
	return name, ok
}

// NameOf resolves a stop id given as text, as carried by vehicle records
func (t *Table) NameOf(id string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil {
		return "", false
	}
	return t.Name(n)
}

// Len returns the number of stops
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// Skipped returns the number of rows ignored while loading
func (t *Table) Skipped() int {
	if t == nil {
		return 0
	}
	return t.skipped
}
