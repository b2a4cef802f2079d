package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// FeedDocument is the parsed content of one vehicles snapshot
type FeedDocument struct {
	QueryTime string
	Vehicles  []Vehicle
	// Skipped counts vehicle array entries that were not JSON objects
	Skipped int
}

// QueryTimeAt returns the feed's own query time
func (d FeedDocument) QueryTimeAt() (time.Time, bool) {
	return parseEpochMillis(d.QueryTime)
}

// ParseFeed parses a {"resultSet":{"queryTime":..,"vehicle":[..]}} document.
// Only bytes that are not JSON are an error; any other document without a
// usable resultSet or vehicle array, top-level arrays and scalars included,
// yields zero vehicles.
func ParseFeed(data []byte) (FeedDocument, error) {
	var doc FeedDocument

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		if json.Valid(data) {
			return doc, nil
		}
		return doc, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	var resultSet map[string]json.RawMessage
	if err := json.Unmarshal(top["resultSet"], &resultSet); err != nil || resultSet == nil {
		return doc, nil
	}
	doc.QueryTime = scalarText(resultSet["queryTime"])

	var entries []json.RawMessage
	if err := json.Unmarshal(resultSet["vehicle"], &entries); err != nil {
		return doc, nil
	}

	doc.Vehicles = make([]Vehicle, 0, len(entries))
	for _, entry := range entries {
		if !bytes.HasPrefix(bytes.TrimSpace(entry), []byte("{")) {
			doc.Skipped++
			continue
		}
		var v Vehicle
		if err := json.Unmarshal(entry, &v); err != nil {
			doc.Skipped++
			continue
		}
		doc.Vehicles = append(doc.Vehicles, v)
	}
	return doc, nil
}
