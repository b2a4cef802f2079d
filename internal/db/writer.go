package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trimet-twin/pipeline/internal/fleet"
	"github.com/trimet-twin/pipeline/internal/models"
)

// timeLayout is fixed width so stored timestamps sort as text
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SnapshotRecord describes one processed snapshot
type SnapshotRecord struct {
	RecordID     string
	SnapshotID   string
	QueryTime    string
	VehicleCount int
	ProcessedAt  time.Time
}

// StoreCollection records a processed snapshot and replaces the mirrored
// vehicle list with c's vehicles in a single transaction.
func (db *DB) StoreCollection(ctx context.Context, c fleet.Collection) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	processedAt := c.ReplacedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	recordID := uuid.New().String()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshots (record_id, snapshot_id, query_time, vehicle_count, processed_at_utc) VALUES (?, ?, ?, ?, ?)",
		recordID, c.SnapshotID, c.QueryTime, len(c.Vehicles), processedAt.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM vehicle_current"); err != nil {
		return fmt.Errorf("failed to clear current vehicles: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vehicle_current (
			position, record_id, vehicle_id, vehicle_type,
			route_number, trip_id, block_id, latitude, longitude, bearing,
			next_loc_id, last_loc_id, delay_seconds, off_route, in_congestion,
			observed_at_utc, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare vehicle statement: %w", err)
	}
	defer stmt.Close()

	for i, v := range c.Vehicles {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode vehicle %s: %w", v.VehicleID, err)
		}

		var observedAt *string
		if t, ok := v.ObservedAt(); ok {
			s := t.Format(time.RFC3339)
			observedAt = &s
		}

		_, err = stmt.ExecContext(ctx,
			i, recordID, v.VehicleID, v.Type,
			v.RouteNumber, v.TripID, v.BlockID,
			optFloat(v.Lat()), optFloat(v.Lon()), optFloat(v.BearingDegrees()),
			optInt(v.NextStopID()), optInt(v.LastStopID()), optInt(v.DelaySeconds()),
			v.IsOffRoute(), v.IsInCongestion(),
			observedAt, string(raw),
		)
		if err != nil {
			return fmt.Errorf("failed to insert vehicle %d (%s): %w", i, v.VehicleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recently processed snapshot record
func (db *DB) LatestSnapshot(ctx context.Context) (SnapshotRecord, bool, error) {
	var rec SnapshotRecord
	var queryTime *string
	var processedAt string

	err := db.conn.QueryRowContext(ctx, `
		SELECT record_id, snapshot_id, query_time, vehicle_count, processed_at_utc
		FROM snapshots
		ORDER BY processed_at_utc DESC
		LIMIT 1
	`).Scan(&rec.RecordID, &rec.SnapshotID, &queryTime, &rec.VehicleCount, &processedAt)
	if err == sql.ErrNoRows {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("failed to query latest snapshot: %w", err)
	}

	if queryTime != nil {
		rec.QueryTime = *queryTime
	}
	rec.ProcessedAt, _ = time.Parse(timeLayout, processedAt)
	return rec, true, nil
}

// CurrentVehicles returns the mirrored vehicle list in feed order
func (db *DB) CurrentVehicles(ctx context.Context) ([]models.Vehicle, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT raw_json FROM vehicle_current ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to query vehicles: %w", err)
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan vehicle: %w", err)
		}
		var v models.Vehicle
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("failed to decode vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// LoadCollection rebuilds the last mirrored collection, e.g. to seed the
// shared list on startup. ok is false when nothing was mirrored yet.
func (db *DB) LoadCollection(ctx context.Context) (fleet.Collection, bool, error) {
	rec, ok, err := db.LatestSnapshot(ctx)
	if err != nil || !ok {
		return fleet.Collection{}, false, err
	}
	vehicles, err := db.CurrentVehicles(ctx)
	if err != nil {
		return fleet.Collection{}, false, err
	}
	return fleet.Collection{
		SnapshotID: rec.SnapshotID,
		QueryTime:  rec.QueryTime,
		Vehicles:   vehicles,
		ReplacedAt: rec.ProcessedAt,
	}, true, nil
}

func optFloat(f float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &f
}

func optInt(i int, ok bool) *int {
	if !ok {
		return nil
	}
	return &i
}
