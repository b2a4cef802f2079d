package db

import (
	"context"
	"fmt"
	"time"
)

// Cleanup deletes snapshot records older than retention. The most recent
// record is always kept since the current vehicles reference it.
func (db *DB) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention < time.Minute {
		retention = time.Minute
	}
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	result, err := db.conn.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE processed_at_utc < ?
		  AND record_id NOT IN (SELECT DISTINCT record_id FROM vehicle_current)
		  AND record_id != (SELECT record_id FROM snapshots ORDER BY processed_at_utc DESC LIMIT 1)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup snapshots: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		db.logger.Info("Cleanup: deleted old snapshot records", "count", deleted, "retention", retention)
	}
	return deleted, nil
}

// RunCleanup calls Cleanup every interval until ctx is cancelled
func (db *DB) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := db.Cleanup(ctx, retention); err != nil {
				db.logger.Warn("Cleanup: failed", "error", err)
			}
		}
	}
}
