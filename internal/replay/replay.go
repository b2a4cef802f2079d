// Package replay feeds previously captured snapshots into the working folder
// at a fixed pace, standing in for the live poller.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/trimet-twin/pipeline/internal/snapshot"
)

// Publisher places one payload into the working folder and marks it complete
type Publisher interface {
	Publish(raw []byte, payloadName string) error
}

// Result summarizes a replay run
type Result struct {
	Published int
	Failed    int
	Total     int
}

// Files returns the payload files in src in name order
func Files(src string) ([]string, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", src, err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != snapshot.PayloadExt {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Run publishes every payload in src, oldest name first, waiting interval
// between files. A file that cannot be published is logged and skipped.
// Cancelling ctx stops the run between files and returns ctx.Err().
func Run(ctx context.Context, src string, pub Publisher, interval time.Duration, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.Default()
	}

	names, err := Files(src)
	if err != nil {
		return Result{}, err
	}
	res := Result{Total: len(names)}
	logger.Info("Replay: starting", "source", src, "files", len(names), "interval", interval)

	for i, name := range names {
		if i > 0 && interval > 0 {
			if err := sleep(ctx, interval); err != nil {
				return res, err
			}
		} else if err := ctx.Err(); err != nil {
			return res, err
		}

		raw, err := os.ReadFile(filepath.Join(src, name))
		if err == nil {
			err = pub.Publish(raw, name)
		}
		if err != nil {
			res.Failed++
			logger.Warn("Replay: failed to publish snapshot", "file", name, "error", err)
			continue
		}
		res.Published++
		logger.Info("Replay: published snapshot", "file", name, "n", i+1, "of", len(names))
	}

	logger.Info("Replay: finished", "published", res.Published, "failed", res.Failed)
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
