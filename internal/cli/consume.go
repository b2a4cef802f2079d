package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/trimet-twin/pipeline/internal/api"
	"github.com/trimet-twin/pipeline/internal/db"
	"github.com/trimet-twin/pipeline/internal/fleet"
	"github.com/trimet-twin/pipeline/internal/processor"
	"github.com/trimet-twin/pipeline/internal/stops"
	"github.com/trimet-twin/pipeline/internal/watcher"
)

var noAPI bool

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume completed snapshots into the live vehicle list",
	Long: `Consume watches the working folder for completion markers. Each marker's
snapshot is parsed into the shared vehicle list and moved to the processed
folder. The list is served over HTTP and, when a database path is set,
mirrored into SQLite.

SIGINT/SIGTERM stop watching; snapshots already queued are still processed.`,
	Args: cobra.NoArgs,
	RunE: runConsume,
}

func init() {
	consumeCmd.Flags().BoolVar(&noAPI, "no-api", false, "Do not start the HTTP API")
}

func runConsume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if err := ensureDirs(cfg.WorkingDir, cfg.ProcessedDir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	list := fleet.NewList()

	// Stop names are a convenience; run without them if the file is absent
	var table *stops.Table
	if cfg.StopsFile != "" {
		table, err = stops.Load(cfg.StopsFile)
		if err != nil {
			logger.Warn("Consumer: stop names unavailable", "error", err)
		} else {
			logger.Info("Consumer: stops loaded", "count", table.Len(), "skipped_rows", table.Skipped())
		}
	}

	proc := processor.New(cfg.WorkingDir, cfg.ProcessedDir, list, logger)

	var mirror *db.DB
	if cfg.DatabasePath != "" {
		mirror, err = db.Connect(cfg.DatabasePath, logger)
		if err != nil {
			return err
		}
		defer mirror.Close()

		if err := mirror.EnsureSchema(ctx); err != nil {
			return err
		}
		if c, ok, err := mirror.LoadCollection(ctx); err != nil {
			logger.Warn("Consumer: failed to restore vehicle list", "error", err)
		} else if ok {
			list.Replace(c)
			logger.Info("Consumer: restored vehicle list", "snapshot", c.SnapshotID, "vehicles", c.Len())
		}
		proc.SetMirror(mirror)
	}

	w, err := watcher.New(cfg.WorkingDir, watcher.Options{ScanOnStart: cfg.ScanOnStart}, logger)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", cfg.WorkingDir, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return w.Run(gctx, proc.OnNotify)
	})

	if !noAPI {
		opts := api.Options{
			StaleAfter: 3 * cfg.PollInterval,
			Logger:     logger,
		}
		if table != nil {
			opts.Stops = table
		}
		if mirror != nil {
			opts.DB = mirror
		}
		router := api.NewRouter(api.NewHandler(list, opts), cfg.CORSOrigins)
		g.Go(func() error {
			return api.Serve(gctx, cfg.ListenAddr, router, logger)
		})
	}

	if mirror != nil {
		g.Go(func() error {
			mirror.RunCleanup(gctx, cleanupInterval(cfg.RetentionDuration), cfg.RetentionDuration)
			return nil
		})
	}

	err = g.Wait()
	s := proc.Stats()
	logger.Info("Consumer: shutdown complete",
		"processed", s.Processed,
		"missing", s.Missing,
		"conflicts", s.Conflicts,
		"failed", s.Failed,
		"duplicates", s.Duplicates,
		"mean_duration", s.Duration.Mean)
	if err != nil && !isShutdown(err) {
		return err
	}
	return nil
}

// cleanupInterval runs cleanup a few times per retention window
func cleanupInterval(retention time.Duration) time.Duration {
	d := retention / 4
	if d < time.Minute {
		d = time.Minute
	}
	return d
}
