package cli

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trimet-twin/pipeline/internal/replay"
	"github.com/trimet-twin/pipeline/internal/snapshot"
)

var (
	replaySource   string
	replayInterval time.Duration
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Feed captured snapshots into the working folder",
	Long: `Replay copies previously captured snapshot payloads into the working
folder one at a time, oldest first, each followed by its completion marker.
It stands in for poll when the live feed is unavailable.`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replaySource, "source", "", "Folder of captured payloads (default REPLAY_SOURCE_DIR)")
	replayCmd.Flags().DurationVar(&replayInterval, "interval", 0, "Pause between files, e.g. 10s (default REPLAY_INTERVAL)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	src := cfg.ReplaySourceDir
	if replaySource != "" {
		src = replaySource
	}
	interval := cfg.ReplayInterval
	if replayInterval > 0 {
		interval = replayInterval
	}

	if err := ensureDirs(cfg.WorkingDir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer := snapshot.NewWriter(cfg.ArchiveDir, cfg.WorkingDir)
	_, err = replay.Run(ctx, src, writer, interval, logger)
	if err != nil && !isShutdown(err) {
		return err
	}
	return nil
}
