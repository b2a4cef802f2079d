package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trimet-twin/pipeline/internal/feed"
	"github.com/trimet-twin/pipeline/internal/scheduler"
	"github.com/trimet-twin/pipeline/internal/snapshot"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the vehicles feed into snapshot files",
	Long: `Poll fetches the vehicles feed every interval and writes each response to
the archive and working folders, followed by a completion marker.

SIGINT/SIGTERM stop polling after the cycle in flight. SIGHUP reloads the
configuration and applies a changed interval or folders to future ticks.`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

func runPoll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if err := ensureDirs(cfg.ArchiveDir, cfg.WorkingDir); err != nil {
		return err
	}
	if cfg.AppID == "" {
		logger.Warn("Poller: TRIMET_APP_ID is empty, the feed will reject requests")
	}

	client := feed.NewClient(cfg)
	writer := snapshot.NewWriter(cfg.ArchiveDir, cfg.WorkingDir)
	poller := scheduler.NewPoller(client, writer, cfg.PollInterval, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	logger.Info("Poller: starting",
		"feed", cfg.FeedURL,
		"interval", cfg.PollInterval,
		"archive", cfg.ArchiveDir,
		"working", cfg.WorkingDir)

	if err := poller.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			poller.Stop()
			s := poller.Stats()
			logger.Info("Poller: shutdown complete",
				"ticks", s.Ticks,
				"written", s.Written,
				"dropped", s.Dropped,
				"failures", s.Failures,
				"mean_cycle", s.Cycle.Mean,
				"stddev_cycle", s.Cycle.StdDev)
			return nil

		case <-hup:
			reload(poller, writer, logger)
		}
	}
}

// reload re-reads the configuration and applies what can change at runtime.
// The feed client keeps its original settings.
func reload(poller *scheduler.Poller, writer *snapshot.Writer, logger *slog.Logger) {
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("Poller: reload failed, keeping current configuration", "error", err)
		return
	}
	if err := ensureDirs(cfg.ArchiveDir, cfg.WorkingDir); err != nil {
		logger.Error("Poller: reload failed, keeping current folders", "error", err)
	} else {
		writer.SetDirs(cfg.ArchiveDir, cfg.WorkingDir)
	}
	poller.SetInterval(cfg.PollInterval)
	logger.Info("Poller: configuration reloaded", "interval", poller.Interval())
}
