package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/trimet-twin/pipeline/internal/config"
	"github.com/trimet-twin/pipeline/internal/snapshot"
)

var purgeCmd = &cobra.Command{
	Use:   "purge <archive|working|processed|all>",
	Short: "Delete snapshot files from a folder",
	Long: `Purge removes every file directly inside the archive, working or processed
folder. Sub-folders are left alone.`,
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"archive", "working", "processed", "all"},
	RunE:      runPurge,
}

func runPurge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	targets, err := purgeTargets(cfg, args[0])
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	for _, t := range targets {
		n, err := snapshot.PurgeDir(t.dir)
		if err != nil {
			return err
		}
		green.Printf("Purged %d file(s) from %s folder %s\n", n, t.name, t.dir)
	}
	return nil
}

type purgeTarget struct {
	name string
	dir  string
}

func purgeTargets(cfg *config.Config, which string) ([]purgeTarget, error) {
	all := []purgeTarget{
		{"archive", cfg.ArchiveDir},
		{"working", cfg.WorkingDir},
		{"processed", cfg.ProcessedDir},
	}
	if which == "all" {
		return all, nil
	}
	for _, t := range all {
		if t.name == which {
			return []purgeTarget{t}, nil
		}
	}
	return nil, fmt.Errorf("unknown folder %q", which)
}
