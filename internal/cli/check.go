package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/trimet-twin/pipeline/internal/feed"
	"github.com/trimet-twin/pipeline/internal/models"
	"github.com/trimet-twin/pipeline/internal/snapshot"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Fetch the feed once to verify connectivity",
	Long: `Check performs a single request against the vehicles feed with the
configured credentials and reports what came back. Nothing is written.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := feed.NewClient(cfg)
	ctx, cancel := context.WithTimeout(cmd.Context(), client.Timeout()+time.Second)
	defer cancel()

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	fmt.Printf("Checking %s\n", cfg.FeedURL)

	start := time.Now()
	body, err := client.Fetch(ctx)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		red.Printf("  unreachable: %v\n", err)
		return fmt.Errorf("feed check failed")
	}
	green.Printf("  reachable (%d bytes in %s)\n", len(body), elapsed)

	if _, err := snapshot.Canonicalize(body); err != nil {
		red.Printf("  payload is not valid JSON: %v\n", err)
		return fmt.Errorf("feed check failed")
	}

	doc, err := models.ParseFeed(body)
	if err != nil {
		red.Printf("  payload could not be parsed: %v\n", err)
		return fmt.Errorf("feed check failed")
	}

	if qt, ok := doc.QueryTimeAt(); ok {
		fmt.Printf("  query time: %s\n", qt.Local().Format(time.RFC3339))
	}
	if len(doc.Vehicles) == 0 {
		yellow.Println("  no vehicles in feed")
	} else {
		fmt.Printf("  vehicles: %d\n", len(doc.Vehicles))
	}
	if doc.Skipped > 0 {
		yellow.Printf("  skipped entries: %d\n", doc.Skipped)
	}
	return nil
}
