package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/triage/internal/pipeline"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete raw events past the retention period",
	Long: `Delete raw log events older than the retention period in batches.
Fingerprints, findings and the issue ledger are never deleted.

The run loop does this periodically when RETENTION_ENABLED is true.

Examples:
  triage cleanup                  # Use RETENTION_DAYS (default 14)
  triage cleanup --retention-days 3`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		retention := cfg.Retention()
		if days, _ := cmd.Flags().GetInt("retention-days"); days > 0 {
			retention.RetentionDays = days
		}
		if batch, _ := cmd.Flags().GetInt("batch-size"); batch > 0 {
			retention.CleanupBatchSize = batch
		}

		before, err := store.CountRawEvents(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		now := time.Now()
		fmt.Printf("Deleting raw events older than %s (%d days)...\n",
			retention.Cutoff(now).Local().Format("2006-01-02 15:04"), retention.RetentionDays)

		start := time.Now()
		deleted, err := pipeline.CleanupRawEvents(ctx, store, retention, now)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v (deleted %d before failing)\n", err, deleted)
			os.Exit(1)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Deleted %s of %s raw events\n", green("✓"), formatNumber(deleted), formatNumber(before))
		fmt.Printf("  Time taken: %s\n", time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	cleanupCmd.Flags().Int("retention-days", 0, "Override RETENTION_DAYS")
	cleanupCmd.Flags().Int("batch-size", 0, "Override RETENTION_BATCH_SIZE")
	rootCmd.AddCommand(cleanupCmd)
}
