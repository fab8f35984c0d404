package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/triage/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state",
	Long:  `Display source checkpoints and lag, fingerprint counts, findings and open issues.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Triage Status ==="))

		printLiveStatus()

		stats, err := store.GetStatistics(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to get statistics: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s\n", yellow("Sources:"))
		fmt.Printf("  %d enabled of %d\n", stats.SourcesEnabled, stats.SourcesTotal)

		checkpoints, err := store.ListCheckpoints(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to list checkpoints: %v\n", err)
			os.Exit(1)
		}
		// A healthy source trails by about one watermark plus one tick
		healthyLag := cfg.Watermark() + 2*cfg.Tick()
		for _, cp := range checkpoints {
			lag := time.Since(cp.LastProcessedAt)
			lagColor := green
			if lag > healthyLag {
				lagColor = red
			}
			fmt.Printf("  %-24s %s  (lag %s)\n", cp.SourceID,
				cp.LastProcessedAt.Local().Format("2006-01-02 15:04:05"), lagColor(formatDuration(lag)))
		}
		fmt.Println()

		fmt.Printf("%s\n", yellow("Raw events:"))
		fmt.Printf("  %s stored (retention %d days)\n\n", formatNumber(stats.RawEvents), cfg.RetentionDays)

		fmt.Printf("%s\n", yellow("Fingerprints:"))
		total := 0
		for _, status := range []types.FingerprintStatus{
			types.FingerprintNew, types.FingerprintKnown, types.FingerprintFixed, types.FingerprintIgnored,
		} {
			n := stats.FingerprintsByStatus[status]
			total += n
			fmt.Printf("  %-8s %s\n", statusColor(status)(string(status)), formatNumber(n))
		}
		if total == 0 {
			fmt.Printf("  %s\n", gray("None yet"))
		}
		fmt.Println()

		fmt.Printf("%s\n", yellow("Findings:"))
		fmt.Printf("  %s\n\n", formatNumber(stats.Findings))

		fmt.Printf("%s\n", yellow("Open issues:"))
		fmt.Printf("  %s\n\n", formatNumber(stats.OpenIssues))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
