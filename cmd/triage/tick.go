package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/triage/internal/pipeline"
	"github.com/steveyegge/triage/internal/storage"
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single pipeline tick and exit",
	Long: `Run one ingest, fingerprint, analyze and publish pass, print what it did
and exit. Useful from cron or for debugging a configuration.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		lock := lockPath()
		if err := storage.AcquireInstanceLock(lock, version); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = storage.ReleaseInstanceLock(lock) }()

		if _, err := pipeline.EnsureDefaultSource(ctx, store); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		svc, err := buildOrchestrator(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		start := time.Now()
		res, err := svc.orch.Tick(ctx)
		if res != nil {
			printTickResult(res, time.Since(start))
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: tick failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func printTickResult(res *pipeline.TickResult, elapsed time.Duration) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n", yellow("Ingest:"))
	for _, r := range res.Ingest {
		switch {
		case r.Err != nil:
			fmt.Printf("  %s %-24s %v\n", red("✗"), r.SourceID, r.Err)
		case r.Skipped:
			fmt.Printf("  %s %-24s %s\n", gray("○"), r.SourceID, gray("up to date"))
		default:
			note := ""
			if r.Truncated {
				note = yellow(" (truncated, resumes next tick)")
			}
			fmt.Printf("  %s %-24s %s events%s\n", green("✓"), r.SourceID, formatNumber(r.Events), note)
		}
	}

	fmt.Printf("\n%s %s\n", yellow("Analysis window:"), res.Window)
	fmt.Printf("  Fingerprints: %d new, %d updated\n", res.FingerprintsCreated, res.FingerprintsTouched)
	if res.NoExceptions {
		fmt.Printf("  %s\n", gray("No exceptions in window"))
	} else {
		fmt.Printf("  Candidates:   %d\n", res.Candidates)
		fmt.Printf("  Published:    %s\n", green(res.Published))
		if res.Duplicates > 0 {
			fmt.Printf("  Duplicates:   %d (issue already open)\n", res.Duplicates)
		}
		if res.AnalysisFailures > 0 {
			fmt.Printf("  Analysis failures: %s\n", red(res.AnalysisFailures))
		}
		if res.PublishFailures > 0 {
			fmt.Printf("  Publish failures:  %s\n", red(res.PublishFailures))
		}
	}
	fmt.Printf("\n  Time taken: %s\n", elapsed.Round(time.Millisecond))
}

func init() {
	rootCmd.AddCommand(tickCmd)
}
