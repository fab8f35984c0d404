package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/triage/internal/types"
)

var fingerprintsCmd = &cobra.Command{
	Use:     "fingerprints",
	Aliases: []string{"fp"},
	Short:   "List known failure fingerprints",
	Long: `List fingerprints, most recently seen first.

Examples:
  triage fingerprints                 # All fingerprints
  triage fingerprints --status new    # Awaiting analysis
  triage fingerprints --json`,
	Run: func(cmd *cobra.Command, args []string) {
		statusStr, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter := types.FingerprintFilter{Limit: limit}
		if statusStr != "" {
			status := types.FingerprintStatus(strings.ToLower(statusStr))
			if !status.IsValid() {
				fmt.Fprintf(os.Stderr, "Error: invalid status %q (want new, known, fixed or ignored)\n", statusStr)
				os.Exit(1)
			}
			filter.Status = &status
		}

		fps, err := store.ListFingerprints(cmd.Context(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(fps); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		if len(fps) == 0 {
			fmt.Println("No fingerprints")
			return
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, fp := range fps {
			fmt.Printf("%s  %-7s %s\n", fp.ID[:min(12, len(fp.ID))], statusColor(fp.Status)(string(fp.Status)), fp.ExceptionType)
			fmt.Printf("    %s  first %s  last %s\n",
				gray(fp.LastService),
				fp.FirstSeenAt.Local().Format("2006-01-02 15:04"),
				fp.LastSeenAt.Local().Format("2006-01-02 15:04"))
			if len(fp.TopFrames) > 0 {
				fmt.Printf("    %s\n", gray(truncateString(fp.TopFrames[0], 100)))
			}
		}
	},
}

var fingerprintsSetCmd = &cobra.Command{
	Use:   "set-status <id> <known|fixed|ignored>",
	Short: "Move a fingerprint along its lifecycle",
	Long: `Move a fingerprint forward: new → known → fixed or ignored.
Backward moves are rejected.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		status := types.FingerprintStatus(strings.ToLower(args[1]))
		if err := store.UpdateFingerprintStatus(cmd.Context(), args[0], status); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s is now %s\n", green("✓"), args[0], status)
	},
}

func init() {
	fingerprintsCmd.Flags().String("status", "", "Filter by status (new, known, fixed, ignored)")
	fingerprintsCmd.Flags().IntP("limit", "n", 50, "Maximum fingerprints to show (0 for all)")
	fingerprintsCmd.Flags().Bool("json", false, "Output JSON")
	fingerprintsCmd.AddCommand(fingerprintsSetCmd)
	rootCmd.AddCommand(fingerprintsCmd)
}
