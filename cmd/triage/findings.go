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

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "List root-cause findings",
	Long: `List findings newest first, optionally for one fingerprint.

Examples:
  triage findings
  triage findings --fingerprint 3f2a9c --full`,
	Run: func(cmd *cobra.Command, args []string) {
		fpID, _ := cmd.Flags().GetString("fingerprint")
		limit, _ := cmd.Flags().GetInt("limit")
		full, _ := cmd.Flags().GetBool("full")
		asJSON, _ := cmd.Flags().GetBool("json")

		findings, err := store.ListFindings(cmd.Context(), fpID, limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(findings); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		if len(findings) == 0 {
			fmt.Println("No findings")
			return
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, f := range findings {
			fmt.Printf("%s  %s  %s\n", f.ID[:min(8, len(f.ID))],
				severityColor(f.Severity)(strings.ToUpper(string(f.Severity))),
				gray(f.CreatedAt.Local().Format("2006-01-02 15:04")))
			fmt.Printf("    Fingerprint: %s  Service: %s  Env: %s\n", f.FingerprintID, orDash(f.Service), orDash(f.Env))
			if f.VersionRange != "" {
				fmt.Printf("    Versions: %s\n", f.VersionRange)
			}
			fmt.Printf("    Model: %s (%s, %dms)\n", orDash(f.Model), orDash(f.PromptVersion), f.LatencyMs)

			fix := strings.TrimSpace(f.SuggestedFix)
			if full {
				fmt.Printf("    Root cause:\n%s\n", indent(f.RootCauseChain, "      "))
				fmt.Printf("    Suggested fix:\n%s\n", indent(fix, "      "))
			} else {
				fmt.Printf("    Fix: %s\n", truncateString(strings.ReplaceAll(fix, "\n", " "), 100))
			}
			fmt.Println()
		}
	},
}

var findingsSetCmd = &cobra.Command{
	Use:   "set-status <id> <triaged|in_progress|fixed|false_positive>",
	Short: "Move a finding along its lifecycle",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		status := types.FindingStatus(strings.ToLower(args[1]))
		if err := store.UpdateFindingStatus(cmd.Context(), args[0], status); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s is now %s\n", green("✓"), args[0], status)
	},
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func init() {
	findingsCmd.Flags().String("fingerprint", "", "Only findings for this fingerprint id")
	findingsCmd.Flags().IntP("limit", "n", 20, "Maximum findings to show (0 for all)")
	findingsCmd.Flags().Bool("full", false, "Print the full analysis")
	findingsCmd.Flags().Bool("json", false, "Output JSON")
	findingsCmd.AddCommand(findingsSetCmd)
	rootCmd.AddCommand(findingsCmd)
}
