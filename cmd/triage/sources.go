package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/triage/internal/config"
	"github.com/steveyegge/triage/internal/types"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage the Loki source queries",
	Long:  `List, add, enable and disable the LogQL queries ingested every tick.`,
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List source queries and their checkpoints",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		sources, err := store.ListSources(ctx, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(sources) == 0 {
			fmt.Println("No sources configured. Add one with 'triage sources add' or set SOURCES_FILE.")
			return
		}

		checkpoints, err := store.ListCheckpoints(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		byID := make(map[string]*types.Checkpoint, len(checkpoints))
		for _, cp := range checkpoints {
			byID[cp.SourceID] = cp
		}

		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		for _, src := range sources {
			state := green("● enabled")
			if !src.Enabled {
				state = gray("○ disabled")
			}
			fmt.Printf("%s  %s\n", state, src.ID)
			if src.Name != "" && src.Name != src.ID {
				fmt.Printf("    Name:  %s\n", src.Name)
			}
			fmt.Printf("    Query: %s\n", src.Query)
			if cp := byID[src.ID]; cp != nil {
				fmt.Printf("    Checkpoint: %s\n", cp.LastProcessedAt.Format("2006-01-02 15:04:05"))
			} else {
				fmt.Printf("    Checkpoint: %s\n", gray("never ingested"))
			}
			fmt.Println()
		}
	},
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add <id> <logql>",
	Short: "Add or replace a source query",
	Example: `  triage sources add orders '{job="orders"} |= "Exception"'
  triage sources add payments '{app="payments"} |= "Error"' --name "Payments" --disabled`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		disabled, _ := cmd.Flags().GetBool("disabled")
		if name == "" {
			name = args[0]
		}

		q := &types.SourceQuery{ID: args[0], Name: name, Query: args[1], Enabled: !disabled}
		if err := q.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := store.UpsertSource(cmd.Context(), q); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Saved source %s\n", green("✓"), q.ID)
	},
}

func setEnabledCmd(use string, enabled bool) *cobra.Command {
	verb := "Enable"
	if !enabled {
		verb = "Disable"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: verb + " a source query",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := store.SetSourceEnabled(cmd.Context(), args[0], enabled); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s %sd %s\n", green("✓"), verb, args[0])
		},
	}
}

var sourcesSyncCmd = &cobra.Command{
	Use:   "sync [file]",
	Short: "Upsert sources from a YAML catalogue",
	Long: `Read a YAML source catalogue and upsert every entry. Sources missing
from the file are left untouched. Defaults to SOURCES_FILE.

  sources:
    - id: orders
      name: Orders API
      query: '{job="orders"} |= "Exception"'
      enabled: true`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := cfg.SourcesFile
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			fmt.Fprintf(os.Stderr, "Error: no file given and SOURCES_FILE is not set\n")
			os.Exit(1)
		}

		n, err := config.NewSourcesLoader(path, store, logger).Sync(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Synced %d source(s) from %s\n", green("✓"), n, path)
	},
}

func init() {
	sourcesAddCmd.Flags().String("name", "", "Display name (default: the id)")
	sourcesAddCmd.Flags().Bool("disabled", false, "Add the source disabled")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesAddCmd)
	sourcesCmd.AddCommand(setEnabledCmd("enable", true))
	sourcesCmd.AddCommand(setEnabledCmd("disable", false))
	sourcesCmd.AddCommand(sourcesSyncCmd)
	rootCmd.AddCommand(sourcesCmd)
}
