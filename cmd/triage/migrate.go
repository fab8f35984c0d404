package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/triage/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <up|down|version>",
	Short: "Apply or inspect PostgreSQL schema migrations",
	Long: `Manage the PostgreSQL schema using the embedded migrations.
SQLite creates its schema on open and needs no migrations.

Requires DATABASE_URL (or TRIAGE_DATABASE_URL).`,
	Args:        cobra.ExactArgs(1),
	ValidArgs:   []string{"up", "down", "version"},
	Annotations: map[string]string{skipStore: "true"},
	Run: func(cmd *cobra.Command, args []string) {
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		if cfg.DatabaseURL == "" {
			fmt.Fprintf(os.Stderr, "Error: DATABASE_URL is not set\n")
			os.Exit(1)
		}

		switch args[0] {
		case "version":
			v, dirty, err := postgres.SchemaVersion(cfg.DatabaseURL)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if dirty {
				fmt.Printf("Schema version %d %s\n", v, yellow("(dirty)"))
				return
			}
			fmt.Printf("Schema version %d\n", v)
		case "up", "down":
			if err := postgres.Migrate(cfg.DatabaseURL, args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%s Migrated %s\n", green("✓"), args[0])
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown direction %q (want up, down or version)\n", args[0])
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
