package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/triage/internal/config"
	"github.com/steveyegge/triage/internal/logging"
	"github.com/steveyegge/triage/internal/storage"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

var (
	envFile string
	dbPath  string

	cfg    *config.Config
	store  storage.Storage
	logger *slog.Logger
)

// skipStore marks commands that must not open the database
const skipStore = "skip-store"

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Autonomous incident triage over application logs",
	Long: `triage pulls exception logs from Loki, groups them into stable
fingerprints, asks Claude for a root-cause analysis of new failures and files
one GitHub issue per fingerprint.

Configuration comes from TRIAGE_* environment variables and an optional .env
file (bare keys, e.g. LOKI_URL=http://loki:3100).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(envFile)
		if err != nil {
			return err
		}
		logger = logging.Init(cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))

		if skipsStore(cmd) {
			return nil
		}

		dbCfg, err := storageConfig()
		if err != nil {
			return err
		}
		store, err = storage.NewStorage(cmd.Context(), dbCfg)
		if err != nil {
			return fmt.Errorf("failed to open %s storage: %w", dbCfg.Driver, err)
		}
		logger.Debug("storage opened", "driver", dbCfg.Driver, "path", dbCfg.Path)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to close storage: %v\n", err)
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file (ignored when missing)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (default: $TRIAGE_DB_PATH or ./.triage/triage.db)")
}

func skipsStore(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipStore] == "true" {
			return true
		}
	}
	return false
}

// storageConfig resolves the backend from flags and config. For SQLite the
// --db flag wins over DB_PATH, which wins over discovery.
func storageConfig() (*storage.Config, error) {
	if cfg.DBDriver == storage.DriverPostgres {
		return &storage.Config{Driver: storage.DriverPostgres, URL: cfg.DatabaseURL}, nil
	}

	path := dbPath
	if path == "" {
		path = cfg.DBPath
	}
	if path == "" {
		discovered, err := storage.DiscoverDatabase()
		if err != nil {
			return nil, err
		}
		path = discovered
	}
	dbPath = path
	return &storage.Config{Driver: storage.DriverSQLite, Path: path}, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
