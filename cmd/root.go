package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kozaktomas/clone-finder/internal/config"
	"github.com/kozaktomas/clone-finder/internal/database/backend"
	"github.com/kozaktomas/clone-finder/internal/database/sqlstore"
	"github.com/kozaktomas/clone-finder/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "clone-finder",
	Short: "Find the public figures whose faces look most like yours",
	Long: `Clone Finder stores face encodings of well-known people and answers
"who do I look like?" queries by nearest-neighbor search over them.

The corpus is built from a TSV feed of face thumbnails (load) and an entity
name feed (load-entities). Queries run against an approximate in-memory index
or as an exact scan over the database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().String("db", "", "Database path or DSN (overrides DATABASE_URL)")
	rootCmd.PersistentFlags().String("driver", "", "Database driver: sqlite, postgres or mariadb (overrides DATABASE_DRIVER)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides LOG_LEVEL)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the environment and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg := config.Load()
	if db := mustGetString(cmd, "db"); db != "" {
		cfg.Database.URL = db
	}
	if driver := mustGetString(cmd, "driver"); driver != "" {
		cfg.Database.Driver = driver
	}
	if level := mustGetString(cmd, "log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg
}

// newLogger creates the process logger and makes it the slog default.
func newLogger(cfg *config.Config) *slog.Logger {
	logger := logging.New(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)
	return logger
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sqlstore.Store, error) {
	store, err := backend.Open(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Database.Driver, err)
	}
	return store, nil
}
