package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/clone-finder/internal/loader"
	"github.com/spf13/cobra"
)

var loadEntitiesCmd = &cobra.Command{
	Use:   "load-entities <names.tsv>",
	Short: "Load entity names into the database",
	Long: `Load the entity name feed. Each line holds an entity key and a quoted,
language-tagged name, for example:

  <http://rdf.freebase.com/ns/m.02mjmr>	"Barack Obama"@en

Only names tagged with --lang are kept (empty keeps all). The first name of a
key wins; keys already in the database are left unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: runLoadEntities,
}

func init() {
	rootCmd.AddCommand(loadEntitiesCmd)

	loadEntitiesCmd.Flags().String("lang", "en", "Language tag to keep (empty keeps all)")
	loadEntitiesCmd.Flags().Int("batch-size", 10000, "Entities per database transaction")
}

func runLoadEntities(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := loader.EntityOptions{
		Language:  stringOverride(cmd, "lang", cfg.Loader.EntityLanguage),
		BatchSize: intOverride(cmd, "batch-size", cfg.Loader.BatchSize),
	}

	feed, err := loader.OpenFeed(args[0])
	if err != nil {
		return err
	}
	defer feed.Close()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := loader.NewEntityLoader(store, opts, logger).Load(ctx, feed)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Rows:     %d\n", stats.Rows)
	fmt.Fprintf(out, "Inserted: %d\n", stats.Inserted)
	fmt.Fprintf(out, "Existing: %d\n", stats.Existing)
	fmt.Fprintf(out, "Filtered: %d\n", stats.Filtered)
	fmt.Fprintf(out, "Failed:   %d\n", stats.Failed)
	if err != nil {
		return fmt.Errorf("entity load failed: %w", err)
	}
	return nil
}
