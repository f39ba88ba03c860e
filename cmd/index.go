package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build and inspect the saved HNSW face index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Snapshot every encoded face into an HNSW index file",
	Long: `Build the approximate index from the current database and save it.
The server and "search --in-memory" load a saved index instead of rebuilding
it as long as the database has not changed since.`,
	Args: cobra.NoArgs,
	RunE: runIndexBuild,
}

var indexInfoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Print the metadata of a saved index",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexInfo,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexInfoCmd)

	indexBuildCmd.Flags().String("out", "", "Index file to write (overrides HNSW_INDEX_PATH)")
	indexBuildCmd.Flags().String("metric", "euclidean", "Distance metric: euclidean or cosine")
	indexInfoCmd.Flags().Bool("check", false, "Compare the index against the database")
	indexInfoCmd.Flags().Bool("json", false, "Output as JSON")
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	logger := newLogger(cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path := stringOverride(cmd, "out", cfg.Index.Path)
	if path == "" {
		return errors.New("an output path is required (--out or HNSW_INDEX_PATH)")
	}
	opts, err := indexOptions(cmd, cfg)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	start := time.Now()
	idx, err := database.BuildAnnIndexFromStore(ctx, store, opts)
	if err != nil {
		return err
	}
	if idx.Len() == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "The database holds no encoded faces, nothing to save.")
		return idx.Save(path)
	}
	if err := idx.Save(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d faces in %s, saved to %s\n",
		idx.Len(), time.Since(start).Round(time.Millisecond), path)
	return nil
}

func runIndexInfo(cmd *cobra.Command, args []string) error {
	meta, err := database.LoadAnnIndexMetadata(args[0])
	if err != nil {
		return err
	}

	var stale *bool
	if mustGetBool(cmd, "check") {
		cfg := loadConfig(cmd)
		logger := newLogger(cfg)
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		store, err := openStore(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		stats, err := store.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get face stats: %w", err)
		}
		s := meta.IsStale(stats)
		stale = &s
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			database.AnnIndexMetadata
			Stale *bool `json:"stale,omitempty"`
		}{meta, stale})
	}
	printIndexInfo(cmd.OutOrStdout(), args[0], meta, stale)
	return nil
}

func printIndexInfo(w io.Writer, path string, meta database.AnnIndexMetadata, stale *bool) {
	fmt.Fprintf(w, "Index:       %s\n", path)
	fmt.Fprintf(w, "Faces:       %d\n", meta.FaceCount)
	fmt.Fprintf(w, "Max face id: %d\n", meta.MaxFaceID)
	fmt.Fprintf(w, "Dimension:   %d\n", meta.Dim)
	fmt.Fprintf(w, "Metric:      %s\n", meta.Metric)
	fmt.Fprintf(w, "Built:       %s\n", meta.BuildTime.Format(time.RFC3339))
	if stale != nil {
		fmt.Fprintf(w, "Stale:       %t\n", *stale)
	}
}
