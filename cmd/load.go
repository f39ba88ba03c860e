package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/clone-finder/internal/facedetect"
	"github.com/kozaktomas/clone-finder/internal/loader"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load <faces.tsv>",
	Short: "Load a labeled face feed into the database",
	Long: `Load a face feed into the database. Each line holds five tab-separated
fields: image name, base64 image data, entity key, search rank and image URL.
Files ending in .gz or .zst are decompressed; "-" reads standard input.

Faces are encoded until every entity holds --min-encodings encodings; later
rows of a satisfied entity are skipped without touching the database.
Re-running the same feed is safe: stored faces are skipped, and faces loaded
without an encoding are upgraded in place.

Changes are committed every --batch-size rows and at the end of the feed.

Examples:
  # Load a compressed feed into the default SQLite database
  clone-finder load faces.tsv.gz

  # Three encodings per person, accurate detection, PostgreSQL
  clone-finder load faces.tsv --min-encodings 3 --model cnn \
    --driver postgres --db postgres://localhost/clones`,
	Args: cobra.ExactArgs(1),
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().Int("batch-size", 10000, "Accepted rows per database transaction")
	loadCmd.Flags().Int("min-encodings", 1, "Encodings to store per entity (0 stores faces without encodings)")
	loadCmd.Flags().String("model", "hog", "Face detection model: hog (fast) or cnn (accurate)")
	loadCmd.Flags().Bool("no-progress", false, "Disable the progress bar")
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode, err := modeFlag(cmd, cfg)
	if err != nil {
		return err
	}
	opts := loader.Options{
		BatchSize:    intOverride(cmd, "batch-size", cfg.Loader.BatchSize),
		MinEncodings: intOverride(cmd, "min-encodings", cfg.Loader.MinEncodings),
		Mode:         mode,
		Source:       args[0],
	}
	if opts.BatchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive, got %d", opts.BatchSize)
	}
	if opts.MinEncodings < 0 {
		return fmt.Errorf("--min-encodings must not be negative, got %d", opts.MinEncodings)
	}

	feed, err := loader.OpenFeed(args[0])
	if err != nil {
		return err
	}
	defer feed.Close()

	detector, err := facedetect.New(cfg.Detector)
	if err != nil {
		return fmt.Errorf("failed to create face detector: %w", err)
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	options := []loader.Option{loader.WithLogger(logger)}
	var bar *progressbar.ProgressBar
	if !mustGetBool(cmd, "no-progress") {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Loading faces"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("rows"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
		options = append(options, loader.WithProgress(func(s loader.Stats) {
			_ = bar.Set(s.Rows)
		}))
	}

	stats, err := loader.New(store, detector, opts, options...).Load(ctx, feed)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Rows:       %d\n", stats.Rows)
	fmt.Fprintf(out, "Added:      %d\n", stats.Added)
	fmt.Fprintf(out, "Updated:    %d\n", stats.Updated)
	fmt.Fprintf(out, "Skipped:    %d\n", stats.Skipped)
	fmt.Fprintf(out, "Failed:     %d\n", stats.Failed)
	fmt.Fprintf(out, "Hard faces: %d\n", stats.HardFaces)
	fmt.Fprintf(out, "Commits:    %d\n", stats.Flushes)
	if err != nil {
		return fmt.Errorf("load aborted after %d commits: %w", stats.Flushes, err)
	}
	return nil
}
