package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/kozaktomas/clone-finder/internal/facedetect"
	"github.com/kozaktomas/clone-finder/internal/matcher"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <image>",
	Short: "Find the closest-looking people for the face in an image",
	Long: `Detect the dominant face in an image and list the k nearest faces of the
corpus, closest first.

By default the whole corpus is scanned exactly. --in-memory answers from the
approximate HNSW index instead, loading it from --index when the saved copy is
fresh and rebuilding it otherwise.

Examples:
  # Ten closest matches
  clone-finder search me.jpg

  # Three matches from the in-memory index, persisted between runs
  clone-finder search me.jpg -k 3 --in-memory --index faces.hnsw

  # Accurate (slower) face detection, JSON output
  clone-finder search me.jpg --model cnn --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntP("k", "k", 10, "Number of matches to return")
	searchCmd.Flags().Bool("in-memory", false, "Search the approximate in-memory index instead of scanning the database")
	searchCmd.Flags().String("model", "hog", "Face detection model: hog (fast) or cnn (accurate)")
	searchCmd.Flags().String("metric", "euclidean", "Distance metric: euclidean or cosine")
	searchCmd.Flags().String("index", "", "Index file to load or save with --in-memory (overrides HNSW_INDEX_PATH)")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
}

// SearchOutput is the JSON shape of a search.
type SearchOutput struct {
	Image    string          `json:"image"`
	Backend  string          `json:"backend"`
	Matches  []matcher.Match `json:"matches"`
	Failures []SearchFailure `json:"failures,omitempty"`
}

// SearchFailure is a candidate whose entity could not be resolved.
type SearchFailure struct {
	Rank   int    `json:"rank"`
	FaceID int64  `json:"face_id"`
	Error  string `json:"error"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	logger := newLogger(cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	k := mustGetInt(cmd, "k")
	if k <= 0 {
		return fmt.Errorf("-k must be positive, got %d", k)
	}
	mode, err := modeFlag(cmd, cfg)
	if err != nil {
		return err
	}
	opts, err := indexOptions(cmd, cfg)
	if err != nil {
		return err
	}

	image, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	detector, err := facedetect.New(cfg.Detector)
	if err != nil {
		return fmt.Errorf("failed to create face detector: %w", err)
	}
	det, err := detector.Detect(ctx, image, mode)
	if err != nil {
		return fmt.Errorf("face detection failed: %w", err)
	}
	if det == nil {
		return fmt.Errorf("no face found in %s", args[0])
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	backend := matcher.BackendOnDisk
	if mustGetBool(cmd, "in-memory") {
		backend = matcher.BackendInMemory
	}
	svc, err := matcher.NewService(ctx, store, matcher.ServiceConfig{
		Backend:   backend,
		IndexPath: stringOverride(cmd, "index", cfg.Index.Path),
		Index:     opts,
		CacheSize: cfg.Search.CacheSize,
	}, logger, nil)
	if err != nil {
		return err
	}

	matches, err := svc.Search(ctx, det.Embedding, k)
	failures := matcher.LookupErrors(err)
	if err != nil && len(failures) == 0 {
		return fmt.Errorf("search failed: %w", err)
	}

	if mustGetBool(cmd, "json") {
		out := SearchOutput{Image: args[0], Backend: svc.Backend(), Matches: matches}
		for _, f := range failures {
			out.Failures = append(out.Failures, SearchFailure{Rank: f.Rank, FaceID: f.FaceID, Error: f.Err.Error()})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	printMatches(cmd.OutOrStdout(), matches)
	for _, f := range failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: could not resolve match #%d (face %d): %v\n", f.Rank, f.FaceID, f.Err)
	}
	if len(matches) == 0 && len(failures) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "The corpus holds no encoded faces.")
	}
	return nil
}

// printMatches writes one line per match in rank order.
func printMatches(w io.Writer, matches []matcher.Match) {
	for _, m := range matches {
		fmt.Fprintf(w, "#%d. %s;\tEntityID: %s;\tDistance: %s;\n",
			m.Rank, m.EntityName, m.EntityKey, strconv.FormatFloat(m.Distance, 'g', -1, 64))
	}
}
