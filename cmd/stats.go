package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show corpus counters and recent load runs",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().Bool("json", false, "Output as JSON")
	statsCmd.Flags().Int("runs", 5, "Number of recent load runs to show")
}

// StatsOutput is the JSON shape of the stats command.
type StatsOutput struct {
	Faces      int64     `json:"faces"`
	Encoded    int64     `json:"encoded"`
	HardFaces  int64     `json:"hard_faces"`
	Entities   int64     `json:"entities"`
	MaxFaceID  int64     `json:"max_face_id"`
	RecentRuns []RunInfo `json:"recent_runs"`
}

// RunInfo summarizes one ingest run.
type RunInfo struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Added      int       `json:"added"`
	Updated    int       `json:"updated"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
}

func runStats(cmd *cobra.Command, args []string) error {
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
	runs, err := store.RecentIngestRuns(ctx, mustGetInt(cmd, "runs"))
	if err != nil {
		return fmt.Errorf("failed to get ingest runs: %w", err)
	}

	out := newStatsOutput(stats, runs)
	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printStats(cmd.OutOrStdout(), out)
	return nil
}

func newStatsOutput(stats database.FaceStats, runs []database.IngestRun) StatsOutput {
	out := StatsOutput{
		Faces:      stats.Faces,
		Encoded:    stats.Encoded,
		HardFaces:  stats.HardFaces,
		Entities:   stats.Entities,
		MaxFaceID:  stats.MaxFaceID,
		RecentRuns: make([]RunInfo, 0, len(runs)),
	}
	for _, r := range runs {
		out.RecentRuns = append(out.RecentRuns, RunInfo{
			ID:         r.ID.String(),
			Source:     r.Source,
			Status:     r.Status,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Added:      r.Added,
			Updated:    r.Updated,
			Skipped:    r.Skipped,
			Failed:     r.Failed,
		})
	}
	return out
}

func printStats(w io.Writer, s StatsOutput) {
	fmt.Fprintf(w, "Faces:      %d\n", s.Faces)
	fmt.Fprintf(w, "Encoded:    %d\n", s.Encoded)
	fmt.Fprintf(w, "Hard faces: %d\n", s.HardFaces)
	fmt.Fprintf(w, "Entities:   %d\n", s.Entities)

	if len(s.RecentRuns) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRecent loads:")
	for _, r := range s.RecentRuns {
		fmt.Fprintf(w, "  %s  %-9s  +%d ~%d =%d !%d  %s (%s)\n",
			r.StartedAt.Format(time.DateTime), r.Status,
			r.Added, r.Updated, r.Skipped, r.Failed,
			r.Source, r.FinishedAt.Sub(r.StartedAt).Round(time.Second))
	}
}
