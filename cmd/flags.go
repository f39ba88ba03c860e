package cmd

import (
	"fmt"

	"github.com/kozaktomas/clone-finder/internal/config"
	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/facedetect"
	"github.com/spf13/cobra"
)

// mustGetBool gets a bool flag value or panics if the flag doesn't exist.
// This is appropriate for flags defined in init() - errors indicate programming bugs.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetInt gets an int flag value or panics if the flag doesn't exist.
func mustGetInt(cmd *cobra.Command, name string) int {
	val, err := cmd.Flags().GetInt(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// mustGetString gets a string flag value or panics if the flag doesn't exist.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

// intOverride returns the flag value when it was set explicitly and def otherwise.
func intOverride(cmd *cobra.Command, name string, def int) int {
	if cmd.Flags().Changed(name) {
		return mustGetInt(cmd, name)
	}
	return def
}

// stringOverride is intOverride for string flags.
func stringOverride(cmd *cobra.Command, name, def string) string {
	if cmd.Flags().Changed(name) {
		return mustGetString(cmd, name)
	}
	return def
}

// modeFlag resolves --model against the configured detector mode.
func modeFlag(cmd *cobra.Command, cfg *config.Config) (facedetect.Mode, error) {
	mode, err := facedetect.ParseMode(stringOverride(cmd, "model", cfg.Detector.Mode))
	if err != nil {
		return "", fmt.Errorf("invalid --model: %w", err)
	}
	return mode, nil
}

// indexOptions builds index options from config, honoring --metric when present.
func indexOptions(cmd *cobra.Command, cfg *config.Config) (database.AnnIndexOptions, error) {
	name := cfg.Index.Metric
	if cmd.Flags().Lookup("metric") != nil {
		name = stringOverride(cmd, "metric", name)
	}
	metric, err := database.ParseMetric(name)
	if err != nil {
		return database.AnnIndexOptions{}, err
	}
	return database.AnnIndexOptions{
		Metric:   metric,
		M:        cfg.Index.MaxNeighbors,
		EfSearch: cfg.Index.EfSearch,
	}, nil
}
