package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/kozaktomas/clone-finder/internal/facedetect"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image|dir>...",
	Short: "Print the face the detector picks in each image",
	Long: `Run face detection on images without touching the database. Directories
are expanded to the images they contain (non-recursive).

Useful to check what the loader and search would see for a given image.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)

	detectCmd.Flags().String("model", "hog", "Face detection model: hog (fast) or cnn (accurate)")
	detectCmd.Flags().Bool("landmarks", false, "Also print landmark points")
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
}

// expandImagePaths replaces directories with the images they contain.
func expandImagePaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && imageExtensions[filepath.Ext(e.Name())] {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}
	return paths, nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	newLogger(cfg)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	mode, err := modeFlag(cmd, cfg)
	if err != nil {
		return err
	}
	paths, err := expandImagePaths(args)
	if err != nil {
		return err
	}
	detector, err := facedetect.New(cfg.Detector)
	if err != nil {
		return fmt.Errorf("failed to create face detector: %w", err)
	}

	out := cmd.OutOrStdout()
	found := 0
	for _, path := range paths {
		image, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		det, err := detector.Detect(ctx, image, mode)
		if err != nil {
			return fmt.Errorf("%s: face detection failed: %w", path, err)
		}
		fmt.Fprintf(out, "%s\n", path)
		printDetection(out, det, mustGetBool(cmd, "landmarks"))
		if det != nil {
			found++
		}
	}

	fmt.Fprintf(out, "\nFaces found in %d of %d images\n", found, len(paths))
	return nil
}

func printDetection(w io.Writer, det *facedetect.Detection, landmarks bool) {
	if det == nil {
		fmt.Fprintln(w, "\t- no face")
		return
	}
	b := det.Box
	fmt.Fprintf(w, "\t- Face: (top=%d, right=%d, bottom=%d, left=%d) - %dx%dpx, %d-dim encoding\n",
		b.Top, b.Right, b.Bottom, b.Left, b.Width(), b.Height(), len(det.Embedding))
	if !landmarks {
		return
	}
	names := make([]string, 0, len(det.Landmarks))
	for name := range det.Landmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "\t  %s: %v\n", name, det.Landmarks[name])
	}
}
