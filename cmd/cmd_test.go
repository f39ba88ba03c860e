package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/facedetect"
	"github.com/kozaktomas/clone-finder/internal/matcher"
	"github.com/spf13/cobra"
)

func TestPrintMatches(t *testing.T) {
	var buf bytes.Buffer
	printMatches(&buf, []matcher.Match{
		{Rank: 1, FaceID: 7, EntityKey: "m.02mjmr", EntityName: "Barack Obama", Distance: 0.25},
		{Rank: 3, FaceID: 9, EntityKey: "m.06w2sn5", EntityName: "Justin Bieber", Distance: 0.5},
	})

	want := "#1. Barack Obama;\tEntityID: m.02mjmr;\tDistance: 0.25;\n" +
		"#3. Justin Bieber;\tEntityID: m.06w2sn5;\tDistance: 0.5;\n"
	if buf.String() != want {
		t.Errorf("printMatches() =\n%q\nwant\n%q", buf.String(), want)
	}
}

func TestPrintDetection(t *testing.T) {
	var buf bytes.Buffer
	printDetection(&buf, nil, false)
	if !strings.Contains(buf.String(), "no face") {
		t.Errorf("expected no face line, got %q", buf.String())
	}

	buf.Reset()
	printDetection(&buf, &facedetect.Detection{
		Box:       database.BoundingBox{Top: 10, Right: 50, Bottom: 70, Left: 20},
		Landmarks: database.Landmarks{"nose_tip": {{X: 30, Y: 40}}},
		Embedding: make([]float32, 128),
	}, true)
	out := buf.String()
	for _, want := range []string{"top=10, right=50, bottom=70, left=20", "30x60px", "128-dim", "nose_tip"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestExpandImagePaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.jpg", "a.png", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0600); err != nil {
			t.Fatal(err)
		}
	}
	single := filepath.Join(dir, "notes.txt")

	got, err := expandImagePaths([]string{dir, single})
	if err != nil {
		t.Fatalf("expandImagePaths() error = %v", err)
	}
	want := []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.jpg"), single}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("expandImagePaths() = %v, want %v", got, want)
	}

	if _, err := expandImagePaths([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestNewStatsOutput(t *testing.T) {
	out := newStatsOutput(database.FaceStats{Faces: 5, Encoded: 3, HardFaces: 1, Entities: 2, MaxFaceID: 5},
		[]database.IngestRun{{Source: "faces.tsv", Status: database.IngestStatusCompleted, Added: 5}})

	if out.Faces != 5 || out.Encoded != 3 || out.Entities != 2 {
		t.Errorf("unexpected counters: %+v", out)
	}
	if len(out.RecentRuns) != 1 || out.RecentRuns[0].Source != "faces.tsv" {
		t.Errorf("unexpected runs: %+v", out.RecentRuns)
	}

	var buf bytes.Buffer
	printStats(&buf, out)
	if !strings.Contains(buf.String(), "Recent loads:") {
		t.Errorf("expected recent loads section, got %q", buf.String())
	}
}

// widthImage encodes a PNG whose width identifies it to the fake embedder.
func widthImage(t *testing.T, w int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, 8))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fakeEmbedder answers /embed/face with the embedding [width/100, 0].
func fakeEmbedder(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		cfg, _, err := image.DecodeConfig(file)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"faces_count": 1,
			"faces": []map[string]any{{
				"embedding": []float32{float32(cfg.Width) / 100, 0},
				"bbox":      []float64{0, 0, float64(cfg.Width), 8},
				"det_score": 0.9,
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("%v: %v\nOutput: %s", args, err, out.String())
	}
	return out.String()
}

func TestCommands_LoadAndSearch(t *testing.T) {
	dir := t.TempDir()
	embedder := fakeEmbedder(t)
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", filepath.Join(dir, "clones.db"))
	t.Setenv("DETECTOR_BACKEND", "http")
	t.Setenv("EMBEDDING_URL", embedder.URL)
	t.Setenv("HNSW_INDEX_PATH", "")
	t.Setenv("LOG_LEVEL", "error")

	entities := "<http://rdf.freebase.com/ns/m.alice>\t\"Alice\"@en\n" +
		"<http://rdf.freebase.com/ns/m.bob>\t\"Bob\"@en\n" +
		"<http://rdf.freebase.com/ns/m.carol>\t\"Carol\"@en\n" +
		"<http://rdf.freebase.com/ns/m.carol>\t\"Karola\"@de\n"
	entitiesPath := filepath.Join(dir, "names.tsv")
	if err := os.WriteFile(entitiesPath, []byte(entities), 0600); err != nil {
		t.Fatal(err)
	}

	var faces strings.Builder
	for i, key := range []string{"m.alice", "m.bob", "m.carol"} {
		data := base64.StdEncoding.EncodeToString(widthImage(t, (i+1)*10))
		fmt.Fprintf(&faces, "%s.png\t%s\t%s\t1\thttp://img/%s.png\n", key, data, key, key)
	}
	facesPath := filepath.Join(dir, "faces.tsv")
	if err := os.WriteFile(facesPath, []byte(faces.String()), 0600); err != nil {
		t.Fatal(err)
	}
	queryPath := filepath.Join(dir, "me.png")
	if err := os.WriteFile(queryPath, widthImage(t, 10), 0600); err != nil {
		t.Fatal(err)
	}

	out := execute(t, "load-entities", entitiesPath)
	if !strings.Contains(out, "Inserted: 3") || !strings.Contains(out, "Filtered: 1") {
		t.Errorf("unexpected load-entities output:\n%s", out)
	}

	out = execute(t, "load", facesPath, "--no-progress")
	if !strings.Contains(out, "Added:      3") {
		t.Errorf("unexpected load output:\n%s", out)
	}

	out = execute(t, "search", queryPath, "-k", "2", "--json")
	var result SearchOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to parse search output: %v\n%s", err, out)
	}
	if result.Backend != matcher.BackendOnDisk {
		t.Errorf("backend = %q, want %q", result.Backend, matcher.BackendOnDisk)
	}
	if len(result.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %+v", result.Matches)
	}
	if result.Matches[0].EntityName != "Alice" || result.Matches[0].Distance != 0 {
		t.Errorf("first match = %+v, want Alice at distance 0", result.Matches[0])
	}
	if result.Matches[1].EntityName != "Bob" {
		t.Errorf("second match = %+v, want Bob", result.Matches[1])
	}

	out = execute(t, "stats", "--json")
	var stats StatsOutput
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("failed to parse stats output: %v\n%s", err, out)
	}
	if stats.Faces != 3 || stats.Encoded != 3 || stats.Entities != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if len(stats.RecentRuns) != 1 || stats.RecentRuns[0].Status != database.IngestStatusCompleted {
		t.Errorf("unexpected runs: %+v", stats.RecentRuns)
	}
}

func TestVersion(t *testing.T) {
	out := execute(t, "version")
	if !strings.HasPrefix(out, "clone-finder dev") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestVersionShort(t *testing.T) {
	t.Cleanup(func() { versionShort = false })
	if out := execute(t, "version", "--short"); out != "dev\n" {
		t.Errorf("version --short = %q, want %q", out, "dev\n")
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{"detect", "index", "load", "load-entities", "search", "serve", "stats", "version"}
	have := map[string]*cobra.Command{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = c
	}
	for _, name := range want {
		if have[name] == nil {
			t.Errorf("missing command %q", name)
		}
	}
}
