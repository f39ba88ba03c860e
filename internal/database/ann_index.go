package database

import (
	"bytes"
	"cmp"
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"time"

	"github.com/coder/hnsw"
)

// AnnIndexMetadata stores metadata for validating cached indexes.
type AnnIndexMetadata struct {
	FaceCount int64     `json:"face_count"`  // encoded faces at build time
	MaxFaceID int64     `json:"max_face_id"` // highest face id at build time
	Dim       int       `json:"dim"`
	Metric    Metric    `json:"metric"`
	BuildTime time.Time `json:"build_time"`
	Version   int       `json:"version"`
}

const annMetadataVersion = 1

// IsStale reports whether the store changed since the index was built.
func (m AnnIndexMetadata) IsStale(stats FaceStats) bool {
	return m.FaceCount != stats.Encoded || m.MaxFaceID != stats.MaxFaceID
}

// AnnIndexOptions configures index construction.
type AnnIndexOptions struct {
	Metric   Metric
	M        int // max neighbors per node, defaults to HNSWMaxNeighbors
	EfSearch int // defaults to HNSWEfSearch
}

func (o AnnIndexOptions) withDefaults() AnnIndexOptions {
	if o.Metric == "" {
		o.Metric = MetricEuclidean
	}
	if o.M <= 0 {
		o.M = HNSWMaxNeighbors
	}
	if o.EfSearch <= 0 {
		o.EfSearch = HNSWEfSearch
	}
	return o
}

// Neighbor is a single approximate search hit. Ordinal is the insertion
// position of the vector at build time.
type Neighbor struct {
	Ordinal  int
	Distance float64
}

// byDistance orders neighbors nearest first, NaN after every real distance.
func byDistance(x, y Neighbor) int {
	return cmp.Compare(nanLast(x.Distance), nanLast(y.Distance))
}

func nanLast(d float64) float64 {
	if math.IsNaN(d) {
		return math.Inf(1)
	}
	return d
}

// AnnIndex is an immutable approximate nearest-neighbor index over face encodings.
// Graph nodes are keyed by insertion ordinal; ids holds the face id for each
// ordinal. The two are co-indexed 1:1 and never change after build, so
// concurrent queries need no locking. Refreshing means building a new index.
type AnnIndex struct {
	graph *hnsw.Graph[int]
	ids   []int64
	dim   int
	meta  AnnIndexMetadata
}

// BuildAnnIndex builds an index from parallel vectors and ids.
// All vectors must share one dimension.
func BuildAnnIndex(ctx context.Context, vectors [][]float32, ids []int64, opts AnnIndexOptions) (*AnnIndex, error) {
	if len(vectors) != len(ids) {
		return nil, fmt.Errorf("%w: %d vectors, %d ids", ErrIndexMismatch, len(vectors), len(ids))
	}
	opts = opts.withDefaults()

	g := hnsw.NewGraph[int]()
	g.M = opts.M
	g.Ml = 1.0 / float64(opts.M) // Standard HNSW formula
	g.EfSearch = opts.EfSearch
	g.Distance = opts.Metric.graphDistance()

	idx := &AnnIndex{
		graph: g,
		ids:   slices.Clone(ids),
		meta: AnnIndexMetadata{
			FaceCount: int64(len(ids)),
			Metric:    opts.Metric,
			BuildTime: time.Now(),
			Version:   annMetadataVersion,
		},
	}
	if len(vectors) > 0 {
		idx.dim = len(vectors[0])
	}

	for i, v := range vectors {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("building index: %w", err)
			}
		}
		if len(v) != idx.dim || idx.dim == 0 {
			return nil, fmt.Errorf("%w: vector %d (face %d) has %d dims, expected %d",
				ErrDimensionMismatch, i, ids[i], len(v), idx.dim)
		}
		g.Add(hnsw.MakeNode(i, slices.Clone(v)))
		idx.meta.MaxFaceID = max(idx.meta.MaxFaceID, ids[i])
	}
	idx.meta.Dim = idx.dim

	return idx, nil
}

// SnapshotSource is a store that can be snapshotted into an index.
type SnapshotSource interface {
	EncodingScanner
	Stats(ctx context.Context) (FaceStats, error)
}

// BuildAnnIndexFromStore snapshots all encoded faces of the store and builds an index.
// The metadata records the store counters read before the scan.
func BuildAnnIndexFromStore(ctx context.Context, src SnapshotSource, opts AnnIndexOptions) (*AnnIndex, error) {
	stats, err := src.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get face stats: %w", err)
	}

	vectors := make([][]float32, 0, stats.Encoded)
	ids := make([]int64, 0, stats.Encoded)
	err = src.ScanEncodings(ctx, func(id int64, encoding []float32) error {
		vectors = append(vectors, slices.Clone(encoding))
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan encodings: %w", err)
	}

	idx, err := BuildAnnIndex(ctx, vectors, ids, opts)
	if err != nil {
		return nil, err
	}
	idx.meta.FaceCount = stats.Encoded
	idx.meta.MaxFaceID = stats.MaxFaceID
	return idx, nil
}

// Len returns the number of indexed faces.
func (a *AnnIndex) Len() int { return len(a.ids) }

// Dim returns the encoding dimension, 0 for an empty index.
func (a *AnnIndex) Dim() int { return a.dim }

// Metric returns the distance metric the index was built with.
func (a *AnnIndex) Metric() Metric { return a.meta.Metric }

// Metadata returns the build metadata.
func (a *AnnIndex) Metadata() AnnIndexMetadata { return a.meta }

// ID translates an ordinal returned by Search into a face id.
func (a *AnnIndex) ID(ordinal int) (int64, bool) {
	if ordinal < 0 || ordinal >= len(a.ids) {
		return 0, false
	}
	return a.ids[ordinal], true
}

// Search returns up to k approximate nearest neighbors ordered by distance.
// Distances are recomputed exactly for the returned nodes.
func (a *AnnIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if k <= 0 || len(a.ids) == 0 {
		return nil, nil
	}
	if len(query) != a.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(query), a.dim)
	}

	// Over-fetch and re-rank so graph-level approximation errors hurt less.
	fetch := min(k*HNSWSearchMultiplier, len(a.ids))
	nodes := a.graph.Search(query, fetch)

	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Neighbor{Ordinal: n.Key, Distance: a.meta.Metric.Distance(query, n.Value)})
	}
	slices.SortStableFunc(out, byDistance)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Save persists the graph to path, the ordinal to id array to path+".ids"
// and the metadata to path+".meta".
func (a *AnnIndex) Save(path string) error {
	if len(a.ids) == 0 {
		// Nothing to persist, remove stale files (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".ids")
		_ = os.Remove(path + ".meta")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := a.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close index file: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a.ids); err != nil {
		return fmt.Errorf("failed to encode ids: %w", err)
	}
	if err := os.WriteFile(path+".ids", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write ids file: %w", err)
	}

	metaData, err := json.Marshal(a.meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadAnnIndexMetadata loads metadata from a .meta file.
func LoadAnnIndexMetadata(path string) (AnnIndexMetadata, error) {
	var metadata AnnIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if metadata.Version != annMetadataVersion {
		return metadata, fmt.Errorf("unsupported index metadata version %d", metadata.Version)
	}
	return metadata, nil
}

// LoadAnnIndex loads an index written by Save.
// Returns an error wrapping os.ErrNotExist when no index was saved at path.
func LoadAnnIndex(path string) (*AnnIndex, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("index file %s: %w", path, err)
	}

	meta, err := LoadAnnIndexMetadata(path)
	if err != nil {
		return nil, err
	}

	saved, err := hnsw.LoadSavedGraph[int](path)
	if err != nil {
		return nil, fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".ids") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read ids file: %w", err)
	}
	var ids []int64
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ids); err != nil {
		return nil, fmt.Errorf("failed to decode ids: %w", err)
	}

	if saved.Len() != len(ids) {
		return nil, fmt.Errorf("%w: graph has %d nodes, ids file has %d", ErrIndexMismatch, saved.Len(), len(ids))
	}
	if len(ids) == 0 {
		return nil, errors.New("saved index is empty")
	}

	return &AnnIndex{
		graph: saved.Graph,
		ids:   ids,
		dim:   meta.Dim,
		meta:  meta,
	}, nil
}

// LoadOrBuildAnnIndex loads the index at path when it is fresh with respect to
// the store and rebuilds (and saves) it otherwise. An empty path always rebuilds.
func LoadOrBuildAnnIndex(ctx context.Context, src SnapshotSource, path string, opts AnnIndexOptions) (*AnnIndex, bool, error) {
	opts = opts.withDefaults()

	if path != "" {
		stats, err := src.Stats(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get face stats: %w", err)
		}
		if idx, err := LoadAnnIndex(path); err == nil {
			if !idx.meta.IsStale(stats) && idx.meta.Metric == opts.Metric {
				return idx, true, nil
			}
		}
	}

	idx, err := BuildAnnIndexFromStore(ctx, src, opts)
	if err != nil {
		return nil, false, err
	}
	if path != "" {
		if err := idx.Save(path); err != nil {
			return nil, false, err
		}
	}
	return idx, false, nil
}
