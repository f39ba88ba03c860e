package matcher

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/database/mock"
)

func unitVector(dim, axis int, scale float32) []float32 {
	v := make([]float32, dim)
	v[axis] = scale
	return v
}

func randomVectors(r *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func seedStore(vectors [][]float32) *mock.MockStore {
	store := mock.NewMockStore()
	for i, v := range vectors {
		store.AddFace(database.Face{
			ImageName:  "img.jpg",
			EntityKey:  "m.test",
			SearchRank: i + 1,
			Encoding:   v,
		})
	}
	return store
}

func TestEngine_OnDiskMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	vectors := randomVectors(r, 300, 16)
	store := seedStore(vectors)
	query := randomVectors(r, 1, 16)[0]

	for _, metric := range []database.Metric{database.MetricEuclidean, database.MetricCosine} {
		t.Run(string(metric), func(t *testing.T) {
			engine, err := New(OnDisk{Store: store}, WithMetric(metric))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			got, err := engine.Query(context.Background(), query, 10)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}

			type scored struct {
				id int64
				d  float64
			}
			all := make([]scored, len(vectors))
			for i, v := range vectors {
				all[i] = scored{id: int64(i + 1), d: metric.Distance(query, v)}
			}
			sort.SliceStable(all, func(i, j int) bool { return all[i].d < all[j].d })

			if len(got) != 10 {
				t.Fatalf("got %d candidates, want 10", len(got))
			}
			for i := range got {
				if got[i].FaceID != all[i].id || got[i].Distance != all[i].d {
					t.Errorf("candidate %d = %+v, want id=%d d=%v", i, got[i], all[i].id, all[i].d)
				}
			}
		})
	}
}

func TestEngine_OnDiskTieStability(t *testing.T) {
	vectors := [][]float32{
		{1, 0}, {0, 1}, {-1, 0}, {0, -1}, // all at distance 1 from origin
		{0.5, 0},
	}
	engine, err := New(OnDisk{Store: seedStore(vectors)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := engine.Query(context.Background(), []float32{0, 0}, 3)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	want := []int64{5, 1, 2}
	for i, c := range got {
		if c.FaceID != want[i] {
			t.Errorf("candidate %d FaceID = %d, want %d", i, c.FaceID, want[i])
		}
	}
}

func TestEngine_EmptyAndNonPositiveK(t *testing.T) {
	emptyIdx, err := database.BuildAnnIndex(context.Background(), nil, nil, database.AnnIndexOptions{})
	if err != nil {
		t.Fatalf("BuildAnnIndex() error = %v", err)
	}
	full := seedStore([][]float32{{1, 2}, {3, 4}})

	tests := []struct {
		name    string
		backend Backend
		k       int
	}{
		{"ondisk empty corpus", OnDisk{Store: mock.NewMockStore()}, 5},
		{"inmemory empty index", InMemory{Index: emptyIdx}, 5},
		{"ondisk k zero", OnDisk{Store: full}, 0},
		{"ondisk k negative", OnDisk{Store: full}, -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := New(tt.backend)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			got, err := engine.Query(context.Background(), []float32{1, 2}, tt.k)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if len(got) != 0 {
				t.Errorf("got %d candidates, want 0", len(got))
			}
		})
	}
}

func TestEngine_FewerThanK(t *testing.T) {
	engine, _ := New(OnDisk{Store: seedStore([][]float32{{1, 0}, {2, 0}})})
	got, err := engine.Query(context.Background(), []float32{0, 0}, 10)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d candidates, want 2", len(got))
	}
}

func TestEngine_DimensionMismatch(t *testing.T) {
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}}
	idx, err := database.BuildAnnIndex(context.Background(), vectors, []int64{1, 2}, database.AnnIndexOptions{})
	if err != nil {
		t.Fatalf("BuildAnnIndex() error = %v", err)
	}

	for _, backend := range []Backend{InMemory{Index: idx}, OnDisk{Store: seedStore(vectors)}} {
		t.Run(backend.Name(), func(t *testing.T) {
			engine, err := New(backend)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			_, err = engine.Query(context.Background(), []float32{1, 0}, 1)
			if !errors.Is(err, database.ErrDimensionMismatch) {
				t.Fatalf("Query() error = %v, want ErrDimensionMismatch", err)
			}
			var dm *DimensionMismatchError
			if !errors.As(err, &dm) || dm.Query != 2 || dm.Corpus != 3 {
				t.Errorf("DimensionMismatchError = %+v, want query=2 corpus=3", dm)
			}

			// Engine stays usable.
			got, err := engine.Query(context.Background(), []float32{1, 0, 0}, 1)
			if err != nil {
				t.Fatalf("Query() after mismatch error = %v", err)
			}
			if len(got) != 1 || got[0].FaceID != 1 {
				t.Errorf("Query() after mismatch = %+v, want face 1", got)
			}
		})
	}
}

func TestEngine_InMemoryFindsExactVector(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	vectors := randomVectors(r, 200, 8)
	ids := make([]int64, len(vectors))
	for i := range ids {
		ids[i] = int64(1000 + i*2)
	}
	idx, err := database.BuildAnnIndex(context.Background(), vectors, ids, database.AnnIndexOptions{})
	if err != nil {
		t.Fatalf("BuildAnnIndex() error = %v", err)
	}
	engine, err := New(InMemory{Index: idx})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := engine.Query(context.Background(), vectors[42], 5)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) == 0 || got[0].FaceID != ids[42] || got[0].Distance != 0 {
		t.Fatalf("top candidate = %+v, want face %d at distance 0", got, ids[42])
	}
	for i := 1; i < len(got); i++ {
		if got[i].Distance < got[i-1].Distance {
			t.Errorf("candidates not ascending at %d: %v < %v", i, got[i].Distance, got[i-1].Distance)
		}
	}
}

func TestEngine_MetricMustMatchIndex(t *testing.T) {
	idx, err := database.BuildAnnIndex(context.Background(), [][]float32{{1, 0}}, []int64{1},
		database.AnnIndexOptions{Metric: database.MetricEuclidean})
	if err != nil {
		t.Fatalf("BuildAnnIndex() error = %v", err)
	}
	if _, err := New(InMemory{Index: idx}, WithMetric(database.MetricCosine)); err == nil {
		t.Error("New() with mismatched metric succeeded, want error")
	}
	if _, err := New(InMemory{}); err == nil {
		t.Error("New() with nil index succeeded, want error")
	}
	if _, err := New(OnDisk{}); err == nil {
		t.Error("New() with nil store succeeded, want error")
	}
}

func TestEngine_ScanFailure(t *testing.T) {
	store := seedStore([][]float32{{1}})
	store.ScanError = errors.New("disk gone")
	engine, _ := New(OnDisk{Store: store})

	if _, err := engine.Query(context.Background(), []float32{1}, 1); err == nil {
		t.Error("Query() succeeded despite scan failure")
	}
}

func TestEngine_CancelledScan(t *testing.T) {
	engine, _ := New(OnDisk{Store: seedStore([][]float32{{1}, {2}})})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.Query(ctx, []float32{1}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Query() error = %v, want context.Canceled", err)
	}
}

func TestEngine_GoldScenario(t *testing.T) {
	dists := []float32{0.20264, 0.03169, 0.14482}
	names := map[string]string{
		"m.06w2sn5": "Justin Bieber",
		"m.02mjmr":  "Barack Obama",
		"m.06qjgc":  "Lionel Messi",
	}
	keys := []string{"m.06qjgc", "m.02mjmr", "m.06w2sn5"}

	store := mock.NewMockStore()
	for key, name := range names {
		store.AddEntity(database.Entity{Key: key, Name: name})
	}
	for i, d := range dists {
		store.AddFace(database.Face{
			ImageName: "face.jpg",
			EntityKey: keys[i],
			Encoding:  unitVector(128, i, d),
		})
	}
	query := make([]float32, 128)

	engine, err := New(OnDisk{Store: store})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cands, err := engine.Query(context.Background(), query, 3)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	enricher, err := NewEnricher(store)
	if err != nil {
		t.Fatalf("NewEnricher() error = %v", err)
	}
	matches, err := enricher.Enrich(context.Background(), cands)
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}

	want := []struct {
		name string
		d    float64
	}{
		{"Barack Obama", 0.03169},
		{"Justin Bieber", 0.14482},
		{"Lionel Messi", 0.20264},
	}
	if len(matches) != len(want) {
		t.Fatalf("got %d matches, want %d", len(matches), len(want))
	}
	for i, w := range want {
		m := matches[i]
		if m.Rank != i+1 || m.EntityName != w.name || math.Abs(m.Distance-w.d) > 1e-6 {
			t.Errorf("match %d = %+v, want rank=%d name=%q d=%v", i, m, i+1, w.name, w.d)
		}
	}
}
