package matcher

import (
	"math"
	"testing"
)

func TestTopK_KeepsSmallestInOrder(t *testing.T) {
	top := newTopK(3)
	for i, d := range []float64{0.9, 0.1, 0.5, 0.7, 0.05, 0.3} {
		top.offer(Candidate{Distance: d, FaceID: int64(i + 1)})
	}

	got := top.results()
	want := []Candidate{{0.05, 5}, {0.1, 2}, {0.3, 6}}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("results[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestTopK_TiesKeepArrivalOrder(t *testing.T) {
	top := newTopK(3)
	top.offer(Candidate{Distance: 0.5, FaceID: 1})
	top.offer(Candidate{Distance: 0.2, FaceID: 2})
	top.offer(Candidate{Distance: 0.5, FaceID: 3})
	// Full now; an equal to the worst must not evict it.
	if top.offer(Candidate{Distance: 0.5, FaceID: 4}) {
		t.Error("candidate equal to the worst was accepted")
	}
	top.offer(Candidate{Distance: 0.2, FaceID: 5})

	want := []int64{2, 5, 1}
	for i, c := range top.results() {
		if c.FaceID != want[i] {
			t.Errorf("results[%d].FaceID = %d, want %d", i, c.FaceID, want[i])
		}
	}
}

func TestTopK_Worst(t *testing.T) {
	top := newTopK(2)
	if _, ok := top.worst(); ok {
		t.Error("worst() on a non-full list should report false")
	}
	top.offer(Candidate{Distance: 1, FaceID: 1})
	top.offer(Candidate{Distance: 2, FaceID: 2})
	if w, ok := top.worst(); !ok || w != 2 {
		t.Errorf("worst() = %v, %v; want 2, true", w, ok)
	}
}

func TestTopK_ZeroK(t *testing.T) {
	top := newTopK(0)
	if top.offer(Candidate{Distance: 0, FaceID: 1}) {
		t.Error("offer on k=0 accepted a candidate")
	}
	if len(top.results()) != 0 {
		t.Errorf("got %d results, want 0", len(top.results()))
	}
}

func TestTopK_NaNNeverEvicts(t *testing.T) {
	top := newTopK(1)
	top.offer(Candidate{Distance: 0.4, FaceID: 1})
	if top.offer(Candidate{Distance: math.NaN(), FaceID: 2}) {
		t.Error("NaN distance evicted a real candidate")
	}
}

func TestTopK_NaNFirstIsEvicted(t *testing.T) {
	top := newTopK(1)
	top.offer(Candidate{Distance: math.NaN(), FaceID: 1})
	top.offer(Candidate{Distance: 5, FaceID: 2})
	top.offer(Candidate{Distance: 0, FaceID: 3})

	got := top.results()
	if len(got) != 1 || got[0].FaceID != 3 || got[0].Distance != 0 {
		t.Errorf("results() = %+v, want face 3 at distance 0", got)
	}
}

func TestTopK_NaNSortsLast(t *testing.T) {
	top := newTopK(3)
	top.offer(Candidate{Distance: math.NaN(), FaceID: 1})
	top.offer(Candidate{Distance: 2, FaceID: 2})
	top.offer(Candidate{Distance: 1, FaceID: 3})

	got := top.results()
	want := []int64{3, 2, 1}
	for i, id := range want {
		if got[i].FaceID != id {
			t.Errorf("results()[%d].FaceID = %d, want %d", i, got[i].FaceID, id)
		}
	}
}
