package matcher

import (
	"math"
	"sort"
)

// Candidate is a ranked match before enrichment.
type Candidate struct {
	Distance float64 `json:"distance"`
	FaceID   int64   `json:"face_id"`
}

// topK keeps the k smallest candidates in ascending distance order.
// Equal distances keep their arrival order.
type topK struct {
	k     int
	items []Candidate
}

func newTopK(k int) *topK {
	return &topK{k: k, items: make([]Candidate, 0, max(k, 0))}
}

// rankKey orders NaN after every real distance.
func rankKey(d float64) float64 {
	if math.IsNaN(d) {
		return math.Inf(1)
	}
	return d
}

// offer inserts c in sorted position. Once the list is full, c is accepted
// only if strictly closer than the current worst, which is then evicted.
func (t *topK) offer(c Candidate) bool {
	if t.k <= 0 {
		return false
	}
	n := len(t.items)
	key := rankKey(c.Distance)
	if n == t.k && !(key < rankKey(t.items[n-1].Distance)) {
		return false
	}

	// Insert after every element with an equal distance.
	i := sort.Search(n, func(i int) bool { return rankKey(t.items[i].Distance) > key })

	if n < t.k {
		t.items = append(t.items, Candidate{})
		n++
	}
	copy(t.items[i+1:n], t.items[i:n-1])
	t.items[i] = c
	return true
}

// worst returns the distance that a new candidate has to beat when full.
func (t *topK) worst() (float64, bool) {
	if len(t.items) < t.k || len(t.items) == 0 {
		return 0, false
	}
	return t.items[len(t.items)-1].Distance, true
}

func (t *topK) results() []Candidate {
	return t.items
}
