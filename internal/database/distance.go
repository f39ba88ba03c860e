package database

import (
	"fmt"
	"math"
	"strings"

	"github.com/coder/hnsw"
	"github.com/viterin/vek/vek32"
)

// Metric selects the distance function used for matching.
type Metric string

const (
	// MetricEuclidean is the L2 distance, the usual convention for dlib face encodings
	// where 0.6 separates same and different identities.
	MetricEuclidean Metric = "euclidean"
	// MetricCosine is 1 - cosine similarity, in [0, 2].
	MetricCosine Metric = "cosine"
)

// ParseMetric parses a metric name, accepting "" as the default.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricEuclidean, "l2":
		return MetricEuclidean, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q (expected euclidean or cosine)", s)
	}
}

// Distance computes the metric between two vectors of equal length.
func (m Metric) Distance(a, b []float32) float64 {
	if m == MetricCosine {
		return CosineDistance(a, b)
	}
	return EuclideanDistance(a, b)
}

// graphDistance returns the hnsw distance function matching the metric.
// Only functions registered with hnsw can be exported with the graph.
func (m Metric) graphDistance() hnsw.DistanceFunc {
	if m == MetricCosine {
		return hnsw.CosineDistance
	}
	return hnsw.EuclideanDistance
}

// EuclideanDistance computes the L2 distance between two vectors
// Returns +Inf for invalid input
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	return float64(vek32.Distance(a, b))
}

// CosineDistance computes the cosine distance between two vectors
// Returns a value between 0 (identical) and 2 (opposite)
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0 // Maximum distance for invalid input
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 2.0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	similarity = max(-1, min(1, similarity))

	return 1 - similarity
}
