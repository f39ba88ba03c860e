// Package matcher answers top-k face similarity queries over the corpus.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/metrics"
)

// Backend selects how queries are answered. It is one of InMemory or OnDisk.
type Backend interface {
	// Name returns the backend label used in logs and metrics.
	Name() string
	query(ctx context.Context, e *Engine, q []float32, k int) ([]Candidate, error)
}

// InMemory answers queries from an approximate in-memory index.
type InMemory struct {
	Index *database.AnnIndex
}

// OnDisk answers queries exactly by streaming every encoding from the store.
type OnDisk struct {
	Store database.EncodingScanner
}

// Name implements Backend.
func (InMemory) Name() string { return "inmemory" }

// Name implements Backend.
func (OnDisk) Name() string { return "ondisk" }

// Engine runs queries against the backend chosen at construction.
type Engine struct {
	backend Backend
	metric  database.Metric
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetric sets the distance metric. For InMemory it must match the index.
func WithMetric(m database.Metric) Option {
	return func(e *Engine) { e.metric = m }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine over backend.
func New(backend Backend, opts ...Option) (*Engine, error) {
	e := &Engine{backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}

	switch b := backend.(type) {
	case InMemory:
		if b.Index == nil {
			return nil, errors.New("in-memory backend requires an index")
		}
		if e.metric == "" {
			e.metric = b.Index.Metric()
		}
		if e.metric != b.Index.Metric() {
			return nil, fmt.Errorf("index was built with %s distance, engine configured for %s", b.Index.Metric(), e.metric)
		}
	case OnDisk:
		if b.Store == nil {
			return nil, errors.New("on-disk backend requires a store")
		}
		if e.metric == "" {
			e.metric = database.MetricEuclidean
		}
	default:
		return nil, fmt.Errorf("unsupported backend %T", backend)
	}
	return e, nil
}

// Backend returns the backend label.
func (e *Engine) Backend() string { return e.backend.Name() }

// Metric returns the distance metric in use.
func (e *Engine) Metric() database.Metric { return e.metric }

// Query returns up to k candidates ordered by ascending distance.
// An empty corpus or k <= 0 yields an empty result, not an error.
// A query of the wrong size fails with a *DimensionMismatchError and leaves
// the engine usable.
func (e *Engine) Query(ctx context.Context, embedding []float32, k int) ([]Candidate, error) {
	if k <= 0 {
		return []Candidate{}, nil
	}

	start := time.Now()
	res, err := e.backend.query(ctx, e, embedding, k)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, database.ErrDimensionMismatch) {
			status = "dimension_mismatch"
		}
	}
	e.metrics.RecordQuery(e.backend.Name(), status, elapsed.Seconds())

	if err != nil {
		return nil, err
	}
	e.logger.Debug("query finished",
		"backend", e.backend.Name(), "k", k, "results", len(res), "elapsed", elapsed)
	return res, nil
}

func (b InMemory) query(_ context.Context, e *Engine, q []float32, k int) ([]Candidate, error) {
	if b.Index.Len() == 0 {
		return []Candidate{}, nil
	}
	if len(q) != b.Index.Dim() {
		return nil, &DimensionMismatchError{Query: len(q), Corpus: b.Index.Dim()}
	}

	neighbors, err := b.Index.Search(q, k)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}
	e.metrics.AddCandidatesScanned(b.Name(), len(neighbors))

	out := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		id, ok := b.Index.ID(n.Ordinal)
		if !ok {
			return nil, fmt.Errorf("index returned ordinal %d outside id table of %d", n.Ordinal, b.Index.Len())
		}
		out = append(out, Candidate{Distance: n.Distance, FaceID: id})
	}
	return out, nil
}

func (b OnDisk) query(ctx context.Context, e *Engine, q []float32, k int) ([]Candidate, error) {
	top := newTopK(k)
	scanned := 0

	err := b.Store.ScanEncodings(ctx, func(id int64, enc []float32) error {
		if scanned%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		scanned++
		if len(enc) != len(q) {
			return &DimensionMismatchError{Query: len(q), Corpus: len(enc), FaceID: id}
		}
		top.offer(Candidate{Distance: e.metric.Distance(q, enc), FaceID: id})
		return nil
	})
	e.metrics.AddCandidatesScanned(b.Name(), scanned)
	if err != nil {
		return nil, fmt.Errorf("scan corpus: %w", err)
	}
	return top.results(), nil
}
