package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/metrics"
)

// Backend names accepted by ServiceConfig.
const (
	BackendInMemory = "inmemory"
	BackendOnDisk   = "ondisk"
)

// ServiceStore is what a Service reads from.
type ServiceStore interface {
	database.SnapshotSource
	EntityLookup
}

// ServiceConfig selects the backend and index settings of a Service.
type ServiceConfig struct {
	Backend   string // inmemory or ondisk
	IndexPath string // optional snapshot location for inmemory
	Index     database.AnnIndexOptions
	CacheSize int
}

// Service answers enriched searches and swaps its engine when the index is
// rebuilt. Queries run concurrently with a rebuild against the old index.
type Service struct {
	store   ServiceStore
	cfg     ServiceConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	engine   *Engine
	index    *database.AnnIndex
	enricher *Enricher
	rebuild  sync.Mutex
}

// NewService builds the initial engine. For the in-memory backend this loads
// the snapshot at cfg.IndexPath when fresh and builds the index otherwise.
func NewService(ctx context.Context, store ServiceStore, cfg ServiceConfig, logger *slog.Logger, m *metrics.Metrics) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(cfg.Backend) {
	case "", BackendInMemory, "memory":
		cfg.Backend = BackendInMemory
	case BackendOnDisk, "disk":
		cfg.Backend = BackendOnDisk
	default:
		return nil, fmt.Errorf("unknown search backend %q", cfg.Backend)
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = database.MetricEuclidean
	}

	enricher, err := NewEnricher(store,
		WithCache(cfg.CacheSize),
		WithEnricherLogger(logger),
		WithEnricherMetrics(m))
	if err != nil {
		return nil, err
	}

	s := &Service{store: store, cfg: cfg, logger: logger, metrics: m, enricher: enricher}
	if cfg.Backend == BackendOnDisk {
		engine, err := New(OnDisk{Store: store}, WithMetric(cfg.Index.Metric), WithLogger(logger), WithMetrics(m))
		if err != nil {
			return nil, err
		}
		s.engine = engine
		return s, nil
	}

	start := time.Now()
	idx, loaded, err := database.LoadOrBuildAnnIndex(ctx, store, cfg.IndexPath, cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("prepare index: %w", err)
	}
	if !loaded {
		m.RecordIndexBuild(time.Since(start).Seconds())
	}
	if err := s.install(idx); err != nil {
		return nil, err
	}
	logger.Info("face index ready",
		"faces", idx.Len(), "dim", idx.Dim(), "metric", idx.Metric(),
		"loaded_from_disk", loaded, "elapsed", time.Since(start))
	return s, nil
}

func (s *Service) install(idx *database.AnnIndex) error {
	engine, err := New(InMemory{Index: idx}, WithLogger(s.logger), WithMetrics(s.metrics))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.engine, s.index = engine, idx
	s.mu.Unlock()
	s.metrics.SetIndexSize(idx.Len())
	return nil
}

// Backend returns inmemory or ondisk.
func (s *Service) Backend() string { return s.cfg.Backend }

// Index returns the metadata of the current index, or nil for the on-disk backend.
func (s *Service) Index() *database.AnnIndexMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil {
		return nil
	}
	meta := s.index.Metadata()
	return &meta
}

// Search runs a query and enriches the candidates. Lookup failures are
// returned alongside the matches that did resolve.
func (s *Service) Search(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	s.mu.RLock()
	engine, enricher := s.engine, s.enricher
	s.mu.RUnlock()

	candidates, err := engine.Query(ctx, embedding, k)
	if err != nil {
		return nil, err
	}
	return enricher.Enrich(ctx, candidates)
}

// Rebuild builds a fresh index from the store and swaps it in. The on-disk
// backend has nothing to rebuild and returns nil metadata.
func (s *Service) Rebuild(ctx context.Context) (*database.AnnIndexMetadata, error) {
	if s.cfg.Backend == BackendOnDisk {
		return nil, nil
	}
	s.rebuild.Lock()
	defer s.rebuild.Unlock()

	start := time.Now()
	idx, err := database.BuildAnnIndexFromStore(ctx, s.store, s.cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	s.metrics.RecordIndexBuild(time.Since(start).Seconds())

	if s.cfg.IndexPath != "" {
		if err := idx.Save(s.cfg.IndexPath); err != nil {
			return nil, fmt.Errorf("save index: %w", err)
		}
	}
	if err := s.install(idx); err != nil {
		return nil, err
	}
	s.enricher.Purge()

	meta := idx.Metadata()
	s.logger.Info("face index rebuilt", "faces", idx.Len(), "elapsed", time.Since(start))
	return &meta, nil
}
