// Package loader ingests labeled face feeds into the store.
//
// A pass is strictly sequential: whether a row is skipped depends on every
// earlier row of the same entity, so rows are never reordered or processed
// concurrently.
package loader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/facedetect"
	"github.com/kozaktomas/clone-finder/internal/metrics"
)

// Action is the classification of a feed row.
type Action string

const (
	ActionAdd    Action = "add"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
	ActionFailed Action = "failed"
)

const faceFields = 5

// Row is one face sample of the feed:
// image_id, base64 image, entity_key, rank, image_url.
type Row struct {
	Line      int
	ImageName string
	Image     string
	EntityKey string
	Rank      int
	ImageURL  string
}

// Key returns the natural key the row is looked up by.
func (r Row) Key() database.FaceKey {
	return database.FaceKey{ImageName: r.ImageName, EntityKey: r.EntityKey, SearchRank: r.Rank}
}

// Store is the part of the store a loader pass needs.
type Store interface {
	EntitySummaries(ctx context.Context) ([]database.EntitySummary, error)
	LookupFace(ctx context.Context, key database.FaceKey) (*database.Face, error)
	ApplyBatch(ctx context.Context, adds []database.Face, updates []database.FaceUpdate) error
	SaveIngestRun(ctx context.Context, run *database.IngestRun) error
}

// Options configures a pass.
type Options struct {
	BatchSize    int // accepted changes per transaction
	MinEncodings int // per-entity quota; 0 stores no encodings
	Mode         facedetect.Mode
	Source       string // recorded on the ingest run
}

// Stats counts the outcome of a pass.
type Stats struct {
	Rows      int `json:"rows"`
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	HardFaces int `json:"hard_faces"`
	Flushes   int `json:"flushes"`
}

// ProgressFunc is called after every processed row.
type ProgressFunc func(Stats)

// Loader runs ingestion passes.
type Loader struct {
	store    Store
	detector facedetect.Detector
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	progress ProgressFunc
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ld *Loader) { ld.metrics = m }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(ld *Loader) { ld.progress = fn }
}

// New creates a loader.
func New(store Store, detector facedetect.Detector, opts Options, options ...Option) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10000
	}
	if opts.Mode == "" {
		opts.Mode = facedetect.ModeHOG
	}
	l := &Loader{store: store, detector: detector, opts: opts, logger: slog.Default()}
	for _, o := range options {
		o(l)
	}
	return l
}

// pass is the working state of one Load call.
type pass struct {
	quota   map[string]int // encoded faces per entity
	pending map[database.FaceKey]struct{}
	adds    []database.Face
	updates []database.FaceUpdate
	stats   Stats
}

// Load runs one pass over r and records it as an ingest run.
// A failed batch rolls back and aborts the pass; everything flushed before it
// stays committed and the quota is rederived on the next run.
func (l *Loader) Load(ctx context.Context, r io.Reader) (Stats, error) {
	run := &database.IngestRun{Source: l.opts.Source, StartedAt: time.Now().UTC()}

	stats, err := l.load(ctx, r)

	run.FinishedAt = time.Now().UTC()
	run.Added, run.Updated = stats.Added, stats.Updated
	run.Skipped, run.Failed = stats.Skipped, stats.Failed
	run.Status = database.IngestStatusCompleted
	if err != nil {
		run.Status = database.IngestStatusFailed
	}
	if saveErr := l.store.SaveIngestRun(context.WithoutCancel(ctx), run); saveErr != nil {
		l.logger.Warn("failed to record ingest run", "error", saveErr)
	}

	l.logger.Info("load finished",
		"run_id", run.ID,
		"rows", stats.Rows,
		"added", stats.Added,
		"updated", stats.Updated,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"hard_faces", stats.HardFaces,
		"status", run.Status)
	return stats, err
}

func (l *Loader) load(ctx context.Context, r io.Reader) (Stats, error) {
	p, err := l.newPass(ctx)
	if err != nil {
		return Stats{}, err
	}

	lines := newLineReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return p.stats, err
		}

		fields, err := lines.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.stats, err
		}
		p.stats.Rows++

		row, err := parseRow(lines.line, fields)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) && pe.Column == "" {
				return p.stats, err
			}
			l.fail(p, err)
			continue
		}

		if err := l.process(ctx, p, row); err != nil {
			return p.stats, err
		}
		if l.progress != nil {
			l.progress(p.stats)
		}
	}

	if err := l.flush(ctx, p); err != nil {
		return p.stats, err
	}
	if l.progress != nil {
		l.progress(p.stats)
	}
	return p.stats, nil
}

// newPass seeds the quota from the store. Every stored entity gets an entry,
// including those without encodings, so only entities new to the store
// count as unseen.
func (l *Loader) newPass(ctx context.Context) (*pass, error) {
	summaries, err := l.store.EntitySummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to seed quota: %w", err)
	}
	p := &pass{
		quota:   make(map[string]int, len(summaries)),
		pending: make(map[database.FaceKey]struct{}),
	}
	for _, s := range summaries {
		p.quota[s.EntityKey] = int(s.Encoded)
	}
	l.logger.Debug("quota seeded", "entities", len(summaries))
	return p, nil
}

func (l *Loader) fail(p *pass, err error) {
	p.stats.Failed++
	l.metrics.RecordLoaderRow(string(ActionFailed))
	l.logger.Warn("skipping malformed row", "error", err)
}

// classify decides what to do with a row. existing is set for updates.
func (l *Loader) classify(ctx context.Context, p *pass, row Row) (Action, *database.Face, error) {
	encoded, seen := p.quota[row.EntityKey]
	if !seen {
		p.quota[row.EntityKey] = 0
		return ActionAdd, nil, nil
	}
	if encoded >= l.opts.MinEncodings {
		return ActionSkip, nil, nil
	}
	if _, ok := p.pending[row.Key()]; ok {
		return ActionSkip, nil, nil
	}

	face, err := l.store.LookupFace(ctx, row.Key())
	if err != nil {
		return "", nil, fmt.Errorf("line %d: lookup face: %w", row.Line, err)
	}
	switch {
	case face == nil:
		return ActionAdd, nil, nil
	case !face.IsTerminal():
		return ActionUpdate, face, nil
	default:
		return ActionSkip, nil, nil
	}
}

func (l *Loader) process(ctx context.Context, p *pass, row Row) error {
	action, existing, err := l.classify(ctx, p, row)
	if err != nil {
		return err
	}
	if action == ActionSkip {
		p.stats.Skipped++
		l.metrics.RecordLoaderRow(string(ActionSkip))
		return nil
	}

	img, err := base64.StdEncoding.DecodeString(row.Image)
	if err != nil {
		l.fail(p, &ParseError{Line: row.Line, Column: "image", Err: err})
		return nil
	}

	det, err := l.detector.Detect(ctx, img, l.opts.Mode)
	if errors.Is(err, facedetect.ErrInvalidImage) {
		l.fail(p, &ParseError{Line: row.Line, Column: "image", Err: err})
		return nil
	}
	if err != nil {
		return fmt.Errorf("line %d: detect face in %s: %w", row.Line, row.ImageName, err)
	}

	var (
		location  *database.BoundingBox
		landmarks database.Landmarks
		encoding  []float32
	)
	hard := det == nil
	if hard {
		p.stats.HardFaces++
	} else {
		box := det.Box
		location = &box
		landmarks = det.Landmarks
		if l.opts.MinEncodings > 0 {
			encoding = det.Embedding
		}
	}
	if encoding != nil {
		p.quota[row.EntityKey]++
	}
	p.pending[row.Key()] = struct{}{}

	switch action {
	case ActionAdd:
		p.adds = append(p.adds, database.Face{
			ImageName:  row.ImageName,
			Location:   location,
			Landmarks:  landmarks,
			Encoding:   encoding,
			SearchRank: row.Rank,
			ImageURL:   row.ImageURL,
			HardFace:   hard,
			EntityKey:  row.EntityKey,
		})
		p.stats.Added++
	case ActionUpdate:
		p.updates = append(p.updates, database.FaceUpdate{
			ID:        existing.ID,
			Location:  location,
			Landmarks: landmarks,
			Encoding:  encoding,
			HardFace:  hard,
		})
		p.stats.Updated++
	}
	l.metrics.RecordLoaderRow(string(action))

	if len(p.adds)+len(p.updates) >= l.opts.BatchSize {
		return l.flush(ctx, p)
	}
	return nil
}

// flush writes both buffers in one transaction and clears them.
func (l *Loader) flush(ctx context.Context, p *pass) error {
	if len(p.adds) == 0 && len(p.updates) == 0 {
		return nil
	}

	start := time.Now()
	err := l.store.ApplyBatch(ctx, p.adds, p.updates)
	elapsed := time.Since(start)
	if err != nil {
		l.metrics.RecordLoaderFlush("error", elapsed.Seconds())
		if !errors.Is(err, database.ErrBatchWrite) {
			err = fmt.Errorf("%w: %w", database.ErrBatchWrite, err)
		}
		return fmt.Errorf("flush %d adds and %d updates: %w", len(p.adds), len(p.updates), err)
	}
	l.metrics.RecordLoaderFlush("ok", elapsed.Seconds())

	p.stats.Flushes++
	l.logger.Info("batch committed",
		"flush", p.stats.Flushes,
		"adds", len(p.adds),
		"updates", len(p.updates),
		"rows", p.stats.Rows,
		"elapsed", elapsed)

	p.adds = p.adds[:0]
	p.updates = p.updates[:0]
	clear(p.pending)
	return nil
}

// parseRow validates a split feed line. A wrong field count is structural and
// reported without a column; a bad value names its column.
func parseRow(line int, fields []string) (Row, error) {
	if len(fields) != faceFields {
		return Row{}, &ParseError{Line: line, Err: fmt.Errorf("expected %d fields, got %d", faceFields, len(fields))}
	}
	rank, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil {
		return Row{}, &ParseError{Line: line, Column: "rank", Err: err}
	}
	row := Row{
		Line:      line,
		ImageName: fields[0],
		Image:     fields[1],
		EntityKey: fields[2],
		Rank:      rank,
		ImageURL:  fields[4],
	}
	if row.ImageName == "" || row.EntityKey == "" {
		return Row{}, &ParseError{Line: line, Column: "image_id", Err: errors.New("image id and entity key are required")}
	}
	return row, nil
}
