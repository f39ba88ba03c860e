package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kozaktomas/clone-finder/internal/database"
	"golang.org/x/text/unicode/norm"
)

// EntityWriter persists entities, ignoring keys that already exist.
type EntityWriter interface {
	SaveEntities(ctx context.Context, entities []database.Entity) (int, error)
}

// EntityOptions configures an entity feed import.
type EntityOptions struct {
	Language  string // keep only names tagged with this language, empty keeps all
	BatchSize int
}

// EntityStats counts the outcome of an entity import.
type EntityStats struct {
	Rows     int `json:"rows"`
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
	Filtered int `json:"filtered"` // other language
	Failed   int `json:"failed"`
}

// EntityLoader imports the entity name feed: key \t "name"@lang.
type EntityLoader struct {
	store  EntityWriter
	opts   EntityOptions
	logger *slog.Logger
}

// NewEntityLoader creates an entity importer.
func NewEntityLoader(store EntityWriter, opts EntityOptions, logger *slog.Logger) *EntityLoader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityLoader{store: store, opts: opts, logger: logger}
}

// Load imports every entity of r. Entities are immutable, a key seen
// before (in the store or earlier in the feed) keeps its first name.
func (l *EntityLoader) Load(ctx context.Context, r io.Reader) (EntityStats, error) {
	var stats EntityStats
	batch := make([]database.Entity, 0, l.opts.BatchSize)
	seen := make(map[string]struct{})

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := l.store.SaveEntities(ctx, batch)
		if err != nil {
			return fmt.Errorf("save %d entities: %w", len(batch), err)
		}
		stats.Inserted += n
		stats.Existing += len(batch) - n
		batch = batch[:0]
		return nil
	}

	lines := newLineReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		fields, err := lines.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.Rows++

		entity, lang, err := parseEntity(lines.line, fields)
		if err != nil {
			stats.Failed++
			l.logger.Warn("skipping malformed entity row", "error", err)
			continue
		}
		if l.opts.Language != "" && !strings.EqualFold(lang, l.opts.Language) {
			stats.Filtered++
			continue
		}
		if _, dup := seen[entity.Key]; dup {
			stats.Existing++
			continue
		}
		seen[entity.Key] = struct{}{}

		batch = append(batch, entity)
		if len(batch) >= l.opts.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}

	l.logger.Info("entities loaded",
		"rows", stats.Rows,
		"inserted", stats.Inserted,
		"existing", stats.Existing,
		"filtered", stats.Filtered,
		"failed", stats.Failed)
	return stats, nil
}

// parseEntity reads `key \t "name"@lang`. The language tag is optional.
func parseEntity(line int, fields []string) (database.Entity, string, error) {
	if len(fields) != 2 {
		return database.Entity{}, "", &ParseError{Line: line, Err: fmt.Errorf("expected 2 fields, got %d", len(fields))}
	}
	key := normalizeEntityKey(fields[0])
	if key == "" {
		return database.Entity{}, "", &ParseError{Line: line, Column: "key", Err: errors.New("empty entity key")}
	}

	value := strings.TrimSpace(fields[1])
	var lang string
	if i := strings.LastIndex(value, "@"); i >= 0 && strings.HasSuffix(value[:i], `"`) {
		value, lang = value[:i], value[i+1:]
	}
	name := unquoteName(value)
	if name == "" {
		return database.Entity{}, "", &ParseError{Line: line, Column: "name", Err: errors.New("empty name")}
	}
	return database.Entity{Key: key, Name: norm.NFC.String(name)}, lang, nil
}

// normalizeEntityKey accepts bare keys (m.02mjmr) as well as RDF forms such
// as <http://rdf.freebase.com/ns/m.02mjmr>.
func normalizeEntityKey(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

func unquoteName(s string) string {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return strings.TrimSpace(s)
	}
	if name, err := strconv.Unquote(s); err == nil {
		return strings.TrimSpace(name)
	}
	// Not a valid Go literal (e.g. raw backslashes), strip the quotes only.
	return strings.TrimSpace(s[1 : len(s)-1])
}
