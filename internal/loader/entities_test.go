package loader

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kozaktomas/clone-finder/internal/database"
	"github.com/kozaktomas/clone-finder/internal/database/mock"
	"github.com/kozaktomas/clone-finder/internal/logging"
)

func TestParseEntity(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantKey  string
		wantName string
		wantLang string
		wantErr  bool
	}{
		{"tagged", "m.02mjmr\t\"Barack Obama\"@en", "m.02mjmr", "Barack Obama", "en", false},
		{"rdf key", "<http://rdf.freebase.com/ns/m.06qjgc>\t\"Lionel Messi\"@es", "m.06qjgc", "Lionel Messi", "es", false},
		{"untagged", "m.1\tPlain Name", "m.1", "Plain Name", "", false},
		{"escaped quote", "m.2\t\"The \\\"Rock\\\"\"@en", "m.2", `The "Rock"`, "en", false},
		{"at inside name", "m.3\t\"a@b\"@fr", "m.3", "a@b", "fr", false},
		{"nfc", "m.4\t\"Jiří\"@cs", "m.4", "Jiří", "cs", false},
		{"missing field", "m.5", "", "", "", true},
		{"empty name", "m.6\t\"\"@en", "", "", "", true},
		{"empty key", "\t\"x\"@en", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, lang, err := parseEntity(1, strings.Split(tt.line, "\t"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseEntity() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrParse) {
					t.Errorf("error %v does not wrap ErrParse", err)
				}
				return
			}
			if e.Key != tt.wantKey || e.Name != tt.wantName || lang != tt.wantLang {
				t.Errorf("parseEntity() = %+v, %q; want %q %q %q", e, lang, tt.wantKey, tt.wantName, tt.wantLang)
			}
		})
	}
}

func TestEntityLoader_Load(t *testing.T) {
	store := mock.NewMockStore()
	store.AddEntity(database.Entity{Key: "m.old", Name: "Original"})

	input := strings.Join([]string{
		"m.02mjmr\t\"Barack Obama\"@en",
		"m.02mjmr\t\"Barack Obama\"@de",
		"m.06w2sn5\t\"Justin Bieber\"@en",
		"m.06w2sn5\t\"Justin Drew Bieber\"@en",
		"m.old\t\"Renamed\"@en",
		"garbage",
	}, "\n")

	l := NewEntityLoader(store, EntityOptions{Language: "en", BatchSize: 2}, logging.Discard())
	stats, err := l.Load(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := EntityStats{Rows: 6, Inserted: 2, Existing: 2, Filtered: 1, Failed: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	old, _ := store.GetEntity(context.Background(), "m.old")
	if old.Name != "Original" {
		t.Errorf("existing entity renamed to %q", old.Name)
	}
	bieber, err := store.GetEntity(context.Background(), "m.06w2sn5")
	if err != nil || bieber.Name != "Justin Bieber" {
		t.Errorf("GetEntity() = %+v, %v; want first name kept", bieber, err)
	}
}

func TestEntityLoader_SaveFailure(t *testing.T) {
	store := mock.NewMockStore()
	store.SaveEntitiesError = errors.New("read-only")
	l := NewEntityLoader(store, EntityOptions{}, logging.Discard())

	if _, err := l.Load(context.Background(), strings.NewReader("m.1\t\"x\"@en\n")); err == nil {
		t.Error("Load() succeeded despite save failure")
	}
}
