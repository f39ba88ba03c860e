package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Index    IndexConfig    `yaml:"index"`
	Detector DetectorConfig `yaml:"detector"`
	Loader   LoaderConfig   `yaml:"loader"`
	Search   SearchConfig   `yaml:"search"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`         // sqlite, postgres or mariadb
	URL          string `yaml:"url"`            // file path for sqlite, DSN otherwise
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
}

type IndexConfig struct {
	Path         string `yaml:"path"`   // Path to persist the face index (optional)
	Metric       string `yaml:"metric"` // euclidean or cosine
	MaxNeighbors int    `yaml:"max_neighbors"`
	EfSearch     int    `yaml:"ef_search"`
}

type DetectorConfig struct {
	Backend        string `yaml:"backend"`    // http or dlib
	URL            string `yaml:"url"`        // embedding server base URL
	ModelsDir      string `yaml:"models_dir"` // dlib model files
	Mode           string `yaml:"mode"`       // hog (fast) or cnn (accurate)
	MaxImageDim    int    `yaml:"max_image_dim"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type LoaderConfig struct {
	BatchSize      int    `yaml:"batch_size"`    // accepted changes per transaction
	MinEncodings   int    `yaml:"min_encodings"` // per-entity quota, 0 disables encoding
	EntityLanguage string `yaml:"entity_language"`
}

type SearchConfig struct {
	Backend   string `yaml:"backend"` // inmemory (approximate) or ondisk (exact)
	K         int    `yaml:"k"`
	CacheSize int    `yaml:"cache_size"` // face to entity lookup cache, 0 disables
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envCount is envInt that also accepts zero.
func envCount(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

// Defaults returns the embedded defaults without environment overrides.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	cfg := Defaults()

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(envString("DATABASE_DRIVER", cfg.Database.Driver)),
		URL:          envString("DATABASE_URL", cfg.Database.URL),
		MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns),
		MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns),
	}
	cfg.Index = IndexConfig{
		Path:         envString("HNSW_INDEX_PATH", cfg.Index.Path),
		Metric:       envString("DISTANCE_METRIC", cfg.Index.Metric),
		MaxNeighbors: envInt("HNSW_MAX_NEIGHBORS", cfg.Index.MaxNeighbors),
		EfSearch:     envInt("HNSW_EF_SEARCH", cfg.Index.EfSearch),
	}
	cfg.Detector = DetectorConfig{
		Backend:        strings.ToLower(envString("DETECTOR_BACKEND", cfg.Detector.Backend)),
		URL:            envString("EMBEDDING_URL", cfg.Detector.URL),
		ModelsDir:      envString("DLIB_MODELS_DIR", cfg.Detector.ModelsDir),
		Mode:           strings.ToLower(envString("DETECTOR_MODE", cfg.Detector.Mode)),
		MaxImageDim:    envInt("DETECTOR_MAX_IMAGE_DIM", cfg.Detector.MaxImageDim),
		TimeoutSeconds: envInt("DETECTOR_TIMEOUT_SECONDS", cfg.Detector.TimeoutSeconds),
	}
	cfg.Loader = LoaderConfig{
		BatchSize:      envInt("LOADER_BATCH_SIZE", cfg.Loader.BatchSize),
		MinEncodings:   envCount("LOADER_MIN_ENCODINGS", cfg.Loader.MinEncodings),
		EntityLanguage: envString("ENTITY_LANGUAGE", cfg.Loader.EntityLanguage),
	}
	cfg.Search = SearchConfig{
		Backend:   strings.ToLower(envString("SEARCH_BACKEND", cfg.Search.Backend)),
		K:         envInt("SEARCH_K", cfg.Search.K),
		CacheSize: envCount("LOOKUP_CACHE_SIZE", cfg.Search.CacheSize),
	}
	cfg.Server = ServerConfig{
		Host: envString("WEB_HOST", cfg.Server.Host),
		Port: envInt("PORT", cfg.Server.Port),
	}
	cfg.Logging = LoggingConfig{
		Level:  strings.ToLower(envString("LOG_LEVEL", cfg.Logging.Level)),
		Format: strings.ToLower(envString("LOG_FORMAT", cfg.Logging.Format)),
	}

	return cfg
}
