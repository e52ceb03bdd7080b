package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// Dataset configuration.
	DataDir     string
	CatalogPath string
	DefaultYear int

	// Clustering and level of detail.
	ClusterRadius    float64
	ClusterExtent    float64
	ClusterMinZoom   int
	ClusterMaxZoom   int
	ClusterMinPoints int
	LODZoomThreshold int

	// Tile source readiness handshake.
	ReadinessMaxRetries   int
	ReadinessInterval     time.Duration
	ReadinessProbeTimeout time.Duration

	// Tiled backend. An empty TileURLTemplate serves tiles from local boundaries.
	TileURLTemplate  string
	TileProbeURL     string
	TileKeyProperty  string
	TileFetchTimeout time.Duration
	TileFetchRPS     float64
	TileCacheSize    int
	ResponseCacheMB  int
	SessionCacheSize int

	// Feature-state publishing, enabled when KafkaBrokers is set.
	KafkaBrokers    []string
	KafkaStateTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	p := &parser{}
	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     splitList(sharedcfg.EnvOrDefault("CORS_ORIGINS", "*")),

		DataDir:     sharedcfg.EnvOrDefault("DATA_DIR", "data"),
		DefaultYear: p.intAtLeast("DEFAULT_YEAR", 0, 0),

		ClusterRadius:    p.positiveFloat("CLUSTER_RADIUS", 50),
		ClusterExtent:    p.positiveFloat("CLUSTER_EXTENT", 512),
		ClusterMinZoom:   p.intAtLeast("CLUSTER_MIN_ZOOM", 0, 0),
		ClusterMaxZoom:   p.intAtLeast("CLUSTER_MAX_ZOOM", 14, 0),
		ClusterMinPoints: p.intAtLeast("CLUSTER_MIN_POINTS", 2, 2),
		LODZoomThreshold: p.intAtLeast("LOD_ZOOM_THRESHOLD", 10, 1),

		ReadinessMaxRetries:   p.intAtLeast("READINESS_MAX_RETRIES", 10, 1),
		ReadinessInterval:     p.duration("READINESS_INTERVAL", "1s"),
		ReadinessProbeTimeout: p.duration("READINESS_PROBE_TIMEOUT", "2s"),

		TileURLTemplate:  sharedcfg.EnvOrDefault("TILE_URL_TEMPLATE", ""),
		TileProbeURL:     sharedcfg.EnvOrDefault("TILE_PROBE_URL", ""),
		TileKeyProperty:  sharedcfg.EnvOrDefault("TILE_KEY_PROPERTY", "GEOID"),
		TileFetchTimeout: p.duration("TILE_FETCH_TIMEOUT", "5s"),
		TileFetchRPS:     p.positiveFloat("TILE_FETCH_RPS", 20),
		TileCacheSize:    p.intAtLeast("TILE_CACHE_SIZE", 512, 1),
		ResponseCacheMB:  p.intAtLeast("RESPONSE_CACHE_MB", 64, 1),
		SessionCacheSize: p.intAtLeast("SESSION_CACHE_SIZE", 1024, 1),

		KafkaStateTopic: sharedcfg.EnvOrDefault("KAFKA_STATE_TOPIC", "region-feature-state"),
	}
	if brokers := sharedcfg.EnvOrDefault("KAFKA_BROKERS", ""); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}
	cfg.CatalogPath = sharedcfg.EnvOrDefault("CATALOG_PATH", filepath.Join(cfg.DataDir, "catalog.yaml"))

	if p.err != nil {
		return nil, p.err
	}
	if cfg.ClusterMinZoom > cfg.ClusterMaxZoom {
		return nil, fmt.Errorf("CLUSTER_MIN_ZOOM %d exceeds CLUSTER_MAX_ZOOM %d", cfg.ClusterMinZoom, cfg.ClusterMaxZoom)
	}
	if cfg.ClusterMaxZoom > 30 {
		return nil, fmt.Errorf("CLUSTER_MAX_ZOOM must be at most 30, got %d", cfg.ClusterMaxZoom)
	}
	if cfg.TileURLTemplate != "" && !hasTilePlaceholders(cfg.TileURLTemplate) {
		return nil, errors.New("TILE_URL_TEMPLATE must contain {z}, {x} and {y}")
	}
	if cfg.TileKeyProperty == "" {
		return nil, errors.New("TILE_KEY_PROPERTY is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaStateTopic == "" {
		return nil, errors.New("KAFKA_STATE_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// StatePublishing reports whether feature states are mirrored to Kafka.
func (c *Config) StatePublishing() bool {
	return len(c.KafkaBrokers) > 0
}

// RemoteTiles reports whether the tiled backend fetches from a remote server.
func (c *Config) RemoteTiles() bool {
	return c.TileURLTemplate != ""
}

func hasTilePlaceholders(tmpl string) bool {
	return strings.Contains(tmpl, "{z}") && strings.Contains(tmpl, "{x}") && strings.Contains(tmpl, "{y}")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser keeps the first validation error so Load can report it after
// reading every variable.
type parser struct {
	err error
}

func (p *parser) fail(name, value, want string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %s", name, value, want)
	}
}

func (p *parser) intAtLeast(name string, def, lo int) int {
	s := sharedcfg.EnvOrDefault(name, strconv.Itoa(def))
	n, err := strconv.Atoi(s)
	if err != nil || n < lo {
		p.fail(name, s, fmt.Sprintf("must be an integer >= %d", lo))
		return def
	}
	return n
}

func (p *parser) positiveFloat(name string, def float64) float64 {
	s := sharedcfg.EnvOrDefault(name, strconv.FormatFloat(def, 'f', -1, 64))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		p.fail(name, s, "must be a positive number")
		return def
	}
	return f
}

func (p *parser) duration(name, def string) time.Duration {
	s := sharedcfg.EnvOrDefault(name, def)
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		p.fail(name, s, "must be a positive duration")
		d, _ = time.ParseDuration(def)
	}
	return d
}
