package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Geometry backends.
const (
	BackendPostGIS = "postgis"
	BackendPlanar  = "planar"
)

// Config holds all application configuration.
type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Geometry GeometryConfig
	Features FeatureConfig
	Cache    CacheConfig
	Metrics  MetricsConfig
}

// AppConfig holds process-wide settings.
type AppConfig struct {
	Env      string
	LogLevel string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	PoolMin  int
	PoolMax  int
}

// GeometryConfig selects and tunes the geometry store.
type GeometryConfig struct {
	SRID              int
	TopologySRID      int
	TopologyTolerance float64
	Backend           string
	PlanarSnap        float64
	// BorderKinds are the area type slugs border extraction runs over when
	// none are given on the command line.
	BorderKinds []string
}

// FeatureConfig holds the defaults for feature projection.
type FeatureConfig struct {
	Simplify  float64
	Quantize  int
	Precision int
	Workers   int
}

// CacheConfig holds the Redis feature cache settings. An empty RedisAddr
// disables caching.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// MetricsConfig holds the metrics textfile location.
type MetricsConfig struct {
	Textfile string
}

// Load reads configuration from environment variables, optionally layered
// over the YAML file named by AREAS_CONFIG.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults for development
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "areas")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("GEOM_SRID", 4326)
	v.SetDefault("TOPOLOGY_SRID", 3857)
	v.SetDefault("TOPOLOGY_TOLERANCE", 15.0)
	v.SetDefault("GEOMETRY_BACKEND", BackendPostGIS)
	v.SetDefault("PLANAR_SNAP", 1e-7)
	v.SetDefault("BORDER_KINDS", "")
	v.SetDefault("FEATURE_SIMPLIFY", 1e-3)
	v.SetDefault("FEATURE_QUANTIZE", 5)
	v.SetDefault("FEATURE_PRECISION", 6)
	v.SetDefault("FEATURE_WORKERS", 4)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("FEATURE_CACHE_TTL", time.Hour)
	v.SetDefault("METRICS_TEXTFILE", "")

	// Bind environment variables
	v.AutomaticEnv()

	if path := v.GetString("AREAS_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	// Build configuration
	cfg := &Config{
		App: AppConfig{
			Env:      v.GetString("ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		Geometry: GeometryConfig{
			SRID:              v.GetInt("GEOM_SRID"),
			TopologySRID:      v.GetInt("TOPOLOGY_SRID"),
			TopologyTolerance: v.GetFloat64("TOPOLOGY_TOLERANCE"),
			Backend:           strings.ToLower(v.GetString("GEOMETRY_BACKEND")),
			PlanarSnap:        v.GetFloat64("PLANAR_SNAP"),
			BorderKinds:       parseList(v.GetString("BORDER_KINDS")),
		},
		Features: FeatureConfig{
			Simplify:  v.GetFloat64("FEATURE_SIMPLIFY"),
			Quantize:  v.GetInt("FEATURE_QUANTIZE"),
			Precision: v.GetInt("FEATURE_PRECISION"),
			Workers:   v.GetInt("FEATURE_WORKERS"),
		},
		Cache: CacheConfig{
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			TTL:           v.GetDuration("FEATURE_CACHE_TTL"),
		},
		Metrics: MetricsConfig{
			Textfile: v.GetString("METRICS_TEXTFILE"),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	switch c.App.Env {
	case "development", "production", "test":
	default:
		return fmt.Errorf("ENV must be development, production or test, got %q", c.App.Env)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	// Validate geometry config
	if c.Geometry.SRID <= 0 || c.Geometry.TopologySRID <= 0 {
		return fmt.Errorf("GEOM_SRID and TOPOLOGY_SRID must be positive")
	}
	if c.Geometry.TopologyTolerance < 0 {
		return fmt.Errorf("TOPOLOGY_TOLERANCE must be non-negative")
	}
	if c.Geometry.Backend != BackendPostGIS && c.Geometry.Backend != BackendPlanar {
		return fmt.Errorf("GEOMETRY_BACKEND must be %s or %s", BackendPostGIS, BackendPlanar)
	}

	// Validate feature config
	if c.Features.Simplify < 0 {
		return fmt.Errorf("FEATURE_SIMPLIFY must be non-negative")
	}
	if c.Features.Quantize < 0 || c.Features.Precision < 0 {
		return fmt.Errorf("FEATURE_QUANTIZE and FEATURE_PRECISION must be non-negative")
	}
	if c.Features.Workers < 1 {
		return fmt.Errorf("FEATURE_WORKERS must be at least 1")
	}

	if c.Cache.RedisAddr != "" && c.Cache.TTL <= 0 {
		return fmt.Errorf("FEATURE_CACHE_TTL must be positive when REDIS_ADDR is set")
	}

	return nil
}

// parseList splits a comma-separated string into a slice.
func parseList(list string) []string {
	if list == "" {
		return []string{}
	}

	parts := strings.Split(list, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
