package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_WithDefaults(t *testing.T) {
	// Clear all environment variables
	clearConfigEnvVars()

	// Set only required env var (password has no default)
	os.Setenv("DB_PASSWORD", "testpass")
	defer os.Unsetenv("DB_PASSWORD")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Verify defaults
	if cfg.App.Env != "development" {
		t.Errorf("Expected env development, got %s", cfg.App.Env)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Expected host localhost, got %s", cfg.Database.Host)
	}
	if cfg.Database.Name != "areas" {
		t.Errorf("Expected db name areas, got %s", cfg.Database.Name)
	}
	if cfg.Database.PoolMin != 2 || cfg.Database.PoolMax != 10 {
		t.Errorf("Expected pool 2..10, got %d..%d", cfg.Database.PoolMin, cfg.Database.PoolMax)
	}
	if cfg.Geometry.SRID != 4326 || cfg.Geometry.TopologySRID != 3857 {
		t.Errorf("Expected SRIDs 4326/3857, got %d/%d", cfg.Geometry.SRID, cfg.Geometry.TopologySRID)
	}
	if cfg.Geometry.TopologyTolerance != 15 {
		t.Errorf("Expected topology tolerance 15, got %f", cfg.Geometry.TopologyTolerance)
	}
	if cfg.Geometry.Backend != BackendPostGIS {
		t.Errorf("Expected postgis backend, got %s", cfg.Geometry.Backend)
	}
	if cfg.Features.Simplify != 1e-3 || cfg.Features.Quantize != 5 || cfg.Features.Precision != 6 {
		t.Errorf("Unexpected feature defaults: %+v", cfg.Features)
	}
	if cfg.Features.Workers != 4 {
		t.Errorf("Expected 4 workers, got %d", cfg.Features.Workers)
	}
	if cfg.Cache.RedisAddr != "" {
		t.Errorf("Expected cache disabled, got %s", cfg.Cache.RedisAddr)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Expected cache TTL 1h, got %s", cfg.Cache.TTL)
	}
	if len(cfg.Geometry.BorderKinds) != 0 {
		t.Errorf("Expected no border kinds, got %v", cfg.Geometry.BorderKinds)
	}
}

func TestLoad_WithEnvironmentVariables(t *testing.T) {
	// Set all environment variables
	os.Setenv("ENV", "production")
	os.Setenv("DB_HOST", "db")
	os.Setenv("DB_PORT", "5433")
	os.Setenv("DB_NAME", "testdb")
	os.Setenv("DB_USER", "testuser")
	os.Setenv("DB_PASSWORD", "testpass")
	os.Setenv("DB_POOL_MIN", "5")
	os.Setenv("DB_POOL_MAX", "20")
	os.Setenv("GEOMETRY_BACKEND", "Planar")
	os.Setenv("BORDER_KINDS", "district, commune")
	os.Setenv("FEATURE_WORKERS", "8")
	os.Setenv("REDIS_ADDR", "redis:6379")
	os.Setenv("FEATURE_CACHE_TTL", "15m")
	defer clearConfigEnvVars()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Verify all values from environment
	if cfg.App.Env != "production" {
		t.Errorf("Expected env production, got %s", cfg.App.Env)
	}
	if cfg.Database.Host != "db" || cfg.Database.Port != "5433" {
		t.Errorf("Expected db:5433, got %s:%s", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.PoolMax != 20 {
		t.Errorf("Expected pool max 20, got %d", cfg.Database.PoolMax)
	}
	if cfg.Geometry.Backend != BackendPlanar {
		t.Errorf("Expected planar backend, got %s", cfg.Geometry.Backend)
	}
	if len(cfg.Geometry.BorderKinds) != 2 || cfg.Geometry.BorderKinds[1] != "commune" {
		t.Errorf("Unexpected border kinds %v", cfg.Geometry.BorderKinds)
	}
	if cfg.Features.Workers != 8 {
		t.Errorf("Expected 8 workers, got %d", cfg.Features.Workers)
	}
	if cfg.Cache.RedisAddr != "redis:6379" || cfg.Cache.TTL != 15*time.Minute {
		t.Errorf("Unexpected cache config %+v", cfg.Cache)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearConfigEnvVars()
	defer clearConfigEnvVars()

	path := filepath.Join(t.TempDir(), "areas.yaml")
	content := "db_password: filepass\nfeature_simplify: 0.01\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	os.Setenv("AREAS_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Database.Password != "filepass" {
		t.Errorf("Expected password from file, got %q", cfg.Database.Password)
	}
	if cfg.Features.Simplify != 0.01 {
		t.Errorf("Expected simplify 0.01, got %f", cfg.Features.Simplify)
	}
}

func TestLoad_MissingPassword(t *testing.T) {
	// Clear all environment variables (password has no default)
	clearConfigEnvVars()

	_, err := Load()
	if err == nil {
		t.Error("Expected error when DB_PASSWORD is missing")
	}
}

func TestValidate_InvalidPoolSizes(t *testing.T) {
	tests := []struct {
		name    string
		poolMin int
		poolMax int
		wantErr bool
	}{
		{
			name:    "negative pool min",
			poolMin: -1,
			poolMax: 10,
			wantErr: true,
		},
		{
			name:    "zero pool max",
			poolMin: 0,
			poolMax: 0,
			wantErr: true,
		},
		{
			name:    "pool min greater than max",
			poolMin: 15,
			poolMax: 10,
			wantErr: true,
		},
		{
			name:    "valid pool sizes",
			poolMin: 2,
			poolMax: 10,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Database.PoolMin = tt.poolMin
			cfg.Database.PoolMax = tt.poolMax

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_InvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown env", func(c *Config) { c.App.Env = "staging" }},
		{"missing db host", func(c *Config) { c.Database.Host = "" }},
		{"missing db password", func(c *Config) { c.Database.Password = "" }},
		{"unknown backend", func(c *Config) { c.Geometry.Backend = "geos" }},
		{"negative tolerance", func(c *Config) { c.Geometry.TopologyTolerance = -1 }},
		{"negative simplify", func(c *Config) { c.Features.Simplify = -0.1 }},
		{"no workers", func(c *Config) { c.Features.Workers = 0 }},
		{"cache without ttl", func(c *Config) { c.Cache.RedisAddr = "localhost:6379"; c.Cache.TTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error but got none")
			}
		})
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect []string
	}{
		{"single", "district", []string{"district"}},
		{"multiple", "district,commune", []string{"district", "commune"}},
		{"with spaces", " district , commune ", []string{"district", "commune"}},
		{"empty string", "", []string{}},
		{"only commas", ",,,", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseList(tt.input)
			if len(result) != len(tt.expect) {
				t.Errorf("Expected %d items, got %d", len(tt.expect), len(result))
				return
			}
			for i, item := range result {
				if item != tt.expect[i] {
					t.Errorf("Expected %s at index %d, got %s", tt.expect[i], i, item)
				}
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		App: AppConfig{Env: "development"},
		Database: DatabaseConfig{
			Host: "localhost", Port: "5432", Name: "areas",
			User: "postgres", Password: "postgres", PoolMin: 2, PoolMax: 10,
		},
		Geometry: GeometryConfig{SRID: 4326, TopologySRID: 3857, TopologyTolerance: 15, Backend: BackendPostGIS},
		Features: FeatureConfig{Simplify: 1e-3, Quantize: 5, Precision: 6, Workers: 4},
		Cache:    CacheConfig{TTL: time.Hour},
	}
}

// Helper function to clear all config-related environment variables
func clearConfigEnvVars() {
	for _, key := range []string{
		"AREAS_CONFIG", "ENV", "LOG_LEVEL",
		"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD", "DB_POOL_MIN", "DB_POOL_MAX",
		"GEOM_SRID", "TOPOLOGY_SRID", "TOPOLOGY_TOLERANCE", "GEOMETRY_BACKEND", "PLANAR_SNAP", "BORDER_KINDS",
		"FEATURE_SIMPLIFY", "FEATURE_QUANTIZE", "FEATURE_PRECISION", "FEATURE_WORKERS",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "FEATURE_CACHE_TTL", "METRICS_TEXTFILE",
	} {
		os.Unsetenv(key)
	}
}
