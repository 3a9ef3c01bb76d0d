package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{"GEOSERVER_URL": "http://localhost:8080/geoserver"}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(MapLookup(baseEnv()))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Server.Addr() = %q, want %q", cfg.Server.Addr(), "0.0.0.0:8080")
	}
	if cfg.Database.Host != "localhost" || cfg.Database.Port != 5432 {
		t.Errorf("Database = %s:%d, want localhost:5432", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.Schema != "public" {
		t.Errorf("Database.Schema = %q, want public", cfg.Database.Schema)
	}
	if cfg.GeoServer.User != "admin" || cfg.GeoServer.Password != "geoserver" {
		t.Errorf("GeoServer credentials = %q/%q, want admin/geoserver", cfg.GeoServer.User, cfg.GeoServer.Password)
	}
	if cfg.Batch.MaxConcurrentRuns != 1 {
		t.Errorf("Batch.MaxConcurrentRuns = %d, want 1", cfg.Batch.MaxConcurrentRuns)
	}
	if cfg.Batch.ImportBatchSize != 500 {
		t.Errorf("Batch.ImportBatchSize = %d, want 500", cfg.Batch.ImportBatchSize)
	}
	if !cfg.Batch.Overwrite {
		t.Error("Batch.Overwrite should default to true so a retried batch replaces its tables")
	}
	if cfg.Batch.RunTimeout != 2*time.Hour {
		t.Errorf("Batch.RunTimeout = %v, want 2h", cfg.Batch.RunTimeout)
	}
	if cfg.StoreParams() != nil {
		t.Error("StoreParams() should be nil without an override")
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	env := baseEnv()
	env["SERVER_PORT"] = "9090"
	env["PGHOST"] = "db.internal"
	env["PGPASSWORD"] = "s3cret"
	env["BATCH_TARGET_CRS"] = "EPSG:3857"
	env["BATCH_OVERWRITE"] = "false"
	env["LOG_LEVEL"] = "debug"

	cfg, err := LoadFrom(MapLookup(env))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	p := cfg.ConnectionParams()
	if p.Host != "db.internal" || p.Password != "s3cret" {
		t.Errorf("ConnectionParams() = %+v", p)
	}
	if cfg.Batch.Overwrite || cfg.Batch.TargetCRS != "EPSG:3857" {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_AltEnvVar(t *testing.T) {
	env := baseEnv()
	env["DB_NAME"] = "gis"
	env["DB_USER"] = "loader"

	cfg, err := LoadFrom(MapLookup(env))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Database.Name != "gis" || cfg.Database.User != "loader" {
		t.Errorf("Database = %+v, want name gis and user loader", cfg.Database)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := LoadFrom(MapLookup(map[string]string{}))
	if err == nil {
		t.Fatal("LoadFrom() expected error for missing GEOSERVER_URL")
	}
	if !strings.Contains(err.Error(), "GEOSERVER_URL") {
		t.Errorf("error should mention GEOSERVER_URL: %v", err)
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	env := baseEnv()
	env["BATCH_RUN_TIMEOUT"] = "soon"

	_, err := LoadFrom(MapLookup(env))
	if err == nil || !strings.Contains(err.Error(), "BATCH_RUN_TIMEOUT") {
		t.Errorf("expected BATCH_RUN_TIMEOUT error, got %v", err)
	}
}

func TestLoad_CommaSeparatedSlice(t *testing.T) {
	env := baseEnv()
	env["SCAN_EXCLUDE"] = "**/tmp/**, **/*.bak.shp ,"
	env["API_KEYS"] = "k1,k2"

	cfg, err := LoadFrom(MapLookup(env))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	want := []string{"**/tmp/**", "**/*.bak.shp"}
	if len(cfg.Scan.Exclude) != len(want) {
		t.Fatalf("Scan.Exclude = %v, want %v", cfg.Scan.Exclude, want)
	}
	for i, v := range want {
		if cfg.Scan.Exclude[i] != v {
			t.Errorf("Scan.Exclude[%d] = %q, want %q", i, cfg.Scan.Exclude[i], v)
		}
	}
	if len(cfg.Security.APIKeys) != 2 {
		t.Errorf("APIKeys = %v, want 2 keys", cfg.Security.APIKeys)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "GEOSERVER_URL=http://gs.example:8080/geoserver\nBATCH_WORKSPACE=from_file\n"
	if err := os.WriteFile(envFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("GEOSERVER_URL")
		os.Unsetenv("BATCH_WORKSPACE")
	})

	cfg, err := Load(filepath.Join(dir, "missing.env"), envFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Batch.Workspace != "from_file" {
		t.Errorf("Batch.Workspace = %q, want from_file", cfg.Batch.Workspace)
	}
}

func validConfig() *Config {
	return &Config{
		Server:    ServerConfig{Port: 8080, ShutdownTimeout: time.Second},
		Database:  DatabaseConfig{Port: 5432, Name: "gis", ConnectTimeout: time.Second},
		GeoServer: GeoServerConfig{URL: "http://localhost:8080/geoserver", Timeout: time.Second},
		Batch: BatchConfig{
			Workspace:         "ws",
			ImportBatchSize:   100,
			MaxConcurrentRuns: 1,
			SlotWait:          time.Second,
			RunTimeout:        time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"invalid port", func(c *Config) { c.Server.Port = 99999 }, "SERVER_PORT"},
		{"relative geoserver url", func(c *Config) { c.GeoServer.URL = "localhost/geoserver" }, "GEOSERVER_URL"},
		{"unknown target crs", func(c *Config) { c.Batch.TargetCRS = "mars" }, "BATCH_TARGET_CRS"},
		{"zero runs", func(c *Config) { c.Batch.MaxConcurrentRuns = 0 }, "BATCH_MAX_CONCURRENT_RUNS"},
		{"api key required but none", func(c *Config) { c.Security.RequireAPIKey = true }, "API_KEYS"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %s", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	for _, want := range []string{"SERVER_PORT", "LOG_FORMAT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %s: %v", want, err)
		}
	}
}

func TestStoreParamsOverride(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Host = "localhost"
	cfg.Database.StoreHost = "postgis"

	p := cfg.StoreParams()
	if p == nil {
		t.Fatal("StoreParams() = nil, want override")
	}
	if p.Host != "postgis" || p.Port != 5432 {
		t.Errorf("StoreParams() = %s:%d, want postgis:5432", p.Host, p.Port)
	}
}

func TestPublishTarget(t *testing.T) {
	cfg := validConfig()

	if got := cfg.PublishTarget("").Workspace; got != "ws" {
		t.Errorf("default workspace = %q, want ws", got)
	}
	target := cfg.PublishTarget("cities")
	if target.DataStore != "cities_datastore" {
		t.Errorf("DataStore = %q, want cities_datastore", target.DataStore)
	}
}

func TestConfigString_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Password = "dbsecret"
	cfg.GeoServer.Password = "gssecret"
	cfg.Security.APIKeys = []string{"apisecret"}

	str := cfg.String()
	for _, secret := range []string{"dbsecret", "gssecret", "apisecret"} {
		if strings.Contains(str, secret) {
			t.Errorf("String() leaks %q: %s", secret, str)
		}
	}
	if !strings.Contains(str, "MASKED") {
		t.Error("String() should contain MASKED placeholder")
	}
}
