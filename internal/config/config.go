// Package config loads settings from environment variables (optionally
// seeded from a .env file), applies defaults and validates them on startup.
package config

import (
	"strconv"
	"time"

	"github.com/JonMunkholm/geopublish/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	GeoServer GeoServerConfig
	Batch     BatchConfig
	Scan      ScanConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout stays 0 so progress streams are not cut off.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including active runs (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds the PostGIS connection. The standard libpq
// variable names are used.
type DatabaseConfig struct {
	Host     string `env:"PGHOST" default:"localhost"`
	Port     int    `env:"PGPORT" default:"5432"`
	Name     string `env:"PGDATABASE" envAlt:"DB_NAME" default:"postgres"`
	User     string `env:"PGUSER" envAlt:"DB_USER" default:"postgres"`
	Password string `env:"PGPASSWORD" envAlt:"DB_PASSWORD"`

	// Schema is where tables are imported and published from (default: public)
	Schema string `env:"PGSCHEMA" default:"public"`

	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s"`

	// StoreHost and StorePort override how GeoServer reaches the database,
	// for when it runs on another network (e.g. a container named "postgis").
	StoreHost string `env:"GEOSERVER_DB_HOST"`
	StorePort int    `env:"GEOSERVER_DB_PORT"`
}

// GeoServerConfig holds map server settings.
type GeoServerConfig struct {
	// URL is the GeoServer base URL, e.g. http://localhost:8080/geoserver (required)
	URL      string        `env:"GEOSERVER_URL" required:"true"`
	User     string        `env:"GEOSERVER_USER" default:"admin"`
	Password string        `env:"GEOSERVER_PASSWORD" default:"geoserver"`
	Timeout  time.Duration `env:"GEOSERVER_TIMEOUT" default:"30s"`

	// Retries applies to read-only requests only (default: 2)
	Retries int `env:"GEOSERVER_RETRIES" default:"2"`
}

// BatchConfig holds publish run defaults.
type BatchConfig struct {
	// Workspace is used when a run does not name one (default: geopublish)
	Workspace string `env:"BATCH_WORKSPACE" default:"geopublish"`

	// TargetCRS, when set, reprojects every item to this CRS.
	TargetCRS string `env:"BATCH_TARGET_CRS"`

	// Overwrite replaces existing tables; when off, rows are appended (default: true)
	Overwrite bool `env:"BATCH_OVERWRITE" default:"true"`

	// ImportBatchSize is the number of features per insert batch (default: 500)
	ImportBatchSize int `env:"BATCH_IMPORT_SIZE" default:"500"`

	// MaxConcurrentRuns is the number of parallel runs (default: 1)
	MaxConcurrentRuns int `env:"BATCH_MAX_CONCURRENT_RUNS" default:"1"`

	// SlotWait is how long a run request waits for a free slot (default: 2s)
	SlotWait time.Duration `env:"BATCH_SLOT_WAIT" default:"2s"`

	RunTimeout time.Duration `env:"BATCH_RUN_TIMEOUT" default:"2h"`

	// Retention is how long finished runs stay queryable (default: 10m)
	Retention time.Duration `env:"BATCH_RETENTION" default:"10m"`
}

// ScanConfig holds folder scan defaults.
type ScanConfig struct {
	// Root is the only directory tree the HTTP API may scan (default: .)
	Root string `env:"SCAN_ROOT" default:"."`

	// Include and Exclude are comma-separated doublestar globs.
	Include []string `env:"SCAN_INCLUDE"`
	Exclude []string `env:"SCAN_EXCLUDE"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key authentication on /api routes.
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys.
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of proxy CIDRs whose
	// forwarding headers are honored.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RateLimit is the number of requests per minute allowed per client IP.
	// Zero disables rate limiting (default: 100)
	RateLimit int `env:"RATE_LIMIT_PER_MINUTE" default:"100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// ConnectionParams returns the database connection for the gateway.
func (c *Config) ConnectionParams() domain.ConnectionParams {
	return domain.ConnectionParams{
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		Database: c.Database.Name,
		User:     c.Database.User,
		Password: c.Database.Password,
		Schema:   c.Database.Schema,
		Timeout:  c.Database.ConnectTimeout,
	}
}

// StoreParams returns the connection GeoServer should use for the data
// store, or nil when it matches ConnectionParams.
func (c *Config) StoreParams() *domain.ConnectionParams {
	if c.Database.StoreHost == "" && c.Database.StorePort == 0 {
		return nil
	}
	p := c.ConnectionParams()
	if c.Database.StoreHost != "" {
		p.Host = c.Database.StoreHost
	}
	if c.Database.StorePort != 0 {
		p.Port = c.Database.StorePort
	}
	return &p
}

// PublishTarget returns the target for workspace, or the configured
// default workspace when it is empty.
func (c *Config) PublishTarget(workspace string) domain.PublishTarget {
	if workspace == "" {
		workspace = c.Batch.Workspace
	}
	return domain.NewPublishTarget(workspace, c.GeoServer.URL, c.GeoServer.User, c.GeoServer.Password)
}
