// Package config provides configuration management for the registry server.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for the registry server.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Auth is the API authentication configuration.
	Auth AuthConfig `mapstructure:"auth"`

	// Registry is the registry/discovery engine configuration.
	Registry RegistryConfig `mapstructure:"registry" validate:"required"`

	// Cluster is the multi-node replication configuration.
	Cluster ClusterConfig `mapstructure:"cluster"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1024,max=65535"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// ExposedHeaders is the list of headers exposed to the client.
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	// Enabled requires a valid API key on every non-public request.
	Enabled bool `mapstructure:"enabled"`

	// APIKey is the shared secret clients present via the
	// X-Registry-API-Key header or api_key query parameter.
	APIKey string `mapstructure:"api_key"`

	// PublicPaths lists path prefixes exempt from the API key check
	// (health/readiness probes, metrics).
	PublicPaths []string `mapstructure:"public_paths"`
}

// RegistryConfig holds the registry/discovery engine's own settings.
type RegistryConfig struct {
	// NodeID uniquely identifies this node, locally and to peers.
	NodeID string `mapstructure:"node_id" validate:"required"`

	// EventBusBuffer is the per-subscription buffered channel size.
	EventBusBuffer int `mapstructure:"event_bus_buffer" validate:"min=1"`

	// Lifecycle is the heartbeat-expiry scanner configuration.
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`

	// HealthProbe is the active health probe engine configuration.
	HealthProbe HealthProbeConfig `mapstructure:"health_probe"`
}

// LifecycleConfig mirrors lifecycle.Config for configuration loading.
type LifecycleConfig struct {
	// ScanInterval is how often the heartbeat-expiry scanner runs.
	ScanInterval time.Duration `mapstructure:"scan_interval"`

	// AutoDeregisterOnExpiry removes long-expired instances instead of
	// leaving them parked in DOWN/UNKNOWN.
	AutoDeregisterOnExpiry bool `mapstructure:"auto_deregister_on_expiry"`
}

// HealthProbeConfig mirrors healthprobe.Config for configuration loading.
type HealthProbeConfig struct {
	// Workers is the size of the bounded probe worker pool.
	Workers int `mapstructure:"workers" validate:"min=0"`

	// ReconcileInterval is the cadence of the drift-repair sync.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`

	// DispatchRate bounds outbound probe dispatch, in probes/second.
	DispatchRate float64 `mapstructure:"dispatch_rate" validate:"min=0"`
}

// ClusterConfig holds multi-node replication settings. A disabled
// cluster config still describes this node's host/port, since those
// are needed the moment clustering is turned on without a restart of
// the surrounding process topology.
type ClusterConfig struct {
	// Enabled turns on peer membership tracking and event replication.
	Enabled bool `mapstructure:"enabled"`

	// Host and Port are how peers reach this node.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=0,max=65535"`

	// Peers lists the seed peers, as "host:port" strings, supplied at
	// startup.
	Peers []string `mapstructure:"peers"`

	// Manager configures peer liveness probing and failover.
	Manager ClusterManagerConfig `mapstructure:"manager"`

	// Sync configures the outbound replication dispatcher.
	Sync ClusterSyncConfig `mapstructure:"sync"`
}

// ClusterManagerConfig mirrors cluster.Config for configuration loading.
type ClusterManagerConfig struct {
	ClusterID    string        `mapstructure:"cluster_id"`
	SyncInterval time.Duration `mapstructure:"sync_interval"`
	HealthPath   string        `mapstructure:"health_path"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// ClusterSyncConfig mirrors clustersync.Config for configuration loading.
type ClusterSyncConfig struct {
	Workers      int           `mapstructure:"workers" validate:"min=0"`
	DispatchRate float64       `mapstructure:"dispatch_rate" validate:"min=0"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, NodeID: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Registry.NodeID)
}
