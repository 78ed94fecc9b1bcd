package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "registry-server",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8761,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 10 * time.Second,
			},
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Registry-API-Key", "X-Request-ID"},
				MaxAge:         300,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Auth: AuthConfig{
			Enabled:     false,
			PublicPaths: []string{"/actuator/health", "/actuator/info", "/actuator/prometheus", "/management/info"},
		},
		Registry: RegistryConfig{
			NodeID:         "node-1",
			EventBusBuffer: 256,
			Lifecycle: LifecycleConfig{
				ScanInterval:           30 * time.Second,
				AutoDeregisterOnExpiry: false,
			},
			HealthProbe: HealthProbeConfig{
				Workers:           0,
				ReconcileInterval: 60 * time.Second,
				DispatchRate:      200,
			},
		},
		Cluster: ClusterConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    8080,
			Manager: ClusterManagerConfig{
				ClusterID:    "default",
				SyncInterval: 10 * time.Second,
				HealthPath:   "/health",
				ProbeTimeout: 5 * time.Second,
			},
			Sync: ClusterSyncConfig{
				Workers:      0,
				DispatchRate: 200,
				HTTPTimeout:  5 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
	}
}
