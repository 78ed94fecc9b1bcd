package main

// @title Registry Server API
// @version 1.0
// @description Service registry and discovery control plane
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url https://github.com/hsc/registry-server
// @contact.email support@registry-server.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8761
// @BasePath /
// @schemes http https

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hsc/registry-server/config"
	"github.com/hsc/registry-server/pkg/api"
	"github.com/hsc/registry-server/pkg/api/handlers"
	"github.com/hsc/registry-server/pkg/api/middleware"
	"github.com/hsc/registry-server/pkg/cluster"
	"github.com/hsc/registry-server/pkg/clustersync"
	"github.com/hsc/registry-server/pkg/engine"
	"github.com/hsc/registry-server/pkg/healthprobe"
	"github.com/hsc/registry-server/pkg/lifecycle"
	"github.com/hsc/registry-server/pkg/logger"
	"github.com/hsc/registry-server/pkg/metrics"
	"github.com/hsc/registry-server/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}

	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	overrides := buildOverrides()

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("starting registry server",
		"version", version.Version,
		"buildTime", version.BuildTime,
		"gitCommit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("configuration loaded", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metricsManager := metrics.NewManager(metrics.Config{
		Enabled:                    cfg.Metrics.Enabled,
		Port:                       cfg.Metrics.Port,
		Path:                       cfg.Metrics.Path,
		HTTPDurationBuckets:        metrics.DefaultConfig().HTTPDurationBuckets,
		HealthProbeDurationBuckets: metrics.DefaultConfig().HealthProbeDurationBuckets,
		HeartbeatAgeBuckets:        metrics.DefaultConfig().HeartbeatAgeBuckets,
	})
	if metricsManager.Enabled() {
		go func() {
			log.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	eng, err := engine.New(engineConfig(cfg), log)
	if err != nil {
		log.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	if err := eng.Start(ctx); err != nil {
		log.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	wsHandler := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		MaxConnections: 1000,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
	})
	bridgeEventsToWebSocket(ctx, eng, wsHandler, log)

	authState := middleware.NewAuthState(cfg.Auth.Enabled, cfg.Auth.APIKey, cfg.Auth.PublicPaths)

	apiHandlers := &api.Handlers{
		Registry:  handlers.NewRegistryHandler(eng),
		Discovery: handlers.NewDiscoveryHandler(eng),
		Cluster:   handlers.NewClusterHandler(eng),
		Events:    handlers.NewEventsHandler(eng),
		Health:    handlers.NewHealthHandler(eng),
		WebSocket: wsHandler,
		Metrics:   metricsManager,
		AuthState: authState,
	}
	if metricsManager.Enabled() {
		apiHandlers.Prometheus = metricsManager.Handler()
	}

	httpServer := api.NewHTTPServer(cfg, log, apiHandlers)

	watcher := startConfigWatcher(*configPath, loader, authState, log)
	if watcher != nil {
		defer watcher.Stop()
	}

	serverErrChan := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("registry server is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"clustering", cfg.Cluster.Enabled,
	)
	log.Info("press Ctrl+C to stop")

	select {
	case sig := <-sigChan:
		log.Info("received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer shutdownCancel()

	log.Info("shutting down websocket connections")
	wsHandler.Close()

	log.Info("shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error shutting down HTTP server", "error", err)
	}

	log.Info("stopping engine")
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Error("error during engine shutdown", "error", err)
	}

	log.Info("registry server stopped gracefully")
}

// engineConfig translates the loaded configuration tree into the shape
// engine.New expects, wiring clustering in only when the config enables
// it.
func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.Config{
		NodeID:         cfg.Registry.NodeID,
		Host:           cfg.Cluster.Host,
		Port:           cfg.Cluster.Port,
		EventBusBuffer: cfg.Registry.EventBusBuffer,
		Lifecycle: lifecycle.Config{
			ScanInterval:           cfg.Registry.Lifecycle.ScanInterval,
			AutoDeregisterOnExpiry: cfg.Registry.Lifecycle.AutoDeregisterOnExpiry,
		},
		HealthProbe: healthprobe.Config{
			Workers:           cfg.Registry.HealthProbe.Workers,
			ReconcileInterval: cfg.Registry.HealthProbe.ReconcileInterval,
			DispatchRate:      cfg.Registry.HealthProbe.DispatchRate,
		},
	}

	if cfg.Cluster.Enabled {
		ec.Cluster = &engine.ClusterConfig{
			Manager: cluster.Config{
				ClusterID:    cfg.Cluster.Manager.ClusterID,
				SyncInterval: cfg.Cluster.Manager.SyncInterval,
				HealthPath:   cfg.Cluster.Manager.HealthPath,
				ProbeTimeout: cfg.Cluster.Manager.ProbeTimeout,
			},
			Sync: clustersync.Config{
				Workers:      cfg.Cluster.Sync.Workers,
				DispatchRate: cfg.Cluster.Sync.DispatchRate,
				HTTPTimeout:  cfg.Cluster.Sync.HTTPTimeout,
			},
			Peers: append([]string(nil), cfg.Cluster.Peers...),
		}
	}

	return ec
}

// bridgeEventsToWebSocket forwards every registry event onto the
// websocket connection manager, so subscribers see the same events the
// SSE streams and cluster replication path see.
func bridgeEventsToWebSocket(ctx context.Context, eng *engine.Engine, ws *handlers.WebSocketHandler, log logger.Logger) {
	sub := eng.Bus().WatchAll()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-sub.C():
				if !ok {
					return
				}
				err := ws.Broadcast(handlers.EventMessage{
					Type: string(evt.Type),
					Payload: map[string]any{
						"service_id":  evt.ServiceID,
						"instance_id": evt.InstanceID,
						"instance":    evt.Instance,
					},
				})
				if err != nil {
					log.Warn("failed to broadcast event to websocket clients", "error", err)
				}
			}
		}
	}()
}

// startConfigWatcher wires a file watcher onto the configuration file.
// On each reload the auth settings (enabled flag, API key, public paths)
// take effect immediately; the cluster peer list is only logged and is
// not applied to cluster membership. It returns nil when no config file
// path was given, since there is nothing to watch, and logs and returns
// nil rather than failing startup when the watcher cannot be created.
func startConfigWatcher(configPath string, loader *config.Loader, authState *middleware.AuthState, log logger.Logger) *config.Watcher {
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath, loader)
	if err != nil {
		log.Warn("failed to start config watcher", "error", err)
		return nil
	}

	watcher.OnChange(func(cfg *config.Config) {
		authState.Store(cfg.Auth.Enabled, cfg.Auth.APIKey, cfg.Auth.PublicPaths)
		log.Info("configuration reloaded", "authEnabled", cfg.Auth.Enabled, "peers", len(cfg.Cluster.Peers))
	})

	go func() {
		if err := watcher.Watch(context.Background()); err != nil {
			log.Warn("config watcher stopped", "error", err)
		}
	}()

	return watcher
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.HTTP.ShutdownTimeout > 0 {
		return cfg.Server.HTTP.ShutdownTimeout
	}
	return 30 * time.Second
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("registry-server - service registry and discovery control plane\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("registry-server - service registry and discovery control plane\n\n")
	fmt.Printf("Usage: registry-server [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  registry-server                                  # Run with default config\n")
	fmt.Printf("  registry-server -config config.yaml              # Use specific config file\n")
	fmt.Printf("  registry-server -port 9090 -log-level debug      # Override specific options\n")
	fmt.Printf("  registry-server -version                         # Print version info\n")
}
