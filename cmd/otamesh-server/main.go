package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/otamesh-go/internal/core/resolve"
	"github.com/yndnr/otamesh-go/internal/core/service"
	"github.com/yndnr/otamesh-go/internal/infra/buildinfo"
	"github.com/yndnr/otamesh-go/internal/infra/confloader"
	"github.com/yndnr/otamesh-go/internal/infra/shutdown"
	"github.com/yndnr/otamesh-go/internal/server/config"
	"github.com/yndnr/otamesh-go/internal/server/httpserver"
	"github.com/yndnr/otamesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/otamesh-go/internal/storage"
	"github.com/yndnr/otamesh-go/internal/telemetry/logger"
	"github.com/yndnr/otamesh-go/internal/telemetry/metric"
)

func main() {
	app := &cli.App{
		Name:    "otamesh-server",
		Usage:   "Over-the-air update server",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"OTAMESH_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "HTTP listen address (overrides server.http.addr)",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Data directory (overrides storage.data_dir)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error (overrides log.level)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	// 1. Configuration
	cfg, loader, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Logger
	log := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	log.Info("starting otamesh-server",
		"version", buildinfo.Version,
		"commit", buildinfo.Get().Commit,
		"config", loader.FilePath())

	// 3. Storage and metrics
	reg := metric.NewRegistry()
	kv, err := storage.Open(cfg.Storage.KVConfig(), log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	if be, ok := kv.(*storage.BadgerEngine); ok {
		be.RegisterMetrics(reg.Registerer())
	}

	shutdownHandler := shutdown.NewHandler(cfg.Server.HTTP.ShutdownTimeout, log)
	shutdownHandler.OnShutdown("storage", func(context.Context) error {
		return kv.Close()
	})

	// 4. Services
	ctx, cancel := context.WithCancel(context.Background())
	shutdownHandler.OnShutdown("background", func(context.Context) error {
		cancel()
		return nil
	})

	svc, err := initServices(ctx, cfg, kv, reg, log)
	if err != nil {
		_ = kv.Close()
		return err
	}
	go svc.Serve.Run(ctx, cfg.Catalog.RefreshInterval)

	// 5. HTTP
	var limiter *httpserver.RateLimiter
	if rl := cfg.Server.RateLimit; rl.Enabled {
		limiter = httpserver.NewRateLimiter(rl.RPS, rl.Burst, rl.IdleTTL, reg)
		go limiter.Run(ctx)
	}
	routerCfg := &httpserver.RouterConfig{
		Handler:      handler.New(*svc),
		Metrics:      reg,
		RateLimiter:  limiter,
		MaxBodyBytes: cfg.Server.HTTP.MaxBodyBytes,
		Logger:       log,
	}
	if cfg.Metrics.Enabled {
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	httpCfg := cfg.Server.HTTP
	srv := httpserver.New(httpserver.Options{
		Addr:         httpCfg.Addr,
		TLSCertFile:  httpCfg.TLSCertFile,
		TLSKeyFile:   httpCfg.TLSKeyFile,
		ReadTimeout:  httpCfg.ReadTimeout,
		WriteTimeout: httpCfg.WriteTimeout,
		IdleTimeout:  httpCfg.IdleTimeout,
		Logger:       log,
	}, httpserver.NewRouter(routerCfg))

	// 6. Hot reload of log.level
	if loader.FilePath() != "" && !c.IsSet("log-level") {
		watcher, err := watchConfig(loader, log)
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else {
			shutdownHandler.OnShutdown("watcher", func(context.Context) error {
				return watcher.Stop()
			})
		}
	}

	shutdownHandler.OnShutdown("http", srv.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", httpCfg.Addr, "tls", srv.TLS())
		if err := srv.ListenAndServe(); err != nil {
			log.Error("HTTP server error", "error", err)
			serveErr <- err
			shutdownHandler.Trigger()
		}
	}()

	if err := shutdownHandler.Wait(context.Background()); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
	}
	log.Info("server stopped gracefully")
	return nil
}

// loadConfig layers the command-line flags over file and environment.
func loadConfig(c *cli.Context) (*config.ServerConfig, *confloader.Loader, error) {
	cfg, loader, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	overrides := map[string]any{}
	if c.IsSet("addr") {
		overrides["server.http.addr"] = c.String("addr")
	}
	if c.IsSet("data-dir") {
		overrides["storage.data_dir"] = c.String("data-dir")
	}
	if c.IsSet("log-level") {
		overrides["log.level"] = c.String("log-level")
	}
	if len(overrides) > 0 {
		if err := loader.LoadMap(overrides); err != nil {
			return nil, nil, err
		}
		if err := loader.Unmarshal(cfg); err != nil {
			return nil, nil, err
		}
	}

	if err := config.Verify(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, loader, nil
}

// initServices builds the catalog services, loads the dimension registry
// and publishes the first resolution snapshot.
func initServices(ctx context.Context, cfg *config.ServerConfig, kv storage.KVEngine, reg *metric.Registry, log *slog.Logger) (*handler.Services, error) {
	catalog := storage.NewCatalogStore(kv)

	dims := service.NewDimensionService(catalog, catalog)
	files := service.NewFileService(catalog)
	packages := service.NewPackageService(catalog, files)
	releases := service.NewReleaseService(catalog, dims, packages, files)
	serve := service.NewServeService(resolve.NewEngine(), dims, catalog, packages, files, nil, log)
	analytics := service.NewAnalyticsService(storage.NewAnalyticsStore(kv), cfg.Analytics.DedupTTL)

	dims.OnChange(serve.OnCatalogChange)
	releases.OnChange(serve.OnCatalogChange)
	serve.OnRefresh(func(*resolve.Snapshot) {
		reg.SnapshotSwaps.Inc()
	})

	if err := dims.Load(ctx); err != nil {
		return nil, fmt.Errorf("load dimensions: %w", err)
	}
	if err := serve.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}

	reg.MustRegister(metric.NewCollector(func(ctx context.Context) (metric.CatalogStats, error) {
		all, err := releases.List(ctx, "")
		if err != nil {
			return metric.CatalogStats{}, err
		}
		stats := metric.CatalogStats{
			Dimensions:       len(dims.List(ctx)),
			ReleasesByStatus: make(map[string]int),
			SnapshotReleases: serve.Snapshot().Releases(),
		}
		for _, r := range all {
			stats.ReleasesByStatus[string(r.Status())]++
		}
		return stats, nil
	}, log))

	snap := serve.Snapshot()
	log.Info("catalog loaded",
		"dimensions", snap.Dimensions(),
		"servable_releases", snap.Releases())

	return &handler.Services{
		Dimensions: dims,
		Releases:   releases,
		Files:      files,
		Packages:   packages,
		Serve:      serve,
		Analytics:  analytics,
		KV:         kv,
		Metrics:    reg,
		Logger:     log,
	}, nil
}

// watchConfig applies log.level edits of the configuration file.
func watchConfig(loader *confloader.Loader, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(loader.FilePath()); err != nil {
		_ = w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		next := config.Default()
		if err := loader.Reload(next); err != nil {
			log.Error("config reload failed", "error", err)
			return
		}
		if !logger.ValidLevel(next.Log.Level) {
			log.Warn("ignoring invalid log level", "level", next.Log.Level)
			return
		}
		if prev := logger.GetLevel(); prev != next.Log.Level {
			logger.SetLevel(next.Log.Level)
			log.Info("log level changed", "from", prev, "to", logger.GetLevel())
		}
	})
	w.StartAsync()
	return w, nil
}
