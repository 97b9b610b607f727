package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
	"github.com/fyrsmithlabs/ctxrouter/internal/cache"
	"github.com/fyrsmithlabs/ctxrouter/internal/capability"
	"github.com/fyrsmithlabs/ctxrouter/internal/compression"
	"github.com/fyrsmithlabs/ctxrouter/internal/config"
	"github.com/fyrsmithlabs/ctxrouter/internal/learning"
	"github.com/fyrsmithlabs/ctxrouter/internal/logging"
	"github.com/fyrsmithlabs/ctxrouter/internal/pipeline"
	"github.com/fyrsmithlabs/ctxrouter/internal/router"
	"github.com/fyrsmithlabs/ctxrouter/internal/telemetry"
)

// appMode selects how long-lived the process is.
type appMode int

const (
	// oneShot records synchronously so events are on disk before exit.
	oneShot appMode = iota
	// daemon records asynchronously, joins NATS and watches the registry.
	daemon
)

// app owns every long-lived handle the pipeline uses.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	cache     *cache.Cache
	store     *learning.Store
	async     *learning.AsyncRecorder
	nc        *nats.Conn
	bridge    *learning.Bridge
	watcher   *capability.Watcher
	pipeline  *pipeline.Pipeline
}

// newApp loads configuration and wires the pipeline. On error everything
// opened so far is closed.
func newApp(ctx context.Context, mode appMode) (_ *app, err error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a.logger, err = logging.NewLogger(logging.FromConfig(cfg.Logging, cfg.Telemetry.Enabled), a.telemetry.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zl := a.logger.Underlying()

	a.cache = newCache(cfg.Cache, zl)

	logPath, err := config.ExpandPath(cfg.Learning.LogPath)
	if err != nil {
		return nil, err
	}
	a.store, err = learning.Open(logPath,
		learning.WithWindow(cfg.Learning.Window),
		learning.WithMinEvents(cfg.Learning.MinEvents),
		learning.WithAlpha(cfg.Learning.Alpha),
		learning.WithLogger(zl),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open learning store: %w", err)
	}

	var recorder learning.Recorder = a.store
	if mode == daemon && cfg.Learning.NATSURL != "" {
		a.nc, err = nats.Connect(cfg.Learning.NATSURL,
			nats.Name("ctxrouter"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.bridge = learning.NewBridge(a.nc, cfg.Learning.NATSSubject, a.store, a.store, zl)
		if err = a.bridge.Start(); err != nil {
			return nil, err
		}
		recorder = a.bridge
		zl.Info("learning bridge started", zap.String("subject", cfg.Learning.NATSSubject))
	}
	if mode == daemon {
		a.async = learning.NewAsyncRecorder(recorder, cfg.Learning.QueueSize, zl)
		recorder = a.async
	}

	registry, err := a.openRegistry(ctx, mode, zl)
	if err != nil {
		return nil, err
	}

	engine, err := compression.NewEngine(
		compression.WithBudget(cfg.Compression.Budget.Duration()),
		compression.WithAdaptationFloor(cfg.Compression.AdaptationFloor),
		compression.WithDetectSecrets(cfg.Compression.DetectSecrets),
		compression.WithCache(a.cache),
		compression.WithEstimator(a.store),
		compression.WithRecorder(recorder),
		compression.WithLogger(zl),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create compression engine: %w", err)
	}

	a.pipeline = pipeline.New(pipeline.Options{
		Analyzer: analyzer.New(
			analyzer.WithBudget(cfg.Analyzer.Budget.Duration()),
			analyzer.WithLogger(zl),
		),
		Router: router.New(
			router.WithBudget(cfg.Router.Budget.Duration()),
			router.WithMaxProviders(cfg.Router.MaxProviders),
			router.WithCosts(router.CostTable{
				Light:     cfg.Router.LightCostMS,
				Standard:  cfg.Router.StdCostMS,
				Intensive: cfg.Router.HeavyCostMS,
			}),
			router.WithEstimator(a.store),
			router.WithDecisionCache(a.cache),
			router.WithLogger(zl),
		),
		Compression: engine,
		Registry:    registry,
		Cache:       a.cache,
		Recorder:    recorder,
		Estimator:   a.store,
		Metrics:     pipeline.NewMetrics(),
		Logger:      zl,
	})
	return a, nil
}

// newCache builds the tiered cache. A cold tier that cannot be opened is
// skipped; the hot and warm tiers still work.
func newCache(cc config.CacheConfig, logger *zap.Logger) *cache.Cache {
	opts := []cache.Option{
		cache.WithCapacity(cc.HotCapacity, cc.WarmCapacity),
		cache.WithTTL(cache.Documentation, cc.DocumentationTTL.Duration()),
		cache.WithTTL(cache.Pattern, cc.PatternTTL.Duration()),
		cache.WithTTL(cache.Intelligence, cc.IntelligenceTTL.Duration()),
		cache.WithPromotionCount(cc.PromotionAccessCount),
		cache.WithLogger(logger),
		cache.WithMetrics(cache.NewMetrics()),
	}
	if cc.ColdPath != "" {
		path, err := config.ExpandPath(cc.ColdPath)
		if err == nil {
			var cold *cache.SQLiteStore
			if cold, err = cache.OpenSQLite(path); err == nil {
				opts = append(opts, cache.WithColdStore(cold))
			}
		}
		if err != nil {
			logger.Warn("cold cache tier disabled", zap.String("path", cc.ColdPath), zap.Error(err))
		}
	}
	return cache.New(opts...)
}

func (a *app) openRegistry(ctx context.Context, mode appMode, logger *zap.Logger) (capability.Source, error) {
	rc := a.cfg.Registry
	if rc.Path == "" {
		return capability.NewStatic(capability.DefaultRegistry()), nil
	}
	path, err := config.ExpandPath(rc.Path)
	if err != nil {
		return nil, err
	}

	if mode == daemon && rc.Watch {
		a.watcher, err = capability.NewWatcher(path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to watch registry: %w", err)
		}
		a.watcher.OnReload(func(r *capability.Registry) {
			logger.Info("registry reloaded",
				zap.String("version", r.Version()),
				zap.Int("providers", r.Len()))
		})
		a.watcher.Start(ctx)
		return a.watcher, nil
	}

	reg, err := capability.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return capability.NewStatic(reg), nil
}

// Close releases everything in reverse dependency order. Queued learning
// events are flushed before the store closes.
func (a *app) Close(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	var errs []error
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.async != nil {
		if err := a.async.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("learning recorder close: %w", err))
		}
	}
	if a.bridge != nil {
		if err := a.bridge.Close(); err != nil {
			errs = append(errs, fmt.Errorf("learning bridge close: %w", err))
		}
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("learning store close: %w", err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
