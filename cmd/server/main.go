package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	appsync "github.com/feedbridge/backend/internal/application/sync"
	"github.com/feedbridge/backend/internal/domain/catalog"
	"github.com/feedbridge/backend/internal/domain/run"
	"github.com/feedbridge/backend/internal/domain/store"
	"github.com/feedbridge/backend/internal/infrastructure/archive"
	"github.com/feedbridge/backend/internal/infrastructure/cache"
	"github.com/feedbridge/backend/internal/infrastructure/config"
	"github.com/feedbridge/backend/internal/infrastructure/event"
	"github.com/feedbridge/backend/internal/infrastructure/feed"
	"github.com/feedbridge/backend/internal/infrastructure/logger"
	"github.com/feedbridge/backend/internal/infrastructure/persistence"
	"github.com/feedbridge/backend/internal/infrastructure/rates"
	"github.com/feedbridge/backend/internal/infrastructure/scheduler"
	"github.com/feedbridge/backend/internal/infrastructure/storefront"
	"github.com/feedbridge/backend/internal/infrastructure/telemetry"
	"github.com/feedbridge/backend/internal/interfaces/http/handler"
	"github.com/feedbridge/backend/internal/interfaces/http/middleware"
	"github.com/feedbridge/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting feedbridge",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("backend", cfg.Store.Backend),
	)

	// Optional telemetry providers. Everything below works with them off.
	var (
		tracerProvider *telemetry.TracerProvider
		meterProvider  *telemetry.MeterProvider
		loggerProvider *telemetry.LoggerProvider
		profiler       *telemetry.Profiler
	)
	if cfg.Telemetry.Enabled {
		ctx := context.Background()
		tracerProvider, err = telemetry.NewTracerProvider(ctx, telemetry.TraceConfig{
			Enabled:           true,
			CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
			SamplingRatio:     cfg.Telemetry.SamplingRatio,
			ServiceName:       cfg.Telemetry.ServiceName,
			Insecure:          cfg.Telemetry.Insecure,
		}, log)
		if err != nil {
			log.Fatal("Failed to initialize tracer provider", zap.Error(err))
		}
		defer shutdown(tracerProvider.Shutdown, "tracer provider", log)

		if cfg.Telemetry.MetricsEnabled {
			meterProvider, err = telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
				Enabled:           true,
				CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
				ServiceName:       cfg.Telemetry.ServiceName,
				Insecure:          cfg.Telemetry.Insecure,
			}, log)
			if err != nil {
				log.Fatal("Failed to initialize meter provider", zap.Error(err))
			}
			defer shutdown(meterProvider.Shutdown, "meter provider", log)
		}

		if cfg.Telemetry.LogsEnabled {
			loggerProvider, err = telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
				Enabled:           true,
				CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
				ServiceName:       cfg.Telemetry.ServiceName,
				Insecure:          cfg.Telemetry.Insecure,
			}, log)
			if err != nil {
				log.Fatal("Failed to initialize logger provider", zap.Error(err))
			}
			defer shutdown(loggerProvider.Shutdown, "logger provider", log)

			log = loggerProvider.BridgeZap(log, cfg.Telemetry.ServiceName, cfg.Log.Level)
		}

		if cfg.Telemetry.Profiling.Enabled {
			profiler, err = telemetry.NewProfiler(telemetry.ProfilerConfig{
				Enabled:         true,
				ServerAddress:   cfg.Telemetry.Profiling.ServerAddress,
				ApplicationName: cfg.Telemetry.ServiceName,
			}, log)
			if err != nil {
				log.Warn("Failed to start profiler, continuing without", zap.Error(err))
			} else {
				defer func() {
					if err := profiler.Stop(); err != nil {
						log.Warn("Error stopping profiler", zap.Error(err))
					}
				}()
				if cfg.Telemetry.Profiling.SpanProfiles && tracerProvider != nil {
					if err := tracerProvider.EnableSpanProfiles(); err != nil {
						log.Warn("Failed to enable span profiles", zap.Error(err))
					}
				}
			}
		}
	}

	// Run-history database. Sqlite migrates itself at boot; postgres
	// deployments run cmd/migrate first.
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if cfg.Database.Driver == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			log.Fatal("Failed to migrate run-history schema", zap.Error(err))
		}
	}
	log.Info("Database connected", zap.String("driver", cfg.Database.Driver))

	if meterProvider != nil && meterProvider.IsEnabled() {
		dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DefaultDBMetricsConfig(), log)
		if err != nil {
			log.Warn("Failed to register database metrics", zap.Error(err))
		} else if dbMetrics != nil {
			defer dbMetrics.Stop()
		}
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		if err := telemetry.TraceQueries(db.DB, telemetry.QueryTracingConfig{DBSystem: cfg.Database.Driver}); err != nil {
			log.Warn("Failed to register query tracing", zap.Error(err))
		}
	}

	historyRepo := persistence.NewGormSyncRunRepository(db.DB)

	// Shared run state and the progress fan-out hub.
	state := run.NewState(cfg.Sync.LogCapacity)
	hub := event.NewHub(log)

	// Exchange rate provider with a last-good cache behind it.
	var rateCache rates.Cache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisRateCache(cache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Rates.Currency, cfg.Rates.CacheTTL, log)
		if err != nil {
			log.Warn("Redis rate cache unavailable, using in-memory cache", zap.Error(err))
			rateCache = cache.NewMemoryRateCache(cfg.Rates.CacheTTL)
		} else {
			defer func() {
				if err := redisCache.Close(); err != nil {
					log.Error("Error closing redis rate cache", zap.Error(err))
				}
			}()
			rateCache = redisCache
		}
	} else {
		rateCache = cache.NewMemoryRateCache(cfg.Rates.CacheTTL)
	}
	rateProvider := rates.NewProvider(
		cfg.Rates.URL,
		cfg.Rates.Currency,
		decimal.NewFromFloat(cfg.Rates.DefaultRate),
		log,
		rates.WithCache(rateCache),
	)

	// Feed client, optionally teeing every document into the archive.
	feedOpts := []feed.Option{
		feed.WithHTTPClient(&http.Client{Timeout: cfg.Feed.Timeout}),
		feed.WithMaxBodyBytes(cfg.Feed.MaxResponseBytes),
	}
	var archiveStore *archive.S3Store
	if cfg.Archive.Enabled {
		archiveStore, err = archive.NewS3Store(&cfg.Archive, archive.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to initialize feed archive", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := archiveStore.EnsureBucket(ctx); err != nil {
			log.Warn("Archive bucket check failed, archiving may error", zap.Error(err))
		}
		cancel()
		feedOpts = append(feedOpts, feed.WithArchiver(archiveStore))
		log.Info("Feed archiving enabled", zap.String("bucket", archiveStore.Bucket()))
	}
	feedClient := feed.NewClient(cfg.Feed.BaseURL, cfg.Feed.Category, log, feedOpts...)

	priceRule := catalog.PriceRule{
		MinPrice:    decimal.NewFromInt(cfg.Pricing.MinPrice),
		Granularity: cfg.Pricing.Granularity,
		Ceiling:     cfg.Pricing.Rounding == "ceil",
	}

	backendFactory := func(kind store.Kind, observer store.BatchObserver) (store.Backend, error) {
		switch kind {
		case store.KindRemote:
			return storefront.NewRemoteBackend(storefront.RemoteConfig{
				Host:             cfg.Store.Remote.Host,
				Port:             cfg.Store.Remote.Port,
				User:             cfg.Store.Remote.User,
				Password:         cfg.Store.Remote.Password,
				KeyFile:          cfg.Store.Remote.KeyFile,
				ConnectTimeout:   cfg.Store.Remote.ConnectTimeout,
				DBName:           cfg.Store.Remote.DBName,
				DBUser:           cfg.Store.Remote.DBUser,
				DBPassword:       cfg.Store.Remote.DBPassword,
				TablePrefix:      cfg.Store.Remote.TablePrefix,
				CLIPath:          cfg.Store.Remote.CLIPath,
				BatchSize:        cfg.Store.Remote.BatchSize,
				BatchDelay:       cfg.Store.Remote.BatchDelay,
				CreatePauseEvery: cfg.Store.Remote.CreatePauseEvery,
				CreatePause:      cfg.Store.Remote.CreatePause,
			}, observer, log), nil
		default:
			return storefront.NewRESTBackend(storefront.RESTConfig{
				BaseURL:    cfg.Store.REST.BaseURL,
				APIKey:     cfg.Store.REST.APIKey,
				APISecret:  cfg.Store.REST.APISecret,
				BatchSize:  cfg.Store.REST.BatchSize,
				BatchDelay: cfg.Store.REST.BatchDelay,
				Timeout:    cfg.Store.REST.Timeout,
			}, observer, log), nil
		}
	}

	coordinatorOpts := []appsync.Option{
		appsync.WithHistory(historyRepo, cfg.Sync.HistoryLimit),
	}
	if archiveStore != nil {
		coordinatorOpts = append(coordinatorOpts, appsync.WithRunArchive(archiveStore))
	}

	coordinator := appsync.NewCoordinator(
		state,
		hub,
		feedClient,
		rateProvider,
		priceRule,
		backendFactory,
		store.Kind(cfg.Store.Backend),
		log,
		coordinatorOpts...,
	)

	// Run metrics ride on the meter provider when telemetry metrics are on.
	var syncMetrics *telemetry.SyncMetrics
	if meterProvider != nil && meterProvider.IsEnabled() {
		syncMetrics, err = telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
			Meter:         meterProvider.Meter("feedbridge/sync"),
			Logger:        log,
			CountProvider: coordinator,
		})
		if err != nil {
			log.Warn("Failed to initialize sync metrics", zap.Error(err))
		} else {
			coordinator.SetMetrics(syncMetrics)
			defer syncMetrics.Stop()
		}
	}

	// Optional unattended price refresh.
	refreshTrigger := scheduler.NewRefreshTrigger(scheduler.RefreshTriggerConfig{
		Enabled:  cfg.Sync.AutoRefreshEnabled,
		Interval: cfg.Sync.AutoRefreshInterval,
	}, coordinator, log)
	if cfg.Sync.AutoRefreshEnabled {
		if err := refreshTrigger.Start(context.Background()); err != nil {
			log.Fatal("Failed to start price refresh trigger", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := refreshTrigger.Stop(ctx); err != nil {
				log.Error("Error stopping price refresh trigger", zap.Error(err))
			}
		}()
		log.Info("Price refresh trigger started",
			zap.Duration("interval", cfg.Sync.AutoRefreshInterval),
		)
	}

	// HTTP handlers
	syncHandler := handler.NewSyncHandler(coordinator)
	eventsHandler := handler.NewEventsHandler(hub, coordinator, log)
	productsHandler := handler.NewProductsHandler(coordinator)
	runsHandler := handler.NewRunsHandler(coordinator)
	systemHandler := handler.NewSystemHandler()

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Middleware stack: request ID first so everything downstream can tag
	// logs with it, then recovery, request logging (the event stream is
	// skipped, its connections live for hours), security headers, CORS and
	// the body limit.
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log, "/api/events", "/health"))
	engine.Use(middleware.Secure())

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	if len(cfg.HTTP.CORSAllowMethods) > 0 {
		corsConfig.AllowMethods = cfg.HTTP.CORSAllowMethods
	}
	if len(cfg.HTTP.CORSAllowHeaders) > 0 {
		corsConfig.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	if tracerProvider != nil && tracerProvider.IsEnabled() {
		engine.Use(middleware.Tracing(cfg.Telemetry.ServiceName)...)
	}
	engine.Use(middleware.HTTPMetrics(meterProvider))
	if profiler != nil && profiler.IsEnabled() {
		engine.Use(middleware.Profiling())
	}

	// Liveness probe outside the API group.
	engine.GET("/health", systemHandler.Health)

	// Control surface under /api, rate limited per client so a runaway
	// dashboard poller cannot monopolize the coordinator.
	r := router.New(engine)
	if cfg.HTTP.RateLimit > 0 {
		limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateLimitWindow)
		r.Use(middleware.RateLimit(limiter))
	}
	r.Mount(func(api *gin.RouterGroup) {
		api.GET("/events", eventsHandler.Stream)
		api.GET("/status", syncHandler.Status)
		api.POST("/sync", syncHandler.Start)
		api.POST("/sync/stop", syncHandler.Stop)
		api.GET("/products/count", productsHandler.Count)
		api.GET("/runs", runsHandler.List)
	})
	r.Setup()

	// The SSE stream needs WriteTimeout zero; everything else is bounded
	// by read/idle timeouts and handler deadlines.
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown: stop accepting requests, cancel any active run,
	// give it a moment to land in a terminal phase so the history record
	// is written.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	if coordinator.Status().Running {
		coordinator.Stop()
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := coordinator.Wait(waitCtx); err != nil {
			log.Warn("Active run did not stop in time", zap.Error(err))
		}
		waitCancel()
	}

	log.Info("Server exited gracefully")
}

// shutdown wraps a provider shutdown with a bounded deadline.
func shutdown(fn func(context.Context) error, name string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error("Error shutting down "+name, zap.Error(err))
	}
}
