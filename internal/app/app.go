// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/incident-repair/internal/assets"
	"github.com/bissquit/incident-repair/internal/bulk"
	"github.com/bissquit/incident-repair/internal/config"
	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/escalation"
	"github.com/bissquit/incident-repair/internal/escalation/desk"
	"github.com/bissquit/incident-repair/internal/identity"
	"github.com/bissquit/incident-repair/internal/incidents"
	incidentsmemory "github.com/bissquit/incident-repair/internal/incidents/memory"
	incidentspostgres "github.com/bissquit/incident-repair/internal/incidents/postgres"
	"github.com/bissquit/incident-repair/internal/pkg/ctxlog"
	"github.com/bissquit/incident-repair/internal/pkg/httputil"
	"github.com/bissquit/incident-repair/internal/pkg/keylock"
	"github.com/bissquit/incident-repair/internal/pkg/keylock/redislock"
	"github.com/bissquit/incident-repair/internal/pkg/metrics"
	"github.com/bissquit/incident-repair/internal/pkg/postgres"
	"github.com/bissquit/incident-repair/internal/reliability"
	"github.com/bissquit/incident-repair/internal/repair"
	"github.com/bissquit/incident-repair/internal/version"
	"github.com/bissquit/incident-repair/migrations"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// App represents the application instance.
type App struct {
	config         *config.Config
	logger         *slog.Logger
	db             *pgxpool.Pool
	redis          *redis.Client
	tracerProvider *sdktrace.TracerProvider
	aggregator     *reliability.Aggregator
	server         *http.Server
	metricsServer  *http.Server
	metricsCancel  context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)

	app := &App{
		config: cfg,
		logger: logger,
	}

	repo, err := app.setupStorage()
	if err != nil {
		return nil, err
	}

	locker, err := app.setupLocker()
	if err != nil {
		app.closeResources()
		return nil, err
	}

	if cfg.Tracing.Enabled {
		if err := app.setupTracing(); err != nil {
			app.closeResources()
			return nil, err
		}
	}

	router, err := app.setupRouter(repo, locker)
	if err != nil {
		app.closeResources()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app.metricsCancel = metricsCancel

	if app.db != nil {
		if err := metrics.RegisterPool(prometheus.DefaultRegisterer, app.db); err != nil {
			metricsCancel()
			app.closeResources()
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
	}
	if cfg.Reliability.ExportInterval > 0 {
		go app.collectReliabilityMetrics(metricsCtx)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) setupStorage() (incidents.Repository, error) {
	switch a.config.Storage.Driver {
	case config.StorageMemory:
		a.logger.Warn("using in-memory incident store: data is lost on restart")
		return incidentsmemory.NewRepository(), nil
	default:
		connectCtx, connectCancel := context.WithTimeout(context.Background(), a.config.Database.ConnectTimeout)
		defer connectCancel()

		db, err := postgres.Connect(connectCtx, postgres.Config{
			URL:             a.config.Database.URL,
			MaxOpenConns:    a.config.Database.MaxOpenConns,
			MaxIdleConns:    a.config.Database.MaxIdleConns,
			ConnMaxLifetime: a.config.Database.ConnMaxLifetime,
			ConnectAttempts: a.config.Database.ConnectAttempts,
			Logger:          a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		if a.config.Database.AutoMigrate {
			if err := postgres.Migrate(migrations.FS, a.config.Database.URL); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate database: %w", err)
			}
		}

		a.db = db
		return incidentspostgres.NewRepository(db), nil
	}
}

func (a *App) setupLocker() (keylock.Locker, error) {
	lockCfg := a.config.Lock
	if lockCfg.Driver != config.LockRedis {
		return keylock.NewLocal(lockCfg.WaitTimeout), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     lockCfg.Redis.Addr,
		Password: lockCfg.Redis.Password,
		DB:       lockCfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	a.redis = client
	a.logger.Info("using redis incident locks", "addr", lockCfg.Redis.Addr)

	return redislock.New(client, redislock.Config{
		TTL:         lockCfg.TTL,
		WaitTimeout: lockCfg.WaitTimeout,
	}), nil
}

func (a *App) setupTracing() error {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}
	a.tracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(a.tracerProvider)
	return nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"storage", a.config.Storage.Driver,
		"lock", a.config.Lock.Driver,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}

	a.closeResources()

	return errors.Join(errs...)
}

func (a *App) closeResources() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) collectReliabilityMetrics(ctx context.Context) {
	ticker := time.NewTicker(a.config.Reliability.ExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			report, err := a.aggregator.ComputeMetrics(ctx, a.aggregator.DefaultWindow())
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Error("failed to compute reliability metrics", "error", err)
				}
				continue
			}
			reliability.RecordReport(report)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter(repo incidents.Repository, locker keylock.Locker) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.config.Server.WriteTimeout))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Incident Repair API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	cfg := a.config

	assetsClient := assets.NewClient(assets.Config{
		BaseURL: cfg.Assets.BaseURL,
		Token:   cfg.Assets.Token,
		Timeout: cfg.Assets.Timeout,
	})

	gateway := desk.NewGateway(desk.Config{
		BaseURL:   cfg.Escalation.BaseURL,
		Token:     cfg.Escalation.Token,
		Timeout:   cfg.Escalation.Timeout,
		RateLimit: cfg.Escalation.RateLimit,
		Burst:     cfg.Escalation.Burst,
	})

	renderer, err := escalation.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create ticket renderer: %w", err)
	}

	incidentsService := incidents.NewService(repo, locker, cfg.Repair.ChronicThreshold)
	orchestrator := repair.NewOrchestrator(repo, locker, assetsClient, repair.Config{
		InvokeTimeout:    cfg.Repair.InvokeTimeout,
		ChronicThreshold: cfg.Repair.ChronicThreshold,
	})
	escalationService := escalation.NewService(repo, locker, gateway, renderer, escalation.Config{
		GatewayTimeout: cfg.Escalation.Timeout,
	})
	coordinator := bulk.NewCoordinator(orchestrator, escalationService, incidentsService, bulk.Config{
		Concurrency:  cfg.Bulk.Concurrency,
		MaxBatchSize: cfg.Bulk.MaxBatchSize,
	})
	a.aggregator = reliability.NewAggregator(repo, assetsClient, reliability.Config{
		DefaultWindow:    cfg.Reliability.DefaultWindow,
		MaxWindow:        cfg.Reliability.MaxWindow,
		ChronicThreshold: cfg.Repair.ChronicThreshold,
	})

	incidentsHandler := incidents.NewHandler(incidentsService)
	repairHandler := repair.NewHandler(orchestrator)
	escalationHandler := escalation.NewHandler(escalationService)
	bulkHandler := bulk.NewHandler(coordinator)
	reliabilityHandler := reliability.NewHandler(a.aggregator)

	tokens := identity.NewTokenValidator(cfg.JWT.SecretKey, cfg.JWT.Issuer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(tokens))

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleDetector))
			incidentsHandler.RegisterDetectorRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleViewer))
			incidentsHandler.RegisterRoutes(r)
			reliabilityHandler.RegisterRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(httputil.RequireRole(domain.RoleOperator))
			bulkHandler.RegisterOperatorRoutes(r)
			incidentsHandler.RegisterOperatorRoutes(r)
			repairHandler.RegisterOperatorRoutes(r)
			escalationHandler.RegisterOperatorRoutes(r)
		})
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if a.db != nil {
		if err := a.db.Ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
			return
		}
	}

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Lock store unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
