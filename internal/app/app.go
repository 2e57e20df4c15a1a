package app

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	mediahttp "github.com/uniedit/mediaflow/internal/adapter/inbound/http/media"
	"github.com/uniedit/mediaflow/internal/infra/config"
	"github.com/uniedit/mediaflow/internal/infra/task"
	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/utils/metrics"
	"github.com/uniedit/mediaflow/internal/utils/middleware"
)

// Dependencies holds all injected dependencies.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Redis    goredis.UniversalClient

	Catalog *provider.Catalog
	Health  *provider.HealthMonitor
	Tasks   *task.Manager

	// HTTP Handlers
	MediaHandler *mediahttp.Handler
}

// App represents the application.
type App struct {
	deps    *Dependencies
	router  *gin.Engine
	cleanup func()
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	deps, cleanup, err := InitializeDependencies(cfg)
	if err != nil {
		return nil, fmt.Errorf("init dependencies: %w", err)
	}

	app := &App{
		deps:    deps,
		cleanup: cleanup,
	}
	app.router = app.setupRouter()

	deps.Logger.Info("application initialized",
		zap.Int("providers", len(deps.Catalog.List())),
		zap.String("fallback_provider", string(deps.Catalog.Fallback().ID)),
		zap.Bool("redis", deps.Redis != nil))

	return app, nil
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.deps.Logger
}

// Stop cancels running tasks, then releases infrastructure.
func (a *App) Stop() {
	a.deps.Tasks.Stop()
	a.cleanup()
	_ = a.deps.Logger.Sync()
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.deps.Config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Apply global middleware
	r.Use(middleware.Recovery(a.deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.deps.Logger))
	r.Use(middleware.Metrics(a.deps.Metrics))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	r.GET("/health", a.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.deps.Registry, promhttp.HandlerOpts{})))

	var store middleware.IdempotencyStore
	if a.deps.Redis != nil {
		store = a.deps.Redis
	}
	idempotency := middleware.Idempotency(store, middleware.IdempotencyConfig{Logger: a.deps.Logger})

	v1 := r.Group("/api/v1")
	a.deps.MediaHandler.RegisterRoutes(v1, idempotency)

	return r
}

func (a *App) health(c *gin.Context) {
	providers := make(map[provider.ID]provider.HealthStatus)
	status := "ok"
	for _, d := range a.deps.Catalog.List() {
		s := a.deps.Health.Status(d.ID)
		providers[d.ID] = s
		if s != provider.HealthStatusHealthy {
			status = "degraded"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"providers": providers,
	})
}
