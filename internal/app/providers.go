package app

import (
	"context"
	"fmt"
	"net/http"

	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	// Inbound adapters
	mediahttp "github.com/uniedit/mediaflow/internal/adapter/inbound/http/media"

	// Outbound adapters
	kafkaadapter "github.com/uniedit/mediaflow/internal/adapter/outbound/kafka"
	redisadapter "github.com/uniedit/mediaflow/internal/adapter/outbound/redis"
	s3adapter "github.com/uniedit/mediaflow/internal/adapter/outbound/s3"

	// Media
	"github.com/uniedit/mediaflow/internal/module/media/batch"
	"github.com/uniedit/mediaflow/internal/module/media/generation"
	"github.com/uniedit/mediaflow/internal/module/media/progress"
	"github.com/uniedit/mediaflow/internal/module/media/provider"
	"github.com/uniedit/mediaflow/internal/module/media/relocation"

	// Infrastructure
	"github.com/uniedit/mediaflow/internal/infra/config"
	"github.com/uniedit/mediaflow/internal/infra/httpclient"
	"github.com/uniedit/mediaflow/internal/infra/task"

	// Utils
	"github.com/uniedit/mediaflow/internal/shared/logger"
	apperrors "github.com/uniedit/mediaflow/internal/utils/errors"
	"github.com/uniedit/mediaflow/internal/utils/metrics"
)

// Progress sink names accepted in progress.sinks.
const (
	SinkLog   = "log"
	SinkRedis = "redis"
	SinkKafka = "kafka"
)

// ===== Infrastructure Providers =====

// InfraSet provides infrastructure dependencies.
var InfraSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
	ProvideHTTPClient,
	ProvideTransferClient,
	ProvideRedisClient,
	ProvideS3Client,
)

// ProvideLogger creates the zap logger.
func ProvideLogger(cfg *config.Config) *zap.Logger {
	return logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
}

// ProvideRegistry creates the prometheus registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates a metrics instance.
func ProvideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New("mediaflow", reg)
}

// ProvideHTTPClient creates a shared HTTP client with connection pooling.
func ProvideHTTPClient(cfg *config.Config) *http.Client {
	return httpclient.New(cfg.HTTPClient)
}

// ProvideTransferClient creates the client for large downloads.
func ProvideTransferClient(cfg *config.Config) httpclient.Transfer {
	return httpclient.NewTransfer(cfg.HTTPClient)
}

// ProvideRedisClient creates a Redis client. Redis is optional: without it
// progress snapshots, shared health and idempotency are disabled.
func ProvideRedisClient(cfg *config.Config, zapLog *zap.Logger) (goredis.UniversalClient, func()) {
	if cfg.Redis.Address == "" {
		return nil, func() {}
	}
	client, err := redisadapter.NewClient(context.Background(), cfg.Redis)
	if err != nil {
		zapLog.Warn("Redis connection failed, continuing without redis", zap.Error(err))
		return nil, func() {}
	}
	return client, func() {
		if err := client.Close(); err != nil {
			zapLog.Warn("close redis", zap.Error(err))
		}
	}
}

// ProvideS3Client creates the owned object storage client.
func ProvideS3Client(cfg *config.Config) (*awss3.Client, error) {
	return s3adapter.NewClient(context.Background(), cfg.Storage)
}

// ===== Provider Catalog Providers =====

// ProviderSet provides the catalog and the provider circuit breakers.
var ProviderSet = wire.NewSet(
	ProvideCatalog,
	ProvideHealthCache,
	ProvideHealthMonitor,
)

// ProvideCatalog builds the provider catalog from configuration.
func ProvideCatalog(cfg *config.Config) (*provider.Catalog, error) {
	catalog, err := provider.NewCatalogFromConfig(cfg.Media)
	if err != nil {
		return nil, fmt.Errorf("build provider catalog: %w", err)
	}
	return catalog, nil
}

// ProvideHealthCache shares breaker transitions through redis.
func ProvideHealthCache(redis goredis.UniversalClient, zapLog *zap.Logger) *redisadapter.MediaHealthCache {
	if redis == nil {
		return nil
	}
	return redisadapter.NewMediaHealthCache(redis, zapLog)
}

// ProvideHealthMonitor creates the per-provider circuit breakers. State
// changes are exported as metrics and, with redis, to other instances.
func ProvideHealthMonitor(cache *redisadapter.MediaHealthCache, m *metrics.Metrics, zapLog *zap.Logger) *provider.HealthMonitor {
	cfg := provider.DefaultHealthMonitorConfig()
	cfg.IsSuccessful = generation.BreakerSuccess
	cfg.OnStateChange = func(id provider.ID, status provider.HealthStatus) {
		m.SetProviderHealth(string(id), status.Gauge())
		if cache != nil {
			cache.OnStateChange(id, status)
		}
	}
	return provider.NewHealthMonitor(cfg, zapLog)
}

// ===== Storage Providers =====

// StorageSet provides asset storage and relocation.
var StorageSet = wire.NewSet(
	ProvideMediaStorage,
	ProvideRelocator,
)

// ProvideMediaStorage creates the S3 backed uploader.
func ProvideMediaStorage(client *awss3.Client, cfg *config.Config, zapLog *zap.Logger) *s3adapter.MediaStorage {
	return s3adapter.NewMediaStorage(client, cfg.Storage, zapLog)
}

// ProvideRelocator creates the asset relocator.
func ProvideRelocator(transfer httpclient.Transfer, storage *s3adapter.MediaStorage, cfg *config.Config, m *metrics.Metrics, zapLog *zap.Logger) *relocation.Relocator {
	return relocation.NewRelocator(transfer.Client, storage, relocation.Config{
		ProxyURL:         cfg.Media.ProxyURL,
		MaxDownloadBytes: cfg.Media.MaxDownloadBytes,
		TempDir:          cfg.Media.TempDir,
		OwnedBaseURL:     cfg.Storage.PublicBaseURL,
	}, m, zapLog)
}

// ===== Generation Providers =====

// GenerationSet provides the generation clients and the batch orchestrator.
var GenerationSet = wire.NewSet(
	generation.NewImageClient,
	ProvideVideoPoller,
	ProvideRenderPipeline,
	ProvideBatchOrchestrator,
)

// ProvideVideoPoller creates the direct video poller.
func ProvideVideoPoller(catalog *provider.Catalog, client *http.Client, transfer httpclient.Transfer, health *provider.HealthMonitor, cfg *config.Config, m *metrics.Metrics, zapLog *zap.Logger) *generation.VideoPoller {
	poll := generation.PollConfig{
		Interval:    cfg.Media.Video.PollInterval,
		MaxAttempts: cfg.Media.Video.MaxAttempts,
	}
	return generation.NewVideoPoller(catalog, client, health, poll, generation.RealClock(), m, zapLog,
		generation.WithDownloadClient(transfer.Client))
}

// ProvideRenderPipeline creates the webhook render pipeline. It returns nil
// when no render webhook is configured.
func ProvideRenderPipeline(catalog *provider.Catalog, client *http.Client, health *provider.HealthMonitor, relocator *relocation.Relocator, cfg *config.Config, m *metrics.Metrics, zapLog *zap.Logger) batch.RenderGenerator {
	rc := cfg.Media.Render
	if rc.WebhookURL == "" {
		return nil
	}
	return generation.NewRenderPipeline(catalog, client, health, relocator, generation.RenderConfig{
		Poll: generation.PollConfig{
			Interval:    rc.PollInterval,
			MaxAttempts: rc.MaxAttempts,
		},
		SceneCount:       rc.SceneCount,
		DurationPerScene: rc.DurationPerScene,
	}, generation.RealClock(), m, zapLog)
}

// ProvideBatchOrchestrator creates the batch orchestrator.
func ProvideBatchOrchestrator(
	catalog *provider.Catalog,
	images *generation.ImageClient,
	videos *generation.VideoPoller,
	renders batch.RenderGenerator,
	relocator *relocation.Relocator,
	m *metrics.Metrics,
	zapLog *zap.Logger,
) *batch.Orchestrator {
	return batch.NewOrchestrator(catalog, images, videos, renders, relocator, m, zapLog)
}

// ===== Progress & Task Providers =====

// TaskSet provides progress publication and the background task manager.
var TaskSet = wire.NewSet(
	ProvideProgressPublisher,
	ProvideProgressSink,
	ProvideTaskManager,
)

// ProvideProgressPublisher creates the redis progress publisher, which also
// serves snapshots of tasks running on other instances.
func ProvideProgressPublisher(redis goredis.UniversalClient, cfg *config.Config, zapLog *zap.Logger) *redisadapter.ProgressPublisher {
	if redis == nil {
		return nil
	}
	return redisadapter.NewProgressPublisher(redis, cfg.Progress.RedisChannel, cfg.Progress.SnapshotTTL, zapLog)
}

// ProvideProgressSink fans task progress out to the configured sinks.
// Network sinks are buffered so a broker outage never stalls a job.
func ProvideProgressSink(cfg *config.Config, publisher *redisadapter.ProgressPublisher, zapLog *zap.Logger) (progress.Sink, func(), error) {
	var (
		sinks   progress.Multi
		closers []func()
	)
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, name := range cfg.Progress.Sinks {
		switch name {
		case SinkLog:
			sinks = append(sinks, progress.NewLogSink(zapLog))
		case SinkRedis:
			if publisher == nil {
				zapLog.Warn("redis progress sink configured without redis, skipping")
				continue
			}
			buffered := progress.NewBuffered(publisher, cfg.Progress.BufferSize, zapLog)
			sinks = append(sinks, buffered)
			closers = append(closers, buffered.Close)
		case SinkKafka:
			if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
				cleanup()
				return nil, nil, fmt.Errorf("kafka progress sink requires brokers and topic")
			}
			kp := kafkaadapter.NewProgressPublisher(kafkaadapter.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), zapLog)
			buffered := progress.NewBuffered(kp, cfg.Progress.BufferSize, zapLog)
			sinks = append(sinks, buffered)
			closers = append(closers, func() {
				buffered.Close()
				if err := kp.Close(); err != nil {
					zapLog.Warn("close kafka writer", zap.Error(err))
				}
			})
		default:
			cleanup()
			return nil, nil, fmt.Errorf("unknown progress sink %q", name)
		}
	}

	return sinks, cleanup, nil
}

// ProvideTaskManager creates the background task manager.
func ProvideTaskManager(cfg *config.Config, m *metrics.Metrics, zapLog *zap.Logger) (*task.Manager, func()) {
	manager := task.NewManager(task.NewMemoryRepository(), apperrors.ClassifyTask, m, zapLog, &task.Config{
		MaxConcurrent:  cfg.Tasks.MaxConcurrent,
		DefaultTimeout: cfg.Tasks.DefaultTimeout,
	})
	return manager, manager.Stop
}

// ===== HTTP Providers =====

// HTTPSet provides the media service and its HTTP handler.
var HTTPSet = wire.NewSet(
	ProvideMediaService,
	ProvideMediaHandler,
)

// ProvideMediaService creates the media service and registers its task
// executors.
func ProvideMediaService(
	catalog *provider.Catalog,
	images *generation.ImageClient,
	videos *generation.VideoPoller,
	renders batch.RenderGenerator,
	batches *batch.Orchestrator,
	relocator *relocation.Relocator,
	tasks *task.Manager,
	sink progress.Sink,
) *mediahttp.Service {
	service := mediahttp.NewService(catalog, images, videos, renders, batches, relocator)
	service.RegisterExecutors(tasks, sink)
	return service
}

// ProvideMediaHandler creates the media HTTP handler.
func ProvideMediaHandler(
	service *mediahttp.Service,
	tasks *task.Manager,
	catalog *provider.Catalog,
	health *provider.HealthMonitor,
	cache *redisadapter.MediaHealthCache,
	publisher *redisadapter.ProgressPublisher,
	zapLog *zap.Logger,
) *mediahttp.Handler {
	var opts []mediahttp.HandlerOption
	if cache != nil {
		opts = append(opts, mediahttp.WithSharedHealth(cache))
	}
	if publisher != nil {
		opts = append(opts, mediahttp.WithSnapshots(publisher))
	}
	return mediahttp.NewHandler(service, tasks, catalog, health, zapLog, opts...)
}

// AppSet combines every provider set.
var AppSet = wire.NewSet(
	InfraSet,
	ProviderSet,
	StorageSet,
	GenerationSet,
	TaskSet,
	HTTPSet,
)
