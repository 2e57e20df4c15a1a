package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Media      MediaConfig      `mapstructure:"media"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// HTTPClientConfig holds HTTP client configuration for connection pooling.
type HTTPClientConfig struct {
	// Connection pool settings
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`

	// Timeout settings
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
	// TransferTimeout bounds whole downloads; zero leaves them to the context.
	TransferTimeout time.Duration `mapstructure:"transfer_timeout"`

	// Keep-alive settings
	KeepAlive time.Duration `mapstructure:"keep_alive"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig holds Kafka producer configuration.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// StorageConfig holds owned object storage configuration.
type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	// PublicBaseURL is the owned URL prefix objects are served from.
	PublicBaseURL string `mapstructure:"public_base_url"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	ThumbnailSize int    `mapstructure:"thumbnail_size"`
	JPEGQuality   int    `mapstructure:"jpeg_quality"`
}

// TasksConfig holds background task configuration.
type TasksConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ProgressConfig selects where progress events are published.
type ProgressConfig struct {
	Sinks        []string      `mapstructure:"sinks"` // log, redis, kafka
	RedisChannel string        `mapstructure:"redis_channel"`
	SnapshotTTL  time.Duration `mapstructure:"snapshot_ttl"`
	// BufferSize bounds the events queued per network sink.
	BufferSize int `mapstructure:"buffer_size"`
}

// MediaConfig holds the orchestration configuration.
type MediaConfig struct {
	FallbackProvider string                    `mapstructure:"fallback_provider"`
	ProxyURL         string                    `mapstructure:"proxy_url"`
	MaxDownloadBytes int64                     `mapstructure:"max_download_bytes"`
	TempDir          string                    `mapstructure:"temp_dir"`
	Video            PollConfig                `mapstructure:"video"`
	Render           RenderConfig              `mapstructure:"render"`
	Providers        map[string]ProviderConfig `mapstructure:"providers"`
}

// PollConfig bounds a polling loop.
type PollConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// RenderConfig holds the external webhook render pipeline settings.
type RenderConfig struct {
	PollConfig       `mapstructure:",squash"`
	WebhookURL       string `mapstructure:"webhook_url"`
	StatusURL        string `mapstructure:"status_url"`
	APIKey           string `mapstructure:"api_key"`
	SceneCount       int    `mapstructure:"scene_count"`
	DurationPerScene int    `mapstructure:"duration_per_scene"`
}

// ProviderConfig overrides a built-in provider descriptor.
type ProviderConfig struct {
	Name              string   `mapstructure:"name"`
	BaseURL           string   `mapstructure:"base_url"`
	APIKey            string   `mapstructure:"api_key"`
	ImagePath         string   `mapstructure:"image_path"`
	VideoPath         string   `mapstructure:"video_path"`
	StatusPath        string   `mapstructure:"status_path"`
	DownloadPath      string   `mapstructure:"download_path"`
	DefaultImageModel string   `mapstructure:"default_image_model"`
	DefaultVideoModel string   `mapstructure:"default_video_model"`
	Capabilities      []string `mapstructure:"capabilities"`
	PreResolved       bool     `mapstructure:"pre_resolved"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/mediaflow")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("MEDIAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applySecretOverrides(&cfg)
	return &cfg, nil
}

// applySecretOverrides reads credentials that never live in config files.
func applySecretOverrides(cfg *Config) {
	if key := os.Getenv("MEDIAFLOW_STORAGE_SECRET_KEY"); key != "" {
		cfg.Storage.SecretAccessKey = key
	}
	if password := os.Getenv("MEDIAFLOW_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("MEDIAFLOW_RENDER_API_KEY"); key != "" {
		cfg.Media.Render.APIKey = key
	}
	if s := os.Getenv("MEDIAFLOW_KAFKA_BROKERS"); s != "" {
		cfg.Kafka.Brokers = parseCommaSeparatedList(s)
	}

	for id, p := range cfg.Media.Providers {
		env := "MEDIAFLOW_" + strings.ToUpper(id) + "_API_KEY"
		if key := os.Getenv(env); key != "" {
			p.APIKey = key
			cfg.Media.Providers[id] = p
		}
	}
}

func parseCommaSeparatedList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// HTTP client defaults
	v.SetDefault("http_client.max_idle_conns", 100)
	v.SetDefault("http_client.max_idle_conns_per_host", 20)
	v.SetDefault("http_client.max_conns_per_host", 50)
	v.SetDefault("http_client.idle_conn_timeout", 90*time.Second)
	v.SetDefault("http_client.dial_timeout", 30*time.Second)
	v.SetDefault("http_client.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("http_client.response_timeout", 120*time.Second)
	v.SetDefault("http_client.transfer_timeout", 30*time.Minute)
	v.SetDefault("http_client.keep_alive", 30*time.Second)

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "media-progress")

	// Storage defaults
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.bucket", "media")
	v.SetDefault("storage.key_prefix", "generated/")
	v.SetDefault("storage.thumbnail_size", 320)
	v.SetDefault("storage.jpeg_quality", 85)

	// Task defaults
	v.SetDefault("tasks.max_concurrent", 4)
	v.SetDefault("tasks.default_timeout", 30*time.Minute)

	// Progress defaults
	v.SetDefault("progress.sinks", []string{"log"})
	v.SetDefault("progress.redis_channel", "media:progress")
	v.SetDefault("progress.snapshot_ttl", time.Hour)
	v.SetDefault("progress.buffer_size", 256)

	// Media defaults
	v.SetDefault("media.fallback_provider", "openai")
	v.SetDefault("media.max_download_bytes", 512*1024*1024)
	v.SetDefault("media.video.poll_interval", 5*time.Second)
	v.SetDefault("media.video.max_attempts", 60)
	v.SetDefault("media.render.poll_interval", 10*time.Second)
	v.SetDefault("media.render.max_attempts", 120)
	v.SetDefault("media.render.scene_count", 3)
	v.SetDefault("media.render.duration_per_scene", 5)
}
