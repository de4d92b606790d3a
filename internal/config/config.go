package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Media          MediaConfig          `mapstructure:"media"`
	State          StateConfig          `mapstructure:"state"`
	Receipts       ReceiptsConfig       `mapstructure:"receipts"`
	Dispatcher     DispatcherConfig     `mapstructure:"dispatcher"`
	Reconcile      ReconcileConfig      `mapstructure:"reconcile"`
	Refresh        RefreshConfig        `mapstructure:"refresh"`
	Remote         RemoteConfig         `mapstructure:"remote"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Broker         BrokerConfig         `mapstructure:"broker"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int             `mapstructure:"port"`
	ReadTimeout  time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `mapstructure:"write_timeout"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type LoggingConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// MediaConfig bounds what a single fetch may cost in time and memory.
type MediaConfig struct {
	Dir             string        `mapstructure:"dir"`
	MaxDimensionPx  int           `mapstructure:"max_dimension_px"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	MaxBytes        int64         `mapstructure:"max_bytes"`
	MaxSourcePixels int           `mapstructure:"max_source_pixels"`
	JPEGQuality     int           `mapstructure:"jpeg_quality"`
	Mirror          bool          `mapstructure:"mirror"`
}

type StateConfig struct {
	Backend   string `mapstructure:"backend"` // "file" or "redis"
	Dir       string `mapstructure:"dir"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type ReceiptsConfig struct {
	Backend       string        `mapstructure:"backend"` // "dir" or "postgres"
	Dir           string        `mapstructure:"dir"`
	Table         string        `mapstructure:"table"`
	CorruptMaxAge time.Duration `mapstructure:"corrupt_max_age"`
}

type DispatcherConfig struct {
	ListSize         int           `mapstructure:"list_size"`
	FetchBudget      time.Duration `mapstructure:"fetch_budget"`
	InlineBlobs      bool          `mapstructure:"inline_blobs"`
	SequenceGuard    bool          `mapstructure:"sequence_guard"`
	FilterExpression string        `mapstructure:"filter_expression"`
	Surfaces         []string      `mapstructure:"surfaces"`
	RemoteBudget     time.Duration `mapstructure:"remote_budget"`
	RemoteWriters    int           `mapstructure:"remote_writers"`
	Dedup            DedupConfig   `mapstructure:"dedup"`
}

type DedupConfig struct {
	Backend      string        `mapstructure:"backend"` // "memory" or "redis"
	TTL          time.Duration `mapstructure:"ttl"`
	OnRedisError string        `mapstructure:"on_redis_error"` // "allow" (default) or "reject"
}

type ReconcileConfig struct {
	Schedule      string        `mapstructure:"schedule"`
	RunOnStart    bool          `mapstructure:"run_on_start"`
	BatchSize     int           `mapstructure:"batch_size"`
	CommitTimeout time.Duration `mapstructure:"commit_timeout"`
}

type RefreshConfig struct {
	CoalesceWindow time.Duration `mapstructure:"coalesce_window"`
	SignalDir      string        `mapstructure:"signal_dir"`
	WebSocket      bool          `mapstructure:"websocket"`
	PublishEvents  bool          `mapstructure:"publish_events"`
}

type RemoteConfig struct {
	Backend                 string        `mapstructure:"backend"` // "mongodb", "http" or "none"
	Timeout                 time.Duration `mapstructure:"timeout"`
	MessagesCollection      string        `mapstructure:"messages_collection"`
	SurfaceStatesCollection string        `mapstructure:"surface_states_collection"`
	HTTP                    HTTPRemote    `mapstructure:"http"`
	Retry                   RetryConfig   `mapstructure:"retry"`
}

type HTTPRemote struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `mapstructure:"postgres"`
	Redis         RedisConfig    `mapstructure:"redis"`
	MongoDB       MongoDBConfig  `mapstructure:"mongodb"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type StorageConfig struct {
	Minio MinioConfig `mapstructure:"minio"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"` // "" disables the broker
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers     []string    `mapstructure:"brokers"`
	GroupID     string      `mapstructure:"group_id"`
	PushTopic   string      `mapstructure:"push_topic"`
	RedrawTopic string      `mapstructure:"redraw_topic"`
	DLQTopic    string      `mapstructure:"dlq_topic"`
	Retry       RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
