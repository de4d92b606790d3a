package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"surfacesync/internal/constants"
)

// LoadConfig reads configFile (optional) layered over defaults and
// SURFACESYNC_* environment variables.
func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("surfacesync")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.rate_limit.enabled", false)
	viper.SetDefault("server.rate_limit.rps", 20.0)
	viper.SetDefault("server.rate_limit.burst", 40)
	viper.SetDefault("server.rate_limit.cleanup_interval", 60)
	viper.SetDefault("server.rate_limit.max_age", 300)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("media.dir", "./data/media")
	viper.SetDefault("media.max_dimension_px", constants.DefaultMaxDimensionPx)
	viper.SetDefault("media.fetch_timeout", constants.DefaultFetchTimeout)
	viper.SetDefault("media.max_bytes", constants.DefaultMaxMediaBytes)
	viper.SetDefault("media.max_source_pixels", constants.DefaultMaxSourcePixels)
	viper.SetDefault("media.jpeg_quality", constants.DefaultJPEGQuality)
	viper.SetDefault("media.mirror", false)

	viper.SetDefault("state.backend", constants.BackendFile)
	viper.SetDefault("state.dir", "./data/state")
	viper.SetDefault("state.key_prefix", constants.CacheKeyPrefixState)

	viper.SetDefault("receipts.backend", constants.BackendDir)
	viper.SetDefault("receipts.dir", "./data/receipts")
	viper.SetDefault("receipts.table", constants.DefaultReceiptsTable)
	viper.SetDefault("receipts.corrupt_max_age", constants.DefaultCorruptMaxAge)

	viper.SetDefault("dispatcher.list_size", constants.DefaultListSize)
	viper.SetDefault("dispatcher.fetch_budget", constants.DefaultFetchBudget)
	viper.SetDefault("dispatcher.inline_blobs", false)
	viper.SetDefault("dispatcher.sequence_guard", false)
	viper.SetDefault("dispatcher.filter_expression", "")
	viper.SetDefault("dispatcher.surfaces", []string{"hero", "list"})
	viper.SetDefault("dispatcher.remote_budget", constants.DefaultRemoteBudget)
	viper.SetDefault("dispatcher.remote_writers", constants.DefaultRemoteWriters)
	viper.SetDefault("dispatcher.dedup.backend", constants.BackendMemory)
	viper.SetDefault("dispatcher.dedup.ttl", constants.DefaultDedupTTL)
	viper.SetDefault("dispatcher.dedup.on_redis_error", "allow")

	viper.SetDefault("reconcile.schedule", constants.DefaultSchedule)
	viper.SetDefault("reconcile.run_on_start", true)
	viper.SetDefault("reconcile.batch_size", constants.DefaultBatchSize)
	viper.SetDefault("reconcile.commit_timeout", constants.DefaultCommitTimeout)

	viper.SetDefault("refresh.coalesce_window", constants.DefaultCoalesceWindow)
	viper.SetDefault("refresh.signal_dir", "./data/signals")
	viper.SetDefault("refresh.websocket", true)
	viper.SetDefault("refresh.publish_events", false)

	viper.SetDefault("remote.backend", constants.BackendNone)
	viper.SetDefault("remote.timeout", constants.RemoteOperationTimeout)
	viper.SetDefault("remote.messages_collection", constants.DefaultMessagesCollection)
	viper.SetDefault("remote.surface_states_collection", constants.DefaultSurfaceStatesCollection)
	viper.SetDefault("remote.retry.max_attempts", 3)
	viper.SetDefault("remote.retry.initial_interval", "200ms")
	viper.SetDefault("remote.retry.max_interval", "2s")
	viper.SetDefault("remote.retry.multiplier", 2.0)
	viper.SetDefault("remote.retry.max_elapsed_time", "8s")

	viper.SetDefault("database.postgres.sslmode", "disable")
	viper.SetDefault("database.mongodb.database", constants.DefaultMongoDBName)
	viper.SetDefault("database.run_migrations", true)

	viper.SetDefault("broker.type", "")
	viper.SetDefault("broker.kafka.group_id", constants.ServiceName)
	viper.SetDefault("broker.kafka.push_topic", constants.DefaultPushTopic)
	viper.SetDefault("broker.kafka.redraw_topic", constants.DefaultRedrawTopic)
	viper.SetDefault("broker.kafka.retry.max_attempts", 3)
	viper.SetDefault("broker.kafka.retry.initial_interval", "1s")
	viper.SetDefault("broker.kafka.retry.max_interval", "30s")
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)

	viper.SetDefault("circuit_breaker.enabled", false)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", "60s")
	viper.SetDefault("circuit_breaker.timeout", "30s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.6)
	viper.SetDefault("circuit_breaker.min_requests", 3)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service_name", constants.ServiceName)
}

// bindEnvVariables makes keys without defaults visible to Unmarshal.
func bindEnvVariables() {
	viper.BindEnv("database.postgres.host")
	viper.BindEnv("database.postgres.port")
	viper.BindEnv("database.postgres.user")
	viper.BindEnv("database.postgres.password")
	viper.BindEnv("database.postgres.dbname")

	viper.BindEnv("database.redis.host")
	viper.BindEnv("database.redis.port")
	viper.BindEnv("database.redis.password")
	viper.BindEnv("database.redis.db")

	viper.BindEnv("database.mongodb.uri")

	viper.BindEnv("storage.minio.endpoint")
	viper.BindEnv("storage.minio.access_key")
	viper.BindEnv("storage.minio.secret_key")
	viper.BindEnv("storage.minio.bucket")
	viper.BindEnv("storage.minio.prefix")
	viper.BindEnv("storage.minio.use_ssl")

	viper.BindEnv("remote.http.base_url")
	viper.BindEnv("remote.http.token")

	viper.BindEnv("tracing.otlp.endpoint")
	viper.BindEnv("tracing.otlp.insecure")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := os.Getenv("SURFACESYNC_BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		cfg.Broker.Kafka.Brokers = splitList(brokersEnv)
	}

	if surfacesEnv := os.Getenv("SURFACESYNC_DISPATCHER_SURFACES"); surfacesEnv != "" {
		cfg.Dispatcher.Surfaces = splitList(surfacesEnv)
	}

	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
