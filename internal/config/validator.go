package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"surfacesync/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateMedia(c.Media) },
		func(c *Config) error { return validateState(c.State, c.Database) },
		func(c *Config) error { return validateReceipts(c.Receipts, c.Database) },
		func(c *Config) error { return validateDispatcher(c.Dispatcher, c.Database) },
		func(c *Config) error { return validateReconcile(c.Reconcile) },
		func(c *Config) error { return validateRemote(c.Remote, c.Database) },
		func(c *Config) error { return validateStorage(c.Media, c.Storage) },
		func(c *Config) error { return validateBroker(c.Broker) },
		func(c *Config) error { return validateDatabase(c.Database) },
	}

	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		}
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst <= 0) {
		return &ValidationError{
			Field:   "server.rate_limit",
			Message: "rps and burst must be positive when rate limiting is enabled",
		}
	}

	return nil
}

func validateMedia(cfg MediaConfig) error {
	if cfg.Dir == "" {
		return &ValidationError{Field: "media.dir", Message: "media directory is required"}
	}

	if cfg.MaxDimensionPx < 1 {
		return &ValidationError{
			Field:   "media.max_dimension_px",
			Message: fmt.Sprintf("max dimension must be positive, got %d", cfg.MaxDimensionPx),
		}
	}

	if cfg.FetchTimeout <= 0 {
		return &ValidationError{Field: "media.fetch_timeout", Message: "fetch timeout must be positive"}
	}

	if cfg.MaxBytes <= 0 {
		return &ValidationError{Field: "media.max_bytes", Message: "max bytes must be positive"}
	}

	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return &ValidationError{
			Field:   "media.jpeg_quality",
			Message: fmt.Sprintf("jpeg quality must be between 1 and 100, got %d", cfg.JPEGQuality),
		}
	}

	return nil
}

func validateState(cfg StateConfig, db DatabaseConfig) error {
	switch cfg.Backend {
	case constants.BackendFile:
		if cfg.Dir == "" {
			return &ValidationError{Field: "state.dir", Message: "state directory is required for the file backend"}
		}
	case constants.BackendRedis:
		if db.Redis.Host == "" {
			return &ValidationError{Field: "database.redis.host", Message: "redis is required for the redis state backend"}
		}
	default:
		return &ValidationError{
			Field:   "state.backend",
			Message: fmt.Sprintf("unknown state backend: %s (supported: file, redis)", cfg.Backend),
		}
	}
	return nil
}

func validateReceipts(cfg ReceiptsConfig, db DatabaseConfig) error {
	switch cfg.Backend {
	case constants.BackendDir:
		if cfg.Dir == "" {
			return &ValidationError{Field: "receipts.dir", Message: "receipts directory is required for the dir backend"}
		}
	case constants.BackendPostgres:
		if db.Postgres.Host == "" {
			return &ValidationError{Field: "database.postgres.host", Message: "postgres is required for the postgres receipts backend"}
		}
		if cfg.Table == "" {
			return &ValidationError{Field: "receipts.table", Message: "receipts table is required"}
		}
		if db.RunMigrations && cfg.Table != constants.DefaultReceiptsTable {
			return &ValidationError{
				Field:   "receipts.table",
				Message: fmt.Sprintf("migrations create %s; disable database.run_migrations to use %s", constants.DefaultReceiptsTable, cfg.Table),
			}
		}
	default:
		return &ValidationError{
			Field:   "receipts.backend",
			Message: fmt.Sprintf("unknown receipts backend: %s (supported: dir, postgres)", cfg.Backend),
		}
	}

	if cfg.CorruptMaxAge < 0 {
		return &ValidationError{Field: "receipts.corrupt_max_age", Message: "corrupt max age must be non-negative"}
	}

	return nil
}

func validateDispatcher(cfg DispatcherConfig, db DatabaseConfig) error {
	if cfg.ListSize < 1 {
		return &ValidationError{
			Field:   "dispatcher.list_size",
			Message: fmt.Sprintf("list size must be positive, got %d", cfg.ListSize),
		}
	}

	if cfg.FetchBudget <= 0 {
		return &ValidationError{Field: "dispatcher.fetch_budget", Message: "fetch budget must be positive"}
	}

	if len(cfg.Surfaces) == 0 {
		return &ValidationError{Field: "dispatcher.surfaces", Message: "at least one surface id is required"}
	}

	if cfg.RemoteBudget < 0 {
		return &ValidationError{Field: "dispatcher.remote_budget", Message: "remote budget must be non-negative"}
	}

	if cfg.RemoteWriters < 0 {
		return &ValidationError{Field: "dispatcher.remote_writers", Message: "remote writers must be non-negative"}
	}

	switch cfg.Dedup.Backend {
	case constants.BackendMemory:
	case constants.BackendRedis:
		if db.Redis.Host == "" {
			return &ValidationError{Field: "database.redis.host", Message: "redis is required for the redis dedup backend"}
		}
	default:
		return &ValidationError{
			Field:   "dispatcher.dedup.backend",
			Message: fmt.Sprintf("unknown dedup backend: %s (supported: memory, redis)", cfg.Dedup.Backend),
		}
	}

	if cfg.Dedup.TTL < 0 {
		return &ValidationError{Field: "dispatcher.dedup.ttl", Message: "TTL must be non-negative"}
	}

	validOnError := map[string]bool{"allow": true, "reject": true}
	if cfg.Dedup.OnRedisError != "" && !validOnError[strings.ToLower(cfg.Dedup.OnRedisError)] {
		return &ValidationError{
			Field:   "dispatcher.dedup.on_redis_error",
			Message: fmt.Sprintf("invalid on_redis_error value: %s (valid: allow, reject)", cfg.Dedup.OnRedisError),
		}
	}

	return nil
}

func validateReconcile(cfg ReconcileConfig) error {
	if cfg.BatchSize < 1 {
		return &ValidationError{
			Field:   "reconcile.batch_size",
			Message: fmt.Sprintf("batch size must be positive, got %d", cfg.BatchSize),
		}
	}

	if cfg.CommitTimeout <= 0 {
		return &ValidationError{Field: "reconcile.commit_timeout", Message: "commit timeout must be positive"}
	}

	if cfg.Schedule != "" {
		parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(cfg.Schedule); err != nil {
			return &ValidationError{
				Field:   "reconcile.schedule",
				Message: fmt.Sprintf("invalid cron schedule %q: %v", cfg.Schedule, err),
			}
		}
	}

	return nil
}

func validateRemote(cfg RemoteConfig, db DatabaseConfig) error {
	switch cfg.Backend {
	case constants.BackendNone:
	case constants.BackendMongoDB:
		if db.MongoDB.URI == "" {
			return &ValidationError{Field: "database.mongodb.uri", Message: "mongodb is required for the mongodb remote backend"}
		}
	case constants.BackendHTTP:
		if !strings.HasPrefix(cfg.HTTP.BaseURL, "http://") && !strings.HasPrefix(cfg.HTTP.BaseURL, "https://") {
			return &ValidationError{Field: "remote.http.base_url", Message: "base URL must start with http:// or https://"}
		}
	default:
		return &ValidationError{
			Field:   "remote.backend",
			Message: fmt.Sprintf("unknown remote backend: %s (supported: mongodb, http, none)", cfg.Backend),
		}
	}

	if cfg.Timeout <= 0 {
		return &ValidationError{Field: "remote.timeout", Message: "remote timeout must be positive"}
	}

	return validateRetry("remote.retry", cfg.Retry)
}

func validateStorage(media MediaConfig, cfg StorageConfig) error {
	if !media.Mirror {
		return nil
	}
	if cfg.Minio.Endpoint == "" {
		return &ValidationError{Field: "storage.minio.endpoint", Message: "minio endpoint is required when media.mirror is enabled"}
	}
	if cfg.Minio.Bucket == "" {
		return &ValidationError{Field: "storage.minio.bucket", Message: "minio bucket is required when media.mirror is enabled"}
	}
	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "":
		return nil
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required",
		}
	}

	if cfg.PushTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.push_topic",
			Message: "push topic is required",
		}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRetry(field string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{
			Field:   field + ".max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.InitialInterval < 0 {
		return &ValidationError{
			Field:   field + ".initial_interval",
			Message: "initial_interval must be non-negative",
		}
	}

	if cfg.MaxInterval < 0 {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be non-negative",
		}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier <= 0 {
		return &ValidationError{
			Field:   field + ".multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Host != "" || cfg.Postgres.Port > 0 {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}
