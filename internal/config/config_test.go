package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 400, cfg.Media.MaxDimensionPx)
	assert.Equal(t, 5*time.Second, cfg.Media.FetchTimeout)
	assert.Equal(t, "file", cfg.State.Backend)
	assert.Equal(t, "dir", cfg.Receipts.Backend)
	assert.Equal(t, 72*time.Hour, cfg.Receipts.CorruptMaxAge)
	assert.Equal(t, 10, cfg.Dispatcher.ListSize)
	assert.Equal(t, []string{"hero", "list"}, cfg.Dispatcher.Surfaces)
	assert.Equal(t, "none", cfg.Remote.Backend)
	assert.Equal(t, 3, cfg.Remote.Retry.MaxAttempts)
	assert.Empty(t, cfg.Broker.Type)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
media:
  dir: /var/surfacesync/media
  max_dimension_px: 256
dispatcher:
  list_size: 5
  sequence_guard: true
reconcile:
  schedule: "@every 30s"
broker:
  type: kafka
  kafka:
    brokers: ["localhost:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("SURFACESYNC_LOGGING_LEVEL", "debug")
	t.Setenv("SURFACESYNC_BROKER_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/surfacesync/media", cfg.Media.Dir)
	assert.Equal(t, 256, cfg.Media.MaxDimensionPx)
	assert.Equal(t, 5, cfg.Dispatcher.ListSize)
	assert.True(t, cfg.Dispatcher.SequenceGuard)
	assert.Equal(t, "@every 30s", cfg.Reconcile.Schedule)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
	assert.Equal(t, "surface_pushes", cfg.Broker.Kafka.PushTopic)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func usePostgresReceipts(c *Config) {
	c.Receipts.Backend = "postgres"
	c.Database.Postgres = PostgresConfig{Host: "db", Port: 5432, User: "surfacesync", DBName: "surfacesync", SSLMode: "disable"}
}

func TestValidateStatic(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:      "port out of range",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantField: "server.port",
		},
		{
			name:      "zero max dimension",
			mutate:    func(c *Config) { c.Media.MaxDimensionPx = 0 },
			wantField: "media.max_dimension_px",
		},
		{
			name:      "unknown state backend",
			mutate:    func(c *Config) { c.State.Backend = "sqlite" },
			wantField: "state.backend",
		},
		{
			name:      "redis state without redis",
			mutate:    func(c *Config) { c.State.Backend = "redis" },
			wantField: "database.redis.host",
		},
		{
			name:      "postgres receipts without postgres",
			mutate:    func(c *Config) { c.Receipts.Backend = "postgres" },
			wantField: "database.postgres.host",
		},
		{
			name: "receipts table the migrations do not create",
			mutate: func(c *Config) {
				usePostgresReceipts(c)
				c.Receipts.Table = "receipts_v2"
			},
			wantField: "receipts.table",
		},
		{
			name: "receipts table managed outside migrations",
			mutate: func(c *Config) {
				usePostgresReceipts(c)
				c.Database.RunMigrations = false
				c.Receipts.Table = "receipts_v2"
			},
		},
		{
			name:      "negative remote budget",
			mutate:    func(c *Config) { c.Dispatcher.RemoteBudget = -time.Second },
			wantField: "dispatcher.remote_budget",
		},
		{
			name:      "bad cron schedule",
			mutate:    func(c *Config) { c.Reconcile.Schedule = "every now and then" },
			wantField: "reconcile.schedule",
		},
		{
			name:      "http remote without url",
			mutate:    func(c *Config) { c.Remote.Backend = "http" },
			wantField: "remote.http.base_url",
		},
		{
			name:      "mirror without minio",
			mutate:    func(c *Config) { c.Media.Mirror = true },
			wantField: "storage.minio.endpoint",
		},
		{
			name: "kafka without brokers",
			mutate: func(c *Config) {
				c.Broker.Type = "kafka"
				c.Broker.Kafka.Brokers = nil
			},
			wantField: "broker.kafka.brokers",
		},
		{
			name:      "invalid mongodb uri",
			mutate:    func(c *Config) { c.Database.MongoDB.URI = "http://mongo" },
			wantField: "database.mongodb.uri",
		},
		{
			name:      "empty surfaces",
			mutate:    func(c *Config) { c.Dispatcher.Surfaces = nil },
			wantField: "dispatcher.surfaces",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := ValidateStatic(cfg)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}
