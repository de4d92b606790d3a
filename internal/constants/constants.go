package constants

import "time"

const (
	ServiceName = "surfacesync"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout     = 10 * time.Second
	DefaultFetchTimeout    = 5 * time.Second
	DefaultFetchBudget     = 20 * time.Second
	DefaultCommitTimeout   = 10 * time.Second
	RemoteOperationTimeout = 5 * time.Second
	HealthCheckTimeout     = 5 * time.Second
	ShutdownTimeout        = 5 * time.Second
)

const (
	DefaultMaxDimensionPx  = 400
	DefaultMaxMediaBytes   = 8 << 20
	DefaultMaxSourcePixels = 40_000_000
	DefaultJPEGQuality     = 80
)

const (
	DefaultListSize       = 10
	DefaultDedupTTL       = time.Hour
	DefaultBatchSize      = 100
	DefaultCorruptMaxAge  = 72 * time.Hour
	DefaultCoalesceWindow = 250 * time.Millisecond
	DefaultSchedule       = "0 */5 * * * *"
	DefaultRemoteBudget   = 10 * time.Second
	DefaultRemoteWriters  = 8
)

const (
	CacheKeyPrefixDedup = "surfacesync:dedup:"
	CacheKeyPrefixState = "surfacesync:state:"
)

const (
	DefaultPushTopic   = "surface_pushes"
	DefaultRedrawTopic = "surface_redraws"
)

const (
	DefaultMongoDBName             = "surfacesync"
	DefaultMessagesCollection      = "messages"
	DefaultSurfaceStatesCollection = "surface_states"
	DefaultReceiptsTable           = "surface_receipts"
)

const (
	ScopeHero          = "hero"
	ScopeList          = "list"
	ScopeContactPrefix = "contact."
)

const (
	RolePrimaryImage = "primary-image"
	RolePrimaryMedia = "primary-media"
	RoleVideo        = "video"
)

const (
	BackendFile     = "file"
	BackendDir      = "dir"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongoDB  = "mongodb"
	BackendHTTP     = "http"
	BackendNone     = "none"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)
