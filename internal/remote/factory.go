package remote

import (
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"surfacesync/internal/config"
	"surfacesync/internal/constants"
	"surfacesync/internal/logger"
	"surfacesync/pkg/circuitbreaker"
	"surfacesync/pkg/retry"
)

// New builds the configured backend wrapped in Resilient. mongoDB is only
// used by the mongodb backend.
func New(cfg config.RemoteConfig, cbCfg config.CircuitBreakerConfig, mongoDB *mongo.Database, log logger.Logger) (SystemOfRecord, error) {
	var inner SystemOfRecord
	switch cfg.Backend {
	case constants.BackendNone, "":
		return Noop{}, nil
	case constants.BackendMongoDB:
		if mongoDB == nil {
			return nil, fmt.Errorf("mongodb remote backend requires a database connection")
		}
		inner = NewMongoRecord(mongoDB, cfg.MessagesCollection, cfg.SurfaceStatesCollection)
	case constants.BackendHTTP:
		inner = NewHTTPRecord(cfg.HTTP, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown remote backend: %s", cfg.Backend)
	}

	var breaker *circuitbreaker.Wrapper
	if cbCfg.Enabled {
		breaker = circuitbreaker.NewWrapper(circuitbreaker.FromConfig("remote-"+inner.Name(), cbCfg))
	}

	return NewResilient(inner, retry.FromConfig(cfg.Retry), breaker, cfg.Timeout, log), nil
}
