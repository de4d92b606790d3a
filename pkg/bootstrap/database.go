package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"surfacesync/internal/config"
	"surfacesync/internal/logger"
	"surfacesync/pkg/migrations"
)

// Databases are all optional. A nil field means the backend is not
// configured.
type Databases struct {
	Redis    redis.UniversalClient
	Postgres *sql.DB
	Mongo    *mongo.Client
	MongoDB  *mongo.Database
}

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// InitAll connects every configured backend and runs migrations when
// database.run_migrations is set. On error the connections opened so far
// are closed.
func (dc *DatabaseConnector) InitAll(ctx context.Context) (*Databases, error) {
	dbs := &Databases{}

	var err error
	if dbs.Redis, err = dc.InitRedis(ctx); err != nil {
		return nil, err
	}

	if dbs.Postgres, err = dc.InitPostgreSQL(ctx); err != nil {
		dc.ShutdownDatabases(ctx, dbs)
		return nil, err
	}

	if dbs.Mongo, err = dc.InitMongoDB(ctx); err != nil {
		dc.ShutdownDatabases(ctx, dbs)
		return nil, err
	}
	if dbs.Mongo != nil {
		dbs.MongoDB = dbs.Mongo.Database(dc.Config.Database.MongoDB.Database)
	}

	if dc.Config.Database.RunMigrations {
		if err := dc.migrate(ctx, dbs); err != nil {
			dc.ShutdownDatabases(ctx, dbs)
			return nil, err
		}
	}

	return dbs, nil
}

func (dc *DatabaseConnector) migrate(ctx context.Context, dbs *Databases) error {
	if dbs.Postgres != nil {
		if err := migrations.RunPostgres(dbs.Postgres); err != nil {
			return fmt.Errorf("failed to run postgres migrations: %w", err)
		}
		dc.Logger.Info("PostgreSQL migrations applied")
	}

	if dbs.MongoDB != nil {
		remote := dc.Config.Remote
		if err := migrations.EnsureMongoIndexes(ctx, dbs.MongoDB, remote.MessagesCollection, remote.SurfaceStatesCollection); err != nil {
			return fmt.Errorf("failed to ensure mongodb indexes: %w", err)
		}
		dc.Logger.Info("MongoDB indexes ensured")
	}

	return nil
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (redis.UniversalClient, error) {
	if dc.Config.Database.Redis.Host == "" {
		return nil, nil // Redis is optional
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", dc.Config.Database.Redis.Host, dc.Config.Database.Redis.Port),
		Password: dc.Config.Database.Redis.Password,
		DB:       dc.Config.Database.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.Info("Redis connected successfully")
	return rdb, nil
}

func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	if dc.Config.Database.Postgres.Host == "" {
		return nil, nil // PostgreSQL is optional
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		dc.Config.Database.Postgres.User,
		dc.Config.Database.Postgres.Password,
		dc.Config.Database.Postgres.Host,
		dc.Config.Database.Postgres.Port,
		dc.Config.Database.Postgres.DBName,
		dc.Config.Database.Postgres.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dc.Logger.Info("PostgreSQL connected successfully")
	return db, nil
}

func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, error) {
	if dc.Config.Database.MongoDB.URI == "" {
		return nil, nil // MongoDB is optional
	}

	mongoOpts := options.Client().ApplyURI(dc.Config.Database.MongoDB.URI)
	mongoClient, err := mongo.Connect(ctx, mongoOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := mongoClient.Ping(ctx, nil); err != nil {
		mongoClient.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dc.Logger.Info("MongoDB connected successfully")
	return mongoClient, nil
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context, dbs *Databases) []error {
	if dbs == nil {
		return nil
	}

	var errs []error

	if dbs.Redis != nil {
		if err := dbs.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if dbs.Postgres != nil {
		if err := dbs.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if dbs.Mongo != nil {
		if err := dbs.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}
