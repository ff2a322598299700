package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/showsync/recs/internal/config"
)

// Database bundles every backing store the recommendation core talks to:
// PostgreSQL for profiles, recommendations, and feedback; Neo4j for the
// user-similarity graph; three Redis tiers for caching.
type Database struct {
	PG     *pgxpool.Pool
	Neo4j  neo4j.DriverWithContext
	Redis  *RedisClients
	logger *logrus.Logger
}

// RedisClients split caching by access pattern: Hot carries rate-limit
// counters and the active-user set, Warm carries recommendation read caches
// and preference maps, Cold carries trending snapshots and analytics reports.
type RedisClients struct {
	Hot  *redis.Client
	Warm *redis.Client
	Cold *redis.Client
}

func New(cfg *config.Config, logger *logrus.Logger) (*Database, error) {
	db := &Database{
		logger: logger,
	}

	if err := db.initPostgreSQL(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	if err := db.initNeo4j(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize Neo4j: %w", err)
	}

	if err := db.initRedis(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	return db, nil
}

func (db *Database) initPostgreSQL(cfg *config.Config) error {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.Database.MaxIdleTime
	poolCfg.MaxConnLifetime = cfg.Database.MaxLifetime
	poolCfg.ConnConfig.ConnectTimeout = cfg.Database.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.PG = pool
	db.logger.Info("PostgreSQL connection established")
	return nil
}

func (db *Database) initNeo4j(cfg *config.Config) error {
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4j.URL,
		neo4j.BasicAuth(cfg.Neo4j.Username, cfg.Neo4j.Password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 10
			config.ConnectionAcquisitionTimeout = 30 * time.Second
		},
	)
	if err != nil {
		return fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	db.Neo4j = driver
	db.logger.Info("Neo4j connection established")
	return nil
}

func (db *Database) initRedis(cfg *config.Config) error {
	newClient := func(ic config.RedisInstanceConfig) *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:         ic.URL,
			MaxRetries:   ic.MaxRetries,
			PoolSize:     ic.PoolSize,
			ReadTimeout:  ic.Timeout,
			WriteTimeout: ic.Timeout,
		})
	}

	db.Redis = &RedisClients{
		Hot:  newClient(cfg.Redis.Hot),
		Warm: newClient(cfg.Redis.Warm),
		Cold: newClient(cfg.Redis.Cold),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for name, client := range map[string]*redis.Client{
		"hot": db.Redis.Hot, "warm": db.Redis.Warm, "cold": db.Redis.Cold,
	} {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping Redis %s tier: %w", name, err)
		}
	}

	db.logger.Info("Redis connections established")
	return nil
}

// Ping checks each backing store and returns a per-store status map. Used by
// the readiness endpoint.
func (db *Database) Ping(ctx context.Context) map[string]error {
	status := make(map[string]error, 5)
	status["postgres"] = db.PG.Ping(ctx)
	status["neo4j"] = db.Neo4j.VerifyConnectivity(ctx)
	status["redis_hot"] = db.Redis.Hot.Ping(ctx).Err()
	status["redis_warm"] = db.Redis.Warm.Ping(ctx).Err()
	status["redis_cold"] = db.Redis.Cold.Ping(ctx).Err()
	return status
}

func (db *Database) Close() error {
	var errs []error

	if db.PG != nil {
		db.PG.Close()
		db.logger.Info("PostgreSQL connection closed")
	}

	if db.Neo4j != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Neo4j.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Neo4j: %w", err))
		} else {
			db.logger.Info("Neo4j connection closed")
		}
	}

	if db.Redis != nil {
		for name, client := range map[string]*redis.Client{
			"hot": db.Redis.Hot, "warm": db.Redis.Warm, "cold": db.Redis.Cold,
		} {
			if client == nil {
				continue
			}
			if err := client.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close Redis %s tier: %w", name, err))
			}
		}
		if len(errs) == 0 {
			db.logger.Info("Redis connections closed")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing database connections: %v", errs)
	}

	return nil
}
