// Package bootstrap builds the clients both services share from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/unique-jobs/internal/api/handler"
	"github.com/cuongbtq/unique-jobs/internal/config"
	"github.com/cuongbtq/unique-jobs/internal/kv"
	"github.com/cuongbtq/unique-jobs/internal/queue"
	"github.com/cuongbtq/unique-jobs/internal/unique"
	"github.com/cuongbtq/unique-jobs/shared/logger"
	"github.com/cuongbtq/unique-jobs/shared/postgresql"
	"github.com/cuongbtq/unique-jobs/shared/rabbitmq"
	"github.com/cuongbtq/unique-jobs/shared/redisclient"
	"github.com/go-redis/redis/v8"
)

// Infra holds the connected backends and the unique job client built on them
type Infra struct {
	Logger  *slog.Logger
	DB      *postgresql.Client
	Rabbit  *rabbitmq.Client
	Redis   *redis.Client
	Storage *queue.Storage
	Jobs    *unique.Client
}

// Connect opens postgres, RabbitMQ and Redis and wires the job queue and the
// unique layer over them. Whatever was opened is closed again on error.
func Connect(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Infra, error) {
	infra := &Infra{Logger: log}

	var err error
	infra.DB, err = InitPostgreSQL(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	log.Info("Database connection established")

	infra.Rabbit, err = InitRabbitMQ(&cfg.RabbitMQ, log)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	log.Info("RabbitMQ connection established")

	infra.Redis, err = InitRedis(ctx, &cfg.Redis, log)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	infra.Storage = queue.NewStorage(infra.DB.GetDB(), log)
	infra.Jobs, err = NewUniqueClient(&cfg.Unique, infra.Redis, queue.New(infra.Storage, infra.Rabbit, log), log)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("failed to initialize unique client: %w", err)
	}

	return infra, nil
}

// HealthChecks returns the dependency probes exposed by the health endpoint
func (i *Infra) HealthChecks() map[string]handler.HealthCheck {
	return map[string]handler.HealthCheck{
		"postgres": i.DB.HealthCheck,
		"redis": func(ctx context.Context) error {
			return i.Redis.Ping(ctx).Err()
		},
		"rabbitmq": func(context.Context) error {
			if !i.Rabbit.IsConnected() {
				return fmt.Errorf("not connected to RabbitMQ")
			}
			return nil
		},
	}
}

// Close releases every backend that was opened
func (i *Infra) Close() {
	if i.Rabbit != nil {
		if err := i.Rabbit.Close(); err != nil {
			i.Logger.Error("Failed to close RabbitMQ", slog.String("error", err.Error()))
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			i.Logger.Error("Failed to close Redis", slog.String("error", err.Error()))
		}
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			i.Logger.Error("Failed to close database", slog.String("error", err.Error()))
		}
	}
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, log *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, log)
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, log *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, log)
}

// InitRedis connects to the Redis instance holding reservations and associations
func InitRedis(ctx context.Context, cfg *config.RedisConfig, log *slog.Logger) (*redis.Client, error) {
	return redisclient.NewClient(ctx, &redisclient.Config{
		URL:         cfg.URL,
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	}, log)
}

// NewUniqueClient wraps q with the unique layer stored in rdb
func NewUniqueClient(cfg *config.UniqueConfig, rdb redis.Cmdable, q unique.Queue, log *slog.Logger) (*unique.Client, error) {
	opts := []kv.RedisOption{kv.WithLogger(log)}
	if cfg.KeyPrefix != "" {
		opts = append(opts, kv.WithPrefix(cfg.KeyPrefix))
	}

	return unique.NewClient(&unique.Config{
		Logger: log,
		Queue:  q,
		Store:  kv.NewRedis(rdb, opts...),
		Regions: unique.Regions{
			Reservations: cfg.ReservationRegion,
			Associations: cfg.AssociationRegion,
		},
		Codec: cfg.Codec,
	})
}
