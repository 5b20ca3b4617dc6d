package deps

import (
	"context"

	"github.com/bwise1/civic_patrol/config"
	"github.com/bwise1/civic_patrol/internal/db"
	"github.com/bwise1/civic_patrol/util/logger"
	"github.com/bwise1/civic_patrol/util/websockets"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Dependencies struct {
	DB        *db.DB
	WebSocket *websockets.WebSocketManager
	Broker    websockets.Broker
	Registry  *prometheus.Registry
}

// New connects the backing services. Change events go through Redis when
// REDIS_ADDR is set and stay in process otherwise.
func New(cfg *config.Config) (*Dependencies, error) {
	database, err := db.New(cfg.Dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var broker websockets.Broker = websockets.NewLocalBroker(cfg.QueueSize)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			database.Close()
			return nil, errors.Wrap(err, "failed to connect to redis")
		}
		broker = websockets.NewRedisBroker(client, cfg.RedisChannel, logger.Log)
	}

	return &Dependencies{
		DB:        database,
		WebSocket: websockets.NewWebSocketManager(logger.Log, registry),
		Broker:    broker,
		Registry:  registry,
	}, nil
}

func (d *Dependencies) Close() {
	if err := d.Broker.Close(); err != nil {
		logger.Log.Warn("close broker", zap.Error(err))
	}
	d.DB.Close()
}
