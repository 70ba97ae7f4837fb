package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"quote-engine/internal/config"
	"quote-engine/internal/dispatch"
	"quote-engine/internal/pricing"
	"quote-engine/internal/storage"
	"quote-engine/internal/tier"
	"quote-engine/pkg/rabbitmq"
	"quote-engine/pkg/redis"
)

// backends holds the optional connections a command opened.
type backends struct {
	postgres *storage.PostgresStorage
	redis    *redis.Client
	rates    *storage.RateRepository
}

func openBackends(ctx context.Context) (*backends, error) {
	b := &backends{}

	var source storage.RateSource
	if cfg.DB.Enabled() {
		pg, err := storage.NewPostgresStorage(ctx, cfg.DB, log)
		if err != nil {
			return nil, err
		}
		b.postgres = pg
		source = pg
	}

	var cache storage.Cache
	if cfg.Redis.Enabled() {
		b.redis = redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := b.redis.Ping(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cache = b.redis
	}

	b.rates = storage.NewRateRepository(source, cache, cfg.Redis.CacheTTL, log)
	return b, nil
}

func (b *backends) close() {
	if b.redis != nil {
		b.redis.Close()
	}
	if b.postgres != nil {
		if err := b.postgres.Close(); err != nil {
			log.Warn("Failed to close PostgreSQL", zap.Error(err))
		}
	}
}

// pricingSetup resolves the configured rate table and its tier rules.
func (b *backends) pricingSetup(ctx context.Context) (pricing.RateTable, *tier.Evaluator, error) {
	table, err := b.rates.Load(ctx, cfg.Scheme, cfg.RateVersion)
	if err != nil {
		return nil, nil, err
	}
	evaluator, err := tier.NewEvaluator(table, tier.DefaultRules(table.Scheme()))
	if err != nil {
		return nil, nil, err
	}
	log.Info("Rate table loaded",
		zap.String("scheme", string(table.Scheme())),
		zap.String("version", table.Version()))
	return table, evaluator, nil
}

// newExecutor builds the offload executor for the configured mode. The
// returned cleanup is never nil.
func newExecutor(table pricing.RateTable) (dispatch.Executor, func(), error) {
	switch cfg.Offload.Mode {
	case config.OffloadLocal:
		pool := dispatch.NewLocalExecutor(dispatch.NewHandler(table).Serve, cfg.Offload.Workers, log)
		return pool, func() { _ = pool.Close() }, nil

	case config.OffloadAMQP:
		client, err := rabbitmq.NewClient(cfg.AMQP.URL)
		if err != nil {
			return nil, func() {}, err
		}
		executor, err := dispatch.NewAMQPExecutor(client, cfg.AMQP.Queue, log)
		if err != nil {
			_ = client.Close()
			return nil, func() {}, err
		}
		go func() {
			if amqpErr := <-client.NotifyClose(); amqpErr != nil {
				log.Error("RabbitMQ connection closed, calculating in process", zap.Error(amqpErr))
			}
		}()
		return executor, func() { _ = client.Close() }, nil

	default:
		return nil, func() {}, nil
	}
}
