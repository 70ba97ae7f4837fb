package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"quote-engine/internal/pricing"
)

// RateSource is the persistent side of the repository; PostgresStorage
// implements it.
type RateSource interface {
	InsertRateTable(ctx context.Context, rec RateTableRecord) (RateTableRecord, error)
	GetRateTable(ctx context.Context, scheme, version string) (RateTableRecord, error)
	LatestRateTable(ctx context.Context, scheme string) (RateTableRecord, error)
}

// Cache holds rate table documents by key; pkg/redis.Client implements it.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// RateRepository resolves rate tables by scheme and version. Without a source
// only the builtin tables exist. Concurrent loads of the same key share one
// round trip.
type RateRepository struct {
	source RateSource
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
}

func NewRateRepository(source RateSource, cache Cache, ttl time.Duration, logger *zap.Logger) *RateRepository {
	return &RateRepository{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// Load returns the given version, or the latest published one when version
// is empty.
func (r *RateRepository) Load(ctx context.Context, scheme pricing.Scheme, version string) (pricing.RateTable, error) {
	const operation = "storage.RateRepository.Load"

	if version == "" {
		return r.Latest(ctx, scheme)
	}
	if version == pricing.BuiltinVersion || r.source == nil {
		return builtin(scheme, version)
	}

	key := cacheKey(scheme, version)
	v, err, shared := r.group.Do(key, func() (any, error) {
		if doc, ok := r.cached(ctx, key); ok {
			return doc, nil
		}
		rec, err := r.source.GetRateTable(ctx, string(scheme), version)
		if err != nil {
			return nil, err
		}
		r.store(ctx, key, rec.Document)
		return rec.Document, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	if shared {
		r.logger.Debug("Shared rate table load", zap.String("key", key))
	}

	table, err := pricing.DecodeRateTable(v.([]byte))
	if err != nil {
		return nil, fmt.Errorf("%s: %s/%s: %w", operation, scheme, version, err)
	}
	return table, nil
}

// Latest returns the newest published version, falling back to the builtin
// table when nothing has been published for the scheme.
func (r *RateRepository) Latest(ctx context.Context, scheme pricing.Scheme) (pricing.RateTable, error) {
	const operation = "storage.RateRepository.Latest"

	if r.source == nil {
		return builtin(scheme, pricing.BuiltinVersion)
	}

	v, err, _ := r.group.Do("latest:"+string(scheme), func() (any, error) {
		return r.source.LatestRateTable(ctx, string(scheme))
	})
	if errors.Is(err, ErrRateTableNotFound) {
		r.logger.Info("No published rate table, using builtin",
			zap.String("scheme", string(scheme)),
			zap.String("version", pricing.BuiltinVersion))
		return builtin(scheme, pricing.BuiltinVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}

	rec := v.(RateTableRecord)
	table, err := pricing.DecodeRateTable(rec.Document)
	if err != nil {
		return nil, fmt.Errorf("%s: %s/%s: %w", operation, rec.Scheme, rec.Version, err)
	}
	r.store(ctx, cacheKey(scheme, rec.Version), rec.Document)
	return table, nil
}

// Publish validates and stores a new version of a rate table.
func (r *RateRepository) Publish(ctx context.Context, table pricing.RateTable) (RateTableRecord, error) {
	const operation = "storage.RateRepository.Publish"

	if r.source == nil {
		return RateTableRecord{}, fmt.Errorf("%s: no database configured", operation)
	}
	if table.Version() == "" {
		return RateTableRecord{}, fmt.Errorf("%s: rate table has no version", operation)
	}
	if table.Version() == pricing.BuiltinVersion {
		return RateTableRecord{}, fmt.Errorf("%s: version %s is reserved", operation, pricing.BuiltinVersion)
	}

	doc, err := json.Marshal(table)
	if err != nil {
		return RateTableRecord{}, fmt.Errorf("%s: encode: %w", operation, err)
	}
	if _, err := pricing.DecodeRateTable(doc); err != nil {
		return RateTableRecord{}, fmt.Errorf("%s: %w", operation, err)
	}

	rec, err := r.source.InsertRateTable(ctx, RateTableRecord{
		Scheme:   string(table.Scheme()),
		Version:  table.Version(),
		Document: doc,
	})
	if err != nil {
		return RateTableRecord{}, fmt.Errorf("%s: %w", operation, err)
	}
	return rec, nil
}

func (r *RateRepository) cached(ctx context.Context, key string) ([]byte, bool) {
	if r.cache == nil {
		return nil, false
	}
	data, err := r.cache.Get(ctx, key)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

func (r *RateRepository) store(ctx context.Context, key string, doc []byte) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, key, doc, r.ttl); err != nil {
		r.logger.Warn("Failed to cache rate table", zap.String("key", key), zap.Error(err))
	}
}

func builtin(scheme pricing.Scheme, version string) (pricing.RateTable, error) {
	if version != pricing.BuiltinVersion {
		return nil, fmt.Errorf("%s/%s: %w", scheme, version, ErrRateTableNotFound)
	}
	return pricing.Builtin(scheme)
}

func cacheKey(scheme pricing.Scheme, version string) string {
	return fmt.Sprintf("rates:%s:%s", scheme, version)
}
