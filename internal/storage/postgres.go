package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"quote-engine/internal/config"
)

var ErrRateTableNotFound = errors.New("rate table not found")

type PostgresStorage struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// RateTableRecord is one published rate table document.
type RateTableRecord struct {
	ID          int64     `db:"id"`
	Scheme      string    `db:"scheme"`
	Version     string    `db:"version"`
	Document    []byte    `db:"document"`
	PublishedAt time.Time `db:"published_at"`
}

func NewPostgresStorage(ctx context.Context, cfg config.Database, logger *zap.Logger) (*PostgresStorage, error) {
	const operation = "storage.NewPostgresStorage"

	var db *sqlx.DB
	var err error

	retryPolicy := backoff.NewExponentialBackOff()
	retryPolicy.MaxElapsedTime = 2 * time.Minute
	retryPolicy.MaxInterval = 15 * time.Second

	logger.Info("Connecting to PostgreSQL...", zap.String("host", cfg.Host), zap.String("db", cfg.Name))

	err = backoff.RetryNotify(
		func() error {
			db, err = sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			if err = db.PingContext(ctx); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			return nil
		},
		backoff.WithContext(retryPolicy, ctx),
		func(err error, duration time.Duration) {
			logger.Warn("PostgreSQL connection failed, retrying...",
				zap.Error(err),
				zap.Duration("next_attempt_in", duration))
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to connect after retries: %w", operation, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	logger.Info("Successfully connected to PostgreSQL")
	return &PostgresStorage{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for migrations.
func (s *PostgresStorage) DB() *sql.DB {
	return s.db.DB
}

func (s *PostgresStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InsertRateTable stores a new version. Versions are immutable: publishing an
// existing (scheme, version) pair fails.
func (s *PostgresStorage) InsertRateTable(ctx context.Context, rec RateTableRecord) (RateTableRecord, error) {
	const operation = "storage.InsertRateTable"

	const query = `
        INSERT INTO rate_tables (scheme, version, document)
        VALUES ($1, $2, $3)
        RETURNING id, scheme, version, document, published_at
    `

	var out RateTableRecord
	if err := s.db.GetContext(ctx, &out, query, rec.Scheme, rec.Version, rec.Document); err != nil {
		return RateTableRecord{}, fmt.Errorf("%s: failed to insert %s/%s: %w", operation, rec.Scheme, rec.Version, err)
	}

	s.logger.Info("Rate table published",
		zap.String("scheme", out.Scheme),
		zap.String("version", out.Version),
		zap.Int64("id", out.ID))
	return out, nil
}

func (s *PostgresStorage) GetRateTable(ctx context.Context, scheme, version string) (RateTableRecord, error) {
	const operation = "storage.GetRateTable"

	const query = `
        SELECT id, scheme, version, document, published_at
        FROM rate_tables
        WHERE scheme = $1 AND version = $2
    `

	var rec RateTableRecord
	err := s.db.GetContext(ctx, &rec, query, scheme, version)
	if errors.Is(err, sql.ErrNoRows) {
		return RateTableRecord{}, fmt.Errorf("%s: %s/%s: %w", operation, scheme, version, ErrRateTableNotFound)
	}
	if err != nil {
		return RateTableRecord{}, fmt.Errorf("%s: failed to get %s/%s: %w", operation, scheme, version, err)
	}
	return rec, nil
}

func (s *PostgresStorage) LatestRateTable(ctx context.Context, scheme string) (RateTableRecord, error) {
	const operation = "storage.LatestRateTable"

	const query = `
        SELECT id, scheme, version, document, published_at
        FROM rate_tables
        WHERE scheme = $1
        ORDER BY published_at DESC, id DESC
        LIMIT 1
    `

	var rec RateTableRecord
	err := s.db.GetContext(ctx, &rec, query, scheme)
	if errors.Is(err, sql.ErrNoRows) {
		return RateTableRecord{}, fmt.Errorf("%s: %s: %w", operation, scheme, ErrRateTableNotFound)
	}
	if err != nil {
		return RateTableRecord{}, fmt.Errorf("%s: failed to get latest %s: %w", operation, scheme, err)
	}
	return rec, nil
}

// ListRateTables returns version metadata, newest first. Documents are not loaded.
func (s *PostgresStorage) ListRateTables(ctx context.Context, scheme string) ([]RateTableRecord, error) {
	const operation = "storage.ListRateTables"

	const query = `
        SELECT id, scheme, version, published_at
        FROM rate_tables
        WHERE scheme = $1
        ORDER BY published_at DESC, id DESC
    `

	var recs []RateTableRecord
	if err := s.db.SelectContext(ctx, &recs, query, scheme); err != nil {
		return nil, fmt.Errorf("%s: failed to list %s: %w", operation, scheme, err)
	}
	return recs, nil
}
