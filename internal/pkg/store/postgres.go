// Package store persists reconciled rate records. Postgres is the durable
// collaborator; MemCache fronts it inside one process.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"github.com/ksteinarsson/vaxta-crawler/internal/pkg/model"
)

// ErrNotFound signals a cache miss or an expired record.
var ErrNotFound = errors.New("store: no valid record found")

type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres wraps a connection pool. A nil pool yields a store that logs
// and declines every operation, so the pipeline keeps working without
// persistence in local runs.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	if pool == nil {
		logger.Warn("postgres pool not configured, persistence disabled")
	}
	return &Postgres{pool: pool, logger: logger}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS rate_records (
	id          BIGSERIAL PRIMARY KEY,
	bank_id     TEXT        NOT NULL,
	payload     JSONB       NOT NULL,
	source_url  TEXT        NOT NULL DEFAULT '',
	fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS rate_records_bank_fetched_idx
	ON rate_records (bank_id, fetched_at DESC);`

// Migrate creates the backing table.
func (s *Postgres) Migrate(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save appends the record as the newest row for its bank.
func (s *Postgres) Save(ctx context.Context, rec *model.RateRecord, sourceURL string) error {
	if s.pool == nil {
		return nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal record for %s: %w", rec.BankID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO rate_records (bank_id, payload, source_url) VALUES ($1, $2, $3)`,
		rec.BankID, payload, sourceURL)
	if err != nil {
		return fmt.Errorf("store: save record for %s: %w", rec.BankID, err)
	}

	s.logger.Info("saved rate record", zap.String("bank", rec.BankID), zap.String("url", sourceURL))
	return nil
}

// Latest returns the newest record for a bank if it is younger than maxAge.
func (s *Postgres) Latest(ctx context.Context, bankID string, maxAge time.Duration) (*model.RateRecord, string, error) {
	if s.pool == nil {
		return nil, "", ErrNotFound
	}

	var payload []byte
	var sourceURL string
	var fetchedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT payload, source_url, fetched_at FROM rate_records
		 WHERE bank_id = $1 ORDER BY fetched_at DESC LIMIT 1`,
		bankID).Scan(&payload, &sourceURL, &fetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("store: load latest for %s: %w", bankID, err)
	}

	if maxAge > 0 && time.Since(fetchedAt) > maxAge {
		s.logger.Debug("cached record expired",
			zap.String("bank", bankID), zap.Duration("age", time.Since(fetchedAt)))
		return nil, "", ErrNotFound
	}

	rec := &model.RateRecord{}
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, "", fmt.Errorf("store: decode record for %s: %w", bankID, err)
	}
	return rec, sourceURL, nil
}

// Prune keeps only the newest keepLatest rows per bank.
func (s *Postgres) Prune(ctx context.Context, keepLatest int) error {
	if s.pool == nil || keepLatest <= 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx, `
		DELETE FROM rate_records WHERE id IN (
			SELECT id FROM (
				SELECT id, row_number() OVER (
					PARTITION BY bank_id ORDER BY fetched_at DESC
				) AS rn FROM rate_records
			) ranked WHERE rn > $1
		)`, keepLatest)
	if err != nil {
		return fmt.Errorf("store: prune to %d: %w", keepLatest, err)
	}
	return nil
}
