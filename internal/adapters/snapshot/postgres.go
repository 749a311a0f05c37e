package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"review-monitor/internal/domain"
	"review-monitor/internal/infra/metrics"
)

// Postgres хранит снимок одной строкой таблицы review_cache_snapshots.
type Postgres struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgres создаёт хранилище снимка в Postgres.
func NewPostgres(pool *pgxpool.Pool, name string) *Postgres {
	if name == "" {
		name = "default"
	}
	return &Postgres{pool: pool, name: name}
}

// Migrate создаёт таблицу снимков.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS review_cache_snapshots (
	name TEXT PRIMARY KEY,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`)
	return err
}

// Load реализует domain.SnapshotStore.
func (p *Postgres) Load(ctx context.Context) (domain.CacheSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	var payload []byte
	err := p.pool.QueryRow(ctx, `SELECT payload FROM review_cache_snapshots WHERE name=$1`, p.name).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "snapshot_select", "review_cache_snapshots", start, nil)
		return domain.CacheSnapshot{}, domain.ErrSnapshotNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "snapshot_select", "review_cache_snapshots", start, err)
	if err != nil {
		return domain.CacheSnapshot{}, fmt.Errorf("select snapshot: %w", err)
	}
	return decode(payload)
}

// Save реализует domain.SnapshotStore.
func (p *Postgres) Save(ctx context.Context, snap domain.CacheSnapshot) error {
	payload, err := encode(snap)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO review_cache_snapshots (name, payload, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET payload=EXCLUDED.payload, updated_at=now()
`, p.name, payload)
	metrics.ObserveNetworkRequest("postgres", "snapshot_upsert", "review_cache_snapshots", start, err)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}
