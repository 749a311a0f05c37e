package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"review-monitor/internal/domain"
	"review-monitor/internal/infra/metrics"
)

const defaultListLimit = 50

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres хранит журнал классификаций на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.AnalysisLog = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Migrate создаёт таблицу журнала.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS review_analyses (
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL DEFAULT '',
	cause TEXT NOT NULL,
	article_no TEXT NOT NULL,
	board_no BIGINT NOT NULL DEFAULT 0,
	product_no BIGINT,
	rating INT NOT NULL DEFAULT 0,
	review JSONB NOT NULL,
	sentiment TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	method TEXT NOT NULL,
	stage TEXT NOT NULL DEFAULT '',
	conflict_type TEXT,
	flagged BOOLEAN NOT NULL DEFAULT false,
	result JSONB NOT NULL,
	analyzed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS review_analyses_analyzed_at_idx ON review_analyses (analyzed_at DESC);
CREATE INDEX IF NOT EXISTS review_analyses_article_idx ON review_analyses (article_no);
`)
	return err
}

// SaveAnalyses сохраняет записи батчем.
func (p *Postgres) SaveAnalyses(ctx context.Context, records []domain.AnalysisRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, rec := range records {
		review, err := json.Marshal(rec.Review)
		if err != nil {
			return fmt.Errorf("marshal review: %w", err)
		}
		result, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		var productNo sql.NullInt64
		if rec.Review.ProductNo != 0 {
			productNo = sql.NullInt64{Int64: rec.Review.ProductNo, Valid: true}
		}
		var conflict sql.NullString
		if rec.Result.ConflictType != domain.ConflictNone {
			conflict = sql.NullString{String: string(rec.Result.ConflictType), Valid: true}
		}
		analyzedAt := rec.AnalyzedAt
		if analyzedAt.IsZero() {
			analyzedAt = time.Now().UTC()
		}
		batch.Queue(`
INSERT INTO review_analyses (job_id, cause, article_no, board_no, product_no, rating, review, sentiment, confidence, method, stage, conflict_type, flagged, result, analyzed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`, rec.JobID, string(rec.Cause), rec.Review.ID, rec.Review.BoardNo, productNo, rec.Review.Rating, review,
			string(rec.Result.Sentiment), rec.Result.Confidence, rec.Result.Method, string(rec.Result.Stage), conflict, rec.Flagged, result, analyzedAt)
	}
	start := time.Now()
	br := p.pool.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "review_analyses_send_batch", "review_analyses", start, nil)
	defer br.Close()
	for range records {
		start = time.Now()
		_, err := br.Exec()
		metrics.ObserveNetworkRequest("postgres", "review_analyses_batch_exec", "review_analyses", start, err)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListRecentAnalyses возвращает последние записи журнала, подходящие под фильтр.
func (p *Postgres) ListRecentAnalyses(ctx context.Context, filter domain.AnalysisFilter) ([]domain.AnalysisRecord, error) {
	query, args, err := analysesQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "review_analyses_list", "review_analyses", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.AnalysisRecord
	for rows.Next() {
		var (
			rec    domain.AnalysisRecord
			cause  string
			review []byte
			result []byte
		)
		if err := rows.Scan(&rec.JobID, &cause, &review, &result, &rec.Flagged, &rec.AnalyzedAt); err != nil {
			return nil, err
		}
		rec.Cause = domain.TriggerCause(cause)
		if err := json.Unmarshal(review, &rec.Review); err != nil {
			return nil, fmt.Errorf("decode review: %w", err)
		}
		if err := json.Unmarshal(result, &rec.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func analysesQuery(filter domain.AnalysisFilter) (string, []any, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	q := psql.Select("job_id", "cause", "review", "result", "flagged", "analyzed_at").
		From("review_analyses").
		OrderBy("analyzed_at DESC", "id DESC").
		Limit(uint64(limit))
	if filter.Sentiment != "" {
		q = q.Where(sq.Eq{"sentiment": string(filter.Sentiment)})
	}
	if filter.FlaggedOnly {
		q = q.Where(sq.Eq{"flagged": true})
	}
	if filter.ConflictsOnly {
		q = q.Where(sq.NotEq{"conflict_type": nil})
	}
	if !filter.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"analyzed_at": filter.Since})
	}
	return q.ToSql()
}
