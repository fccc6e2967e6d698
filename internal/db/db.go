package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/benjamincozon/shoplens/internal/models"
)

// Queries wraps database operations. It implements learn.Store on top of
// Postgres; every counter update is a single UPSERT so concurrent readers
// never see a partial row.
type Queries struct {
	pool *pgxpool.Pool
}

// New creates a new Queries instance
func New(pool *pgxpool.Pool) *Queries {
	return &Queries{pool: pool}
}

// Connect establishes a database connection pool
func Connect(ctx context.Context, databaseURL string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(databaseURL, maxConns)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// poolConfig parses the URL and applies the configured connection cap.
func poolConfig(databaseURL string, maxConns int) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	return cfg, nil
}

// Performance stat operations

func (q *Queries) RecordFetch(ctx context.Context, out models.FetchOutcome) error {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if out.UserAgent != "" {
		if err := bumpStat(ctx, tx, "agent_stats", out.UserAgent, out.Success, 0, float64(out.RTMillis)); err != nil {
			return err
		}
	}
	if out.Proxy != "" {
		if err := bumpStat(ctx, tx, "proxy_stats", out.Proxy, out.Success, 0, float64(out.RTMillis)); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// bumpStat applies one success/failure increment plus EMA updates. The table
// name is always one of the fixed stat tables, never user input.
func bumpStat(ctx context.Context, tx pgx.Tx, table, key string, success bool, quality, latency float64) error {
	succ, fail := 0, 1
	if success {
		succ, fail = 1, 0
	}
	_, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (key, successes, failures, quality_ema, latency_ema, last_used)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (key) DO UPDATE SET
			successes   = %s.successes + $2,
			failures    = %s.failures + $3,
			quality_ema = CASE WHEN $4 > 0 THEN 0.3 * $4 + 0.7 * %s.quality_ema ELSE %s.quality_ema END,
			latency_ema = CASE WHEN $5 > 0 THEN 0.3 * $5 + 0.7 * %s.latency_ema ELSE %s.latency_ema END,
			last_used   = NOW()
	`, table, table, table, table, table, table, table), key, succ, fail, quality, latency)
	return err
}

func (q *Queries) RecordSelector(ctx context.Context, field, selector string, success bool, quality float64) error {
	succ, fail := 0, 1
	if success {
		succ, fail = 1, 0
	}
	_, err := q.pool.Exec(ctx, `
		INSERT INTO selector_stats (field, selector, successes, failures, quality_ema, last_used)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (field, selector) DO UPDATE SET
			successes   = selector_stats.successes + $3,
			failures    = selector_stats.failures + $4,
			quality_ema = CASE WHEN $5 > 0 THEN 0.3 * $5 + 0.7 * selector_stats.quality_ema ELSE selector_stats.quality_ema END,
			last_used   = NOW()
	`, field, selector, succ, fail, quality)
	return err
}

func (q *Queries) BestSelectors(ctx context.Context, field string, limit int) ([]models.Stat, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT selector, successes, failures, quality_ema, latency_ema, last_used
		FROM selector_stats WHERE field = $1
		ORDER BY successes::float / (successes + failures + 1) DESC, quality_ema DESC, latency_ema ASC
		LIMIT $2
	`, field, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.Stat
	for rows.Next() {
		var s models.Stat
		if err := rows.Scan(&s.Key, &s.Successes, &s.Failures, &s.QualityEMA, &s.LatencyEMA, &s.LastUsed); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

func (q *Queries) BestUserAgent(ctx context.Context) (string, error) {
	return q.bestStatKey(ctx, "agent_stats")
}

func (q *Queries) BestProxy(ctx context.Context) (string, error) {
	key, err := q.bestStatKey(ctx, "proxy_stats")
	if err != nil {
		// No proxies configured is a valid state: direct connection.
		return "", nil
	}
	return key, nil
}

func (q *Queries) bestStatKey(ctx context.Context, table string) (string, error) {
	var key string
	err := q.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT key FROM %s WHERE active
		ORDER BY successes::float / (successes + failures + 1) DESC, quality_ema DESC, latency_ema ASC
		LIMIT 1
	`, table)).Scan(&key)
	if err != nil {
		return "", fmt.Errorf("no active rows in %s: %w", table, err)
	}
	return key, nil
}

// SeedChoices inserts the configured user agents and proxies so the bandit
// has candidates before the first outcome is recorded.
func (q *Queries) SeedChoices(ctx context.Context, userAgents, proxies []string) error {
	for _, ua := range userAgents {
		if _, err := q.pool.Exec(ctx, `
			INSERT INTO agent_stats (key, last_used) VALUES ($1, NOW()) ON CONFLICT (key) DO NOTHING
		`, ua); err != nil {
			return err
		}
	}
	for _, p := range proxies {
		if _, err := q.pool.Exec(ctx, `
			INSERT INTO proxy_stats (key, last_used) VALUES ($1, NOW()) ON CONFLICT (key) DO NOTHING
		`, p); err != nil {
			return err
		}
	}
	return nil
}

// Product record operations

func (q *Queries) SaveRecord(ctx context.Context, p *models.Product) error {
	if p == nil || p.Code == "" {
		return fmt.Errorf("record has no code")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = q.pool.Exec(ctx, `
		INSERT INTO product_records (code, url, data, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (code) DO UPDATE SET url = $2, data = $3, updated_at = NOW()
	`, p.Code, p.URL, data)
	return err
}

// Chunk operations

func (q *Queries) AddChunk(ctx context.Context, c models.Chunk) error {
	related, _ := json.Marshal(c.RelatedClasses)
	freq, _ := json.Marshal(c.ClassFrequency)
	_, err := q.pool.Exec(ctx, `
		INSERT INTO chunks (field, extraction_method, selector_pattern, related_classes, class_frequency, element_present, url, code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, c.Field, c.ExtractionMethod, c.SelectorPattern, related, freq, c.ElementPresent, c.Context.URL, c.Context.Code)
	return err
}

func (q *Queries) ChunksForField(ctx context.Context, field string) ([]models.Chunk, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT field, extraction_method, selector_pattern, related_classes, class_frequency, element_present, url, code, created_at
		FROM chunks WHERE field = $1 ORDER BY created_at
	`, field)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var c models.Chunk
		var related, freq []byte
		if err := rows.Scan(&c.Field, &c.ExtractionMethod, &c.SelectorPattern, &related, &freq, &c.ElementPresent, &c.Context.URL, &c.Context.Code, &c.CreatedAt); err != nil {
			return nil, err
		}
		json.Unmarshal(related, &c.RelatedClasses)
		json.Unmarshal(freq, &c.ClassFrequency)
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Error report operations

func (q *Queries) AddErrorReport(ctx context.Context, r models.ErrorReport) error {
	_, err := q.pool.Exec(ctx, `
		INSERT INTO error_reports (id, job_id, field, detail, status, created_at)
		VALUES ($1, $2, $3, $4, 'open', NOW())
	`, r.ID, r.JobID, r.Field, r.Detail)
	return err
}

func (q *Queries) ResolveErrorReport(ctx context.Context, id string) error {
	tag, err := q.pool.Exec(ctx, `UPDATE error_reports SET status = 'resolved' WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("report %s not found", id)
	}
	return nil
}

func (q *Queries) PriorityFields(ctx context.Context, limit int) ([]string, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT field FROM error_reports WHERE status = 'open'
		GROUP BY field ORDER BY COUNT(*) DESC, field
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// Job history operations

func (q *Queries) SaveJobHistory(ctx context.Context, j models.Job) error {
	var result []byte
	if j.Result != nil {
		result, _ = json.Marshal(j.Result)
	}
	_, err := q.pool.Exec(ctx, `
		INSERT INTO job_history (id, url, url_kind, status, result, error, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET status = $4, result = $5, error = $6, finished_at = NOW()
	`, j.ID, j.URL, j.URLKind, j.Status, result, j.Error, j.CreatedAt)
	return err
}

// Stage record operations

func (q *Queries) SaveStageRecord(ctx context.Context, r models.StageRecord) error {
	meta, _ := json.Marshal(r.Metadata)
	_, err := q.pool.Exec(ctx, `
		INSERT INTO stage_records (job_id, url, url_kind, stage, status, duration_ms, error, metadata, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.JobID, r.URL, r.URLKind, r.Stage, r.Status, r.DurationMS, r.Error, meta, r.Timestamp)
	return err
}
