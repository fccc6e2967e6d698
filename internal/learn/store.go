package learn

import (
	"context"

	"github.com/benjamincozon/shoplens/internal/models"
)

// Store is the performance store shared by all workers. It ranks selectors,
// user agents and proxies by empirical success rate and keeps field-bound
// extraction chunks as learning artifacts.
//
// All write operations are transactional: concurrent readers never observe a
// partial counter update. Readers may see slightly stale rankings.
type Store interface {
	// RecordFetch records one fetch attempt, including the UA and proxy used.
	RecordFetch(ctx context.Context, out models.FetchOutcome) error

	// RecordSelector records one extraction-rule attempt for a field.
	RecordSelector(ctx context.Context, field, selector string, success bool, quality float64) error

	// BestSelectors returns up to limit selectors for a field ordered by
	// success rate desc, then quality EMA desc, then latency EMA asc.
	BestSelectors(ctx context.Context, field string, limit int) ([]models.Stat, error)

	// BestUserAgent returns the highest-ranked active user agent.
	BestUserAgent(ctx context.Context) (string, error)

	// BestProxy returns the highest-ranked active proxy, "" when none is
	// configured.
	BestProxy(ctx context.Context) (string, error)

	// SaveRecord upserts a normalized product record keyed by its code.
	SaveRecord(ctx context.Context, p *models.Product) error

	// AddChunk stores a field-bound structure snippet.
	AddChunk(ctx context.Context, c models.Chunk) error

	// ChunksForField returns every chunk recorded against a field.
	ChunksForField(ctx context.Context, field string) ([]models.Chunk, error)

	// PriorityFields returns fields ordered by descending open-report count.
	PriorityFields(ctx context.Context, limit int) ([]string, error)

	// AddErrorReport files a user-reported mismatch for a field.
	AddErrorReport(ctx context.Context, r models.ErrorReport) error

	// ResolveErrorReport flips a report to resolved. Chunks persist.
	ResolveErrorReport(ctx context.Context, id string) error
}
