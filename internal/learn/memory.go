package learn

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benjamincozon/shoplens/internal/models"
)

// EMA smoothing factor for quality and latency updates.
const emaAlpha = 0.3

// MemoryStore is the in-process Store used when no database is configured
// and by tests. A single mutex serializes every read-modify-write so
// counters are never observed mid-update.
type MemoryStore struct {
	mu sync.Mutex

	selectors map[string]map[string]*models.Stat // field -> selector -> stat
	agents    map[string]*models.Stat
	proxies   map[string]*models.Stat
	records   map[string]*models.Product // keyed by code
	chunks    map[string][]models.Chunk  // keyed by field
	reports   map[string]*models.ErrorReport

	now func() time.Time
}

// NewMemoryStore seeds the store with the configured user agents and proxies
// so BestUserAgent/BestProxy have candidates before any outcome is recorded.
func NewMemoryStore(userAgents, proxies []string) *MemoryStore {
	s := &MemoryStore{
		selectors: make(map[string]map[string]*models.Stat),
		agents:    make(map[string]*models.Stat),
		proxies:   make(map[string]*models.Stat),
		records:   make(map[string]*models.Product),
		chunks:    make(map[string][]models.Chunk),
		reports:   make(map[string]*models.ErrorReport),
		now:       time.Now,
	}
	for _, ua := range userAgents {
		s.agents[ua] = &models.Stat{Key: ua}
	}
	for _, p := range proxies {
		s.proxies[p] = &models.Stat{Key: p}
	}
	return s
}

func (s *MemoryStore) RecordFetch(ctx context.Context, out models.FetchOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if out.UserAgent != "" {
		s.bump(s.agents, out.UserAgent, out.Success, 0, float64(out.RTMillis))
	}
	if out.Proxy != "" {
		s.bump(s.proxies, out.Proxy, out.Success, 0, float64(out.RTMillis))
	}
	return nil
}

func (s *MemoryStore) RecordSelector(ctx context.Context, field, selector string, success bool, quality float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.selectors[field]
	if !ok {
		bucket = make(map[string]*models.Stat)
		s.selectors[field] = bucket
	}
	s.bump(bucket, selector, success, quality, 0)
	return nil
}

// bump updates a stat row in place, creating it on first sight.
func (s *MemoryStore) bump(m map[string]*models.Stat, key string, success bool, quality, latency float64) {
	st, ok := m[key]
	if !ok {
		st = &models.Stat{Key: key}
		m[key] = st
	}
	if success {
		st.Successes++
	} else {
		st.Failures++
	}
	if quality > 0 {
		if st.QualityEMA == 0 {
			st.QualityEMA = quality
		} else {
			st.QualityEMA = emaAlpha*quality + (1-emaAlpha)*st.QualityEMA
		}
	}
	if latency > 0 {
		if st.LatencyEMA == 0 {
			st.LatencyEMA = latency
		} else {
			st.LatencyEMA = emaAlpha*latency + (1-emaAlpha)*st.LatencyEMA
		}
	}
	st.LastUsed = s.now()
}

func (s *MemoryStore) BestSelectors(ctx context.Context, field string, limit int) ([]models.Stat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.selectors[field]
	stats := make([]models.Stat, 0, len(bucket))
	for _, st := range bucket {
		stats = append(stats, *st)
	}
	sortStats(stats)
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

func (s *MemoryStore) BestUserAgent(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := bestKey(s.agents)
	if best == "" {
		return "", fmt.Errorf("no user agents configured")
	}
	return best, nil
}

func (s *MemoryStore) BestProxy(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// No proxies configured is a valid state: direct connection.
	return bestKey(s.proxies), nil
}

func (s *MemoryStore) SaveRecord(ctx context.Context, p *models.Product) error {
	if p == nil || p.Code == "" {
		return fmt.Errorf("record has no code")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.records[p.Code] = &cp
	return nil
}

// Record returns the stored product for a code, nil when unknown.
func (s *MemoryStore) Record(code string) *models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[code]
}

func (s *MemoryStore) AddChunk(ctx context.Context, c models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.chunks[c.Field] = append(s.chunks[c.Field], c)
	return nil
}

func (s *MemoryStore) ChunksForField(ctx context.Context, field string) ([]models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Chunk, len(s.chunks[field]))
	copy(out, s.chunks[field])
	return out, nil
}

func (s *MemoryStore) PriorityFields(ctx context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open := make(map[string]int)
	for _, r := range s.reports {
		if r.Status == "open" {
			open[r.Field]++
		}
	}
	fields := make([]string, 0, len(open))
	for f := range open {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool {
		if open[fields[i]] != open[fields[j]] {
			return open[fields[i]] > open[fields[j]]
		}
		return fields[i] < fields[j]
	})
	if limit > 0 && len(fields) > limit {
		fields = fields[:limit]
	}
	return fields, nil
}

func (s *MemoryStore) AddErrorReport(ctx context.Context, r models.ErrorReport) error {
	if r.ID == "" {
		return fmt.Errorf("report has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Status == "" {
		r.Status = "open"
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.reports[r.ID] = &r
	return nil
}

func (s *MemoryStore) ResolveErrorReport(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reports[id]
	if !ok {
		return fmt.Errorf("report %s not found", id)
	}
	r.Status = "resolved"
	return nil
}

// sortStats orders by success rate desc, quality desc, latency asc, then key
// for determinism.
func sortStats(stats []models.Stat) {
	sort.Slice(stats, func(i, j int) bool {
		si, sj := stats[i].Score(), stats[j].Score()
		if si != sj {
			return si > sj
		}
		if stats[i].QualityEMA != stats[j].QualityEMA {
			return stats[i].QualityEMA > stats[j].QualityEMA
		}
		if stats[i].LatencyEMA != stats[j].LatencyEMA {
			return stats[i].LatencyEMA < stats[j].LatencyEMA
		}
		return stats[i].Key < stats[j].Key
	})
}

func bestKey(m map[string]*models.Stat) string {
	stats := make([]models.Stat, 0, len(m))
	for _, st := range m {
		stats = append(stats, *st)
	}
	if len(stats) == 0 {
		return ""
	}
	sortStats(stats)
	return stats[0].Key
}
