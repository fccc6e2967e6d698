package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benjamincozon/shoplens/internal/models"
)

// Period bucket types for rolling aggregates.
const (
	PeriodHour  = "hour"
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
)

var periodTypes = []string{PeriodHour, PeriodDay, PeriodWeek, PeriodMonth}

// maxRawRecords bounds the in-memory raw sample ring.
const maxRawRecords = 5000

// StageSink receives raw stage rows for durable persistence. Optional;
// failures are logged and swallowed.
type StageSink interface {
	SaveStageRecord(ctx context.Context, rec models.StageRecord) error
}

type aggKey struct {
	PeriodType  string
	PeriodStart time.Time
	Stage       string
}

// Aggregate is one rolling counter bucket.
type Aggregate struct {
	PeriodType    string    `json:"period_type"`
	PeriodStart   time.Time `json:"period_start"`
	Stage         string    `json:"stage"`
	Total         int       `json:"total"`
	Success       int       `json:"success"`
	Failure       int       `json:"failure"`
	SuccessRate   float64   `json:"success_rate"`
	AvgDurationMS float64   `json:"avg_duration_ms"`
}

// Monitor samples every stage execution and keeps rolling aggregates in four
// period buckets. Counter updates are serialized under one mutex so
// success+failure==total holds at every observation point.
type Monitor struct {
	mu         sync.Mutex
	records    []models.StageRecord
	aggregates map[aggKey]*Aggregate

	sink StageSink
	log  zerolog.Logger
	now  func() time.Time
}

func NewMonitor(sink StageSink, log zerolog.Logger) *Monitor {
	return &Monitor{
		aggregates: make(map[aggKey]*Aggregate),
		sink:       sink,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RecordStage stores one stage sample and updates all four period buckets.
func (m *Monitor) RecordStage(ctx context.Context, rec models.StageRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}

	m.mu.Lock()
	m.records = append(m.records, rec)
	if len(m.records) > maxRawRecords {
		m.records = m.records[len(m.records)-maxRawRecords:]
	}

	for _, pt := range periodTypes {
		key := aggKey{PeriodType: pt, PeriodStart: periodStart(pt, rec.Timestamp), Stage: rec.Stage}
		agg, ok := m.aggregates[key]
		if !ok {
			agg = &Aggregate{PeriodType: pt, PeriodStart: key.PeriodStart, Stage: rec.Stage}
			m.aggregates[key] = agg
		}
		total := float64(agg.Total)
		agg.AvgDurationMS = (agg.AvgDurationMS*total + float64(rec.DurationMS)) / (total + 1)
		agg.Total++
		if rec.Status == "success" {
			agg.Success++
		} else {
			agg.Failure++
		}
		agg.SuccessRate = float64(agg.Success) / float64(agg.Total) * 100
	}
	m.mu.Unlock()

	if m.sink != nil {
		if err := m.sink.SaveStageRecord(ctx, rec); err != nil {
			m.log.Warn().Err(err).Str("stage", rec.Stage).Msg("persist stage record")
		}
	}
}

// GetSuccessRates returns per-stage aggregate series for a period type,
// covering the last lookback periods, oldest bucket first.
func (m *Monitor) GetSuccessRates(periodType string, lookback int) map[string][]Aggregate {
	if lookback <= 0 {
		lookback = 1
	}
	cutoff := periodStart(periodType, m.now().Add(-periodLength(periodType)*time.Duration(lookback-1)))

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]Aggregate)
	for key, agg := range m.aggregates {
		if key.PeriodType != periodType || key.PeriodStart.Before(cutoff) {
			continue
		}
		out[key.Stage] = append(out[key.Stage], *agg)
	}
	for stage := range out {
		series := out[stage]
		sort.Slice(series, func(i, j int) bool { return series[i].PeriodStart.Before(series[j].PeriodStart) })
		out[stage] = series
	}
	return out
}

// GetStageDetails returns raw samples for one stage, newest first.
func (m *Monitor) GetStageDetails(stage string, limit int) []models.StageRecord {
	if limit <= 0 {
		limit = 50
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.StageRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].Stage == stage {
			out = append(out, m.records[i])
		}
	}
	return out
}

func periodStart(periodType string, t time.Time) time.Time {
	t = t.UTC()
	switch periodType {
	case PeriodHour:
		return t.Truncate(time.Hour)
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday start
		return day.AddDate(0, 0, -offset)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t.Truncate(time.Hour)
}

func periodLength(periodType string) time.Duration {
	switch periodType {
	case PeriodHour:
		return time.Hour
	case PeriodDay:
		return 24 * time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	case PeriodMonth:
		return 30 * 24 * time.Hour
	}
	return time.Hour
}

// ValidPeriod reports whether a client-supplied period type is known.
func ValidPeriod(p string) bool {
	for _, pt := range periodTypes {
		if p == pt {
			return true
		}
	}
	return false
}
