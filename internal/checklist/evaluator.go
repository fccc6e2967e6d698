package checklist

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/benjamincozon/shoplens/internal/models"
)

const defaultItemTimeout = 5 * time.Second

const skippedRecommendation = "評価が時間内に完了しなかったためスキップしました"

// Evaluator runs the fixed catalog over a record. Each auto item races its
// evaluator function against a soft timeout; a slow evaluator leaves the item
// pending instead of stalling the stage.
type Evaluator struct {
	itemTimeout time.Duration
	log         zerolog.Logger
}

func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{itemTimeout: defaultItemTimeout, log: log}
}

// Evaluate walks every catalog category and produces the checklist outcome.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) *models.ChecklistOutcome {
	out := &models.ChecklistOutcome{}
	totalItems, totalCompleted := 0, 0

	for _, cat := range Catalog {
		rc := models.ChecklistCategory{Name: cat.Name}
		completed := 0

		for _, item := range cat.Items {
			evaluated := e.evaluateItem(ctx, item, in)
			if evaluated.Status == models.ItemCompleted {
				completed++
			}
			rc.Items = append(rc.Items, evaluated)
		}

		totalItems += len(cat.Items)
		totalCompleted += completed
		rc.Completion = percent(completed, len(cat.Items))
		out.Categories = append(out.Categories, rc)
	}

	out.OverallCompletion = percent(totalCompleted, totalItems)
	return out
}

func (e *Evaluator) evaluateItem(ctx context.Context, item Item, in Input) models.ChecklistItem {
	result := models.ChecklistItem{
		ID:               item.ID,
		Title:            item.Title,
		StructureMapping: in.Structure.ClassesForField(item.Field),
	}

	if item.Evaluate == nil {
		result.Status = models.ItemManual
		result.Confidence = models.ConfidenceUnknown
		return result
	}
	result.AutoChecked = true
	result.Confidence = e.confidence(item, in)

	done := make(chan Verdict, 1)
	go func() {
		done <- item.Evaluate(in)
	}()

	timer := time.NewTimer(e.itemTimeout)
	defer timer.Stop()

	select {
	case v := <-done:
		if v.Passed {
			result.Status = models.ItemCompleted
		} else {
			result.Status = models.ItemPending
			result.Recommendation = v.Recommendation
		}
	case <-timer.C:
		e.log.Warn().Str("item", item.ID).Msg("checklist evaluator timed out")
		result.Status = models.ItemPending
		result.Recommendation = skippedRecommendation
	case <-ctx.Done():
		result.Status = models.ItemPending
		result.Recommendation = skippedRecommendation
	}
	return result
}

// confidence grades how trustworthy the item's inputs are: complete record
// data is high, a field with no structural evidence or a sparse record is
// medium, no record at all is low.
func (e *Evaluator) confidence(item Item, in Input) models.Confidence {
	if in.Product == nil && in.Shop == nil {
		return models.ConfidenceLow
	}
	if len(in.Structure.ClassesForField(item.Field)) == 0 {
		return models.ConfidenceMedium
	}
	if in.Product != nil && (in.Product.Name == "" || in.Product.Price.Sale == nil) {
		return models.ConfidenceMedium
	}
	return models.ConfidenceHigh
}

func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}
