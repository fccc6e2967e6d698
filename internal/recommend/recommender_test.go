package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamincozon/shoplens/internal/models"
)

func weakResult() *models.AnalyzerResult {
	return &models.AnalyzerResult{
		Images:        models.DimensionScore{Score: 30},
		Description:   models.DimensionScore{Score: 45},
		Price:         models.DimensionScore{Score: 65},
		Reviews:       models.DimensionScore{Score: 80},
		SEO:           models.DimensionScore{Score: 60},
		PageStructure: models.DimensionScore{Score: 40},
	}
}

func TestRecommendOrderedByPriority(t *testing.T) {
	recs := Recommend(&models.Product{Coupon: models.Coupon{Present: true}}, weakResult(), nil)
	require.NotEmpty(t, recs)

	rank := map[models.Priority]int{models.PriorityHigh: 0, models.PriorityMedium: 1, models.PriorityLow: 2}
	for i := 1; i < len(recs); i++ {
		assert.LessOrEqual(t, rank[recs[i-1].Priority], rank[recs[i].Priority])
	}

	// Scores below 50 escalate to high priority.
	byCategory := map[string]models.Recommendation{}
	for _, r := range recs {
		byCategory[r.Category] = r
	}
	assert.Equal(t, models.PriorityHigh, byCategory["images"].Priority)
	assert.Equal(t, models.PriorityHigh, byCategory["description"].Priority)
	assert.Equal(t, models.PriorityMedium, byCategory["price"].Priority)
	_, hasReviews := byCategory["reviews"]
	assert.False(t, hasReviews)
}

func TestRecommendDeterministicIDs(t *testing.T) {
	p := &models.Product{}
	a := Recommend(p, weakResult(), nil)
	b := Recommend(p, weakResult(), nil)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
		assert.Regexp(t, `^rec-[0-9a-f]{8}$`, a[i].ID)
	}
}

func TestRecommendStructureMapping(t *testing.T) {
	ps := &models.PageStructure{
		SemanticStructure: map[string][]models.ClassFreq{
			"image": {{Class: "item-image", Freq: 4}},
		},
	}
	recs := Recommend(nil, weakResult(), ps)

	var imageRec *models.Recommendation
	for i := range recs {
		if recs[i].Category == "images" {
			imageRec = &recs[i]
		}
	}
	require.NotNil(t, imageRec)
	assert.Equal(t, "item-image", imageRec.StructureMapping[0].Class)
}

func TestRecommendProductGaps(t *testing.T) {
	fee := 500
	p := &models.Product{
		Coupon:   models.Coupon{Present: false},
		Shipping: models.Shipping{Fee: &fee},
	}
	strong := &models.AnalyzerResult{
		Images:        models.DimensionScore{Score: 90},
		Description:   models.DimensionScore{Score: 90},
		Price:         models.DimensionScore{Score: 90},
		Reviews:       models.DimensionScore{Score: 90},
		SEO:           models.DimensionScore{Score: 90},
		PageStructure: models.DimensionScore{Score: 90},
	}

	recs := Recommend(p, strong, nil)
	categories := make([]string, 0, len(recs))
	for _, r := range recs {
		categories = append(categories, r.Category)
	}
	assert.ElementsMatch(t, []string{"promotion", "shipping"}, categories)
}

func TestRecommendNilResult(t *testing.T) {
	assert.Nil(t, Recommend(&models.Product{}, nil, nil))
}
