package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamincozon/shoplens/internal/models"
)

func TestForFormat(t *testing.T) {
	r, err := ForFormat("markdown")
	require.NoError(t, err)
	assert.Equal(t, "text/markdown; charset=utf-8", r.ContentType())

	_, err = ForFormat("pdf")
	assert.Error(t, err)
	_, err = ForFormat("excel")
	assert.Error(t, err)
	_, err = ForFormat("docx")
	assert.Error(t, err)
}

func TestMarkdownRender(t *testing.T) {
	sale := 1980
	rep := &models.Report{
		Product: &models.Product{
			Code:    "1234",
			Name:    "スーパーファンデーション",
			Price:   models.Price{Sale: &sale},
			Reviews: models.Reviews{Rating: 4.5, Count: 128},
		},
		AnalyzerResult: &models.AnalyzerResult{OverallScore: 78},
		Recommendations: []models.Recommendation{
			{Priority: models.PriorityHigh, Title: "商品画像を強化する", ActionItems: []string{"画像を追加する"}},
		},
		ChecklistOutcome: &models.ChecklistOutcome{
			OverallCompletion: 60,
			Categories: []models.ChecklistCategory{
				{Name: "sale_prep", Completion: 60, Items: []models.ChecklistItem{
					{Title: "価格設定", Status: models.ItemCompleted},
					{Title: "説明文", Status: models.ItemPending},
				}},
			},
		},
		ValidationOutcome: &models.ValidationOutcome{Valid: true, Score: 100, CorrectedFields: []string{"price_sale"}},
		DataSource:        models.SourceHTMLFetch,
		GeneratedAt:       time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
	}

	out, err := Markdown{}.Render(rep)
	require.NoError(t, err)
	s := string(out)

	assert.Contains(t, s, "# リスティング分析レポート")
	assert.Contains(t, s, "スーパーファンデーション")
	assert.Contains(t, s, "販売価格: 1980円")
	assert.Contains(t, s, "総合スコア: 78 / 100")
	assert.Contains(t, s, "- [x] 価格設定")
	assert.Contains(t, s, "- [ ] 説明文")
	assert.Contains(t, s, "price_sale")
}

func TestMarkdownRenderNil(t *testing.T) {
	_, err := Markdown{}.Render(nil)
	assert.Error(t, err)
}
