package report

import (
	"fmt"
	"strings"

	"github.com/benjamincozon/shoplens/internal/models"
)

// Renderer turns a completed report into a downloadable document.
// Markdown is built in; pdf and excel are produced by external collaborators
// that implement the same contract.
type Renderer interface {
	Render(rep *models.Report) ([]byte, error)
	ContentType() string
}

// ForFormat returns the renderer for a download format.
func ForFormat(format string) (Renderer, error) {
	switch format {
	case "markdown", "":
		return Markdown{}, nil
	case "pdf", "excel":
		return nil, fmt.Errorf("format %s: no renderer configured", format)
	}
	return nil, fmt.Errorf("format %s: unknown", format)
}

// Markdown renders the report as a Japanese markdown document.
type Markdown struct{}

func (Markdown) ContentType() string { return "text/markdown; charset=utf-8" }

func (Markdown) Render(rep *models.Report) ([]byte, error) {
	if rep == nil {
		return nil, fmt.Errorf("render: nil report")
	}

	var b strings.Builder
	b.WriteString("# リスティング分析レポート\n\n")
	fmt.Fprintf(&b, "生成日時: %s\n\n", rep.GeneratedAt.Format("2006-01-02 15:04 UTC"))

	if rep.Product != nil {
		writeProduct(&b, rep.Product)
	}
	if rep.Shop != nil {
		writeShop(&b, rep.Shop)
	}
	if rep.AnalyzerResult != nil {
		writeScores(&b, rep.AnalyzerResult)
	}
	if len(rep.Recommendations) > 0 {
		writeRecommendations(&b, rep.Recommendations)
	}
	if rep.ChecklistOutcome != nil {
		writeChecklist(&b, rep.ChecklistOutcome)
	}
	if rep.ValidationOutcome != nil {
		writeValidation(&b, rep.ValidationOutcome)
	}

	return []byte(b.String()), nil
}

func writeProduct(b *strings.Builder, p *models.Product) {
	b.WriteString("## 商品情報\n\n")
	fmt.Fprintf(b, "- 商品名: %s\n", p.Name)
	fmt.Fprintf(b, "- 商品コード: %s\n", p.Code)
	if p.Price.Sale != nil {
		fmt.Fprintf(b, "- 販売価格: %d円\n", *p.Price.Sale)
	}
	if p.Price.Original != nil {
		fmt.Fprintf(b, "- 通常価格: %d円 (割引率 %d%%)\n", *p.Price.Original, p.Price.DiscountRate)
	}
	fmt.Fprintf(b, "- レビュー: %.1f (%d件)\n", p.Reviews.Rating, p.Reviews.Count)
	fmt.Fprintf(b, "- 詳細画像: %d枚\n", len(p.Images.Detail))
	b.WriteString("\n")
}

func writeShop(b *strings.Builder, s *models.Shop) {
	b.WriteString("## ショップ情報\n\n")
	fmt.Fprintf(b, "- ショップ名: %s\n", s.Name)
	fmt.Fprintf(b, "- フォロワー数: %d\n", s.FollowerCount)
	fmt.Fprintf(b, "- 取扱商品数: %d\n", s.ProductCount)
	b.WriteString("\n")
}

func writeScores(b *strings.Builder, ar *models.AnalyzerResult) {
	b.WriteString("## スコア\n\n")
	fmt.Fprintf(b, "**総合スコア: %d / 100**\n\n", ar.OverallScore)
	b.WriteString("| 項目 | スコア |\n|---|---|\n")
	fmt.Fprintf(b, "| 画像 | %d |\n", ar.Images.Score)
	fmt.Fprintf(b, "| 商品説明 | %d |\n", ar.Description.Score)
	fmt.Fprintf(b, "| 価格 | %d |\n", ar.Price.Score)
	fmt.Fprintf(b, "| レビュー | %d |\n", ar.Reviews.Score)
	fmt.Fprintf(b, "| SEO | %d |\n", ar.SEO.Score)
	fmt.Fprintf(b, "| ページ構成 | %d |\n", ar.PageStructure.Score)
	b.WriteString("\n")
}

func writeRecommendations(b *strings.Builder, recs []models.Recommendation) {
	b.WriteString("## 改善提案\n\n")
	for _, r := range recs {
		fmt.Fprintf(b, "### [%s] %s\n\n%s\n\n", r.Priority, r.Title, r.Description)
		for _, item := range r.ActionItems {
			fmt.Fprintf(b, "- %s\n", item)
		}
		b.WriteString("\n")
	}
}

func writeChecklist(b *strings.Builder, cl *models.ChecklistOutcome) {
	b.WriteString("## チェックリスト\n\n")
	fmt.Fprintf(b, "達成率: %d%%\n\n", cl.OverallCompletion)
	for _, cat := range cl.Categories {
		fmt.Fprintf(b, "### %s (%d%%)\n\n", cat.Name, cat.Completion)
		for _, item := range cat.Items {
			mark := " "
			if item.Status == models.ItemCompleted {
				mark = "x"
			}
			fmt.Fprintf(b, "- [%s] %s\n", mark, item.Title)
		}
		b.WriteString("\n")
	}
}

func writeValidation(b *strings.Builder, v *models.ValidationOutcome) {
	b.WriteString("## データ検証\n\n")
	fmt.Fprintf(b, "- 検証スコア: %d\n", v.Score)
	fmt.Fprintf(b, "- 整合性: %v\n", v.Valid)
	if len(v.CorrectedFields) > 0 {
		fmt.Fprintf(b, "- 自動修正したフィールド: %s\n", strings.Join(v.CorrectedFields, ", "))
	}
	b.WriteString("\n")
}
