package analyze

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/benjamincozon/shoplens/internal/models"
	"github.com/benjamincozon/shoplens/internal/scrape"
)

// Dimension weights for the overall score.
const (
	weightImages      = 0.20
	weightDescription = 0.20
	weightPrice       = 0.15
	weightReviews     = 0.15
	weightSEO         = 0.15
	weightStructure   = 0.15
)

const minThumbnailBytes = 10 * 1024

// negativeReviewTerms flag dissatisfied review samples in either listing
// language.
var negativeReviewTerms = []string{
	"悪い", "最悪", "不良", "壊れ", "遅い", "偽物", "残念",
	"별로", "최악", "불량", "느려", "가짜", "아쉬",
}

// Analyzer scores a normalized record across six dimensions. Stateless apart
// from the HTTP client used for the thumbnail probe.
type Analyzer struct {
	client *http.Client
	log    zerolog.Logger
}

func NewAnalyzer(log zerolog.Logger) *Analyzer {
	return &Analyzer{
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

// AnalyzeProduct scores a product record. Only a nil record is an error;
// sparse records score low instead of failing.
func (a *Analyzer) AnalyzeProduct(ctx context.Context, p *models.Product) (*models.AnalyzerResult, error) {
	if p == nil {
		return nil, fmt.Errorf("analyze: nil product record")
	}

	res := &models.AnalyzerResult{
		Images:        a.scoreImages(ctx, p.Images),
		Description:   scoreDescription(p.Description, p.SearchKeywords),
		Price:         scorePrice(p.Price),
		Reviews:       scoreReviews(p.Reviews),
		SEO:           scoreSEO(p),
		PageStructure: scoreStructure(p.PageStructure),
		Derived:       deriveProductFields(p),
	}
	res.OverallScore = overall(res)
	return res, nil
}

// AnalyzeShop scores a shop record through the same six dimensions, mapping
// shop-level signals onto them.
func (a *Analyzer) AnalyzeShop(ctx context.Context, s *models.Shop) (*models.AnalyzerResult, error) {
	if s == nil {
		return nil, fmt.Errorf("analyze: nil shop record")
	}

	res := &models.AnalyzerResult{
		Images:        scoreShopImages(s),
		Description:   scoreShopPresentation(s),
		Price:         scoreShopPricing(s),
		Reviews:       scoreShopReputation(s),
		SEO:           scoreShopSEO(s),
		PageStructure: scoreStructure(s.PageStructure),
		Derived: models.DerivedFields{
			Name:       s.Name,
			ImageCount: countTileImages(s),
		},
	}
	res.OverallScore = overall(res)
	return res, nil
}

func overall(r *models.AnalyzerResult) int {
	sum := float64(r.Images.Score)*weightImages +
		float64(r.Description.Score)*weightDescription +
		float64(r.Price.Score)*weightPrice +
		float64(r.Reviews.Score)*weightReviews +
		float64(r.SEO.Score)*weightSEO +
		float64(r.PageStructure.Score)*weightStructure
	return clamp(int(sum + 0.5))
}

// deriveProductFields snapshots the record fields the scores were computed
// from. The validator reconciles this snapshot against the record later.
func deriveProductFields(p *models.Product) models.DerivedFields {
	return models.DerivedFields{
		Name:              p.Name,
		SalePrice:         copyInt(p.Price.Sale),
		OriginalPrice:     copyInt(p.Price.Original),
		ReviewCount:       p.Reviews.Count,
		Rating:            p.Reviews.Rating,
		ImageCount:        len(p.Images.Detail),
		DescriptionLength: len([]rune(p.Description)),
		HasPoints:         p.Points.Max != nil,
		HasCoupon:         p.Coupon.Present,
		HasShipping:       p.Shipping.Free != nil || p.Shipping.Fee != nil,
		Keywords:          append([]string(nil), p.SearchKeywords...),
	}
}

func (a *Analyzer) scoreImages(ctx context.Context, imgs models.Images) models.DimensionScore {
	var d models.DimensionScore

	if imgs.Thumbnail != "" {
		if a.probeThumbnail(ctx, imgs.Thumbnail) {
			d.Score += 30
			d.Findings = append(d.Findings, "サムネイル画像は十分な解像度です")
		} else {
			d.Score += 15
			d.Findings = append(d.Findings, "サムネイル画像のサイズを確認できませんでした")
			d.Recommendations = append(d.Recommendations, "高解像度のサムネイル画像を設定してください")
		}
	} else {
		d.Recommendations = append(d.Recommendations, "サムネイル画像を設定してください")
	}

	switch n := len(imgs.Detail); {
	case n >= 5:
		d.Score += 40
		d.Findings = append(d.Findings, "詳細画像が充実しています")
	case n >= 3:
		d.Score += 25
		d.Recommendations = append(d.Recommendations, "詳細画像を5枚以上に増やしてください")
	default:
		d.Score += 10
		d.Recommendations = append(d.Recommendations, "詳細画像を追加してください")
	}
	if len(imgs.Detail) > 0 {
		d.Score += 30
	}

	d.Score = clamp(d.Score)
	return d
}

// probeThumbnail issues a HEAD request and accepts the image when it reports
// at least minThumbnailBytes. Network failure degrades gracefully.
func (a *Analyzer) probeThumbnail(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Debug().Err(err).Str("url", url).Msg("thumbnail probe failed")
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400 && resp.ContentLength >= minThumbnailBytes
}

func scoreDescription(text string, keywords []string) models.DimensionScore {
	var d models.DimensionScore

	switch n := len([]rune(text)); {
	case n >= 500:
		d.Score += 40
		d.Findings = append(d.Findings, "商品説明が十分な長さです")
	case n >= 300:
		d.Score += 25
	default:
		d.Score += 10
		d.Recommendations = append(d.Recommendations, "商品説明を300文字以上に拡充してください")
	}

	if strings.ContainsAny(text, "\n・●■") {
		d.Score += 20
	} else {
		d.Recommendations = append(d.Recommendations, "箇条書きや改行で説明を構造化してください")
	}

	if keywordInText(text, keywords) {
		d.Score += 20
	} else if len(keywords) > 0 {
		d.Recommendations = append(d.Recommendations, "検索キーワードを説明文に含めてください")
	}

	if scrape.JapaneseRatio(text) > 0.5 {
		d.Score += 20
	}

	d.Score = clamp(d.Score)
	return d
}

func scorePrice(p models.Price) models.DimensionScore {
	d := models.DimensionScore{Score: 70}

	if p.Sale == nil {
		d.Recommendations = append(d.Recommendations, "販売価格を明示してください")
		d.Score = clamp(d.Score)
		return d
	}

	switch r := p.DiscountRate; {
	case r >= 10 && r <= 30:
		d.Score += 20
		d.Findings = append(d.Findings, "割引率が効果的な範囲です")
	case r > 30:
		d.Score -= 10
		d.Findings = append(d.Findings, "割引率が大きすぎて品質への信頼を損なう可能性があります")
	case r > 0:
		d.Score += 10
	}

	// Charm pricing: a sale price ending just below a round thousand.
	if *p.Sale%1000 < 100 {
		d.Score += 10
	} else {
		d.Recommendations = append(d.Recommendations, "端数価格(〇,980円など)の設定を検討してください")
	}

	d.Score = clamp(d.Score)
	return d
}

func scoreReviews(r models.Reviews) models.DimensionScore {
	var d models.DimensionScore

	switch {
	case r.Rating >= 4.5:
		d.Score += 40
		d.Findings = append(d.Findings, "評価が非常に高い水準です")
	case r.Rating >= 4.0:
		d.Score += 30
	case r.Rating >= 3.5:
		d.Score += 20
	default:
		d.Score += 10
		d.Recommendations = append(d.Recommendations, "評価改善のため品質・対応を見直してください")
	}

	switch {
	case r.Count >= 50:
		d.Score += 30
	case r.Count >= 20:
		d.Score += 25
	case r.Count >= 10:
		d.Score += 20
	default:
		d.Score += 10
		d.Recommendations = append(d.Recommendations, "レビュー件数を増やす施策を実施してください")
	}

	if negativeSampleRatio(r.Sample) > 0.2 {
		d.Score -= 20
		d.Findings = append(d.Findings, "否定的なレビューの割合が高くなっています")
	}

	d.Score = clamp(d.Score)
	return d
}

func negativeSampleRatio(samples []string) float64 {
	if len(samples) == 0 {
		return 0
	}
	negative := 0
	for _, s := range samples {
		for _, term := range negativeReviewTerms {
			if strings.Contains(s, term) {
				negative++
				break
			}
		}
	}
	return float64(negative) / float64(len(samples))
}

func scoreSEO(p *models.Product) models.DimensionScore {
	var d models.DimensionScore

	if keywordInText(p.Name, p.SearchKeywords) {
		d.Score += 25
	} else {
		d.Recommendations = append(d.Recommendations, "商品名に検索キーワードを含めてください")
	}
	if keywordInText(p.Description, p.SearchKeywords) {
		d.Score += 25
	}
	if p.Category != "" {
		d.Score += 25
	} else {
		d.Recommendations = append(d.Recommendations, "カテゴリを設定してください")
	}
	if p.Brand != "" {
		d.Score += 25
	} else {
		d.Recommendations = append(d.Recommendations, "ブランドを設定してください")
	}

	return d
}

var essentialStructureFields = []string{"name", "price", "image", "description"}
var optionalStructureFields = []string{"review", "seller", "shipping", "coupon", "points"}

func scoreStructure(ps *models.PageStructure) models.DimensionScore {
	var d models.DimensionScore
	if ps == nil {
		d.Recommendations = append(d.Recommendations, "ページ構造を解析できませんでした")
		return d
	}

	for _, f := range essentialStructureFields {
		if len(ps.SemanticStructure[f]) > 0 {
			d.Score += 15
		} else {
			d.Findings = append(d.Findings, "必須要素が見つかりません: "+f)
		}
	}
	optional := 0
	for _, f := range optionalStructureFields {
		if len(ps.SemanticStructure[f]) > 0 {
			optional += 5
		}
	}
	if optional > 25 {
		optional = 25
	}
	d.Score += optional

	if scrape.HasProductIntent(ps, 5) {
		d.Score += 10
	}

	d.Score = clamp(d.Score)
	return d
}

// Shop dimension mappings.

func scoreShopImages(s *models.Shop) models.DimensionScore {
	var d models.DimensionScore
	withImage := countTileImages(s)
	switch {
	case len(s.Products) == 0:
		d.Score = 10
		d.Recommendations = append(d.Recommendations, "商品を登録してください")
	case withImage == len(s.Products):
		d.Score = 100
	case withImage*2 >= len(s.Products):
		d.Score = 60
		d.Recommendations = append(d.Recommendations, "全商品にサムネイル画像を設定してください")
	default:
		d.Score = 30
		d.Recommendations = append(d.Recommendations, "商品画像の登録率が低すぎます")
	}
	return d
}

func countTileImages(s *models.Shop) int {
	n := 0
	for _, p := range s.Products {
		if p.ImageURL != "" {
			n++
		}
	}
	return n
}

func scoreShopPresentation(s *models.Shop) models.DimensionScore {
	var d models.DimensionScore
	if s.Name != "" {
		d.Score += 40
	}
	if len(s.Categories) >= 3 {
		d.Score += 40
		d.Findings = append(d.Findings, "カテゴリ構成が整理されています")
	} else if len(s.Categories) > 0 {
		d.Score += 20
	} else {
		d.Recommendations = append(d.Recommendations, "ショップカテゴリを設定してください")
	}
	if len(s.Coupons) > 0 {
		d.Score += 20
	}
	d.Score = clamp(d.Score)
	return d
}

func scoreShopPricing(s *models.Shop) models.DimensionScore {
	d := models.DimensionScore{Score: 70}
	if len(s.Coupons) > 0 {
		d.Score += 20
		d.Findings = append(d.Findings, "ショップクーポンが設定されています")
	} else {
		d.Recommendations = append(d.Recommendations, "ショップクーポンの発行を検討してください")
	}
	d.Score = clamp(d.Score)
	return d
}

func scoreShopReputation(s *models.Shop) models.DimensionScore {
	var d models.DimensionScore
	switch {
	case s.FollowerCount >= 1000:
		d.Score += 50
		d.Findings = append(d.Findings, "フォロワー数が十分です")
	case s.FollowerCount >= 100:
		d.Score += 30
	default:
		d.Score += 10
		d.Recommendations = append(d.Recommendations, "フォロワー獲得施策を実施してください")
	}
	switch s.Level {
	case models.SellerPower:
		d.Score += 50
	case models.SellerExcellent:
		d.Score += 40
	case models.SellerNormal:
		d.Score += 20
	default:
		d.Score += 10
	}
	d.Score = clamp(d.Score)
	return d
}

func scoreShopSEO(s *models.Shop) models.DimensionScore {
	var d models.DimensionScore
	if s.Name != "" {
		d.Score += 30
	}
	if len(s.Categories) > 0 {
		d.Score += 40
	}
	if s.ProductCount >= 10 {
		d.Score += 30
	} else if s.ProductCount > 0 {
		d.Score += 15
	}
	d.Score = clamp(d.Score)
	return d
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func keywordInText(text string, keywords []string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// TopClasses returns the n most frequent classes of a fingerprint, used by
// downstream consumers that need a compact structure mapping.
func TopClasses(ps *models.PageStructure, n int) []models.ClassFreq {
	if ps == nil {
		return nil
	}
	out := make([]models.ClassFreq, 0, n)
	for _, c := range ps.AllClasses {
		out = append(out, models.ClassFreq{Class: c, Freq: ps.ClassFrequency[c]})
		if len(out) == n {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Freq > out[j].Freq })
	return out
}
