package recommend

import (
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/benjamincozon/shoplens/internal/models"
)

// Score thresholds below which a dimension earns a recommendation.
const (
	lowScore  = 50
	fairScore = 70
)

// Recommend maps analyzer output and the page fingerprint to an ordered list
// of improvement actions. Pure and deterministic: the same inputs always
// produce the same actions with the same ids.
func Recommend(product *models.Product, result *models.AnalyzerResult, ps *models.PageStructure) []models.Recommendation {
	if result == nil {
		return nil
	}

	var recs []models.Recommendation
	add := func(r models.Recommendation, reason string) {
		r.ID = actionID(r.Category, reason)
		recs = append(recs, r)
	}

	if result.Images.Score < fairScore {
		add(models.Recommendation{
			Category: "images",
			Priority: priorityFor(result.Images.Score),
			Title:    "商品画像を強化する",
			Description: "画像はクリック率と転換率に直結します。高解像度のサムネイルと" +
				"5枚以上の詳細画像を用意してください。",
			ActionItems: []string{
				"1000px以上のサムネイル画像を設定する",
				"使用シーン・サイズ感・質感が分かる詳細画像を追加する",
			},
			ExpectedImpact:   "クリック率の向上",
			Difficulty:       "medium",
			EstimatedTime:    "2-3時間",
			StructureMapping: ps.ClassesForField("image"),
		}, "low-image-score")
	}

	if result.Description.Score < fairScore {
		add(models.Recommendation{
			Category:    "description",
			Priority:    priorityFor(result.Description.Score),
			Title:       "商品説明を拡充する",
			Description: "300文字以上の構造化された説明文は検索露出と購入判断の両方に効きます。",
			ActionItems: []string{
				"特徴・仕様・使い方を箇条書きで整理する",
				"検索キーワードを本文に自然に織り込む",
			},
			ExpectedImpact:   "検索流入と転換率の向上",
			Difficulty:       "easy",
			EstimatedTime:    "1時間",
			StructureMapping: ps.ClassesForField("description"),
		}, "thin-description")
	}

	if result.Price.Score < fairScore {
		add(models.Recommendation{
			Category:    "price",
			Priority:    priorityFor(result.Price.Score),
			Title:       "価格戦略を見直す",
			Description: "割引率10〜30%と端数価格の組み合わせが最も効果的です。",
			ActionItems: []string{
				"通常価格を設定して割引率を可視化する",
				"端数価格(〇,980円)を検討する",
			},
			ExpectedImpact:   "転換率の向上",
			Difficulty:       "easy",
			EstimatedTime:    "30分",
			StructureMapping: ps.ClassesForField("price"),
		}, "weak-pricing")
	}

	if result.Reviews.Score < fairScore {
		add(models.Recommendation{
			Category:    "reviews",
			Priority:    priorityFor(result.Reviews.Score),
			Title:       "レビューを増やす",
			Description: "レビュー件数と評価は購入者の最重要判断材料です。",
			ActionItems: []string{
				"レビュー投稿でポイント付与を設定する",
				"低評価レビューには個別に対応する",
			},
			ExpectedImpact:   "信頼性と転換率の向上",
			Difficulty:       "medium",
			EstimatedTime:    "継続施策",
			StructureMapping: ps.ClassesForField("review"),
		}, "few-reviews")
	}

	if result.SEO.Score < fairScore {
		add(models.Recommendation{
			Category:    "seo",
			Priority:    priorityFor(result.SEO.Score),
			Title:       "検索最適化を行う",
			Description: "商品名・説明文・カテゴリ・ブランドの4点が検索露出を決めます。",
			ActionItems: []string{
				"商品名の先頭に主要キーワードを配置する",
				"カテゴリとブランドを必ず設定する",
			},
			ExpectedImpact:   "検索順位の向上",
			Difficulty:       "easy",
			EstimatedTime:    "1時間",
			StructureMapping: ps.ClassesForField("name"),
		}, "poor-seo")
	}

	if result.PageStructure.Score < lowScore {
		add(models.Recommendation{
			Category:    "page_structure",
			Priority:    models.PriorityMedium,
			Title:       "ページ要素を補完する",
			Description: "価格・画像・説明などの基本要素が欠けているとページの評価が下がります。",
			ActionItems: []string{
				"欠落している基本要素をページに追加する",
			},
			ExpectedImpact:   "ページ品質の底上げ",
			Difficulty:       "medium",
			EstimatedTime:    "2時間",
			StructureMapping: nil,
		}, "sparse-structure")
	}

	if product != nil {
		if !product.Coupon.Present {
			add(models.Recommendation{
				Category:    "promotion",
				Priority:    models.PriorityLow,
				Title:       "クーポンを発行する",
				Description: "お気に入り登録クーポンはリピート率とフォロワー獲得の両方に効きます。",
				ActionItems: []string{
					"お気に入り登録者向けクーポンを設定する",
				},
				ExpectedImpact:   "リピート率の向上",
				Difficulty:       "easy",
				EstimatedTime:    "30分",
				StructureMapping: ps.ClassesForField("coupon"),
			}, "no-coupon")
		}
		if product.Shipping.Free == nil || !*product.Shipping.Free {
			add(models.Recommendation{
				Category:    "shipping",
				Priority:    models.PriorityMedium,
				Title:       "送料無料を検討する",
				Description: "送料無料バッジは検索結果での選択率を大きく左右します。",
				ActionItems: []string{
					"送料を商品価格に織り込んで送料無料化する",
				},
				ExpectedImpact:   "選択率の向上",
				Difficulty:       "medium",
				EstimatedTime:    "1時間",
				StructureMapping: ps.ClassesForField("shipping"),
			}, "paid-shipping")
		}
	}

	sort.SliceStable(recs, func(i, j int) bool {
		return priorityRank(recs[i].Priority) < priorityRank(recs[j].Priority)
	})
	return recs
}

func priorityFor(score int) models.Priority {
	if score < lowScore {
		return models.PriorityHigh
	}
	return models.PriorityMedium
}

func priorityRank(p models.Priority) int {
	switch p {
	case models.PriorityHigh:
		return 0
	case models.PriorityMedium:
		return 1
	default:
		return 2
	}
}

// actionID derives a stable id from the action's category and reason so
// repeated runs over the same listing emit identical ids.
func actionID(category, reason string) string {
	h := fnv.New32a()
	h.Write([]byte(category))
	h.Write([]byte{0})
	h.Write([]byte(reason))
	return fmt.Sprintf("rec-%08x", h.Sum32())
}
