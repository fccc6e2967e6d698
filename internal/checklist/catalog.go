package checklist

import (
	"github.com/benjamincozon/shoplens/internal/models"
)

// Category names of the fixed catalog.
const (
	CategorySalePrep    = "sale_prep"
	CategorySalesGrowth = "sales_growth"
	CategoryShopOps     = "shop_ops"
	CategoryAdsPromo    = "ads_promo"
)

// Input bundles everything an evaluator may inspect.
type Input struct {
	Product   *models.Product
	Shop      *models.Shop
	Analysis  *models.AnalyzerResult
	Structure *models.PageStructure
}

// Verdict is one evaluator's answer.
type Verdict struct {
	Passed         bool
	Recommendation string
}

// EvalFunc checks one catalog item against the pipeline's intermediate data.
type EvalFunc func(in Input) Verdict

// Item is one catalog entry. Evaluate == nil marks a manual item.
type Item struct {
	ID       string
	Title    string
	Field    string // logical field for structure mapping and confidence
	Evaluate EvalFunc
}

// Category groups catalog items.
type Category struct {
	Name  string
	Items []Item
}

// Catalog is the fixed item set every record is evaluated against.
var Catalog = []Category{
	{
		Name: CategorySalePrep,
		Items: []Item{
			{
				ID: "prep_name_quality", Title: "商品名が検索に最適化されている", Field: "name",
				Evaluate: func(in Input) Verdict {
					if in.Product == nil {
						return Verdict{Recommendation: "商品データがありません"}
					}
					if len([]rune(in.Product.Name)) >= 10 {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "商品名を10文字以上にし、主要キーワードを含めてください"}
				},
			},
			{
				ID: "prep_price_set", Title: "販売価格が適正範囲で設定されている", Field: "price",
				Evaluate: func(in Input) Verdict {
					if in.Product == nil || in.Product.Price.Sale == nil {
						return Verdict{Recommendation: "販売価格を設定してください"}
					}
					s := *in.Product.Price.Sale
					if s >= models.MinValidPrice && s <= models.MaxValidPrice {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "販売価格が妥当な範囲外です"}
				},
			},
			{
				ID: "prep_images", Title: "サムネイルと詳細画像が揃っている", Field: "image",
				Evaluate: func(in Input) Verdict {
					if in.Product == nil {
						return Verdict{Recommendation: "商品データがありません"}
					}
					if in.Product.Images.Thumbnail != "" && len(in.Product.Images.Detail) >= 3 {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "サムネイルに加えて詳細画像を3枚以上登録してください"}
				},
			},
			{
				ID: "prep_description", Title: "商品説明が十分に書かれている", Field: "description",
				Evaluate: func(in Input) Verdict {
					if in.Product != nil && len([]rune(in.Product.Description)) >= 300 {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "商品説明を300文字以上に拡充してください"}
				},
			},
			{
				ID: "prep_category_brand", Title: "カテゴリとブランドが設定されている", Field: "name",
				Evaluate: func(in Input) Verdict {
					if in.Product != nil && in.Product.Category != "" && in.Product.Brand != "" {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "カテゴリとブランドを両方設定してください"}
				},
			},
			{ID: "prep_legal_review", Title: "表記・法令面の確認を行った", Field: "description"},
		},
	},
	{
		Name: CategorySalesGrowth,
		Items: []Item{
			{
				ID: "growth_reviews", Title: "レビューが10件以上ある", Field: "review",
				Evaluate: func(in Input) Verdict {
					if in.Product != nil && in.Product.Reviews.Count >= 10 {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "レビュー獲得施策を実施してください"}
				},
			},
			{
				ID: "growth_rating", Title: "評価が4.0以上を維持している", Field: "review",
				Evaluate: func(in Input) Verdict {
					if in.Product != nil && in.Product.Reviews.Rating >= 4.0 {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "低評価の原因を分析して改善してください"}
				},
			},
			{
				ID: "growth_keywords", Title: "検索キーワードが登録されている", Field: "name",
				Evaluate: func(in Input) Verdict {
					if in.Product != nil && len(in.Product.SearchKeywords) > 0 {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "検索キーワードを登録してください"}
				},
			},
			{ID: "growth_repeat_plan", Title: "リピート促進施策を計画している", Field: "coupon"},
		},
	},
	{
		Name: CategoryShopOps,
		Items: []Item{
			{
				ID: "ops_shipping_free", Title: "送料無料で提供している", Field: "shipping",
				Evaluate: func(in Input) Verdict {
					if in.Product == nil {
						return Verdict{Recommendation: "商品データがありません"}
					}
					sh := in.Product.Shipping
					if (sh.Free != nil && *sh.Free) || (sh.Fee != nil && *sh.Fee == 0) {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "送料無料化を検討してください"}
				},
			},
			{
				ID: "ops_return_policy", Title: "返品ポリシーを明示している", Field: "shipping",
				Evaluate: func(in Input) Verdict {
					if in.Product != nil && in.Product.Shipping.ReturnPolicy != models.ReturnNone {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "返品条件をページに明記してください"}
				},
			},
			{
				ID: "ops_points", Title: "ポイント還元を設定している", Field: "points",
				Evaluate: func(in Input) Verdict {
					if in.Product != nil && in.Product.Points.Max != nil && *in.Product.Points.Max > 0 {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "ポイント還元の設定を検討してください"}
				},
			},
			{ID: "ops_inquiry_sla", Title: "問い合わせ対応の体制がある", Field: "seller"},
		},
	},
	{
		Name: CategoryAdsPromo,
		Items: []Item{
			{
				ID: "promo_coupon", Title: "クーポンを発行している", Field: "coupon",
				Evaluate: func(in Input) Verdict {
					if in.Product != nil && in.Product.Coupon.Present {
						return Verdict{Passed: true}
					}
					if in.Shop != nil && len(in.Shop.Coupons) > 0 {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "クーポン発行を検討してください"}
				},
			},
			{
				ID: "promo_ad_placement", Title: "広告枠に出稿している", Field: "name",
				Evaluate: func(in Input) Verdict {
					if in.Product != nil && in.Product.IsPromoted {
						return Verdict{Passed: true}
					}
					return Verdict{Recommendation: "検索連動広告への出稿を検討してください"}
				},
			},
			{ID: "promo_campaign_calendar", Title: "セールイベントの出品計画がある", Field: "price"},
		},
	},
}
