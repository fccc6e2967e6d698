package scrape

import "regexp"

// Rule is one extraction attempt for a logical field: a selector plus an
// optional text pattern whose first group, when present, is the value. Attr
// switches extraction from node text to an attribute (image fields).
type Rule struct {
	Name     string
	Selector string
	Pattern  *regexp.Regexp
	Attr     string
}

// Logical fields extracted from a product page. These keys are also the
// selector-stat buckets in the performance store and the chunk index.
const (
	FieldName          = "name"
	FieldPriceSale     = "price_sale"
	FieldPriceOriginal = "price_original"
	FieldThumbnail     = "thumbnail"
	FieldDetailImages  = "detail_images"
	FieldDescription   = "description"
	FieldReviewRating  = "review_rating"
	FieldReviewCount   = "review_count"
	FieldReviewSample  = "review_sample"
	FieldSellerName    = "seller_name"
	FieldSellerLevel   = "seller_level"
	FieldShipping      = "shipping"
	FieldPoints        = "points"
	FieldCoupon        = "coupon"
	FieldCategory      = "category"
	FieldBrand         = "brand"
	FieldKeywords      = "keywords"
)

// defaultRules is the hard-coded fallback list per field, tried in order
// before any learned selector. At most five rules per field.
var defaultRules = map[string][]Rule{
	FieldName: {
		{Name: "name_h1_goods", Selector: "h1.goods-name"},
		{Name: "name_h1_detail", Selector: "h1.goods_detail_tit"},
		{Name: "name_h2_title", Selector: "h2.name"},
		{Name: "name_div_title", Selector: "div.goods-detail-title"},
		{Name: "name_og", Selector: "meta[property=og:title]", Attr: "content"},
	},
	FieldPriceSale: {
		{Name: "price_strong_sale", Selector: "strong.price"},
		{Name: "price_em_sale", Selector: "em.sale-price"},
		{Name: "price_span_detail", Selector: "div.price-box span.price"},
		{Name: "price_dd_sale", Selector: "dd.sale_price"},
		{Name: "price_meta", Selector: "meta[property=product:price:amount]", Attr: "content"},
	},
	FieldPriceOriginal: {
		{Name: "orig_del", Selector: "del.original-price"},
		{Name: "orig_span_retail", Selector: "span.retail-price"},
		{Name: "orig_dd", Selector: "dd.original_price"},
		{Name: "orig_strike", Selector: "div.price-box del"},
	},
	FieldThumbnail: {
		{Name: "thumb_main_img", Selector: "img#mainImage", Attr: "src"},
		{Name: "thumb_goods_img", Selector: "div.goods-image img", Attr: "src"},
		{Name: "thumb_og", Selector: "meta[property=og:image]", Attr: "content"},
	},
	FieldDetailImages: {
		{Name: "detail_imgs", Selector: "div.detail-image img", Attr: "src"},
		{Name: "detail_desc_imgs", Selector: "div.goods-description img", Attr: "src"},
		{Name: "detail_vim_imgs", Selector: "div#vim_goods_detail img", Attr: "src"},
		{Name: "detail_any_imgs", Selector: "div.detail img", Attr: "src"},
	},
	FieldDescription: {
		{Name: "desc_div_goods", Selector: "div.goods-description"},
		{Name: "desc_div_detail", Selector: "div#vim_goods_detail"},
		{Name: "desc_div_item", Selector: "div.item-description"},
		{Name: "desc_meta", Selector: "meta[name=description]", Attr: "content"},
	},
	FieldReviewRating: {
		{Name: "rating_strong", Selector: "strong.rating"},
		{Name: "rating_span_avg", Selector: "span.review-average"},
		{Name: "rating_em_score", Selector: "div.review-summary em"},
	},
	FieldReviewCount: {
		{Name: "rcount_span", Selector: "span.review-count"},
		{Name: "rcount_a_tab", Selector: "a#reviewTab"},
		{Name: "rcount_em", Selector: "div.review-summary span.count"},
	},
	FieldReviewSample: {
		{Name: "rsample_p", Selector: "div.review-list p.review-text"},
		{Name: "rsample_dd", Selector: "ul.review_list dd"},
	},
	FieldSellerName: {
		{Name: "seller_a_shop", Selector: "a.shop-name"},
		{Name: "seller_span", Selector: "span.seller-name"},
		{Name: "seller_div_info", Selector: "div.seller-info a"},
	},
	FieldSellerLevel: {
		{Name: "slevel_span", Selector: "span.seller-grade"},
		{Name: "slevel_img", Selector: "img.seller-level", Attr: "alt"},
	},
	FieldShipping: {
		{Name: "ship_dd", Selector: "dd.shipping-fee"},
		{Name: "ship_span", Selector: "span.delivery-fee"},
		{Name: "ship_div", Selector: "div.shipping-info"},
	},
	FieldPoints: {
		{Name: "points_dd", Selector: "dd.point-info"},
		{Name: "points_span", Selector: "span.mileage"},
		{Name: "points_div", Selector: "div.point-benefit"},
	},
	FieldCoupon: {
		{Name: "coupon_div", Selector: "div.coupon-info"},
		{Name: "coupon_a", Selector: "a.coupon-download"},
		{Name: "coupon_span", Selector: "span.coupon-price"},
	},
	FieldCategory: {
		{Name: "cat_breadcrumb", Selector: "div.breadcrumb a"},
		{Name: "cat_nav", Selector: "nav.location a"},
	},
	FieldBrand: {
		{Name: "brand_a", Selector: "a.brand-name"},
		{Name: "brand_dd", Selector: "dd.brand"},
	},
	FieldKeywords: {
		{Name: "kw_meta", Selector: "meta[name=keywords]", Attr: "content"},
		{Name: "kw_tags", Selector: "div.search-keyword a"},
	},
}

// Shop page rules, same mechanics as product fields.
const (
	FieldShopName      = "shop_name"
	FieldShopLevel     = "shop_level"
	FieldShopFollowers = "shop_followers"
	FieldShopProducts  = "shop_products"
)

var shopRules = map[string][]Rule{
	FieldShopName: {
		{Name: "shop_h1", Selector: "h1.shop-name"},
		{Name: "shop_strong", Selector: "strong.shop-title"},
		{Name: "shop_og", Selector: "meta[property=og:title]", Attr: "content"},
	},
	FieldShopLevel: {
		{Name: "shoplv_span", Selector: "span.shop-grade"},
		{Name: "shoplv_img", Selector: "img.shop-level", Attr: "alt"},
	},
	FieldShopFollowers: {
		{Name: "shopfw_span", Selector: "span.follower-count"},
		{Name: "shopfw_em", Selector: "div.shop-summary em"},
	},
}

// sellerLevelKeywords maps grade labels in either language to the normalized
// level.
var sellerLevelKeywords = []struct {
	pattern *regexp.Regexp
	level   string
}{
	{regexp.MustCompile(`(?i)(パワー|파워|power)`), "power"},
	{regexp.MustCompile(`(?i)(優良|우수|excellent)`), "excellent"},
	{regexp.MustCompile(`(?i)(一般|일반|normal)`), "normal"},
}

// excludedImagePath filters decorative assets out of detail image lists.
var excludedImagePath = regexp.MustCompile(`(?i)(icon|logo|banner|button)`)
