package scrape

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamincozon/shoplens/internal/learn"
	"github.com/benjamincozon/shoplens/internal/models"
)

const productPage = `<html><head>
<title>スーパーファンデーション SPF50 | MarketPlace</title>
<meta name="keywords" content="ファンデーション,コスメ,beauty">
<meta property="og:image" content="https://img.example.test/thumb/1093098159.jpg">
</head><body>
<div class="goods-detail">
  <h1 class="goods-name">スーパーファンデーション SPF50</h1>
  <div class="price-box"><del class="original-price">3,000円</del><strong class="price">1,980円</strong></div>
  <div class="review-summary"><strong class="rating">4.5</strong><span class="review-count">128件</span></div>
  <dd class="shipping-fee">送料無料 返品無料</dd>
  <dd class="point-info">最大100ポイント</dd>
  <div class="coupon-info">お気に入りクーポン 300円引き</div>
  <a class="shop-name">ビューティーショップ</a>
  <span class="seller-grade">パワーセラー</span>
  <div class="goods-description">高品質なファンデーションです。肌に優しい成分を使用し、長時間崩れにくい仕上がりを実現します。
    <img src="/images/detail1.jpg"><img src="/images/detail1.jpg">
    <img src="/images/banner_top.jpg">
    <img src="https://img.example.test/detail2.jpg">
  </div>
</div>
</body></html>`

func newTestParser() (*Parser, *learn.MemoryStore) {
	store := learn.NewMemoryStore(nil, nil)
	return NewParser(store, zerolog.Nop()), store
}

func TestParseProduct(t *testing.T) {
	p, _ := newTestParser()

	prod, err := p.ParseProduct(context.Background(), productPage, "https://www.example.test/Goods/Goods.aspx?goodscode=1093098159", models.SourceHTMLFetch)
	require.NoError(t, err)

	assert.Equal(t, "1093098159", prod.Code)
	assert.Equal(t, "https://www.example.test/g/1093098159", prod.URL)
	assert.Equal(t, "スーパーファンデーション SPF50", prod.Name)

	require.NotNil(t, prod.Price.Sale)
	require.NotNil(t, prod.Price.Original)
	assert.Equal(t, 1980, *prod.Price.Sale)
	assert.Equal(t, 3000, *prod.Price.Original)
	assert.Equal(t, 34, prod.Price.DiscountRate)
	assert.GreaterOrEqual(t, *prod.Price.Original, *prod.Price.Sale)

	assert.Equal(t, "https://img.example.test/thumb/1093098159.jpg", prod.Images.Thumbnail)
	// Duplicate removed, banner excluded, relative URL absolutized.
	assert.Equal(t, []string{
		"https://www.example.test/images/detail1.jpg",
		"https://img.example.test/detail2.jpg",
	}, prod.Images.Detail)
	for _, u := range prod.Images.Detail {
		assert.Regexp(t, `^https?://`, u)
	}

	assert.InDelta(t, 4.5, prod.Reviews.Rating, 1e-9)
	assert.Equal(t, 128, prod.Reviews.Count)

	assert.Equal(t, models.SellerPower, prod.Seller.Level)
	assert.Equal(t, "ビューティーショップ", prod.Seller.Name)

	require.NotNil(t, prod.Shipping.Free)
	assert.True(t, *prod.Shipping.Free)
	assert.Equal(t, models.ReturnFree, prod.Shipping.ReturnPolicy)

	require.NotNil(t, prod.Points.Max)
	assert.Equal(t, 100, *prod.Points.Max)

	assert.True(t, prod.Coupon.Present)
	assert.Equal(t, models.CouponFavorite, prod.Coupon.Kind)
	require.NotNil(t, prod.Coupon.MaxDiscount)
	assert.Equal(t, 300, *prod.Coupon.MaxDiscount)

	assert.ElementsMatch(t, []string{"ファンデーション", "コスメ", "beauty"}, prod.SearchKeywords)

	require.NotNil(t, prod.PageStructure)
	assert.NotEmpty(t, prod.PageStructure.AllClasses)
	assert.NotEmpty(t, prod.PageStructure.SemanticStructure["price"])
}

func TestParseProductPriceBounds(t *testing.T) {
	p, _ := newTestParser()

	// 99 is below the plausible floor and must be rejected.
	page := `<html><body><h1 class="goods-name">安い商品</h1><strong class="price">99円</strong></body></html>`
	prod, err := p.ParseProduct(context.Background(), page, "https://www.example.test/g/77", models.SourceHTMLFetch)
	require.NoError(t, err)
	assert.Nil(t, prod.Price.Sale)

	page = `<html><body><h1 class="goods-name">商品</h1><strong class="price">100円</strong></body></html>`
	prod, err = p.ParseProduct(context.Background(), page, "https://www.example.test/g/78", models.SourceHTMLFetch)
	require.NoError(t, err)
	require.NotNil(t, prod.Price.Sale)
	assert.Equal(t, 100, *prod.Price.Sale)
}

func TestParseProductDropsContradictoryOriginal(t *testing.T) {
	p, _ := newTestParser()

	page := `<html><body><h1 class="goods-name">商品</h1>
<del class="original-price">500円</del><strong class="price">1,500円</strong></body></html>`
	prod, err := p.ParseProduct(context.Background(), page, "https://www.example.test/g/79", models.SourceHTMLFetch)
	require.NoError(t, err)
	require.NotNil(t, prod.Price.Sale)
	assert.Nil(t, prod.Price.Original)
	assert.Equal(t, 0, prod.Price.DiscountRate)
}

func TestParseProductFallbackToLearnedSelector(t *testing.T) {
	p, store := newTestParser()
	ctx := context.Background()

	// The store already learned a selector the default list does not know.
	require.NoError(t, store.RecordSelector(ctx, FieldName, "h2.custom-name", true, 1.0))

	page := `<html><body><h2 class="custom-name">学習された商品名</h2><strong class="price">2,000円</strong></body></html>`
	prod, err := p.ParseProduct(ctx, page, "https://www.example.test/g/80", models.SourceHTMLFetch)
	require.NoError(t, err)
	assert.Equal(t, "学習された商品名", prod.Name)

	// Every default rule was tried and recorded as a failure first.
	stats, err := store.BestSelectors(ctx, FieldName, 20)
	require.NoError(t, err)
	var defaultFailures, learnedSuccesses int
	for _, s := range stats {
		if s.Key == "h2.custom-name" {
			learnedSuccesses = s.Successes
		} else if s.Failures > 0 {
			defaultFailures++
		}
	}
	assert.Equal(t, 2, learnedSuccesses) // seeded + replayed
	assert.GreaterOrEqual(t, defaultFailures, len(defaultRules[FieldName]))
}

func TestParseProductTitleHeuristic(t *testing.T) {
	p, _ := newTestParser()

	page := `<html><head><title>ヒューリスティック商品 | MarketPlace</title></head><body><p>本文</p></body></html>`
	prod, err := p.ParseProduct(context.Background(), page, "https://www.example.test/g/81", models.SourceHTMLFetch)
	require.NoError(t, err)
	assert.Equal(t, "ヒューリスティック商品", prod.Name)
}

func TestParseProductExtractionError(t *testing.T) {
	p, _ := newTestParser()

	// No code in the URL, no name anywhere.
	_, err := p.ParseProduct(context.Background(), `<html><body><p></p></body></html>`, "https://www.example.test/event/sale", models.SourceHTMLFetch)
	require.Error(t, err)
	var ee *ExtractionError
	assert.ErrorAs(t, err, &ee)
}

func TestParseProductPartialRecord(t *testing.T) {
	p, _ := newTestParser()

	// Code derivable from the URL even when the page is nearly empty.
	prod, err := p.ParseProduct(context.Background(), `<html><body></body></html>`, "https://www.example.test/g/9999", models.SourceHTMLFetch)
	require.NoError(t, err)
	assert.Equal(t, "9999", prod.Code)
	assert.Empty(t, prod.Name)
	assert.Nil(t, prod.Price.Sale)
}

const shopPage = `<html><head><title>ビューティーショップ | MarketPlace</title></head><body>
<h1 class="shop-name">ビューティーショップ</h1>
<span class="shop-grade">優良ショップ</span>
<span class="follower-count">2,340</span>
<ul class="shop-category"><li>コスメ (120)</li><li>スキンケア (85)</li></ul>
<div class="coupon-info">ショップクーポン 500円</div>
<div class="items">
  <a href="/g/111"><img src="/img/111.jpg">商品A 1,200円</a>
  <a href="/g/222">商品B 3,400円</a>
  <a href="/g/111">重複リンク</a>
</div>
</body></html>`

func TestParseShop(t *testing.T) {
	p, _ := newTestParser()

	shop, err := p.ParseShop(context.Background(), shopPage, "https://www.example.test/shop/beauty-store", models.SourceHTMLFetch)
	require.NoError(t, err)

	assert.Equal(t, "beauty-store", shop.ID)
	assert.Equal(t, "ビューティーショップ", shop.Name)
	assert.Equal(t, models.SellerExcellent, shop.Level)
	assert.Equal(t, 2340, shop.FollowerCount)

	require.Len(t, shop.Products, 2)
	assert.Equal(t, "111", shop.Products[0].Code)
	assert.Equal(t, 1200, shop.Products[0].Price)
	assert.Equal(t, "https://www.example.test/img/111.jpg", shop.Products[0].ImageURL)
	assert.Equal(t, 2, shop.ProductCount)

	assert.Equal(t, 120, shop.Categories["コスメ"])
	assert.Equal(t, 85, shop.Categories["スキンケア"])

	require.Len(t, shop.Coupons, 1)
	assert.Equal(t, 500, shop.Coupons[0].MaxDiscount)
}

func TestTranslateToReportLanguage(t *testing.T) {
	assert.Equal(t, "ポイント 100", translateToReportLanguage("포인트 100"))
	assert.Equal(t, "unchanged", translateToReportLanguage("unchanged"))

	// Overlapping terms: the longer variant must win over its substring, so
	// repeated runs never produce a hybrid like "무료送料".
	for i := 0; i < 50; i++ {
		assert.Equal(t, "送料無料", translateToReportLanguage("무료배송"))
		assert.Equal(t, "送料無料", translateToReportLanguage("배송비 무료"))
		assert.Equal(t, "送料", translateToReportLanguage("배송비"))
	}
}

func TestJapaneseRatio(t *testing.T) {
	assert.Greater(t, JapaneseRatio("高品質なファンデーション"), 0.5)
	assert.Less(t, JapaneseRatio("all english text"), 0.1)
	assert.Less(t, JapaneseRatio("한국어 텍스트"), 0.1)
}
