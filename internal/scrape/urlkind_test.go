package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamincozon/shoplens/internal/models"
)

func TestDetectKind(t *testing.T) {
	cases := []struct {
		url  string
		kind models.URLKind
	}{
		{"https://www.example.test/Goods/Goods.aspx?goodscode=1093098159", models.URLKindProduct},
		{"https://www.example.test/g/1093098159", models.URLKindProduct},
		{"https://www.example.test/item/super-foundation/1093098159", models.URLKindProduct},
		{"https://www.example.test/goods/1093098159", models.URLKindProduct},
		{"https://www.example.test/search?goodscode=1234", models.URLKindProduct},
		{"https://www.example.test/shop/beauty-store", models.URLKindShop},
		{"https://www.example.test/front?shopid=beauty", models.URLKindShop},
		{"https://www.example.test/front?shop_id=beauty", models.URLKindShop},
		{"https://www.example.test/event/sale", models.URLKindUnknown},
		{"not a url", models.URLKindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, DetectKind(tc.url), tc.url)
	}
}

func TestCanonicalProductURLVariantsConverge(t *testing.T) {
	variants := []string{
		"https://www.example.test/Goods/Goods.aspx?goodscode=1234",
		"https://www.example.test/g/1234",
		"https://www.example.test/item/foo/1234",
	}
	for _, v := range variants {
		canonical, err := CanonicalProductURL(v)
		require.NoError(t, err, v)
		assert.Equal(t, "https://www.example.test/g/1234", canonical, v)

		code, err := ProductCode(v)
		require.NoError(t, err, v)
		assert.Equal(t, "1234", code, v)
	}
}

func TestCanonicalProductURLIdempotent(t *testing.T) {
	once, err := CanonicalProductURL("https://www.example.test/item/foo/555?ref=home")
	require.NoError(t, err)
	twice, err := CanonicalProductURL(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestShopSlug(t *testing.T) {
	slug, err := ShopSlug("https://www.example.test/shop/beauty-store?tab=items")
	require.NoError(t, err)
	assert.Equal(t, "beauty-store", slug)

	_, err = ShopSlug("https://www.example.test/g/1234")
	assert.Error(t, err)
}

func TestAbsoluteURL(t *testing.T) {
	page := "https://www.example.test/g/1234"
	assert.Equal(t, "https://img.example.test/a.jpg", AbsoluteURL(page, "https://img.example.test/a.jpg"))
	assert.Equal(t, "https://img.example.test/a.jpg", AbsoluteURL(page, "//img.example.test/a.jpg"))
	assert.Equal(t, "https://www.example.test/images/a.jpg", AbsoluteURL(page, "/images/a.jpg"))
	assert.Empty(t, AbsoluteURL(page, ""))
}
