package scrape

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/benjamincozon/shoplens/internal/models"
)

// Marketplace URL variants. All alternations are compiled once at startup.
var (
	goodsPathRe  = regexp.MustCompile(`(?i)^/goods/goods\.aspx$`)
	shortPathRe  = regexp.MustCompile(`^/g/(\d+)`)
	itemPathRe   = regexp.MustCompile(`^/item/[^/]+/(\d+)`)
	goodsDirRe   = regexp.MustCompile(`^/goods/(\d+)`)
	shopPathRe   = regexp.MustCompile(`^/shop/([A-Za-z0-9_-]+)`)
	digitsOnlyRe = regexp.MustCompile(`^\d+$`)
)

// DetectKind classifies a submitted URL as product, shop or unknown.
func DetectKind(raw string) models.URLKind {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return models.URLKindUnknown
	}
	q := u.Query()

	if q.Get("goodscode") != "" ||
		goodsPathRe.MatchString(u.Path) ||
		shortPathRe.MatchString(u.Path) ||
		itemPathRe.MatchString(u.Path) ||
		strings.HasPrefix(strings.ToLower(u.Path), "/goods/") {
		return models.URLKindProduct
	}
	if shopPathRe.MatchString(u.Path) || q.Get("shopid") != "" || q.Get("shop_id") != "" {
		return models.URLKindShop
	}
	return models.URLKindUnknown
}

// ProductCode extracts the numeric goods code from any product URL variant.
func ProductCode(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if code := u.Query().Get("goodscode"); digitsOnlyRe.MatchString(code) {
		return code, nil
	}
	if m := shortPathRe.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	if m := itemPathRe.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	if m := goodsDirRe.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("no goods code in %s", raw)
}

// ShopSlug extracts the shop identifier from a shop URL.
func ShopSlug(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if m := shopPathRe.FindStringSubmatch(u.Path); m != nil {
		return m[1], nil
	}
	if id := u.Query().Get("shopid"); id != "" {
		return id, nil
	}
	if id := u.Query().Get("shop_id"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no shop id in %s", raw)
}

// CanonicalProductURL maps every product URL variant carrying the same goods
// code to one canonical form. Deterministic and idempotent on the input URL.
func CanonicalProductURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	code, err := ProductCode(raw)
	if err != nil {
		return "", err
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/g/%s", scheme, u.Host, code), nil
}

// AbsoluteURL resolves a possibly relative href against the page URL.
func AbsoluteURL(pageURL, href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
