package scrape

import (
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/benjamincozon/shoplens/internal/models"
)

// Page-structure extraction: one linear scan over at most maxStructureDivs
// <div> elements, bucketing classes into key-element categories and logical
// semantic fields by keyword lists.

const (
	maxStructureDivs    = 1000
	maxTrackedClasses   = 500
	maxSemanticPerField = 20
)

var keyElementKeywords = map[string][]string{
	"product_info":  {"goods", "product", "item", "detail"},
	"price_info":    {"price", "sale", "discount", "cost"},
	"image_info":    {"image", "img", "photo", "thumb", "gallery"},
	"review_info":   {"review", "rating", "feedback", "star"},
	"seller_info":   {"seller", "shop", "store", "vendor"},
	"shipping_info": {"shipping", "delivery", "freight"},
	"coupon_info":   {"coupon", "voucher", "ticket"},
	"points_info":   {"point", "mileage", "reward"},
}

var semanticFieldKeywords = map[string][]string{
	"name":        {"name", "title", "subject"},
	"price":       {"price", "sale", "cost", "amount"},
	"image":       {"image", "img", "photo", "thumb"},
	"description": {"desc", "description", "content", "detail"},
	"review":      {"review", "rating", "star"},
	"seller":      {"seller", "shop", "store"},
	"shipping":    {"shipping", "delivery"},
	"coupon":      {"coupon", "voucher"},
	"points":      {"point", "mileage"},
}

// productIntentTokens signal a commerce-oriented DOM when found among the
// most frequent classes.
var productIntentTokens = []string{"goods", "item", "product", "price", "buy", "cart", "order", "shop"}

// ScanStructure walks the document once and emits the page fingerprint.
func ScanStructure(doc *html.Node) *models.PageStructure {
	freq := make(map[string]int)
	divs := 0

	forEachElement(doc, "div", func(n *html.Node) bool {
		divs++
		for _, c := range strings.Fields(nodeAttr(n, "class")) {
			freq[c]++
		}
		return divs < maxStructureDivs
	})

	classes := make([]string, 0, len(freq))
	for c := range freq {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool {
		if freq[classes[i]] != freq[classes[j]] {
			return freq[classes[i]] > freq[classes[j]]
		}
		return classes[i] < classes[j]
	})
	if len(classes) > maxTrackedClasses {
		for _, dropped := range classes[maxTrackedClasses:] {
			delete(freq, dropped)
		}
		classes = classes[:maxTrackedClasses]
	}

	ps := &models.PageStructure{
		AllClasses:        classes,
		ClassFrequency:    freq,
		KeyElements:       make(map[string][]models.ClassFreq),
		SemanticStructure: make(map[string][]models.ClassFreq),
	}

	for _, class := range classes {
		lower := strings.ToLower(class)
		for category, keywords := range keyElementKeywords {
			if containsAny(lower, keywords) {
				ps.KeyElements[category] = append(ps.KeyElements[category], models.ClassFreq{Class: class, Freq: freq[class]})
			}
		}
		for field, keywords := range semanticFieldKeywords {
			if containsAny(lower, keywords) {
				ps.SemanticStructure[field] = append(ps.SemanticStructure[field], models.ClassFreq{Class: class, Freq: freq[class]})
			}
		}
	}

	// Buckets inherit the frequency-descending order; trim semantic buckets.
	for field, list := range ps.SemanticStructure {
		if len(list) > maxSemanticPerField {
			ps.SemanticStructure[field] = list[:maxSemanticPerField]
		}
	}

	return ps
}

// HasProductIntent reports whether at least min of the top-10 most frequent
// classes carry commerce-intent tokens.
func HasProductIntent(ps *models.PageStructure, min int) bool {
	if ps == nil {
		return false
	}
	top := ps.AllClasses
	if len(top) > 10 {
		top = top[:10]
	}
	hits := 0
	for _, c := range top {
		if containsAny(strings.ToLower(c), productIntentTokens) {
			hits++
		}
	}
	return hits >= min
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
