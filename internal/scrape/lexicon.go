package scrape

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// The marketplace serves listings written in Japanese or Korean depending on
// the seller. Every label regex is an alternation over both variants; output
// strings are translated to the report language (Japanese) with the same
// lexicon. All patterns are compiled once at package init.

type labelEntry struct {
	jp []string
	ko []string
}

var lexicon = map[string]labelEntry{
	"price":         {jp: []string{"価格", "販売価格", "特価"}, ko: []string{"가격", "판매가격", "특가"}},
	"original":      {jp: []string{"通常価格", "定価", "希望小売価格"}, ko: []string{"정상가격", "정가"}},
	"discount":      {jp: []string{"割引", "OFF"}, ko: []string{"할인"}},
	"review":        {jp: []string{"レビュー", "評価"}, ko: []string{"리뷰", "평가"}},
	"shipping":      {jp: []string{"送料", "配送料", "配送"}, ko: []string{"배송비", "배송"}},
	"free_shipping": {jp: []string{"送料無料", "無料配送"}, ko: []string{"무료배송", "배송비 무료"}},
	"return":        {jp: []string{"返品", "返品無料"}, ko: []string{"반품", "무료반품"}},
	"points":        {jp: []string{"ポイント", "メガポ"}, ko: []string{"포인트", "메가포"}},
	"coupon":        {jp: []string{"クーポン", "割引券"}, ko: []string{"쿠폰", "할인권"}},
	"seller":        {jp: []string{"販売者", "ショップ", "出品者"}, ko: []string{"판매자", "샵"}},
	"follower":      {jp: []string{"フォロワー", "お気に入り"}, ko: []string{"팔로워", "즐겨찾기"}},
	"quantity":      {jp: []string{"数量", "在庫"}, ko: []string{"수량", "재고"}},
	"brand":         {jp: []string{"ブランド", "メーカー"}, ko: []string{"브랜드", "제조사"}},
	"category":      {jp: []string{"カテゴリ", "カテゴリー"}, ko: []string{"카테고리"}},
}

// labelPatterns holds the precompiled (jp-variant|ko-variant) alternation for
// each lexicon key.
var labelPatterns = map[string]*regexp.Regexp{}

// koToJP maps Korean variants to their Japanese report-language equivalents.
// koOrder holds its keys longest first so overlapping terms ("무료배송"
// contains "배송") are always rewritten before their substrings.
var (
	koToJP  = map[string]string{}
	koOrder []string
)

func init() {
	for key, e := range lexicon {
		variants := make([]string, 0, len(e.jp)+len(e.ko))
		for _, v := range e.jp {
			variants = append(variants, regexp.QuoteMeta(v))
		}
		for _, v := range e.ko {
			variants = append(variants, regexp.QuoteMeta(v))
		}
		labelPatterns[key] = regexp.MustCompile("(" + strings.Join(variants, "|") + ")")

		if len(e.jp) > 0 {
			for _, v := range e.ko {
				koToJP[v] = e.jp[0]
			}
		}
	}

	koOrder = make([]string, 0, len(koToJP))
	for k := range koToJP {
		koOrder = append(koOrder, k)
	}
	sort.Slice(koOrder, func(i, j int) bool {
		if len(koOrder[i]) != len(koOrder[j]) {
			return len(koOrder[i]) > len(koOrder[j])
		}
		return koOrder[i] < koOrder[j]
	})
}

// labelPattern returns the precompiled alternation for a lexicon key, nil
// when the key is unknown.
func labelPattern(key string) *regexp.Regexp {
	return labelPatterns[key]
}

// compileAlt builds a (variant|variant|…) alternation over parallel-language
// terms.
func compileAlt(variants ...string) *regexp.Regexp {
	quoted := make([]string, len(variants))
	for i, v := range variants {
		quoted[i] = regexp.QuoteMeta(v)
	}
	return regexp.MustCompile("(" + strings.Join(quoted, "|") + ")")
}

// translateToReportLanguage rewrites Korean lexicon terms to their Japanese
// equivalents. Non-lexicon text passes through untouched.
func translateToReportLanguage(s string) string {
	for _, ko := range koOrder {
		s = strings.ReplaceAll(s, ko, koToJP[ko])
	}
	return s
}

var (
	digitsRe   = regexp.MustCompile(`\d[\d,]*`)
	ratingRe   = regexp.MustCompile(`([0-5](?:\.\d)?)\s*(?:/\s*5|点|점)?`)
	currencyRe = regexp.MustCompile(`([\d,]+)\s*(?:円|원|¥|₩)`)
)

// parseNumber extracts the first integer from free text, tolerating digit
// grouping. ok is false when no digits are present.
func parseNumber(s string) (int, bool) {
	m := digitsRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// parsePrice extracts a currency amount, preferring explicitly denominated
// values over bare digit runs.
func parsePrice(s string) (int, bool) {
	if m := currencyRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
		if err == nil {
			return n, true
		}
	}
	return parseNumber(s)
}

// parseRating extracts a 0-5 rating from review text.
func parseRating(s string) (float64, bool) {
	m := ratingRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// JapaneseRatio is the share of Japanese script characters among all letters.
func JapaneseRatio(s string) float64 {
	letters, japanese := 0, 0
	for _, r := range s {
		switch {
		case r >= 0x3040 && r <= 0x30FF: // hiragana + katakana
			letters++
			japanese++
		case r >= 0x4E00 && r <= 0x9FFF: // CJK unified
			letters++
			japanese++
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			letters++
		case r >= 0xAC00 && r <= 0xD7AF: // hangul
			letters++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(japanese) / float64(letters)
}
