package scrape

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/benjamincozon/shoplens/internal/learn"
	"github.com/benjamincozon/shoplens/internal/models"
)

// learnedSelectorLimit is the number of top-ranked learned selectors tried
// after (or, for priority fields, before) the hard-coded defaults.
const learnedSelectorLimit = 5

// Parser turns fetched HTML into a normalized record plus a page-structure
// fingerprint. Extraction rules are tried defaults-first, then the
// performance store's learned selectors, then a field heuristic; every
// attempt outcome is recorded back to the store.
type Parser struct {
	store learn.Store
	log   zerolog.Logger
}

func NewParser(store learn.Store, log zerolog.Logger) *Parser {
	return &Parser{store: store, log: log}
}

// ParseProduct extracts a product record from a product page.
func (p *Parser) ParseProduct(ctx context.Context, pageHTML, rawURL string, source models.Source) (*models.Product, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, &ExtractionError{URL: rawURL, Err: fmt.Errorf("parse html: %w", err)}
	}

	code, _ := ProductCode(rawURL)
	canonical := rawURL
	if code != "" {
		if c, err := CanonicalProductURL(rawURL); err == nil {
			canonical = c
		}
	}

	priority := p.priorityFields(ctx)

	name := p.extractOne(ctx, doc, FieldName, priority)
	if name == "" {
		name = titleHeuristic(doc)
		if name != "" {
			p.record(ctx, FieldName, "heuristic:title", true, 0.5)
		}
	}
	if code == "" && name == "" {
		return nil, &ExtractionError{URL: rawURL, Err: fmt.Errorf("neither code nor name derivable")}
	}

	prod := &models.Product{
		URL:    canonical,
		Source: source,
		Code:   code,
		Name:   cleanText(name),
	}

	prod.Price = p.extractPrice(ctx, doc, priority)
	prod.Images = p.extractImages(ctx, doc, rawURL, priority)
	prod.Description = p.extractDescription(ctx, doc, priority)
	prod.SearchKeywords = p.extractKeywords(ctx, doc, priority)
	prod.Reviews = p.extractReviews(ctx, doc, priority)
	prod.Seller = p.extractSeller(ctx, doc, priority)
	prod.Shipping = p.extractShipping(ctx, doc, priority)
	prod.Points = p.extractPoints(ctx, doc, priority)
	prod.Coupon = p.extractCoupon(ctx, doc, priority)
	prod.Category = cleanText(p.extractOne(ctx, doc, FieldCategory, priority))
	prod.Brand = cleanText(p.extractOne(ctx, doc, FieldBrand, priority))
	prod.IsPromoted = querySelector(doc, "span.ad-badge") != nil
	prod.PageStructure = ScanStructure(doc)

	return prod, nil
}

// ParseShop extracts a shop record from a shop page.
func (p *Parser) ParseShop(ctx context.Context, pageHTML, rawURL string, source models.Source) (*models.Shop, error) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return nil, &ExtractionError{URL: rawURL, Err: fmt.Errorf("parse html: %w", err)}
	}

	slug, _ := ShopSlug(rawURL)
	name := cleanText(p.tryRules(ctx, doc, FieldShopName, shopRules[FieldShopName]))
	if name == "" {
		name = titleHeuristic(doc)
	}
	if slug == "" && name == "" {
		return nil, &ExtractionError{URL: rawURL, Err: fmt.Errorf("neither shop id nor name derivable")}
	}

	shop := &models.Shop{
		URL:    rawURL,
		Source: source,
		ID:     slug,
		Name:   name,
		Level:  sellerLevel(p.tryRules(ctx, doc, FieldShopLevel, shopRules[FieldShopLevel])),
	}

	if n, ok := parseNumber(p.tryRules(ctx, doc, FieldShopFollowers, shopRules[FieldShopFollowers])); ok {
		shop.FollowerCount = n
	}

	// Product tiles: any anchor pointing at a short product path.
	shop.Categories = make(map[string]int)
	seen := map[string]bool{}
	for _, a := range querySelectorAll(doc, "a", 0) {
		href := nodeAttr(a, "href")
		m := shortPathRe.FindStringSubmatch(hrefPath(href))
		if m == nil {
			continue
		}
		code := m[1]
		if seen[code] {
			continue
		}
		seen[code] = true
		lite := models.ProductLite{Code: code, Name: cleanText(nodeText(a))}
		if img := querySelector(a, "img"); img != nil {
			lite.ImageURL = AbsoluteURL(rawURL, imageSrc(img))
		}
		if n, ok := parsePrice(nodeText(a)); ok && n >= models.MinValidPrice && n <= models.MaxValidPrice {
			lite.Price = n
		}
		shop.Products = append(shop.Products, lite)
	}
	shop.ProductCount = len(shop.Products)

	for _, c := range querySelectorAll(doc, "ul.shop-category li", 0) {
		label := cleanText(nodeText(c))
		if label == "" {
			continue
		}
		count, _ := parseNumber(label)
		name := digitsRe.ReplaceAllString(label, "")
		name = strings.TrimSpace(strings.Trim(strings.TrimSpace(name), "()"))
		if name != "" {
			shop.Categories[name] = count
		}
	}

	for _, c := range querySelectorAll(doc, "div.coupon-info", 0) {
		text := nodeText(c)
		sc := models.ShopCoupon{Kind: couponKind(text), Description: cleanText(text)}
		if n, ok := parsePrice(text); ok {
			sc.MaxDiscount = n
		}
		shop.Coupons = append(shop.Coupons, sc)
	}

	shop.PageStructure = ScanStructure(doc)
	return shop, nil
}

// Field extraction plumbing

// priorityFields asks the store which fields currently have the most open
// mismatch reports; learned selectors jump ahead of defaults for those.
func (p *Parser) priorityFields(ctx context.Context) map[string]bool {
	fields, err := p.store.PriorityFields(ctx, 10)
	if err != nil {
		p.log.Debug().Err(err).Msg("priority fields unavailable")
		return nil
	}
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// extractOne runs the rule ladder for a single-valued field.
func (p *Parser) extractOne(ctx context.Context, doc *html.Node, field string, priority map[string]bool) string {
	values := p.extractMulti(ctx, doc, field, priority, 1)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// extractMulti runs the rule ladder and returns up to max values (0 = all).
func (p *Parser) extractMulti(ctx context.Context, doc *html.Node, field string, priority map[string]bool, max int) []string {
	defaults := defaultRules[field]
	learned := p.learnedRules(ctx, field)

	order := append(append([]Rule{}, defaults...), learned...)
	if priority[field] {
		order = append(append([]Rule{}, learned...), defaults...)
	}

	for _, rule := range order {
		values := applyRule(doc, rule, max)
		if len(values) > 0 {
			p.record(ctx, field, ruleKey(rule), true, 1.0)
			return values
		}
		p.record(ctx, field, ruleKey(rule), false, 0)
	}
	return nil
}

// tryRules is extractMulti without the learned ladder, for shop fields.
func (p *Parser) tryRules(ctx context.Context, doc *html.Node, field string, rules []Rule) string {
	for _, rule := range rules {
		values := applyRule(doc, rule, 1)
		if len(values) > 0 {
			p.record(ctx, field, ruleKey(rule), true, 1.0)
			return values[0]
		}
		p.record(ctx, field, ruleKey(rule), false, 0)
	}
	return ""
}

// learnedRules converts the store's ranked selector stats back into rules.
func (p *Parser) learnedRules(ctx context.Context, field string) []Rule {
	stats, err := p.store.BestSelectors(ctx, field, learnedSelectorLimit)
	if err != nil {
		return nil
	}
	known := make(map[string]bool)
	for _, r := range defaultRules[field] {
		known[ruleKey(r)] = true
	}
	var rules []Rule
	for _, st := range stats {
		if known[st.Key] || strings.HasPrefix(st.Key, "heuristic:") {
			continue
		}
		sel, attr := st.Key, ""
		if i := strings.IndexByte(st.Key, '@'); i >= 0 {
			sel, attr = st.Key[:i], st.Key[i+1:]
		}
		rules = append(rules, Rule{Name: "learned", Selector: sel, Attr: attr})
	}
	return rules
}

func (p *Parser) record(ctx context.Context, field, key string, success bool, quality float64) {
	if err := p.store.RecordSelector(ctx, field, key, success, quality); err != nil {
		// Learning is best-effort; a storage error never fails extraction.
		p.log.Warn().Err(err).Str("field", field).Msg("record selector")
	}
}

// ruleKey is the identity a rule is learned under: the selector, with the
// attribute appended when extraction reads an attribute instead of text.
func ruleKey(r Rule) string {
	if r.Attr != "" {
		return r.Selector + "@" + r.Attr
	}
	return r.Selector
}

// applyRule evaluates one rule against the document.
func applyRule(doc *html.Node, r Rule, max int) []string {
	nodes := querySelectorAll(doc, r.Selector, max)
	var out []string
	for _, n := range nodes {
		var v string
		if r.Attr != "" {
			v = nodeAttr(n, r.Attr)
		} else {
			v = nodeText(n)
		}
		if r.Pattern != nil {
			m := r.Pattern.FindStringSubmatch(v)
			if m == nil {
				continue
			}
			if len(m) > 1 {
				v = m[1]
			} else {
				v = m[0]
			}
		}
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Field-specific assembly

func (p *Parser) extractPrice(ctx context.Context, doc *html.Node, priority map[string]bool) models.Price {
	var price models.Price

	if text := p.extractOne(ctx, doc, FieldPriceSale, priority); text != "" {
		if n, ok := parsePrice(text); ok && n >= models.MinValidPrice && n <= models.MaxValidPrice {
			price.Sale = &n
		}
	}
	if price.Sale == nil {
		// Heuristic: first denominated amount in the whole document body.
		if n, ok := parsePrice(nodeText(doc)); ok && n >= models.MinValidPrice && n <= models.MaxValidPrice {
			price.Sale = &n
			p.record(ctx, FieldPriceSale, "heuristic:body_price", true, 0.5)
		}
	}

	if text := p.extractOne(ctx, doc, FieldPriceOriginal, priority); text != "" {
		if n, ok := parsePrice(text); ok && n >= models.MinValidPrice && n <= models.MaxValidPrice {
			price.Original = &n
		}
	}

	// original < sale is contradictory; trust the sale price.
	if price.Sale != nil && price.Original != nil && *price.Original < *price.Sale {
		price.Original = nil
	}
	price.DiscountRate = models.ComputeDiscountRate(price.Sale, price.Original)
	return price
}

func (p *Parser) extractImages(ctx context.Context, doc *html.Node, pageURL string, priority map[string]bool) models.Images {
	var images models.Images

	if thumb := p.extractOne(ctx, doc, FieldThumbnail, priority); thumb != "" {
		images.Thumbnail = AbsoluteURL(pageURL, thumb)
	}

	seen := make(map[string]bool)
	for _, src := range p.extractMulti(ctx, doc, FieldDetailImages, priority, 0) {
		abs := AbsoluteURL(pageURL, src)
		if abs == "" || seen[abs] || excludedImagePath.MatchString(abs) {
			continue
		}
		seen[abs] = true
		images.Detail = append(images.Detail, abs)
	}
	return images
}

func (p *Parser) extractDescription(ctx context.Context, doc *html.Node, priority map[string]bool) string {
	if desc := p.extractOne(ctx, doc, FieldDescription, priority); desc != "" {
		return cleanText(desc)
	}
	// Heuristic: longest visible text block among divs.
	best := ""
	forEachElement(doc, "div", func(n *html.Node) bool {
		if t := nodeText(n); len(t) > len(best) {
			best = t
		}
		return true
	})
	if len(best) >= 50 {
		p.record(ctx, FieldDescription, "heuristic:longest_block", true, 0.5)
		return cleanText(best)
	}
	return ""
}

func (p *Parser) extractKeywords(ctx context.Context, doc *html.Node, priority map[string]bool) []string {
	raw := p.extractMulti(ctx, doc, FieldKeywords, priority, 0)
	seen := make(map[string]bool)
	var out []string
	for _, chunk := range raw {
		for _, kw := range strings.FieldsFunc(chunk, func(r rune) bool {
			return r == ',' || r == '、' || r == ';'
		}) {
			kw = cleanText(kw)
			if kw != "" && !seen[kw] {
				seen[kw] = true
				out = append(out, kw)
			}
		}
	}
	return out
}

func (p *Parser) extractReviews(ctx context.Context, doc *html.Node, priority map[string]bool) models.Reviews {
	var r models.Reviews
	if text := p.extractOne(ctx, doc, FieldReviewRating, priority); text != "" {
		if v, ok := parseRating(text); ok {
			r.Rating = v
		}
	}
	if text := p.extractOne(ctx, doc, FieldReviewCount, priority); text != "" {
		if n, ok := parseNumber(text); ok {
			r.Count = n
		}
	}
	for _, s := range p.extractMulti(ctx, doc, FieldReviewSample, priority, 10) {
		r.Sample = append(r.Sample, cleanText(s))
	}
	return r
}

func (p *Parser) extractSeller(ctx context.Context, doc *html.Node, priority map[string]bool) models.Seller {
	return models.Seller{
		Name:  cleanText(p.extractOne(ctx, doc, FieldSellerName, priority)),
		Level: sellerLevel(p.extractOne(ctx, doc, FieldSellerLevel, priority)),
	}
}

func sellerLevel(text string) models.SellerLevel {
	for _, kw := range sellerLevelKeywords {
		if kw.pattern.MatchString(text) {
			return models.SellerLevel(kw.level)
		}
	}
	return models.SellerUnknown
}

func (p *Parser) extractShipping(ctx context.Context, doc *html.Node, priority map[string]bool) models.Shipping {
	s := models.Shipping{ReturnPolicy: models.ReturnNone}
	text := p.extractOne(ctx, doc, FieldShipping, priority)
	if text == "" {
		return s
	}
	if labelPattern("free_shipping").MatchString(text) {
		free, zero := true, 0
		s.Free = &free
		s.Fee = &zero
	} else if n, ok := parsePrice(text); ok && n >= 0 {
		s.Fee = &n
		free := n == 0
		s.Free = &free
	}
	switch {
	case labelPattern("return").MatchString(text) && (strings.Contains(text, "無料") || strings.Contains(text, "무료")):
		s.ReturnPolicy = models.ReturnFree
	case labelPattern("return").MatchString(text):
		s.ReturnPolicy = models.ReturnAvailable
	}
	return s
}

var (
	pointsReceiveRe = compileAlt("受取確認", "수취확인")
	pointsReviewRe  = compileAlt("レビュー", "리뷰")
	pointsAutoRe    = compileAlt("自動", "자동")
)

func (p *Parser) extractPoints(ctx context.Context, doc *html.Node, priority map[string]bool) models.Points {
	var pts models.Points
	text := p.extractOne(ctx, doc, FieldPoints, priority)
	if text == "" {
		return pts
	}
	// Point values must be non-negative; parseNumber never yields negatives.
	if n, ok := parseNumber(text); ok {
		pts.Max = &n
	}
	for _, seg := range strings.Split(text, " ") {
		n, ok := parseNumber(seg)
		if !ok {
			continue
		}
		v := n
		switch {
		case pointsReceiveRe.MatchString(seg):
			pts.ReceiveConfirm = &v
		case pointsReviewRe.MatchString(seg):
			pts.ReviewBonus = &v
		case pointsAutoRe.MatchString(seg):
			pts.Auto = &v
		}
	}
	return pts
}

func (p *Parser) extractCoupon(ctx context.Context, doc *html.Node, priority map[string]bool) models.Coupon {
	c := models.Coupon{Kind: models.CouponNone}
	text := p.extractOne(ctx, doc, FieldCoupon, priority)
	if text == "" {
		return c
	}
	c.Present = true
	c.Kind = couponKind(text)
	if n, ok := parsePrice(text); ok && n > 0 {
		c.MaxDiscount = &n
	}
	return c
}

var (
	couponFavoriteRe = compileAlt("お気に入り", "즐겨찾기")
	couponPasswordRe = compileAlt("パスワード", "비밀번호")
)

func couponKind(text string) models.CouponKind {
	switch {
	case couponFavoriteRe.MatchString(text):
		return models.CouponFavorite
	case couponPasswordRe.MatchString(text):
		return models.CouponPassword
	default:
		return models.CouponAuto
	}
}

// Helpers

// titleHeuristic derives a name from the page <title>, stripping the
// marketplace suffix after separators.
func titleHeuristic(doc *html.Node) string {
	t := querySelector(doc, "title")
	if t == nil {
		return ""
	}
	title := nodeText(t)
	for _, sep := range []string{"|", " - ", "–", "::"} {
		if i := strings.Index(title, sep); i > 0 {
			title = title[:i]
		}
	}
	return strings.TrimSpace(title)
}

// cleanText NFC-normalizes and translates an extracted string to the report
// language.
func cleanText(s string) string {
	return translateToReportLanguage(norm.NFC.String(strings.TrimSpace(s)))
}

func imageSrc(n *html.Node) string {
	if src := nodeAttr(n, "src"); src != "" {
		return src
	}
	return nodeAttr(n, "data-src")
}

func hrefPath(href string) string {
	if i := strings.Index(href, "://"); i >= 0 {
		rest := href[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return rest[j:]
		}
		return "/"
	}
	return href
}
