package models

import (
	"math"
	"time"
)

// URLKind classifies a submitted marketplace URL.
type URLKind string

const (
	URLKindProduct URLKind = "product"
	URLKindShop    URLKind = "shop"
	URLKindUnknown URLKind = "unknown"
)

// Source identifies how a record was obtained.
type Source string

const (
	SourceHTMLFetch Source = "html-fetch"
	SourceJSRender  Source = "js-render"
	SourceAPI       Source = "api"
)

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Progress reports where a running job currently is.
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Job tracks one submitted URL from queued to terminal status.
type Job struct {
	ID        string    `json:"job_id" db:"id"`
	URL       string    `json:"url" db:"url"`
	URLKind   URLKind   `json:"url_kind" db:"url_kind"`
	Status    JobStatus `json:"status" db:"status"`
	Progress  Progress  `json:"progress"`
	Result    *Report   `json:"result,omitempty"`
	Error     *string   `json:"error,omitempty" db:"error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Report is the final artifact of a completed job.
type Report struct {
	Product           *Product           `json:"product,omitempty"`
	Shop              *Shop              `json:"shop,omitempty"`
	AnalyzerResult    *AnalyzerResult    `json:"analyzer_result,omitempty"`
	Recommendations   []Recommendation   `json:"recommendations"`
	ChecklistOutcome  *ChecklistOutcome  `json:"checklist_outcome,omitempty"`
	ValidationOutcome *ValidationOutcome `json:"validation_outcome,omitempty"`
	DataSource        Source             `json:"data_source"`
	GeneratedAt       time.Time          `json:"generated_at"`
}

// SellerLevel is the marketplace's seller grade.
type SellerLevel string

const (
	SellerPower     SellerLevel = "power"
	SellerExcellent SellerLevel = "excellent"
	SellerNormal    SellerLevel = "normal"
	SellerUnknown   SellerLevel = "unknown"
)

// ReturnPolicy describes the listing's return terms.
type ReturnPolicy string

const (
	ReturnFree      ReturnPolicy = "free_return"
	ReturnAvailable ReturnPolicy = "return_available"
	ReturnNone      ReturnPolicy = "none"
)

// CouponKind distinguishes how a coupon is granted.
type CouponKind string

const (
	CouponAuto     CouponKind = "auto"
	CouponFavorite CouponKind = "favorite"
	CouponPassword CouponKind = "password"
	CouponNone     CouponKind = "none"
)

// Price bounds considered plausible for a single listing.
const (
	MinValidPrice = 100
	MaxValidPrice = 1_000_000
)

// Price holds the listing's sale and original price in whole currency units.
type Price struct {
	Sale         *int `json:"sale,omitempty"`
	Original     *int `json:"original,omitempty"`
	DiscountRate int  `json:"discount_rate"`
}

// ComputeDiscountRate derives the rounded percentage discount, 0 when either
// side is absent.
func ComputeDiscountRate(sale, original *int) int {
	if sale == nil || original == nil || *original <= 0 {
		return 0
	}
	return int(math.Round(float64(*original-*sale) / float64(*original) * 100))
}

// Images holds the thumbnail and detail image URLs. Detail URLs are absolute.
type Images struct {
	Thumbnail string   `json:"thumbnail,omitempty"`
	Detail    []string `json:"detail"`
}

// Reviews summarizes the listing's review block.
type Reviews struct {
	Rating float64  `json:"rating"`
	Count  int      `json:"count"`
	Sample []string `json:"sample,omitempty"`
}

// Seller identifies the shop behind a listing.
type Seller struct {
	ID    string      `json:"id,omitempty"`
	Name  string      `json:"name,omitempty"`
	Level SellerLevel `json:"level"`
}

// Shipping describes fee, free-shipping flag and return terms.
type Shipping struct {
	Fee          *int         `json:"fee,omitempty"`
	Free         *bool        `json:"free,omitempty"`
	ReturnPolicy ReturnPolicy `json:"return_policy"`
}

// Points captures the marketplace point incentives on a listing.
type Points struct {
	Max            *int `json:"max,omitempty"`
	ReceiveConfirm *int `json:"receive_confirm,omitempty"`
	ReviewBonus    *int `json:"review_bonus,omitempty"`
	Auto           *int `json:"auto,omitempty"`
}

// Coupon captures the coupon offered on a listing, if any.
type Coupon struct {
	Present     bool       `json:"present"`
	Kind        CouponKind `json:"kind"`
	MaxDiscount *int       `json:"max_discount,omitempty"`
}

// Product is the normalized scrape output for a product page.
type Product struct {
	URL            string         `json:"url"`
	Source         Source         `json:"source"`
	Code           string         `json:"code"`
	Name           string         `json:"name"`
	Category       string         `json:"category,omitempty"`
	Brand          string         `json:"brand,omitempty"`
	Price          Price          `json:"price"`
	Images         Images         `json:"images"`
	Description    string         `json:"description"`
	SearchKeywords []string       `json:"search_keywords"`
	Reviews        Reviews        `json:"reviews"`
	Seller         Seller         `json:"seller"`
	Shipping       Shipping       `json:"shipping"`
	Points         Points         `json:"points"`
	Coupon         Coupon         `json:"coupon"`
	IsPromoted     bool           `json:"is_promoted"`
	PageStructure  *PageStructure `json:"page_structure,omitempty"`
}

// ProductLite is the compact product row shown on a shop page.
type ProductLite struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Price    int    `json:"price"`
	ImageURL string `json:"image_url,omitempty"`
}

// ShopCoupon is a coupon advertised at shop level.
type ShopCoupon struct {
	Kind        CouponKind `json:"kind"`
	MaxDiscount int        `json:"max_discount"`
	Description string     `json:"description,omitempty"`
}

// Shop is the normalized scrape output for a shop page.
type Shop struct {
	URL           string         `json:"url"`
	Source        Source         `json:"source"`
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Level         SellerLevel    `json:"level"`
	FollowerCount int            `json:"follower_count"`
	ProductCount  int            `json:"product_count"`
	Categories    map[string]int `json:"categories,omitempty"`
	Products      []ProductLite  `json:"products,omitempty"`
	Coupons       []ShopCoupon   `json:"coupons,omitempty"`
	PageStructure *PageStructure `json:"page_structure,omitempty"`
}

// ClassFreq pairs a DOM class with its occurrence count on the page.
type ClassFreq struct {
	Class string `json:"class"`
	Freq  int    `json:"freq"`
}

// PageStructure is a compressed fingerprint of a page's DOM class usage.
type PageStructure struct {
	AllClasses        []string               `json:"all_classes"`
	ClassFrequency    map[string]int         `json:"class_frequency"`
	KeyElements       map[string][]ClassFreq `json:"key_elements"`
	SemanticStructure map[string][]ClassFreq `json:"semantic_structure"`
}

// ClassesForField returns the structure snippet bound to a logical field,
// nil when the fingerprint carries nothing for it.
func (ps *PageStructure) ClassesForField(field string) []ClassFreq {
	if ps == nil {
		return nil
	}
	return ps.SemanticStructure[field]
}

// DimensionScore is one analyzer dimension's bounded score plus findings.
type DimensionScore struct {
	Score           int      `json:"score"`
	Findings        []string `json:"findings"`
	Recommendations []string `json:"recommendations"`
}

// DerivedFields is the analyzer's snapshot of record fields it scored from.
// The validator reconciles these against the record itself.
type DerivedFields struct {
	Name              string   `json:"name"`
	SalePrice         *int     `json:"sale_price,omitempty"`
	OriginalPrice     *int     `json:"original_price,omitempty"`
	ReviewCount       int      `json:"review_count"`
	Rating            float64  `json:"rating"`
	ImageCount        int      `json:"image_count"`
	DescriptionLength int      `json:"description_length"`
	HasPoints         bool     `json:"has_points"`
	HasCoupon         bool     `json:"has_coupon"`
	HasShipping       bool     `json:"has_shipping"`
	Keywords          []string `json:"keywords,omitempty"`
}

// AnalyzerResult carries per-dimension scores and the weighted overall score.
type AnalyzerResult struct {
	OverallScore  int            `json:"overall_score"`
	Images        DimensionScore `json:"images"`
	Description   DimensionScore `json:"description"`
	Price         DimensionScore `json:"price"`
	Reviews       DimensionScore `json:"reviews"`
	SEO           DimensionScore `json:"seo"`
	PageStructure DimensionScore `json:"page_structure"`
	Derived       DerivedFields  `json:"derived"`
}

// Priority orders recommendations and mismatch severities.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Recommendation is one concrete improvement action.
type Recommendation struct {
	ID               string      `json:"id"`
	Category         string      `json:"category"`
	Priority         Priority    `json:"priority"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	ActionItems      []string    `json:"action_items"`
	ExpectedImpact   string      `json:"expected_impact"`
	Difficulty       string      `json:"difficulty"`
	EstimatedTime    string      `json:"estimated_time"`
	StructureMapping []ClassFreq `json:"structure_mapping,omitempty"`
}

// ItemStatus is the evaluation state of one checklist item.
type ItemStatus string

const (
	ItemCompleted ItemStatus = "completed"
	ItemPending   ItemStatus = "pending"
	ItemManual    ItemStatus = "manual"
)

// Confidence grades how much the evaluator trusted its inputs.
type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceUnknown Confidence = "unknown"
)

// ChecklistItem is one evaluated catalog entry.
type ChecklistItem struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Status           ItemStatus  `json:"status"`
	AutoChecked      bool        `json:"auto_checked"`
	Recommendation   string      `json:"recommendation,omitempty"`
	Confidence       Confidence  `json:"confidence"`
	StructureMapping []ClassFreq `json:"structure_mapping,omitempty"`
}

// ChecklistCategory groups items and their completion percentage.
type ChecklistCategory struct {
	Name       string          `json:"name"`
	Completion int             `json:"completion"`
	Items      []ChecklistItem `json:"items"`
}

// ChecklistOutcome is the full checklist evaluation for one record.
type ChecklistOutcome struct {
	OverallCompletion int                 `json:"overall_completion"`
	Categories        []ChecklistCategory `json:"categories"`
}

// Mismatch records one drift between the record and a derived field.
type Mismatch struct {
	Field        string   `json:"field"`
	SourceValue  string   `json:"source_value"`
	DerivedValue string   `json:"derived_value"`
	Severity     Priority `json:"severity"`
	Corrected    bool     `json:"corrected"`
}

// MissingItem flags record data the checklist never credited.
type MissingItem struct {
	Field           string   `json:"field"`
	ChecklistItemID string   `json:"checklist_item_id"`
	Severity        Priority `json:"severity"`
}

// ValidationOutcome is the reconciler's verdict on a finished pipeline run.
type ValidationOutcome struct {
	Valid           bool          `json:"valid"`
	Score           int           `json:"score"`
	Mismatches      []Mismatch    `json:"mismatches"`
	Missing         []MissingItem `json:"missing"`
	CorrectedFields []string      `json:"corrected_fields"`
}

// Stat is one selector/user-agent/proxy performance counter row.
type Stat struct {
	Key        string    `json:"key" db:"key"`
	Successes  int       `json:"successes" db:"successes"`
	Failures   int       `json:"failures" db:"failures"`
	QualityEMA float64   `json:"quality_ema" db:"quality_ema"`
	LatencyEMA float64   `json:"latency_ema" db:"latency_ema"`
	LastUsed   time.Time `json:"last_used" db:"last_used"`
}

// Score is the Laplace-smoothed success rate used for bandit ranking.
func (s Stat) Score() float64 {
	return float64(s.Successes) / float64(s.Successes+s.Failures+1)
}

// ChunkContext ties a chunk back to the page it was observed on.
type ChunkContext struct {
	URL  string `json:"url"`
	Code string `json:"code"`
}

// Chunk is a field-bound page-structure snippet reused as an extraction hint.
type Chunk struct {
	Field            string         `json:"field"`
	ExtractionMethod string         `json:"extraction_method"`
	SelectorPattern  string         `json:"selector_pattern,omitempty"`
	RelatedClasses   []string       `json:"related_classes"`
	ClassFrequency   map[string]int `json:"class_frequency,omitempty"`
	ElementPresent   bool           `json:"element_present"`
	Context          ChunkContext   `json:"context"`
	CreatedAt        time.Time      `json:"created_at"`
}

// ErrorReport is a user-reported extraction mismatch against a completed job.
type ErrorReport struct {
	ID        string    `json:"id" db:"id"`
	JobID     string    `json:"job_id" db:"job_id"`
	Field     string    `json:"field" db:"field"`
	Detail    string    `json:"detail,omitempty" db:"detail"`
	Status    string    `json:"status" db:"status"` // open, resolved
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FetchOutcome is one fetch attempt's result, recorded for learning.
type FetchOutcome struct {
	URL       string `json:"url"`
	Success   bool   `json:"success"`
	RTMillis  int64  `json:"rt_ms"`
	Status    int    `json:"status"`
	UserAgent string `json:"user_agent"`
	Proxy     string `json:"proxy,omitempty"`
	Retries   int    `json:"retries"`
}

// StageRecord is one pipeline stage execution sample.
type StageRecord struct {
	JobID      string            `json:"job_id"`
	URL        string            `json:"url"`
	URLKind    URLKind           `json:"url_kind"`
	Stage      string            `json:"stage"`
	Status     string            `json:"status"` // success, failure
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"ts"`
}
