package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/benjamincozon/shoplens/internal/learn"
	"github.com/benjamincozon/shoplens/internal/models"
)

// Checklist items credited for presence-only fields.
var presenceChecklistIDs = map[string]string{
	"points":   "ops_points",
	"coupon":   "promo_coupon",
	"shipping": "ops_shipping_free",
}

// structureField maps a validated field to its semantic fingerprint bucket.
var structureField = map[string]string{
	"name":               "name",
	"price_sale":         "price",
	"price_original":     "price",
	"review_count":       "review",
	"rating":             "review",
	"image_count":        "image",
	"description_length": "description",
	"points":             "points",
	"coupon":             "coupon",
	"shipping":           "shipping",
}

// Validator reconciles the crawler's record against the analyzer's derived
// snapshot. Drift is corrected in place on the derived side; every mismatch
// and missing item feeds a chunk back into the learning store.
type Validator struct {
	store learn.Store
	log   zerolog.Logger
}

func NewValidator(store learn.Store, log zerolog.Logger) *Validator {
	return &Validator{store: store, log: log}
}

// ValidateProduct reconciles a product record. The analyzer result is mutated
// in place where its derived fields drifted from the record.
func (v *Validator) ValidateProduct(ctx context.Context, p *models.Product, ar *models.AnalyzerResult, cl *models.ChecklistOutcome) *models.ValidationOutcome {
	out := &models.ValidationOutcome{
		Mismatches:      []models.Mismatch{},
		Missing:         []models.MissingItem{},
		CorrectedFields: []string{},
	}
	if p == nil || ar == nil {
		out.Valid = true
		out.Score = 100
		return out
	}
	d := &ar.Derived

	// A mismatch is recorded only when a pre-existing derived value differed;
	// a missing derived value is corrected silently.
	v.reconcile(ctx, out, p, "name", models.PriorityHigh,
		d.Name != "" && d.Name != p.Name,
		d.Name == "" && p.Name != "",
		d.Name, p.Name,
		func() { d.Name = p.Name })

	v.reconcile(ctx, out, p, "price_sale", models.PriorityHigh,
		d.SalePrice != nil && !intPtrEq(d.SalePrice, p.Price.Sale),
		d.SalePrice == nil && p.Price.Sale != nil,
		fmtIntPtr(d.SalePrice), fmtIntPtr(p.Price.Sale),
		func() { d.SalePrice = copyInt(p.Price.Sale) })

	v.reconcile(ctx, out, p, "price_original", models.PriorityHigh,
		d.OriginalPrice != nil && !intPtrEq(d.OriginalPrice, p.Price.Original),
		d.OriginalPrice == nil && p.Price.Original != nil,
		fmtIntPtr(d.OriginalPrice), fmtIntPtr(p.Price.Original),
		func() { d.OriginalPrice = copyInt(p.Price.Original) })

	v.reconcile(ctx, out, p, "review_count", models.PriorityMedium,
		d.ReviewCount != 0 && d.ReviewCount != p.Reviews.Count,
		d.ReviewCount == 0 && p.Reviews.Count != 0,
		fmt.Sprint(d.ReviewCount), fmt.Sprint(p.Reviews.Count),
		func() { d.ReviewCount = p.Reviews.Count })

	v.reconcile(ctx, out, p, "rating", models.PriorityMedium,
		d.Rating != 0 && d.Rating != p.Reviews.Rating,
		d.Rating == 0 && p.Reviews.Rating != 0,
		fmt.Sprint(d.Rating), fmt.Sprint(p.Reviews.Rating),
		func() { d.Rating = p.Reviews.Rating })

	v.reconcile(ctx, out, p, "image_count", models.PriorityMedium,
		d.ImageCount != 0 && d.ImageCount != len(p.Images.Detail),
		d.ImageCount == 0 && len(p.Images.Detail) != 0,
		fmt.Sprint(d.ImageCount), fmt.Sprint(len(p.Images.Detail)),
		func() { d.ImageCount = len(p.Images.Detail) })

	descLen := len([]rune(p.Description))
	v.reconcile(ctx, out, p, "description_length", models.PriorityMedium,
		d.DescriptionLength != 0 && d.DescriptionLength != descLen,
		d.DescriptionLength == 0 && descLen != 0,
		fmt.Sprint(d.DescriptionLength), fmt.Sprint(descLen),
		func() { d.DescriptionLength = descLen })

	// Presence-only fields are added when the record carries them.
	if p.Points.Max != nil && !d.HasPoints {
		d.HasPoints = true
		out.CorrectedFields = append(out.CorrectedFields, "points")
	}
	if p.Coupon.Present && !d.HasCoupon {
		d.HasCoupon = true
		out.CorrectedFields = append(out.CorrectedFields, "coupon")
	}
	if (p.Shipping.Free != nil || p.Shipping.Fee != nil) && !d.HasShipping {
		d.HasShipping = true
		out.CorrectedFields = append(out.CorrectedFields, "shipping")
	}

	v.checkMissing(ctx, out, p, cl)

	uncorrected := 0
	for _, m := range out.Mismatches {
		if !m.Corrected {
			uncorrected++
		}
	}
	out.Score = 100 - 100*uncorrected/10
	if out.Score < 0 {
		out.Score = 0
	}
	out.Valid = uncorrected == 0 && len(out.Missing) == 0
	return out
}

// reconcile applies one field's drift rule: correct the derived side whenever
// it differs, but record a mismatch only for a pre-existing differing value.
func (v *Validator) reconcile(ctx context.Context, out *models.ValidationOutcome, p *models.Product,
	field string, severity models.Priority, differs, silent bool, derivedVal, sourceVal string, correct func()) {

	switch {
	case differs:
		correct()
		out.Mismatches = append(out.Mismatches, models.Mismatch{
			Field:        field,
			SourceValue:  sourceVal,
			DerivedValue: derivedVal,
			Severity:     severity,
			Corrected:    true,
		})
		out.CorrectedFields = append(out.CorrectedFields, field)
		v.emitChunk(ctx, p, field, "validator-mismatch")
	case silent:
		correct()
		out.CorrectedFields = append(out.CorrectedFields, field)
	}
}

// checkMissing flags record data the checklist never credited as completed.
func (v *Validator) checkMissing(ctx context.Context, out *models.ValidationOutcome, p *models.Product, cl *models.ChecklistOutcome) {
	if cl == nil {
		return
	}
	completed := map[string]bool{}
	for _, cat := range cl.Categories {
		for _, item := range cat.Items {
			if item.Status == models.ItemCompleted {
				completed[item.ID] = true
			}
		}
	}

	present := map[string]bool{
		"points":   p.Points.Max != nil,
		"coupon":   p.Coupon.Present,
		"shipping": (p.Shipping.Free != nil && *p.Shipping.Free) || (p.Shipping.Fee != nil && *p.Shipping.Fee == 0),
	}
	for _, field := range []string{"points", "coupon", "shipping"} {
		itemID := presenceChecklistIDs[field]
		if present[field] && !completed[itemID] {
			out.Missing = append(out.Missing, models.MissingItem{
				Field:           field,
				ChecklistItemID: itemID,
				Severity:        models.PriorityHigh,
			})
			v.emitChunk(ctx, p, field, "validator-missing")
		}
	}
}

// emitChunk stores one field-bound structure snippet as a learning artifact.
// Best-effort: a storage error never fails validation.
func (v *Validator) emitChunk(ctx context.Context, p *models.Product, field, method string) {
	semantic := structureField[field]
	classes := p.PageStructure.ClassesForField(semantic)

	chunk := models.Chunk{
		Field:            field,
		ExtractionMethod: method,
		RelatedClasses:   make([]string, 0, len(classes)),
		ClassFrequency:   map[string]int{},
		ElementPresent:   len(classes) > 0,
		Context:          models.ChunkContext{URL: p.URL, Code: p.Code},
		CreatedAt:        time.Now().UTC(),
	}
	for _, c := range classes {
		chunk.RelatedClasses = append(chunk.RelatedClasses, c.Class)
		chunk.ClassFrequency[c.Class] = c.Freq
	}

	if err := v.store.AddChunk(ctx, chunk); err != nil {
		v.log.Warn().Err(err).Str("field", field).Msg("store validation chunk")
	}
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func fmtIntPtr(p *int) string {
	if p == nil {
		return ""
	}
	return fmt.Sprint(*p)
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
