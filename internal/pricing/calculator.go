package pricing

import (
	"math"
	"strings"
	"time"

	"github.com/driventa/quotation-service/internal/model"
)

// Totals is the full breakdown of one calculation. All values are integer
// minor units. Callers (PDF, UI) display every line, not just FinalTotal.
type Totals struct {
	ServiceBaseTotal      int64
	ServiceTimeAdjustment int64
	ServiceTotal          int64
	PackageTotal          int64
	BaseTotal             int64
	RegularDiscount       int64
	PromotionDiscount     int64
	TotalDiscount         int64
	Subtotal              int64
	TaxAmount             int64
	FinalTotal            int64
}

// Calculate computes the totals breakdown for a set of line items plus
// attached packages. Pure and deterministic; malformed items are expected
// to be rejected upstream.
//
// Charter-type items are priced by duration only: unit_price × service_days,
// quantity ignored. Every other item is unit_price × quantity × service_days,
// where a zero quantity counts as one. Discounts never push the subtotal
// below zero.
func Calculate(
	items []model.QuotationItem,
	packages []model.PricingPackage,
	discountPercentage float64,
	taxPercentage float64,
	promotionDiscount int64,
) Totals {
	var t Totals

	for _, item := range items {
		base := ItemBasePrice(item)
		t.ServiceBaseTotal += base
		if item.TimeBasedAdjustment != nil {
			t.ServiceTimeAdjustment += percentOf(base, *item.TimeBasedAdjustment)
		}
	}
	t.ServiceTotal = t.ServiceBaseTotal + t.ServiceTimeAdjustment

	for _, pkg := range packages {
		t.PackageTotal += pkg.BasePrice
	}
	t.BaseTotal = t.ServiceTotal + t.PackageTotal

	t.RegularDiscount = percentOf(t.BaseTotal, discountPercentage)
	t.PromotionDiscount = promotionDiscount
	t.TotalDiscount = t.PromotionDiscount + t.RegularDiscount

	t.Subtotal = t.BaseTotal - t.TotalDiscount
	if t.Subtotal < 0 {
		t.Subtotal = 0
	}

	t.TaxAmount = percentOf(t.Subtotal, taxPercentage)
	t.FinalTotal = t.Subtotal + t.TaxAmount
	return t
}

// ItemBasePrice returns the item's contribution before time-based adjustment.
// An unset quantity resolves to one rather than zeroing the line out.
func ItemBasePrice(item model.QuotationItem) int64 {
	days := int64(item.ServiceDays)
	if IsCharter(item.ServiceTypeName) {
		return item.UnitPrice * days
	}
	quantity := int64(item.Quantity)
	if quantity == 0 {
		quantity = 1
	}
	return item.UnitPrice * quantity * days
}

// IsCharter matches the service-type label against the charter pricing
// category, case-insensitively.
func IsCharter(serviceTypeName string) bool {
	return strings.Contains(strings.ToLower(serviceTypeName), "charter")
}

// PromotionAmount resolves a promotion into the absolute discount amount the
// calculator expects. Inactive or out-of-window promotions and promotions
// whose minimum order value is not met contribute nothing.
func PromotionAmount(promo model.PricingPromotion, baseTotal int64, now time.Time) int64 {
	if !promo.ActiveAt(now) {
		return 0
	}
	if promo.MinimumAmount != nil && baseTotal < *promo.MinimumAmount {
		return 0
	}

	var amount int64
	switch promo.DiscountType {
	case model.DiscountTypePercentage:
		amount = percentOf(baseTotal, promo.DiscountValue)
	case model.DiscountTypeFixedAmount:
		amount = int64(math.Round(promo.DiscountValue))
	}
	if promo.MaximumDiscount != nil && amount > *promo.MaximumDiscount {
		amount = *promo.MaximumDiscount
	}
	if amount < 0 {
		return 0
	}
	return amount
}

// percentOf applies a percentage to minor units, rounding half away from
// zero. Rounding happens at every named stage so each displayed breakdown
// line matches the stored value exactly.
func percentOf(amount int64, percentage float64) int64 {
	return int64(math.Round(float64(amount) * percentage / 100))
}
