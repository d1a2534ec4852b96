package model

import (
	"time"

	"github.com/google/uuid"
)

// PricingPackage is a flat add-on from the package catalog. Quotations
// reference packages by id only; BasePrice is in minor units.
type PricingPackage struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name        string
	Description string
	PackageType string
	BasePrice   int64
	Currency    string
	IsActive    bool
	SortOrder   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DiscountType string

const (
	DiscountTypePercentage  DiscountType = "percentage"
	DiscountTypeFixedAmount DiscountType = "fixed_amount"
)

// PricingPromotion is a coded discount looked up at calculation time.
// DiscountValue is a percentage for percentage promotions and minor units
// for fixed-amount promotions.
type PricingPromotion struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name            string
	Description     string
	Code            string `gorm:"uniqueIndex"`
	DiscountType    DiscountType
	DiscountValue   float64
	MaximumDiscount *int64
	MinimumAmount   *int64
	IsActive        bool
	StartDate       *time.Time
	EndDate         *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ActiveAt reports whether the promotion may be applied at the given time.
func (p PricingPromotion) ActiveAt(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.StartDate != nil && now.Before(*p.StartDate) {
		return false
	}
	if p.EndDate != nil && now.After(*p.EndDate) {
		return false
	}
	return true
}
