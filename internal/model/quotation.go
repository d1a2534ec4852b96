package model

import (
	"time"

	"github.com/google/uuid"
)

type QuotationStatus string

const (
	QuotationStatusDraft     QuotationStatus = "draft"
	QuotationStatusSent      QuotationStatus = "sent"
	QuotationStatusApproved  QuotationStatus = "approved"
	QuotationStatusRejected  QuotationStatus = "rejected"
	QuotationStatusPaid      QuotationStatus = "paid"
	QuotationStatusConverted QuotationStatus = "converted"
)

// IsTerminal reports whether no further transition is allowed from the status.
func (s QuotationStatus) IsTerminal() bool {
	return s == QuotationStatusRejected || s == QuotationStatusConverted
}

// Quotation monetary columns hold integer minor units of Currency.
// "expired" is never stored; it is derived from CreatedAt at read time.
type Quotation struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey"`
	QuoteNumber        int64           `gorm:"uniqueIndex"`
	Title              string
	CustomerName       string
	CustomerEmail      string
	CustomerPhone      string
	Currency           string
	Status             QuotationStatus `gorm:"index"`
	DiscountPercentage float64
	TaxPercentage      float64

	// Totals snapshot, refreshed by the pricing calculator on send.
	Amount            int64
	TotalAmount       int64
	PromotionDiscount int64
	PromotionCode     *string

	RejectedReason *string
	PaymentAmount  *int64
	PaymentMethod  *string
	BookingID      *uuid.UUID

	SentAt               *time.Time
	ApprovedAt           *time.Time
	RejectedAt           *time.Time
	PaymentCompletedAt   *time.Time
	ConvertedAt          *time.Time
	MagicLinkGeneratedAt *time.Time
	MagicLinkExpiresAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Items    []QuotationItem  `gorm:"foreignKey:QuotationID"`
	Packages []PricingPackage `gorm:"many2many:quotation_packages"`
}

type QuotationItem struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	QuotationID     uuid.UUID `gorm:"type:uuid;index"`
	Description     string
	ServiceTypeName string
	UnitPrice       int64
	Quantity        int
	ServiceDays     int
	HoursPerDay     *int

	// Signed percentage applied to the item base price. Negative values
	// act as a per-item discount.
	TimeBasedAdjustment *float64
	TimeBasedRuleName   *string

	SortOrder int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuoteCounter is the single-row allocator behind sequential quote numbers.
// Incrementing it takes a row lock, so concurrent creates serialize instead
// of racing a MAX() read.
type QuoteCounter struct {
	ID    int `gorm:"primaryKey"`
	Value int64
}

// Principal identifies an authenticated staff user on a request.
// Customer actions through magic links carry no principal.
type Principal struct {
	UserID uuid.UUID
	Email  string
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == "admin"
}
