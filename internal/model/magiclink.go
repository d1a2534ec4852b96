package model

import (
	"time"

	"github.com/google/uuid"
)

// MagicLink is a short-lived capability token letting an unauthenticated
// customer act on one quotation. Multiple outstanding links per quotation
// are allowed; rows are never mutated except by MarkUsed.
type MagicLink struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	QuotationID   uuid.UUID `gorm:"type:uuid;index"`
	CustomerEmail string
	Token         string `gorm:"uniqueIndex"`
	ExpiresAt     time.Time
	IsUsed        bool
	UsedAt        *time.Time
	CreatedAt     time.Time
}
