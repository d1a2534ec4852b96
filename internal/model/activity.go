package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	ActivityCreated            = "created"
	ActivityUpdated            = "updated"
	ActivitySent               = "sent"
	ActivityReminderSent       = "reminder_sent"
	ActivityApproved           = "approved"
	ActivityRejected           = "rejected"
	ActivityPaid               = "paid"
	ActivityConverted          = "converted"
	ActivityMagicLinkGenerated = "magic_link_generated"
	ActivityEmailSent          = "email_sent"
	ActivityEmailError         = "email_error"
	ActivityPDFError           = "pdf_error"
	ActivityBookingError       = "booking_error"
)

// Activity is an append-only audit record of one action against a quotation.
// UserID is nil for system actions and for unauthenticated customers acting
// through a magic link.
type Activity struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	QuotationID uuid.UUID      `gorm:"type:uuid;index"`
	UserID      *uuid.UUID     `gorm:"type:uuid"`
	Action      string         `gorm:"index"`
	Details     map[string]any `gorm:"serializer:json"`
	CreatedAt   time.Time      `gorm:"index"`
}
