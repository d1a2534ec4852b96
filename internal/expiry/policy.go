package expiry

import (
	"time"

	"github.com/driventa/quotation-service/internal/model"
)

// DefaultWindowDays is how long an undecided quotation stays actionable.
// Not to be confused with the 30-day post-operation coupon window, which
// belongs to a different subsystem.
const DefaultWindowDays = 3

// Policy decides when an undecided quotation is treated as lapsed. Expiry is
// always derived at read time; nothing ever stores an "expired" status.
type Policy struct {
	windowDays int
}

func NewPolicy(windowDays int) Policy {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return Policy{windowDays: windowDays}
}

// IsExpired reports whether the quotation has lapsed: still draft or sent,
// no decision recorded either way, and past the window since creation.
// Recording either decision timestamp makes a quotation immune regardless
// of age.
func (p Policy) IsExpired(
	status model.QuotationStatus,
	createdAt time.Time,
	approvedAt, rejectedAt *time.Time,
	now time.Time,
) bool {
	if status != model.QuotationStatusDraft && status != model.QuotationStatusSent {
		return false
	}
	if approvedAt != nil || rejectedAt != nil {
		return false
	}
	return now.After(createdAt.Add(time.Duration(p.windowDays) * 24 * time.Hour))
}

// DaysRemaining returns whole days left in the window, clamped at zero.
func (p Policy) DaysRemaining(createdAt, now time.Time) int {
	elapsed := int(now.Sub(createdAt) / (24 * time.Hour))
	remaining := p.windowDays - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (p Policy) WindowDays() int {
	return p.windowDays
}
