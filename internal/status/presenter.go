package status

import (
	"time"

	"github.com/driventa/quotation-service/internal/expiry"
	"github.com/driventa/quotation-service/internal/model"
)

// Display is the single label shown for a quotation's state.
type Display struct {
	Label      string `json:"label"`
	StyleClass string `json:"style_class"`
}

// Present combines the stored status with derived expiry into one display
// value. The precedence order is a business rule: expired is only reachable
// when neither decision timestamp is set, so it never masks a real decision,
// while rejected/converted/paid/approved can coexist with stale status data
// and are checked in this fixed order.
func Present(q model.Quotation, policy expiry.Policy, now time.Time) Display {
	switch {
	case policy.IsExpired(q.Status, q.CreatedAt, q.ApprovedAt, q.RejectedAt, now):
		return Display{Label: "Expired", StyleClass: "status-expired"}
	case q.RejectedAt != nil || q.Status == model.QuotationStatusRejected:
		return Display{Label: "Rejected", StyleClass: "status-rejected"}
	case q.Status == model.QuotationStatusConverted:
		return Display{Label: "Converted", StyleClass: "status-converted"}
	case q.PaymentCompletedAt != nil || q.Status == model.QuotationStatusPaid:
		return Display{Label: "Paid", StyleClass: "status-paid"}
	case q.ApprovedAt != nil || q.Status == model.QuotationStatusApproved:
		return Display{Label: "Approved", StyleClass: "status-approved"}
	case q.Status == model.QuotationStatusSent:
		return Display{Label: "Sent", StyleClass: "status-sent"}
	default:
		return Display{Label: "Draft", StyleClass: "status-draft"}
	}
}
