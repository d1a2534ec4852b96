package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driventa/quotation-service/internal/model"
	"github.com/driventa/quotation-service/internal/pricing"
	"github.com/driventa/quotation-service/internal/status"
)

type EmailAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

type EmailMessage struct {
	To          string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []EmailAttachment
}

// Mailer delivers customer email. Delivery is a best-effort side effect: a
// failure is recorded as an activity and surfaced as partial success, never
// rolled into the transition.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// PDFRenderer turns a quotation plus its computed breakdown into a document.
type PDFRenderer interface {
	RenderQuotation(q model.Quotation, totals pricing.Totals, display status.Display) ([]byte, error)
}

// BookingCreator is invoked once a quotation converts.
type BookingCreator interface {
	CreateFromQuotation(ctx context.Context, q model.Quotation) (uuid.UUID, error)
}

// LogMailer stands in for a real delivery provider in development.
type LogMailer struct {
	Log zerolog.Logger
}

func (m LogMailer) Send(_ context.Context, msg EmailMessage) error {
	m.Log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("attachments", len(msg.Attachments)).
		Msg("email delivery skipped (log mailer)")
	return nil
}
