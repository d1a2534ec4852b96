package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/driventa/quotation-service/internal/config"
	"github.com/driventa/quotation-service/internal/expiry"
	"github.com/driventa/quotation-service/internal/model"
	"github.com/driventa/quotation-service/internal/pricing"
	"github.com/driventa/quotation-service/internal/repository"
	"github.com/driventa/quotation-service/internal/status"
)

// Actor is whoever triggered a transition: a staff principal or the
// quotation's customer acting through a validated magic link (nil user id).
type Actor struct {
	UserID *uuid.UUID
	Label  string
}

func StaffActor(p model.Principal) Actor {
	id := p.UserID
	return Actor{UserID: &id, Label: "staff"}
}

func CustomerActor() Actor {
	return Actor{Label: "customer"}
}

type QuotationService struct {
	quotations *repository.QuotationRepository
	activities *repository.ActivityRepository
	expiry     expiry.Policy
	pdf        PDFRenderer
	mailer     Mailer
	bookings   BookingCreator
	cfg        *config.Config
	log        zerolog.Logger
}

func NewQuotationService(
	quotations *repository.QuotationRepository,
	activities *repository.ActivityRepository,
	pdf PDFRenderer,
	mailer Mailer,
	bookings BookingCreator,
	cfg *config.Config,
	log zerolog.Logger,
) *QuotationService {
	return &QuotationService{
		quotations: quotations,
		activities: activities,
		expiry:     expiry.NewPolicy(cfg.Quotations.ExpiryWindowDays),
		pdf:        pdf,
		mailer:     mailer,
		bookings:   bookings,
		cfg:        cfg,
		log:        log,
	}
}

func (s *QuotationService) Policy() expiry.Policy {
	return s.expiry
}

type ItemInput struct {
	Description         string
	ServiceTypeName     string
	UnitPrice           int64
	Quantity            int
	ServiceDays         int
	HoursPerDay         *int
	TimeBasedAdjustment *float64
	TimeBasedRuleName   *string
	SortOrder           int
}

type CreateQuotationInput struct {
	Title              string
	CustomerName       string
	CustomerEmail      string
	CustomerPhone      string
	Currency           string
	DiscountPercentage float64
	TaxPercentage      float64
	Items              []ItemInput
	PackageIDs         []uuid.UUID
	PromotionCode      string
	Principal          model.Principal
}

func (s *QuotationService) Create(ctx context.Context, input CreateQuotationInput) (*model.Quotation, error) {
	if strings.TrimSpace(input.CustomerEmail) == "" {
		return nil, fmt.Errorf("%w: customer_email is required", ErrInvalidInput)
	}
	if len(input.Items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	for _, item := range input.Items {
		if item.UnitPrice < 0 || item.Quantity < 0 || item.ServiceDays <= 0 {
			return nil, fmt.Errorf("%w: malformed item %q", ErrInvalidInput, item.Description)
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "JPY"
	}

	items := make([]model.QuotationItem, 0, len(input.Items))
	for i, item := range input.Items {
		sortOrder := item.SortOrder
		if sortOrder == 0 {
			sortOrder = i
		}
		items = append(items, model.QuotationItem{
			Description:         item.Description,
			ServiceTypeName:     item.ServiceTypeName,
			UnitPrice:           item.UnitPrice,
			Quantity:            item.Quantity,
			ServiceDays:         item.ServiceDays,
			HoursPerDay:         item.HoursPerDay,
			TimeBasedAdjustment: item.TimeBasedAdjustment,
			TimeBasedRuleName:   item.TimeBasedRuleName,
			SortOrder:           sortOrder,
		})
	}

	packages, err := s.quotations.GetPackages(ctx, input.PackageIDs)
	if err != nil {
		return nil, err
	}
	if len(packages) != len(input.PackageIDs) {
		return nil, fmt.Errorf("%w: unknown or inactive package", ErrInvalidInput)
	}

	quotation := &model.Quotation{
		ID:                 uuid.New(),
		Title:              input.Title,
		CustomerName:       input.CustomerName,
		CustomerEmail:      strings.TrimSpace(input.CustomerEmail),
		CustomerPhone:      input.CustomerPhone,
		Currency:           currency,
		Status:             model.QuotationStatusDraft,
		DiscountPercentage: input.DiscountPercentage,
		TaxPercentage:      input.TaxPercentage,
	}

	promotionDiscount, promotionCode, err := s.resolvePromotion(ctx, input.PromotionCode, items, packages)
	if err != nil {
		return nil, err
	}
	quotation.PromotionDiscount = promotionDiscount
	quotation.PromotionCode = promotionCode

	totals := pricing.Calculate(items, packages, input.DiscountPercentage, input.TaxPercentage, promotionDiscount)
	quotation.Amount = totals.BaseTotal
	quotation.TotalAmount = totals.FinalTotal

	if err := s.quotations.Create(ctx, quotation, items, input.PackageIDs); err != nil {
		return nil, err
	}

	s.appendActivity(ctx, quotation.ID, StaffActor(input.Principal), model.ActivityCreated, map[string]any{
		"quote_number": quotation.QuoteNumber,
		"total_amount": totals.FinalTotal,
		"currency":     currency,
	})

	return s.Get(ctx, quotation.ID)
}

// resolvePromotion turns a promotion code into the absolute discount amount
// snapshotted on the quotation. An empty code means no promotion; an unknown
// code is a validation error rather than a silent zero.
func (s *QuotationService) resolvePromotion(
	ctx context.Context,
	code string,
	items []model.QuotationItem,
	packages []model.PricingPackage,
) (int64, *string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, nil, nil
	}

	promotion, err := s.quotations.GetPromotionByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil, fmt.Errorf("%w: unknown promotion code %q", ErrInvalidInput, code)
		}
		return 0, nil, err
	}

	provisional := pricing.Calculate(items, packages, 0, 0, 0)
	amount := pricing.PromotionAmount(*promotion, provisional.BaseTotal, time.Now().UTC())
	return amount, &promotion.Code, nil
}

func (s *QuotationService) Get(ctx context.Context, id uuid.UUID) (*model.Quotation, error) {
	quotation, err := s.quotations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return quotation, nil
}

// Totals recomputes the full breakdown from the quotation's current items,
// packages and stored discount parameters.
func (s *QuotationService) Totals(q *model.Quotation) pricing.Totals {
	return pricing.Calculate(q.Items, q.Packages, q.DiscountPercentage, q.TaxPercentage, q.PromotionDiscount)
}

func (s *QuotationService) Display(q *model.Quotation, now time.Time) status.Display {
	return status.Present(*q, s.expiry, now)
}

// UpdateItems replaces the full item set. Only draft quotations may be edited.
func (s *QuotationService) UpdateItems(ctx context.Context, id uuid.UUID, principal model.Principal, inputs []ItemInput) (*model.Quotation, error) {
	quotation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if quotation.Status != model.QuotationStatusDraft {
		return nil, fmt.Errorf("%w: items are immutable outside draft", ErrConflict)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}

	items := make([]model.QuotationItem, 0, len(inputs))
	for i, item := range inputs {
		if item.UnitPrice < 0 || item.Quantity < 0 || item.ServiceDays <= 0 {
			return nil, fmt.Errorf("%w: malformed item %q", ErrInvalidInput, item.Description)
		}
		sortOrder := item.SortOrder
		if sortOrder == 0 {
			sortOrder = i
		}
		items = append(items, model.QuotationItem{
			Description:         item.Description,
			ServiceTypeName:     item.ServiceTypeName,
			UnitPrice:           item.UnitPrice,
			Quantity:            item.Quantity,
			ServiceDays:         item.ServiceDays,
			HoursPerDay:         item.HoursPerDay,
			TimeBasedAdjustment: item.TimeBasedAdjustment,
			TimeBasedRuleName:   item.TimeBasedRuleName,
			SortOrder:           sortOrder,
		})
	}

	if err := s.quotations.ReplaceItems(ctx, id, items); err != nil {
		return nil, err
	}

	quotation, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	totals := s.Totals(quotation)
	if err := s.quotations.UpdateTotals(ctx, id, totals.BaseTotal, totals.FinalTotal); err != nil {
		return nil, err
	}

	s.appendActivity(ctx, id, StaffActor(principal), model.ActivityUpdated, map[string]any{
		"items":        len(items),
		"total_amount": totals.FinalTotal,
	})
	return s.Get(ctx, id)
}

// SendResult distinguishes total success from the partial success where the
// transition committed but a downstream step failed.
type SendResult struct {
	Quotation *model.Quotation
	Reminder  bool
	EmailSent bool
	Warning   string
}

// Send moves a draft to sent, snapshots totals, then runs the best-effort
// side effects (PDF render + email) under their own deadlines. Sending an
// already-sent quotation records a reminder instead of a transition.
func (s *QuotationService) Send(ctx context.Context, id uuid.UUID, principal model.Principal) (*SendResult, error) {
	quotation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if s.expiry.IsExpired(quotation.Status, quotation.CreatedAt, quotation.ApprovedAt, quotation.RejectedAt, now) {
		return nil, fmt.Errorf("%w: quotation expired", ErrExpired)
	}

	actor := StaffActor(principal)
	reminder := quotation.Status == model.QuotationStatusSent

	if !reminder {
		totals := s.Totals(quotation)
		rows, err := s.quotations.TransitionStatus(ctx, id,
			[]model.QuotationStatus{model.QuotationStatusDraft},
			model.QuotationStatusSent,
			map[string]any{
				"sent_at":      now,
				"amount":       totals.BaseTotal,
				"total_amount": totals.FinalTotal,
			})
		if err != nil {
			return nil, err
		}
		if rows == 0 {
			return nil, fmt.Errorf("%w: cannot send from status %s", ErrConflict, quotation.Status)
		}
		s.appendActivity(ctx, id, actor, model.ActivitySent, map[string]any{
			"total_amount": totals.FinalTotal,
		})
	} else {
		s.appendActivity(ctx, id, actor, model.ActivityReminderSent, nil)
	}

	quotation, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &SendResult{Quotation: quotation, Reminder: reminder}
	s.deliverQuotationEmail(ctx, quotation, actor, result)
	return result, nil
}

// deliverQuotationEmail renders the PDF and emails the customer. Both steps
// are bounded, cancellable and strictly after the committed transition;
// failures become activity entries and a partial-success warning.
func (s *QuotationService) deliverQuotationEmail(ctx context.Context, q *model.Quotation, actor Actor, result *SendResult) {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.Quotations.SendTimeout)
	defer cancel()

	var attachments []EmailAttachment
	pdfCtx, pdfCancel := context.WithTimeout(sendCtx, s.cfg.Quotations.PDFTimeout)
	content, err := s.renderPDF(pdfCtx, q)
	pdfCancel()
	if err != nil {
		s.log.Warn().Err(err).Str("quotation_id", q.ID.String()).Msg("pdf render failed")
		s.appendActivity(sendCtx, q.ID, actor, model.ActivityPDFError, map[string]any{"error": err.Error()})
		result.Warning = "quotation sent, pdf attachment failed"
	} else {
		attachments = append(attachments, EmailAttachment{
			Filename:    fmt.Sprintf("quotation-QUO-%06d.pdf", q.QuoteNumber),
			ContentType: "application/pdf",
			Content:     content,
		})
	}

	emailCtx, emailCancel := context.WithTimeout(sendCtx, s.cfg.Quotations.EmailTimeout)
	defer emailCancel()
	err = s.mailer.Send(emailCtx, EmailMessage{
		To:          q.CustomerEmail,
		Subject:     fmt.Sprintf("Quotation QUO-%06d", q.QuoteNumber),
		HTMLBody:    fmt.Sprintf("<p>Your quotation %s is ready. Total: %s.</p>", q.Title, model.FormatMoney(q.TotalAmount, q.Currency)),
		TextBody:    fmt.Sprintf("Your quotation %s is ready. Total: %s.", q.Title, model.FormatMoney(q.TotalAmount, q.Currency)),
		Attachments: attachments,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("quotation_id", q.ID.String()).Msg("quotation email failed")
		s.appendActivity(ctx, q.ID, actor, model.ActivityEmailError, map[string]any{"error": err.Error()})
		result.Warning = "quotation sent, email delivery failed"
		return
	}
	s.appendActivity(ctx, q.ID, actor, model.ActivityEmailSent, map[string]any{"to": q.CustomerEmail})
	result.EmailSent = true
}

func (s *QuotationService) renderPDF(ctx context.Context, q *model.Quotation) ([]byte, error) {
	type rendered struct {
		content []byte
		err     error
	}
	done := make(chan rendered, 1)
	go func() {
		content, err := s.pdf.RenderQuotation(*q, s.Totals(q), s.Display(q, time.Now().UTC()))
		done <- rendered{content: content, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.content, r.err
	}
}

// RenderPDF is the synchronous document endpoint used by staff downloads.
func (s *QuotationService) RenderPDF(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	quotation, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	pdfCtx, cancel := context.WithTimeout(ctx, s.cfg.Quotations.PDFTimeout)
	defer cancel()
	content, err := s.renderPDF(pdfCtx, quotation)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDownstream, err)
	}
	return content, fmt.Sprintf("quotation-QUO-%06d.pdf", quotation.QuoteNumber), nil
}

type ApproveInput struct {
	Notes     string
	Signature string
}

// Approve moves sent to approved. The conditional update makes a concurrent
// reject lose cleanly: one winner, one conflict.
func (s *QuotationService) Approve(ctx context.Context, id uuid.UUID, actor Actor, input ApproveInput) (*model.Quotation, error) {
	quotation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if s.expiry.IsExpired(quotation.Status, quotation.CreatedAt, quotation.ApprovedAt, quotation.RejectedAt, now) {
		return nil, fmt.Errorf("%w: quotation expired", ErrExpired)
	}

	rows, err := s.quotations.TransitionStatus(ctx, id,
		[]model.QuotationStatus{model.QuotationStatusSent},
		model.QuotationStatusApproved,
		map[string]any{"approved_at": now})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: cannot approve from status %s", ErrConflict, quotation.Status)
	}

	details := map[string]any{}
	if input.Notes != "" {
		details["notes"] = input.Notes
	}
	if input.Signature != "" {
		details["signature"] = input.Signature
	}
	s.appendActivity(ctx, id, actor, model.ActivityApproved, details)
	return s.Get(ctx, id)
}

type RejectInput struct {
	Reason    string
	Signature string
}

func (s *QuotationService) Reject(ctx context.Context, id uuid.UUID, actor Actor, input RejectInput) (*model.Quotation, error) {
	if strings.TrimSpace(input.Reason) == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}

	quotation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if s.expiry.IsExpired(quotation.Status, quotation.CreatedAt, quotation.ApprovedAt, quotation.RejectedAt, now) {
		return nil, fmt.Errorf("%w: quotation expired", ErrExpired)
	}

	rows, err := s.quotations.TransitionStatus(ctx, id,
		[]model.QuotationStatus{model.QuotationStatusSent},
		model.QuotationStatusRejected,
		map[string]any{
			"rejected_at":     now,
			"rejected_reason": input.Reason,
		})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: cannot reject from status %s", ErrConflict, quotation.Status)
	}

	s.appendActivity(ctx, id, actor, model.ActivityRejected, map[string]any{"reason": input.Reason})
	return s.Get(ctx, id)
}

type MarkPaidInput struct {
	PaymentAmount int64
	PaymentMethod string
}

func (s *QuotationService) MarkPaid(ctx context.Context, id uuid.UUID, principal model.Principal, input MarkPaidInput) (*model.Quotation, error) {
	if input.PaymentAmount <= 0 {
		return nil, fmt.Errorf("%w: payment_amount must be positive", ErrInvalidInput)
	}

	quotation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rows, err := s.quotations.TransitionStatus(ctx, id,
		[]model.QuotationStatus{model.QuotationStatusApproved},
		model.QuotationStatusPaid,
		map[string]any{
			"payment_completed_at": now,
			"payment_amount":       input.PaymentAmount,
			"payment_method":       input.PaymentMethod,
		})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: cannot mark paid from status %s", ErrConflict, quotation.Status)
	}

	s.appendActivity(ctx, id, StaffActor(principal), model.ActivityPaid, map[string]any{
		"payment_amount": input.PaymentAmount,
		"payment_method": input.PaymentMethod,
	})
	return s.Get(ctx, id)
}

type ConvertResult struct {
	Quotation      *model.Quotation
	BookingCreated bool
	Warning        string
}

// Convert finishes the lifecycle. Booking creation runs after the committed
// transition and never reverses it.
func (s *QuotationService) Convert(ctx context.Context, id uuid.UUID, principal model.Principal) (*ConvertResult, error) {
	quotation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rows, err := s.quotations.TransitionStatus(ctx, id,
		[]model.QuotationStatus{model.QuotationStatusPaid},
		model.QuotationStatusConverted,
		map[string]any{"converted_at": now})
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: cannot convert from status %s", ErrConflict, quotation.Status)
	}

	actor := StaffActor(principal)
	s.appendActivity(ctx, id, actor, model.ActivityConverted, nil)

	result := &ConvertResult{}
	bookingID, err := s.bookings.CreateFromQuotation(ctx, *quotation)
	if err != nil {
		s.log.Warn().Err(err).Str("quotation_id", id.String()).Msg("booking creation failed")
		s.appendActivity(ctx, id, actor, model.ActivityBookingError, map[string]any{"error": err.Error()})
		result.Warning = "quotation converted, booking creation failed"
	} else {
		result.BookingCreated = true
		if err := s.setBookingID(ctx, id, bookingID); err != nil {
			s.log.Error().Err(err).Str("quotation_id", id.String()).Msg("booking id write failed")
		}
	}

	result.Quotation, err = s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *QuotationService) setBookingID(ctx context.Context, id, bookingID uuid.UUID) error {
	rows, err := s.quotations.TransitionStatus(ctx, id,
		[]model.QuotationStatus{model.QuotationStatusConverted},
		model.QuotationStatusConverted,
		map[string]any{"booking_id": bookingID})
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

// NotificationStatus derives the last known email state from the activity
// log instead of storing redundant flags on the quotation.
type NotificationStatus struct {
	QuotationID     uuid.UUID  `json:"quotationId"`
	QuotationStatus string     `json:"quotationStatus"`
	EmailStatus     string     `json:"emailStatus"`
	LastActivity    *string    `json:"lastActivity"`
	SentAt          *time.Time `json:"sentAt"`
	ApprovedAt      *time.Time `json:"approvedAt"`
	RejectedAt      *time.Time `json:"rejectedAt"`
	LastActivityAt  *time.Time `json:"lastActivityAt"`
}

func (s *QuotationService) NotificationStatus(ctx context.Context, id uuid.UUID) (*NotificationStatus, error) {
	quotation, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &NotificationStatus{
		QuotationID:     quotation.ID,
		QuotationStatus: string(quotation.Status),
		EmailStatus:     "none",
		SentAt:          quotation.SentAt,
		ApprovedAt:      quotation.ApprovedAt,
		RejectedAt:      quotation.RejectedAt,
	}

	emailActions := []string{model.ActivityEmailSent, model.ActivityEmailError, model.ActivityReminderSent}
	last, err := s.activities.LastByActions(ctx, id, emailActions)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if last != nil {
		switch last.Action {
		case model.ActivityEmailError:
			result.EmailStatus = "failed"
		default:
			result.EmailStatus = "delivered"
		}
	}

	newest, err := s.activities.LastByActions(ctx, id, allActivityActions)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if newest != nil {
		result.LastActivity = &newest.Action
		result.LastActivityAt = &newest.CreatedAt
	}
	return result, nil
}

var allActivityActions = []string{
	model.ActivityCreated,
	model.ActivityUpdated,
	model.ActivitySent,
	model.ActivityReminderSent,
	model.ActivityApproved,
	model.ActivityRejected,
	model.ActivityPaid,
	model.ActivityConverted,
	model.ActivityMagicLinkGenerated,
	model.ActivityEmailSent,
	model.ActivityEmailError,
	model.ActivityPDFError,
	model.ActivityBookingError,
}

func (s *QuotationService) Activities(ctx context.Context, id uuid.UUID) ([]model.Activity, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.activities.ListByQuotation(ctx, id)
}

// appendActivity records the audit entry; a failed append is logged but never
// fails the already-committed action it documents.
func (s *QuotationService) appendActivity(ctx context.Context, quotationID uuid.UUID, actor Actor, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	if actor.Label != "" {
		details["actor"] = actor.Label
	}
	err := s.activities.Append(ctx, &model.Activity{
		QuotationID: quotationID,
		UserID:      actor.UserID,
		Action:      action,
		Details:     details,
	})
	if err != nil {
		s.log.Error().Err(err).
			Str("quotation_id", quotationID.String()).
			Str("action", action).
			Msg("activity append failed")
	}
}
