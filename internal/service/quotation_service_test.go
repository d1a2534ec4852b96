package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/driventa/quotation-service/internal/config"
	"github.com/driventa/quotation-service/internal/model"
	"github.com/driventa/quotation-service/internal/pricing"
	"github.com/driventa/quotation-service/internal/repository"
	"github.com/driventa/quotation-service/internal/status"
)

type stubPDF struct {
	fail bool
}

func (s stubPDF) RenderQuotation(model.Quotation, pricing.Totals, status.Display) ([]byte, error) {
	if s.fail {
		return nil, errors.New("render failed")
	}
	return []byte("%PDF-1.4 stub"), nil
}

type captureMailer struct {
	sent []EmailMessage
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg EmailMessage) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type stubBookings struct {
	id  uuid.UUID
	err error
}

func (s stubBookings) CreateFromQuotation(context.Context, model.Quotation) (uuid.UUID, error) {
	if s.err != nil {
		return uuid.Nil, s.err
	}
	return s.id, nil
}

type testEnv struct {
	db         *gorm.DB
	quotations *repository.QuotationRepository
	links      *repository.MagicLinkRepository
	activities *repository.ActivityRepository
	svc        *QuotationService
	magic      *MagicLinkService
	mailer     *captureMailer
	bookings   *stubBookings
	pdf        *stubPDF
	principal  model.Principal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	err = database.AutoMigrate(
		&model.Quotation{},
		&model.QuotationItem{},
		&model.PricingPackage{},
		&model.PricingPromotion{},
		&model.MagicLink{},
		&model.Activity{},
		&model.QuoteCounter{},
	)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: "test",
		Quotations: config.QuotationsConfig{
			BaseURL:           "http://localhost:3000",
			ExpiryWindowDays:  3,
			MagicLinkTTLHours: 168,
			SendTimeout:       45 * time.Second,
			EmailTimeout:      30 * time.Second,
			PDFTimeout:        25 * time.Second,
		},
	}

	env := &testEnv{
		db:         database,
		quotations: repository.NewQuotationRepository(database),
		links:      repository.NewMagicLinkRepository(database),
		activities: repository.NewActivityRepository(database),
		mailer:     &captureMailer{},
		bookings:   &stubBookings{id: uuid.New()},
		pdf:        &stubPDF{},
		principal:  model.Principal{UserID: uuid.New(), Email: "staff@example.com", Role: "admin"},
	}
	env.svc = NewQuotationService(
		env.quotations, env.activities, env.pdf, env.mailer, env.bookings, cfg, zerolog.Nop())
	env.magic = NewMagicLinkService(
		env.quotations, env.links, env.activities, cfg, zerolog.Nop())
	return env
}

func (env *testEnv) createDraft(t *testing.T) *model.Quotation {
	t.Helper()
	quotation, err := env.svc.Create(context.Background(), CreateQuotationInput{
		Title:         "Tokyo charter weekend",
		CustomerName:  "Aiko Tanaka",
		CustomerEmail: "aiko@example.com",
		Currency:      "JPY",
		TaxPercentage: 10,
		Items: []ItemInput{
			{Description: "Alphard charter", ServiceTypeName: "Charter Service", UnitPrice: 10000, Quantity: 3, ServiceDays: 2},
			{Description: "Airport pickup", ServiceTypeName: "Airport Transfer", UnitPrice: 5000, Quantity: 1, ServiceDays: 1},
		},
		Principal: env.principal,
	})
	require.NoError(t, err)
	return quotation
}

func (env *testEnv) backdateCreation(t *testing.T, id uuid.UUID, age time.Duration) {
	t.Helper()
	err := env.db.Model(&model.Quotation{}).
		Where("id = ?", id).
		Update("created_at", time.Now().UTC().Add(-age)).Error
	require.NoError(t, err)
}

func (env *testEnv) actionsFor(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	activities, err := env.activities.ListByQuotation(context.Background(), id)
	require.NoError(t, err)
	actions := make([]string, 0, len(activities))
	for _, activity := range activities {
		actions = append(actions, activity.Action)
	}
	return actions
}

func TestCreate_AssignsSequentialQuoteNumbers(t *testing.T) {
	env := newTestEnv(t)

	first := env.createDraft(t)
	second := env.createDraft(t)

	assert.Equal(t, int64(1), first.QuoteNumber)
	assert.Equal(t, int64(2), second.QuoteNumber)
	assert.Equal(t, model.QuotationStatusDraft, first.Status)
	assert.Contains(t, env.actionsFor(t, first.ID), model.ActivityCreated)

	// Charter item: 10000 × 2 days = 20000; transfer: 5000. Tax 10%.
	assert.Equal(t, int64(25000), first.Amount)
	assert.Equal(t, int64(27500), first.TotalAmount)

	var counter model.QuoteCounter
	require.NoError(t, env.db.First(&counter, "id = ?", 1).Error)
	assert.Equal(t, int64(2), counter.Value)
}

func TestCreate_QuoteNumbersResumeFromExistingMax(t *testing.T) {
	env := newTestEnv(t)

	// A row predating the counter: the allocator seeds from the maximum
	// instead of reissuing taken numbers.
	existing := model.Quotation{
		ID:            uuid.New(),
		QuoteNumber:   41,
		CustomerEmail: "aiko@example.com",
		Currency:      "JPY",
		Status:        model.QuotationStatusDraft,
	}
	require.NoError(t, env.db.Omit("Items", "Packages").Create(&existing).Error)

	created := env.createDraft(t)
	assert.Equal(t, int64(42), created.QuoteNumber)
}

func TestCreate_RejectsMalformedInput(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Create(context.Background(), CreateQuotationInput{
		CustomerEmail: "",
		Items:         []ItemInput{{UnitPrice: 100, Quantity: 1, ServiceDays: 1}},
		Principal:     env.principal,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.svc.Create(context.Background(), CreateQuotationInput{
		CustomerEmail: "a@example.com",
		Items:         nil,
		Principal:     env.principal,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.svc.Create(context.Background(), CreateQuotationInput{
		CustomerEmail: "a@example.com",
		Items:         []ItemInput{{UnitPrice: 100, Quantity: 1, ServiceDays: 0}},
		Principal:     env.principal,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreate_AppliesPromotionCode(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.db.Create(&model.PricingPromotion{
		ID:            uuid.New(),
		Name:          "Summer",
		Code:          "SUMMER10",
		DiscountType:  model.DiscountTypePercentage,
		DiscountValue: 10,
		IsActive:      true,
	}).Error)

	quotation, err := env.svc.Create(context.Background(), CreateQuotationInput{
		CustomerEmail: "aiko@example.com",
		Items: []ItemInput{
			{ServiceTypeName: "Day Tour", UnitPrice: 10000, Quantity: 1, ServiceDays: 1},
		},
		PromotionCode: "SUMMER10",
		Principal:     env.principal,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), quotation.PromotionDiscount)
	require.NotNil(t, quotation.PromotionCode)
	assert.Equal(t, "SUMMER10", *quotation.PromotionCode)

	_, err = env.svc.Create(context.Background(), CreateQuotationInput{
		CustomerEmail: "aiko@example.com",
		Items: []ItemInput{
			{ServiceTypeName: "Day Tour", UnitPrice: 10000, Quantity: 1, ServiceDays: 1},
		},
		PromotionCode: "NOPE",
		Principal:     env.principal,
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSend_TransitionsAndSnapshotsTotals(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)

	result, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)

	assert.False(t, result.Reminder)
	assert.True(t, result.EmailSent)
	assert.Empty(t, result.Warning)
	assert.Equal(t, model.QuotationStatusSent, result.Quotation.Status)
	assert.NotNil(t, result.Quotation.SentAt)
	assert.Equal(t, int64(25000), result.Quotation.Amount)
	assert.Equal(t, int64(27500), result.Quotation.TotalAmount)

	actions := env.actionsFor(t, draft.ID)
	assert.Contains(t, actions, model.ActivitySent)
	assert.Contains(t, actions, model.ActivityEmailSent)

	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "aiko@example.com", env.mailer.sent[0].To)
	require.Len(t, env.mailer.sent[0].Attachments, 1)
	assert.Equal(t, "application/pdf", env.mailer.sent[0].Attachments[0].ContentType)
}

func TestSend_SecondSendRecordsReminder(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)

	_, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)

	result, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)
	assert.True(t, result.Reminder)
	assert.Equal(t, model.QuotationStatusSent, result.Quotation.Status)

	actions := env.actionsFor(t, draft.ID)
	assert.Contains(t, actions, model.ActivityReminderSent)

	var count int64
	env.db.Model(&model.Activity{}).
		Where("quotation_id = ? AND action = ?", draft.ID, model.ActivitySent).
		Count(&count)
	assert.Equal(t, int64(1), count, "only the first send is a transition")
}

func TestSend_RefusesExpiredQuotation(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	env.backdateCreation(t, draft.ID, 4*24*time.Hour)

	_, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	assert.ErrorIs(t, err, ErrExpired)

	quotation, err := env.svc.Get(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuotationStatusDraft, quotation.Status)
}

func TestSend_MailerFailureIsPartialSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp unavailable")
	draft := env.createDraft(t)

	result, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err, "a downstream failure must not fail the transition")

	assert.False(t, result.EmailSent)
	assert.NotEmpty(t, result.Warning)
	assert.Equal(t, model.QuotationStatusSent, result.Quotation.Status)

	actions := env.actionsFor(t, draft.ID)
	assert.Contains(t, actions, model.ActivitySent)
	assert.Contains(t, actions, model.ActivityEmailError)
}

func TestSend_PDFFailureStillDeliversEmail(t *testing.T) {
	env := newTestEnv(t)
	env.pdf.fail = true
	draft := env.createDraft(t)

	result, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)

	assert.True(t, result.EmailSent)
	assert.NotEmpty(t, result.Warning)
	require.Len(t, env.mailer.sent, 1)
	assert.Empty(t, env.mailer.sent[0].Attachments)
	assert.Contains(t, env.actionsFor(t, draft.ID), model.ActivityPDFError)
}

func TestApprove_ThenRejectConflicts(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	_, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)

	approved, err := env.svc.Approve(context.Background(), draft.ID, CustomerActor(), ApproveInput{Notes: "looks good"})
	require.NoError(t, err)
	assert.Equal(t, model.QuotationStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
	assert.Nil(t, approved.RejectedAt)

	_, err = env.svc.Reject(context.Background(), draft.ID, StaffActor(env.principal), RejectInput{Reason: "changed our mind"})
	assert.ErrorIs(t, err, ErrConflict)

	// Exactly one terminal decision in the audit trail.
	var terminal int64
	env.db.Model(&model.Activity{}).
		Where("quotation_id = ? AND action IN ?", draft.ID,
			[]string{model.ActivityApproved, model.ActivityRejected}).
		Count(&terminal)
	assert.Equal(t, int64(1), terminal)

	final, err := env.svc.Get(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, model.QuotationStatusApproved, final.Status)
	assert.Nil(t, final.RejectedAt)
}

func TestApprove_FromDraftConflicts(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)

	_, err := env.svc.Approve(context.Background(), draft.ID, CustomerActor(), ApproveInput{})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestApprove_RefusesExpiredQuotation(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	_, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)
	env.backdateCreation(t, draft.ID, 4*24*time.Hour)

	_, err = env.svc.Approve(context.Background(), draft.ID, CustomerActor(), ApproveInput{})
	assert.ErrorIs(t, err, ErrExpired)
}

func TestReject_RequiresReason(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	_, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)

	_, err = env.svc.Reject(context.Background(), draft.ID, CustomerActor(), RejectInput{Reason: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	rejected, err := env.svc.Reject(context.Background(), draft.ID, CustomerActor(), RejectInput{Reason: "too expensive"})
	require.NoError(t, err)
	assert.Equal(t, model.QuotationStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectedAt)
	require.NotNil(t, rejected.RejectedReason)
	assert.Equal(t, "too expensive", *rejected.RejectedReason)
	assert.Nil(t, rejected.ApprovedAt)
}

func TestMarkPaid_RequiresApproved(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	_, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)

	_, err = env.svc.MarkPaid(context.Background(), draft.ID, env.principal, MarkPaidInput{PaymentAmount: 27500})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = env.svc.Approve(context.Background(), draft.ID, CustomerActor(), ApproveInput{})
	require.NoError(t, err)

	paid, err := env.svc.MarkPaid(context.Background(), draft.ID, env.principal, MarkPaidInput{
		PaymentAmount: 27500,
		PaymentMethod: "bank_transfer",
	})
	require.NoError(t, err)
	assert.Equal(t, model.QuotationStatusPaid, paid.Status)
	require.NotNil(t, paid.PaymentCompletedAt)
	assert.NotNil(t, paid.ApprovedAt, "payment implies an approval on record")
	require.NotNil(t, paid.PaymentAmount)
	assert.Equal(t, int64(27500), *paid.PaymentAmount)
}

func TestConvert_RequiresPaidAndCreatesBooking(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	_, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)
	_, err = env.svc.Approve(context.Background(), draft.ID, CustomerActor(), ApproveInput{})
	require.NoError(t, err)

	_, err = env.svc.Convert(context.Background(), draft.ID, env.principal)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = env.svc.MarkPaid(context.Background(), draft.ID, env.principal, MarkPaidInput{PaymentAmount: 27500})
	require.NoError(t, err)

	result, err := env.svc.Convert(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)
	assert.True(t, result.BookingCreated)
	assert.Equal(t, model.QuotationStatusConverted, result.Quotation.Status)
	require.NotNil(t, result.Quotation.BookingID)
	assert.Equal(t, env.bookings.id, *result.Quotation.BookingID)
}

func TestConvert_BookingFailureIsPartialSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.bookings.err = errors.New("booking api down")
	draft := env.createDraft(t)
	_, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)
	_, err = env.svc.Approve(context.Background(), draft.ID, CustomerActor(), ApproveInput{})
	require.NoError(t, err)
	_, err = env.svc.MarkPaid(context.Background(), draft.ID, env.principal, MarkPaidInput{PaymentAmount: 27500})
	require.NoError(t, err)

	result, err := env.svc.Convert(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)
	assert.False(t, result.BookingCreated)
	assert.NotEmpty(t, result.Warning)
	assert.Equal(t, model.QuotationStatusConverted, result.Quotation.Status)
	assert.Contains(t, env.actionsFor(t, draft.ID), model.ActivityBookingError)
}

func TestUpdateItems_OnlyInDraft(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)

	updated, err := env.svc.UpdateItems(context.Background(), draft.ID, env.principal, []ItemInput{
		{Description: "Bigger bus", ServiceTypeName: "Charter Service", UnitPrice: 20000, Quantity: 1, ServiceDays: 2},
	})
	require.NoError(t, err)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, int64(40000), updated.Amount)
	assert.Equal(t, int64(44000), updated.TotalAmount)

	_, err = env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)

	_, err = env.svc.UpdateItems(context.Background(), draft.ID, env.principal, []ItemInput{
		{Description: "Sneaky edit", ServiceTypeName: "Transfer", UnitPrice: 1, Quantity: 1, ServiceDays: 1},
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestNotificationStatus(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)

	fresh, err := env.svc.NotificationStatus(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "none", fresh.EmailStatus)

	_, err = env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)

	delivered, err := env.svc.NotificationStatus(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "delivered", delivered.EmailStatus)
	assert.Equal(t, "sent", delivered.QuotationStatus)
	assert.NotNil(t, delivered.SentAt)
	require.NotNil(t, delivered.LastActivity)
}

func TestNotificationStatus_ReportsFailure(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp unavailable")
	draft := env.createDraft(t)

	_, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)

	result, err := env.svc.NotificationStatus(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", result.EmailStatus)
}

func TestActivities_NewestFirstAndNotFound(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	_, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)

	activities, err := env.svc.Activities(context.Background(), draft.ID)
	require.NoError(t, err)
	require.NotEmpty(t, activities)
	for i := 1; i < len(activities); i++ {
		assert.False(t, activities[i-1].CreatedAt.Before(activities[i].CreatedAt))
	}

	_, err = env.svc.Activities(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
