package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driventa/quotation-service/internal/model"
)

func TestIssue_HappyPath(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)

	result, err := env.magic.Issue(context.Background(), draft.ID, "aiko@example.com", 0)
	require.NoError(t, err)

	assert.Len(t, result.Token, 64)
	assert.Equal(t, "http://localhost:3000/quote-access/"+result.Token, result.URL)
	assert.WithinDuration(t, time.Now().UTC().Add(168*time.Hour), result.ExpiresAt, time.Minute)

	quotation, err := env.svc.Get(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.NotNil(t, quotation.MagicLinkGeneratedAt)
	require.NotNil(t, quotation.MagicLinkExpiresAt)
	assert.WithinDuration(t, result.ExpiresAt, *quotation.MagicLinkExpiresAt, time.Second)

	assert.Contains(t, env.actionsFor(t, draft.ID), model.ActivityMagicLinkGenerated)

	var link model.MagicLink
	require.NoError(t, env.db.First(&link, "token = ?", result.Token).Error)
	assert.Equal(t, draft.ID, link.QuotationID)
	assert.Equal(t, "aiko@example.com", link.CustomerEmail)
	assert.False(t, link.IsUsed)
}

func TestIssue_CustomTTL(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)

	result, err := env.magic.Issue(context.Background(), draft.ID, "aiko@example.com", 24)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), result.ExpiresAt, time.Minute)
}

func TestIssue_EmailMustMatchCustomer(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)

	_, err := env.magic.Issue(context.Background(), draft.ID, "intruder@example.com", 0)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = env.magic.Issue(context.Background(), draft.ID, "", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Matching is case-insensitive.
	_, err = env.magic.Issue(context.Background(), draft.ID, "AIKO@Example.COM", 0)
	assert.NoError(t, err)
}

func TestIssue_UnknownQuotation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.magic.Issue(context.Background(), uuid.New(), "aiko@example.com", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIssue_RefusedForTerminalQuotation(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	_, err := env.svc.Send(context.Background(), draft.ID, env.principal)
	require.NoError(t, err)
	_, err = env.svc.Reject(context.Background(), draft.ID, CustomerActor(), RejectInput{Reason: "not needed"})
	require.NoError(t, err)

	_, err = env.magic.Issue(context.Background(), draft.ID, "aiko@example.com", 0)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestIssueSimplified_URLKeyedByQuoteNumber(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)

	result, err := env.magic.IssueSimplified(context.Background(), draft.ID, "aiko@example.com")
	require.NoError(t, err)

	expected := fmt.Sprintf("http://localhost:3000/quote-access/QUO-%06d?token=%s", draft.QuoteNumber, result.Token)
	assert.Equal(t, expected, result.URL)

	// Both URL shapes stay valid: the token resolves through the id and
	// through the display number the simplified URL carries.
	quotation, err := env.magic.Validate(context.Background(), result.Token, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, quotation.ID)

	quotation, err = env.magic.ValidateByQuoteNumber(context.Background(), result.Token, draft.QuoteNumber)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, quotation.ID)
}

func TestValidateByQuoteNumber(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	issued, err := env.magic.Issue(context.Background(), draft.ID, "aiko@example.com", 0)
	require.NoError(t, err)

	quotation, err := env.magic.ValidateByQuoteNumber(context.Background(), issued.Token, draft.QuoteNumber)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, quotation.ID)

	_, err = env.magic.ValidateByQuoteNumber(context.Background(), issued.Token, draft.QuoteNumber+100)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.magic.ValidateByQuoteNumber(context.Background(), "", draft.QuoteNumber)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidateByQuoteNumber_ExpiredLink(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	issued, err := env.magic.Issue(context.Background(), draft.ID, "aiko@example.com", 1)
	require.NoError(t, err)

	err = env.db.Model(&model.MagicLink{}).
		Where("token = ?", issued.Token).
		Update("expires_at", time.Now().UTC().Add(-2*time.Hour)).Error
	require.NoError(t, err)

	_, err = env.magic.ValidateByQuoteNumber(context.Background(), issued.Token, draft.QuoteNumber)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestValidate_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	issued, err := env.magic.Issue(context.Background(), draft.ID, "aiko@example.com", 0)
	require.NoError(t, err)

	quotation, err := env.magic.Validate(context.Background(), issued.Token, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, quotation.ID)

	// Links are multi-use: a second visit still works.
	_, err = env.magic.Validate(context.Background(), issued.Token, draft.ID)
	assert.NoError(t, err)
}

func TestValidate_ExpiredIsNotNotFound(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	issued, err := env.magic.Issue(context.Background(), draft.ID, "aiko@example.com", 1)
	require.NoError(t, err)

	err = env.db.Model(&model.MagicLink{}).
		Where("token = ?", issued.Token).
		Update("expires_at", time.Now().UTC().Add(-2*time.Hour)).Error
	require.NoError(t, err)

	_, err = env.magic.Validate(context.Background(), issued.Token, draft.ID)
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestValidate_UnknownToken(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)

	_, err := env.magic.Validate(context.Background(), "deadbeef", draft.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.magic.Validate(context.Background(), "", draft.ID)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestValidate_TokenBoundToQuotation(t *testing.T) {
	env := newTestEnv(t)
	first := env.createDraft(t)
	second := env.createDraft(t)

	issued, err := env.magic.Issue(context.Background(), first.ID, "aiko@example.com", 0)
	require.NoError(t, err)

	_, err = env.magic.Validate(context.Background(), issued.Token, second.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkUsed_SingleRedemption(t *testing.T) {
	env := newTestEnv(t)
	draft := env.createDraft(t)
	issued, err := env.magic.Issue(context.Background(), draft.ID, "aiko@example.com", 0)
	require.NoError(t, err)

	now := time.Now().UTC()
	ok, err := env.links.MarkUsed(context.Background(), issued.Token, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.links.MarkUsed(context.Background(), issued.Token, now)
	require.NoError(t, err)
	assert.False(t, ok)
}
