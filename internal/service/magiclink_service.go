package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/driventa/quotation-service/internal/config"
	"github.com/driventa/quotation-service/internal/model"
	"github.com/driventa/quotation-service/internal/repository"
)

// MagicLinkService issues and validates the capability tokens that let an
// unauthenticated customer act on one quotation. A validated link acts with
// the authority of "this quotation's customer", not of a specific person:
// the email match is enforced at issuance only.
type MagicLinkService struct {
	quotations *repository.QuotationRepository
	links      *repository.MagicLinkRepository
	activities *repository.ActivityRepository
	cfg        *config.Config
	log        zerolog.Logger
}

func NewMagicLinkService(
	quotations *repository.QuotationRepository,
	links *repository.MagicLinkRepository,
	activities *repository.ActivityRepository,
	cfg *config.Config,
	log zerolog.Logger,
) *MagicLinkService {
	return &MagicLinkService{
		quotations: quotations,
		links:      links,
		activities: activities,
		cfg:        cfg,
		log:        log,
	}
}

type IssueResult struct {
	Token     string
	URL       string
	ExpiresAt time.Time
	Quotation *model.Quotation
}

// Issue creates an opaque-token link. The quotation milestone and the link
// row each carry the expiry; both are written here so they stay consistent.
func (s *MagicLinkService) Issue(ctx context.Context, quotationID uuid.UUID, customerEmail string, ttlHours int) (*IssueResult, error) {
	quotation, link, err := s.issue(ctx, quotationID, customerEmail, ttlHours)
	if err != nil {
		return nil, err
	}
	return &IssueResult{
		Token:     link.Token,
		URL:       fmt.Sprintf("%s/quote-access/%s", s.cfg.Quotations.BaseURL, link.Token),
		ExpiresAt: link.ExpiresAt,
		Quotation: quotation,
	}, nil
}

// IssueSimplified produces the human-readable URL keyed by the quotation's
// display number. The row behind it is a regular magic link, so both URL
// shapes stay valid while either is in circulation.
func (s *MagicLinkService) IssueSimplified(ctx context.Context, quotationID uuid.UUID, customerEmail string) (*IssueResult, error) {
	quotation, link, err := s.issue(ctx, quotationID, customerEmail, 0)
	if err != nil {
		return nil, err
	}
	return &IssueResult{
		Token:     link.Token,
		URL:       fmt.Sprintf("%s/quote-access/QUO-%06d?token=%s", s.cfg.Quotations.BaseURL, quotation.QuoteNumber, link.Token),
		ExpiresAt: link.ExpiresAt,
		Quotation: quotation,
	}, nil
}

func (s *MagicLinkService) issue(ctx context.Context, quotationID uuid.UUID, customerEmail string, ttlHours int) (*model.Quotation, *model.MagicLink, error) {
	customerEmail = strings.TrimSpace(customerEmail)
	if customerEmail == "" {
		return nil, nil, fmt.Errorf("%w: customer_email is required", ErrInvalidInput)
	}

	quotation, err := s.quotations.GetByID(ctx, quotationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	if !strings.EqualFold(strings.TrimSpace(quotation.CustomerEmail), customerEmail) {
		return nil, nil, fmt.Errorf("%w: email does not match quotation customer", ErrPermissionDenied)
	}
	if quotation.Status.IsTerminal() {
		return nil, nil, fmt.Errorf("%w: quotation is %s", ErrConflict, quotation.Status)
	}

	if ttlHours <= 0 {
		ttlHours = s.cfg.Quotations.MagicLinkTTLHours
	}

	token, err := newToken()
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	link := &model.MagicLink{
		QuotationID:   quotation.ID,
		CustomerEmail: quotation.CustomerEmail,
		Token:         token,
		ExpiresAt:     now.Add(time.Duration(ttlHours) * time.Hour),
		CreatedAt:     now,
	}
	if err := s.links.Insert(ctx, link); err != nil {
		return nil, nil, err
	}

	if err := s.quotations.SetMagicLinkMilestone(ctx, quotation.ID, now, link.ExpiresAt); err != nil {
		return nil, nil, err
	}

	err = s.activities.Append(ctx, &model.Activity{
		QuotationID: quotation.ID,
		Action:      model.ActivityMagicLinkGenerated,
		Details: map[string]any{
			"expires_at": link.ExpiresAt.Format(time.RFC3339),
			"email":      quotation.CustomerEmail,
		},
	})
	if err != nil {
		s.log.Error().Err(err).Str("quotation_id", quotation.ID.String()).Msg("activity append failed")
	}

	return quotation, link, nil
}

// Validate resolves a token back to its quotation. An expired link fails
// with ErrExpired, distinguishable from an unknown token. Links are not
// consumed here; repeated visits are allowed.
func (s *MagicLinkService) Validate(ctx context.Context, token string, quotationID uuid.UUID) (*model.Quotation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}

	link, err := s.links.GetByToken(ctx, token, quotationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invalid magic link", ErrNotFound)
		}
		return nil, err
	}

	if time.Now().UTC().After(link.ExpiresAt) {
		return nil, fmt.Errorf("%w: magic link expired", ErrExpired)
	}

	quotation, err := s.quotations.GetByID(ctx, link.QuotationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return quotation, nil
}

// ValidateByQuoteNumber serves the simplified URL shape, which carries the
// display number instead of the quotation id. An unknown number reads the
// same as an unknown token.
func (s *MagicLinkService) ValidateByQuoteNumber(ctx context.Context, token string, quoteNumber int64) (*model.Quotation, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidInput)
	}

	quotation, err := s.quotations.GetByQuoteNumber(ctx, quoteNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invalid magic link", ErrNotFound)
		}
		return nil, err
	}
	return s.Validate(ctx, token, quotation.ID)
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
