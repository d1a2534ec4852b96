package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/driventa/quotation-service/internal/model"
)

type QuotationRepository struct {
	db *gorm.DB
}

func NewQuotationRepository(db *gorm.DB) *QuotationRepository {
	return &QuotationRepository{db: db}
}

// Create inserts the quotation with its items and package references in one
// transaction, assigning the next sequential quote number.
func (r *QuotationRepository) Create(
	ctx context.Context,
	quotation *model.Quotation,
	items []model.QuotationItem,
	packageIDs []uuid.UUID,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		nextNumber, err := nextQuoteNumber(tx)
		if err != nil {
			return err
		}
		quotation.QuoteNumber = nextNumber

		if err := tx.Omit("Items", "Packages").Create(quotation).Error; err != nil {
			return err
		}

		for i := range items {
			items[i].QuotationID = quotation.ID
			if items[i].ID == uuid.Nil {
				items[i].ID = uuid.New()
			}
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}

		for _, packageID := range packageIDs {
			err := tx.Exec(
				`INSERT INTO quotation_packages (quotation_id, pricing_package_id) VALUES (?, ?)`,
				quotation.ID, packageID,
			).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// nextQuoteNumber allocates the next sequential display number inside the
// caller's transaction. The counter row is seeded lazily from the current
// maximum; the UPDATE locks it, so two concurrent creates cannot observe the
// same value.
func nextQuoteNumber(tx *gorm.DB) (int64, error) {
	err := tx.Exec(`INSERT INTO quote_counters (id, value)
		SELECT 1, COALESCE(MAX(quote_number), 0) FROM quotations WHERE TRUE
		ON CONFLICT (id) DO NOTHING`).Error
	if err != nil {
		return 0, err
	}
	if err := tx.Exec(`UPDATE quote_counters SET value = value + 1 WHERE id = 1`).Error; err != nil {
		return 0, err
	}
	var next int64
	if err := tx.Raw(`SELECT value FROM quote_counters WHERE id = 1`).Scan(&next).Error; err != nil {
		return 0, err
	}
	return next, nil
}

func (r *QuotationRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Quotation, error) {
	var quotation model.Quotation
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("Packages").
		First(&quotation, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &quotation, nil
}

func (r *QuotationRepository) GetByQuoteNumber(ctx context.Context, quoteNumber int64) (*model.Quotation, error) {
	var quotation model.Quotation
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		Preload("Packages").
		First(&quotation, "quote_number = ?", quoteNumber).Error
	if err != nil {
		return nil, err
	}
	return &quotation, nil
}

// TransitionStatus performs the conditional status update that makes
// concurrent conflicting actions resolve with one winner: the row only
// changes when it still holds one of the expected predecessor statuses.
// Returns the number of rows changed; zero means the caller lost the race
// or requested an invalid transition.
func (r *QuotationRepository) TransitionStatus(
	ctx context.Context,
	id uuid.UUID,
	expected []model.QuotationStatus,
	next model.QuotationStatus,
	updates map[string]any,
) (int64, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = next
	updates["updated_at"] = time.Now().UTC()

	result := r.db.WithContext(ctx).
		Model(&model.Quotation{}).
		Where("id = ? AND status IN ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ReplaceItems swaps the full item set. Item-level edits are only allowed as
// full replacement once a quotation exists.
func (r *QuotationRepository) ReplaceItems(
	ctx context.Context,
	quotationID uuid.UUID,
	items []model.QuotationItem,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("quotation_id = ?", quotationID).
			Delete(&model.QuotationItem{}).Error
		if err != nil {
			return err
		}
		for i := range items {
			items[i].QuotationID = quotationID
			if items[i].ID == uuid.Nil {
				items[i].ID = uuid.New()
			}
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
}

func (r *QuotationRepository) UpdateTotals(ctx context.Context, id uuid.UUID, amount, totalAmount int64) error {
	return r.db.WithContext(ctx).
		Model(&model.Quotation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"amount":       amount,
			"total_amount": totalAmount,
			"updated_at":   time.Now().UTC(),
		}).Error
}

// SetMagicLinkMilestone records the quotation-side copy of the link expiry.
// The MagicLink row carries its own; the two are written from the same
// issuance call so they stay consistent.
func (r *QuotationRepository) SetMagicLinkMilestone(ctx context.Context, id uuid.UUID, generatedAt, expiresAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Quotation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"magic_link_generated_at": generatedAt,
			"magic_link_expires_at":   expiresAt,
			"updated_at":              time.Now().UTC(),
		}).Error
}

func (r *QuotationRepository) GetPackages(ctx context.Context, ids []uuid.UUID) ([]model.PricingPackage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var packages []model.PricingPackage
	err := r.db.WithContext(ctx).
		Where("id IN ? AND is_active", ids).
		Order("sort_order ASC").
		Find(&packages).Error
	if err != nil {
		return nil, err
	}
	return packages, nil
}

func (r *QuotationRepository) GetPromotionByCode(ctx context.Context, code string) (*model.PricingPromotion, error) {
	var promotion model.PricingPromotion
	err := r.db.WithContext(ctx).First(&promotion, "code = ?", code).Error
	if err != nil {
		return nil, err
	}
	return &promotion, nil
}
