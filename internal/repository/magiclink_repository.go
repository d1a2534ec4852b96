package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/driventa/quotation-service/internal/model"
)

type MagicLinkRepository struct {
	db *gorm.DB
}

func NewMagicLinkRepository(db *gorm.DB) *MagicLinkRepository {
	return &MagicLinkRepository{db: db}
}

func (r *MagicLinkRepository) Insert(ctx context.Context, link *model.MagicLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(link).Error
}

// GetByToken looks a link up by (token, quotation_id). A token issued for a
// different quotation is indistinguishable from an unknown token.
func (r *MagicLinkRepository) GetByToken(ctx context.Context, token string, quotationID uuid.UUID) (*model.MagicLink, error) {
	var link model.MagicLink
	err := r.db.WithContext(ctx).
		First(&link, "token = ? AND quotation_id = ?", token, quotationID).Error
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// MarkUsed redeems a link in a single conditional update so simultaneous
// redemptions of the same token cannot both succeed. Returns false when the
// link was already used or has expired. Not called from the request path while
// links remain multi-use.
func (r *MagicLinkRepository) MarkUsed(ctx context.Context, token string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.MagicLink{}).
		Where("token = ? AND is_used = ? AND expires_at > ?", token, false, now).
		Updates(map[string]any{
			"is_used": true,
			"used_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
