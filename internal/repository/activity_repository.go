package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/driventa/quotation-service/internal/model"
)

// ActivityRepository is an append-only sink. Rows are never updated or
// deleted; the newest matching entry doubles as "last known status" for
// notifications.
type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

func (r *ActivityRepository) Append(ctx context.Context, activity *model.Activity) error {
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(activity).Error
}

func (r *ActivityRepository) ListByQuotation(ctx context.Context, quotationID uuid.UUID) ([]model.Activity, error) {
	var activities []model.Activity
	err := r.db.WithContext(ctx).
		Where("quotation_id = ?", quotationID).
		Order("created_at DESC").
		Find(&activities).Error
	if err != nil {
		return nil, err
	}
	return activities, nil
}

// LastByActions returns the most recent entry whose action is in the set.
func (r *ActivityRepository) LastByActions(ctx context.Context, quotationID uuid.UUID, actions []string) (*model.Activity, error) {
	var activity model.Activity
	err := r.db.WithContext(ctx).
		Where("quotation_id = ? AND action IN ?", quotationID, actions).
		Order("created_at DESC").
		First(&activity).Error
	if err != nil {
		return nil, err
	}
	return &activity, nil
}
