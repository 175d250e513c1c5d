package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
)

type OverridePostgreSQL struct {
	db *gorm.DB
}

func NewOverridePostgreSQL(db *gorm.DB) repositories.OverrideRepository {
	return &OverridePostgreSQL{db: db}
}

func (o *OverridePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return o.db
}

func (o *OverridePostgreSQL) Create(ctx context.Context, tx *gorm.DB, override *models.AssessmentOverride) error {
	db := o.getDB(tx)
	return db.WithContext(ctx).Create(override).Error
}

// GetForUser loads the user's personal override plus any override for one of
// their groups, in one query.
func (o *OverridePostgreSQL) GetForUser(ctx context.Context, tx *gorm.DB, assessmentID uint, userID string, groups []string) ([]*models.AssessmentOverride, error) {
	db := o.getDB(tx)
	query := db.WithContext(ctx).Where("assessment_id = ?", assessmentID)

	if len(groups) > 0 {
		query = query.Where("user_id = ? OR group_id IN ?", userID, groups)
	} else {
		query = query.Where("user_id = ?", userID)
	}

	var overrides []*models.AssessmentOverride
	if err := query.Find(&overrides).Error; err != nil {
		return nil, fmt.Errorf("failed to get overrides: %w", err)
	}
	return overrides, nil
}
