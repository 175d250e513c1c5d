package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
)

type GradePostgreSQL struct {
	db *gorm.DB
}

func NewGradePostgreSQL(db *gorm.DB) repositories.GradeRepository {
	return &GradePostgreSQL{db: db}
}

func (g *GradePostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return g.db
}

func (g *GradePostgreSQL) Upsert(ctx context.Context, tx *gorm.DB, grade *models.AssessmentGrade) error {
	db := g.getDB(tx)
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "assessment_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"grade", "updated_at"}),
		}).
		Create(grade).Error
}

func (g *GradePostgreSQL) Get(ctx context.Context, tx *gorm.DB, assessmentID uint, userID string) (*models.AssessmentGrade, error) {
	db := g.getDB(tx)
	var grade models.AssessmentGrade
	if err := db.WithContext(ctx).
		Where("assessment_id = ? AND user_id = ?", assessmentID, userID).
		First(&grade).Error; err != nil {
		return nil, err
	}
	return &grade, nil
}
