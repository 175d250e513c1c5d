package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/cache"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
)

type AttemptPostgreSQL struct {
	db           *gorm.DB
	helpers      *SharedHelpers
	cacheManager *cache.CacheManager
}

func NewAttemptPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.AttemptRepository {
	return &AttemptPostgreSQL{
		db:           db,
		helpers:      NewSharedHelpers(db),
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (a *AttemptPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return a.db
}

func (a *AttemptPostgreSQL) Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	db := a.getDB(tx)
	return db.WithContext(ctx).Create(attempt).Error
}

func (a *AttemptPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	db := a.getDB(tx)
	var attempt models.Attempt
	if err := db.WithContext(ctx).First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetByIDWithSlots(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	db := a.getDB(tx)
	var attempt models.Attempt
	if err := db.WithContext(ctx).
		Preload("Slots", func(db *gorm.DB) *gorm.DB {
			return db.Order("slot_number ASC, sequence ASC")
		}).
		First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// GetByIDForUpdate takes a row-level lock so concurrent transitions on the
// same attempt serialize. Callers must pass the transaction handle.
func (a *AttemptPostgreSQL) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	if tx == nil {
		return nil, fmt.Errorf("GetByIDForUpdate requires a transaction")
	}
	var attempt models.Attempt
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&attempt, id).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// UpdateVersioned saves the attempt guarded by its version column. A zero
// rows-affected update means another transition won the race.
func (a *AttemptPostgreSQL) UpdateVersioned(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	db := a.getDB(tx)
	previous := attempt.Version
	attempt.Version = previous + 1

	result := db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("id = ? AND version = ?", attempt.ID, previous).
		Select("state", "finished_at", "time_modified", "time_check", "current_page", "sum_grades", "version", "updated_at").
		Updates(attempt)
	if result.Error != nil {
		attempt.Version = previous
		return result.Error
	}
	if result.RowsAffected == 0 {
		attempt.Version = previous
		return repositories.ErrStaleVersion
	}
	return nil
}

func (a *AttemptPostgreSQL) List(ctx context.Context, tx *gorm.DB, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	db := a.getDB(tx)
	query := db.WithContext(ctx).Model(&models.Attempt{})
	query = a.helpers.ApplyAttemptFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = a.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	var attempts []*models.Attempt
	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

func (a *AttemptPostgreSQL) GetByUser(ctx context.Context, tx *gorm.DB, userID string, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	filters.UserID = &userID
	return a.List(ctx, tx, filters)
}

func (a *AttemptPostgreSQL) GetByAssessment(ctx context.Context, tx *gorm.DB, assessmentID uint, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	db := a.getDB(tx)
	query := db.WithContext(ctx).Model(&models.Attempt{}).Where("assessment_id = ?", assessmentID)
	query = a.helpers.ApplyAttemptFilters(query, filters)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = a.helpers.ApplyPaginationAndSort(query, filters.SortBy, filters.SortOrder, filters.Limit, filters.Offset)

	var attempts []*models.Attempt
	if err := query.Find(&attempts).Error; err != nil {
		return nil, 0, err
	}
	return attempts, total, nil
}

func (a *AttemptPostgreSQL) GetFinishedByUser(ctx context.Context, tx *gorm.DB, assessmentID uint, userID string) ([]*models.Attempt, error) {
	db := a.getDB(tx)
	var attempts []*models.Attempt
	if err := db.WithContext(ctx).
		Where("assessment_id = ? AND user_id = ? AND state = ? AND is_preview = false",
			assessmentID, userID, models.AttemptFinished).
		Order("attempt_number ASC").
		Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("failed to get finished attempts: %w", err)
	}
	return attempts, nil
}

func (a *AttemptPostgreSQL) GetActiveAttempt(ctx context.Context, tx *gorm.DB, assessmentID uint, userID string) (*models.Attempt, error) {
	db := a.getDB(tx)
	var attempt models.Attempt
	if err := db.WithContext(ctx).
		Where("assessment_id = ? AND user_id = ? AND state IN ?",
			assessmentID, userID, []models.AttemptState{models.AttemptInProgress, models.AttemptOverdue}).
		Order("attempt_number DESC").
		First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (a *AttemptPostgreSQL) GetAttemptCount(ctx context.Context, tx *gorm.DB, assessmentID uint, userID string) (int, error) {
	db := a.getDB(tx)
	var count int64
	err := db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("assessment_id = ? AND user_id = ? AND is_preview = false", assessmentID, userID).
		Count(&count).Error
	return int(count), err
}

func (a *AttemptPostgreSQL) GetDueForTimeCheck(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]uint, error) {
	db := a.getDB(tx)
	query := db.WithContext(ctx).
		Model(&models.Attempt{}).
		Where("time_check IS NOT NULL AND time_check <= ?", now).
		Where("state IN ?", []models.AttemptState{models.AttemptInProgress, models.AttemptOverdue}).
		Order("time_check ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []uint
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to get due attempts: %w", err)
	}
	return ids, nil
}

func (a *AttemptPostgreSQL) CreateSlots(ctx context.Context, tx *gorm.DB, slots []*models.AttemptSlot) error {
	if len(slots) == 0 {
		return nil
	}
	db := a.getDB(tx)
	return db.WithContext(ctx).Create(slots).Error
}

func (a *AttemptPostgreSQL) GetSlots(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptSlot, error) {
	db := a.getDB(tx)
	var slots []*models.AttemptSlot
	if err := db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Order("slot_number ASC, sequence ASC").
		Find(&slots).Error; err != nil {
		return nil, err
	}
	return slots, nil
}

func (a *AttemptPostgreSQL) AppendSlotResolution(ctx context.Context, tx *gorm.DB, slot *models.AttemptSlot) error {
	db := a.getDB(tx)
	return db.WithContext(ctx).Create(slot).Error
}

func (a *AttemptPostgreSQL) GetStats(ctx context.Context, tx *gorm.DB, assessmentID uint) (*repositories.AttemptStats, error) {
	db := a.getDB(tx)
	cacheKey := fmt.Sprintf("attempts:%d", assessmentID)
	var stats repositories.AttemptStats

	err := a.cacheManager.Stats.CacheOrExecute(ctx, cacheKey, &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		result := repositories.AttemptStats{
			StateBreakdown: make(map[models.AttemptState]int),
		}

		var rows []struct {
			State models.AttemptState
			Count int
		}
		if err := db.WithContext(ctx).
			Model(&models.Attempt{}).
			Select("state, COUNT(*) AS count").
			Where("assessment_id = ?", assessmentID).
			Group("state").
			Scan(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to get attempt state breakdown: %w", err)
		}
		for _, row := range rows {
			result.StateBreakdown[row.State] = row.Count
			result.TotalAttempts += row.Count
		}

		var agg struct {
			AvgGrade    float64
			AvgDuration float64
		}
		if err := db.WithContext(ctx).
			Model(&models.Attempt{}).
			Select("COALESCE(AVG(sum_grades), 0) AS avg_grade, COALESCE(AVG(EXTRACT(EPOCH FROM (finished_at - started_at))), 0) AS avg_duration").
			Where("assessment_id = ? AND state = ?", assessmentID, models.AttemptFinished).
			Scan(&agg).Error; err != nil {
			return nil, fmt.Errorf("failed to get attempt aggregates: %w", err)
		}
		result.AverageGrade = agg.AvgGrade
		result.AverageDuration = int(agg.AvgDuration)

		return &result, nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
