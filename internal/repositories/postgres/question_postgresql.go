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

type QuestionPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewQuestionPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.QuestionRepository {
	return &QuestionPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (q *QuestionPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return q.db
}

func (q *QuestionPostgreSQL) Create(ctx context.Context, tx *gorm.DB, question *models.Question) error {
	db := q.getDB(tx)
	return db.WithContext(ctx).Create(question).Error
}

func (q *QuestionPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error) {
	db := q.getDB(tx)
	cacheKey := fmt.Sprintf("id:%d", id)
	var question models.Question

	err := q.cacheManager.Question.CacheOrExecute(ctx, cacheKey, &question, cache.QuestionCacheConfig.TTL, func() (interface{}, error) {
		var dbQuestion models.Question
		if err := db.WithContext(ctx).First(&dbQuestion, id).Error; err != nil {
			return nil, err
		}
		return &dbQuestion, nil
	})
	if err != nil {
		return nil, err
	}

	return &question, nil
}

func (q *QuestionPostgreSQL) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db := q.getDB(tx)
	var questions []*models.Question
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("failed to get questions by ids: %w", err)
	}
	return questions, nil
}

// Pool reads the candidate list for random selection, joining prior-usage
// counts for the requested context. Tag filtering uses JSONB containment, one
// predicate per tag (AND semantics). Result order is unspecified.
func (q *QuestionPostgreSQL) Pool(ctx context.Context, tx *gorm.DB, filters repositories.PoolFilters) ([]repositories.PoolEntry, error) {
	if len(filters.CategoryIDs) == 0 {
		return []repositories.PoolEntry{}, nil
	}

	db := q.getDB(tx)
	query := db.WithContext(ctx).
		Model(&models.Question{}).
		Select("questions.id AS question_id, questions.kind AS kind, COALESCE(qu.used_count, 0) AS used_count").
		Joins("LEFT JOIN question_usages qu ON qu.question_id = questions.id AND qu.context_id = ?", filters.ContextID).
		Where("questions.category_id IN ?", filters.CategoryIDs)

	for _, tag := range filters.Tags {
		query = query.Where("questions.tags @> ?", fmt.Sprintf("[%q]", tag))
	}

	var entries []repositories.PoolEntry
	if err := query.Scan(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to read question pool: %w", err)
	}
	if entries == nil {
		entries = []repositories.PoolEntry{}
	}
	return entries, nil
}

func (q *QuestionPostgreSQL) IncrementUsage(ctx context.Context, tx *gorm.DB, questionID, contextID uint, now time.Time) error {
	db := q.getDB(tx)
	usage := models.QuestionUsage{
		QuestionID: questionID,
		ContextID:  contextID,
		UsedCount:  1,
		LastUsedAt: now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "question_id"}, {Name: "context_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"used_count":   gorm.Expr("question_usages.used_count + 1"),
				"last_used_at": now,
				"updated_at":   now,
			}),
		}).
		Create(&usage).Error
}

func (q *QuestionPostgreSQL) GetUsageCount(ctx context.Context, tx *gorm.DB, questionID, contextID uint) (int, error) {
	db := q.getDB(tx)
	var usage models.QuestionUsage
	err := db.WithContext(ctx).
		Where("question_id = ? AND context_id = ?", questionID, contextID).
		First(&usage).Error
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage count: %w", err)
	}
	return usage.UsedCount, nil
}
