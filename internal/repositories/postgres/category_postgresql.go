package postgres

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/cache"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
)

type CategoryPostgreSQL struct {
	db           *gorm.DB
	cacheManager *cache.CacheManager
}

func NewCategoryPostgreSQL(db *gorm.DB, redisClient *redis.Client) repositories.QuestionCategoryRepository {
	return &CategoryPostgreSQL{
		db:           db,
		cacheManager: cache.NewCacheManager(redisClient),
	}
}

func (c *CategoryPostgreSQL) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return c.db
}

func (c *CategoryPostgreSQL) Create(ctx context.Context, tx *gorm.DB, category *models.QuestionCategory) error {
	db := c.getDB(tx)
	return db.WithContext(ctx).Create(category).Error
}

func (c *CategoryPostgreSQL) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionCategory, error) {
	db := c.getDB(tx)
	var category models.QuestionCategory
	if err := db.WithContext(ctx).First(&category, id).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

// SubtreeIDs expands a category to itself plus all descendants using a
// recursive CTE. The expansion is cached; category trees change rarely.
func (c *CategoryPostgreSQL) SubtreeIDs(ctx context.Context, tx *gorm.DB, id uint) ([]uint, error) {
	db := c.getDB(tx)
	cacheKey := fmt.Sprintf("subtree:%d", id)
	var ids []uint

	err := c.cacheManager.Question.CacheOrExecute(ctx, cacheKey, &ids, cache.QuestionCacheConfig.TTL, func() (interface{}, error) {
		var dbIDs []uint
		err := db.WithContext(ctx).Raw(`
			WITH RECURSIVE subtree AS (
				SELECT id FROM question_categories WHERE id = ?
				UNION ALL
				SELECT qc.id FROM question_categories qc
				JOIN subtree s ON qc.parent_id = s.id
			)
			SELECT id FROM subtree`, id).Scan(&dbIDs).Error
		if err != nil {
			return nil, fmt.Errorf("failed to expand category subtree: %w", err)
		}
		return dbIDs, nil
	})
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []uint{}
	}
	return ids, nil
}
