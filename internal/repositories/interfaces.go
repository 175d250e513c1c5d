package repositories

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
)

// ===== SHARED FILTER STRUCTS =====

type AttemptFilters struct {
	State     *models.AttemptState `json:"state"`
	UserID    *string              `json:"user_id"`
	DateFrom  *time.Time           `json:"date_from"`
	DateTo    *time.Time           `json:"date_to"`
	Limit     int                  `json:"limit"`
	Offset    int                  `json:"offset"`
	SortBy    string               `json:"sort_by"`    // "started_at", "time_modified", "sum_grades"
	SortOrder string               `json:"sort_order"` // "asc", "desc"
}

// PoolFilters restricts the candidate pool for random slot resolution.
// CategoryIDs is the already-expanded scope (one id, or id + descendants).
type PoolFilters struct {
	CategoryIDs []uint   `json:"category_ids"`
	Tags        []string `json:"tags"` // AND semantics
	ContextID   uint     `json:"context_id"`
}

// PoolEntry is one candidate for random selection with its prior-usage count
// in the requested context.
type PoolEntry struct {
	QuestionID uint                `json:"question_id"`
	Kind       models.QuestionKind `json:"kind"`
	UsedCount  int                 `json:"used_count"`
}

// ===== STATISTICS STRUCTS =====

type AttemptStats struct {
	TotalAttempts   int                         `json:"total_attempts"`
	StateBreakdown  map[models.AttemptState]int `json:"state_breakdown"`
	AverageGrade    float64                     `json:"average_grade"`
	AverageDuration int                         `json:"average_duration"` // seconds
}

// ===== REPOSITORY INTERFACES =====

type AssessmentRepository interface {
	Create(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error)
	// GetByIDWithStructure loads the assessment with its slots and sections
	// ordered by slot number.
	GetByIDWithStructure(ctx context.Context, tx *gorm.DB, id uint) (*models.Assessment, error)
	Update(ctx context.Context, tx *gorm.DB, assessment *models.Assessment) error
	Delete(ctx context.Context, tx *gorm.DB, id uint) error
	List(ctx context.Context, tx *gorm.DB, courseID uint, limit, offset int) ([]*models.Assessment, int64, error)
}

type QuestionRepository interface {
	Create(ctx context.Context, tx *gorm.DB, question *models.Question) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Question, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uint) ([]*models.Question, error)

	// Pool reads the random-selection candidates for the expanded scope.
	// Ordering of the result is unspecified. An unknown category yields an
	// empty slice, not an error.
	Pool(ctx context.Context, tx *gorm.DB, filters PoolFilters) ([]PoolEntry, error)

	// IncrementUsage bumps the context-scoped usage counter of a question.
	IncrementUsage(ctx context.Context, tx *gorm.DB, questionID, contextID uint, now time.Time) error
	GetUsageCount(ctx context.Context, tx *gorm.DB, questionID, contextID uint) (int, error)
}

type QuestionCategoryRepository interface {
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.QuestionCategory, error)
	// SubtreeIDs returns the category id plus all descendant ids. An unknown
	// id yields an empty slice.
	SubtreeIDs(ctx context.Context, tx *gorm.DB, id uint) ([]uint, error)
	Create(ctx context.Context, tx *gorm.DB, category *models.QuestionCategory) error
}

type AttemptRepository interface {
	Create(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error
	GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)
	GetByIDWithSlots(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)
	// GetByIDForUpdate loads the attempt row under a row-level lock. Must be
	// called inside a transaction; every mutating transition goes through it.
	GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error)
	// UpdateVersioned persists the attempt only if its Version column still
	// matches, bumping it by one. Returns ErrStaleVersion on a lost race.
	UpdateVersioned(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error

	List(ctx context.Context, tx *gorm.DB, filters AttemptFilters) ([]*models.Attempt, int64, error)
	GetByUser(ctx context.Context, tx *gorm.DB, userID string, filters AttemptFilters) ([]*models.Attempt, int64, error)
	GetByAssessment(ctx context.Context, tx *gorm.DB, assessmentID uint, filters AttemptFilters) ([]*models.Attempt, int64, error)
	GetFinishedByUser(ctx context.Context, tx *gorm.DB, assessmentID uint, userID string) ([]*models.Attempt, error)
	GetActiveAttempt(ctx context.Context, tx *gorm.DB, assessmentID uint, userID string) (*models.Attempt, error)
	GetAttemptCount(ctx context.Context, tx *gorm.DB, assessmentID uint, userID string) (int, error)

	// GetDueForTimeCheck returns attempt ids whose time_check has passed,
	// for the batch sweep.
	GetDueForTimeCheck(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]uint, error)

	// Slot layout
	CreateSlots(ctx context.Context, tx *gorm.DB, slots []*models.AttemptSlot) error
	GetSlots(ctx context.Context, tx *gorm.DB, attemptID uint) ([]*models.AttemptSlot, error)
	AppendSlotResolution(ctx context.Context, tx *gorm.DB, slot *models.AttemptSlot) error

	GetStats(ctx context.Context, tx *gorm.DB, assessmentID uint) (*AttemptStats, error)
}

type OverrideRepository interface {
	// GetForUser returns every override applying to the user: their personal
	// override plus overrides for any of the given groups.
	GetForUser(ctx context.Context, tx *gorm.DB, assessmentID uint, userID string, groups []string) ([]*models.AssessmentOverride, error)
	Create(ctx context.Context, tx *gorm.DB, override *models.AssessmentOverride) error
}

type GradeRepository interface {
	Upsert(ctx context.Context, tx *gorm.DB, grade *models.AssessmentGrade) error
	Get(ctx context.Context, tx *gorm.DB, assessmentID uint, userID string) (*models.AssessmentGrade, error)
}

// UserRepository is the read-only identity-provider boundary.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
	// GetGroups returns the group ids the user belongs to, for group
	// override resolution.
	GetGroups(ctx context.Context, id string) ([]string, error)
}
