package services

import (
	"context"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
)

// ===== DTOs =====

type CreateAttemptRequest struct {
	AssessmentID uint   `json:"assessment_id" validate:"required"`
	UserID       string `json:"user_id" validate:"required"`
	IsPreview    bool   `json:"is_preview"`

	// ForcedQuestions pins specific questions to random slots, keyed by slot
	// number. Each pinned question must belong to the slot's eligible pool.
	ForcedQuestions map[int]uint `json:"forced_questions,omitempty"`
}

type SubmitPageRequest struct {
	Page          int  `json:"page"`
	FinishAttempt bool `json:"finish_attempt"`
	TimeUp        bool `json:"time_up"`
}

type AttemptResponse struct {
	*models.Attempt
	Deadline *time.Time `json:"deadline,omitempty"`
	TimeLeft *int       `json:"time_left_seconds,omitempty"`
}

type AttemptListResponse struct {
	Attempts []*models.Attempt `json:"attempts"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// ===== Service interfaces =====

type AttemptService interface {
	Create(ctx context.Context, req *CreateAttemptRequest, now time.Time) (*AttemptResponse, error)

	// SubmitPage processes an in-progress submission. finish requests explicit
	// finalization; timeUp marks the submission as triggered by the countdown
	// reaching zero, which routes through the assessment's overdue policy.
	SubmitPage(ctx context.Context, attemptID uint, userID string, req *SubmitPageRequest, now time.Time) (models.AttemptState, error)

	// EvaluateDeadline applies any due timing transition to the attempt and
	// returns the resulting state. Safe to call at any time; a no-op when the
	// attempt is terminal or its deadline has not passed.
	EvaluateDeadline(ctx context.Context, attemptID uint, now time.Time) (models.AttemptState, error)

	// SweepOverdue evaluates every attempt whose scheduled time check has
	// passed. Returns the number of attempts processed.
	SweepOverdue(ctx context.Context, now time.Time, limit int) (int, error)

	// RedoSlot draws a fresh question for a random slot of an in-progress
	// attempt, excluding everything the attempt already uses.
	RedoSlot(ctx context.Context, attemptID uint, slotNumber int, userID string, now time.Time) (*models.AttemptSlot, error)

	GetByID(ctx context.Context, id uint, userID string, now time.Time) (*AttemptResponse, error)
	GetSlots(ctx context.Context, attemptID uint, userID string) ([]*models.AttemptSlot, error)
	List(ctx context.Context, filters repositories.AttemptFilters) (*AttemptListResponse, error)
	GetStats(ctx context.Context, assessmentID uint) (*repositories.AttemptStats, error)
}

type ExportService interface {
	// ExportAttempts builds a spreadsheet of finished attempts and computed
	// grades for one assessment.
	ExportAttempts(ctx context.Context, assessmentID uint) (*excelize.File, error)
}

type ServiceManager interface {
	Attempt() AttemptService
	Export() ExportService
	HealthCheck(ctx context.Context) error
	Shutdown() error
}
