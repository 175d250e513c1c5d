package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/kinds"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/validator"
)

// fakeAttemptRepo serves one attempt and counts writes. The embedded
// interface panics on any method the code under test must not reach.
type fakeAttemptRepo struct {
	repositories.AttemptRepository
	attempt *models.Attempt
	updates int
}

func (f *fakeAttemptRepo) GetByID(ctx context.Context, tx *gorm.DB, id uint) (*models.Attempt, error) {
	if f.attempt == nil || f.attempt.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	a := *f.attempt
	return &a, nil
}

func (f *fakeAttemptRepo) UpdateVersioned(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	f.updates++
	return nil
}

type fakeServiceRepo struct {
	repositories.Repository
	attempts *fakeAttemptRepo
}

func (f *fakeServiceRepo) Attempt() repositories.AttemptRepository { return f.attempts }

// User satisfies the eager repo.User() call in NewAttemptService; the nil
// repository still panics if any user lookup is actually reached.
func (f *fakeServiceRepo) User() repositories.UserRepository { return nil }

func TestGetByIDChecksOwnershipBeforeTiming(t *testing.T) {
	now := baseTime
	due := baseTime.Add(-time.Minute)
	attempts := &fakeAttemptRepo{
		attempt: &models.Attempt{
			ID:           1,
			AssessmentID: 10,
			UserID:       "user-owner",
			State:        models.AttemptInProgress,
			StartedAt:    baseTime.Add(-time.Hour),
			TimeCheck:    &due,
			Version:      1,
		},
	}
	repo := &fakeServiceRepo{attempts: attempts}
	svc := NewAttemptService(nil, repo, nil, nil, kinds.Default(), validator.New(), testLogger())

	// The attempt's time check is long due, but a foreign caller must get
	// the permission error without any transition being applied.
	_, err := svc.GetByID(context.Background(), 1, "user-other", now)
	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if attempts.updates != 0 {
		t.Errorf("attempt was written %d times during a denied read", attempts.updates)
	}

	t.Run("unknown attempt", func(t *testing.T) {
		_, err := svc.GetByID(context.Background(), 2, "user-other", now)
		if !errors.Is(err, ErrAttemptNotFound) {
			t.Fatalf("expected ErrAttemptNotFound, got %v", err)
		}
	})
}
