package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Repository aggregates all repository interfaces of the delivery service.
type Repository interface {
	Assessment() AssessmentRepository
	Question() QuestionRepository
	QuestionCategory() QuestionCategoryRepository
	Attempt() AttemptRepository
	Override() OverrideRepository
	Grade() GradeRepository

	// User domain (read-only, served by the identity provider)
	User() UserRepository

	// Transaction support
	WithTransaction(ctx context.Context, fn func(Repository) error) error

	// Health check
	Ping(ctx context.Context) error

	// Close connections
	Close() error
}

// RepositoryManager manages repository lifecycle.
type RepositoryManager interface {
	Initialize() error
	GetRepository() Repository
	HealthCheck(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// ErrStaleVersion is returned by versioned updates when the row changed
// underneath the caller. Surfaced to services as a retryable conflict.
var ErrStaleVersion = errors.New("repositories: stale row version")

// IsNotFoundError reports whether err means the requested record does not
// exist, regardless of which layer wrapped it.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsStaleVersionError reports whether err is a lost optimistic-concurrency
// race.
func IsStaleVersionError(err error) bool {
	return errors.Is(err, ErrStaleVersion)
}
