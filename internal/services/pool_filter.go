package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/kinds"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
)

// PoolScope identifies one random pool: a category (optionally with its
// whole subtree) narrowed by required tags. Slots with equal scopes share
// a pool during selection.
type PoolScope struct {
	CategoryID           uint
	IncludeSubcategories bool
	Tags                 []string
}

// Key returns a canonical cache key for the scope. Tag order is irrelevant.
func (s PoolScope) Key() string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(s.CategoryID), 10))
	if s.IncludeSubcategories {
		b.WriteString("|sub")
	}
	if len(s.Tags) > 0 {
		tags := append([]string(nil), s.Tags...)
		sort.Strings(tags)
		b.WriteString("|")
		b.WriteString(strings.Join(tags, ","))
	}
	return b.String()
}

// PoolSource produces the eligible question ids for a scope.
type PoolSource interface {
	Filter(ctx context.Context, scope PoolScope) ([]uint, error)
}

// AccessChecker decides whether a question may be served to a user. The
// default implementation only requires an active user account; deployments
// with finer-grained question permissions plug in their own.
type AccessChecker interface {
	CanUse(ctx context.Context, questionID uint, userID string) (bool, error)
}

type userAccessChecker struct {
	users repositories.UserRepository
}

func NewUserAccessChecker(users repositories.UserRepository) AccessChecker {
	return &userAccessChecker{users: users}
}

func (c *userAccessChecker) CanUse(ctx context.Context, _ uint, userID string) (bool, error) {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve user %s: %w", userID, err)
	}
	return user != nil && user.IsActive, nil
}

// PoolFilter implements PoolSource on top of the question store. It expands
// category subtrees, applies tag matching in the database, and drops
// questions whose kind cannot take part in random selection or that the
// acting user may not use.
type PoolFilter struct {
	questions  repositories.QuestionRepository
	categories repositories.QuestionCategoryRepository
	registry   *kinds.Registry
	access     AccessChecker
	contextID  uint
	userID     string
	logger     *slog.Logger
}

func NewPoolFilter(
	questions repositories.QuestionRepository,
	categories repositories.QuestionCategoryRepository,
	registry *kinds.Registry,
	access AccessChecker,
	contextID uint,
	userID string,
	logger *slog.Logger,
) *PoolFilter {
	return &PoolFilter{
		questions:  questions,
		categories: categories,
		registry:   registry,
		access:     access,
		contextID:  contextID,
		userID:     userID,
		logger:     logger,
	}
}

func (f *PoolFilter) Filter(ctx context.Context, scope PoolScope) ([]uint, error) {
	categoryIDs, err := f.resolveCategories(ctx, scope)
	if err != nil {
		return nil, err
	}
	if len(categoryIDs) == 0 {
		return []uint{}, nil
	}

	entries, err := f.questions.Pool(ctx, nil, repositories.PoolFilters{
		CategoryIDs: categoryIDs,
		Tags:        scope.Tags,
		ContextID:   f.contextID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load question pool: %w", err)
	}

	eligible := make([]uint, 0, len(entries))
	for _, entry := range entries {
		if !f.registry.UsableByRandom(entry.Kind) {
			continue
		}
		ok, err := f.access.CanUse(ctx, entry.QuestionID, f.userID)
		if err != nil {
			f.logger.Warn("Skipping question after access check failure",
				"question_id", entry.QuestionID,
				"user_id", f.userID,
				"error", err)
			continue
		}
		if !ok {
			continue
		}
		eligible = append(eligible, entry.QuestionID)
	}
	return eligible, nil
}

func (f *PoolFilter) resolveCategories(ctx context.Context, scope PoolScope) ([]uint, error) {
	if !scope.IncludeSubcategories {
		return []uint{scope.CategoryID}, nil
	}
	ids, err := f.categories.SubtreeIDs(ctx, nil, scope.CategoryID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			// Unknown category resolves to an empty pool, not an error.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to expand category subtree %d: %w", scope.CategoryID, err)
	}
	return ids, nil
}
