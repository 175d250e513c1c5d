package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/kinds"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
)

// fakeQuestionRepo serves a fixed pool and records the filters it saw.
type fakeQuestionRepo struct {
	entries     []repositories.PoolEntry
	lastFilters repositories.PoolFilters
	usage       map[uint]int
}

func (f *fakeQuestionRepo) Create(context.Context, *gorm.DB, *models.Question) error { return nil }
func (f *fakeQuestionRepo) GetByID(context.Context, *gorm.DB, uint) (*models.Question, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeQuestionRepo) GetByIDs(context.Context, *gorm.DB, []uint) ([]*models.Question, error) {
	return nil, nil
}

func (f *fakeQuestionRepo) Pool(_ context.Context, _ *gorm.DB, filters repositories.PoolFilters) ([]repositories.PoolEntry, error) {
	f.lastFilters = filters
	return f.entries, nil
}

func (f *fakeQuestionRepo) IncrementUsage(_ context.Context, _ *gorm.DB, questionID, _ uint, _ time.Time) error {
	if f.usage == nil {
		f.usage = make(map[uint]int)
	}
	f.usage[questionID]++
	return nil
}

func (f *fakeQuestionRepo) GetUsageCount(context.Context, *gorm.DB, uint, uint) (int, error) {
	return 0, nil
}

type fakeCategoryRepo struct {
	subtrees map[uint][]uint
	calls    int
}

func (f *fakeCategoryRepo) GetByID(context.Context, *gorm.DB, uint) (*models.QuestionCategory, error) {
	return nil, gorm.ErrRecordNotFound
}
func (f *fakeCategoryRepo) Create(context.Context, *gorm.DB, *models.QuestionCategory) error {
	return nil
}

func (f *fakeCategoryRepo) SubtreeIDs(_ context.Context, _ *gorm.DB, id uint) ([]uint, error) {
	f.calls++
	return f.subtrees[id], nil
}

// allowAllChecker / denyListChecker stand in for the capability boundary.
type allowAllChecker struct{}

func (allowAllChecker) CanUse(context.Context, uint, string) (bool, error) { return true, nil }

type denyListChecker struct{ denied map[uint]bool }

func (c denyListChecker) CanUse(_ context.Context, questionID uint, _ string) (bool, error) {
	return !c.denied[questionID], nil
}

func newTestFilter(questions *fakeQuestionRepo, categories *fakeCategoryRepo, access AccessChecker) *PoolFilter {
	return NewPoolFilter(questions, categories, kinds.Default(), access, 77, "u1", testLogger())
}

func TestPoolFilterKinds(t *testing.T) {
	questions := &fakeQuestionRepo{entries: []repositories.PoolEntry{
		{QuestionID: 1, Kind: models.KindMultipleChoice},
		{QuestionID: 2, Kind: models.KindDescription},
		{QuestionID: 3, Kind: models.KindTrueFalse},
	}}
	filter := newTestFilter(questions, &fakeCategoryRepo{}, allowAllChecker{})

	ids, err := filter.Filter(context.Background(), PoolScope{CategoryID: 5})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Errorf("ids = %v, want [1 3] (description kind excluded)", ids)
	}
}

func TestPoolFilterAccessCheck(t *testing.T) {
	questions := &fakeQuestionRepo{entries: []repositories.PoolEntry{
		{QuestionID: 1, Kind: models.KindMultipleChoice},
		{QuestionID: 2, Kind: models.KindMultipleChoice},
	}}
	filter := newTestFilter(questions, &fakeCategoryRepo{}, denyListChecker{denied: map[uint]bool{1: true}})

	ids, err := filter.Filter(context.Background(), PoolScope{CategoryID: 5})
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("ids = %v, want [2]", ids)
	}
}

func TestPoolFilterSubtreeExpansion(t *testing.T) {
	questions := &fakeQuestionRepo{}
	categories := &fakeCategoryRepo{subtrees: map[uint][]uint{
		5: {5, 6, 7},
	}}
	filter := newTestFilter(questions, categories, allowAllChecker{})

	t.Run("single category skips the tree walk", func(t *testing.T) {
		if _, err := filter.Filter(context.Background(), PoolScope{CategoryID: 5}); err != nil {
			t.Fatalf("filter failed: %v", err)
		}
		if categories.calls != 0 {
			t.Error("subtree expanded for a non-recursive scope")
		}
		if got := questions.lastFilters.CategoryIDs; len(got) != 1 || got[0] != 5 {
			t.Errorf("category ids = %v, want [5]", got)
		}
	})

	t.Run("subtree scope expands", func(t *testing.T) {
		if _, err := filter.Filter(context.Background(), PoolScope{CategoryID: 5, IncludeSubcategories: true}); err != nil {
			t.Fatalf("filter failed: %v", err)
		}
		if got := questions.lastFilters.CategoryIDs; len(got) != 3 {
			t.Errorf("category ids = %v, want the subtree [5 6 7]", got)
		}
	})

	t.Run("unknown subtree yields empty pool", func(t *testing.T) {
		ids, err := filter.Filter(context.Background(), PoolScope{CategoryID: 999, IncludeSubcategories: true})
		if err != nil {
			t.Fatalf("filter failed: %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("ids = %v, want empty", ids)
		}
	})
}

func TestPoolFilterPassesTagsAndContext(t *testing.T) {
	questions := &fakeQuestionRepo{}
	filter := newTestFilter(questions, &fakeCategoryRepo{}, allowAllChecker{})

	scope := PoolScope{CategoryID: 5, Tags: []string{"algebra", "easy"}}
	if _, err := filter.Filter(context.Background(), scope); err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if len(questions.lastFilters.Tags) != 2 {
		t.Errorf("tags = %v, want both tags forwarded", questions.lastFilters.Tags)
	}
	if questions.lastFilters.ContextID != 77 {
		t.Errorf("context id = %d, want 77", questions.lastFilters.ContextID)
	}
}
