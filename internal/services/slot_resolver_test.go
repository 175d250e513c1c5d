package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"testing"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func uintPtr(v uint) *uint { return &v }

func staticSlot(number, page int, questionID uint) models.AssessmentSlot {
	return models.AssessmentSlot{
		SlotNumber: number,
		Page:       page,
		MaxMark:    1,
		QuestionID: uintPtr(questionID),
	}
}

func randomSlot(number, page int, categoryID uint) models.AssessmentSlot {
	return models.AssessmentSlot{
		SlotNumber: number,
		Page:       page,
		MaxMark:    1,
		CategoryID: uintPtr(categoryID),
	}
}

func testResolver(seed uint64) *SlotResolver {
	return NewSlotResolver(testLogger(), WithResolverRand(rand.NewPCG(seed, seed)))
}

func layoutSlotNumbers(layout string) []int {
	var out []int
	for _, tok := range strings.Split(layout, ",") {
		n, err := strconv.Atoi(tok)
		if err != nil || n == 0 {
			continue
		}
		out = append(out, n)
	}
	return out
}

func TestResolveStaticSlotsPassThrough(t *testing.T) {
	assessment := &models.Assessment{
		QuestionsPerPage: 0,
		Slots: []models.AssessmentSlot{
			staticSlot(1, 1, 100),
			staticSlot(2, 1, 200),
		},
	}
	source := newFakePoolSource(nil)
	session := seededSession(source, nil, 1)

	layout, err := testResolver(1).Resolve(context.Background(), assessment, session, nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(layout.Slots) != 2 {
		t.Fatalf("resolved %d slots, want 2", len(layout.Slots))
	}
	for i, want := range []uint{100, 200} {
		if layout.Slots[i].QuestionID != want {
			t.Errorf("slot %d: question %d, want %d", i+1, layout.Slots[i].QuestionID, want)
		}
		if layout.Slots[i].Random {
			t.Errorf("slot %d marked random", i+1)
		}
	}
	if len(source.calls) != 0 {
		t.Error("static resolution touched the pool source")
	}
}

func TestResolveRandomSlotsShareSession(t *testing.T) {
	scope := PoolScope{CategoryID: 9}
	assessment := &models.Assessment{
		Slots: []models.AssessmentSlot{
			randomSlot(1, 1, 9),
			randomSlot(2, 1, 9),
			randomSlot(3, 1, 9),
		},
	}
	source := newFakePoolSource(map[string][]uint{
		scope.Key(): {10, 11, 12},
	})
	session := seededSession(source, nil, 4)

	layout, err := testResolver(4).Resolve(context.Background(), assessment, session, nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	seen := make(map[uint]bool)
	for _, rs := range layout.Slots {
		if !rs.Random {
			t.Errorf("slot %d not marked random", rs.SlotNumber)
		}
		if seen[rs.QuestionID] {
			t.Fatalf("question %d used for two slots", rs.QuestionID)
		}
		seen[rs.QuestionID] = true
	}
}

func TestResolveInsufficientPool(t *testing.T) {
	scope := PoolScope{CategoryID: 9}
	assessment := &models.Assessment{
		Slots: []models.AssessmentSlot{
			randomSlot(1, 1, 9),
			randomSlot(2, 1, 9),
		},
	}
	source := newFakePoolSource(map[string][]uint{
		scope.Key(): {10},
	})
	session := seededSession(source, nil, 4)

	_, err := testResolver(4).Resolve(context.Background(), assessment, session, nil)
	var poolErr *InsufficientPoolError
	if !errors.As(err, &poolErr) {
		t.Fatalf("expected InsufficientPoolError, got %v", err)
	}
	if poolErr.SlotNumber != 2 {
		t.Errorf("failing slot %d, want 2", poolErr.SlotNumber)
	}
	if poolErr.Scope.CategoryID != 9 {
		t.Errorf("scope category %d, want 9", poolErr.Scope.CategoryID)
	}
}

func TestResolveForcedChoices(t *testing.T) {
	scope := PoolScope{CategoryID: 9}
	assessment := &models.Assessment{
		Slots: []models.AssessmentSlot{
			randomSlot(1, 1, 9),
			randomSlot(2, 1, 9),
		},
	}
	pools := map[string][]uint{scope.Key(): {10, 11, 12}}

	t.Run("pinned question is used", func(t *testing.T) {
		session := seededSession(newFakePoolSource(pools), nil, 4)
		layout, err := testResolver(4).Resolve(context.Background(), assessment, session, map[int]uint{2: 12})
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		for _, rs := range layout.Slots {
			if rs.SlotNumber == 2 && rs.QuestionID != 12 {
				t.Errorf("slot 2 got question %d, want pinned 12", rs.QuestionID)
			}
		}
	})

	t.Run("pinned question outside the pool", func(t *testing.T) {
		session := seededSession(newFakePoolSource(pools), nil, 4)
		_, err := testResolver(4).Resolve(context.Background(), assessment, session, map[int]uint{1: 99})
		var forcedErr *ForcedChoiceError
		if !errors.As(err, &forcedErr) {
			t.Fatalf("expected ForcedChoiceError, got %v", err)
		}
		if forcedErr.SlotNumber != 1 || forcedErr.QuestionID != 99 {
			t.Errorf("error names slot %d question %d, want 1/99", forcedErr.SlotNumber, forcedErr.QuestionID)
		}
	})
}

func TestLayoutDeclaredPages(t *testing.T) {
	assessment := &models.Assessment{
		QuestionsPerPage: 2,
		Slots: []models.AssessmentSlot{
			staticSlot(1, 1, 100),
			staticSlot(2, 1, 200),
			staticSlot(3, 2, 300),
		},
	}
	session := seededSession(newFakePoolSource(nil), nil, 1)

	layout, err := testResolver(1).Resolve(context.Background(), assessment, session, nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if layout.Layout != "1,2,0,3,0" {
		t.Errorf("layout %q, want \"1,2,0,3,0\"", layout.Layout)
	}
	wantPages := map[int]int{1: 1, 2: 1, 3: 2}
	for _, rs := range layout.Slots {
		if rs.Page != wantPages[rs.SlotNumber] {
			t.Errorf("slot %d on page %d, want %d", rs.SlotNumber, rs.Page, wantPages[rs.SlotNumber])
		}
	}
}

func TestLayoutShuffledSectionRepaginates(t *testing.T) {
	shuffle := true
	assessment := &models.Assessment{
		QuestionsPerPage: 2,
		Slots: []models.AssessmentSlot{
			staticSlot(1, 1, 100),
			staticSlot(2, 1, 200),
			staticSlot(3, 1, 300),
			staticSlot(4, 2, 400),
		},
		Sections: []models.AssessmentSection{
			{FirstSlotNumber: 1, Shuffle: shuffle},
		},
	}
	session := seededSession(newFakePoolSource(nil), nil, 7)

	layout, err := testResolver(7).Resolve(context.Background(), assessment, session, nil)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	numbers := layoutSlotNumbers(layout.Layout)
	if len(numbers) != 4 {
		t.Fatalf("layout has %d slots, want 4: %q", len(numbers), layout.Layout)
	}
	present := make(map[int]bool)
	for _, n := range numbers {
		present[n] = true
	}
	for n := 1; n <= 4; n++ {
		if !present[n] {
			t.Errorf("slot %d missing from layout %q", n, layout.Layout)
		}
	}

	// Pages rebuilt every two questions regardless of declared pages.
	perPage := make(map[int]int)
	for _, rs := range layout.Slots {
		perPage[rs.Page]++
	}
	for page, count := range perPage {
		if count > 2 {
			t.Errorf("page %d holds %d questions, want at most 2", page, count)
		}
	}
	if !strings.HasSuffix(layout.Layout, ",0") {
		t.Errorf("layout %q does not end on a page break", layout.Layout)
	}
}

func TestLayoutSectionsStayContiguous(t *testing.T) {
	shuffle := true
	assessment := &models.Assessment{
		QuestionsPerPage: 10,
		Slots: []models.AssessmentSlot{
			staticSlot(1, 1, 100),
			staticSlot(2, 1, 200),
			staticSlot(3, 2, 300),
			staticSlot(4, 2, 400),
		},
		Sections: []models.AssessmentSection{
			{FirstSlotNumber: 1, Shuffle: shuffle},
			{FirstSlotNumber: 3, Shuffle: false},
		},
	}

	for seed := uint64(0); seed < 20; seed++ {
		session := seededSession(newFakePoolSource(nil), nil, seed)
		layout, err := testResolver(seed).Resolve(context.Background(), assessment, session, nil)
		if err != nil {
			t.Fatalf("seed %d: resolve failed: %v", seed, err)
		}
		numbers := layoutSlotNumbers(layout.Layout)
		if len(numbers) != 4 {
			t.Fatalf("seed %d: layout has %d slots: %q", seed, len(numbers), layout.Layout)
		}
		// First two positions hold section one, last two section two in order.
		if !((numbers[0] == 1 && numbers[1] == 2) || (numbers[0] == 2 && numbers[1] == 1)) {
			t.Errorf("seed %d: section one leaked: %q", seed, layout.Layout)
		}
		if numbers[2] != 3 || numbers[3] != 4 {
			t.Errorf("seed %d: unshuffled section reordered: %q", seed, layout.Layout)
		}
	}
}

func TestLayoutShuffleCanReorder(t *testing.T) {
	shuffle := true
	assessment := &models.Assessment{
		QuestionsPerPage: 10,
		Slots: []models.AssessmentSlot{
			staticSlot(1, 1, 100),
			staticSlot(2, 1, 200),
			staticSlot(3, 1, 300),
		},
		Sections: []models.AssessmentSection{
			{FirstSlotNumber: 1, Shuffle: shuffle},
		},
	}

	reordered := false
	for seed := uint64(0); seed < 50 && !reordered; seed++ {
		session := seededSession(newFakePoolSource(nil), nil, seed)
		layout, err := testResolver(seed).Resolve(context.Background(), assessment, session, nil)
		if err != nil {
			t.Fatalf("seed %d: resolve failed: %v", seed, err)
		}
		numbers := layoutSlotNumbers(layout.Layout)
		if numbers[0] != 1 || numbers[1] != 2 || numbers[2] != 3 {
			reordered = true
		}
	}
	if !reordered {
		t.Error("shuffled section never reordered its slots")
	}
}
