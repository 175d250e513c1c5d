package services

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
)

// fakePoolSource serves fixed pools per scope key and counts loads.
type fakePoolSource struct {
	pools map[string][]uint
	calls map[string]int
	err   error
}

func newFakePoolSource(pools map[string][]uint) *fakePoolSource {
	return &fakePoolSource{pools: pools, calls: make(map[string]int)}
}

func (f *fakePoolSource) Filter(_ context.Context, scope PoolScope) ([]uint, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls[scope.Key()]++
	return f.pools[scope.Key()], nil
}

func seededSession(source PoolSource, exclude []uint, seed uint64) *SelectionSession {
	return NewSelectionSession(source, exclude, WithRandSource(rand.NewPCG(seed, seed)))
}

func TestSelectionSessionDrawsWithoutReplacement(t *testing.T) {
	scope := PoolScope{CategoryID: 7}
	source := newFakePoolSource(map[string][]uint{
		scope.Key(): {1, 2, 3, 4, 5},
	})
	session := seededSession(source, nil, 42)
	ctx := context.Background()

	seen := make(map[uint]bool)
	for i := 0; i < 5; i++ {
		id, err := session.Next(ctx, scope)
		if err != nil {
			t.Fatalf("draw %d failed: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("question %d dispensed twice", id)
		}
		seen[id] = true
	}

	if _, err := session.Next(ctx, scope); !errors.Is(err, ErrNoEligibleQuestion) {
		t.Fatalf("expected ErrNoEligibleQuestion after exhaustion, got %v", err)
	}
}

func TestSelectionSessionPoolLoadedOnce(t *testing.T) {
	scope := PoolScope{CategoryID: 7}
	source := newFakePoolSource(map[string][]uint{
		scope.Key(): {1, 2, 3},
	})
	session := seededSession(source, nil, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := session.Next(ctx, scope); err != nil {
			t.Fatalf("draw %d failed: %v", i, err)
		}
	}
	if got := source.calls[scope.Key()]; got != 1 {
		t.Errorf("pool loaded %d times, want 1", got)
	}
}

func TestSelectionSessionSharedDispensedAcrossScopes(t *testing.T) {
	// Two scopes over overlapping pools: a question handed out through one
	// scope must never reappear through the other.
	scopeA := PoolScope{CategoryID: 1}
	scopeB := PoolScope{CategoryID: 1, IncludeSubcategories: true}
	source := newFakePoolSource(map[string][]uint{
		scopeA.Key(): {10, 11},
		scopeB.Key(): {10, 11, 12},
	})
	ctx := context.Background()

	for seed := uint64(0); seed < 50; seed++ {
		session := seededSession(source, nil, seed)

		first, err := session.Next(ctx, scopeA)
		if err != nil {
			t.Fatalf("seed %d: first draw failed: %v", seed, err)
		}
		second, err := session.Next(ctx, scopeB)
		if err != nil {
			t.Fatalf("seed %d: second draw failed: %v", seed, err)
		}
		third, err := session.Next(ctx, scopeB)
		if err != nil {
			t.Fatalf("seed %d: third draw failed: %v", seed, err)
		}
		if first == second || first == third || second == third {
			t.Fatalf("seed %d: duplicate draw across scopes: %d, %d, %d", seed, first, second, third)
		}
	}
}

func TestSelectionSessionExcluded(t *testing.T) {
	scope := PoolScope{CategoryID: 3}
	source := newFakePoolSource(map[string][]uint{
		scope.Key(): {1, 2, 3},
	})
	session := seededSession(source, []uint{1, 3}, 9)
	ctx := context.Background()

	id, err := session.Next(ctx, scope)
	if err != nil {
		t.Fatalf("draw failed: %v", err)
	}
	if id != 2 {
		t.Errorf("got %d, want the only non-excluded question 2", id)
	}
	if _, err := session.Next(ctx, scope); !errors.Is(err, ErrNoEligibleQuestion) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
}

func TestSelectionSessionForce(t *testing.T) {
	scope := PoolScope{CategoryID: 5}
	source := newFakePoolSource(map[string][]uint{
		scope.Key(): {1, 2, 3},
	})
	ctx := context.Background()

	t.Run("eligible question is dispensed", func(t *testing.T) {
		session := seededSession(source, nil, 3)
		if err := session.Force(ctx, scope, 2); err != nil {
			t.Fatalf("force failed: %v", err)
		}
		// 2 must not come back from a regular draw
		for i := 0; i < 2; i++ {
			id, err := session.Next(ctx, scope)
			if err != nil {
				t.Fatalf("draw failed: %v", err)
			}
			if id == 2 {
				t.Fatal("forced question dispensed again")
			}
		}
	})

	t.Run("question outside the pool", func(t *testing.T) {
		session := seededSession(source, nil, 3)
		if err := session.Force(ctx, scope, 99); !errors.Is(err, ErrQuestionNotAvailable) {
			t.Fatalf("expected ErrQuestionNotAvailable, got %v", err)
		}
	})

	t.Run("already dispensed question", func(t *testing.T) {
		session := seededSession(source, nil, 3)
		if err := session.Force(ctx, scope, 1); err != nil {
			t.Fatalf("first force failed: %v", err)
		}
		if err := session.Force(ctx, scope, 1); !errors.Is(err, ErrQuestionNotAvailable) {
			t.Fatalf("expected ErrQuestionNotAvailable on second force, got %v", err)
		}
	})

	t.Run("excluded question", func(t *testing.T) {
		session := seededSession(source, []uint{2}, 3)
		if err := session.Force(ctx, scope, 2); !errors.Is(err, ErrQuestionNotAvailable) {
			t.Fatalf("expected ErrQuestionNotAvailable, got %v", err)
		}
	})
}

func TestSelectionSessionIsAvailableClaims(t *testing.T) {
	scope := PoolScope{CategoryID: 5}
	source := newFakePoolSource(map[string][]uint{
		scope.Key(): {1, 2},
	})
	session := seededSession(source, nil, 8)
	ctx := context.Background()

	ok, err := session.IsAvailable(ctx, scope, 1)
	if err != nil || !ok {
		t.Fatalf("IsAvailable(1) = %v, %v; want true", ok, err)
	}
	// A true result claims the question: only 2 is left to draw.
	if n, _ := session.Count(ctx, scope); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	id, err := session.Next(ctx, scope)
	if err != nil {
		t.Fatalf("draw failed: %v", err)
	}
	if id == 1 {
		t.Fatal("question 1 dispensed again after IsAvailable claimed it")
	}
	if _, err := session.Next(ctx, scope); !errors.Is(err, ErrNoEligibleQuestion) {
		t.Fatalf("expected exhaustion, got %v", err)
	}

	t.Run("false result claims nothing", func(t *testing.T) {
		session := seededSession(source, []uint{2}, 8)
		ok, err := session.IsAvailable(ctx, scope, 2)
		if err != nil || ok {
			t.Fatalf("IsAvailable(2) = %v, %v; want false", ok, err)
		}
		ok, err = session.IsAvailable(ctx, scope, 99)
		if err != nil || ok {
			t.Fatalf("IsAvailable(99) = %v, %v; want false", ok, err)
		}
		if n, _ := session.Count(ctx, scope); n != 1 {
			t.Errorf("Count = %d, want 1", n)
		}
	})
}

func TestSelectionSessionCount(t *testing.T) {
	scope := PoolScope{CategoryID: 5}
	source := newFakePoolSource(map[string][]uint{
		scope.Key(): {1, 2, 3},
	})
	session := seededSession(source, []uint{3}, 8)
	ctx := context.Background()

	if n, _ := session.Count(ctx, scope); n != 2 {
		t.Fatalf("Count = %d, want 2", n)
	}
	if _, err := session.Next(ctx, scope); err != nil {
		t.Fatalf("draw failed: %v", err)
	}
	if n, _ := session.Count(ctx, scope); n != 1 {
		t.Errorf("Count after draw = %d, want 1", n)
	}
}

func TestSelectionSessionEveryQuestionReachable(t *testing.T) {
	// The shuffle-on-load draw must be able to put any pool member first.
	scope := PoolScope{CategoryID: 2}
	source := newFakePoolSource(map[string][]uint{
		scope.Key(): {1, 2, 3},
	})
	ctx := context.Background()

	seen := make(map[uint]bool)
	for seed := uint64(0); seed < 200 && len(seen) < 3; seed++ {
		session := seededSession(source, nil, seed)
		id, err := session.Next(ctx, scope)
		if err != nil {
			t.Fatalf("seed %d: draw failed: %v", seed, err)
		}
		seen[id] = true
	}
	if len(seen) != 3 {
		t.Errorf("first draws covered %d of 3 questions", len(seen))
	}
}

func TestSelectionSessionScopeKey(t *testing.T) {
	a := PoolScope{CategoryID: 1, Tags: []string{"x", "y"}}
	b := PoolScope{CategoryID: 1, Tags: []string{"y", "x"}}
	if a.Key() != b.Key() {
		t.Errorf("tag order changed the scope key: %q vs %q", a.Key(), b.Key())
	}
	c := PoolScope{CategoryID: 1, IncludeSubcategories: true, Tags: []string{"x", "y"}}
	if a.Key() == c.Key() {
		t.Error("subcategory flag did not change the scope key")
	}
}
