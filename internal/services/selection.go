package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// SelectionSession hands out questions for the random slots of one attempt.
//
// Pools are loaded lazily per scope and shuffled exactly once on first load,
// so walking a pool front to back is a uniform draw without replacement.
// A question dispensed through any scope is never dispensed again in the
// same session, even when pools overlap.
type SelectionSession struct {
	source PoolSource
	rng    *rand.Rand

	// pools holds the shuffled eligible ids per scope key.
	pools map[string][]uint

	dispensed      map[uint]struct{}
	dispensedOrder []uint
	excluded       map[uint]struct{}
}

type SessionOption func(*SelectionSession)

// WithRandSource replaces the session's randomness, used by tests to make
// draws deterministic.
func WithRandSource(src rand.Source) SessionOption {
	return func(s *SelectionSession) {
		s.rng = rand.New(src)
	}
}

// NewSelectionSession builds a session over source. Questions listed in
// exclude are never dispensed, regardless of pool membership.
func NewSelectionSession(source PoolSource, exclude []uint, opts ...SessionOption) *SelectionSession {
	s := &SelectionSession{
		source:    source,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), uint64(time.Now().UnixNano()))),
		pools:     make(map[string][]uint),
		dispensed: make(map[uint]struct{}),
		excluded:  make(map[uint]struct{}, len(exclude)),
	}
	for _, id := range exclude {
		s.excluded[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SelectionSession) pool(ctx context.Context, scope PoolScope) ([]uint, error) {
	key := scope.Key()
	if ids, ok := s.pools[key]; ok {
		return ids, nil
	}
	ids, err := s.source.Filter(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load pool for scope %s: %w", key, err)
	}
	ids = append([]uint(nil), ids...)
	s.rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	s.pools[key] = ids
	return ids, nil
}

func (s *SelectionSession) usable(id uint) bool {
	if _, taken := s.dispensed[id]; taken {
		return false
	}
	_, skipped := s.excluded[id]
	return !skipped
}

func (s *SelectionSession) dispense(id uint) {
	s.dispensed[id] = struct{}{}
	s.dispensedOrder = append(s.dispensedOrder, id)
}

// Next dispenses the next question from the scope's pool, or
// ErrNoEligibleQuestion when the pool is exhausted.
func (s *SelectionSession) Next(ctx context.Context, scope PoolScope) (uint, error) {
	ids, err := s.pool(ctx, scope)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if s.usable(id) {
			s.dispense(id)
			return id, nil
		}
	}
	return 0, ErrNoEligibleQuestion
}

// Force dispenses a specific question from the scope's pool. Returns
// ErrQuestionNotAvailable when the question is outside the eligible set or
// was already dispensed or excluded.
func (s *SelectionSession) Force(ctx context.Context, scope PoolScope, questionID uint) error {
	ids, err := s.pool(ctx, scope)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == questionID {
			if !s.usable(id) {
				return ErrQuestionNotAvailable
			}
			s.dispense(id)
			return nil
		}
	}
	return ErrQuestionNotAvailable
}

// IsAvailable reports whether the question can currently be dispensed from
// the scope, and claims it when it can: a true result marks the question
// dispensed exactly as a draw would, so later draws never hand it out again.
func (s *SelectionSession) IsAvailable(ctx context.Context, scope PoolScope, questionID uint) (bool, error) {
	ids, err := s.pool(ctx, scope)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == questionID {
			if !s.usable(id) {
				return false, nil
			}
			s.dispense(id)
			return true, nil
		}
	}
	return false, nil
}

// Count returns how many questions the scope could still dispense.
func (s *SelectionSession) Count(ctx context.Context, scope PoolScope) (int, error) {
	ids, err := s.pool(ctx, scope)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if s.usable(id) {
			n++
		}
	}
	return n, nil
}

// Dispensed returns every question handed out so far, in draw order.
func (s *SelectionSession) Dispensed() []uint {
	return append([]uint(nil), s.dispensedOrder...)
}
