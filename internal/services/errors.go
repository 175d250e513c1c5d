package services

import (
	"errors"
	"fmt"
)

// Service-level errors. Handlers translate these into HTTP status codes,
// callers inside the package match them with errors.Is / errors.As.
var (
	ErrAssessmentNotFound  = errors.New("assessment not found")
	ErrAssessmentNotActive = errors.New("assessment is not open for attempts")
	ErrAttemptNotFound     = errors.New("attempt not found")
	ErrAttemptNotActive    = errors.New("attempt is not in progress")
	ErrAttemptLimitReached = errors.New("maximum number of attempts reached")
	ErrActiveAttemptExists = errors.New("an unfinished attempt already exists")

	// ErrAttemptAlreadyFinalized indicates a finish or abandon was requested
	// on an attempt that is already in a terminal state. This is a caller bug:
	// terminal states are absorbing and finalization is decided exactly once.
	ErrAttemptAlreadyFinalized = errors.New("attempt already finalized")

	// ErrAttemptConflict indicates the attempt row changed under us between
	// read and write. The caller should reload and retry.
	ErrAttemptConflict = errors.New("attempt was modified concurrently")

	ErrNoEligibleQuestion = errors.New("no eligible question remains in pool")

	// ErrQuestionNotAvailable indicates a specific requested question is not
	// in the eligible set, or was already handed out. Distinct from an
	// exhausted pool: the pool may still hold other questions.
	ErrQuestionNotAvailable = errors.New("question is not available in this pool")

	ErrSlotNotFound  = errors.New("attempt slot not found")
	ErrSlotNotRandom = errors.New("slot is not backed by a random pool")
)

// InsufficientPoolError is returned when a random slot cannot be filled
// because its pool has been exhausted. Attempt creation fails as a whole.
type InsufficientPoolError struct {
	SlotNumber int
	Scope      PoolScope
}

func (e *InsufficientPoolError) Error() string {
	return fmt.Sprintf("slot %d: pool exhausted for category %d (subcategories=%t, tags=%v)",
		e.SlotNumber, e.Scope.CategoryID, e.Scope.IncludeSubcategories, e.Scope.Tags)
}

func (e *InsufficientPoolError) Unwrap() error { return ErrNoEligibleQuestion }

// ForcedChoiceError is returned when a caller-specified question for a random
// slot is not part of the slot's eligible set, or has already been dispensed.
type ForcedChoiceError struct {
	SlotNumber int
	QuestionID uint
}

func (e *ForcedChoiceError) Error() string {
	return fmt.Sprintf("slot %d: question %d is not available for this slot", e.SlotNumber, e.QuestionID)
}

func (e *ForcedChoiceError) Unwrap() error { return ErrQuestionNotAvailable }

// PermissionError indicates the acting user may not perform the operation
// on the target resource.
type PermissionError struct {
	UserID   string
	Resource string
	Action   string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s is not allowed to %s %s", e.UserID, e.Action, e.Resource)
}

func NewPermissionError(userID, action, resource string) *PermissionError {
	return &PermissionError{UserID: userID, Action: action, Resource: resource}
}
