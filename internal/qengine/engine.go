package qengine

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
)

// Engine is the question-engine collaborator boundary. The delivery core
// never looks inside a question's grading; it only asks the engine to flush,
// finish, and report marks for an attempt's slots.
type Engine interface {
	// FlushPendingActions persists any in-flight answer actions for the
	// attempt. Called on page submission and before finishing.
	FlushPendingActions(ctx context.Context, tx *gorm.DB, attemptID uint, now time.Time) error

	// FinishAll closes every slot's question state so no further answers
	// are accepted.
	FinishAll(ctx context.Context, tx *gorm.DB, attemptID uint, now time.Time) error

	// AggregateMark sums the per-slot marks of the attempt. Returns nil when
	// no slot has been graded yet.
	AggregateMark(ctx context.Context, tx *gorm.DB, attemptID uint) (*float64, error)
}

// slotEngine is the gorm-backed engine over the attempt_slots table. Marks
// are written there by the grading pipeline; this side only reads and closes
// them.
type slotEngine struct {
	db *gorm.DB
}

func New(db *gorm.DB) Engine {
	return &slotEngine{db: db}
}

func (e *slotEngine) getDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return e.db
}

func (e *slotEngine) FlushPendingActions(ctx context.Context, tx *gorm.DB, attemptID uint, now time.Time) error {
	db := e.getDB(tx)
	// Touching updated_at is enough here: answer actions are written
	// synchronously by the answer endpoints, so a flush just stamps the
	// activity time.
	return db.WithContext(ctx).
		Model(&models.AttemptSlot{}).
		Where("attempt_id = ?", attemptID).
		Update("updated_at", now).Error
}

func (e *slotEngine) FinishAll(ctx context.Context, tx *gorm.DB, attemptID uint, now time.Time) error {
	db := e.getDB(tx)
	// Ungraded slots are closed with a zero mark; graded marks stay.
	if err := db.WithContext(ctx).
		Model(&models.AttemptSlot{}).
		Where("attempt_id = ? AND mark IS NULL", attemptID).
		Updates(map[string]interface{}{"mark": 0.0, "updated_at": now}).Error; err != nil {
		return fmt.Errorf("failed to finish attempt slots: %w", err)
	}
	return nil
}

func (e *slotEngine) AggregateMark(ctx context.Context, tx *gorm.DB, attemptID uint) (*float64, error) {
	db := e.getDB(tx)

	var graded int64
	if err := db.WithContext(ctx).
		Model(&models.AttemptSlot{}).
		Where("attempt_id = ? AND mark IS NOT NULL", attemptID).
		Count(&graded).Error; err != nil {
		return nil, fmt.Errorf("failed to count graded slots: %w", err)
	}
	if graded == 0 {
		return nil, nil
	}

	// Only the live (highest-sequence) resolution of each slot counts.
	var sum float64
	err := db.WithContext(ctx).Raw(`
		SELECT COALESCE(SUM(mark), 0) FROM attempt_slots s
		WHERE s.attempt_id = ? AND s.mark IS NOT NULL
		  AND s.sequence = (
			SELECT MAX(sequence) FROM attempt_slots
			WHERE attempt_id = s.attempt_id AND slot_number = s.slot_number
		  )`, attemptID).Scan(&sum).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum attempt marks: %w", err)
	}
	return &sum, nil
}
