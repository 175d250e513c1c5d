package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/events"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/kinds"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/qengine"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/validator"
)

type attemptService struct {
	db        *gorm.DB
	repo      repositories.Repository
	engine    qengine.Engine
	publisher events.Publisher
	registry  *kinds.Registry
	resolver  *SlotResolver
	access    AccessChecker
	validator *validator.Validator
	logger    *slog.Logger
}

func NewAttemptService(
	db *gorm.DB,
	repo repositories.Repository,
	engine qengine.Engine,
	publisher events.Publisher,
	registry *kinds.Registry,
	v *validator.Validator,
	logger *slog.Logger,
) AttemptService {
	return &attemptService{
		db:        db,
		repo:      repo,
		engine:    engine,
		publisher: publisher,
		registry:  registry,
		resolver:  NewSlotResolver(logger),
		access:    NewUserAccessChecker(repo.User()),
		validator: v,
		logger:    logger,
	}
}

// Create resolves every slot, freezes the layout and opens the attempt.
// The attempt row, its slots and the usage counters commit atomically;
// an exhausted pool rolls back everything.
func (s *attemptService) Create(ctx context.Context, req *CreateAttemptRequest, now time.Time) (*AttemptResponse, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, err
	}

	assessment, err := s.repo.Assessment().GetByIDWithStructure(ctx, nil, req.AssessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to load assessment %d: %w", req.AssessmentID, err)
	}

	user, err := s.repo.User().GetByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user %s: %w", req.UserID, err)
	}
	if user == nil || !user.IsActive {
		return nil, NewPermissionError(req.UserID, "attempt", fmt.Sprintf("assessment %d", req.AssessmentID))
	}

	settings := s.deadlineFor(ctx, req.UserID, req.IsPreview, now, assessment)
	if !req.IsPreview {
		if err := checkAttemptWindow(assessment, settings, now); err != nil {
			return nil, err
		}
	}

	var attempt *models.Attempt
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !req.IsPreview {
			active, err := s.repo.Attempt().GetActiveAttempt(ctx, tx, assessment.ID, req.UserID)
			if err != nil && !repositories.IsNotFoundError(err) {
				return fmt.Errorf("failed to check for active attempt: %w", err)
			}
			if active != nil {
				return ErrActiveAttemptExists
			}
		}

		count, err := s.repo.Attempt().GetAttemptCount(ctx, tx, assessment.ID, req.UserID)
		if err != nil {
			return fmt.Errorf("failed to count attempts: %w", err)
		}
		if !req.IsPreview && assessment.MaxAttempts > 0 && count >= assessment.MaxAttempts {
			return ErrAttemptLimitReached
		}

		filter := NewPoolFilter(
			s.repo.Question(), s.repo.QuestionCategory(), s.registry,
			s.access, assessment.CourseID, req.UserID, s.logger)
		session := NewSelectionSession(filter, nil)

		layout, err := s.resolver.Resolve(ctx, assessment, session, req.ForcedQuestions)
		if err != nil {
			return err
		}

		attempt = &models.Attempt{
			AssessmentID:  assessment.ID,
			UserID:        req.UserID,
			AttemptNumber: count + 1,
			State:         models.AttemptInProgress,
			IsPreview:     req.IsPreview,
			StartedAt:     now,
			TimeModified:  now,
			TimeCheck:     settings.deadline,
			Layout:        layout.Layout,
			Version:       1,
		}
		if err := s.repo.Attempt().Create(ctx, tx, attempt); err != nil {
			return fmt.Errorf("failed to create attempt: %w", err)
		}

		slots := make([]*models.AttemptSlot, 0, len(layout.Slots))
		for _, rs := range layout.Slots {
			slots = append(slots, &models.AttemptSlot{
				AttemptID:       attempt.ID,
				SlotNumber:      rs.SlotNumber,
				Sequence:        1,
				QuestionID:      rs.QuestionID,
				MaxMark:         rs.MaxMark,
				RequirePrevious: rs.RequirePrevious,
			})
		}
		if err := s.repo.Attempt().CreateSlots(ctx, tx, slots); err != nil {
			return fmt.Errorf("failed to create attempt slots: %w", err)
		}

		for _, rs := range layout.Slots {
			if !rs.Random {
				continue
			}
			if err := s.repo.Question().IncrementUsage(ctx, tx, rs.QuestionID, assessment.CourseID, now); err != nil {
				return fmt.Errorf("failed to record question usage: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Attempt created",
		"attempt_id", attempt.ID,
		"assessment_id", assessment.ID,
		"user_id", req.UserID,
		"attempt_number", attempt.AttemptNumber,
		"is_preview", req.IsPreview)

	return s.buildResponse(attempt, settings, now), nil
}

// SubmitPage processes one page submission under the attempt's row lock.
// The overdue policy decides what a timed-out submission turns into; any
// resulting transition event is published after the transaction commits.
func (s *attemptService) SubmitPage(ctx context.Context, attemptID uint, userID string, req *SubmitPageRequest, now time.Time) (models.AttemptState, error) {
	var resultState models.AttemptState
	var pending *events.AttemptEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt, assessment, err := s.lockAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if attempt.UserID != userID {
			return NewPermissionError(userID, "submit", fmt.Sprintf("attempt %d", attemptID))
		}
		if attempt.State.IsTerminal() {
			return ErrAttemptNotActive
		}

		settings := s.deadlineFor(ctx, attempt.UserID, attempt.IsPreview, attempt.StartedAt, assessment)
		decision := computeSubmit(attempt.State, settings, now, req.FinishAttempt, req.TimeUp)

		switch decision.action {
		case submitIgnore:
			resultState = attempt.State
			return nil

		case submitRecord:
			if err := s.engine.FlushPendingActions(ctx, tx, attempt.ID, now); err != nil {
				return fmt.Errorf("failed to flush pending actions: %w", err)
			}
			attempt.CurrentPage = req.Page
			attempt.TimeModified = now
			attempt.TimeCheck = settings.deadline
			if err := s.persistVersioned(ctx, tx, attempt); err != nil {
				return err
			}
			resultState = attempt.State
			return nil

		case submitOverdue:
			applyOverdue(attempt, now, decision.nextCheck)
			if err := s.persistVersioned(ctx, tx, attempt); err != nil {
				return err
			}
			pending = events.NewAttemptEvent(events.TypeAttemptBecameOverdue, attempt.ID, attempt.AssessmentID, attempt.UserID, now)
			resultState = attempt.State
			return nil

		case submitAbandon:
			if err := applyAbandon(attempt, now); err != nil {
				return err
			}
			if err := s.persistVersioned(ctx, tx, attempt); err != nil {
				return err
			}
			pending = events.NewAttemptEvent(events.TypeAttemptAbandoned, attempt.ID, attempt.AssessmentID, attempt.UserID, now)
			resultState = attempt.State
			return nil
		}

		event, err := s.finishLocked(ctx, tx, attempt, assessment, now, now, true)
		if err != nil {
			return err
		}
		pending = event
		resultState = attempt.State
		return nil
	})
	if err != nil {
		return "", err
	}

	s.publish(ctx, pending)
	return resultState, nil
}

// EvaluateDeadline applies any due timing transition to the attempt. Used by
// the sweep and by read paths that must not serve a stale in_progress state.
func (s *attemptService) EvaluateDeadline(ctx context.Context, attemptID uint, now time.Time) (models.AttemptState, error) {
	var resultState models.AttemptState
	var pending *events.AttemptEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt, assessment, err := s.lockAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		resultState = attempt.State
		if attempt.State.IsTerminal() {
			return nil
		}

		settings := s.deadlineFor(ctx, attempt.UserID, attempt.IsPreview, attempt.StartedAt, assessment)
		decision := computeTimeCheck(attempt.State, settings, now, false)

		switch decision.action {
		case actionNone:
			if attempt.TimeCheck == nil {
				return nil
			}
			attempt.TimeCheck = nil

		case actionReschedule:
			if timesEqual(attempt.TimeCheck, decision.nextCheck) {
				return nil
			}
			attempt.TimeCheck = decision.nextCheck

		case actionOverdue:
			applyOverdue(attempt, now, decision.nextCheck)
			pending = events.NewAttemptEvent(events.TypeAttemptBecameOverdue, attempt.ID, attempt.AssessmentID, attempt.UserID, now)

		case actionFinish:
			event, err := s.finishLocked(ctx, tx, attempt, assessment, now, decision.finishTime, true)
			if err != nil {
				return err
			}
			pending = event
			resultState = attempt.State
			return nil

		case actionAbandon:
			if err := applyAbandon(attempt, now); err != nil {
				return err
			}
			pending = events.NewAttemptEvent(events.TypeAttemptAbandoned, attempt.ID, attempt.AssessmentID, attempt.UserID, now)
		}

		if err := s.persistVersioned(ctx, tx, attempt); err != nil {
			return err
		}
		resultState = attempt.State
		return nil
	})
	if err != nil {
		return "", err
	}

	s.publish(ctx, pending)
	return resultState, nil
}

// SweepOverdue walks every attempt whose scheduled check has passed and
// applies the due transition. Each attempt runs in its own transaction so a
// conflict on one does not stall the batch.
func (s *attemptService) SweepOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	ids, err := s.repo.Attempt().GetDueForTimeCheck(ctx, nil, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due attempts: %w", err)
	}

	processed := 0
	for _, id := range ids {
		if _, err := s.EvaluateDeadline(ctx, id, now); err != nil {
			s.logger.Warn("Deadline sweep skipped attempt",
				"attempt_id", id,
				"error", err)
			continue
		}
		processed++
	}
	if len(ids) > 0 {
		s.logger.Info("Deadline sweep completed",
			"due", len(ids),
			"processed", processed)
	}
	return processed, nil
}

// RedoSlot draws a replacement question for one random slot, excluding every
// question the attempt already carries. The old resolution stays on file
// with its sequence number.
func (s *attemptService) RedoSlot(ctx context.Context, attemptID uint, slotNumber int, userID string, now time.Time) (*models.AttemptSlot, error) {
	var newSlot *models.AttemptSlot

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		attempt, _, err := s.lockAttempt(ctx, tx, attemptID)
		if err != nil {
			return err
		}
		if attempt.UserID != userID {
			return NewPermissionError(userID, "redo slot on", fmt.Sprintf("attempt %d", attemptID))
		}
		if attempt.State != models.AttemptInProgress {
			return ErrAttemptNotActive
		}

		assessment, err := s.repo.Assessment().GetByIDWithStructure(ctx, tx, attempt.AssessmentID)
		if err != nil {
			return fmt.Errorf("failed to load assessment %d: %w", attempt.AssessmentID, err)
		}

		var definition *models.AssessmentSlot
		for i := range assessment.Slots {
			if assessment.Slots[i].SlotNumber == slotNumber {
				definition = &assessment.Slots[i]
				break
			}
		}
		if definition == nil {
			return ErrSlotNotFound
		}
		if !definition.IsRandom() {
			return ErrSlotNotRandom
		}

		slots, err := s.repo.Attempt().GetSlots(ctx, tx, attemptID)
		if err != nil {
			return fmt.Errorf("failed to load attempt slots: %w", err)
		}
		used := make([]uint, 0, len(slots))
		maxSequence := 0
		for _, slot := range slots {
			used = append(used, slot.QuestionID)
			if slot.SlotNumber == slotNumber && slot.Sequence > maxSequence {
				maxSequence = slot.Sequence
			}
		}
		if maxSequence == 0 {
			return ErrSlotNotFound
		}

		filter := NewPoolFilter(
			s.repo.Question(), s.repo.QuestionCategory(), s.registry,
			s.access, assessment.CourseID, userID, s.logger)
		session := NewSelectionSession(filter, used)

		scope := scopeForSlot(*definition)
		questionID, err := session.Next(ctx, scope)
		if err != nil {
			if errors.Is(err, ErrNoEligibleQuestion) {
				return &InsufficientPoolError{SlotNumber: slotNumber, Scope: scope}
			}
			return err
		}

		newSlot = &models.AttemptSlot{
			AttemptID:       attemptID,
			SlotNumber:      slotNumber,
			Sequence:        maxSequence + 1,
			QuestionID:      questionID,
			MaxMark:         definition.MaxMark,
			RequirePrevious: definition.RequirePrevious,
		}
		if err := s.repo.Attempt().AppendSlotResolution(ctx, tx, newSlot); err != nil {
			return fmt.Errorf("failed to append slot resolution: %w", err)
		}
		if err := s.repo.Question().IncrementUsage(ctx, tx, questionID, assessment.CourseID, now); err != nil {
			return fmt.Errorf("failed to record question usage: %w", err)
		}

		attempt.TimeModified = now
		return s.persistVersioned(ctx, tx, attempt)
	})
	if err != nil {
		return nil, err
	}
	return newSlot, nil
}

func (s *attemptService) GetByID(ctx context.Context, id uint, userID string, now time.Time) (*AttemptResponse, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to load attempt %d: %w", id, err)
	}
	if attempt.UserID != userID {
		return nil, NewPermissionError(userID, "view", fmt.Sprintf("attempt %d", id))
	}

	// Apply any due timing transition so the read never serves a stale
	// in_progress state. Only after the ownership check: a foreign caller
	// must not trigger transitions, or learn the attempt exists at all.
	if !attempt.State.IsTerminal() && attempt.TimeCheck != nil && !now.Before(*attempt.TimeCheck) {
		if _, err := s.EvaluateDeadline(ctx, id, now); err != nil {
			return nil, err
		}
		attempt, err = s.repo.Attempt().GetByID(ctx, nil, id)
		if err != nil {
			return nil, fmt.Errorf("failed to reload attempt %d: %w", id, err)
		}
	}

	assessment, err := s.repo.Assessment().GetByID(ctx, nil, attempt.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assessment %d: %w", attempt.AssessmentID, err)
	}
	settings := s.deadlineFor(ctx, attempt.UserID, attempt.IsPreview, attempt.StartedAt, assessment)
	return s.buildResponse(attempt, settings, now), nil
}

func (s *attemptService) GetSlots(ctx context.Context, attemptID uint, userID string) ([]*models.AttemptSlot, error) {
	attempt, err := s.repo.Attempt().GetByID(ctx, nil, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to load attempt %d: %w", attemptID, err)
	}
	if attempt.UserID != userID {
		return nil, NewPermissionError(userID, "view", fmt.Sprintf("attempt %d", attemptID))
	}
	return s.repo.Attempt().GetSlots(ctx, nil, attemptID)
}

func (s *attemptService) List(ctx context.Context, filters repositories.AttemptFilters) (*AttemptListResponse, error) {
	attempts, total, err := s.repo.Attempt().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	pageSize := filters.Limit
	if pageSize <= 0 {
		pageSize = len(attempts)
	}
	page := 1
	if pageSize > 0 {
		page = filters.Offset/pageSize + 1
	}
	return &AttemptListResponse{
		Attempts: attempts,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (s *attemptService) GetStats(ctx context.Context, assessmentID uint) (*repositories.AttemptStats, error) {
	return s.repo.Attempt().GetStats(ctx, nil, assessmentID)
}

// ===== internals =====

// lockAttempt loads the attempt under a row lock together with its
// assessment. Everything that mutates an attempt goes through here first.
func (s *attemptService) lockAttempt(ctx context.Context, tx *gorm.DB, attemptID uint) (*models.Attempt, *models.Assessment, error) {
	attempt, err := s.repo.Attempt().GetByIDForUpdate(ctx, tx, attemptID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, nil, ErrAttemptNotFound
		}
		return nil, nil, fmt.Errorf("failed to lock attempt %d: %w", attemptID, err)
	}
	assessment, err := s.repo.Assessment().GetByID(ctx, tx, attempt.AssessmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load assessment %d: %w", attempt.AssessmentID, err)
	}
	return attempt, assessment, nil
}

func (s *attemptService) persistVersioned(ctx context.Context, tx *gorm.DB, attempt *models.Attempt) error {
	if err := s.repo.Attempt().UpdateVersioned(ctx, tx, attempt); err != nil {
		if repositories.IsStaleVersionError(err) {
			return ErrAttemptConflict
		}
		return fmt.Errorf("failed to update attempt %d: %w", attempt.ID, err)
	}
	return nil
}

// finishLocked finalizes the attempt: pending question actions are flushed
// (when flush is set), unanswered questions closed out, the total graded and
// the user's aggregate grade recomputed. Returns the event to publish once
// the surrounding transaction commits.
func (s *attemptService) finishLocked(
	ctx context.Context,
	tx *gorm.DB,
	attempt *models.Attempt,
	assessment *models.Assessment,
	now, finishTime time.Time,
	flush bool,
) (*events.AttemptEvent, error) {
	if flush {
		if err := s.engine.FlushPendingActions(ctx, tx, attempt.ID, now); err != nil {
			return nil, fmt.Errorf("failed to flush pending actions: %w", err)
		}
	}
	if err := s.engine.FinishAll(ctx, tx, attempt.ID, now); err != nil {
		return nil, fmt.Errorf("failed to close out questions: %w", err)
	}
	sum, err := s.engine.AggregateMark(ctx, tx, attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate marks: %w", err)
	}
	if sum != nil {
		attempt.SumGrades = *sum
	}

	if err := applyFinish(attempt, now, finishTime); err != nil {
		return nil, err
	}
	if err := s.persistVersioned(ctx, tx, attempt); err != nil {
		return nil, err
	}

	if !attempt.IsPreview {
		if err := s.recomputeGrade(ctx, tx, assessment, attempt.UserID); err != nil {
			return nil, err
		}
	}
	return events.NewAttemptEvent(events.TypeAttemptSubmitted, attempt.ID, attempt.AssessmentID, attempt.UserID, now), nil
}

func (s *attemptService) recomputeGrade(ctx context.Context, tx *gorm.DB, assessment *models.Assessment, userID string) error {
	attempts, err := s.repo.Attempt().GetFinishedByUser(ctx, tx, assessment.ID, userID)
	if err != nil {
		return fmt.Errorf("failed to load finished attempts: %w", err)
	}
	if len(attempts) == 0 {
		return nil
	}
	grade := aggregateGrade(assessment.GradeMethod, attempts)
	if err := s.repo.Grade().Upsert(ctx, tx, &models.AssessmentGrade{
		AssessmentID: assessment.ID,
		UserID:       userID,
		Grade:        grade,
	}); err != nil {
		return fmt.Errorf("failed to upsert grade: %w", err)
	}
	return nil
}

// deadlineFor resolves the timing settings for one attempt, override
// resolution included. Identity-provider hiccups degrade to the assessment
// defaults rather than failing the operation.
func (s *attemptService) deadlineFor(ctx context.Context, userID string, isPreview bool, startedAt time.Time, assessment *models.Assessment) deadlineSettings {
	settings := deadlineSettings{policy: assessment.OverdueHandling}
	if settings.policy == models.OverdueGracePeriod {
		settings.grace = time.Duration(assessment.GracePeriod) * time.Second
	}
	if isPreview {
		return settings
	}

	groups, err := s.repo.User().GetGroups(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to load user groups, using assessment defaults",
			"user_id", userID,
			"error", err)
		groups = nil
	}
	overrides, err := s.repo.Override().GetForUser(ctx, nil, assessment.ID, userID, groups)
	if err != nil {
		s.logger.Warn("Failed to load overrides, using assessment defaults",
			"assessment_id", assessment.ID,
			"user_id", userID,
			"error", err)
		overrides = nil
	}

	timeClose, timeLimit := resolveTimingOverrides(assessment, overrides, userID)
	settings.deadline = computeDeadline(startedAt, timeClose, timeLimit, isPreview)
	return settings
}

func (s *attemptService) buildResponse(attempt *models.Attempt, settings deadlineSettings, now time.Time) *AttemptResponse {
	resp := &AttemptResponse{Attempt: attempt, Deadline: settings.deadline}
	if settings.deadline != nil {
		left := int(settings.deadline.Sub(now).Seconds())
		if left < 0 {
			left = 0
		}
		resp.TimeLeft = &left
	}
	return resp
}

// publish sends an attempt event after its transaction committed. A broker
// failure is logged, never surfaced: the state change is already durable.
func (s *attemptService) publish(ctx context.Context, event *events.AttemptEvent) {
	if event == nil {
		return
	}
	if err := s.publisher.PublishAttemptEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish attempt event",
			"event_type", event.Type,
			"attempt_id", event.AttemptID,
			"error", err)
	}
}

func checkAttemptWindow(assessment *models.Assessment, settings deadlineSettings, now time.Time) error {
	if assessment.Status != models.StatusActive {
		return ErrAssessmentNotActive
	}
	if assessment.TimeOpen != nil && now.Before(*assessment.TimeOpen) {
		return fmt.Errorf("%w: opens at %s", ErrAssessmentNotActive, assessment.TimeOpen.Format(time.RFC3339))
	}
	if settings.deadline != nil && !now.Before(*settings.deadline) {
		return fmt.Errorf("%w: closed at %s", ErrAssessmentNotActive, settings.deadline.Format(time.RFC3339))
	}
	return nil
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
