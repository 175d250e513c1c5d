package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/SAP-F-2025/quiz-delivery-service/internal/models"
	"github.com/SAP-F-2025/quiz-delivery-service/internal/repositories"
)

type exportService struct {
	repo   repositories.Repository
	logger *slog.Logger
}

func NewExportService(repo repositories.Repository, logger *slog.Logger) ExportService {
	return &exportService{repo: repo, logger: logger}
}

// ExportAttempts writes every finished attempt of an assessment into a
// spreadsheet, one row per attempt, with the user's aggregated grade on the
// first of their rows.
func (s *exportService) ExportAttempts(ctx context.Context, assessmentID uint) (*excelize.File, error) {
	assessment, err := s.repo.Assessment().GetByID(ctx, nil, assessmentID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to load assessment %d: %w", assessmentID, err)
	}

	finished := models.AttemptFinished
	attempts, _, err := s.repo.Attempt().GetByAssessment(ctx, nil, assessmentID, repositories.AttemptFilters{
		State:     &finished,
		SortBy:    "started_at",
		SortOrder: "asc",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load attempts: %w", err)
	}

	f := excelize.NewFile()
	sheet := "Attempts"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		s.logger.Warn("Failed to remove default sheet", "error", err)
	}

	headers := []string{"User ID", "User", "Attempt", "Started", "Finished", "Duration (s)", "Attempt grade", "Final grade"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	displayNames := make(map[string]string)
	finalGrades := make(map[string]*float64)

	row := 2
	for _, attempt := range attempts {
		name, ok := displayNames[attempt.UserID]
		if !ok {
			name = s.displayName(ctx, attempt.UserID)
			displayNames[attempt.UserID] = name
		}
		grade, ok := finalGrades[attempt.UserID]
		if !ok {
			grade = s.finalGrade(ctx, assessmentID, attempt.UserID)
			finalGrades[attempt.UserID] = grade
		}

		duration := 0
		finishedAt := ""
		if attempt.FinishedAt != nil {
			finishedAt = attempt.FinishedAt.Format(time.RFC3339)
			duration = int(attempt.FinishedAt.Sub(attempt.StartedAt).Seconds())
		}

		values := []interface{}{
			attempt.UserID,
			name,
			attempt.AttemptNumber,
			attempt.StartedAt.Format(time.RFC3339),
			finishedAt,
			duration,
			attempt.SumGrades,
		}
		if grade != nil {
			values = append(values, *grade)
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", row, err)
			}
		}
		// Final grade repeats per user; blank it on followup rows.
		finalGrades[attempt.UserID] = nil
		row++
	}

	s.logger.Info("Exported attempts",
		"assessment_id", assessmentID,
		"title", assessment.Title,
		"rows", row-2)
	return f, nil
}

func (s *exportService) displayName(ctx context.Context, userID string) string {
	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil || user == nil {
		return userID
	}
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return user.Name
}

func (s *exportService) finalGrade(ctx context.Context, assessmentID uint, userID string) *float64 {
	grade, err := s.repo.Grade().Get(ctx, nil, assessmentID, userID)
	if err != nil || grade == nil {
		return nil
	}
	return &grade.Grade
}
