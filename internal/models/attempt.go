package models

import (
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

type AttemptState string

const (
	AttemptInProgress AttemptState = "in_progress"
	AttemptOverdue    AttemptState = "overdue"
	AttemptFinished   AttemptState = "finished"
	AttemptAbandoned  AttemptState = "abandoned"
)

// IsTerminal reports whether the state admits no further transitions.
func (s AttemptState) IsTerminal() bool {
	return s == AttemptFinished || s == AttemptAbandoned
}

// Attempt is the durable aggregate for one user's run through an assessment.
// Mutated only by the attempt service; the slot layout is frozen at creation.
type Attempt struct {
	ID            uint         `json:"id" gorm:"primaryKey"`
	AssessmentID  uint         `json:"assessment_id" gorm:"not null;uniqueIndex:idx_attempt_user_seq"`
	UserID        string       `json:"user_id" gorm:"not null;size:255;uniqueIndex:idx_attempt_user_seq"`
	AttemptNumber int          `json:"attempt_number" gorm:"not null;uniqueIndex:idx_attempt_user_seq"`
	State         AttemptState `json:"state" gorm:"default:in_progress;index"`
	IsPreview     bool         `json:"is_preview" gorm:"default:false"`

	// Timing
	StartedAt    time.Time  `json:"started_at" gorm:"not null"`
	FinishedAt   *time.Time `json:"finished_at"`
	TimeModified time.Time  `json:"time_modified" gorm:"not null"`
	// TimeCheck is when the next deadline sweep must look at this attempt;
	// nil means no check is due.
	TimeCheck *time.Time `json:"time_check" gorm:"index"`

	// Layout is the frozen page structure: slot numbers separated by commas,
	// 0 marking a page break ("1,2,0,3,0").
	Layout      string `json:"layout" gorm:"not null;type:text"`
	CurrentPage int    `json:"current_page" gorm:"default:0"`

	SumGrades float64 `json:"sum_grades" gorm:"default:0"`

	// Version guards against concurrent transitions on the same attempt row.
	Version int `json:"version" gorm:"not null;default:1"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Assessment Assessment    `json:"assessment" gorm:"foreignKey:AssessmentID"`
	Slots      []AttemptSlot `json:"slots" gorm:"foreignKey:AttemptID"`
}

func (Attempt) TableName() string {
	return "attempts"
}

// LayoutPages splits the frozen layout string into pages of slot numbers.
func (a *Attempt) LayoutPages() [][]int {
	var pages [][]int
	var page []int
	for _, tok := range strings.Split(a.Layout, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(tok))
		if err != nil {
			continue
		}
		if n == 0 {
			if len(page) > 0 {
				pages = append(pages, page)
				page = nil
			}
			continue
		}
		page = append(page, n)
	}
	if len(page) > 0 {
		pages = append(pages, page)
	}
	return pages
}

// AttemptSlot is one resolved position of an attempt. For random slots the
// question id is the one dispensed at creation; Sequence > 1 rows are
// appended by redo and the highest sequence is the live resolution.
type AttemptSlot struct {
	ID         uint `json:"id" gorm:"primaryKey"`
	AttemptID  uint `json:"attempt_id" gorm:"not null;uniqueIndex:idx_attempt_slot_seq"`
	SlotNumber int  `json:"slot_number" gorm:"not null;uniqueIndex:idx_attempt_slot_seq"`
	Sequence   int  `json:"sequence" gorm:"not null;default:1;uniqueIndex:idx_attempt_slot_seq"`

	QuestionID      uint     `json:"question_id" gorm:"not null;index"`
	MaxMark         float64  `json:"max_mark" gorm:"not null"`
	Mark            *float64 `json:"mark"`
	RequirePrevious bool     `json:"require_previous" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AttemptSlot) TableName() string {
	return "attempt_slots"
}

type UserRole string

const (
	RoleAdmin   UserRole = "admin"
	RoleTeacher UserRole = "teacher"
	RoleStudent UserRole = "student"
)

// User is the read-only projection of an identity-provider account consulted
// for capability checks and group-based overrides.
type User struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	Role        UserRole `json:"role"`
	IsActive    bool     `json:"is_active"`
	Groups      []string `json:"groups"`
}
