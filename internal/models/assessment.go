package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AssessmentStatus string

const (
	StatusDraft    AssessmentStatus = "Draft"
	StatusActive   AssessmentStatus = "Active"
	StatusArchived AssessmentStatus = "Archived"
)

// OverdueHandling decides what happens to an in-progress attempt once its
// deadline passes.
type OverdueHandling string

const (
	OverdueAutoSubmit  OverdueHandling = "autosubmit"
	OverdueGracePeriod OverdueHandling = "graceperiod"
	OverdueAutoAbandon OverdueHandling = "autoabandon"
)

// GradeMethod selects how a user's final grade is aggregated over their
// finished attempts.
type GradeMethod string

const (
	GradeHighest GradeMethod = "highest"
	GradeAverage GradeMethod = "average"
	GradeFirst   GradeMethod = "first"
	GradeLast    GradeMethod = "last"
)

type Assessment struct {
	ID          uint             `json:"id" gorm:"primaryKey"`
	CourseID    uint             `json:"course_id" gorm:"not null;index"`
	Title       string           `json:"title" gorm:"not null;size:255" validate:"required,min=1,max=255"`
	Description *string          `json:"description" gorm:"type:text" validate:"omitempty,max=2000"`
	Status      AssessmentStatus `json:"status" gorm:"default:Draft;index"`

	// Timing
	TimeOpen  *time.Time `json:"time_open"`
	TimeClose *time.Time `json:"time_close"`
	// TimeLimit in seconds, 0 = unlimited
	TimeLimit int `json:"time_limit" gorm:"default:0" validate:"min=0"`
	// GracePeriod in seconds, only used when OverdueHandling is graceperiod
	GracePeriod     int             `json:"grace_period" gorm:"default:0" validate:"min=0"`
	OverdueHandling OverdueHandling `json:"overdue_handling" gorm:"default:autoabandon" validate:"omitempty,oneof=autosubmit graceperiod autoabandon"`

	// Layout
	QuestionsPerPage int `json:"questions_per_page" gorm:"default:1" validate:"min=0"`

	GradeMethod GradeMethod `json:"grade_method" gorm:"default:highest" validate:"omitempty,oneof=highest average first last"`
	MaxAttempts int         `json:"max_attempts" gorm:"default:0" validate:"min=0"`

	// Metadata
	CreatedBy string         `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	Slots    []AssessmentSlot    `json:"slots" gorm:"foreignKey:AssessmentID"`
	Sections []AssessmentSection `json:"sections" gorm:"foreignKey:AssessmentID"`
}

func (Assessment) TableName() string {
	return "assessments"
}

// AssessmentSlot is one declared position in an assessment. A static slot
// carries QuestionID; a random slot leaves it nil and carries the selection
// scope (category, subcategory flag, tag filter) instead.
type AssessmentSlot struct {
	ID           uint `json:"id" gorm:"primaryKey"`
	AssessmentID uint `json:"assessment_id" gorm:"not null;uniqueIndex:idx_assessment_slot"`
	SlotNumber   int  `json:"slot_number" gorm:"not null;uniqueIndex:idx_assessment_slot"`
	Page         int  `json:"page" gorm:"not null;default:1"`

	MaxMark         float64 `json:"max_mark" gorm:"not null;default:1"`
	RequirePrevious bool    `json:"require_previous" gorm:"default:false"`

	// Static slot
	QuestionID *uint `json:"question_id" gorm:"index"`

	// Random slot scope
	CategoryID           *uint          `json:"category_id"`
	IncludeSubcategories bool           `json:"include_subcategories" gorm:"default:false"`
	Tags                 datatypes.JSON `json:"tags" gorm:"type:jsonb"` // []string, AND semantics

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AssessmentSlot) TableName() string {
	return "assessment_slots"
}

// IsRandom reports whether the slot must be resolved through the selection
// engine at attempt-creation time.
func (s *AssessmentSlot) IsRandom() bool {
	return s.QuestionID == nil
}

func (s *AssessmentSlot) TagList() []string {
	if len(s.Tags) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(s.Tags, &tags); err != nil {
		return nil
	}
	return tags
}

// AssessmentSection groups a contiguous run of slots starting at
// FirstSlotNumber. A section may request shuffling of its slots and carries a
// display heading.
type AssessmentSection struct {
	ID              uint    `json:"id" gorm:"primaryKey"`
	AssessmentID    uint    `json:"assessment_id" gorm:"not null;index"`
	FirstSlotNumber int     `json:"first_slot_number" gorm:"not null"`
	Heading         *string `json:"heading" gorm:"size:255"`
	Shuffle         bool    `json:"shuffle" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AssessmentSection) TableName() string {
	return "assessment_sections"
}

// AssessmentGrade is the aggregated final grade for one user on one
// assessment, recomputed inside every terminal attempt transition.
type AssessmentGrade struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	AssessmentID uint      `json:"assessment_id" gorm:"not null;uniqueIndex:idx_assessment_grade_user"`
	UserID       string    `json:"user_id" gorm:"not null;size:255;uniqueIndex:idx_assessment_grade_user"`
	Grade        float64   `json:"grade" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (AssessmentGrade) TableName() string {
	return "assessment_grades"
}

// AssessmentOverride replaces timing settings for one user or one group.
// A user override beats any group override; among group overrides the most
// generous value wins per field.
type AssessmentOverride struct {
	ID           uint    `json:"id" gorm:"primaryKey"`
	AssessmentID uint    `json:"assessment_id" gorm:"not null;index"`
	UserID       *string `json:"user_id" gorm:"size:255;index"`
	GroupID      *string `json:"group_id" gorm:"size:255;index"`

	TimeClose *time.Time `json:"time_close"`
	TimeLimit *int       `json:"time_limit"` // seconds

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AssessmentOverride) TableName() string {
	return "assessment_overrides"
}
