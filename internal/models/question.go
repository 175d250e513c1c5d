package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// QuestionKind identifies the question-engine plugin that renders and grades a
// question. Whether a kind may be used by random slot selection is declared in
// the kinds registry, not here.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindTrueFalse      QuestionKind = "true_false"
	KindShortAnswer    QuestionKind = "short_answer"
	KindEssay          QuestionKind = "essay"
	KindMatching       QuestionKind = "matching"
	KindNumerical      QuestionKind = "numerical"
	KindDescription    QuestionKind = "description"
)

type Question struct {
	ID         uint         `json:"id" gorm:"primaryKey"`
	Kind       QuestionKind `json:"kind" gorm:"not null;index;size:50"`
	Name       string       `json:"name" gorm:"not null;size:255"`
	CategoryID uint         `json:"category_id" gorm:"not null;index"`

	// Content stored as JSONB, opaque to the delivery core
	Content datatypes.JSON `json:"content" gorm:"type:jsonb"`

	// Classification tags, []string as JSONB
	Tags datatypes.JSON `json:"tags" gorm:"type:jsonb"`

	DefaultMark float64 `json:"default_mark" gorm:"default:1"`

	CreatedBy string    `json:"created_by" gorm:"not null;index;size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Category QuestionCategory `json:"category" gorm:"foreignKey:CategoryID"`
}

func (Question) TableName() string {
	return "questions"
}

// TagList decodes the JSONB tag array. A question with no tags decodes to nil.
func (q *Question) TagList() []string {
	if len(q.Tags) == 0 {
		return nil
	}
	var tags []string
	if err := json.Unmarshal(q.Tags, &tags); err != nil {
		return nil
	}
	return tags
}

type QuestionCategory struct {
	ID       uint    `json:"id" gorm:"primaryKey"`
	ParentID *uint   `json:"parent_id" gorm:"index"`
	Name     string  `json:"name" gorm:"not null;size:255"`
	Info     *string `json:"info" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Parent   *QuestionCategory  `json:"parent" gorm:"foreignKey:ParentID"`
	Children []QuestionCategory `json:"children" gorm:"foreignKey:ParentID"`
}

func (QuestionCategory) TableName() string {
	return "question_categories"
}

// QuestionUsage counts how many times a question has been handed out within a
// usage context (one row per question per context). Incremented when an attempt
// freezes the question into its layout; read back by the pool filter.
type QuestionUsage struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	QuestionID   uint      `json:"question_id" gorm:"not null;uniqueIndex:idx_question_usage_ctx"`
	ContextID    uint      `json:"context_id" gorm:"not null;uniqueIndex:idx_question_usage_ctx"`
	UsedCount    int       `json:"used_count" gorm:"not null;default:0"`
	LastUsedAt   time.Time `json:"last_used_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (QuestionUsage) TableName() string {
	return "question_usages"
}
