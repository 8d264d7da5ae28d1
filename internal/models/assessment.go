package models

import (
	"encoding/json"
	"time"
)

// Assessment is one user's session of a questionnaire: the durable remote
// tier of the progress store. Answers hold the full map keyed by question
// id; saves overwrite the whole column so duplicate or reordered deliveries
// are harmless.
type Assessment struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      uint            `gorm:"not null;index" json:"user_id"`
	InviteID    string          `gorm:"size:36;index" json:"invite_id,omitempty"`
	Type        string          `gorm:"size:20;not null" json:"assessment_type"`
	Variant     string          `gorm:"size:20" json:"variant,omitempty"`
	Answers     json.RawMessage `gorm:"type:json" json:"answers,omitempty"`
	CurrentPage int             `gorm:"not null;default:0" json:"current_page"`
	ElapsedTime int             `gorm:"not null;default:0" json:"elapsed_time"`
	IsPaused    bool            `gorm:"not null;default:false" json:"is_paused"`
	Status      string          `gorm:"size:20;not null;default:'active'" json:"status"`
	Summary     json.RawMessage `gorm:"type:json" json:"summary,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

const (
	AssessmentStatusActive    = "active"
	AssessmentStatusSubmitted = "submitted"
	AssessmentStatusCanceled  = "canceled"
)
