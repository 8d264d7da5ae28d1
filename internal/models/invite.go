package models

import (
	"encoding/json"
	"time"
)

// Invite is the server-side record behind an assessment invite envelope.
type Invite struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	InviteID     string          `gorm:"size:36;uniqueIndex;not null" json:"invite_id"`
	RoomID       uint            `gorm:"not null;index" json:"room_id"`
	InviterID    uint            `gorm:"not null" json:"inviter_id"`
	InviteeID    uint            `gorm:"not null;index" json:"invitee_id"`
	Type         string          `gorm:"size:20;not null" json:"assessment_type"`
	Status       string          `gorm:"size:20;not null;default:'pending'" json:"status"`
	AssessmentID uint            `gorm:"default:0" json:"assessment_id,omitempty"`
	InProgress   bool            `gorm:"not null;default:false" json:"in_progress"`
	Paused       bool            `gorm:"not null;default:false" json:"paused"`
	Progress     json.RawMessage `gorm:"type:json" json:"progress,omitempty"`
	Summary      json.RawMessage `gorm:"type:json" json:"summary,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
