package models

import (
	"encoding/json"
	"time"
)

// Message is one entry of the append-only room log. Invite state changes
// append a fresh invite_assessment message carrying the updated envelope;
// past messages are never rewritten.
type Message struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	RoomID    uint            `gorm:"not null;index" json:"room_id"`
	SenderID  uint            `gorm:"not null" json:"sender_id"`
	Kind      string          `gorm:"size:30;not null;default:'text'" json:"kind"`
	Body      string          `gorm:"type:text" json:"body,omitempty"`
	Payload   json.RawMessage `gorm:"type:json" json:"payload,omitempty"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

const (
	MessageKindText             = "text"
	MessageKindInviteAssessment = "invite_assessment"
)
