package models

import "time"

type Room struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	Kind      string       `gorm:"size:10;not null;default:'direct'" json:"kind"`
	Members   []RoomMember `gorm:"foreignKey:RoomID" json:"members,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

const RoomKindDirect = "direct"

type RoomMember struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	RoomID   uint      `gorm:"not null;uniqueIndex:idx_room_user" json:"room_id"`
	UserID   uint      `gorm:"not null;uniqueIndex:idx_room_user" json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}
