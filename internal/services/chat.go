package services

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/xuhao2004/kimochi-sub000/internal/models"
	"github.com/xuhao2004/kimochi-sub000/internal/session"
	"github.com/xuhao2004/kimochi-sub000/internal/ws"

	"gorm.io/gorm"
)

// ChatService owns rooms and their append-only message logs.
type ChatService struct {
	db      *gorm.DB
	hub     *ws.Hub
	invites *InviteService
}

func NewChatService(db *gorm.DB, hub *ws.Hub, invites *InviteService) *ChatService {
	return &ChatService{db: db, hub: hub, invites: invites}
}

// CreateDirectRoom finds or creates the 1:1 room between two users.
func (s *ChatService) CreateDirectRoom(userID, peerID uint) (*models.Room, error) {
	if userID == peerID {
		return nil, errors.New("cannot open a room with yourself")
	}
	var peer models.User
	if err := s.db.First(&peer, peerID).Error; err != nil {
		return nil, errors.New("user not found")
	}

	var roomID uint
	row := s.db.Table("room_members AS a").
		Select("a.room_id").
		Joins("JOIN room_members AS b ON a.room_id = b.room_id").
		Joins("JOIN rooms ON rooms.id = a.room_id AND rooms.kind = ?", models.RoomKindDirect).
		Where("a.user_id = ? AND b.user_id = ?", userID, peerID).
		Limit(1).
		Row()
	if err := row.Scan(&roomID); err == nil && roomID != 0 {
		var room models.Room
		if err := s.db.Preload("Members").First(&room, roomID).Error; err == nil {
			return &room, nil
		}
	}

	room := models.Room{Kind: models.RoomKindDirect}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		now := time.Now()
		members := []models.RoomMember{
			{RoomID: room.ID, UserID: userID, JoinedAt: now},
			{RoomID: room.ID, UserID: peerID, JoinedAt: now},
		}
		for i := range members {
			if err := tx.Create(&members[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.db.Preload("Members").First(&room, room.ID)
	return &room, nil
}

// ListRooms returns the rooms a user belongs to.
func (s *ChatService) ListRooms(userID uint) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Preload("Members").
		Order("rooms.created_at DESC").
		Find(&rooms).Error
	return rooms, err
}

func (s *ChatService) isMember(roomID, userID uint) bool {
	var count int64
	s.db.Model(&models.RoomMember{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count)
	return count > 0
}

// SendMessage appends a message to the room log. Messages of kind
// invite_assessment carry an envelope that is validated and applied to the
// invite record before the append; an illegal transition rejects the whole
// send so the log never carries state the server refused.
func (s *ChatService) SendMessage(roomID, senderID uint, kind, body string, payload json.RawMessage) (*models.Message, error) {
	if !s.isMember(roomID, senderID) {
		return nil, errors.New("not a member of this room")
	}

	switch kind {
	case models.MessageKindText:
		if body == "" {
			return nil, errors.New("message body is required")
		}
	case models.MessageKindInviteAssessment:
		var env session.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, errors.New("invalid invite payload")
		}
		if !s.isMember(roomID, env.InviteeID) || !s.isMember(roomID, env.InviterID) {
			return nil, errors.New("invite parties must be room members")
		}
		if err := s.invites.ApplyEnvelope(senderID, roomID, env); err != nil {
			return nil, err
		}
		// Re-project so the appended message carries the authoritative
		// post-transition state, not whatever the client composed.
		inv, err := s.invites.Get(env.InviteID)
		if err != nil {
			return nil, err
		}
		authoritative := EnvelopeFor(inv)
		raw, err := json.Marshal(authoritative)
		if err != nil {
			return nil, err
		}
		payload = raw
	default:
		return nil, errors.New("unknown message kind")
	}

	msg := models.Message{
		RoomID:    roomID,
		SenderID:  senderID,
		Kind:      kind,
		Body:      body,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, err
	}

	s.hub.Broadcast(roomID, ws.WSMessage{Type: "message", Data: msg})
	return &msg, nil
}

// ListMessages returns the full room log, oldest first.
func (s *ChatService) ListMessages(roomID, userID uint) ([]models.Message, error) {
	if !s.isMember(roomID, userID) {
		return nil, errors.New("not a member of this room")
	}
	var msgs []models.Message
	err := s.db.Where("room_id = ?", roomID).
		Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}
