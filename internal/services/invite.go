package services

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/xuhao2004/kimochi-sub000/internal/models"
	"github.com/xuhao2004/kimochi-sub000/internal/session"
	"github.com/xuhao2004/kimochi-sub000/internal/ws"

	"gorm.io/gorm"
)

// InviteService maintains the server-side invite records behind the
// envelopes travelling through the chat stream.
type InviteService struct {
	db          *gorm.DB
	hub         *ws.Hub
	assessments *AssessmentService
}

func NewInviteService(db *gorm.DB, hub *ws.Hub, assessments *AssessmentService) *InviteService {
	return &InviteService{db: db, hub: hub, assessments: assessments}
}

// EnvelopeFor projects an invite record into its wire envelope.
func EnvelopeFor(inv *models.Invite) session.Envelope {
	env := session.Envelope{
		InviteID:     inv.InviteID,
		Type:         session.AssessmentType(inv.Type),
		InviterID:    inv.InviterID,
		InviteeID:    inv.InviteeID,
		Status:       session.InviteStatus(inv.Status),
		AssessmentID: inv.AssessmentID,
		InProgress:   inv.InProgress,
		Paused:       inv.Paused,
		Summary:      inv.Summary,
	}
	if len(inv.Progress) > 0 {
		var snap session.ProgressSnapshot
		if err := json.Unmarshal(inv.Progress, &snap); err == nil {
			env.Progress = &snap
		}
	}
	return env
}

// ApplyEnvelope validates and applies a client-sent envelope against the
// stored invite record. A pending envelope for an unknown invite id creates
// the record (that is how invites are born); everything else must be a
// legal, invitee-driven transition. Duplicate envelopes are absorbed
// without side effects.
func (s *InviteService) ApplyEnvelope(senderID, roomID uint, env session.Envelope) error {
	if !env.Type.Valid() {
		return errors.New("unknown assessment type")
	}
	if env.InviteID == "" {
		return errors.New("invite id is required")
	}

	var inv models.Invite
	err := s.db.Where("invite_id = ?", env.InviteID).First(&inv).Error
	if err != nil {
		if env.Status != session.StatusPending {
			return errors.New("invite not found")
		}
		if senderID != env.InviterID {
			return errors.New("invite must be sent by the inviter")
		}
		inv = models.Invite{
			InviteID:  env.InviteID,
			RoomID:    roomID,
			InviterID: env.InviterID,
			InviteeID: env.InviteeID,
			Type:      string(env.Type),
			Status:    string(session.StatusPending),
		}
		return s.db.Create(&inv).Error
	}

	cur := EnvelopeFor(&inv)
	if cur.Status == env.Status && cur.InProgress == env.InProgress && cur.Paused == env.Paused {
		// Duplicate delivery: refresh the progress snapshot at most.
		if env.Progress != nil {
			return s.storeProgress(&inv, env.Progress)
		}
		return nil
	}

	if cur.Status.Terminal() {
		// Terminal-state violation is a no-op, not an error: the sender is
		// acting on a stale view and will converge on the next pull.
		return nil
	}
	if senderID != inv.InviteeID {
		return session.ErrNotInvitee
	}
	if env.Status == session.StatusCompleted {
		return errors.New("completion is driven by submission")
	}
	if !session.ValidTransition(cur.Status, env.Status) {
		return session.ErrInvalidTransition
	}

	updates := map[string]interface{}{
		"status":      string(env.Status),
		"in_progress": env.InProgress,
		"paused":      env.Paused,
	}

	switch env.Status {
	case session.StatusAccepted:
		if env.AssessmentID != 0 && env.AssessmentID != inv.AssessmentID {
			var a models.Assessment
			if err := s.db.First(&a, env.AssessmentID).Error; err != nil {
				return errors.New("assessment not found")
			}
			if a.UserID != inv.InviteeID || (a.InviteID != "" && a.InviteID != inv.InviteID) {
				return errors.New("assessment does not belong to this invite")
			}
			updates["assessment_id"] = env.AssessmentID
		}
		if env.Progress != nil {
			raw, err := json.Marshal(env.Progress)
			if err != nil {
				return err
			}
			updates["progress"] = json.RawMessage(raw)
		} else if !env.Paused {
			// Resuming clears the pause-time snapshot.
			updates["progress"] = nil
		}
	case session.StatusRejected:
		updates["in_progress"] = false
		updates["paused"] = false
	case session.StatusCanceled:
		if err := s.assessments.CancelByInvite(inv.InviteID); err != nil {
			return err
		}
		updates["assessment_id"] = 0
		updates["progress"] = nil
		updates["in_progress"] = false
		updates["paused"] = false
	}

	return s.db.Model(&inv).Updates(updates).Error
}

func (s *InviteService) storeProgress(inv *models.Invite, snap *session.ProgressSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.db.Model(inv).Update("progress", json.RawMessage(raw)).Error
}

// Complete terminates an invite after a successful submission and appends
// the completed envelope to the room log on the invitee's behalf.
func (s *InviteService) Complete(inviteID string, summary json.RawMessage) (*models.Message, error) {
	var inv models.Invite
	if err := s.db.Where("invite_id = ?", inviteID).First(&inv).Error; err != nil {
		return nil, errors.New("invite not found")
	}
	if session.InviteStatus(inv.Status).Terminal() {
		return nil, nil
	}

	updates := map[string]interface{}{
		"status":      string(session.StatusCompleted),
		"in_progress": false,
		"paused":      false,
		"summary":     summary,
	}
	if err := s.db.Model(&inv).Updates(updates).Error; err != nil {
		return nil, err
	}

	s.db.Where("invite_id = ?", inviteID).First(&inv)
	env := EnvelopeFor(&inv)
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	msg := models.Message{
		RoomID:    inv.RoomID,
		SenderID:  inv.InviteeID,
		Kind:      models.MessageKindInviteAssessment,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	if err := s.db.Create(&msg).Error; err != nil {
		log.Printf("invite: completed envelope append failed for %s: %v", inviteID, err)
		return nil, err
	}

	s.hub.Broadcast(inv.RoomID, ws.WSMessage{Type: "message", Data: msg})
	return &msg, nil
}

// Get returns the invite record for an invite id.
func (s *InviteService) Get(inviteID string) (*models.Invite, error) {
	var inv models.Invite
	if err := s.db.Where("invite_id = ?", inviteID).First(&inv).Error; err != nil {
		return nil, errors.New("invite not found")
	}
	return &inv, nil
}
