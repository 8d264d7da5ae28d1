package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xuhao2004/kimochi-sub000/internal/models"
	"github.com/xuhao2004/kimochi-sub000/internal/session"

	"gorm.io/gorm"
)

// AssessmentService owns the durable remote tier of session progress.
type AssessmentService struct {
	db             *gorm.DB
	questionnaires *QuestionnaireService
	scorer         Scorer
}

func NewAssessmentService(db *gorm.DB, questionnaires *QuestionnaireService, scorer Scorer) *AssessmentService {
	return &AssessmentService{db: db, questionnaires: questionnaires, scorer: scorer}
}

// CreateOrAttach returns the session linked to an invite, creating one on
// first accept. Repeat calls for the same invite are idempotent.
func (s *AssessmentService) CreateOrAttach(userID uint, typ, inviteID string) (*models.Assessment, error) {
	if !session.AssessmentType(typ).Valid() {
		return nil, fmt.Errorf("unknown assessment type %q", typ)
	}

	if inviteID != "" {
		var invite models.Invite
		if err := s.db.Where("invite_id = ?", inviteID).First(&invite).Error; err != nil {
			return nil, errors.New("invite not found")
		}
		if invite.InviteeID != userID {
			return nil, session.ErrNotInvitee
		}
		if invite.AssessmentID != 0 {
			var existing models.Assessment
			if err := s.db.First(&existing, invite.AssessmentID).Error; err == nil {
				return &existing, nil
			}
		}
		var existing models.Assessment
		if err := s.db.Where("invite_id = ? AND status = ?", inviteID, models.AssessmentStatusActive).
			First(&existing).Error; err == nil {
			return &existing, nil
		}
	}

	assessment := models.Assessment{
		UserID:   userID,
		InviteID: inviteID,
		Type:     typ,
		Answers:  json.RawMessage("{}"),
		Status:   models.AssessmentStatusActive,
	}
	if err := s.db.Create(&assessment).Error; err != nil {
		return nil, err
	}
	return &assessment, nil
}

// Get returns the remote copy of a session for resume-time reconciliation.
func (s *AssessmentService) Get(assessmentID, userID uint) (*session.RemoteSession, error) {
	var a models.Assessment
	if err := s.db.First(&a, assessmentID).Error; err != nil {
		return nil, errors.New("assessment not found")
	}
	if a.UserID != userID {
		return nil, errors.New("assessment not found")
	}

	answers := map[string]string{}
	if len(a.Answers) > 0 {
		if err := json.Unmarshal(a.Answers, &answers); err != nil {
			return nil, fmt.Errorf("corrupt answers for assessment %d: %w", a.ID, err)
		}
	}

	total, err := s.questionnaires.TotalQuestions(a.Type, a.Variant)
	if err != nil {
		total = 0
	}

	return &session.RemoteSession{
		AssessmentID:   a.ID,
		Variant:        a.Variant,
		Answers:        answers,
		CurrentPage:    a.CurrentPage,
		ElapsedTime:    a.ElapsedTime,
		IsPaused:       a.IsPaused,
		TotalQuestions: total,
	}, nil
}

// SaveProgress overwrites the stored session state with the full snapshot
// carried by the request. Duplicate and reordered saves are harmless; a
// save against a submitted or canceled session is absorbed as a no-op so a
// straggling unload flush can never resurrect discarded progress.
func (s *AssessmentService) SaveProgress(assessmentID, userID uint, req session.SaveRequest) error {
	var a models.Assessment
	if err := s.db.First(&a, assessmentID).Error; err != nil {
		return errors.New("assessment not found")
	}
	if a.UserID != userID {
		return errors.New("assessment not found")
	}
	if a.Status != models.AssessmentStatusActive {
		return nil
	}

	answers := req.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	raw, err := json.Marshal(answers)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{
		"answers":      json.RawMessage(raw),
		"current_page": req.CurrentPage,
		"elapsed_time": req.ElapsedTime,
		"is_paused":    req.IsPaused,
	}
	// An empty variant leaves the stored one alone so a save written before
	// the client learned which question set it was served cannot clobber a
	// recorded variant switch.
	if req.Variant != "" {
		updates["variant"] = req.Variant
	}
	return s.db.Model(&a).Updates(updates).Error
}

// Submit grades a complete answer set, stores the summary, and marks the
// session submitted. Incomplete submissions are rejected with the missing
// count before anything is written.
func (s *AssessmentService) Submit(assessmentID, userID uint, answers map[string]string, elapsed int) (*models.Assessment, json.RawMessage, error) {
	var a models.Assessment
	if err := s.db.First(&a, assessmentID).Error; err != nil {
		return nil, nil, errors.New("assessment not found")
	}
	if a.UserID != userID {
		return nil, nil, errors.New("assessment not found")
	}
	if a.Status == models.AssessmentStatusSubmitted {
		return nil, nil, errors.New("assessment already submitted")
	}
	if a.Status != models.AssessmentStatusActive {
		return nil, nil, errors.New("assessment is not active")
	}

	items, err := s.questionnaires.Items(a.Type, a.Variant)
	if err != nil {
		return nil, nil, err
	}
	missing := 0
	for _, item := range items {
		if v, ok := answers[item.Code]; !ok || v == "" {
			missing++
		}
	}
	if missing > 0 {
		return nil, nil, &session.UnansweredError{Count: missing}
	}

	summary, err := s.scorer.Score(a.Type, items, answers)
	if err != nil {
		return nil, nil, err
	}

	raw, err := json.Marshal(answers)
	if err != nil {
		return nil, nil, err
	}
	updates := map[string]interface{}{
		"answers":      json.RawMessage(raw),
		"elapsed_time": elapsed,
		"is_paused":    false,
		"status":       models.AssessmentStatusSubmitted,
		"summary":      summary,
	}
	if err := s.db.Model(&a).Updates(updates).Error; err != nil {
		return nil, nil, err
	}
	a.Summary = summary
	a.Status = models.AssessmentStatusSubmitted
	return &a, summary, nil
}

// CancelByInvite discards a session's answers and closes it. Used when the
// invitee cancels the invite; the purge is what makes a later stale resume
// impossible on the remote tier.
func (s *AssessmentService) CancelByInvite(inviteID string) error {
	var a models.Assessment
	if err := s.db.Where("invite_id = ? AND status = ?", inviteID, models.AssessmentStatusActive).
		First(&a).Error; err != nil {
		return nil
	}
	return s.db.Model(&a).Updates(map[string]interface{}{
		"answers":      json.RawMessage("{}"),
		"current_page": 0,
		"elapsed_time": 0,
		"is_paused":    false,
		"status":       models.AssessmentStatusCanceled,
	}).Error
}
