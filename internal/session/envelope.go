package session

import (
	"encoding/json"
	"errors"
	"math"
)

// AssessmentType identifies one of the supported questionnaires.
type AssessmentType string

const (
	TypeMBTI  AssessmentType = "mbti"
	TypeSCL90 AssessmentType = "scl90"
	TypeSDS   AssessmentType = "sds"
)

func (t AssessmentType) Valid() bool {
	switch t {
	case TypeMBTI, TypeSCL90, TypeSDS:
		return true
	}
	return false
}

// InviteStatus is the lifecycle state of an assessment invite.
type InviteStatus string

const (
	StatusPending   InviteStatus = "pending"
	StatusAccepted  InviteStatus = "accepted"
	StatusCanceled  InviteStatus = "canceled"
	StatusRejected  InviteStatus = "rejected"
	StatusCompleted InviteStatus = "completed"
)

// Terminal reports whether no further transitions are permitted.
func (s InviteStatus) Terminal() bool {
	return s == StatusCanceled || s == StatusRejected || s == StatusCompleted
}

func (s InviteStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusAccepted:
		return 1
	case StatusCanceled, StatusRejected, StatusCompleted:
		return 2
	}
	return -1
}

// ProgressSnapshot is written into the envelope when a session is paused.
// Percent is omitted when the total is unknown at snapshot time.
type ProgressSnapshot struct {
	AnsweredCount int  `json:"answered_count"`
	Total         int  `json:"total,omitempty"`
	Percent       *int `json:"percent,omitempty"`
}

// Snapshot builds a pause-time progress snapshot.
func Snapshot(answered, total int) *ProgressSnapshot {
	s := &ProgressSnapshot{AnsweredCount: answered, Total: total}
	if total > 0 {
		p := Percent(answered, total)
		s.Percent = &p
	}
	return s
}

// Percent computes round(100*answered/total) clamped to [0,100].
func Percent(answered, total int) int {
	if total <= 0 || answered <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(answered) / float64(total)))
	if p > 100 {
		p = 100
	}
	return p
}

// Envelope is the mutable invite payload carried inside chat messages of
// kind invite_assessment. The message log is append-only; the latest
// message carrying a given InviteID is the current truth for that invite.
type Envelope struct {
	InviteID     string            `json:"invite_id"`
	Type         AssessmentType    `json:"assessment_type"`
	InviterID    uint              `json:"inviter_id"`
	InviteeID    uint              `json:"invitee_id"`
	Status       InviteStatus      `json:"status"`
	AssessmentID uint              `json:"assessment_id,omitempty"`
	InProgress   bool              `json:"in_progress,omitempty"`
	Paused       bool              `json:"paused,omitempty"`
	Progress     *ProgressSnapshot `json:"progress,omitempty"`
	Summary      json.RawMessage   `json:"summary,omitempty"`
}

var (
	ErrTerminal          = errors.New("invite is in a terminal state")
	ErrInvalidTransition = errors.New("invalid invite transition")
	ErrNotInvitee        = errors.New("only the invitee may perform this action")
)

// ValidTransition reports whether moving from one status to another is
// allowed by the invite lifecycle. Re-entrant accepted->accepted is legal
// (used to refresh progress and the in-progress/paused flags).
func ValidTransition(from, to InviteStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusAccepted || to == StatusRejected || to == StatusCanceled
	case StatusAccepted:
		return to == StatusAccepted || to == StatusCanceled || to == StatusCompleted
	}
	return false
}

// Apply merges an incoming envelope into the current one, enforcing
// monotonic terminality. Duplicate or stale pushes are absorbed without
// effect. Returns true when the envelope changed.
func (e *Envelope) Apply(in Envelope) bool {
	if e.Status.Terminal() {
		return false
	}
	if in.Status.rank() < e.Status.rank() {
		return false
	}
	if in.Status == StatusRejected && e.Status != StatusPending {
		return false
	}

	changed := false
	if in.Status != e.Status {
		e.Status = in.Status
		changed = true
	}

	switch in.Status {
	case StatusAccepted:
		if in.AssessmentID != 0 && in.AssessmentID != e.AssessmentID {
			e.AssessmentID = in.AssessmentID
			changed = true
		}
		if in.InProgress != e.InProgress || in.Paused != e.Paused {
			e.InProgress = in.InProgress
			e.Paused = in.Paused
			changed = true
		}
		if in.Progress != nil {
			e.Progress = in.Progress
			changed = true
		}
	case StatusCanceled:
		e.AssessmentID = 0
		e.Progress = nil
		e.InProgress = false
		e.Paused = false
	case StatusCompleted:
		e.InProgress = false
		e.Paused = false
		if len(in.Summary) > 0 {
			e.Summary = in.Summary
		}
	case StatusRejected:
		e.InProgress = false
		e.Paused = false
	}
	return changed
}
