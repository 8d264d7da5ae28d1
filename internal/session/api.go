package session

import (
	"context"
	"encoding/json"
	"time"
)

// Question is one questionnaire item as served to a session.
type Question struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Dimension string `json:"dimension,omitempty"`
	Reverse   bool   `json:"reverse,omitempty"`
}

// ScaleOption is one point on a rating scale (SCL-90, SDS).
type ScaleOption struct {
	Value int    `json:"value"`
	Label string `json:"label"`
}

// QuestionSet is the full question list plus paging and scale metadata for
// one assessment type/variant.
type QuestionSet struct {
	Questions    []Question    `json:"questions"`
	PageSize     int           `json:"page_size"`
	Instruction  string        `json:"instruction,omitempty"`
	ScaleOptions []ScaleOption `json:"scale_options,omitempty"`
	Variant      string        `json:"variant,omitempty"`
}

// RemoteSession is the server-held copy of an in-flight session.
type RemoteSession struct {
	AssessmentID   uint              `json:"assessment_id"`
	Variant        string            `json:"variant,omitempty"`
	Answers        map[string]string `json:"answers"`
	CurrentPage    int               `json:"current_page"`
	ElapsedTime    int               `json:"elapsed_time"`
	IsPaused       bool              `json:"is_paused"`
	TotalQuestions int               `json:"total_questions"`
}

// SaveRequest carries the full current state of a session to the remote
// tier. Saves always send the whole answer map so duplicates and reordered
// deliveries are harmless overwrites. Variant names the question-set
// variant the answers belong to; empty leaves the stored variant alone.
type SaveRequest struct {
	CurrentPage int               `json:"current_page"`
	Variant     string            `json:"variant,omitempty"`
	Answers     map[string]string `json:"answers"`
	ElapsedTime int               `json:"elapsed_time"`
	IsPaused    bool              `json:"is_paused"`
}

// API is the assessment collaborator consumed by the session runner and
// the invite controller.
type API interface {
	CreateOrAttach(ctx context.Context, t AssessmentType, inviteID string) (uint, error)
	GetSession(ctx context.Context, assessmentID uint) (*RemoteSession, error)
	SaveProgress(ctx context.Context, assessmentID uint, req SaveRequest) error
	// SaveProgressAsync is the fire-and-forget delivery mode used by the
	// unload flush: it must not block the caller and must be able to outlive
	// the caller's context. Failures are silent.
	SaveProgressAsync(assessmentID uint, req SaveRequest)
	Submit(ctx context.Context, assessmentID uint, answers map[string]string, elapsed int) (json.RawMessage, error)
	GetQuestions(ctx context.Context, t AssessmentType, variant string) (*QuestionSet, error)
}

// ChatMessage is one entry of the append-only room message log.
type ChatMessage struct {
	ID        uint            `json:"id"`
	RoomID    uint            `json:"room_id"`
	SenderID  uint            `json:"sender_id"`
	Kind      string          `json:"kind"`
	Body      string          `json:"body,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

const (
	KindText             = "text"
	KindInviteAssessment = "invite_assessment"
)

// Transport is the chat collaborator: envelope updates are delivered by
// appending a fresh invite_assessment message, never by mutating past ones.
type Transport interface {
	SendMessage(ctx context.Context, roomID uint, kind string, payload json.RawMessage) (*ChatMessage, error)
}
