package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownMessage = errors.New("no invite for that message")
	ErrNotAccepted    = errors.New("invite has not been accepted")
)

// InviteView is the render-ready projection of one invite for the chat UI.
// Action availability is per viewer role: only the invitee ever drives the
// invite lifecycle, the inviter's view is read-only.
type InviteView struct {
	MessageID    uint            `json:"message_id"`
	InviteID     string          `json:"invite_id"`
	Type         AssessmentType  `json:"assessment_type"`
	Status       InviteStatus    `json:"status"`
	InProgress   bool            `json:"in_progress"`
	Paused       bool            `json:"paused"`
	Percent      int             `json:"percent"`
	HasProgress  bool            `json:"has_progress"`
	Summary      json.RawMessage `json:"summary,omitempty"`
	CanAccept    bool            `json:"can_accept"`
	CanReject    bool            `json:"can_reject"`
	CanOpen      bool            `json:"can_open"`
	CanCancel    bool            `json:"can_cancel"`
}

// Controller is the client half of the invite protocol. It ingests the room
// message stream, maintains the latest envelope per invite, filters renders
// through the override guard, and exposes the four chat-UI actions.
type Controller struct {
	mu sync.Mutex

	viewerID  uint
	transport Transport
	api       API
	store     LocalStore
	guard     *OverrideGuard

	envelopes map[string]*Envelope // invite id -> latest applied state
	messages  map[uint]string      // message id -> invite id
	latestMsg map[string]uint      // invite id -> newest message id seen
	runners   map[string]*Runner   // invite id -> open session

	debounce time.Duration // runner debounce override, zero for default
}

// NewController builds a controller for one viewer.
func NewController(viewerID uint, transport Transport, api API, store LocalStore) *Controller {
	return &Controller{
		viewerID:  viewerID,
		transport: transport,
		api:       api,
		store:     store,
		guard:     NewOverrideGuard(),
		envelopes: make(map[string]*Envelope),
		messages:  make(map[uint]string),
		latestMsg: make(map[string]uint),
		runners:   make(map[string]*Runner),
	}
}

// Guard exposes the override guard, mainly for tests.
func (c *Controller) Guard() *OverrideGuard { return c.guard }

// SetDebounce overrides the runner debounce interval for sessions this
// controller opens.
func (c *Controller) SetDebounce(d time.Duration) { c.debounce = d }

// HandleMessages absorbs a snapshot or delta of the room message log. The
// stream may be stale, duplicated, or reordered; envelope application is
// idempotent and terminal states are sticky. A terminal push for an invite
// with an open session closes that session without a pause save.
func (c *Controller) HandleMessages(msgs []ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		if m.Kind != KindInviteAssessment || len(m.Payload) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(m.Payload, &env); err != nil {
			log.Printf("invite: bad envelope in message %d: %v", m.ID, err)
			continue
		}
		if env.InviteID == "" {
			continue
		}
		c.messages[m.ID] = env.InviteID
		if m.ID > c.latestMsg[env.InviteID] {
			c.latestMsg[env.InviteID] = m.ID
		}

		cur, ok := c.envelopes[env.InviteID]
		if !ok {
			copied := env
			c.envelopes[env.InviteID] = &copied
			continue
		}
		cur.Apply(env)

		if cur.Status.Terminal() {
			if r, open := c.runners[env.InviteID]; open {
				r.Close()
				delete(c.runners, env.InviteID)
			}
			c.guard.Release(env.InviteID)
		}
	}
}

// View renders the invite behind a message id, filtered through the
// override guard.
func (c *Controller) View(messageID uint) (InviteView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	env, err := c.envelopeForLocked(messageID)
	if err != nil {
		return InviteView{}, err
	}
	return c.viewLocked(messageID, *env), nil
}

// Invites renders every known invite once, anchored at the newest message
// seen for it, ordered by that message id. This is the sidebar listing; the
// per-message View still serves the inline chat bubbles.
func (c *Controller) Invites() []InviteView {
	c.mu.Lock()
	defer c.mu.Unlock()
	views := make([]InviteView, 0, len(c.envelopes))
	for id, env := range c.envelopes {
		views = append(views, c.viewLocked(c.latestMsg[id], *env))
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].MessageID < views[j].MessageID
	})
	return views
}

func (c *Controller) viewLocked(messageID uint, env Envelope) InviteView {
	env = c.guard.Rewrite(env)
	invitee := env.InviteeID == c.viewerID
	v := InviteView{
		MessageID:  messageID,
		InviteID:   env.InviteID,
		Type:       env.Type,
		Status:     env.Status,
		InProgress: env.InProgress,
		Paused:     env.Paused,
		Summary:    env.Summary,
	}
	if env.Progress != nil {
		v.HasProgress = true
		if env.Progress.Percent != nil {
			v.Percent = *env.Progress.Percent
		}
	}
	if !env.Status.Terminal() && invitee {
		v.CanAccept = env.Status == StatusPending
		v.CanReject = env.Status == StatusPending
		v.CanOpen = env.Status == StatusAccepted
		v.CanCancel = env.Status == StatusAccepted
	}
	return v
}

func (c *Controller) envelopeForLocked(messageID uint) (*Envelope, error) {
	inviteID, ok := c.messages[messageID]
	if !ok {
		return nil, ErrUnknownMessage
	}
	env, ok := c.envelopes[inviteID]
	if !ok {
		return nil, ErrUnknownMessage
	}
	return env, nil
}

// Invite creates a new pending invite in a room, sent by the viewer as
// inviter. Re-inviting while an older invite is still live is allowed; each
// invite id is independent in the projection.
func (c *Controller) Invite(ctx context.Context, roomID, inviteeID uint, t AssessmentType) (*ChatMessage, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown assessment type %q", t)
	}
	env := Envelope{
		InviteID:  uuid.NewString(),
		Type:      t,
		InviterID: c.viewerID,
		InviteeID: inviteeID,
		Status:    StatusPending,
	}
	msg, err := c.send(ctx, roomID, env)
	if err != nil {
		return nil, err
	}
	c.HandleMessages([]ChatMessage{*msg})
	return msg, nil
}

// Accept links or creates the assessment session and flips the invite to
// accepted/in-progress. Accepting an already-accepted invite is a no-op
// that returns the linked assessment id.
func (c *Controller) Accept(ctx context.Context, roomID, messageID uint) (uint, error) {
	c.mu.Lock()
	env, err := c.envelopeForLocked(messageID)
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	cur := *env
	c.mu.Unlock()

	if cur.InviteeID != c.viewerID {
		return 0, ErrNotInvitee
	}
	if cur.Status == StatusAccepted && cur.AssessmentID != 0 {
		return cur.AssessmentID, nil
	}
	if cur.Status != StatusPending {
		return 0, ErrInvalidTransition
	}

	assessmentID, err := c.api.CreateOrAttach(ctx, cur.Type, cur.InviteID)
	if err != nil {
		return 0, err
	}

	next := cur
	next.Status = StatusAccepted
	next.AssessmentID = assessmentID
	next.InProgress = true
	next.Paused = false
	msg, err := c.send(ctx, roomID, next)
	if err != nil {
		return 0, err
	}
	c.HandleMessages([]ChatMessage{*msg})
	return assessmentID, nil
}

// Reject declines a pending invite. Terminal.
func (c *Controller) Reject(ctx context.Context, roomID, messageID uint) error {
	c.mu.Lock()
	env, err := c.envelopeForLocked(messageID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	cur := *env
	c.mu.Unlock()

	if cur.InviteeID != c.viewerID {
		return ErrNotInvitee
	}
	if cur.Status != StatusPending {
		return ErrInvalidTransition
	}
	next := cur
	next.Status = StatusRejected
	msg, err := c.send(ctx, roomID, next)
	if err != nil {
		return err
	}
	c.HandleMessages([]ChatMessage{*msg})
	return nil
}

// ContinueOrOpen opens (or resumes) the session UI for an accepted invite:
// acquires the override, reconciles progress, and announces the resume via
// an accepted/in-progress envelope.
func (c *Controller) ContinueOrOpen(ctx context.Context, roomID, messageID uint) (*Runner, error) {
	c.mu.Lock()
	env, err := c.envelopeForLocked(messageID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	cur := *env
	if r, ok := c.runners[cur.InviteID]; ok && !r.Closed() {
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()

	if cur.InviteeID != c.viewerID {
		return nil, ErrNotInvitee
	}
	if cur.Status != StatusAccepted || cur.AssessmentID == 0 {
		return nil, ErrNotAccepted
	}

	c.guard.Acquire(cur.InviteID)
	r, err := Open(ctx, RunnerConfig{
		API:          c.api,
		Store:        c.store,
		AssessmentID: cur.AssessmentID,
		Type:         cur.Type,
		Debounce:     c.debounce,
	})
	if err != nil {
		c.guard.Release(cur.InviteID)
		return nil, err
	}

	c.mu.Lock()
	c.runners[cur.InviteID] = r
	c.mu.Unlock()

	next := cur
	next.InProgress = true
	next.Paused = false
	next.Progress = nil
	if msg, err := c.send(ctx, roomID, next); err == nil {
		c.HandleMessages([]ChatMessage{*msg})
	} else {
		log.Printf("invite: resume notify failed for %s: %v", cur.InviteID, err)
	}
	return r, nil
}

// CloseSession flushes and closes the open session for an invite and
// announces the pause with a progress snapshot.
func (c *Controller) CloseSession(ctx context.Context, roomID uint, inviteID string) error {
	c.mu.Lock()
	r, ok := c.runners[inviteID]
	if ok {
		delete(c.runners, inviteID)
	}
	env, hasEnv := c.envelopes[inviteID]
	var cur Envelope
	if hasEnv {
		cur = *env
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	snap := r.Close()
	c.guard.Release(inviteID)

	if !hasEnv || cur.Status.Terminal() {
		return nil
	}
	next := cur
	next.InProgress = false
	next.Paused = true
	next.Progress = snap
	msg, err := c.send(ctx, roomID, next)
	if err != nil {
		return err
	}
	c.HandleMessages([]ChatMessage{*msg})
	return nil
}

// Cancel abandons the assessment: the remote answer set is discarded by the
// server, the assessment link is cleared, and the local cache is purged so
// a later resume cannot pick up stale progress. Irreversible.
func (c *Controller) Cancel(ctx context.Context, roomID, messageID uint) error {
	c.mu.Lock()
	env, err := c.envelopeForLocked(messageID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	cur := *env
	r, open := c.runners[cur.InviteID]
	if open {
		delete(c.runners, cur.InviteID)
	}
	c.mu.Unlock()

	if cur.InviteeID != c.viewerID {
		return ErrNotInvitee
	}
	if cur.Status.Terminal() {
		return nil
	}
	if cur.Status != StatusAccepted {
		return ErrInvalidTransition
	}

	if open {
		r.Close()
	}
	c.guard.Release(cur.InviteID)
	if cur.AssessmentID != 0 {
		PurgeLocal(c.store, cur.AssessmentID)
	}

	next := cur
	next.Status = StatusCanceled
	next.AssessmentID = 0
	next.InProgress = false
	next.Paused = false
	next.Progress = nil
	msg, err := c.send(ctx, roomID, next)
	if err != nil {
		return err
	}
	c.HandleMessages([]ChatMessage{*msg})
	return nil
}

func (c *Controller) send(ctx context.Context, roomID uint, env Envelope) (*ChatMessage, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return c.transport.SendMessage(ctx, roomID, KindInviteAssessment, payload)
}
