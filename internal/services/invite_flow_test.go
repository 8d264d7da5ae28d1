package services

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/xuhao2004/kimochi-sub000/internal/models"
	"github.com/xuhao2004/kimochi-sub000/internal/session"
	"github.com/xuhao2004/kimochi-sub000/internal/ws"

	"gorm.io/gorm"
)

type flowStack struct {
	db          *gorm.DB
	assessments *AssessmentService
	invites     *InviteService
	chat        *ChatService
	inviter     models.User
	invitee     models.User
	room        *models.Room
}

func newFlowStack(t *testing.T) *flowStack {
	t.Helper()
	db := testDB(t)
	q := NewQuestionnaireService(db)
	seedMBTI(t, q)

	hub := ws.NewHub()
	assessments := NewAssessmentService(db, q, NewScoringService())
	invites := NewInviteService(db, hub, assessments)
	chat := NewChatService(db, hub, invites)

	inviter := models.User{Username: "counselor", PasswordHash: "x"}
	invitee := models.User{Username: "visitor", PasswordHash: "x"}
	if err := db.Create(&inviter).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := db.Create(&invitee).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	room, err := chat.CreateDirectRoom(inviter.ID, invitee.ID)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return &flowStack{
		db:          db,
		assessments: assessments,
		invites:     invites,
		chat:        chat,
		inviter:     inviter,
		invitee:     invitee,
		room:        room,
	}
}

func (f *flowStack) sendEnvelope(t *testing.T, senderID uint, env session.Envelope) (*models.Message, error) {
	t.Helper()
	payload, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return f.chat.SendMessage(f.room.ID, senderID, models.MessageKindInviteAssessment, "", payload)
}

func (f *flowStack) pendingEnvelope() session.Envelope {
	return session.Envelope{
		InviteID:  "inv-1",
		Type:      session.TypeMBTI,
		InviterID: f.inviter.ID,
		InviteeID: f.invitee.ID,
		Status:    session.StatusPending,
	}
}

func (f *flowStack) invite(t *testing.T) session.Envelope {
	t.Helper()
	env := f.pendingEnvelope()
	if _, err := f.sendEnvelope(t, f.inviter.ID, env); err != nil {
		t.Fatalf("send invite: %v", err)
	}
	return env
}

func (f *flowStack) accept(t *testing.T) (session.Envelope, *models.Assessment) {
	t.Helper()
	env := f.invite(t)
	a, err := f.assessments.CreateOrAttach(f.invitee.ID, string(env.Type), env.InviteID)
	if err != nil {
		t.Fatalf("create assessment: %v", err)
	}
	env.Status = session.StatusAccepted
	env.AssessmentID = a.ID
	env.InProgress = true
	if _, err := f.sendEnvelope(t, f.invitee.ID, env); err != nil {
		t.Fatalf("send accept: %v", err)
	}
	return env, a
}

func TestInviteBornFromChatMessage(t *testing.T) {
	f := newFlowStack(t)
	msg, err := f.sendEnvelope(t, f.inviter.ID, f.pendingEnvelope())
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Kind != models.MessageKindInviteAssessment {
		t.Fatalf("wrong message kind %s", msg.Kind)
	}

	inv, err := f.invites.Get("inv-1")
	if err != nil {
		t.Fatalf("invite not created: %v", err)
	}
	if inv.Status != string(session.StatusPending) || inv.RoomID != f.room.ID {
		t.Fatalf("invite record wrong: %+v", inv)
	}

	// Re-sending the same pending invite is absorbed, not duplicated.
	if _, err := f.sendEnvelope(t, f.inviter.ID, f.pendingEnvelope()); err != nil {
		t.Fatalf("duplicate send: %v", err)
	}
	var count int64
	f.db.Model(&models.Invite{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one invite row, got %d", count)
	}
}

func TestInviteMustComeFromInviter(t *testing.T) {
	f := newFlowStack(t)
	if _, err := f.sendEnvelope(t, f.invitee.ID, f.pendingEnvelope()); err == nil {
		t.Fatalf("pending envelope from the invitee must be rejected")
	}
}

func TestInviterCannotDriveTransitions(t *testing.T) {
	f := newFlowStack(t)
	env := f.invite(t)

	env.Status = session.StatusAccepted
	if _, err := f.sendEnvelope(t, f.inviter.ID, env); !errors.Is(err, session.ErrNotInvitee) {
		t.Fatalf("expected ErrNotInvitee, got %v", err)
	}
}

func TestAcceptLinksAssessmentAndReprojects(t *testing.T) {
	f := newFlowStack(t)
	env, a := f.accept(t)

	inv, _ := f.invites.Get(env.InviteID)
	if inv.Status != string(session.StatusAccepted) || inv.AssessmentID != a.ID || !inv.InProgress {
		t.Fatalf("invite not linked: %+v", inv)
	}

	// The appended message carries the authoritative projection, not the
	// client's composition.
	msgs, err := f.chat.ListMessages(f.room.ID, f.inviter.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	last := msgs[len(msgs)-1]
	var onWire session.Envelope
	if err := json.Unmarshal(last.Payload, &onWire); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if onWire.Status != session.StatusAccepted || onWire.AssessmentID != a.ID {
		t.Fatalf("wire envelope not authoritative: %+v", onWire)
	}
}

func TestAcceptRejectsForeignAssessment(t *testing.T) {
	f := newFlowStack(t)
	env := f.invite(t)

	// An assessment belonging to someone else cannot be linked.
	foreign := models.Assessment{UserID: f.inviter.ID, Type: "mbti", Status: models.AssessmentStatusActive}
	if err := f.db.Create(&foreign).Error; err != nil {
		t.Fatalf("seed assessment: %v", err)
	}
	env.Status = session.StatusAccepted
	env.AssessmentID = foreign.ID
	if _, err := f.sendEnvelope(t, f.invitee.ID, env); err == nil {
		t.Fatalf("linking a foreign assessment must fail")
	}
}

func TestPauseStoresSnapshot(t *testing.T) {
	f := newFlowStack(t)
	env, _ := f.accept(t)

	env.InProgress = false
	env.Paused = true
	env.Progress = session.Snapshot(2, 4)
	if _, err := f.sendEnvelope(t, f.invitee.ID, env); err != nil {
		t.Fatalf("send pause: %v", err)
	}

	inv, _ := f.invites.Get(env.InviteID)
	if !inv.Paused || inv.InProgress {
		t.Fatalf("pause not recorded: %+v", inv)
	}
	wire := EnvelopeFor(inv)
	if wire.Progress == nil || wire.Progress.AnsweredCount != 2 || *wire.Progress.Percent != 50 {
		t.Fatalf("snapshot not stored: %+v", wire.Progress)
	}

	// Resuming clears the snapshot.
	env.InProgress = true
	env.Paused = false
	env.Progress = nil
	if _, err := f.sendEnvelope(t, f.invitee.ID, env); err != nil {
		t.Fatalf("send resume: %v", err)
	}
	inv, _ = f.invites.Get(env.InviteID)
	if wire := EnvelopeFor(inv); wire.Progress != nil {
		t.Fatalf("resume must clear the snapshot, got %+v", wire.Progress)
	}
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFlowStack(t)
	env := f.invite(t)

	env.Status = session.StatusRejected
	if _, err := f.sendEnvelope(t, f.invitee.ID, env); err != nil {
		t.Fatalf("send reject: %v", err)
	}
	inv, _ := f.invites.Get(env.InviteID)
	if inv.Status != string(session.StatusRejected) {
		t.Fatalf("expected rejected, got %s", inv.Status)
	}

	// A stale accept after the rejection is absorbed without effect.
	env.Status = session.StatusAccepted
	if _, err := f.sendEnvelope(t, f.invitee.ID, env); err != nil {
		t.Fatalf("stale accept must be absorbed, got %v", err)
	}
	inv, _ = f.invites.Get(env.InviteID)
	if inv.Status != string(session.StatusRejected) {
		t.Fatalf("terminal state must be sticky, got %s", inv.Status)
	}
}

func TestCompletionOnlyBySubmission(t *testing.T) {
	f := newFlowStack(t)
	env, _ := f.accept(t)

	env.Status = session.StatusCompleted
	if _, err := f.sendEnvelope(t, f.invitee.ID, env); err == nil {
		t.Fatalf("client-sent completed envelope must be rejected")
	}
}

func TestSubmitCompletesInvite(t *testing.T) {
	f := newFlowStack(t)
	env, a := f.accept(t)

	_, summary, err := f.assessments.Submit(a.ID, f.invitee.ID, completeMBTIAnswers(), 90)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	msg, err := f.invites.Complete(env.InviteID, summary)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if msg == nil || msg.SenderID != f.invitee.ID {
		t.Fatalf("completed envelope must be appended on the invitee's behalf")
	}

	inv, _ := f.invites.Get(env.InviteID)
	if inv.Status != string(session.StatusCompleted) || len(inv.Summary) == 0 {
		t.Fatalf("invite not completed: %+v", inv)
	}

	// Repeat completion is a no-op.
	again, err := f.invites.Complete(env.InviteID, summary)
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if again != nil {
		t.Fatalf("repeat complete must not append")
	}
}

func TestCancelDiscardsAssessment(t *testing.T) {
	f := newFlowStack(t)
	env, a := f.accept(t)
	f.assessments.SaveProgress(a.ID, f.invitee.ID, session.SaveRequest{
		Answers: map[string]string{"m1": "A"},
	})

	env.Status = session.StatusCanceled
	env.AssessmentID = 0
	env.InProgress = false
	if _, err := f.sendEnvelope(t, f.invitee.ID, env); err != nil {
		t.Fatalf("send cancel: %v", err)
	}

	inv, _ := f.invites.Get(env.InviteID)
	if inv.Status != string(session.StatusCanceled) || inv.AssessmentID != 0 {
		t.Fatalf("cancel not applied: %+v", inv)
	}

	var fresh models.Assessment
	f.db.First(&fresh, a.ID)
	if fresh.Status != models.AssessmentStatusCanceled {
		t.Fatalf("cancel must discard the assessment, got %s", fresh.Status)
	}
	answers := map[string]string{}
	json.Unmarshal(fresh.Answers, &answers)
	if len(answers) != 0 {
		t.Fatalf("cancel must purge answers, got %v", answers)
	}
}

func TestSendMessageRequiresMembership(t *testing.T) {
	f := newFlowStack(t)
	outsider := models.User{Username: "outsider", PasswordHash: "x"}
	if err := f.db.Create(&outsider).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := f.chat.SendMessage(f.room.ID, outsider.ID, models.MessageKindText, "hi", nil); err == nil {
		t.Fatalf("non-member send must fail")
	}
	if _, err := f.chat.ListMessages(f.room.ID, outsider.ID); err == nil {
		t.Fatalf("non-member list must fail")
	}
}

func TestMessageLogOrderedOldestFirst(t *testing.T) {
	f := newFlowStack(t)
	for _, body := range []string{"one", "two", "three"} {
		if _, err := f.chat.SendMessage(f.room.ID, f.inviter.ID, models.MessageKindText, body, nil); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	msgs, err := f.chat.ListMessages(f.room.ID, f.invitee.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Body != "one" || msgs[2].Body != "three" {
		t.Fatalf("log order wrong: %+v", msgs)
	}
}

func TestCreateDirectRoomReusesExisting(t *testing.T) {
	f := newFlowStack(t)
	again, err := f.chat.CreateDirectRoom(f.invitee.ID, f.inviter.ID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if again.ID != f.room.ID {
		t.Fatalf("direct room must be reused, got %d and %d", f.room.ID, again.ID)
	}
	if _, err := f.chat.CreateDirectRoom(f.inviter.ID, f.inviter.ID); err == nil {
		t.Fatalf("self room must be rejected")
	}
}
