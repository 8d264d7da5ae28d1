package client

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuhao2004/kimochi-sub000/internal/database"
	"github.com/xuhao2004/kimochi-sub000/internal/handlers"
	"github.com/xuhao2004/kimochi-sub000/internal/middleware"
	"github.com/xuhao2004/kimochi-sub000/internal/services"
	"github.com/xuhao2004/kimochi-sub000/internal/session"
	"github.com/xuhao2004/kimochi-sub000/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	database.AutoMigrate(db)

	hub := ws.NewHub()
	authService := services.NewAuthService(db, "test-secret")
	questionnaireService := services.NewQuestionnaireService(db)
	assessmentService := services.NewAssessmentService(db, questionnaireService, services.NewScoringService())
	inviteService := services.NewInviteService(db, hub, assessmentService)
	chatService := services.NewChatService(db, hub, inviteService)

	authHandler := handlers.NewAuthHandler(authService)
	chatHandler := handlers.NewChatHandler(chatService)
	assessmentHandler := handlers.NewAssessmentHandler(assessmentService, inviteService)
	questionnaireHandler := handlers.NewQuestionnaireHandler(questionnaireService)
	wsHandler := handlers.NewWSHandler(hub)

	r := gin.New()
	r.GET("/ws/room/:id", middleware.JWTAuth(authService), wsHandler.HandleWebSocket)

	api := r.Group("/api/v1")
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWTAuth(authService))
	authed.POST("/rooms", chatHandler.CreateRoom)
	authed.GET("/rooms/:id/messages", chatHandler.ListMessages)
	authed.POST("/rooms/:id/messages", chatHandler.SendMessage)
	authed.POST("/assessments", assessmentHandler.Create)
	authed.GET("/assessments/:id", assessmentHandler.Get)
	authed.PUT("/assessments/:id/progress", assessmentHandler.SaveProgress)
	authed.POST("/assessments/:id/submit", assessmentHandler.Submit)
	authed.POST("/questionnaires/import", questionnaireHandler.Import)
	authed.GET("/questionnaires/:type", questionnaireHandler.GetQuestions)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func register(t *testing.T, srv *httptest.Server, username string) *Client {
	t.Helper()
	boot := New(srv.URL, "")
	var resp struct {
		Token string `json:"token"`
	}
	err := boot.do(context.Background(), "POST", "/api/v1/auth/register", map[string]string{
		"username": username,
		"password": "secret-pw",
	}, &resp)
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return New(srv.URL, resp.Token)
}

func importMBTI(t *testing.T, c *Client) {
	t.Helper()
	req := services.QuestionnaireImport{
		Type:     "mbti",
		Title:    "MBTI",
		PageSize: 2,
		Items: []services.QuestionnaireImportItem{
			{Code: "m1", Text: "first", Dimension: "EI"},
			{Code: "m2", Text: "second", Dimension: "SN"},
			{Code: "m3", Text: "third", Dimension: "TF"},
			{Code: "m4", Text: "fourth", Dimension: "JP"},
		},
	}
	if err := c.do(context.Background(), "POST", "/api/v1/questionnaires/import", req, nil); err != nil {
		t.Fatalf("import questionnaire: %v", err)
	}
}

func createRoom(t *testing.T, c *Client, peerID uint) uint {
	t.Helper()
	var room struct {
		ID uint `json:"id"`
	}
	err := c.do(context.Background(), "POST", "/api/v1/rooms", map[string]uint{"peer_id": peerID}, &room)
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room.ID
}

// TestInviteSessionEndToEnd walks the full collaborative flow over HTTP:
// invite in chat, accept, answer with a pause in the middle, resume from
// the remote tier, submit, and read the completed envelope from the log.
func TestInviteSessionEndToEnd(t *testing.T) {
	srv := testServer(t)
	ctx := context.Background()

	counselor := register(t, srv, "counselor")
	visitor := register(t, srv, "visitor")
	importMBTI(t, counselor)
	roomID := createRoom(t, counselor, 2)

	counselorCtl := session.NewController(1, counselor, counselor, session.NewMemoryStore())
	visitorCtl := session.NewController(2, visitor, visitor, session.NewMemoryStore())
	// A long debounce keeps incremental saves out of the way so the pause
	// flush is the only write racing nothing.
	visitorCtl.SetDebounce(5 * time.Second)

	// Counselor invites; both sides ingest the log.
	if _, err := counselorCtl.Invite(ctx, roomID, 2, session.TypeMBTI); err != nil {
		t.Fatalf("invite: %v", err)
	}
	sync := func(ctl *session.Controller) uint {
		msgs, err := visitor.ListMessages(ctx, roomID)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		ctl.HandleMessages(msgs)
		return msgs[len(msgs)-1].ID
	}
	msgID := sync(visitorCtl)

	v, err := visitorCtl.View(msgID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !v.CanAccept {
		t.Fatalf("invitee must be offered accept: %+v", v)
	}

	assessmentID, err := visitorCtl.Accept(ctx, roomID, msgID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	r, err := visitorCtl.ContinueOrOpen(ctx, roomID, msgID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r.Answer("m1", "A")
	r.Answer("m2", "A")

	// Pause: close the session and wait for the beacon save to land.
	if err := visitorCtl.CloseSession(ctx, roomID, v.InviteID); err != nil {
		t.Fatalf("close session: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		remote, err := visitor.GetSession(ctx, assessmentID)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if remote.IsPaused && len(remote.Answers) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("beacon save never landed: %+v", remote)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The inviter sees the pause snapshot in the log.
	counselorMsgID := func() uint {
		msgs, err := counselor.ListMessages(ctx, roomID)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		counselorCtl.HandleMessages(msgs)
		return msgs[0].ID
	}()
	cv, err := counselorCtl.View(counselorMsgID)
	if err != nil {
		t.Fatalf("inviter view: %v", err)
	}
	if !cv.Paused || !cv.HasProgress || cv.Percent != 50 {
		t.Fatalf("inviter must see the pause snapshot: %+v", cv)
	}
	if cv.CanAccept || cv.CanOpen || cv.CanCancel {
		t.Fatalf("inviter view must stay read-only: %+v", cv)
	}

	// Resume on a fresh controller with an empty local tier: progress comes
	// back from the remote copy.
	resumed := session.NewController(2, visitor, visitor, session.NewMemoryStore())
	resumed.SetDebounce(10 * time.Millisecond)
	msgID = func() uint {
		msgs, _ := visitor.ListMessages(ctx, roomID)
		resumed.HandleMessages(msgs)
		return msgs[len(msgs)-1].ID
	}()
	r2, err := resumed.ContinueOrOpen(ctx, roomID, msgID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if r2.AnsweredCount() != 2 {
		t.Fatalf("resume must restore remote progress, got %d answers", r2.AnsweredCount())
	}

	r2.Answer("m3", "B")
	r2.Answer("m4", "B")
	summary, err := r2.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var result struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(summary, &result); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if result.Type != "ESFP" {
		t.Fatalf("expected ESFP, got %s", result.Type)
	}

	// The completed envelope lands in the log for both sides.
	msgs, err := counselor.ListMessages(ctx, roomID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	last := msgs[len(msgs)-1]
	var env session.Envelope
	if err := json.Unmarshal(last.Payload, &env); err != nil {
		t.Fatalf("decode final envelope: %v", err)
	}
	if env.Status != session.StatusCompleted || len(env.Summary) == 0 {
		t.Fatalf("final envelope wrong: %+v", env)
	}
}

func TestClientRejectsStaleSaves(t *testing.T) {
	srv := testServer(t)
	ctx := context.Background()

	counselor := register(t, srv, "counselor")
	visitor := register(t, srv, "visitor")
	importMBTI(t, counselor)
	roomID := createRoom(t, counselor, 2)

	counselorCtl := session.NewController(1, counselor, counselor, session.NewMemoryStore())
	visitorCtl := session.NewController(2, visitor, visitor, session.NewMemoryStore())
	visitorCtl.SetDebounce(10 * time.Millisecond)

	if _, err := counselorCtl.Invite(ctx, roomID, 2, session.TypeMBTI); err != nil {
		t.Fatalf("invite: %v", err)
	}
	msgs, _ := visitor.ListMessages(ctx, roomID)
	visitorCtl.HandleMessages(msgs)
	msgID := msgs[len(msgs)-1].ID

	assessmentID, err := visitorCtl.Accept(ctx, roomID, msgID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	r, err := visitorCtl.ContinueOrOpen(ctx, roomID, msgID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r.Answer("m1", "A")

	if err := visitorCtl.Cancel(ctx, roomID, msgID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// A straggling unload save after the cancel must not resurrect the
	// discarded session.
	err = visitor.SaveProgress(ctx, assessmentID, session.SaveRequest{
		Answers:  map[string]string{"m1": "A", "m2": "B"},
		IsPaused: true,
	})
	if err == nil {
		// Non-beacon saves surface the rejection; beacon saves absorb it.
		remote, err := visitor.GetSession(ctx, assessmentID)
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		if len(remote.Answers) != 0 {
			t.Fatalf("canceled session must stay empty, got %v", remote.Answers)
		}
	}
}
