// Package client implements the session package's collaborator interfaces
// over the HTTP API, for headless front ends and integration tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/xuhao2004/kimochi-sub000/internal/session"
)

type Client struct {
	base  string
	token string
	http  *http.Client
}

// New builds a client against a server base URL using a bearer token.
func New(base, token string) *Client {
	return &Client{base: base, token: token, http: http.DefaultClient}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateOrAttach creates or returns the session linked to an invite.
func (c *Client) CreateOrAttach(ctx context.Context, t session.AssessmentType, inviteID string) (uint, error) {
	req := map[string]string{
		"assessment_type": string(t),
		"invite_id":       inviteID,
	}
	var resp struct {
		ID uint `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/assessments", req, &resp); err != nil {
		return 0, err
	}
	return resp.ID, nil
}

func (c *Client) GetSession(ctx context.Context, assessmentID uint) (*session.RemoteSession, error) {
	var resp session.RemoteSession
	path := fmt.Sprintf("/api/v1/assessments/%d", assessmentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SaveProgress(ctx context.Context, assessmentID uint, req session.SaveRequest) error {
	path := fmt.Sprintf("/api/v1/assessments/%d/progress", assessmentID)
	return c.do(ctx, http.MethodPut, path, req, nil)
}

// SaveProgressAsync fires the save on its own goroutine with a detached
// context so it can outlive the caller's teardown. Failures are dropped;
// the reconciler tolerates a lost last write.
func (c *Client) SaveProgressAsync(assessmentID uint, req session.SaveRequest) {
	go func() {
		path := fmt.Sprintf("/api/v1/assessments/%d/progress?beacon=1", assessmentID)
		_ = c.do(context.Background(), http.MethodPut, path, req, nil)
	}()
}

func (c *Client) Submit(ctx context.Context, assessmentID uint, answers map[string]string, elapsed int) (json.RawMessage, error) {
	req := map[string]interface{}{
		"answers":      answers,
		"elapsed_time": elapsed,
	}
	var resp struct {
		Summary json.RawMessage `json:"summary"`
	}
	path := fmt.Sprintf("/api/v1/assessments/%d/submit", assessmentID)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return resp.Summary, nil
}

func (c *Client) GetQuestions(ctx context.Context, t session.AssessmentType, variant string) (*session.QuestionSet, error) {
	path := "/api/v1/questionnaires/" + url.PathEscape(string(t))
	if variant != "" {
		path += "?variant=" + url.QueryEscape(variant)
	}
	var resp session.QuestionSet
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendMessage appends a message to a room log.
func (c *Client) SendMessage(ctx context.Context, roomID uint, kind string, payload json.RawMessage) (*session.ChatMessage, error) {
	req := map[string]interface{}{
		"kind":    kind,
		"payload": payload,
	}
	var resp session.ChatMessage
	path := fmt.Sprintf("/api/v1/rooms/%d/messages", roomID)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListMessages pulls the full room log, the source of truth the controller
// reconciles against after reconnects.
func (c *Client) ListMessages(ctx context.Context, roomID uint) ([]session.ChatMessage, error) {
	var resp []session.ChatMessage
	path := fmt.Sprintf("/api/v1/rooms/%d/messages", roomID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
